package message

import (
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentRoundTrip(t *testing.T) {
	raw := `[{"type":"text","text":""},{"type":"image","url":"https://example.com/a.png"},{"type":"toolConfirmationRequest","id":"c1","toolName":"developer__shell","arguments":{"command":"ls"}}]`

	var items []Content
	require.NoError(t, json.Unmarshal([]byte(raw), &items))
	require.Len(t, items, 3)

	out, err := json.Marshal(items)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestContentUnmarshalBareString(t *testing.T) {
	var c Content
	require.NoError(t, json.Unmarshal([]byte(`"hello"`), &c))
	assert.Equal(t, TextContent("hello"), c)
}

func TestToolConfirmations(t *testing.T) {
	var items []Content
	require.NoError(t, json.Unmarshal([]byte(`[
		{"type":"text","text":"May I?"},
		{"type":"toolConfirmationRequest","id":"c1","toolName":"developer__shell","prompt":"run ls"},
		{"type":"toolConfirmationRequest","toolName":"missing-id"}
	]`), &items))

	msg := Message{ID: "m1", Role: RoleAssistant, Content: items}
	confirmations := msg.ToolConfirmations()

	require.Len(t, confirmations, 1)
	assert.Equal(t, "c1", confirmations[0].ID)
	assert.Equal(t, "developer__shell", confirmations[0].ToolName)
	assert.Equal(t, "run ls", confirmations[0].Prompt)
}

func TestSameContent(t *testing.T) {
	a := Message{ID: "a", Role: RoleAssistant, Content: []Content{TextContent("Hi")}}
	b := Message{ID: "b", Role: RoleAssistant, Created: 5, Content: []Content{TextContent("Hi")}}
	c := Message{ID: "a", Role: RoleAssistant, Content: []Content{TextContent("Hi there")}}

	assert.True(t, a.SameContent(b))
	assert.False(t, a.SameContent(c))
}

func TestCloneIsDeep(t *testing.T) {
	orig := Message{
		ID:   "m1",
		Role: RoleAssistant,
		Content: []Content{
			TextContent("Hi"),
			{Type: ContentToolRequest, Raw: json.RawMessage(`{"type":"toolRequest"}`)},
		},
	}

	cp := orig.Clone()
	cp.Content[0].Text = "changed"
	cp.Content[1].Raw[2] = 'X'

	assert.Equal(t, "Hi", orig.Content[0].Text)
	assert.Equal(t, `{"type":"toolRequest"}`, string(orig.Content[1].Raw))
}

func TestHasContent(t *testing.T) {
	assert.False(t, Message{Content: []Content{TextContent("")}}.HasContent())
	assert.True(t, Message{Content: []Content{TextContent("x")}}.HasContent())
	assert.True(t, Message{Content: []Content{{Type: ContentToolRequest, Raw: json.RawMessage(`{}`)}}}.HasContent())
}

func TestMerge(t *testing.T) {
	tool := Content{Type: ContentToolRequest, Raw: json.RawMessage(`{"type":"toolRequest","id":"call-1"}`)}
	base := Message{ID: "a1", Role: RoleAssistant, Created: 5, Content: []Content{TextContent("Hi there")}}

	merged := base.Merge(Message{ID: "a1", Content: []Content{TextContent(""), tool}})

	assert.Equal(t, "a1", merged.ID)
	assert.Equal(t, int64(5), merged.Created)
	require.Len(t, merged.Content, 2)
	assert.Equal(t, "Hi there", merged.Content[0].Text)
	assert.True(t, merged.Content[1].Equal(tool))
	assert.Len(t, base.Content, 1)

	again := merged.Merge(Message{Content: []Content{tool}})
	assert.True(t, again.SameContent(merged))
}

func TestIDs(t *testing.T) {
	now := time.UnixMilli(1700000000123)

	assert.Equal(t, "user_1700000000123", NewUserID(now))
	assert.Regexp(t, regexp.MustCompile(`^assistant_1700000000123-[0-9a-f]{8}$`), NewAssistantID(now))
	assert.NotEqual(t, NewAssistantID(now), NewAssistantID(now))
}

func TestNewUserMessage(t *testing.T) {
	now := time.UnixMilli(1700000000123)

	t.Run("text only", func(t *testing.T) {
		msg := NewUserMessage("", "hello", nil, now)

		assert.Equal(t, "user_1700000000123", msg.ID)
		assert.Equal(t, RoleUser, msg.Role)
		assert.Equal(t, int64(1700000000123), msg.Created)
		assert.Equal(t, []Content{TextContent("hello")}, msg.Content)
	})

	t.Run("with reference", func(t *testing.T) {
		ref := Reference{File: "src/main.go", StartLine: 3, EndLine: 4, Code: "func main() {\n}"}
		msg := NewUserMessage("custom", "explain", []Reference{ref}, now)

		assert.Equal(t, "custom", msg.ID)
		require.Len(t, msg.Content, 2)
		assert.Equal(t, "explain", msg.Content[0].Text)
		assert.Equal(t, "From src/main.go:3-4\n```go\nfunc main() {\n}\n```", msg.Content[1].Text)
	})
}

func TestReferenceRenderExplicitLanguage(t *testing.T) {
	ref := Reference{File: "Makefile", StartLine: 1, EndLine: 1, Code: "all:\n", Language: "make"}
	assert.Equal(t, "From Makefile:1-1\n```make\nall:\n```", ref.Render())
}
