package message

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractText(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "plain string", raw: `"hello"`, want: "hello"},
		{name: "text field", raw: `{"text":"hi there"}`, want: "hi there"},
		{name: "string content", raw: `{"content":"from content"}`, want: "from content"},
		{name: "content parts", raw: `{"content":["a",{"type":"text","text":"b"}]}`, want: "a\nb"},
		{name: "skips tool parts", raw: `{"content":[{"type":"toolRequest","id":"t1"},{"type":"text","text":"done"}]}`, want: "done"},
		{name: "empty streaming text", raw: `{"id":"m1","content":[{"type":"text","text":""}]}`, want: ""},
		{name: "json fallback", raw: `{"foo":1}`, want: `{"foo":1}`},
		{name: "null", raw: `null`, want: ""},
		{name: "empty", raw: ``, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractText(json.RawMessage(tt.raw)))
		})
	}
}

func TestDecode(t *testing.T) {
	t.Run("full message", func(t *testing.T) {
		raw := `{"id":"m1","role":"assistant","created":1700000000,"content":[{"type":"text","text":"Hi"},{"type":"toolRequest","id":"t1","toolCall":{"name":"shell"}}]}`

		msg, text, err := Decode(json.RawMessage(raw))
		require.NoError(t, err)

		assert.Equal(t, "m1", msg.ID)
		assert.Equal(t, RoleAssistant, msg.Role)
		assert.Equal(t, int64(1700000000000), msg.Created)
		assert.Equal(t, "Hi", text)
		require.Len(t, msg.Content, 2)
		assert.Equal(t, ContentText, msg.Content[0].Type)
		assert.Equal(t, ContentToolRequest, msg.Content[1].Type)
		assert.JSONEq(t, `{"type":"toolRequest","id":"t1","toolCall":{"name":"shell"}}`, string(msg.Content[1].Raw))
	})

	t.Run("bare string", func(t *testing.T) {
		msg, text, err := Decode(json.RawMessage(`"just text"`))
		require.NoError(t, err)

		assert.Empty(t, msg.ID)
		assert.Equal(t, "just text", text)
		assert.Equal(t, []Content{TextContent("just text")}, msg.Content)
	})

	t.Run("string content keeps id", func(t *testing.T) {
		msg, text, err := Decode(json.RawMessage(`{"id":"m2","content":"hey"}`))
		require.NoError(t, err)

		assert.Equal(t, "m2", msg.ID)
		assert.Equal(t, "hey", text)
		assert.Equal(t, "hey", msg.Text())
	})

	t.Run("null payload", func(t *testing.T) {
		_, _, err := Decode(json.RawMessage(`null`))
		assert.ErrorIs(t, err, ErrEmptyPayload)
	})

	t.Run("millisecond timestamps pass through", func(t *testing.T) {
		msg, _, err := Decode(json.RawMessage(`{"id":"m3","created":1700000000123,"content":[]}`))
		require.NoError(t, err)
		assert.Equal(t, int64(1700000000123), msg.Created)
		assert.Empty(t, msg.Content)
	})
}

func TestNormalizeTimestamp(t *testing.T) {
	assert.Equal(t, int64(1700000000000), NormalizeTimestamp(1700000000))
	assert.Equal(t, int64(1700000000123), NormalizeTimestamp(1700000000123))
	assert.Equal(t, int64(0), NormalizeTimestamp(0))
}
