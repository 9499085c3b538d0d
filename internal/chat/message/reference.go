package message

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Reference is a code selection attached to a user message.
type Reference struct {
	File      string `json:"file"`
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
	Code      string `json:"code"`
	Language  string `json:"language,omitempty"`
}

// Render formats the reference as a header line followed by a fenced code
// block.
func (r Reference) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "From %s:%d-%d\n", r.File, r.StartLine, r.EndLine)
	b.WriteString("```")
	b.WriteString(r.language())
	b.WriteString("\n")
	b.WriteString(r.Code)
	if !strings.HasSuffix(r.Code, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("```")
	return b.String()
}

var extLanguages = map[string]string{
	".go":   "go",
	".rs":   "rust",
	".ts":   "typescript",
	".tsx":  "tsx",
	".js":   "javascript",
	".jsx":  "jsx",
	".py":   "python",
	".rb":   "ruby",
	".java": "java",
	".kt":   "kotlin",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".cs":   "csharp",
	".sh":   "bash",
	".json": "json",
	".yaml": "yaml",
	".yml":  "yaml",
	".toml": "toml",
	".md":   "markdown",
	".sql":  "sql",
}

func (r Reference) language() string {
	if r.Language != "" {
		return r.Language
	}
	return extLanguages[strings.ToLower(filepath.Ext(r.File))]
}

// NewUserMessage builds a user message from typed text and attached
// references. Each reference becomes its own text item after the typed text.
func NewUserMessage(id, text string, refs []Reference, now time.Time) Message {
	if id == "" {
		id = NewUserID(now)
	}
	content := make([]Content, 0, len(refs)+1)
	if text != "" {
		content = append(content, TextContent(text))
	}
	for _, r := range refs {
		content = append(content, TextContent(r.Render()))
	}
	return Message{
		ID:      id,
		Role:    RoleUser,
		Created: now.UnixMilli(),
		Content: content,
	}
}
