package message

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ContentType tags a content item.
type ContentType string

const (
	ContentText                    ContentType = "text"
	ContentImage                   ContentType = "image"
	ContentToolRequest             ContentType = "toolRequest"
	ContentToolResponse            ContentType = "toolResponse"
	ContentToolConfirmationRequest ContentType = "toolConfirmationRequest"
)

// Content is a tagged content item. Text and image items are decoded into
// fields; every other item is kept as raw JSON so it round-trips to the agent
// unchanged.
type Content struct {
	Type     ContentType
	Text     string
	URL      string
	Data     string
	MimeType string
	Raw      json.RawMessage
}

// TextContent returns a text item.
func TextContent(text string) Content {
	return Content{Type: ContentText, Text: text}
}

// ImageContent returns an image item referencing a URL.
func ImageContent(url string) Content {
	return Content{Type: ContentImage, URL: url}
}

type textItem struct {
	Type ContentType `json:"type"`
	Text string      `json:"text"`
}

type imageItem struct {
	Type     ContentType `json:"type"`
	URL      string      `json:"url,omitempty"`
	Data     string      `json:"data,omitempty"`
	MimeType string      `json:"mimeType,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (c Content) MarshalJSON() ([]byte, error) {
	switch c.Type {
	case ContentText:
		return json.Marshal(textItem{Type: ContentText, Text: c.Text})
	case ContentImage:
		return json.Marshal(imageItem{Type: ContentImage, URL: c.URL, Data: c.Data, MimeType: c.MimeType})
	}
	if len(c.Raw) > 0 {
		return c.Raw, nil
	}
	if c.Type == "" {
		return nil, fmt.Errorf("content item has no type")
	}
	return json.Marshal(struct {
		Type ContentType `json:"type"`
	}{c.Type})
}

// UnmarshalJSON implements json.Unmarshaler. A bare JSON string decodes as a
// text item.
func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*c = TextContent(s)
		return nil
	}

	var head struct {
		Type     ContentType `json:"type"`
		Text     *string     `json:"text"`
		URL      string      `json:"url"`
		Data     string      `json:"data"`
		MimeType string      `json:"mimeType"`
	}
	if err := json.Unmarshal(trimmed, &head); err != nil {
		return err
	}

	switch {
	case head.Type == ContentText || (head.Type == "" && head.Text != nil):
		text := ""
		if head.Text != nil {
			text = *head.Text
		}
		*c = TextContent(text)
	case head.Type == ContentImage:
		*c = Content{Type: ContentImage, URL: head.URL, Data: head.Data, MimeType: head.MimeType}
	default:
		raw := make(json.RawMessage, len(trimmed))
		copy(raw, trimmed)
		*c = Content{Type: head.Type, Raw: raw}
	}
	return nil
}

// Equal reports whether two items are identical.
func (c Content) Equal(other Content) bool {
	return c.Type == other.Type &&
		c.Text == other.Text &&
		c.URL == other.URL &&
		c.Data == other.Data &&
		c.MimeType == other.MimeType &&
		bytes.Equal(c.Raw, other.Raw)
}

func (c Content) clone() Content {
	out := c
	if c.Raw != nil {
		out.Raw = append(json.RawMessage(nil), c.Raw...)
	}
	return out
}

// ToolConfirmation is a request from the agent to approve a tool call.
type ToolConfirmation struct {
	ID        string          `json:"id"`
	ToolName  string          `json:"toolName"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Prompt    string          `json:"prompt,omitempty"`
}

// ToolConfirmation decodes a tool confirmation request item.
func (c Content) ToolConfirmation() (*ToolConfirmation, bool) {
	if c.Type != ContentToolConfirmationRequest || len(c.Raw) == 0 {
		return nil, false
	}
	var tc ToolConfirmation
	if err := json.Unmarshal(c.Raw, &tc); err != nil || tc.ID == "" {
		return nil, false
	}
	return &tc, true
}

// ToolConfirmations returns every confirmation request carried by m.
func (m Message) ToolConfirmations() []ToolConfirmation {
	var out []ToolConfirmation
	for _, c := range m.Content {
		if tc, ok := c.ToolConfirmation(); ok {
			out = append(out, *tc)
		}
	}
	return out
}
