package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// ExtractText returns the display text of a message payload as the agent
// sends it. The payload shape is loose; the accepted forms are, in order:
//
//	"plain string"
//	{"text": "..."}
//	{"content": "..."}
//	{"content": ["...", {"text": "..."}, ...]}  (parts joined with "\n")
//
// Anything else is rendered as its JSON encoding.
func ExtractText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return string(raw)
	}

	if t, ok := obj["text"]; ok {
		if err := json.Unmarshal(t, &s); err == nil {
			return s
		}
	}

	if c, ok := obj["content"]; ok {
		if err := json.Unmarshal(c, &s); err == nil {
			return s
		}
		var parts []json.RawMessage
		if err := json.Unmarshal(c, &parts); err == nil {
			return joinParts(parts)
		}
	}

	return string(raw)
}

// joinParts concatenates the textual parts of a content array. Non-text items
// such as tool requests contribute nothing.
func joinParts(parts []json.RawMessage) string {
	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		var s string
		if err := json.Unmarshal(p, &s); err == nil {
			if s != "" {
				texts = append(texts, s)
			}
			continue
		}
		var item struct {
			Type string  `json:"type"`
			Text *string `json:"text"`
		}
		if err := json.Unmarshal(p, &item); err != nil || item.Text == nil {
			continue
		}
		if item.Type != "" && item.Type != string(ContentText) {
			continue
		}
		if *item.Text != "" {
			texts = append(texts, *item.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// ErrEmptyPayload is returned by Decode for a missing message payload.
var ErrEmptyPayload = errors.New("empty message payload")

type wireMessage struct {
	ID      string          `json:"id"`
	Role    Role            `json:"role"`
	Created int64           `json:"created"`
	Content json.RawMessage `json:"content"`
}

// Decode turns a streamed message payload into a Message and its display
// text. Fields missing from the payload are left zero; the caller fills in
// the id, role and timestamp it owns.
func Decode(raw json.RawMessage) (Message, string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Message{}, "", ErrEmptyPayload
	}

	text := ExtractText(raw)

	var msg Message
	if raw[0] == '{' {
		var w wireMessage
		if err := json.Unmarshal(raw, &w); err != nil {
			return Message{}, "", err
		}
		msg.ID = w.ID
		if w.Role.Valid() {
			msg.Role = w.Role
		}
		msg.Created = NormalizeTimestamp(w.Created)
		msg.Content = decodeContent(w.Content)
	}

	if msg.Content == nil {
		msg.Content = []Content{TextContent(text)}
	}
	return msg, text, nil
}

// decodeContent returns nil unless raw is an array of content items.
func decodeContent(raw json.RawMessage) []Content {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil
	}
	var items []Content
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	if items == nil {
		items = []Content{}
	}
	return items
}
