// Package message defines the transcript model shared by the chat engine,
// the agent transport and the webview boundary.
//
// Timestamps are unix milliseconds everywhere inside the module. Values read
// from the agent are normalized with NormalizeTimestamp; the transport
// converts back to seconds on the way out.
package message

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is one transcript entry.
type Message struct {
	ID      string    `json:"id"`
	Role    Role      `json:"role"`
	Created int64     `json:"created"`
	Content []Content `json:"content"`
}

// millisThreshold separates second-based from millisecond-based timestamps.
// 1e12 ms is September 2001; 1e12 s is far beyond any realistic date.
const millisThreshold = 1_000_000_000_000

// NormalizeTimestamp converts a timestamp that may be in seconds or
// milliseconds to milliseconds.
func NormalizeTimestamp(v int64) int64 {
	if v <= 0 {
		return v
	}
	if v < millisThreshold {
		return v * 1000
	}
	return v
}

// NewUserID returns a client-side id for a user message.
func NewUserID(now time.Time) string {
	return fmt.Sprintf("user_%d", now.UnixMilli())
}

// NewAssistantID returns a client-side id for an assistant message whose
// stream frames carry no id of their own.
func NewAssistantID(now time.Time) string {
	return fmt.Sprintf("assistant_%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}

// Text joins the message's text items with newlines, skipping empty ones.
func (m Message) Text() string {
	var parts []string
	for _, c := range m.Content {
		if c.Type == ContentText && c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// HasContent reports whether the message carries anything worth rendering:
// non-empty text or any non-text item.
func (m Message) HasContent() bool {
	for _, c := range m.Content {
		if c.Type != ContentText || c.Text != "" {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can hand out snapshots.
func (m Message) Clone() Message {
	out := m
	if m.Content != nil {
		out.Content = make([]Content, len(m.Content))
		for i, c := range m.Content {
			out.Content[i] = c.clone()
		}
	}
	return out
}

// SameContent reports whether two messages have identical role and content.
// Ids and timestamps are ignored.
func (m Message) SameContent(other Message) bool {
	if m.Role != other.Role || len(m.Content) != len(other.Content) {
		return false
	}
	for i := range m.Content {
		if !m.Content[i].Equal(other.Content[i]) {
			return false
		}
	}
	return true
}

// Merge returns a copy of m extended with the items of other that m does not
// already carry. Empty text items of other are skipped.
func (m Message) Merge(other Message) Message {
	out := m.Clone()
	for _, c := range other.Content {
		if c.Type == ContentText && c.Text == "" {
			continue
		}
		if !out.carries(c) {
			out.Content = append(out.Content, c.clone())
		}
	}
	return out
}

func (m Message) carries(c Content) bool {
	for _, have := range m.Content {
		if have.Equal(c) {
			return true
		}
	}
	return false
}

// CloneAll deep copies a slice of messages.
func CloneAll(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
