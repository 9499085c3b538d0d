package client

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cloud-on-prem/goose/internal/chat/message"
)

// WireMessage is a message as the agent server encodes it. Created is in
// unix seconds on the wire.
type WireMessage struct {
	ID      string            `json:"id,omitempty"`
	Role    message.Role      `json:"role"`
	Created int64             `json:"created"`
	Content []message.Content `json:"content"`
}

// ToWire converts a transcript message to the agent wire format.
func ToWire(m message.Message) WireMessage {
	content := m.Content
	if content == nil {
		content = []message.Content{}
	}
	return WireMessage{
		ID:      m.ID,
		Role:    m.Role,
		Created: m.Created / 1000,
		Content: content,
	}
}

// ToWireMessages converts a transcript for a /reply request.
func ToWireMessages(msgs []message.Message) []WireMessage {
	out := make([]WireMessage, len(msgs))
	for i, m := range msgs {
		out[i] = ToWire(m)
	}
	return out
}

// FromWire converts an agent message to the transcript model.
func FromWire(w WireMessage) message.Message {
	return message.Message{
		ID:      w.ID,
		Role:    w.Role,
		Created: message.NormalizeTimestamp(w.Created),
		Content: w.Content,
	}
}

// VersionsResponse is returned by GET /agent/versions.
type VersionsResponse struct {
	AvailableVersions []string `json:"available_versions"`
	DefaultVersion    string   `json:"default_version"`
}

// ProviderInfo describes one LLM provider known to the agent.
type ProviderInfo struct {
	Name         string          `json:"name"`
	IsConfigured bool            `json:"is_configured"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
}

// CreateAgentRequest is the body of POST /agent.
type CreateAgentRequest struct {
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
	Version  string `json:"version,omitempty"`
}

// ExtensionRequest is the body of POST /extensions/add.
type ExtensionRequest struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// ExtensionTypeBuiltin registers an extension shipped with the agent.
const ExtensionTypeBuiltin = "builtin"

// SessionMetadata is the agent's summary of a stored session.
type SessionMetadata struct {
	WorkingDir   string `json:"working_dir"`
	Description  string `json:"description"`
	MessageCount int    `json:"message_count"`
	TotalTokens  *int   `json:"total_tokens,omitempty"`
}

// SessionInfo is one entry of GET /sessions.
type SessionInfo struct {
	ID       string          `json:"id"`
	Path     string          `json:"path,omitempty"`
	Modified string          `json:"modified"`
	Metadata SessionMetadata `json:"metadata"`
}

// sessionList accepts both a bare array and a {"sessions": [...]} wrapper.
type sessionList []SessionInfo

func (l *sessionList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var items []SessionInfo
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*l = items
		return nil
	}
	var wrapped struct {
		Sessions []SessionInfo `json:"sessions"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return fmt.Errorf("unexpected sessions payload: %w", err)
	}
	*l = wrapped.Sessions
	return nil
}

// SessionHistory is returned by GET /sessions/:id.
type SessionHistory struct {
	SessionID string          `json:"session_id"`
	Metadata  SessionMetadata `json:"metadata"`
	Messages  []WireMessage   `json:"messages"`
}

// Transcript converts the history to transcript messages.
func (h *SessionHistory) Transcript() []message.Message {
	out := make([]message.Message, len(h.Messages))
	for i, w := range h.Messages {
		out[i] = FromWire(w)
	}
	return out
}

// ReplyRequest is the body of POST /reply.
type ReplyRequest struct {
	Messages   []WireMessage `json:"messages"`
	SessionID  string        `json:"session_id,omitempty"`
	WorkingDir string        `json:"session_working_dir"`
}

// AskRequest is the body of POST /reply/ask.
type AskRequest struct {
	Prompt     string `json:"prompt"`
	SessionID  string `json:"session_id,omitempty"`
	WorkingDir string `json:"session_working_dir"`
}

// AskResponse is returned by POST /reply/ask.
type AskResponse struct {
	Text string `json:"text"`
}

// Permission is the user's answer to a permission prompt. Values match the
// agent's serialization.
type Permission string

const (
	PermissionAlwaysAllow Permission = "AlwaysAllow"
	PermissionAllowOnce   Permission = "AllowOnce"
	PermissionDenyOnce    Permission = "DenyOnce"
)

// Allows reports whether p grants the request.
func (p Permission) Allows() bool {
	return p == PermissionAlwaysAllow || p == PermissionAllowOnce
}

// PrincipalType is what a permission applies to. The extension spelling
// matches the agent's serialization.
type PrincipalType string

const (
	PrincipalExtension PrincipalType = "Extention"
	PrincipalTool      PrincipalType = "Tool"
)

// PermissionConfirmation answers a permission prompt for a named principal.
type PermissionConfirmation struct {
	PrincipalName string        `json:"principal_name"`
	PrincipalType PrincipalType `json:"principal_type"`
	Permission    Permission    `json:"permission"`
}

// ConfirmRequest is the body of POST /reply/confirm.
type ConfirmRequest struct {
	ID            string        `json:"id"`
	Confirmed     bool          `json:"confirmed"`
	PrincipalName string        `json:"principal_name,omitempty"`
	PrincipalType PrincipalType `json:"principal_type,omitempty"`
	Permission    Permission    `json:"permission,omitempty"`
}
