package webview

import (
	"github.com/cloud-on-prem/goose/internal/agent/client"
	"github.com/cloud-on-prem/goose/internal/chat/message"
	"github.com/cloud-on-prem/goose/internal/events"
)

// SendChatMessageRequest is the payload of sendChatMessage.
type SendChatMessageRequest struct {
	Text       string              `json:"text"`
	References []message.Reference `json:"codeReferences,omitempty"`
	MessageID  string              `json:"messageId,omitempty"`
}

// SwitchSessionRequest is the payload of switchSession.
type SwitchSessionRequest struct {
	SessionID string `json:"sessionId"`
}

// CreateSessionRequest is the payload of createSession. An empty working
// directory means the agent's workspace.
type CreateSessionRequest struct {
	WorkingDir string `json:"workingDir,omitempty"`
}

// ConfirmToolCallRequest is the payload of confirmToolCall. Permission takes
// precedence over Confirmed when set.
type ConfirmToolCallRequest struct {
	ID            string               `json:"id"`
	Confirmed     bool                 `json:"confirmed"`
	Permission    client.Permission    `json:"permission,omitempty"`
	PrincipalName string               `json:"principalName,omitempty"`
	PrincipalType client.PrincipalType `json:"principalType,omitempty"`
}

// SendChatMessageResponse acknowledges an accepted message.
type SendChatMessageResponse struct {
	TurnID    string `json:"turnId"`
	SessionID string `json:"sessionId"`
}

// StopGenerationResponse reports whether a reply was in flight.
type StopGenerationResponse struct {
	Stopped bool `json:"stopped"`
}

// ServerStatusPayload is the payload of serverStatus.
type ServerStatusPayload struct {
	Status   events.ServerStatus `json:"status"`
	Previous events.ServerStatus `json:"previous,omitempty"`
	Endpoint string              `json:"endpoint,omitempty"`
}

// ChatResponsePayload carries one appended or replaced transcript entry.
type ChatResponsePayload struct {
	SessionID string          `json:"sessionId"`
	TurnID    string          `json:"turnId,omitempty"`
	Message   message.Message `json:"message"`
	Replaced  bool            `json:"replaced"`
}

// GenerationFinishedPayload is the payload of generationFinished.
type GenerationFinishedPayload struct {
	SessionID string `json:"sessionId"`
	TurnID    string `json:"turnId"`
	Reason    string `json:"reason"`
}

// ErrorEventPayload is the payload of a pushed error event.
type ErrorEventPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
	TurnID    string `json:"turnId,omitempty"`
}

// SessionLoadedPayload is the payload of sessionLoaded.
type SessionLoadedPayload struct {
	SessionID string            `json:"sessionId"`
	Messages  []message.Message `json:"messages"`
}

// SessionsListPayload is the payload of sessionsList.
type SessionsListPayload struct {
	Sessions []client.SessionInfo `json:"sessions"`
}

// WorkspaceContextPayload is the payload of workspaceContext.
type WorkspaceContextPayload struct {
	WorkingDir   string              `json:"workingDir"`
	SessionID    string              `json:"sessionId"`
	ServerStatus events.ServerStatus `json:"serverStatus"`
	Generating   bool                `json:"generating"`
}

// ToolConfirmationPayload is the payload of toolConfirmationRequest.
type ToolConfirmationPayload struct {
	SessionID string                   `json:"sessionId"`
	TurnID    string                   `json:"turnId"`
	MessageID string                   `json:"messageId"`
	Request   message.ToolConfirmation `json:"request"`
}
