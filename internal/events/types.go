// Package events provides the typed event hub that connects the supervisor
// and the chat engine to the presentation boundary.
package events

import (
	"github.com/cloud-on-prem/goose/internal/chat/message"
)

// Kind names an event type. Kinds double as bus subject suffixes.
type Kind string

// Event kinds for the agent server
const (
	KindStatusChanged       Kind = "server.status_changed"
	KindServerError         Kind = "server.error"
	KindConfigurationFailed Kind = "server.configuration_failed"
)

// Event kinds for chat turns
const (
	KindMessageReceived           Kind = "chat.message_received"
	KindGenerationFinished        Kind = "chat.generation_finished"
	KindChatError                 Kind = "chat.error"
	KindSessionLoaded             Kind = "chat.session_loaded"
	KindToolConfirmationRequested Kind = "chat.tool_confirmation_requested"
)

// Event is implemented by every payload published on the hub.
type Event interface {
	Kind() Kind
}

// ServerStatus is the lifecycle state of the agent server.
type ServerStatus string

const (
	StatusStopped  ServerStatus = "stopped"
	StatusStarting ServerStatus = "starting"
	StatusRunning  ServerStatus = "running"
	StatusError    ServerStatus = "error"
)

// StatusChanged is published on every supervisor status transition.
type StatusChanged struct {
	Status   ServerStatus `json:"status"`
	Previous ServerStatus `json:"previous"`
	Endpoint string       `json:"endpoint,omitempty"`
}

func (StatusChanged) Kind() Kind { return KindStatusChanged }

// ServerError reports a failed start or an unexpected exit.
type ServerError struct {
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (ServerError) Kind() Kind { return KindServerError }

// ConfigurationFailed reports a post-start configuration step that failed.
// The server keeps running.
type ConfigurationFailed struct {
	Step    string `json:"step"`
	Message string `json:"message"`
}

func (ConfigurationFailed) Kind() Kind { return KindConfigurationFailed }

// MessageReceived carries a snapshot of a transcript entry that was appended
// or replaced.
type MessageReceived struct {
	SessionID string          `json:"sessionId"`
	TurnID    string          `json:"turnId,omitempty"`
	Message   message.Message `json:"message"`
	Replaced  bool            `json:"replaced"`
}

func (MessageReceived) Kind() Kind { return KindMessageReceived }

// Generation finish reasons set by the engine itself. Other reasons are
// forwarded from the agent.
const (
	ReasonComplete = "complete"
	ReasonAborted  = "aborted"
)

// GenerationFinished is published once per turn that was not failed.
type GenerationFinished struct {
	SessionID string `json:"sessionId"`
	TurnID    string `json:"turnId"`
	Reason    string `json:"reason"`
}

func (GenerationFinished) Kind() Kind { return KindGenerationFinished }

// ChatErrorCode classifies chat failures.
type ChatErrorCode string

const (
	ErrCodeNotReady    ChatErrorCode = "not_ready"
	ErrCodeUnreachable ChatErrorCode = "unreachable"
	ErrCodeHTTP        ChatErrorCode = "http"
	ErrCodeStream      ChatErrorCode = "stream"
)

// ChatError reports a turn that could not be sent or failed mid-stream.
type ChatError struct {
	SessionID string        `json:"sessionId"`
	TurnID    string        `json:"turnId,omitempty"`
	Code      ChatErrorCode `json:"code"`
	Message   string        `json:"message"`
}

func (ChatError) Kind() Kind { return KindChatError }

// SessionLoaded is published when the engine replaces its transcript.
type SessionLoaded struct {
	SessionID string            `json:"sessionId"`
	Messages  []message.Message `json:"messages"`
}

func (SessionLoaded) Kind() Kind { return KindSessionLoaded }

// ToolConfirmationRequested asks the user to approve a tool call.
type ToolConfirmationRequested struct {
	SessionID string                   `json:"sessionId"`
	TurnID    string                   `json:"turnId"`
	MessageID string                   `json:"messageId"`
	Request   message.ToolConfirmation `json:"request"`
}

func (ToolConfirmationRequested) Kind() Kind { return KindToolConfirmationRequested }
