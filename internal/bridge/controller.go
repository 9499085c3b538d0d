// Package bridge connects the webview boundary to the agent server, the chat
// engine and the session registry. Commands come in through a dispatcher;
// hub events go out as webview notifications.
package bridge

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/cloud-on-prem/goose/internal/agent/client"
	"github.com/cloud-on-prem/goose/internal/chat/engine"
	"github.com/cloud-on-prem/goose/internal/chat/message"
	"github.com/cloud-on-prem/goose/internal/common/logger"
	"github.com/cloud-on-prem/goose/internal/events"
)

// Server is the bridge's view of the supervised agent server.
type Server interface {
	Status() events.ServerStatus
	Endpoint() string
	WorkingDir() string
	Restart(ctx context.Context) error
	ConfirmToolCall(ctx context.Context, id string, confirmed bool) error
	ConfirmPermission(ctx context.Context, id string, pc client.PermissionConfirmation) error
}

// Chat is the bridge's view of the chat engine.
type Chat interface {
	SendMessage(ctx context.Context, req engine.SendRequest) (*engine.Turn, error)
	StopGeneration() bool
	LoadSession(sessionID string, msgs []message.Message)
	NewSession(sessionID string)
	SessionID() string
	State() engine.State
	Transcript() []message.Message
}

// Sessions is the bridge's view of the session registry.
type Sessions interface {
	List(ctx context.Context) ([]client.SessionInfo, error)
	History(ctx context.Context, sessionID string) (*client.SessionHistory, error)
	Create(workingDir string) client.SessionInfo
}

// Controller carries out webview commands.
type Controller struct {
	server   Server
	chat     Chat
	sessions Sessions
	logger   *logger.Logger
}

// NewController creates a controller.
func NewController(server Server, chat Chat, sessions Sessions, log *logger.Logger) *Controller {
	return &Controller{
		server:   server,
		chat:     chat,
		sessions: sessions,
		logger:   log.WithFields(zap.String("component", "bridge-controller")),
	}
}

// SendMessage starts a chat turn.
func (c *Controller) SendMessage(ctx context.Context, req engine.SendRequest) (*engine.Turn, error) {
	return c.chat.SendMessage(ctx, req)
}

// StopGeneration aborts the streaming reply, if any.
func (c *Controller) StopGeneration() bool {
	return c.chat.StopGeneration()
}

// SwitchSession loads a stored session into the engine.
func (c *Controller) SwitchSession(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	h, err := c.sessions.History(ctx, sessionID)
	if err != nil {
		return err
	}
	c.chat.LoadSession(sessionID, h.Transcript())
	c.logger.Info("switched session",
		zap.String("session_id", sessionID),
		zap.Int("messages", len(h.Messages)))
	return nil
}

// CreateSession starts an empty session. An empty working directory means
// the agent's workspace.
func (c *Controller) CreateSession(workingDir string) client.SessionInfo {
	if workingDir == "" {
		workingDir = c.server.WorkingDir()
	}
	info := c.sessions.Create(workingDir)
	c.chat.NewSession(info.ID)
	return info
}

// ListSessions lists stored sessions.
func (c *Controller) ListSessions(ctx context.Context) ([]client.SessionInfo, error) {
	return c.sessions.List(ctx)
}

// ConfirmToolCall answers a tool confirmation request. A permission, when
// given, decides the answer and may extend it to the principal.
func (c *Controller) ConfirmToolCall(ctx context.Context, id string, confirmed bool, pc *client.PermissionConfirmation) error {
	if id == "" {
		return fmt.Errorf("confirmation id is required")
	}
	if pc != nil {
		if pc.PrincipalType == "" {
			pc.PrincipalType = client.PrincipalTool
		}
		return c.server.ConfirmPermission(ctx, id, *pc)
	}
	return c.server.ConfirmToolCall(ctx, id, confirmed)
}

// RestartServer restarts the agent server in the background. Progress is
// reported through status events.
func (c *Controller) RestartServer(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := c.server.Restart(ctx); err != nil {
			c.logger.Warn("agent server restart failed", zap.Error(err))
		}
	}()
}

// ServerStatus returns the agent server's status and endpoint.
func (c *Controller) ServerStatus() (events.ServerStatus, string) {
	return c.server.Status(), c.server.Endpoint()
}

// WorkspaceContext describes the current workspace and session.
type WorkspaceContext struct {
	WorkingDir   string
	SessionID    string
	ServerStatus events.ServerStatus
	Generating   bool
}

// WorkspaceContext returns the current workspace and session.
func (c *Controller) WorkspaceContext() WorkspaceContext {
	return WorkspaceContext{
		WorkingDir:   c.server.WorkingDir(),
		SessionID:    c.chat.SessionID(),
		ServerStatus: c.server.Status(),
		Generating:   c.chat.State() != engine.StateIdle,
	}
}

// Transcript returns the current session and its messages.
func (c *Controller) Transcript() (string, []message.Message) {
	return c.chat.SessionID(), c.chat.Transcript()
}
