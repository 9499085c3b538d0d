package bridge

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/cloud-on-prem/goose/internal/agent/client"
	"github.com/cloud-on-prem/goose/internal/agent/supervisor"
	"github.com/cloud-on-prem/goose/internal/chat/engine"
	"github.com/cloud-on-prem/goose/internal/chat/sessions"
	"github.com/cloud-on-prem/goose/internal/common/logger"
	"github.com/cloud-on-prem/goose/pkg/webview"
)

// Handlers adapts controller operations to webview commands.
type Handlers struct {
	controller *Controller
	logger     *logger.Logger
}

// NewHandlers creates the command handlers.
func NewHandlers(ctrl *Controller, log *logger.Logger) *Handlers {
	return &Handlers{
		controller: ctrl,
		logger:     log.WithFields(zap.String("component", "bridge-handlers")),
	}
}

// RegisterHandlers registers every webview command on the dispatcher.
func RegisterHandlers(dispatcher *webview.Dispatcher, ctrl *Controller, log *logger.Logger) *Handlers {
	h := NewHandlers(ctrl, log)
	dispatcher.RegisterFunc(webview.ActionSendChatMessage, h.sendChatMessage)
	dispatcher.RegisterFunc(webview.ActionStopGeneration, h.stopGeneration)
	dispatcher.RegisterFunc(webview.ActionSwitchSession, h.switchSession)
	dispatcher.RegisterFunc(webview.ActionCreateSession, h.createSession)
	dispatcher.RegisterFunc(webview.ActionGetWorkspaceContext, h.getWorkspaceContext)
	dispatcher.RegisterFunc(webview.ActionListSessions, h.listSessions)
	dispatcher.RegisterFunc(webview.ActionConfirmToolCall, h.confirmToolCall)
	dispatcher.RegisterFunc(webview.ActionRestartServer, h.restartServer)
	dispatcher.RegisterFunc(webview.ActionGetServerStatus, h.getServerStatus)
	return h
}

func (h *Handlers) sendChatMessage(ctx context.Context, msg *webview.Message) (*webview.Message, error) {
	var req webview.SendChatMessageRequest
	if err := msg.ParsePayload(&req); err != nil {
		return webview.NewError(msg.ID, msg.Action, webview.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}

	turn, err := h.controller.SendMessage(ctx, engine.SendRequest{
		Text:       req.Text,
		References: req.References,
		MessageID:  req.MessageID,
	})
	switch {
	case errors.Is(err, engine.ErrEmptyMessage):
		return webview.NewError(msg.ID, msg.Action, webview.ErrorCodeValidation, err.Error(), nil)
	case errors.Is(err, engine.ErrTurnInProgress):
		return webview.NewError(msg.ID, msg.Action, webview.ErrorCodeBusy, err.Error(), nil)
	case errors.Is(err, engine.ErrNotReady):
		return webview.NewError(msg.ID, msg.Action, webview.ErrorCodeNotReady, err.Error(), nil)
	case err != nil:
		h.logger.Error("failed to send chat message", zap.Error(err))
		return webview.NewError(msg.ID, msg.Action, webview.ErrorCodeInternalError, err.Error(), nil)
	}

	return webview.NewResponse(msg.ID, msg.Action, webview.SendChatMessageResponse{
		TurnID:    turn.ID(),
		SessionID: turn.SessionID(),
	})
}

func (h *Handlers) stopGeneration(_ context.Context, msg *webview.Message) (*webview.Message, error) {
	return webview.NewResponse(msg.ID, msg.Action, webview.StopGenerationResponse{
		Stopped: h.controller.StopGeneration(),
	})
}

func (h *Handlers) switchSession(ctx context.Context, msg *webview.Message) (*webview.Message, error) {
	var req webview.SwitchSessionRequest
	if err := msg.ParsePayload(&req); err != nil {
		return webview.NewError(msg.ID, msg.Action, webview.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if req.SessionID == "" {
		return webview.NewError(msg.ID, msg.Action, webview.ErrorCodeValidation, "sessionId is required", nil)
	}

	if err := h.controller.SwitchSession(ctx, req.SessionID); err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			return webview.NewError(msg.ID, msg.Action, webview.ErrorCodeNotFound, err.Error(), nil)
		}
		h.logger.Warn("failed to switch session", zap.String("session_id", req.SessionID), zap.Error(err))
		return webview.NewError(msg.ID, msg.Action, errorCode(err), err.Error(), nil)
	}
	return webview.NewResponse(msg.ID, msg.Action, req)
}

func (h *Handlers) createSession(_ context.Context, msg *webview.Message) (*webview.Message, error) {
	var req webview.CreateSessionRequest
	if err := msg.ParsePayload(&req); err != nil {
		return webview.NewError(msg.ID, msg.Action, webview.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	return webview.NewResponse(msg.ID, msg.Action, h.controller.CreateSession(req.WorkingDir))
}

func (h *Handlers) getWorkspaceContext(_ context.Context, msg *webview.Message) (*webview.Message, error) {
	wc := h.controller.WorkspaceContext()
	return webview.NewResponse(msg.ID, webview.EventWorkspaceContext, webview.WorkspaceContextPayload{
		WorkingDir:   wc.WorkingDir,
		SessionID:    wc.SessionID,
		ServerStatus: wc.ServerStatus,
		Generating:   wc.Generating,
	})
}

func (h *Handlers) listSessions(ctx context.Context, msg *webview.Message) (*webview.Message, error) {
	list, err := h.controller.ListSessions(ctx)
	if err != nil {
		h.logger.Warn("failed to list sessions", zap.Error(err))
		return webview.NewError(msg.ID, msg.Action, errorCode(err), err.Error(), nil)
	}
	if list == nil {
		list = []client.SessionInfo{}
	}
	return webview.NewResponse(msg.ID, webview.EventSessionsList, webview.SessionsListPayload{Sessions: list})
}

func (h *Handlers) confirmToolCall(ctx context.Context, msg *webview.Message) (*webview.Message, error) {
	var req webview.ConfirmToolCallRequest
	if err := msg.ParsePayload(&req); err != nil {
		return webview.NewError(msg.ID, msg.Action, webview.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if req.ID == "" {
		return webview.NewError(msg.ID, msg.Action, webview.ErrorCodeValidation, "id is required", nil)
	}

	var pc *client.PermissionConfirmation
	if req.Permission != "" {
		pc = &client.PermissionConfirmation{
			PrincipalName: req.PrincipalName,
			PrincipalType: req.PrincipalType,
			Permission:    req.Permission,
		}
	}
	if err := h.controller.ConfirmToolCall(ctx, req.ID, req.Confirmed, pc); err != nil {
		h.logger.Warn("failed to confirm tool call", zap.String("id", req.ID), zap.Error(err))
		return webview.NewError(msg.ID, msg.Action, errorCode(err), err.Error(), nil)
	}
	return webview.NewResponse(msg.ID, msg.Action, map[string]any{"id": req.ID, "success": true})
}

func (h *Handlers) restartServer(ctx context.Context, msg *webview.Message) (*webview.Message, error) {
	h.controller.RestartServer(ctx)
	return webview.NewResponse(msg.ID, msg.Action, map[string]any{"restarting": true})
}

func (h *Handlers) getServerStatus(_ context.Context, msg *webview.Message) (*webview.Message, error) {
	status, endpoint := h.controller.ServerStatus()
	return webview.NewResponse(msg.ID, webview.EventServerStatus, webview.ServerStatusPayload{
		Status:   status,
		Endpoint: endpoint,
	})
}

// errorCode maps transport failures to webview error codes.
func errorCode(err error) string {
	var he *client.HTTPError
	switch {
	case errors.As(err, &he):
		return webview.ErrorCodeHTTP
	case errors.Is(err, supervisor.ErrNotRunning):
		return webview.ErrorCodeNotReady
	case errors.Is(err, context.DeadlineExceeded):
		return webview.ErrorCodeUnreachable
	}
	return webview.ErrorCodeInternalError
}
