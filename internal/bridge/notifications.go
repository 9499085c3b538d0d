package bridge

import (
	"go.uber.org/zap"

	"github.com/cloud-on-prem/goose/internal/common/logger"
	"github.com/cloud-on-prem/goose/internal/events"
	"github.com/cloud-on-prem/goose/pkg/webview"
)

// Broadcaster pushes a notification to every connected webview.
type Broadcaster interface {
	Broadcast(msg *webview.Message)
}

// Notifier forwards hub events to the webview.
type Notifier struct {
	out    Broadcaster
	sub    *events.Subscription
	logger *logger.Logger
}

// RegisterNotifications subscribes to every hub event and forwards the ones
// the webview renders.
func RegisterNotifications(hub *events.Hub, out Broadcaster, log *logger.Logger) *Notifier {
	n := &Notifier{
		out:    out,
		logger: log.WithFields(zap.String("component", "bridge-notifier")),
	}
	n.sub = hub.Subscribe(n.forward)
	return n
}

// Close stops forwarding.
func (n *Notifier) Close() {
	n.sub.Unsubscribe()
}

func (n *Notifier) forward(e events.Event) {
	msg, err := Notification(e)
	if err != nil {
		n.logger.Error("failed to build notification", zap.String("kind", string(e.Kind())), zap.Error(err))
		return
	}
	if msg != nil {
		n.out.Broadcast(msg)
	}
}

// Notification converts a hub event to its webview message. Events the
// webview does not render return nil.
func Notification(e events.Event) (*webview.Message, error) {
	switch ev := e.(type) {
	case events.StatusChanged:
		return webview.NewNotification(webview.EventServerStatus, webview.ServerStatusPayload{
			Status:   ev.Status,
			Previous: ev.Previous,
			Endpoint: ev.Endpoint,
		})
	case events.ServerError:
		return webview.NewNotification(webview.EventError, webview.ErrorEventPayload{
			Code:    webview.ErrorCodeServer,
			Message: ev.Message,
		})
	case events.ConfigurationFailed:
		return webview.NewNotification(webview.EventError, webview.ErrorEventPayload{
			Code:    webview.ErrorCodeConfiguration,
			Message: ev.Step + ": " + ev.Message,
		})
	case events.MessageReceived:
		return webview.NewNotification(webview.EventChatResponse, webview.ChatResponsePayload{
			SessionID: ev.SessionID,
			TurnID:    ev.TurnID,
			Message:   ev.Message,
			Replaced:  ev.Replaced,
		})
	case events.GenerationFinished:
		return webview.NewNotification(webview.EventGenerationFinished, webview.GenerationFinishedPayload{
			SessionID: ev.SessionID,
			TurnID:    ev.TurnID,
			Reason:    ev.Reason,
		})
	case events.ChatError:
		return webview.NewNotification(webview.EventError, webview.ErrorEventPayload{
			Code:      chatErrorCode(ev.Code),
			Message:   ev.Message,
			SessionID: ev.SessionID,
			TurnID:    ev.TurnID,
		})
	case events.SessionLoaded:
		return webview.NewNotification(webview.EventSessionLoaded, webview.SessionLoadedPayload{
			SessionID: ev.SessionID,
			Messages:  ev.Messages,
		})
	case events.ToolConfirmationRequested:
		return webview.NewNotification(webview.EventToolConfirmationRequest, webview.ToolConfirmationPayload{
			SessionID: ev.SessionID,
			TurnID:    ev.TurnID,
			MessageID: ev.MessageID,
			Request:   ev.Request,
		})
	}
	return nil, nil
}

func chatErrorCode(code events.ChatErrorCode) string {
	switch code {
	case events.ErrCodeNotReady:
		return webview.ErrorCodeNotReady
	case events.ErrCodeUnreachable:
		return webview.ErrorCodeUnreachable
	case events.ErrCodeHTTP:
		return webview.ErrorCodeHTTP
	case events.ErrCodeStream:
		return webview.ErrorCodeStream
	}
	return webview.ErrorCodeInternalError
}

// Snapshot returns the messages a newly connected webview needs to render
// the current state.
func (c *Controller) Snapshot() []*webview.Message {
	var out []*webview.Message
	status, endpoint := c.ServerStatus()
	if msg, err := webview.NewNotification(webview.EventServerStatus, webview.ServerStatusPayload{
		Status:   status,
		Endpoint: endpoint,
	}); err == nil {
		out = append(out, msg)
	}
	sessionID, transcript := c.Transcript()
	if msg, err := webview.NewNotification(webview.EventSessionLoaded, webview.SessionLoadedPayload{
		SessionID: sessionID,
		Messages:  transcript,
	}); err == nil {
		out = append(out, msg)
	}
	return out
}
