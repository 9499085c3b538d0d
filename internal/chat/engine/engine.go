// Package engine turns one user message into a streamed, reconciled
// transcript update. It owns the transcript; everyone else sees snapshots
// through events or Transcript.
package engine

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/cloud-on-prem/goose/internal/agent/client"
	"github.com/cloud-on-prem/goose/internal/agent/tracing"
	"github.com/cloud-on-prem/goose/internal/chat/message"
	"github.com/cloud-on-prem/goose/internal/chat/sse"
	"github.com/cloud-on-prem/goose/internal/common/logger"
	"github.com/cloud-on-prem/goose/internal/events"
)

var (
	// ErrNotReady is returned by SendMessage while the agent server is not
	// ready. No request is issued; the user message stays in the transcript.
	ErrNotReady = errors.New("agent server is not ready")

	// ErrTurnInProgress is returned by SendMessage while a reply is streaming.
	ErrTurnInProgress = errors.New("a reply is already being generated")

	// ErrEmptyMessage is returned for a message with no text and no references.
	ErrEmptyMessage = errors.New("message is empty")
)

// State is the engine's turn state.
type State string

const (
	StateIdle      State = "idle"
	StateSending   State = "sending"
	StateStreaming State = "streaming"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
	StateFailed    State = "failed"
)

// Agent is the engine's view of the agent server.
type Agent interface {
	IsReady() bool
	WorkingDir() string
	StreamChatResponse(ctx context.Context, messages []message.Message, sessionID, workingDir string) (io.ReadCloser, error)
}

// SendRequest is one user message.
type SendRequest struct {
	Text       string
	References []message.Reference
	// MessageID overrides the generated user message id.
	MessageID string
}

// Engine runs chat turns for one session at a time.
type Engine struct {
	agent  Agent
	hub    *events.Hub
	logger *logger.Logger
	now    func() time.Time

	mu         sync.Mutex
	state      State
	sessionID  string
	transcript *transcript
	turn       *Turn
}

// New creates an idle engine with an empty transcript.
func New(agent Agent, hub *events.Hub, log *logger.Logger) *Engine {
	return &Engine{
		agent:      agent,
		hub:        hub,
		logger:     log.WithFields(zap.String("component", "chat-engine")),
		now:        time.Now,
		state:      StateIdle,
		transcript: newTranscript(nil),
	}
}

// State returns the current turn state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SessionID returns the active session id, "" for a new conversation.
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

// Transcript returns a deep copy of the transcript.
func (e *Engine) Transcript() []message.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transcript.snapshot()
}

// SendMessage appends the user message and starts streaming the reply on
// its own goroutine. The returned Turn reports the outcome.
func (e *Engine) SendMessage(ctx context.Context, req SendRequest) (*Turn, error) {
	if strings.TrimSpace(req.Text) == "" && len(req.References) == 0 {
		return nil, ErrEmptyMessage
	}

	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return nil, ErrTurnInProgress
	}

	now := e.now()
	user := message.NewUserMessage(req.MessageID, req.Text, req.References, now)
	e.transcript.append(user)
	e.hub.Publish(events.MessageReceived{SessionID: e.sessionID, Message: user.Clone()})

	if !e.agent.IsReady() {
		e.hub.Publish(events.ChatError{
			SessionID: e.sessionID,
			Code:      events.ErrCodeNotReady,
			Message:   ErrNotReady.Error(),
		})
		e.mu.Unlock()
		return nil, ErrNotReady
	}

	turnCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := newTurn(uuid.New().String(), e.sessionID, message.NewAssistantID(now), cancel)
	e.turn = t
	e.state = StateSending
	msgs := e.transcript.snapshot()
	e.mu.Unlock()

	log := e.logger.WithFields(zap.String("turn_id", t.id), zap.String("session_id", t.sessionID))
	log.Debug("sending message", zap.Int("messages", len(msgs)))

	go e.run(turnCtx, t, msgs, log)
	return t, nil
}

// run streams one turn. Every transcript mutation re-checks that t is still
// the current turn, so a read that completes after StopGeneration is inert.
func (e *Engine) run(ctx context.Context, t *Turn, msgs []message.Message, log *logger.Logger) {
	defer close(t.done)
	defer t.cancel()

	ctx = context.WithValue(ctx, logger.TurnIDKey, t.id)
	ctx, span := tracing.TraceTurn(ctx, t.id, t.sessionID, len(msgs))
	defer span.End()

	body, err := e.agent.StreamChatResponse(ctx, msgs, t.sessionID, e.agent.WorkingDir())
	if err != nil {
		if ctx.Err() != nil {
			tracing.TraceTurnEnd(span, string(StateAborted), 0, nil)
			return
		}
		code := events.ErrCodeUnreachable
		var he *client.HTTPError
		if errors.As(err, &he) {
			code = events.ErrCodeHTTP
		}
		log.Warn("reply request failed", zap.Error(err))
		e.fail(t, code, err)
		tracing.TraceTurnEnd(span, string(StateFailed), 0, err)
		return
	}
	defer func() { _ = body.Close() }()

	// Closing the body unblocks a pending Read once the turn is cancelled.
	stop := context.AfterFunc(ctx, func() { _ = body.Close() })
	defer stop()

	if !e.transition(t, StateStreaming) {
		tracing.TraceTurnEnd(span, string(StateAborted), 0, nil)
		return
	}

	outcome, err := e.consume(ctx, t, sse.NewDecoder(body), span, log)
	tracing.TraceTurnEnd(span, string(outcome), e.frameCount(t), err)
}

// consume reads frames until the turn reaches a terminal state.
func (e *Engine) consume(ctx context.Context, t *Turn, dec *sse.Decoder, span trace.Span, log *logger.Logger) (State, error) {
	for {
		frame, err := dec.Next()
		if err != nil {
			var mf *sse.MalformedFrameError
			switch {
			case errors.As(err, &mf):
				log.Warn("skipping malformed frame", zap.Error(mf))
				continue
			case ctx.Err() != nil:
				return StateAborted, nil
			case errors.Is(err, io.EOF):
				e.finish(t, events.ReasonComplete)
				return StateCompleted, nil
			default:
				log.Warn("reply stream failed", zap.Error(err))
				e.fail(t, events.ErrCodeStream, err)
				return StateFailed, err
			}
		}

		switch frame.Type {
		case sse.FrameMessage:
			id := e.handleMessage(t, frame.Message, log)
			tracing.TraceFrame(span, string(frame.Type), id)
		case sse.FrameError:
			tracing.TraceFrame(span, string(frame.Type), "")
			err := errors.New(frame.Error)
			e.fail(t, events.ErrCodeStream, err)
			return StateFailed, err
		case sse.FrameFinish:
			tracing.TraceFrame(span, string(frame.Type), "")
			reason := frame.Reason
			if reason == "" {
				reason = events.ReasonComplete
			}
			e.finish(t, reason)
			return StateCompleted, nil
		default:
			log.Debug("ignoring frame", zap.String("type", string(frame.Type)))
		}
	}
}

func (e *Engine) frameCount(t *Turn) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return t.frames
}

// transition moves the current turn to s. It reports false once t is stale.
func (e *Engine) transition(t *Turn, s State) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.turn != t {
		return false
	}
	e.state = s
	t.setOutcome(s, nil)
	return true
}

// handleMessage reconciles one Message frame and returns its message id.
func (e *Engine) handleMessage(t *Turn, raw []byte, log *logger.Logger) string {
	msg, text, err := message.Decode(raw)
	if err != nil {
		log.Warn("skipping undecodable message frame", zap.Error(err))
		return ""
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.turn != t {
		return msg.ID
	}
	t.frames++

	if msg.ID == "" {
		msg.ID = t.assistantID
	}
	if msg.Role == "" {
		msg.Role = message.RoleAssistant
	}
	if msg.Created == 0 {
		msg.Created = e.now().UnixMilli()
	}
	t.seen[msg.ID] = struct{}{}

	e.requestConfirmationsLocked(t, msg)

	if text == "" {
		if t.pending != nil && t.pending.ID != msg.ID {
			e.flushPendingLocked(t)
		}
		t.pending = &msg
		return msg.ID
	}

	if t.pending != nil {
		if t.pending.ID == msg.ID {
			t.pending = nil
		} else {
			e.flushPendingLocked(t)
		}
	}
	e.reconcileLocked(t, msg)
	return msg.ID
}

// reconcileLocked replaces the entry with msg's id or appends msg. An update
// that does not change the content is dropped without an event.
func (e *Engine) reconcileLocked(t *Turn, msg message.Message) {
	if i, ok := e.transcript.lookup(msg.ID); ok {
		existing := e.transcript.at(i)
		if existing.SameContent(msg) {
			return
		}
		msg.Created = existing.Created
		e.transcript.replace(i, msg)
		e.hub.Publish(events.MessageReceived{
			SessionID: t.sessionID,
			TurnID:    t.id,
			Message:   msg.Clone(),
			Replaced:  true,
		})
		return
	}

	e.transcript.append(msg)
	e.hub.Publish(events.MessageReceived{
		SessionID: t.sessionID,
		TurnID:    t.id,
		Message:   msg.Clone(),
	})
}

// flushPendingLocked reconciles the held message if it carries content. A
// held message for an entry that already shows text is merged into it.
func (e *Engine) flushPendingLocked(t *Turn) {
	if t.pending == nil {
		return
	}
	pending := *t.pending
	t.pending = nil
	if !pending.HasContent() {
		return
	}
	if i, ok := e.transcript.lookup(pending.ID); ok {
		if existing := e.transcript.at(i); existing.Text() != "" {
			pending = existing.Merge(pending)
		}
	}
	e.reconcileLocked(t, pending)
}

func (e *Engine) requestConfirmationsLocked(t *Turn, msg message.Message) {
	for _, tc := range msg.ToolConfirmations() {
		if _, ok := t.confirmations[tc.ID]; ok {
			continue
		}
		t.confirmations[tc.ID] = struct{}{}
		e.hub.Publish(events.ToolConfirmationRequested{
			SessionID: t.sessionID,
			TurnID:    t.id,
			MessageID: msg.ID,
			Request:   tc,
		})
	}
}

// finish completes the current turn.
func (e *Engine) finish(t *Turn, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.turn != t {
		return
	}
	e.flushPendingLocked(t)
	t.setOutcome(StateCompleted, nil)
	e.resetLocked()
	e.hub.Publish(events.GenerationFinished{SessionID: t.sessionID, TurnID: t.id, Reason: reason})
	e.logger.Debug("turn completed",
		zap.String("turn_id", t.id),
		zap.String("reason", reason),
		zap.Int("frames", t.frames),
		zap.Int("messages", len(t.seen)))
}

// fail ends the current turn with an error. Reconciled partial content stays.
func (e *Engine) fail(t *Turn, code events.ChatErrorCode, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.turn != t {
		return
	}
	t.setOutcome(StateFailed, err)
	e.resetLocked()
	e.hub.Publish(events.ChatError{
		SessionID: t.sessionID,
		TurnID:    t.id,
		Code:      code,
		Message:   err.Error(),
	})
}

func (e *Engine) resetLocked() {
	e.turn = nil
	e.state = StateIdle
}

// StopGeneration aborts the streaming turn. It returns false when no turn is
// in flight. The engine is idle again when it returns.
func (e *Engine) StopGeneration() bool {
	e.mu.Lock()
	t := e.turn
	if t == nil {
		e.mu.Unlock()
		return false
	}
	e.abortLocked(t)
	e.mu.Unlock()

	t.cancel()
	return true
}

func (e *Engine) abortLocked(t *Turn) {
	t.setOutcome(StateAborted, nil)
	e.resetLocked()
	e.hub.Publish(events.GenerationFinished{SessionID: t.sessionID, TurnID: t.id, Reason: events.ReasonAborted})
	e.logger.Debug("turn aborted", zap.String("turn_id", t.id))
}

// LoadSession replaces the transcript with a stored session. A streaming
// turn is aborted first.
func (e *Engine) LoadSession(sessionID string, msgs []message.Message) {
	e.mu.Lock()
	t := e.turn
	if t != nil {
		e.abortLocked(t)
	}
	e.sessionID = sessionID
	e.transcript = newTranscript(msgs)
	e.hub.Publish(events.SessionLoaded{SessionID: sessionID, Messages: e.transcript.snapshot()})
	e.mu.Unlock()

	if t != nil {
		t.cancel()
	}
}

// NewSession starts an empty conversation under sessionID.
func (e *Engine) NewSession(sessionID string) {
	e.LoadSession(sessionID, nil)
}
