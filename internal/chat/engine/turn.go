package engine

import (
	"context"
	"sync"

	"github.com/cloud-on-prem/goose/internal/chat/message"
)

// Turn is one send-and-stream cycle. Its bookkeeping fields are guarded by
// the engine mutex; the outcome has its own lock so it can be read after
// the engine has moved on.
type Turn struct {
	id          string
	sessionID   string
	assistantID string
	cancel      context.CancelFunc
	done        chan struct{}

	seen          map[string]struct{}
	confirmations map[string]struct{}
	pending       *message.Message
	frames        int

	mu      sync.Mutex
	outcome State
	err     error
}

func newTurn(id, sessionID, assistantID string, cancel context.CancelFunc) *Turn {
	return &Turn{
		id:            id,
		sessionID:     sessionID,
		assistantID:   assistantID,
		cancel:        cancel,
		done:          make(chan struct{}),
		seen:          make(map[string]struct{}),
		confirmations: make(map[string]struct{}),
		outcome:       StateSending,
	}
}

// ID returns the turn id.
func (t *Turn) ID() string {
	return t.id
}

// SessionID returns the session the turn was sent in.
func (t *Turn) SessionID() string {
	return t.sessionID
}

// Done is closed once the turn's stream goroutine has exited.
func (t *Turn) Done() <-chan struct{} {
	return t.done
}

// Result returns the turn's outcome so far and, for failed turns, the cause.
func (t *Turn) Result() (State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outcome, t.err
}

// Wait blocks until the turn is done or ctx ends.
func (t *Turn) Wait(ctx context.Context) (State, error) {
	select {
	case <-t.done:
		return t.Result()
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (t *Turn) setOutcome(s State, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outcome = s
	t.err = err
}
