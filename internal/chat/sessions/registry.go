// Package sessions lists and opens the conversation threads stored by the
// agent server. While the server is not ready it answers from a Fallback
// so callers never special-case a missing server.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cloud-on-prem/goose/internal/agent/client"
	"github.com/cloud-on-prem/goose/internal/common/logger"
)

// ErrSessionNotFound is returned for an id neither the server nor the
// registry knows.
var ErrSessionNotFound = errors.New("session not found")

// Source is the agent server's session API.
type Source interface {
	ListSessions(ctx context.Context) ([]client.SessionInfo, error)
	GetSessionHistory(ctx context.Context, sessionID string) (*client.SessionHistory, error)
}

// ReadyFunc reports whether Source can be called.
type ReadyFunc func() bool

// Registry proxies session calls to the agent server.
type Registry struct {
	source   Source
	ready    ReadyFunc
	fallback Fallback
	logger   *logger.Logger
	now      func() time.Time

	mu      sync.Mutex
	cached  []client.SessionInfo
	created map[string]client.SessionInfo
}

// New creates a registry.
func New(source Source, ready ReadyFunc, fallback Fallback, log *logger.Logger) *Registry {
	return &Registry{
		source:   source,
		ready:    ready,
		fallback: fallback,
		logger:   log.WithFields(zap.String("component", "session-registry")),
		now:      time.Now,
		created:  make(map[string]client.SessionInfo),
	}
}

// List returns the known sessions, most recently created local sessions
// first, followed by the server's list.
func (r *Registry) List(ctx context.Context) ([]client.SessionInfo, error) {
	if !r.ready() {
		r.logger.Debug("agent server not ready, listing fallback sessions")
		return r.fallback.List(), nil
	}

	remote, err := r.source.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	onServer := make(map[string]struct{}, len(remote))
	for _, s := range remote {
		onServer[s.ID] = struct{}{}
	}
	var local []client.SessionInfo
	for id, s := range r.created {
		if _, ok := onServer[id]; ok {
			// The server has persisted it.
			delete(r.created, id)
			continue
		}
		local = append(local, s)
	}
	sort.Slice(local, func(i, j int) bool { return local[i].ID > local[j].ID })

	r.cached = append(local, remote...)
	return append([]client.SessionInfo(nil), r.cached...), nil
}

// Cached returns the result of the last successful List against the server.
func (r *Registry) Cached() []client.SessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]client.SessionInfo(nil), r.cached...)
}

// History returns the stored messages of a session. A session created
// locally that the server has not persisted yet has an empty history.
func (r *Registry) History(ctx context.Context, sessionID string) (*client.SessionHistory, error) {
	if !r.ready() {
		return r.fallback.History(sessionID)
	}

	h, err := r.source.GetSessionHistory(ctx, sessionID)
	if err == nil {
		return h, nil
	}
	if client.IsStatus(err, http.StatusNotFound) {
		r.mu.Lock()
		info, ok := r.created[sessionID]
		r.mu.Unlock()
		if ok {
			return &client.SessionHistory{SessionID: sessionID, Metadata: info.Metadata}, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nil, fmt.Errorf("get session %s: %w", sessionID, err)
}

// Create names a new session. The agent server persists it on the first
// reply sent with its id.
func (r *Registry) Create(workingDir string) client.SessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	base := now.Format("20060102_150405")
	id := base
	for n := 1; r.known(id); n++ {
		id = fmt.Sprintf("%s_%d", base, n)
	}

	info := client.SessionInfo{
		ID:       id,
		Modified: now.Format("2006-01-02 15:04:05 UTC"),
		Metadata: client.SessionMetadata{WorkingDir: workingDir},
	}
	r.created[id] = info
	r.cached = append([]client.SessionInfo{info}, r.cached...)
	r.logger.Info("created session", zap.String("session_id", id), zap.String("working_dir", workingDir))
	return info
}

func (r *Registry) known(id string) bool {
	if _, ok := r.created[id]; ok {
		return true
	}
	for _, s := range r.cached {
		if s.ID == id {
			return true
		}
	}
	return false
}
