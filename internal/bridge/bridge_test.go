package bridge

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloud-on-prem/goose/internal/agent/client"
	"github.com/cloud-on-prem/goose/internal/chat/engine"
	"github.com/cloud-on-prem/goose/internal/chat/message"
	"github.com/cloud-on-prem/goose/internal/chat/sessions"
	"github.com/cloud-on-prem/goose/internal/common/logger"
	"github.com/cloud-on-prem/goose/internal/events"
	"github.com/cloud-on-prem/goose/pkg/webview"
)

type fakeServer struct {
	mu          sync.Mutex
	status      events.ServerStatus
	body        string
	restarts    int
	confirmed   map[string]bool
	permissions map[string]client.PermissionConfirmation
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		status:      events.StatusRunning,
		confirmed:   make(map[string]bool),
		permissions: make(map[string]client.PermissionConfirmation),
	}
}

func (s *fakeServer) Status() events.ServerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *fakeServer) IsReady() bool      { return s.Status() == events.StatusRunning }
func (s *fakeServer) Endpoint() string   { return "http://127.0.0.1:4321" }
func (s *fakeServer) WorkingDir() string { return "/workspace" }

func (s *fakeServer) Restart(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restarts++
	return nil
}

func (s *fakeServer) ConfirmToolCall(_ context.Context, id string, confirmed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmed[id] = confirmed
	return nil
}

func (s *fakeServer) ConfirmPermission(_ context.Context, id string, pc client.PermissionConfirmation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permissions[id] = pc
	return nil
}

func (s *fakeServer) StreamChatResponse(context.Context, []message.Message, string, string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return io.NopCloser(strings.NewReader(s.body)), nil
}

type fakeSessions struct {
	histories map[string]*client.SessionHistory
	created   int
}

func (f *fakeSessions) List(context.Context) ([]client.SessionInfo, error) {
	var out []client.SessionInfo
	for id := range f.histories {
		out = append(out, client.SessionInfo{ID: id})
	}
	return out, nil
}

func (f *fakeSessions) History(_ context.Context, id string) (*client.SessionHistory, error) {
	h, ok := f.histories[id]
	if !ok {
		return nil, sessions.ErrSessionNotFound
	}
	return h, nil
}

func (f *fakeSessions) Create(workingDir string) client.SessionInfo {
	f.created++
	return client.SessionInfo{ID: "new-session", Metadata: client.SessionMetadata{WorkingDir: workingDir}}
}

type recordingBroadcaster struct {
	mu   sync.Mutex
	msgs []*webview.Message
}

func (b *recordingBroadcaster) Broadcast(msg *webview.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, msg)
}

func (b *recordingBroadcaster) actions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.msgs))
	for i, m := range b.msgs {
		out[i] = m.Action
	}
	return out
}

func (b *recordingBroadcaster) find(action string) []*webview.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*webview.Message
	for _, m := range b.msgs {
		if m.Action == action {
			out = append(out, m)
		}
	}
	return out
}

type harness struct {
	server     *fakeServer
	sessions   *fakeSessions
	engine     *engine.Engine
	hub        *events.Hub
	out        *recordingBroadcaster
	dispatcher *webview.Dispatcher
	controller *Controller
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := logger.NewNop()
	hub := events.NewHub(log)
	t.Cleanup(hub.Close)

	server := newFakeServer()
	store := &fakeSessions{histories: map[string]*client.SessionHistory{
		"s1": {SessionID: "s1", Messages: []client.WireMessage{
			{ID: "m1", Role: message.RoleUser, Created: 1_700_000_000, Content: []message.Content{message.TextContent("earlier")}},
		}},
	}}
	eng := engine.New(server, hub, log)
	ctrl := NewController(server, eng, store, log)

	out := &recordingBroadcaster{}
	n := RegisterNotifications(hub, out, log)
	t.Cleanup(n.Close)

	d := webview.NewDispatcher()
	RegisterHandlers(d, ctrl, log)

	return &harness{server: server, sessions: store, engine: eng, hub: hub, out: out, dispatcher: d, controller: ctrl}
}

func (h *harness) dispatch(t *testing.T, action string, payload any) *webview.Message {
	t.Helper()
	req, err := webview.NewRequest("req-1", action, payload)
	require.NoError(t, err)
	resp, err := h.dispatcher.Dispatch(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp)
	return resp
}

func (h *harness) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.hub.Flush(ctx))
}

func errorCodeOf(t *testing.T, msg *webview.Message) string {
	t.Helper()
	require.Equal(t, webview.MessageTypeError, msg.Type)
	var p webview.ErrorPayload
	require.NoError(t, msg.ParsePayload(&p))
	return p.Code
}

func TestSendChatMessage(t *testing.T) {
	h := newHarness(t)
	h.server.body = `data: {"type":"Message","message":{"id":"a1","role":"assistant","content":[{"type":"text","text":"hello"}]}}

data: {"type":"Finish","reason":"stop"}

`
	resp := h.dispatch(t, webview.ActionSendChatMessage, webview.SendChatMessageRequest{Text: "hi"})
	require.Equal(t, webview.MessageTypeResponse, resp.Type)
	var ack webview.SendChatMessageResponse
	require.NoError(t, resp.ParsePayload(&ack))
	assert.NotEmpty(t, ack.TurnID)

	require.Eventually(t, func() bool {
		return len(h.out.find(webview.EventGenerationFinished)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{
		webview.EventChatResponse,
		webview.EventChatResponse,
		webview.EventGenerationFinished,
	}, h.out.actions())

	chats := h.out.find(webview.EventChatResponse)
	var reply webview.ChatResponsePayload
	require.NoError(t, chats[1].ParsePayload(&reply))
	assert.Equal(t, "hello", reply.Message.Text())
	assert.Equal(t, ack.TurnID, reply.TurnID)

	var fin webview.GenerationFinishedPayload
	require.NoError(t, h.out.find(webview.EventGenerationFinished)[0].ParsePayload(&fin))
	assert.Equal(t, "stop", fin.Reason)
}

func TestSendChatMessageNotReady(t *testing.T) {
	h := newHarness(t)
	h.server.status = events.StatusStopped

	resp := h.dispatch(t, webview.ActionSendChatMessage, webview.SendChatMessageRequest{Text: "hi"})
	assert.Equal(t, webview.ErrorCodeNotReady, errorCodeOf(t, resp))

	h.flush(t)
	errs := h.out.find(webview.EventError)
	require.Len(t, errs, 1)
	var p webview.ErrorEventPayload
	require.NoError(t, errs[0].ParsePayload(&p))
	assert.Equal(t, webview.ErrorCodeNotReady, p.Code)
	assert.Len(t, h.out.find(webview.EventChatResponse), 1, "user message is still shown")
}

func TestSendChatMessageValidation(t *testing.T) {
	h := newHarness(t)

	resp := h.dispatch(t, webview.ActionSendChatMessage, webview.SendChatMessageRequest{Text: ""})
	assert.Equal(t, webview.ErrorCodeValidation, errorCodeOf(t, resp))

	req := &webview.Message{ID: "x", Type: webview.MessageTypeRequest, Action: webview.ActionSendChatMessage, Payload: []byte(`"nope"`)}
	resp, err := h.dispatcher.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, webview.ErrorCodeBadRequest, errorCodeOf(t, resp))
}

func TestStopGenerationIdle(t *testing.T) {
	h := newHarness(t)

	resp := h.dispatch(t, webview.ActionStopGeneration, nil)
	var p webview.StopGenerationResponse
	require.NoError(t, resp.ParsePayload(&p))
	assert.False(t, p.Stopped)
}

func TestSwitchSession(t *testing.T) {
	h := newHarness(t)

	resp := h.dispatch(t, webview.ActionSwitchSession, webview.SwitchSessionRequest{SessionID: "s1"})
	require.Equal(t, webview.MessageTypeResponse, resp.Type)
	assert.Equal(t, "s1", h.engine.SessionID())

	h.flush(t)
	loaded := h.out.find(webview.EventSessionLoaded)
	require.Len(t, loaded, 1)
	var p webview.SessionLoadedPayload
	require.NoError(t, loaded[0].ParsePayload(&p))
	require.Len(t, p.Messages, 1)
	assert.Equal(t, "earlier", p.Messages[0].Text())
	assert.Equal(t, int64(1_700_000_000_000), p.Messages[0].Created)

	resp = h.dispatch(t, webview.ActionSwitchSession, webview.SwitchSessionRequest{SessionID: "missing"})
	assert.Equal(t, webview.ErrorCodeNotFound, errorCodeOf(t, resp))

	resp = h.dispatch(t, webview.ActionSwitchSession, webview.SwitchSessionRequest{})
	assert.Equal(t, webview.ErrorCodeValidation, errorCodeOf(t, resp))
}

func TestCreateSession(t *testing.T) {
	h := newHarness(t)
	h.engine.LoadSession("s1", []message.Message{{ID: "m1", Role: message.RoleUser}})

	resp := h.dispatch(t, webview.ActionCreateSession, nil)
	var info client.SessionInfo
	require.NoError(t, resp.ParsePayload(&info))
	assert.Equal(t, "new-session", info.ID)
	assert.Equal(t, "/workspace", info.Metadata.WorkingDir)

	assert.Equal(t, "new-session", h.engine.SessionID())
	assert.Empty(t, h.engine.Transcript())
}

func TestListSessions(t *testing.T) {
	h := newHarness(t)

	resp := h.dispatch(t, webview.ActionListSessions, nil)
	assert.Equal(t, webview.EventSessionsList, resp.Action)
	var p webview.SessionsListPayload
	require.NoError(t, resp.ParsePayload(&p))
	require.Len(t, p.Sessions, 1)
	assert.Equal(t, "s1", p.Sessions[0].ID)
}

func TestConfirmToolCall(t *testing.T) {
	h := newHarness(t)

	h.dispatch(t, webview.ActionConfirmToolCall, webview.ConfirmToolCallRequest{ID: "tc-1", Confirmed: true})
	h.dispatch(t, webview.ActionConfirmToolCall, webview.ConfirmToolCallRequest{
		ID:            "tc-2",
		Permission:    client.PermissionAlwaysAllow,
		PrincipalName: "developer__shell",
	})

	assert.Equal(t, map[string]bool{"tc-1": true}, h.server.confirmed)
	require.Contains(t, h.server.permissions, "tc-2")
	assert.Equal(t, client.PrincipalTool, h.server.permissions["tc-2"].PrincipalType)
	assert.Equal(t, client.PermissionAlwaysAllow, h.server.permissions["tc-2"].Permission)

	resp := h.dispatch(t, webview.ActionConfirmToolCall, webview.ConfirmToolCallRequest{})
	assert.Equal(t, webview.ErrorCodeValidation, errorCodeOf(t, resp))
}

func TestRestartServer(t *testing.T) {
	h := newHarness(t)

	h.dispatch(t, webview.ActionRestartServer, nil)
	require.Eventually(t, func() bool {
		h.server.mu.Lock()
		defer h.server.mu.Unlock()
		return h.server.restarts == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorkspaceContextAndStatus(t *testing.T) {
	h := newHarness(t)
	h.engine.LoadSession("s9", nil)

	resp := h.dispatch(t, webview.ActionGetWorkspaceContext, nil)
	assert.Equal(t, webview.EventWorkspaceContext, resp.Action)
	var wc webview.WorkspaceContextPayload
	require.NoError(t, resp.ParsePayload(&wc))
	assert.Equal(t, "/workspace", wc.WorkingDir)
	assert.Equal(t, "s9", wc.SessionID)
	assert.Equal(t, events.StatusRunning, wc.ServerStatus)
	assert.False(t, wc.Generating)

	resp = h.dispatch(t, webview.ActionGetServerStatus, nil)
	var st webview.ServerStatusPayload
	require.NoError(t, resp.ParsePayload(&st))
	assert.Equal(t, events.StatusRunning, st.Status)
	assert.Equal(t, "http://127.0.0.1:4321", st.Endpoint)
}

func TestNotificationMapping(t *testing.T) {
	tests := []struct {
		event  events.Event
		action string
		code   string
	}{
		{events.StatusChanged{Status: events.StatusRunning}, webview.EventServerStatus, ""},
		{events.ServerError{Message: "exited"}, webview.EventError, webview.ErrorCodeServer},
		{events.ConfigurationFailed{Step: "extension developer", Message: "boom"}, webview.EventError, webview.ErrorCodeConfiguration},
		{events.ChatError{Code: events.ErrCodeHTTP, Message: "500"}, webview.EventError, webview.ErrorCodeHTTP},
		{events.ChatError{Code: events.ErrCodeStream}, webview.EventError, webview.ErrorCodeStream},
		{events.ChatError{Code: events.ErrCodeUnreachable}, webview.EventError, webview.ErrorCodeUnreachable},
		{events.SessionLoaded{SessionID: "s"}, webview.EventSessionLoaded, ""},
		{events.ToolConfirmationRequested{MessageID: "m"}, webview.EventToolConfirmationRequest, ""},
	}

	for _, tt := range tests {
		t.Run(string(tt.event.Kind()), func(t *testing.T) {
			msg, err := Notification(tt.event)
			require.NoError(t, err)
			require.NotNil(t, msg)
			assert.Equal(t, webview.MessageTypeNotification, msg.Type)
			assert.Equal(t, tt.action, msg.Action)
			if tt.code != "" {
				var p webview.ErrorEventPayload
				require.NoError(t, msg.ParsePayload(&p))
				assert.Equal(t, tt.code, p.Code)
			}
		})
	}
}

func TestSnapshot(t *testing.T) {
	h := newHarness(t)
	h.engine.LoadSession("s1", []message.Message{{ID: "m1", Role: message.RoleUser, Content: []message.Content{message.TextContent("x")}}})

	snap := h.controller.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, webview.EventServerStatus, snap[0].Action)
	assert.Equal(t, webview.EventSessionLoaded, snap[1].Action)

	var p webview.SessionLoadedPayload
	require.NoError(t, snap[1].ParsePayload(&p))
	assert.Equal(t, "s1", p.SessionID)
	assert.Len(t, p.Messages, 1)
}
