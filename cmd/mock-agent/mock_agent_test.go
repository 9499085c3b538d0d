package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cloud-on-prem/goose/internal/agent/client"
	"github.com/cloud-on-prem/goose/internal/chat/message"
	"github.com/cloud-on-prem/goose/internal/chat/sse"
	"github.com/cloud-on-prem/goose/internal/common/logger"
)

const testSecret = "test-secret"

func newTestClient(t *testing.T) (*client.Client, *server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	chunkDelay = 0

	s := newServer(testSecret, logger.NewNop())
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return client.New(ts.URL, testSecret, logger.NewNop()), s
}

func userMessage(text string) message.Message {
	return message.Message{
		ID:      "u1",
		Role:    message.RoleUser,
		Created: time.Now().UnixMilli(),
		Content: []message.Content{message.TextContent(text)},
	}
}

func collect(t *testing.T, body io.ReadCloser) ([]sse.Frame, sse.Framing) {
	t.Helper()
	defer body.Close()
	dec := sse.NewDecoder(body)
	var frames []sse.Frame
	for {
		f, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return frames, dec.Framing()
		}
		var mf *sse.MalformedFrameError
		if errors.As(err, &mf) {
			continue
		}
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		frames = append(frames, f)
	}
}

func TestRejectsWrongSecret(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := newServer(testSecret, logger.NewNop())
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	c := client.New(ts.URL, "wrong", logger.NewNop())
	_, err := c.ListSessions(context.Background())
	if !client.IsStatus(err, http.StatusUnauthorized) {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestReplyScenarios(t *testing.T) {
	tests := []struct {
		name        string
		prompt      string
		wantFraming sse.Framing
		wantLast    sse.FrameType
		wantText    string
	}{
		{"echo", "hello there", sse.FramingEvent, sse.FrameFinish, "You said: hello there"},
		{"legacy", "/legacy hi", sse.FramingLine, sse.FrameMessage, "You said: hi"},
		{"malformed", "/malformed ok", sse.FramingEvent, sse.FrameFinish, "You said: ok"},
		{"error", "/error", sse.FramingEvent, sse.FrameError, "Working on it"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t)
			body, err := c.StreamChatResponse(context.Background(), []message.Message{userMessage(tt.prompt)}, "", "/tmp")
			if err != nil {
				t.Fatalf("stream: %v", err)
			}
			frames, framing := collect(t, body)
			if framing != tt.wantFraming {
				t.Errorf("framing = %v, want %v", framing, tt.wantFraming)
			}
			if len(frames) == 0 {
				t.Fatal("no frames")
			}
			if last := frames[len(frames)-1].Type; last != tt.wantLast {
				t.Errorf("last frame = %s, want %s", last, tt.wantLast)
			}

			var text string
			for _, f := range frames {
				if f.Type == sse.FrameMessage {
					text = message.ExtractText(f.Message)
				}
			}
			if text != tt.wantText {
				t.Errorf("text = %q, want %q", text, tt.wantText)
			}
		})
	}
}

func TestReplyConfirmScenario(t *testing.T) {
	c, _ := newTestClient(t)
	body, err := c.StreamChatResponse(context.Background(), []message.Message{userMessage("/confirm")}, "", "/tmp")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	frames, _ := collect(t, body)

	msg, _, err := message.Decode(frames[0].Message)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	confirmations := msg.ToolConfirmations()
	if len(confirmations) != 1 || confirmations[0].ToolName != "developer__shell" {
		t.Fatalf("unexpected confirmations: %+v", confirmations)
	}

	if err := c.ConfirmToolCall(context.Background(), confirmations[0].ID, true); err != nil {
		t.Fatalf("confirm: %v", err)
	}
}

func TestReplyRecordsSession(t *testing.T) {
	c, _ := newTestClient(t)
	body, err := c.StreamChatResponse(context.Background(), []message.Message{userMessage("remember me")}, "20250101_000000", "/work")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	collect(t, body)

	list, err := c.ListSessions(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != "20250101_000000" {
		t.Fatalf("unexpected sessions: %+v", list)
	}
	if list[0].Metadata.Description != "remember me" || list[0].Metadata.WorkingDir != "/work" {
		t.Errorf("unexpected metadata: %+v", list[0].Metadata)
	}

	h, err := c.GetSessionHistory(context.Background(), "20250101_000000")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	transcript := h.Transcript()
	if len(transcript) != 2 || transcript[1].Text() != "You said: remember me" {
		t.Errorf("unexpected transcript: %+v", transcript)
	}

	if _, err := c.GetSessionHistory(context.Background(), "missing"); !client.IsStatus(err, http.StatusNotFound) {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestConfigurationEndpoints(t *testing.T) {
	c, s := newTestClient(t)
	ctx := context.Background()

	v, err := c.Versions(ctx)
	if err != nil || v.DefaultVersion != "truncate" {
		t.Fatalf("versions: %+v %v", v, err)
	}
	if _, err := c.CreateAgent(ctx, client.CreateAgentRequest{Provider: "mock", Version: v.DefaultVersion}); err != nil {
		t.Fatalf("create agent: %v", err)
	}
	if err := c.AddExtension(ctx, "developer"); err != nil {
		t.Fatalf("add extension: %v", err)
	}
	if _, err := c.CreateAgent(ctx, client.CreateAgentRequest{}); !client.IsStatus(err, http.StatusBadRequest) {
		t.Errorf("expected 400 without provider, got %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.provider != "mock" || len(s.extensions) != 1 {
		t.Errorf("unexpected state: provider=%q extensions=%v", s.provider, s.extensions)
	}
}

func TestAsk(t *testing.T) {
	c, _ := newTestClient(t)
	text, err := c.Ask(context.Background(), "ping", "", "/tmp")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if text != "You said: ping" {
		t.Errorf("text = %q", text)
	}
}

func TestParseScenario(t *testing.T) {
	tests := []struct {
		prompt, scenario, rest string
	}{
		{"hello", scenarioEcho, "hello"},
		{"/slow take your time", scenarioSlow, "take your time"},
		{"/error", scenarioError, ""},
		{"/unknown thing", scenarioEcho, "/unknown thing"},
	}
	for _, tt := range tests {
		scenario, rest := parseScenario(tt.prompt)
		if scenario != tt.scenario || rest != tt.rest {
			t.Errorf("parseScenario(%q) = (%q, %q), want (%q, %q)", tt.prompt, scenario, rest, tt.scenario, tt.rest)
		}
	}
}
