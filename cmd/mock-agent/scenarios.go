package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cloud-on-prem/goose/internal/agent/client"
	"github.com/cloud-on-prem/goose/internal/chat/message"
)

// Scenarios are picked by a leading slash command in the last user message.
const (
	scenarioEcho      = "echo"
	scenarioSlow      = "slow"
	scenarioError     = "error"
	scenarioMalformed = "malformed"
	scenarioLegacy    = "legacy"
	scenarioConfirm   = "confirm"
)

// chunkDelay paces streamed updates. Tests set it to zero.
var chunkDelay = 50 * time.Millisecond

type frame struct {
	Type    string              `json:"type"`
	Message *client.WireMessage `json:"message,omitempty"`
	Error   string              `json:"error,omitempty"`
	Reason  string              `json:"reason,omitempty"`
}

// streamWriter writes event-stream frames in one of the two framings.
type streamWriter struct {
	w     io.Writer
	flush func()
	line  bool
}

func (sw *streamWriter) raw(data string) {
	if sw.line {
		fmt.Fprintf(sw.w, "data: %s\n", data)
	} else {
		fmt.Fprintf(sw.w, "data: %s\n\n", data)
	}
	sw.flush()
}

func (sw *streamWriter) send(f frame) {
	data, _ := json.Marshal(f)
	sw.raw(string(data))
}

func (sw *streamWriter) message(m client.WireMessage) {
	sw.send(frame{Type: "Message", Message: &m})
}

func (sw *streamWriter) finish(reason string) {
	sw.send(frame{Type: "Finish", Reason: reason})
}

func (s *server) reply(c *gin.Context) {
	var req client.ReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reply request"})
		return
	}
	if len(req.Messages) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "messages must not be empty"})
		return
	}

	prompt := lastUserText(req.Messages)
	scenario, rest := parseScenario(prompt)
	s.logger.Info("streaming reply",
		zap.String("scenario", scenario),
		zap.String("session_id", req.SessionID),
		zap.Int("messages", len(req.Messages)))

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)

	sw := &streamWriter{w: c.Writer, flush: c.Writer.Flush, line: scenario == scenarioLegacy}
	reply := emitScenario(c, sw, scenario, rest)

	if reply != nil {
		s.record(req.SessionID, req.WorkingDir, append(req.Messages, *reply))
	}
}

// emitScenario streams one scenario and returns the final assistant message,
// or nil when the reply failed.
func emitScenario(c *gin.Context, sw *streamWriter, scenario, prompt string) *client.WireMessage {
	id := "msg_" + uuid.NewString()[:12]
	created := time.Now().Unix()
	msg := func(text string, extra ...message.Content) client.WireMessage {
		content := []message.Content{message.TextContent(text)}
		return client.WireMessage{ID: id, Role: message.RoleAssistant, Created: created, Content: append(content, extra...)}
	}

	switch scenario {
	case scenarioError:
		sw.message(msg("Working on it"))
		sw.send(frame{Type: "Error", Error: "mock provider failure"})
		return nil

	case scenarioMalformed:
		sw.raw("{this is not json")
		final := msg(echoText(prompt))
		sw.message(final)
		sw.finish("stop")
		return &final

	case scenarioConfirm:
		req, _ := json.Marshal(map[string]any{
			"type":      "toolConfirmationRequest",
			"id":        "tool_" + uuid.NewString()[:8],
			"toolName":  "developer__shell",
			"arguments": map[string]any{"command": "ls"},
			"prompt":    "Allow running `ls`?",
		})
		var item message.Content
		_ = json.Unmarshal(req, &item)
		final := msg("I need to run a shell command.", item)
		sw.message(final)
		sw.finish("stop")
		return &final

	case scenarioSlow:
		return streamWords(c, sw, msg, echoText(prompt), 10*chunkDelay)

	default:
		// Legacy framing carries the same content, one payload per line.
		final := streamWords(c, sw, msg, echoText(prompt), chunkDelay)
		if final == nil {
			return nil
		}
		if sw.line {
			sw.raw("[DONE]")
		}
		return final
	}
}

// streamWords sends the text growing word by word under one message id and
// finishes the turn. It stops early when the client goes away.
func streamWords(c *gin.Context, sw *streamWriter, msg func(string, ...message.Content) client.WireMessage, text string, delay time.Duration) *client.WireMessage {
	words := strings.Fields(text)
	for i := range words {
		select {
		case <-c.Request.Context().Done():
			return nil
		case <-time.After(delay):
		}
		sw.message(msg(strings.Join(words[:i+1], " ")))
	}
	final := msg(text)
	if !sw.line {
		sw.finish("stop")
	}
	return &final
}

func parseScenario(prompt string) (string, string) {
	prompt = strings.TrimSpace(prompt)
	if !strings.HasPrefix(prompt, "/") {
		return scenarioEcho, prompt
	}
	name, rest, _ := strings.Cut(prompt[1:], " ")
	switch name {
	case scenarioSlow, scenarioError, scenarioMalformed, scenarioLegacy, scenarioConfirm:
		return name, strings.TrimSpace(rest)
	}
	return scenarioEcho, prompt
}

func lastUserText(msgs []client.WireMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == message.RoleUser {
			return client.FromWire(msgs[i]).Text()
		}
	}
	return ""
}

func echoText(prompt string) string {
	if prompt == "" {
		return "You said nothing."
	}
	return "You said: " + prompt
}

// describe returns the first line of the first user message.
func describe(msgs []client.WireMessage) string {
	var text string
	for _, m := range msgs {
		if m.Role == message.RoleUser {
			text = client.FromWire(m).Text()
			break
		}
	}
	if first, _, ok := strings.Cut(text, "\n"); ok {
		text = first
	}
	if len(text) > 60 {
		text = text[:60] + "..."
	}
	return text
}
