package websocket

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cloud-on-prem/goose/internal/common/logger"
	"github.com/cloud-on-prem/goose/internal/events/bus"
)

const eventTapBuffer = 64

// EventTap streams bus events to HTTP clients as server-sent events. The
// optional "subject" query parameter narrows the stream with NATS wildcards;
// the default is every subject under prefix.
type EventTap struct {
	bus    bus.EventBus
	prefix string
	logger *logger.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// NewEventTap creates a tap over b.
func NewEventTap(b bus.EventBus, prefix string, log *logger.Logger) *EventTap {
	return &EventTap{
		bus:    b,
		prefix: prefix,
		logger: log.WithFields(zap.String("component", "event_tap")),
		closed: make(chan struct{}),
	}
}

// Close ends every open tap stream. It is safe to call more than once.
func (t *EventTap) Close() {
	t.closeOnce.Do(func() { close(t.closed) })
}

func (t *EventTap) pattern(c *gin.Context) string {
	if s := c.Query("subject"); s != "" {
		return s
	}
	if t.prefix == "" {
		return ">"
	}
	return t.prefix + ".>"
}

// Serve handles one tap connection until the client goes away. A slow
// reader loses events rather than stalling the publisher.
func (t *EventTap) Serve(c *gin.Context) {
	pattern := t.pattern(c)
	ch := make(chan *bus.Event, eventTapBuffer)
	sub, err := t.bus.Subscribe(pattern, func(_ context.Context, e *bus.Event) error {
		select {
		case ch <- e:
		default:
			t.logger.Debug("tap buffer full, dropping event", zap.String("event_type", e.Type))
		}
		return nil
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	defer func() { _ = sub.Unsubscribe() }()

	t.logger.Debug("event tap attached", zap.String("subject", pattern))

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	done := c.Request.Context().Done()
	c.Stream(func(io.Writer) bool {
		select {
		case <-done:
			return false
		case <-t.closed:
			return false
		case e := <-ch:
			c.SSEvent(e.Type, e)
			return true
		}
	})
}
