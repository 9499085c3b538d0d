package events

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/cloud-on-prem/goose/internal/common/config"
	"github.com/cloud-on-prem/goose/internal/common/logger"
	"github.com/cloud-on-prem/goose/internal/events/bus"
)

// EventSource is stamped on every mirrored bus event.
const EventSource = "goose-bridge"

// ProvidedBus wraps the active event bus implementation.
type ProvidedBus struct {
	Bus    bus.EventBus
	Memory *bus.MemoryEventBus
	NATS   *bus.NATSEventBus
}

// Provide builds the configured event bus implementation. A NATS URL selects
// NATS; otherwise an in-memory bus is returned, whose only consumers are
// in-process ones such as the gateway event tap.
func Provide(cfg *config.Config, log *logger.Logger) (*ProvidedBus, func() error, error) {
	if strings.TrimSpace(cfg.NATS.URL) != "" {
		natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize NATS event bus: %w", err)
		}
		cleanup := func() error {
			natsBus.Close()
			return nil
		}
		return &ProvidedBus{Bus: natsBus, NATS: natsBus}, cleanup, nil
	}

	memBus := bus.NewMemoryEventBus(log)
	cleanup := func() error {
		memBus.Close()
		return nil
	}
	return &ProvidedBus{Bus: memBus, Memory: memBus}, cleanup, nil
}

// Subject returns the bus subject an event kind is mirrored to.
func Subject(prefix string, k Kind) string {
	if prefix == "" {
		return string(k)
	}
	return prefix + "." + string(k)
}

// Mirror forwards every hub event to b under prefix. Publish failures are
// logged and dropped.
func Mirror(h *Hub, b bus.EventBus, prefix string, log *logger.Logger) *Subscription {
	log = log.WithFields(zap.String("component", "event-mirror"))
	return h.Subscribe(func(e Event) {
		kind := string(e.Kind())
		event, err := bus.NewEvent(kind, EventSource, e)
		if err != nil {
			log.Warn("failed to encode event", zap.String("kind", kind), zap.Error(err))
			return
		}
		if err := b.Publish(context.Background(), Subject(prefix, e.Kind()), event); err != nil {
			log.Warn("failed to mirror event", zap.String("kind", kind), zap.Error(err))
		}
	})
}
