package bus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/cloud-on-prem/goose/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "json",
		OutputPath: "stderr",
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return log
}

func TestMemoryEventBus_PublishSubscribe(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	var got []*Event
	sub, err := bus.Subscribe("goose.chat.>", func(ctx context.Context, event *Event) error {
		got = append(got, event)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	event, err := NewEvent("chat.message_received", "goose-bridge", map[string]string{"id": "m1"})
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}
	if err := bus.Publish(context.Background(), "goose.chat.chat.message_received", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := bus.Publish(context.Background(), "other.subject", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(got))
	}
	if got[0].ID != event.ID {
		t.Errorf("Expected event ID %s, got %s", event.ID, got[0].ID)
	}

	var data map[string]string
	if err := json.Unmarshal(got[0].Data, &data); err != nil {
		t.Fatalf("Unmarshal data failed: %v", err)
	}
	if data["id"] != "m1" {
		t.Errorf("Expected data id m1, got %q", data["id"])
	}
}

func TestMemoryEventBus_Unsubscribe(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	count := 0
	sub, err := bus.Subscribe("a.b", func(ctx context.Context, event *Event) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	event, _ := NewEvent("t", "s", nil)
	_ = bus.Publish(context.Background(), "a.b", event)
	_ = sub.Unsubscribe()
	_ = bus.Publish(context.Background(), "a.b", event)

	if count != 1 {
		t.Errorf("Expected 1 delivery, got %d", count)
	}
	if sub.IsValid() {
		t.Error("Expected subscription to be invalid after Unsubscribe")
	}
}

func TestMemoryEventBus_HandlerErrorDoesNotStopDelivery(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	second := false
	_, _ = bus.Subscribe("x", func(ctx context.Context, event *Event) error {
		return errors.New("boom")
	})
	_, _ = bus.Subscribe("x", func(ctx context.Context, event *Event) error {
		second = true
		return nil
	})

	event, _ := NewEvent("t", "s", nil)
	if err := bus.Publish(context.Background(), "x", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if !second {
		t.Error("Expected second handler to run")
	}
}

func TestMemoryEventBus_Closed(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	bus.Close()

	if bus.IsConnected() {
		t.Error("Expected closed bus to report disconnected")
	}
	event, _ := NewEvent("t", "s", nil)
	if err := bus.Publish(context.Background(), "x", event); err == nil {
		t.Error("Expected publish on closed bus to fail")
	}
	if _, err := bus.Subscribe("x", nil); err == nil {
		t.Error("Expected subscribe on closed bus to fail")
	}
}

func TestMatchSubject(t *testing.T) {
	tests := []struct {
		pattern string
		subject string
		want    bool
	}{
		{"a.b.c", "a.b.c", true},
		{"a.*.c", "a.b.c", true},
		{"a.*", "a.b.c", false},
		{"a.>", "a.b.c", true},
		{"a.>", "a", false},
		{"a.b", "a.b.c", false},
		{"a.b.c", "a.b", false},
		{">", "anything.at.all", true},
	}

	for _, tt := range tests {
		if got := MatchSubject(tt.pattern, tt.subject); got != tt.want {
			t.Errorf("MatchSubject(%q, %q) = %v, want %v", tt.pattern, tt.subject, got, tt.want)
		}
	}
}
