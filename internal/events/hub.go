package events

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/cloud-on-prem/goose/internal/common/logger"
)

// Handler receives events from the hub. Handlers run on the hub's dispatch
// goroutine, one event at a time, in publish order.
type Handler func(Event)

// Hub is an in-process publish/subscribe point for typed events.
//
// Publish never blocks: events are queued and delivered by a single dispatch
// goroutine, so handlers may publish or call back into the publisher.
type Hub struct {
	logger *logger.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []Event
	subs      []*Subscription
	nextID    uint64
	published uint64
	delivered uint64
	closed    bool
	done      chan struct{}
}

// NewHub creates a hub and starts its dispatch goroutine.
func NewHub(log *logger.Logger) *Hub {
	h := &Hub{
		logger: log.WithFields(zap.String("component", "event-hub")),
		done:   make(chan struct{}),
	}
	h.cond = sync.NewCond(&h.mu)
	go h.run()
	return h
}

// Subscription is a registered handler. Unsubscribe is idempotent.
type Subscription struct {
	hub     *Hub
	id      uint64
	kinds   map[Kind]struct{}
	handler Handler
	once    sync.Once
}

// Unsubscribe stops delivery to the handler. Events already being dispatched
// may still reach it.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.hub.remove(s.id)
	})
}

func (s *Subscription) wants(k Kind) bool {
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[k]
	return ok
}

// Subscribe registers handler for the given kinds, or for every kind when
// none are given.
func (h *Hub) Subscribe(handler Handler, kinds ...Kind) *Subscription {
	sub := &Subscription{hub: h, handler: handler}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]struct{}, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = struct{}{}
		}
	}

	h.mu.Lock()
	h.nextID++
	sub.id = h.nextID
	h.subs = append(h.subs, sub)
	h.mu.Unlock()
	return sub
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, s := range h.subs {
		if s.id == id {
			h.subs = append(h.subs[:i:i], h.subs[i+1:]...)
			return
		}
	}
}

// Publish queues e for delivery. Events published after Close are dropped.
func (h *Hub) Publish(e Event) {
	if e == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.queue = append(h.queue, e)
	h.published++
	h.cond.Broadcast()
}

// Flush blocks until every event published before the call has been
// delivered, or ctx is done.
func (h *Hub) Flush(ctx context.Context) error {
	h.mu.Lock()
	target := h.published
	h.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		h.mu.Lock()
		h.cond.Broadcast()
		h.mu.Unlock()
	})
	defer stop()

	h.mu.Lock()
	defer h.mu.Unlock()
	for h.delivered < target && !h.closed {
		if err := ctx.Err(); err != nil {
			return err
		}
		h.cond.Wait()
	}
	return nil
}

// Close stops the dispatch goroutine after the queued events are delivered.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.cond.Broadcast()
	h.mu.Unlock()
	<-h.done
}

func (h *Hub) run() {
	defer close(h.done)
	for {
		h.mu.Lock()
		for len(h.queue) == 0 && !h.closed {
			h.cond.Wait()
		}
		if len(h.queue) == 0 {
			h.mu.Unlock()
			return
		}
		e := h.queue[0]
		h.queue[0] = nil
		h.queue = h.queue[1:]
		subs := make([]*Subscription, 0, len(h.subs))
		for _, s := range h.subs {
			if s.wants(e.Kind()) {
				subs = append(subs, s)
			}
		}
		h.mu.Unlock()

		for _, s := range subs {
			h.deliver(s, e)
		}

		h.mu.Lock()
		h.delivered++
		h.cond.Broadcast()
		h.mu.Unlock()
	}
}

func (h *Hub) deliver(s *Subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("event handler panicked",
				zap.String("kind", string(e.Kind())),
				zap.Any("panic", r))
		}
	}()
	s.handler(e)
}
