// Package eventbus implements an in-process publish/subscribe bus for
// kernel-level notifications: lifecycle transitions, health
// transitions, capability registration. Grounded on two teacher
// shapes: the Kernel's eventHandlers/emitEvent pair
// (coreengine/kernel/kernel.go) and commbus.InMemoryCommBus's
// Publish/Subscribe fan-out (commbus/bus.go), generalized into one
// component since the distilled spec names both OnEvent and OnReady
// hooks without specifying separate plumbing for each.
package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
)

// Event is a single notification carried on the bus.
type Event struct {
	Topic string
	Data  map[string]any
}

// Handler receives events published to a topic it subscribed to.
// Errors are logged by the bus but never stop other subscribers.
type Handler func(ctx context.Context, evt Event) error

type subscription struct {
	id      uint64
	handler Handler
}

// Bus fans out events to subscribers concurrently, matching
// InMemoryCommBus's Publish semantics: all subscribers run, errors
// are logged but never abort delivery to the rest.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]subscription
	nextID      uint64
	logger      interface {
		Warn(msg string, keysAndValues ...any)
	}
}

// New creates an empty Bus. logger may be nil, in which case
// subscriber errors are silently dropped.
func New(logger interface {
	Warn(msg string, keysAndValues ...any)
}) *Bus {
	return &Bus{subscribers: make(map[string][]subscription), logger: logger}
}

// Subscribe registers handler for topic and returns an unsubscribe
// function, idempotent on repeated calls.
func (b *Bus) Subscribe(topic string, handler Handler) func() {
	id := atomic.AddUint64(&b.nextID, 1)

	b.mu.Lock()
	b.subscribers[topic] = append(b.subscribers[topic], subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		entries := b.subscribers[topic]
		for i, s := range entries {
			if s.id == id {
				b.subscribers[topic] = append(entries[:i], entries[i+1:]...)
				return
			}
		}
	}
}

// Publish fans out evt to every subscriber of evt.Topic concurrently.
// It does not block on slow handlers beyond the ctx deadline they
// themselves observe, and never returns a subscriber's error — those
// are logged as warnings, matching the teacher's "subscriber errors
// don't stop other subscribers" discipline.
func (b *Bus) Publish(ctx context.Context, evt Event) {
	b.mu.RLock()
	entries := append([]subscription(nil), b.subscribers[evt.Topic]...)
	b.mu.RUnlock()

	if len(entries) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, s := range entries {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			if err := h(ctx, evt); err != nil && b.logger != nil {
				b.logger.Warn("event handler failed", "topic", evt.Topic, "error", err.Error())
			}
		}(s.handler)
	}
	wg.Wait()
}

// PublishAsync fans out evt without waiting for subscribers to finish,
// for call sites that must not block on notification delivery (e.g.
// a hot dispatch path emitting a metrics event).
func (b *Bus) PublishAsync(ctx context.Context, evt Event) {
	go b.Publish(ctx, evt)
}

// Once subscribes a handler that unsubscribes itself after its first
// invocation — useful for a one-shot OnReady-style hook.
func (b *Bus) Once(topic string, handler Handler) {
	var unsub func()
	unsub = b.Subscribe(topic, func(ctx context.Context, evt Event) error {
		unsub()
		return handler(ctx, evt)
	})
}

// SubscriberCount reports how many handlers are registered for topic,
// for tests and introspection.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}
