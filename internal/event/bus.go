package event

import (
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Handler is a function that handles an event.
type Handler func(Event)

// subscription is one registered handler.
type subscription struct {
	id      string
	handler Handler
}

// Bus is a synchronous pub-sub event bus. Handlers for a published event
// run on the publisher's goroutine, in registration order.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]subscription // event type -> subscriptions
	nextID atomic.Uint64
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]subscription)}
}

// Subscribe registers a handler for a specific event type and returns a
// subscription ID for Unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := fmt.Sprintf("sub-%d", b.nextID.Add(1))
	b.subs[eventType] = append(b.subs[eventType], subscription{id: id, handler: handler})
	return id
}

// SubscribeAll registers a handler that receives every published event.
func (b *Bus) SubscribeAll(handler Handler) string {
	return b.Subscribe("*", handler)
}

// Unsubscribe removes a subscription by ID. Returns false if the ID is
// unknown (already removed or never issued).
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subs {
		for i, sub := range subs {
			if sub.id == id {
				b.subs[eventType] = append(subs[:i], subs[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Publish dispatches an event to all handlers registered for its type, then
// to wildcard handlers. A panicking handler is recovered and logged; delivery
// continues with the remaining handlers.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	specific := make([]subscription, len(b.subs[event.EventType()]))
	copy(specific, b.subs[event.EventType()])
	wildcard := make([]subscription, len(b.subs["*"]))
	copy(wildcard, b.subs["*"])
	b.mu.RUnlock()

	for _, sub := range specific {
		b.safeCall(sub.handler, event)
	}
	for _, sub := range wildcard {
		b.safeCall(sub.handler, event)
	}
}

// safeCall invokes a handler and recovers from panics so one misbehaving
// subscriber cannot block delivery to the rest.
func (b *Bus) safeCall(handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: event handler panicked for %s: %v\n%s",
				event.EventType(), r, debug.Stack())
		}
	}()
	handler(event)
}

// Clear removes all subscriptions.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string][]subscription)
}

// SubscriptionCount returns the total number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, subs := range b.subs {
		count += len(subs)
	}
	return count
}
