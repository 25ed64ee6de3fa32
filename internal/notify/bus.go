// Package notify provides non-durable change-notification fan-out. Waiters
// subscribe to a scope (a session id, or the global scope) and are woken on
// every publish; events are never buffered for subscribers that arrive later.
package notify

import (
	"sync"
	"time"
)

// ScopeGlobal receives every dashboard-facing event.
const ScopeGlobal = "global"

// Event names published by the hub.
const (
	EventSessionRegistered = "session.registered"
	EventSessionUpdated    = "session.updated"
	EventRequestCreated    = "request.created"
	EventRequestAnswered   = "request.answered"
	EventMessageEnqueued   = "message.enqueued"
	EventMessageAcked      = "message.acked"
)

// Event is one published notification.
type Event struct {
	Name    string            `json:"event"`
	Payload map[string]string `json:"payload,omitempty"`
	SentAt  time.Time         `json:"sent_at"`
}

// subscriberBuffer bounds how many undrained events a subscriber may hold;
// further publishes to that subscriber are dropped rather than blocking the
// publisher.
const subscriberBuffer = 16

// Bus fans events out to the current subscribers of each scope. Publishing
// never blocks and never fails; durability is the store's job, not the bus's.
type Bus struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe registers a waiter on the given scope. The returned cancel
// function must be called on every exit path, including cancellation, to
// release the subscription.
func (b *Bus) Subscribe(scope string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	set, ok := b.subs[scope]
	if !ok {
		set = make(map[chan Event]struct{})
		b.subs[scope] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if set, ok := b.subs[scope]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(b.subs, scope)
				}
			}
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish wakes every current subscriber of scope exactly once. Subscribers
// whose buffers are full miss the event; they re-check state on their next
// wakeup anyway.
func (b *Bus) Publish(scope string, ev Event) {
	if ev.SentAt.IsZero() {
		ev.SentAt = time.Now().UTC()
	}

	b.mu.Lock()
	channels := make([]chan Event, 0, len(b.subs[scope]))
	for ch := range b.subs[scope] {
		channels = append(channels, ch)
	}
	b.mu.Unlock()

	for _, ch := range channels {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers reports the current number of waiters on scope.
func (b *Bus) Subscribers(scope string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[scope])
}
