package integration

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published on the bus.
const (
	EventTaskStarted      = "task.started"
	EventTaskEnded        = "task.ended"
	EventTaskDispatched   = "task.dispatched"
	EventMonitorSuspended = "monitor.suspended"
	EventMonitorResumed   = "monitor.resumed"
	EventRefreshCompleted = "refresh.completed"
	EventRefreshFailed    = "refresh.failed"
	EventPortChanged      = "port.changed"
	EventConfigReloaded   = "config.reloaded"
	EventNotification     = "ui.notification"
)

// Event is a published notification.
type Event struct {
	Type    string    `json:"type"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload,omitempty"`
}

// EventBus is a thread-safe publish-subscribe hub.
//
// Event types follow a dot-notation hierarchy. Subscriptions may use an
// exact type, a prefix wildcard ("task.*") or "*" for everything.
// Handlers run synchronously on the publishing goroutine, in subscription
// order; a panicking handler does not stop the others.
type EventBus struct {
	mu     sync.RWMutex
	subs   []*subscription
	nextID atomic.Uint64
	closed atomic.Bool
}

type subscription struct {
	id      string
	pattern string
	handler func(Event)
}

// NewEventBus creates an event bus.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers handler for pattern and returns the handle that
// removes it. On a closed bus the handle is a no-op.
func (b *EventBus) Subscribe(pattern string, handler func(Event)) Disposable {
	if b.closed.Load() {
		return DisposeFunc(nil)
	}

	sub := &subscription{
		id:      strconv.FormatUint(b.nextID.Add(1), 10),
		pattern: pattern,
		handler: handler,
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return DisposeFunc(func() { b.unsubscribe(sub.id) })
}

func (b *EventBus) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers an event to all matching subscribers.
func (b *EventBus) Publish(eventType string, payload any) {
	if b.closed.Load() {
		return
	}

	ev := Event{Type: eventType, Time: time.Now(), Payload: payload}

	b.mu.RLock()
	var handlers []func(Event)
	for _, s := range b.subs {
		if matchPattern(s.pattern, eventType) {
			handlers = append(handlers, s.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() { _ = recover() }()
			h(ev)
		}()
	}
}

// SubscriptionCount returns the number of live subscriptions.
func (b *EventBus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close drops all subscriptions. Later Subscribe and Publish calls are no-ops.
func (b *EventBus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.mu.Lock()
	b.subs = nil
	b.mu.Unlock()
}

// matchPattern checks an event type against an exact or wildcard pattern.
func matchPattern(pattern, eventType string) bool {
	if pattern == "*" {
		return true
	}
	if len(pattern) < 2 || pattern[len(pattern)-2:] != ".*" {
		return pattern == eventType
	}

	prefix := pattern[:len(pattern)-2]
	return len(eventType) > len(prefix) &&
		eventType[:len(prefix)] == prefix &&
		eventType[len(prefix)] == '.'
}
