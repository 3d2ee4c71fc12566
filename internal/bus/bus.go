package bus

import (
	"sync"

	"github.com/hearthhub/hearth-core/internal/core"
)

// Logger defines the logging interface used by the Bus.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Listener is invoked with each event delivered to a subscription.
type Listener func(*core.Event)

// Unsubscribe removes a subscription. Calling it more than once is a
// no-op.
type Unsubscribe func()

// listenerEntry pairs a listener with a stable id so unsubscription
// survives slice reshuffles.
type listenerEntry struct {
	id uint64
	fn Listener
}

// Bus is the in-process publish/subscribe broker.
//
// A mapping from event type to an ordered listener list plus a separate
// match-all list; Fire snapshots both under a short lock and invokes the
// snapshot without holding it, so reentrant subscribe/unsubscribe during
// delivery is safe.
type Bus struct {
	mu        sync.Mutex
	listeners map[string][]listenerEntry
	matchAll  []listenerEntry
	nextID    uint64

	// queue holds fired events awaiting broadcast. One goroutine drains
	// at a time; a Fire call arriving while a drain is active (including
	// a reentrant Fire from a listener) enqueues and returns.
	queueMu    sync.Mutex
	queue      []*core.Event
	delivering bool

	logger Logger
}

// New creates an empty event bus.
func New() *Bus {
	return &Bus{
		listeners: make(map[string][]listenerEntry),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the bus.
func (b *Bus) SetLogger(logger Logger) {
	b.logger = logger
}

// Subscribe registers a listener for the given event type.
// core.EventTypeMatchAll subscribes to every event. The returned handle
// atomically deregisters the listener.
func (b *Bus) Subscribe(eventType string, listener Listener) Unsubscribe {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	entry := listenerEntry{id: b.nextID, fn: listener}

	if eventType == core.EventTypeMatchAll {
		b.matchAll = append(b.matchAll, entry)
	} else {
		b.listeners[eventType] = append(b.listeners[eventType], entry)
	}

	id := entry.id
	var once sync.Once
	return func() {
		once.Do(func() {
			b.remove(eventType, id)
		})
	}
}

// SubscribeOnce registers a listener that deregisters itself after the
// first matching delivery. The id is allocated before the entry is
// registered, so a delivery racing the registration never observes a
// half-built subscription; the shared once arbitrates between first
// delivery and manual unsubscription.
func (b *Bus) SubscribeOnce(eventType string, listener Listener) Unsubscribe {
	b.mu.Lock()
	b.nextID++
	id := b.nextID

	var once sync.Once
	entry := listenerEntry{id: id, fn: func(e *core.Event) {
		first := false
		once.Do(func() { first = true })
		if !first {
			return
		}
		b.remove(eventType, id)
		listener(e)
	}}

	if eventType == core.EventTypeMatchAll {
		b.matchAll = append(b.matchAll, entry)
	} else {
		b.listeners[eventType] = append(b.listeners[eventType], entry)
	}
	b.mu.Unlock()

	return func() {
		once.Do(func() {
			b.remove(eventType, id)
		})
	}
}

// Fire enqueues an event for broadcast to all current subscribers of its
// type and to match-all subscribers, in subscription order.
//
// Events are delivered in fire order. When no delivery is in progress the
// calling goroutine drains the queue itself, so in the common case Fire
// returns after all listeners have run. A Fire issued from inside a
// listener enqueues and returns; the outer drain delivers it next. This
// keeps the state → trigger → script → service → state loop free of
// deadlock.
//
// A listener that panics is logged and skipped; later listeners still
// observe the event.
func (b *Bus) Fire(event *core.Event) {
	b.queueMu.Lock()
	b.queue = append(b.queue, event)
	if b.delivering {
		b.queueMu.Unlock()
		return
	}
	b.delivering = true

	for len(b.queue) > 0 {
		next := b.queue[0]
		b.queue = b.queue[1:]
		b.queueMu.Unlock()

		b.deliver(next)

		b.queueMu.Lock()
	}
	b.delivering = false
	b.queueMu.Unlock()
}

// deliver broadcasts one event to a snapshot of the current listeners.
func (b *Bus) deliver(event *core.Event) {
	b.mu.Lock()
	typed := make([]listenerEntry, len(b.listeners[event.Type]))
	copy(typed, b.listeners[event.Type])
	all := make([]listenerEntry, len(b.matchAll))
	copy(all, b.matchAll)
	b.mu.Unlock()

	b.logger.Debug("delivering event", "event_type", event.Type, "listeners", len(typed)+len(all))

	for _, entry := range typed {
		b.invoke(entry, event)
	}
	for _, entry := range all {
		b.invoke(entry, event)
	}
}

// invoke runs one listener, isolating panics.
func (b *Bus) invoke(entry listenerEntry, event *core.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event listener panicked",
				"event_type", event.Type,
				"context_id", event.Context.ID,
				"panic", r,
			)
		}
	}()
	entry.fn(event)
}

// ListenerCount returns the number of event-type slots with at least one
// subscriber. The match-all list counts as one slot when non-empty.
func (b *Bus) ListenerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	count := 0
	for _, entries := range b.listeners {
		if len(entries) > 0 {
			count++
		}
	}
	if len(b.matchAll) > 0 {
		count++
	}
	return count
}

// remove deletes the listener with the given id from its slot.
func (b *Bus) remove(eventType string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if eventType == core.EventTypeMatchAll {
		b.matchAll = removeEntry(b.matchAll, id)
		return
	}

	entries := removeEntry(b.listeners[eventType], id)
	if len(entries) == 0 {
		delete(b.listeners, eventType)
	} else {
		b.listeners[eventType] = entries
	}
}

func removeEntry(entries []listenerEntry, id uint64) []listenerEntry {
	for i, e := range entries {
		if e.id == id {
			return append(entries[:i:i], entries[i+1:]...)
		}
	}
	return entries
}
