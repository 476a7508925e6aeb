// ABOUTME: Synchronous in-process event bus for message lifecycle events
// ABOUTME: Listeners run in registration order; failures are recovered and logged per listener

package events

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/2389/solipcord/internal/metrics"
	"github.com/2389/solipcord/internal/store"
)

// Unsubscribe removes a listener. Calling it more than once is a no-op.
type Unsubscribe func()

type listener struct {
	id uint64
	fn func(Event)
}

// Bus fans message lifecycle events out to in-process listeners.
//
// Emission is synchronous: every Emit call returns after all listeners for
// the general name, then all listeners for the DM- or Group-specific name,
// have run in registration order. A listener that panics or returns an error
// is logged and skipped; it never reaches the emitter or other listeners.
// Listeners that do slow work must hand it off to their own goroutine.
type Bus struct {
	mu        sync.RWMutex
	listeners map[Name][]listener
	nextID    uint64
	logger    *slog.Logger
}

// NewBus creates an event bus. Pass nil logger for default.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		listeners: make(map[Name][]listener),
		logger:    logger.With("component", "event-bus"),
	}
}

// EmitCreated notifies message:created listeners, then dm:/group:message:created listeners.
func (b *Bus) EmitCreated(e Created) { b.emit(e) }

// EmitUpdated notifies message:updated listeners, then the kind-specific ones.
func (b *Bus) EmitUpdated(e Updated) { b.emit(e) }

// EmitDeleted notifies message:deleted listeners, then the kind-specific ones.
func (b *Bus) EmitDeleted(e Deleted) { b.emit(e) }

func (b *Bus) emit(e Event) {
	general, specific := e.Names()
	metrics.EventsEmitted.WithLabelValues(string(general)).Inc()

	b.dispatch(general, e)
	b.dispatch(specific, e)
}

func (b *Bus) dispatch(name Name, e Event) {
	b.mu.RLock()
	targets := slices.Clone(b.listeners[name])
	b.mu.RUnlock()

	for _, l := range targets {
		b.invoke(name, l, e)
	}
}

func (b *Bus) invoke(name Name, l listener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ListenerFailures.WithLabelValues(string(name)).Inc()
			b.logger.Error("event listener panicked",
				"event", name,
				"channel", e.ConversationRef().Channel(),
				"panic", fmt.Sprint(r))
		}
	}()
	l.fn(e)
}

// On registers a listener for any event name.
func (b *Bus) On(name Name, fn func(Event)) Unsubscribe {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners[name] = append(b.listeners[name], listener{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(name, id) })
	}
}

func (b *Bus) remove(name Name, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.listeners[name] = slices.DeleteFunc(b.listeners[name], func(l listener) bool {
		return l.id == id
	})
	if len(b.listeners[name]) == 0 {
		delete(b.listeners, name)
	}
}

// OnCreated listens for created events in every conversation.
func (b *Bus) OnCreated(fn func(Created)) Unsubscribe {
	return b.On(MessageCreated, func(e Event) { fn(e.(Created)) })
}

// OnUpdated listens for updated events in every conversation.
func (b *Bus) OnUpdated(fn func(Updated)) Unsubscribe {
	return b.On(MessageUpdated, func(e Event) { fn(e.(Updated)) })
}

// OnDeleted listens for deleted events in every conversation.
func (b *Bus) OnDeleted(fn func(Deleted)) Unsubscribe {
	return b.On(MessageDeleted, func(e Event) { fn(e.(Deleted)) })
}

// OnDMCreated listens for created events in direct conversations only.
func (b *Bus) OnDMCreated(fn func(Created)) Unsubscribe {
	return b.On(DMMessageCreated, func(e Event) { fn(e.(Created)) })
}

// OnGroupCreated listens for created events in group conversations only.
func (b *Bus) OnGroupCreated(fn func(Created)) Unsubscribe {
	return b.On(GroupMessageCreated, func(e Event) { fn(e.(Created)) })
}

// OnConversationCreated listens for created events in one conversation.
// An error returned by fn is logged, never propagated to the emitter.
func (b *Bus) OnConversationCreated(ref store.ConversationRef, fn func(Created) error) Unsubscribe {
	name := GroupMessageCreated
	if ref.Kind == store.KindDM {
		name = DMMessageCreated
	}

	return b.On(name, func(e Event) {
		created := e.(Created)
		if created.ConversationRef() != ref {
			return
		}
		if err := fn(created); err != nil {
			metrics.ListenerFailures.WithLabelValues(string(name)).Inc()
			b.logger.Error("conversation listener failed",
				"channel", ref.Channel(),
				"message_id", created.Message.ID,
				"error", err)
		}
	})
}

// ListenerCount returns the number of listeners registered for name.
func (b *Bus) ListenerCount(name Name) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[name])
}
