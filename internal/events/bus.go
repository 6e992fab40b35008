// Package events carries support lifecycle events to in-process subscribers
// and to the external record stream.
package events

import (
	"context"
	"sync"

	"github.com/soyeahso/helpdesk/internal/domain"
	"github.com/soyeahso/helpdesk/internal/logging"
)

// Event names.
const (
	EventMessageReceived   = "message.received"
	EventMessageClassified = "message.classified"
	EventToolCalled        = "tool.called"
	EventRunEscalated      = "run.escalated"
	EventRunCompleted      = "run.completed"
	EventEscalationCreated = "escalation.created"
	EventEscalationUpdated = "escalation.updated"
	EventServerStart       = "server.start"
	EventServerStop        = "server.stop"
)

// AllEvents lists all known event names.
var AllEvents = []string{
	EventMessageReceived,
	EventMessageClassified,
	EventToolCalled,
	EventRunEscalated,
	EventRunCompleted,
	EventEscalationCreated,
	EventEscalationUpdated,
	EventServerStart,
	EventServerStop,
}

// Payload carries event data to handlers. Interaction and Escalation are set
// for the run and escalation events; Data holds small scalar fields.
type Payload struct {
	Event       string                    `json:"event"`
	Interaction *domain.InteractionRecord `json:"interaction,omitempty"`
	Escalation  *domain.EscalationRecord  `json:"escalation,omitempty"`
	Data        map[string]any            `json:"data,omitempty"`
}

// Handler handles an event. Returning an error logs the failure but does not
// stop other handlers.
type Handler func(ctx context.Context, p Payload) error

// Bus manages handler registrations and dispatches events. A nil *Bus is a
// valid no-op bus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	log      *logging.Logger

	inflight sync.WaitGroup
}

type namedHandler struct {
	name    string
	handler Handler
}

// NewBus creates an event bus.
func NewBus(log *logging.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]namedHandler),
		log:      log.Sub("events"),
	}
}

// On registers a handler for the given event.
// The name identifies the handler for logging and removal.
func (b *Bus) On(event, name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[event] = append(b.handlers[event], namedHandler{name: name, handler: handler})
	b.log.Debug().Str("event", event).Str("handler", name).Msg("handler registered")
}

// Off removes all handlers with the given name from the event.
func (b *Bus) Off(event, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	handlers := b.handlers[event]
	filtered := make([]namedHandler, 0, len(handlers))
	for _, h := range handlers {
		if h.name != name {
			filtered = append(filtered, h)
		}
	}
	b.handlers[event] = filtered
}

func (b *Bus) snapshot(event string) []namedHandler {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	handlers := make([]namedHandler, len(b.handlers[event]))
	copy(handlers, b.handlers[event])
	return handlers
}

// Emit dispatches p to all handlers of p.Event synchronously, in registration
// order. Errors are logged and do not prevent later handlers from running.
func (b *Bus) Emit(ctx context.Context, p Payload) {
	for _, h := range b.snapshot(p.Event) {
		if err := h.handler(ctx, p); err != nil {
			b.log.Warn().
				Err(err).
				Str("event", p.Event).
				Str("handler", h.name).
				Msg("event handler error")
		}
	}
}

// EmitAsync dispatches p to all handlers concurrently and returns at once.
// Handlers receive a context detached from ctx's cancellation. Wait blocks
// until they finish.
func (b *Bus) EmitAsync(ctx context.Context, p Payload) {
	handlers := b.snapshot(p.Event)
	if len(handlers) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)

	b.inflight.Add(len(handlers))
	for _, h := range handlers {
		go func(h namedHandler) {
			defer b.inflight.Done()
			if err := h.handler(ctx, p); err != nil {
				b.log.Warn().
					Err(err).
					Str("event", p.Event).
					Str("handler", h.name).
					Msg("async event handler error")
			}
		}(h)
	}
}

// Wait blocks until every handler started by EmitAsync has returned. Call
// it before closing what the handlers write to.
func (b *Bus) Wait() {
	if b == nil {
		return
	}
	b.inflight.Wait()
}

// Count returns the number of handlers registered for an event.
func (b *Bus) Count(event string) int {
	return len(b.snapshot(event))
}

// Events returns the events that have at least one handler registered.
func (b *Bus) Events() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := make([]string, 0, len(b.handlers))
	for event, handlers := range b.handlers {
		if len(handlers) > 0 {
			events = append(events, event)
		}
	}
	return events
}
