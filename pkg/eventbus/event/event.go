// Package event defines the unit of work routed by the bus and the
// handler contract consumers register against it.
//
// Events are immutable once created. Handlers receive the payload plus a
// Context carrying the store handle, the resolved venture identifier, and
// the shared circuit breaker for gating calls to external dependencies.
package event

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rickfelix/EHG-Engineer-sub004/pkg/eventbus/breaker"
	"github.com/rickfelix/EHG-Engineer-sub004/pkg/eventbus/store"
)

// Event is a unit of work to route.
type Event struct {
	// ID uniquely identifies the event. Auto-generated when empty.
	ID string

	// Type is the event type (e.g., "stage.completed", "gate.evaluated").
	Type string

	// Payload is the structured event body.
	Payload map[string]any

	// CorrelationID groups related events across services.
	CorrelationID string

	// Source identifies the producing subsystem.
	Source string

	// CreatedAt is when the event occurred.
	CreatedAt time.Time
}

// Option configures event creation.
type Option func(*Event)

// WithID sets a specific event ID (default: auto-generated UUID).
func WithID(id string) Option {
	return func(e *Event) {
		e.ID = id
	}
}

// WithCorrelationID sets the correlation ID.
func WithCorrelationID(id string) Option {
	return func(e *Event) {
		e.CorrelationID = id
	}
}

// WithSource sets the producing subsystem.
func WithSource(source string) Option {
	return func(e *Event) {
		e.Source = source
	}
}

// WithCreatedAt sets a specific timestamp (default: time.Now()).
func WithCreatedAt(t time.Time) Option {
	return func(e *Event) {
		e.CreatedAt = t
	}
}

// New creates a new event with the given type and payload.
func New(eventType string, payload map[string]any, opts ...Option) Event {
	evt := Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(&evt)
	}
	return evt
}

// Context supplies handlers with the persistence substrate and resolved
// identifiers for the event being processed.
type Context struct {
	// Store is the ledger store handle.
	Store store.Store

	// Breaker gates calls to external dependencies. May be nil when the
	// router was built without one.
	Breaker *breaker.Breaker

	// EventID is the ID of the event being processed.
	EventID string

	// VentureID is resolved from the payload (ventureId) when present,
	// falling back to the event's correlation ID.
	VentureID string

	// CorrelationID is the event's correlation ID.
	CorrelationID string
}

// HandlerFunc processes an event payload. Returning an error signals
// failure; the error's category decides retry behavior.
type HandlerFunc func(ctx context.Context, payload map[string]any, hctx *Context) error
