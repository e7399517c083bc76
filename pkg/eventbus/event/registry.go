package event

import (
	"fmt"
	"sync"
	"time"
)

// HandlerEntry stores a registered handler with its delivery settings.
type HandlerEntry struct {
	EventType    string
	Fn           HandlerFunc
	Name         string
	Retryable    bool
	MaxRetries   int
	RegisteredAt time.Time
}

// registerConfig collects registration options before the entry is built.
type registerConfig struct {
	name       string
	retryable  bool
	maxRetries int
	singleton  bool
}

// RegisterOption configures handler registration.
type RegisterOption func(*registerConfig)

// WithName sets the handler name used in ledger and DLQ records.
// Unnamed handlers get "<type>#<index>".
func WithName(name string) RegisterOption {
	return func(cfg *registerConfig) {
		cfg.name = name
	}
}

// WithRetryable controls whether failures are retried. Default: true.
func WithRetryable(retryable bool) RegisterOption {
	return func(cfg *registerConfig) {
		cfg.retryable = retryable
	}
}

// WithMaxRetries caps the retry attempts for this handler. The effective
// ceiling is the minimum of this value and the dispatch-level maximum.
// Default: 3.
func WithMaxRetries(n int) RegisterOption {
	return func(cfg *registerConfig) {
		cfg.maxRetries = n
	}
}

// AsSingleton replaces the entire handler list for the event type instead
// of appending (single-owner pattern).
func AsSingleton() RegisterOption {
	return func(cfg *registerConfig) {
		cfg.singleton = true
	}
}

// Registry is an ordered table of event type to handlers.
//
// Each NewRegistry call returns an isolated table: independent instances
// never share storage, so concurrent callers cannot cross-contaminate
// registrations. A process-wide convenience instance is available via
// Default(), but it must not be shared across isolated workers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]HandlerEntry
}

// NewRegistry creates an isolated handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string][]HandlerEntry),
	}
}

// Register adds a handler for an event type. The default mode appends to
// an ordered list (fan-out to multiple subscribers); AsSingleton replaces
// the list.
func (r *Registry) Register(eventType string, fn HandlerFunc, opts ...RegisterOption) HandlerEntry {
	cfg := registerConfig{
		retryable:  true,
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cfg.singleton {
		r.handlers[eventType] = nil
	}
	if cfg.name == "" {
		cfg.name = fmt.Sprintf("%s#%d", eventType, len(r.handlers[eventType]))
	}

	entry := HandlerEntry{
		EventType:    eventType,
		Fn:           fn,
		Name:         cfg.name,
		Retryable:    cfg.retryable,
		MaxRetries:   cfg.maxRetries,
		RegisteredAt: time.Now(),
	}
	r.handlers[eventType] = append(r.handlers[eventType], entry)
	return entry
}

// Handler returns the first registered handler for the event type.
func (r *Registry) Handler(eventType string) (HandlerEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.handlers[eventType]
	if len(entries) == 0 {
		return HandlerEntry{}, false
	}
	return entries[0], true
}

// Handlers returns the full ordered handler list for the event type.
func (r *Registry) Handlers(eventType string) []HandlerEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.handlers[eventType]
	result := make([]HandlerEntry, len(entries))
	copy(result, entries)
	return result
}

// Types returns all event types with at least one registered handler.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		if len(r.handlers[t]) > 0 {
			types = append(types, t)
		}
	}
	return types
}

// defaultRegistry is the process-wide convenience instance.
var defaultRegistry = NewRegistry()

// Default returns the process-wide registry. It is a convenience for
// simple single-process callers and is not safe to share across isolated
// workers; prefer constructing registries explicitly.
func Default() *Registry {
	return defaultRegistry
}
