package routing

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rickfelix/EHG-Engineer-sub004/pkg/eventbus/store"
)

// ConfigKey is the config record holding the routing override table.
const ConfigKey = "event_bus.routing_overrides"

// DefaultCacheTTL is how long a loaded strategy is served before the
// config store is consulted again.
const DefaultCacheTTL = 30 * time.Second

// Strategy is the override table for classification.
type Strategy struct {
	// Overrides maps exact event types to a forced mode.
	Overrides map[string]Mode

	// PrefixRules maps event-type prefixes to a forced mode.
	// The longest matching prefix wins.
	PrefixRules map[string]Mode

	LoadedAt time.Time
	Source   string
}

// Classify resolves the routing mode for an event: exact override first,
// then the longest matching prefix rule, then the default classifier.
func (s *Strategy) Classify(eventType string, payload map[string]any) Mode {
	if s != nil {
		if mode, ok := s.Overrides[eventType]; ok {
			return mode
		}

		var best string
		var bestMode Mode
		for prefix, mode := range s.PrefixRules {
			if len(prefix) > len(best) && hasPrefix(eventType, prefix) {
				best = prefix
				bestMode = mode
			}
		}
		if best != "" {
			return bestMode
		}
	}
	return ClassifyMode(eventType, payload)
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// LoaderConfig configures a strategy Loader.
type LoaderConfig struct {
	// Store holds the routing override config record. Required.
	Store store.Store

	// TTL is the cache lifetime. Default: 30 seconds.
	TTL time.Duration

	// Logger for load failures. Default: slog.Default()
	Logger *slog.Logger
}

// Loader serves the routing strategy from the config store with a short
// TTL cache, falling back to the hardcoded classifier when the record is
// absent or unreadable.
type Loader struct {
	store  store.Store
	ttl    time.Duration
	logger *slog.Logger

	mu       sync.Mutex
	cached   *Strategy
	loadedAt time.Time
}

// NewLoader creates a strategy loader.
func NewLoader(cfg LoaderConfig) *Loader {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loader{
		store:  cfg.Store,
		ttl:    cfg.TTL,
		logger: cfg.Logger,
	}
}

// Strategy returns the current override table, reloading from the config
// store when the cache has expired. Load failures fall back to an empty
// strategy (hardcoded classification) without caching poison.
func (l *Loader) Strategy(ctx context.Context) *Strategy {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cached != nil && time.Since(l.loadedAt) < l.ttl {
		return l.cached
	}

	strategy, err := l.load(ctx)
	if err != nil {
		l.logger.Warn("routing strategy load failed, using default classifier",
			slog.String("config_key", ConfigKey),
			slog.String("error", err.Error()),
		)
		if l.cached != nil {
			return l.cached
		}
		return &Strategy{LoadedAt: time.Now(), Source: "default"}
	}

	l.cached = strategy
	l.loadedAt = time.Now()
	return strategy
}

// Classify resolves the routing mode for an event through the loaded
// strategy.
func (l *Loader) Classify(ctx context.Context, eventType string, payload map[string]any) Mode {
	return l.Strategy(ctx).Classify(eventType, payload)
}

// InvalidateCache forces the next Strategy call to reload from the store.
func (l *Loader) InvalidateCache() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cached = nil
	l.loadedAt = time.Time{}
}

// load reads and normalizes the override record. A missing record is the
// normal state and yields an empty strategy, cached like any other load.
// Invalid routing-mode values are dropped during normalization.
func (l *Loader) load(ctx context.Context) (*Strategy, error) {
	value, err := l.store.GetConfig(ctx, ConfigKey)
	if errors.Is(err, store.ErrNotFound) {
		return &Strategy{LoadedAt: time.Now(), Source: "default"}, nil
	}
	if err != nil {
		return nil, err
	}

	strategy := &Strategy{
		Overrides:   normalizeRules(value["overrides"], l.logger),
		PrefixRules: normalizeRules(value["prefixRules"], l.logger),
		LoadedAt:    time.Now(),
		Source:      ConfigKey,
	}
	return strategy, nil
}

func normalizeRules(raw any, logger *slog.Logger) map[string]Mode {
	rules := make(map[string]Mode)
	table, ok := raw.(map[string]any)
	if !ok {
		return rules
	}
	for key, value := range table {
		modeStr, ok := value.(string)
		if !ok {
			logger.Warn("dropping non-string routing rule", slog.String("key", key))
			continue
		}
		mode, valid := ParseMode(modeStr)
		if !valid {
			logger.Warn("dropping invalid routing mode",
				slog.String("key", key),
				slog.String("mode", modeStr),
			)
			continue
		}
		rules[key] = mode
	}
	return rules
}
