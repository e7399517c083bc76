package config

import (
	"log/slog"
	"strings"
	"time"
)

// Bus setting defaults.
const (
	DefaultStorePath     = "eventbus.db"
	DefaultMaxRetries    = 3
	DefaultBaseDelay     = 250 * time.Millisecond
	DefaultMultiplier    = 2.0
	DefaultRoutingTTL    = 30 * time.Second
	DefaultBreakerLimit  = 3
	DefaultBreakerWindow = 60 * time.Minute
	DefaultLogLevel      = slog.LevelInfo
)

// BusConfig holds the resolved event-bus settings.
type BusConfig struct {
	// StorePath is the SQLite file path, or ":memory:" for an in-memory
	// database.
	StorePath string

	// MaxRetries caps total delivery attempts per handler.
	MaxRetries int

	// BaseDelay is the first retry backoff interval.
	BaseDelay time.Duration

	// Multiplier grows the backoff interval per attempt.
	Multiplier float64

	// RoutingTTL is the routing-strategy cache lifetime.
	RoutingTTL time.Duration

	// BreakerThreshold is the consecutive failure count that opens a
	// circuit.
	BreakerThreshold int

	// BreakerWindow is how long an open circuit rejects calls.
	BreakerWindow time.Duration

	// LogLevel is the slog level for the process logger.
	LogLevel slog.Level
}

// DefaultBus returns the default bus settings.
func DefaultBus() BusConfig {
	return BusConfig{
		StorePath:        DefaultStorePath,
		MaxRetries:       DefaultMaxRetries,
		BaseDelay:        DefaultBaseDelay,
		Multiplier:       DefaultMultiplier,
		RoutingTTL:       DefaultRoutingTTL,
		BreakerThreshold: DefaultBreakerLimit,
		BreakerWindow:    DefaultBreakerWindow,
		LogLevel:         DefaultLogLevel,
	}
}

// Bus resolves the event-bus settings from a loaded Config, applying
// defaults for missing keys. Recognized keys live under "event_bus".
func Bus(c Config) BusConfig {
	section := New(c.Map("event_bus"))
	cfg := DefaultBus()

	cfg.StorePath = section.String("store_path", cfg.StorePath)
	cfg.MaxRetries = section.Int("max_retries", cfg.MaxRetries)
	cfg.BaseDelay = time.Duration(section.Int("base_delay_ms", int(cfg.BaseDelay/time.Millisecond))) * time.Millisecond
	cfg.Multiplier = section.Float("multiplier", cfg.Multiplier)
	cfg.RoutingTTL = section.Duration("routing_ttl", cfg.RoutingTTL)
	cfg.BreakerThreshold = section.Int("breaker_threshold", cfg.BreakerThreshold)
	cfg.BreakerWindow = section.Duration("breaker_window", cfg.BreakerWindow)
	cfg.LogLevel = parseLevel(section.String("log_level", ""), cfg.LogLevel)
	return cfg
}

// parseLevel maps a level name to a slog level.
func parseLevel(s string, defaultVal slog.Level) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return defaultVal
}
