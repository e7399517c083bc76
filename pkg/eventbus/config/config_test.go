package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickfelix/EHG-Engineer-sub004/pkg/eventbus/config"
)

// TestAccessors verifies typed extraction with defaults.
func TestAccessors(t *testing.T) {
	cfg := config.New(map[string]any{
		"name":    "bus",
		"retries": 5,
		"ratio":   2.5,
		"enabled": true,
		"window":  "90s",
		"nested":  map[string]any{"key": "value"},
	})

	assert.Equal(t, "bus", cfg.String("name", "fallback"))
	assert.Equal(t, "fallback", cfg.String("missing", "fallback"))
	assert.Equal(t, "fallback", cfg.String("retries", "fallback")) // wrong type

	assert.Equal(t, 5, cfg.Int("retries", 1))
	assert.Equal(t, 1, cfg.Int("ratio", 1)) // fractional float rejected

	assert.Equal(t, 2.5, cfg.Float("ratio", 0))
	assert.True(t, cfg.Bool("enabled", false))
	assert.Equal(t, 90*time.Second, cfg.Duration("window", time.Minute))
	assert.Equal(t, time.Minute, cfg.Duration("missing", time.Minute))
	assert.Equal(t, "value", cfg.Map("nested")["key"])
	assert.Nil(t, cfg.Map("name"))
}

// TestDurationFromNumber verifies numeric durations read as seconds.
func TestDurationFromNumber(t *testing.T) {
	cfg := config.New(map[string]any{"window": 30})
	assert.Equal(t, 30*time.Second, cfg.Duration("window", 0))
}

// TestFromYAMLFile verifies file loading and bus-section resolution.
func TestFromYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
event_bus:
  store_path: /var/lib/bus.db
  max_retries: 5
  base_delay_ms: 100
  multiplier: 1.5
  routing_ttl: 10s
  breaker_threshold: 2
  breaker_window: 30m
  log_level: debug
`), 0o600))

	loaded, err := config.FromFile(path)
	require.NoError(t, err)

	cfg := config.Bus(loaded)
	assert.Equal(t, "/var/lib/bus.db", cfg.StorePath)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.BaseDelay)
	assert.Equal(t, 1.5, cfg.Multiplier)
	assert.Equal(t, 10*time.Second, cfg.RoutingTTL)
	assert.Equal(t, 2, cfg.BreakerThreshold)
	assert.Equal(t, 30*time.Minute, cfg.BreakerWindow)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

// TestBusDefaults verifies every key falls back when absent.
func TestBusDefaults(t *testing.T) {
	cfg := config.Bus(config.New(nil))
	assert.Equal(t, config.DefaultBus(), cfg)
}

// TestFromJSON verifies JSON parsing.
func TestFromJSON(t *testing.T) {
	loaded, err := config.FromJSON([]byte(`{"event_bus": {"max_retries": 7}}`))
	require.NoError(t, err)
	assert.Equal(t, 7, config.Bus(loaded).MaxRetries)
}

// TestBusFromFile verifies one-call bus resolution from a file path.
func TestBusFromFile(t *testing.T) {
	cfg, err := config.BusFromFile("")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultBus(), cfg)

	path := filepath.Join(t.TempDir(), "bus.yaml")
	require.NoError(t, os.WriteFile(path, []byte("event_bus:\n  max_retries: 9\n"), 0o600))
	cfg, err = config.BusFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.MaxRetries)

	_, err = config.BusFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

// TestUnsupportedExtension verifies format detection guards.
func TestUnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bus.toml")
	require.NoError(t, os.WriteFile(path, []byte("x = 1"), 0o600))
	_, err := config.FromFile(path)
	assert.Error(t, err)
}
