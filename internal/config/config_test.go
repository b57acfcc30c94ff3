package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 30, cfg.Pattern.RetentionDays)
	assert.Equal(t, 5*time.Minute, cfg.Chain.Window)
	assert.Equal(t, 21*24*time.Hour, cfg.Conflict.DecayHalfLife)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Sync.RealtimeTimeout)
	assert.True(t, cfg.Knowledge.Enabled)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "no-such-config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
log_level: debug
retry:
  max_attempts: 5
conflict:
  high_risk_threshold: 0.7
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 0.7, cfg.Conflict.HighRiskThreshold)
	// Untouched sections keep their defaults.
	assert.Equal(t, 30, cfg.Pattern.RetentionDays)
	assert.Equal(t, 0.5, cfg.Retry.MinFallbackQuality)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retry: [not a map"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retry:\n  max_attempts: 0\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_attempts")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		substr string
	}{
		{"zero retention", func(c *Config) { c.Pattern.RetentionDays = 0 }, "retention_days"},
		{"zero tag slots", func(c *Config) { c.Pattern.MaxTagSlots = 0 }, "max_tag_slots"},
		{"overrun too low", func(c *Config) { c.Executor.OverrunMultiplier = 1.0 }, "overrun_multiplier"},
		{"safety factor zero", func(c *Config) { c.Executor.SafetyFactor = 0 }, "safety_factor"},
		{"quality above one", func(c *Config) { c.Retry.MinFallbackQuality = 1.5 }, "min_fallback_quality"},
		{"inverted risk thresholds", func(c *Config) { c.Conflict.HighRiskThreshold = 0.2 }, "high_risk_threshold"},
		{"zero queue", func(c *Config) { c.Sync.QueueCapacity = 0 }, "queue_capacity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.substr)
		})
	}
}
