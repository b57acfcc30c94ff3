// Package config defines the typed configuration surfaces for the
// Helmsman engine. Every field has an explicit default; Load tolerates a
// missing file and returns defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PatternConfig controls the pattern store and similarity index.
type PatternConfig struct {
	// RetentionDays is how long execution patterns and failures are kept
	// before pruning.
	RetentionDays int `yaml:"retention_days"`

	// MaxTagSlots caps the multi-hot tag vocabulary in feature vectors.
	MaxTagSlots int `yaml:"max_tag_slots"`

	// DefaultLimit is the default number of similar patterns returned.
	DefaultLimit int `yaml:"default_limit"`

	// RebuildDepthFactor triggers an index rebuild when tree depth
	// exceeds this multiple of the balanced depth.
	RebuildDepthFactor float64 `yaml:"rebuild_depth_factor"`
}

// ChainConfig controls failure chain detection.
type ChainConfig struct {
	// Window is the sliding time window within which failures can be
	// linked into a chain.
	Window time.Duration `yaml:"window"`
}

// ConfidenceConfig controls the Bayesian confidence engine.
type ConfidenceConfig struct {
	// CalibrationWindow is how many recent calibration points feed the
	// calibration curve.
	CalibrationWindow int `yaml:"calibration_window"`

	// RebuildThreshold is how many buffered points trigger a curve
	// rebuild.
	RebuildThreshold int `yaml:"rebuild_threshold"`

	// LowConfidenceWarn emits a warning below this confidence.
	LowConfidenceWarn float64 `yaml:"low_confidence_warn"`

	// HighUncertaintyWarn emits a warning above this uncertainty.
	HighUncertaintyWarn float64 `yaml:"high_uncertainty_warn"`

	// CalibrationQualityWarn emits a warning below this quality score.
	CalibrationQualityWarn float64 `yaml:"calibration_quality_warn"`

	// MinHistoryWarn emits a warning when history is smaller than this.
	MinHistoryWarn int `yaml:"min_history_warn"`
}

// ConflictConfig controls the predictive conflict detector.
type ConflictConfig struct {
	// DecayHalfLife is the half-life for learned conflict probability.
	DecayHalfLife time.Duration `yaml:"decay_half_life"`

	// MediumRiskThreshold buckets pair risk at or above as medium.
	MediumRiskThreshold float64 `yaml:"medium_risk_threshold"`

	// HighRiskThreshold buckets pair risk at or above as high.
	HighRiskThreshold float64 `yaml:"high_risk_threshold"`
}

// ExecutorConfig controls the adaptive executor state machine.
type ExecutorConfig struct {
	// OverrunMultiplier moves the executor to adapting when actual
	// resource usage exceeds the estimate by this factor.
	OverrunMultiplier float64 `yaml:"overrun_multiplier"`

	// SafetyFactor bounds total agent invocations at this multiple of
	// the original plan length before forcing the failed state.
	SafetyFactor int `yaml:"safety_factor"`

	// StrategyCachePerKey caps learned recovery strategies kept per
	// (agent, category) key, ranked by confidence.
	StrategyCachePerKey int `yaml:"strategy_cache_per_key"`
}

// RetryConfig controls the retry orchestrator.
type RetryConfig struct {
	// MaxAttempts bounds sequential fallback attempts per task.
	MaxAttempts int `yaml:"max_attempts"`

	// MinFallbackQuality is the minimum score a fallback agent must meet
	// after the first attempt.
	MinFallbackQuality float64 `yaml:"min_fallback_quality"`

	// AttemptTimeout bounds each individual task attempt.
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`

	// LearnFromFailure persists failures for future avoidance.
	LearnFromFailure bool `yaml:"learn_from_failure"`
}

// SyncConfig controls hybrid sync persistence.
type SyncConfig struct {
	// RealtimeTimeout is the deadline for the synchronous write attempt.
	RealtimeTimeout time.Duration `yaml:"realtime_timeout"`

	// FlushInterval is the async queue's batched flush period.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// MaxRetries caps backoff retries per queued write.
	MaxRetries int `yaml:"max_retries"`

	// BackoffBase is the initial retry backoff, doubled per attempt.
	BackoffBase time.Duration `yaml:"backoff_base"`

	// QueueCapacity bounds the async queue; the oldest entry is dropped
	// when full.
	QueueCapacity int `yaml:"queue_capacity"`
}

// KnowledgeConfig controls the durable knowledge store.
type KnowledgeConfig struct {
	// Enabled toggles durable persistence. The engine runs in-memory
	// only when disabled.
	Enabled bool `yaml:"enabled"`

	// DBPath is the sqlite database path.
	DBPath string `yaml:"db_path"`
}

// Config is the root configuration for the engine.
type Config struct {
	LogLevel   string           `yaml:"log_level"`
	Pattern    PatternConfig    `yaml:"pattern"`
	Chain      ChainConfig      `yaml:"chain"`
	Confidence ConfidenceConfig `yaml:"confidence"`
	Conflict   ConflictConfig   `yaml:"conflict"`
	Executor   ExecutorConfig   `yaml:"executor"`
	Retry      RetryConfig      `yaml:"retry"`
	Sync       SyncConfig       `yaml:"sync"`
	Knowledge  KnowledgeConfig  `yaml:"knowledge"`
}

// DefaultConfig returns a Config with every field defaulted explicitly.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Pattern: PatternConfig{
			RetentionDays:      30,
			MaxTagSlots:        24,
			DefaultLimit:       5,
			RebuildDepthFactor: 2.0,
		},
		Chain: ChainConfig{
			Window: 5 * time.Minute,
		},
		Confidence: ConfidenceConfig{
			CalibrationWindow:      500,
			RebuildThreshold:       10,
			LowConfidenceWarn:      0.3,
			HighUncertaintyWarn:    0.3,
			CalibrationQualityWarn: 0.7,
			MinHistoryWarn:         10,
		},
		Conflict: ConflictConfig{
			DecayHalfLife:       21 * 24 * time.Hour,
			MediumRiskThreshold: 0.3,
			HighRiskThreshold:   0.6,
		},
		Executor: ExecutorConfig{
			OverrunMultiplier:   1.5,
			SafetyFactor:        2,
			StrategyCachePerKey: 5,
		},
		Retry: RetryConfig{
			MaxAttempts:        3,
			MinFallbackQuality: 0.5,
			AttemptTimeout:     10 * time.Minute,
			LearnFromFailure:   true,
		},
		Sync: SyncConfig{
			RealtimeTimeout: 250 * time.Millisecond,
			FlushInterval:   30 * time.Second,
			MaxRetries:      3,
			BackoffBase:     time.Second,
			QueueCapacity:   1024,
		},
		Knowledge: KnowledgeConfig{
			Enabled: true,
			DBPath:  ".helmsman/knowledge.db",
		},
	}
}

// Load reads configuration from path, merging over defaults. A missing
// file is not an error; defaults are returned unchanged.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges that would otherwise fail deep inside the
// engine.
func (c *Config) Validate() error {
	if c.Pattern.RetentionDays <= 0 {
		return fmt.Errorf("pattern.retention_days must be positive, got %d", c.Pattern.RetentionDays)
	}
	if c.Pattern.MaxTagSlots <= 0 {
		return fmt.Errorf("pattern.max_tag_slots must be positive, got %d", c.Pattern.MaxTagSlots)
	}
	if c.Executor.OverrunMultiplier <= 1.0 {
		return fmt.Errorf("executor.overrun_multiplier must exceed 1.0, got %.2f", c.Executor.OverrunMultiplier)
	}
	if c.Executor.SafetyFactor < 1 {
		return fmt.Errorf("executor.safety_factor must be at least 1, got %d", c.Executor.SafetyFactor)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.MinFallbackQuality < 0 || c.Retry.MinFallbackQuality > 1 {
		return fmt.Errorf("retry.min_fallback_quality must be in [0,1], got %.2f", c.Retry.MinFallbackQuality)
	}
	if c.Conflict.HighRiskThreshold <= c.Conflict.MediumRiskThreshold {
		return fmt.Errorf("conflict.high_risk_threshold must exceed medium_risk_threshold")
	}
	if c.Sync.QueueCapacity < 1 {
		return fmt.Errorf("sync.queue_capacity must be at least 1, got %d", c.Sync.QueueCapacity)
	}
	return nil
}
