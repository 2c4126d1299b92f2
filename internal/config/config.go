// Package config provides the engine configuration surface and YAML
// file loading. All knobs are explicit; Default() is the only source of
// defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tablekit/ordersync/internal/conflict"
	"github.com/tablekit/ordersync/internal/errors"
)

// SyncStrategy selects how the engine is activated.
type SyncStrategy string

const (
	// StrategyImmediate syncs as soon as connectivity returns.
	StrategyImmediate SyncStrategy = "immediate"
	// StrategyScheduled syncs on a fixed interval.
	StrategyScheduled SyncStrategy = "scheduled"
	// StrategyManual syncs only on explicit request.
	StrategyManual SyncStrategy = "manual"
	// StrategyIntelligent is accepted but degrades to a scheduled timer;
	// demand-adaptive scheduling can be layered on top of the engine.
	StrategyIntelligent SyncStrategy = "intelligent"
	// StrategyBackground degrades to a scheduled timer as well.
	StrategyBackground SyncStrategy = "background"
)

// UsesTimer reports whether the strategy runs the periodic scheduler.
func (s SyncStrategy) UsesTimer() bool {
	switch s {
	case StrategyScheduled, StrategyIntelligent, StrategyBackground:
		return true
	default:
		return false
	}
}

// Config holds every engine knob. Durations are expressed in
// milliseconds in the YAML surface to keep the file format unambiguous.
type Config struct {
	// Queue
	MaxQueueSize int `yaml:"max_queue_size"`

	// Cache
	MaxCacheSize int64 `yaml:"max_cache_size"` // bytes, hard ceiling

	// Sync
	SyncStrategy       SyncStrategy      `yaml:"sync_strategy"`
	ConflictResolution conflict.Strategy `yaml:"conflict_resolution"`
	RetryAttempts      int               `yaml:"retry_attempts"`
	RetryDelayMs       int64             `yaml:"retry_delay_ms"`    // base for exponential backoff
	BatchSize          int               `yaml:"batch_size"`
	SyncIntervalMs     int64             `yaml:"sync_interval_ms"`

	// Transforms
	EnableCompression bool   `yaml:"enable_compression"`
	EnableEncryption  bool   `yaml:"enable_encryption"`
	EncryptionKey     string `yaml:"encryption_key"`

	// Storage
	DataDir string `yaml:"data_dir"`
}

// Default returns the engine defaults.
func Default() *Config {
	return &Config{
		MaxQueueSize:       1000,
		MaxCacheSize:       16 * 1024 * 1024, // 16 MB
		SyncStrategy:       StrategyImmediate,
		ConflictResolution: conflict.StrategyTimestamp,
		RetryAttempts:      3,
		RetryDelayMs:       1000,
		BatchSize:          10,
		SyncIntervalMs:     60_000,
		DataDir:            "data",
	}
}

// Load reads a YAML config file, layering it over Default().
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "read config file", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "parse config file", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RetryDelay returns the backoff base as a duration.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// SyncInterval returns the scheduler tick as a duration.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalMs) * time.Millisecond
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.MaxQueueSize <= 0 {
		return errors.New(errors.ErrInvalid, "max_queue_size must be positive")
	}
	if c.MaxCacheSize <= 0 {
		return errors.New(errors.ErrInvalid, "max_cache_size must be positive")
	}
	if c.BatchSize <= 0 {
		return errors.New(errors.ErrInvalid, "batch_size must be positive")
	}
	if c.RetryAttempts < 1 {
		return errors.New(errors.ErrInvalid, "retry_attempts must be at least 1")
	}
	if c.RetryDelayMs < 0 {
		return errors.New(errors.ErrInvalid, "retry_delay_ms must not be negative")
	}

	switch c.SyncStrategy {
	case StrategyImmediate, StrategyScheduled, StrategyManual, StrategyIntelligent, StrategyBackground:
	default:
		return errors.New(errors.ErrInvalid, fmt.Sprintf("unknown sync_strategy %q", c.SyncStrategy))
	}

	if c.SyncStrategy.UsesTimer() && c.SyncIntervalMs <= 0 {
		return errors.New(errors.ErrInvalid, "sync_interval_ms must be positive for timer strategies")
	}

	if _, err := conflict.ParseStrategy(string(c.ConflictResolution)); err != nil {
		return err
	}

	if c.EnableEncryption && c.EncryptionKey == "" {
		return errors.New(errors.ErrInvalid, "enable_encryption requires encryption_key")
	}

	return nil
}
