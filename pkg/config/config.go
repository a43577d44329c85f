// Package config loads and validates the application configuration
// from YAML, applies defaults, and watches the file for changes so
// alert thresholds, notification channels, and sampling settings can
// be updated without a restart.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openpulse/openpulse/pkg/alerts"
	"github.com/openpulse/openpulse/pkg/anomaly"
	"github.com/openpulse/openpulse/pkg/telemetry"
	"github.com/openpulse/openpulse/pkg/traces"
)

// StorageConfig locates the embedded store.
type StorageConfig struct {
	Path string `yaml:"path" validate:"required"`

	// RetentionDays bounds event and trace history; the cleanup task
	// deletes older rows.
	RetentionDays int `yaml:"retention_days" validate:"gte=1"`
}

// RateLimitConfig holds the default admission limits applied to
// recorded events.
type RateLimitConfig struct {
	Limit         int `yaml:"limit" validate:"gte=0"`
	WindowSeconds int `yaml:"window_seconds" validate:"gte=1"`
}

// SchedulerConfig holds the cadences of the background tasks.
type SchedulerConfig struct {
	AlertCheckSeconds   int `yaml:"alert_check_seconds" validate:"gte=1"`
	AnomalyCheckSeconds int `yaml:"anomaly_check_seconds" validate:"gte=1"`
	SnapshotMinutes     int `yaml:"snapshot_minutes" validate:"gte=1"`
	CleanupHours        int `yaml:"cleanup_hours" validate:"gte=1"`
	TokenSweepMinutes   int `yaml:"token_sweep_minutes" validate:"gte=1"`
	LimiterPruneMinutes int `yaml:"limiter_prune_minutes" validate:"gte=1"`
}

// AuthConfig holds token issuance settings.
type AuthConfig struct {
	TokenTTLHours int `yaml:"token_ttl_hours" validate:"gte=1"`
}

// SnapshotConfig holds the artifact sink settings.
type SnapshotConfig struct {
	Dir string `yaml:"dir"`
}

// Config is the root application configuration.
type Config struct {
	Environment string `yaml:"environment" validate:"required"`

	Storage   StorageConfig   `yaml:"storage"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Auth      AuthConfig      `yaml:"auth"`
	Snapshots SnapshotConfig  `yaml:"snapshots"`

	Thresholds alerts.Thresholds `yaml:"thresholds"`
	Channels   []alerts.Channel  `yaml:"channels" validate:"dive"`

	Anomaly anomaly.Config `yaml:"anomaly"`
	Traces  traces.Config  `yaml:"traces"`

	Telemetry telemetry.Config `yaml:"telemetry"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Environment: "prod",
		Storage: StorageConfig{
			Path:          "openpulse.db",
			RetentionDays: 30,
		},
		RateLimit: RateLimitConfig{
			Limit:         1000,
			WindowSeconds: 60,
		},
		Scheduler: SchedulerConfig{
			AlertCheckSeconds:   30,
			AnomalyCheckSeconds: 60,
			SnapshotMinutes:     60,
			CleanupHours:        24,
			TokenSweepMinutes:   15,
			LimiterPruneMinutes: 10,
		},
		Auth:       AuthConfig{TokenTTLHours: 24},
		Snapshots:  SnapshotConfig{Dir: "snapshots"},
		Thresholds: alerts.DefaultThresholds(),
		Anomaly:    anomaly.DefaultConfig(),
		Traces:     traces.DefaultConfig(),
		Telemetry:  *telemetry.DefaultConfig(),
	}
}

// Load reads, merges over defaults, and validates a configuration
// file. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks structural constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Traces.SampleRate < 0 || c.Traces.SampleRate > 1 {
		return fmt.Errorf("invalid configuration: traces.sample_rate must be in [0, 1]")
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// TokenTTL returns the configured token lifetime.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLHours) * time.Hour
}
