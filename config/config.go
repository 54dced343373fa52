// Package config loads and validates the realtime core configuration.
// Configuration comes from a YAML file; connection secrets can be overridden
// through HG_-prefixed environment variables so deployments never need
// credentials on disk.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/longczx/home-guardian/errors"
)

// Config represents the complete application configuration.
type Config struct {
	NATS     NATSConfig     `yaml:"nats"`
	Postgres PostgresConfig `yaml:"postgres"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Persist  PersistConfig  `yaml:"persist"`
	Rules    RulesConfig    `yaml:"rules"`
	Command  CommandConfig  `yaml:"command"`
	Fanout   FanoutConfig   `yaml:"fanout"`
	Notify   NotifyConfig   `yaml:"notify"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// NATSConfig configures the broker connection.
type NATSConfig struct {
	URL           string        `yaml:"url"`
	ClientName    string        `yaml:"client_name"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// PostgresConfig configures the persistence store.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// IngestConfig configures the ingestion router.
type IngestConfig struct {
	CommandDrainInterval time.Duration `yaml:"command_drain_interval"`
	CommandDrainBatch    int           `yaml:"command_drain_batch"`
	DeviceCacheSize      int           `yaml:"device_cache_size"`
	LatestValueTTL       time.Duration `yaml:"latest_value_ttl"`
}

// PersistConfig configures the batch persistence writer.
type PersistConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
}

// RulesConfig configures the rule engine.
type RulesConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	ConsumeInterval time.Duration `yaml:"consume_interval"`
	ConsumeBatch    int           `yaml:"consume_batch"`
	DebounceGrace   time.Duration `yaml:"debounce_grace"`
}

// CommandConfig configures the command correlation tracker.
type CommandConfig struct {
	ReplyTimeout  time.Duration `yaml:"reply_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// FanoutConfig configures the live websocket fan-out server.
type FanoutConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// NotifyConfig configures the notification queue consumer.
type NotifyConfig struct {
	DrainInterval time.Duration `yaml:"drain_interval"`
	DrainBatch    int           `yaml:"drain_batch"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	Port int `yaml:"port"`
}

// Default returns the configuration with every interval and size at its
// documented default.
func Default() Config {
	return Config{
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			ClientName:    "home-guardian-core",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Ingest: IngestConfig{
			CommandDrainInterval: 100 * time.Millisecond,
			CommandDrainBatch:    10,
			DeviceCacheSize:      1024,
			LatestValueTTL:       time.Hour,
		},
		Persist: PersistConfig{
			Interval:  2 * time.Second,
			BatchSize: 500,
		},
		Rules: RulesConfig{
			PollInterval:    5 * time.Second,
			ConsumeInterval: 100 * time.Millisecond,
			ConsumeBatch:    100,
			DebounceGrace:   60 * time.Second,
		},
		Command: CommandConfig{
			ReplyTimeout:  60 * time.Second,
			SweepInterval: 60 * time.Second,
		},
		Fanout: FanoutConfig{
			Port: 8788,
			Path: "/ws",
		},
		Notify: NotifyConfig{
			DrainInterval: 500 * time.Millisecond,
			DrainBatch:    10,
			RatePerSecond: 5,
			Burst:         10,
		},
		Metrics: MetricsConfig{
			Port: 9108,
		},
	}
}

// Load reads a YAML config file, applies environment overrides and validates
// the result. An empty path returns the defaults with overrides applied.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrap(err, "config", "Load", "read config file")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.WrapInvalid(err, "config", "Load", "parse config file")
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides connection settings from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("HG_NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("HG_POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
}

// Validate checks the configuration for values that would break the runtime.
func (c *Config) Validate() error {
	if c.NATS.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "config", "Validate", "nats.url is required")
	}
	if c.Persist.BatchSize < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("persist.batch_size must be positive, got %d", c.Persist.BatchSize))
	}
	if c.Persist.Interval <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate", "persist.interval must be positive")
	}
	if c.Rules.PollInterval <= 0 || c.Rules.ConsumeInterval <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate", "rules intervals must be positive")
	}
	if c.Ingest.DeviceCacheSize < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate", "ingest.device_cache_size must be positive")
	}
	if c.Fanout.Port < 1 || c.Fanout.Port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("fanout.port %d out of range", c.Fanout.Port))
	}
	if c.Fanout.Path == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate", "fanout.path is required")
	}
	if c.Notify.RatePerSecond <= 0 || c.Notify.Burst < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate", "notify rate limits must be positive")
	}
	return nil
}
