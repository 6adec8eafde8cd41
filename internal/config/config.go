// Package config loads the aggregator's declarative configuration
// (spec §6.6): producer endpoints, manager/dedup tunables, sink
// selection, correlator rules, and supervisor policy. Layering and
// loading shape is grounded on agent/internal/config/config.go:
// defaults, then a YAML file, then environment overrides, then
// cobra flags applied by the caller last.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/idsaggd/idsaggd/internal/correlator"
	"github.com/idsaggd/idsaggd/pkg/alert"
)

// Config is the complete aggregator configuration.
type Config struct {
	LogLevel   string                    `yaml:"log_level,omitempty"`
	Producers  map[string]ProducerConfig `yaml:"producers,omitempty"`
	Manager    ManagerConfig             `yaml:"manager"`
	Sinks      SinksConfig               `yaml:"sinks"`
	Correlator CorrelatorConfig          `yaml:"correlator"`
	Supervisor SupervisorConfig          `yaml:"supervisor"`
	Secrets    SecretsConfig             `yaml:"secrets,omitempty"`
}

type ProducerConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type ManagerConfig struct {
	IntakeCapacity  int `yaml:"intake_capacity"`
	WorkerCount     int `yaml:"worker_count"`
	DedupWindowMS   int `yaml:"dedup_window_ms"`
	DedupMaxEntries int `yaml:"dedup_max_entries"`
}

type SinksConfig struct {
	Console   ConsoleSinkConfig   `yaml:"console"`
	File      FileSinkConfig      `yaml:"file"`
	Publisher PublisherSinkConfig `yaml:"publisher"`
	Archive   ArchiveSinkConfig   `yaml:"archive,omitempty"`
}

type ConsoleSinkConfig struct {
	Enabled bool `yaml:"enabled"`
}

type FileSinkConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Path            string `yaml:"path"`
	FlushEveryN     int    `yaml:"flush_every_n"`
	FlushIntervalMS int    `yaml:"flush_interval_ms"`
}

type PublisherSinkConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// ArchiveSinkConfig is a supplemental option beyond spec.md §6.6, naming
// the durable Postgres/Redis archive sink.
type ArchiveSinkConfig struct {
	Enabled  bool   `yaml:"enabled"`
	RedisURL string `yaml:"redis_url"`
	PgxURL   string `yaml:"pgx_url"`
}

type CorrelatorConfig struct {
	Enabled            bool                   `yaml:"enabled"`
	MaxHistoryWindowMS int                    `yaml:"max_history_window_ms"`
	CooldownPolicy     string                 `yaml:"cooldown_policy"`
	Rules              []alert.CorrelationRule `yaml:"rules"`
}

type SupervisorConfig struct {
	HeartbeatIntervalMS int `yaml:"heartbeat_interval_ms"`
	RestartBackoffMaxMS int `yaml:"restart_backoff_max_ms"`
	ShutdownGraceMS     int `yaml:"shutdown_grace_ms"`
}

// SecretsConfig is a supplemental option selecting the credential
// backend used by internal/secrets.
type SecretsConfig struct {
	Backend string `yaml:"backend,omitempty"`
}

// DefaultConfig returns a config with the same defaults each affected
// package would otherwise fall back to on its own, so a bare
// `idsaggd start` with no file runs a sane pipeline.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Manager: ManagerConfig{
			IntakeCapacity:  10_000,
			WorkerCount:     4,
			DedupWindowMS:   int(time.Minute / time.Millisecond),
			DedupMaxEntries: 100_000,
		},
		Sinks: SinksConfig{
			Console: ConsoleSinkConfig{Enabled: true},
		},
		Correlator: CorrelatorConfig{
			Enabled:            true,
			MaxHistoryWindowMS: int(30 * time.Minute / time.Millisecond),
			CooldownPolicy:     "rule_window",
			Rules:              correlator.BuiltinRules(),
		},
		Supervisor: SupervisorConfig{
			HeartbeatIntervalMS: int(30 * time.Second / time.Millisecond),
			RestartBackoffMaxMS: int(60 * time.Second / time.Millisecond),
			ShutdownGraceMS:     int(10 * time.Second / time.Millisecond),
		},
	}
}

// LoadFromFile reads and merges a YAML file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// Validate checks required configuration is present and internally
// consistent, returning a ConfigError-kind diagnostic (spec §7).
func (c *Config) Validate() error {
	if c.Manager.IntakeCapacity <= 0 {
		return fmt.Errorf("manager.intake_capacity must be positive")
	}
	if c.Manager.WorkerCount <= 0 {
		return fmt.Errorf("manager.worker_count must be positive")
	}
	if c.Sinks.File.Enabled && c.Sinks.File.Path == "" {
		return fmt.Errorf("sinks.file.path is required when sinks.file.enabled is true")
	}
	if c.Sinks.Publisher.Enabled && c.Sinks.Publisher.Endpoint == "" {
		return fmt.Errorf("sinks.publisher.endpoint is required when sinks.publisher.enabled is true")
	}
	if !c.Sinks.Console.Enabled && !c.Sinks.File.Enabled && !c.Sinks.Publisher.Enabled && !c.Sinks.Archive.Enabled {
		return fmt.Errorf("at least one sink (console, file, publisher, archive) must be enabled")
	}
	for _, r := range c.Correlator.Rules {
		if r.RuleID == "" {
			return fmt.Errorf("correlator rule missing rule_id")
		}
	}
	return nil
}

// ApplyEnvOverrides applies IDSAGG_-prefixed environment overrides, the
// second layer after the YAML file (spec §6.6's "file or structured
// blob" plus the ambient env-var convention the examples use).
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("IDSAGG_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("IDSAGG_MANAGER_INTAKE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Manager.IntakeCapacity = n
		}
	}
	if v := os.Getenv("IDSAGG_MANAGER_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Manager.WorkerCount = n
		}
	}
	if v := os.Getenv("IDSAGG_SINKS_PUBLISHER_ENDPOINT"); v != "" {
		c.Sinks.Publisher.Endpoint = v
	}
	if v := os.Getenv("IDSAGG_SECRETS_BACKEND"); v != "" {
		c.Secrets.Backend = v
	}
}

func (m ManagerConfig) DedupWindow() time.Duration {
	return time.Duration(m.DedupWindowMS) * time.Millisecond
}

func (f FileSinkConfig) FlushInterval() time.Duration {
	return time.Duration(f.FlushIntervalMS) * time.Millisecond
}

func (c CorrelatorConfig) MaxHistoryWindow() time.Duration {
	return time.Duration(c.MaxHistoryWindowMS) * time.Millisecond
}

func (s SupervisorConfig) HeartbeatInterval() time.Duration {
	return time.Duration(s.HeartbeatIntervalMS) * time.Millisecond
}

func (s SupervisorConfig) RestartBackoffMax() time.Duration {
	return time.Duration(s.RestartBackoffMaxMS) * time.Millisecond
}

func (s SupervisorConfig) ShutdownGrace() time.Duration {
	return time.Duration(s.ShutdownGraceMS) * time.Millisecond
}
