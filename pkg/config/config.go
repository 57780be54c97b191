// Package config defines the configuration model for the harvester
// pipeline and its connectors, loaded from YAML with environment
// variable substitution.
package config

import (
	"time"

	"github.com/ideagen/harvester/pkg/errors"
)

// Config is the root configuration for a harvester deployment.
type Config struct {
	Logging    LoggingConfig     `yaml:"logging"`
	Metrics    MetricsConfig     `yaml:"metrics"`
	Pipeline   PipelineConfig    `yaml:"pipeline"`
	Sink       SinkConfig        `yaml:"sink"`
	Connectors []ConnectorConfig `yaml:"connectors"`
}

// LoggingConfig controls the global logger.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
	Encoding    string `yaml:"encoding"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// PipelineConfig controls sync orchestration across connectors.
type PipelineConfig struct {
	// Interval between continuous sync cycles.
	Interval time.Duration `yaml:"interval"`
	// ErrorBackoff is the pause after a failed cycle before retrying.
	ErrorBackoff time.Duration `yaml:"error_backoff"`
	// Schedule optionally replaces Interval with a cron expression.
	Schedule string `yaml:"schedule"`
	// Lookback bounds how far behind the cursor an initial sync reaches.
	Lookback time.Duration `yaml:"lookback"`
	// StateFile persists cursors and dedup state between runs.
	StateFile string `yaml:"state_file"`
}

// SinkConfig selects and configures the delivery target.
type SinkConfig struct {
	// Type is one of "jsonl", "sqlite", or "memory".
	Type string `yaml:"type"`
	// Path is the output directory (jsonl) or database file (sqlite).
	Path string `yaml:"path"`
	// Compress gzips jsonl output files.
	Compress bool `yaml:"compress"`
}

// ConnectorConfig configures a single platform connector.
type ConnectorConfig struct {
	// Platform is the registered connector name, e.g. "reddit".
	Platform string `yaml:"platform"`
	// Enabled excludes the connector from the pipeline when false.
	Enabled *bool `yaml:"enabled"`
	// Credentials holds platform secrets keyed by name, e.g. client_id.
	Credentials map[string]string `yaml:"credentials"`
	// Dimensions are the primary query dimensions: subreddits, search
	// queries, topics, or regions, depending on the platform.
	Dimensions []string `yaml:"dimensions"`
	// Keywords steer platform-side search where supported.
	Keywords []string `yaml:"keywords"`

	// PrimaryLimit bounds records fetched per dimension per sync.
	PrimaryLimit int `yaml:"primary_limit"`
	// SecondaryLimit bounds records fetched per candidate per sync.
	SecondaryLimit int `yaml:"secondary_limit"`
	// RateLimitPerMinute caps API calls per rolling minute.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
	// BaseURL overrides the platform API endpoint, used in tests.
	BaseURL string `yaml:"base_url"`

	Retry RetryConfig `yaml:"retry"`

	// BatchSize caps delivered rows per entity per session; batches are
	// ordered newest first before truncation.
	BatchSize int `yaml:"batch_size"`
	// Lookback bounds the backfill window on a first sync and the
	// platform-side search window where the API supports one. Defaults
	// to the pipeline-level lookback.
	Lookback time.Duration `yaml:"lookback"`

	// MinScore drops primary records scoring below the threshold.
	MinScore float64 `yaml:"min_score"`
	// Thresholds overrides candidate gate thresholds by gate name.
	Thresholds map[string]float64 `yaml:"thresholds"`
	// Caps overrides candidate list capacities by gate name.
	Caps map[string]int `yaml:"caps"`
	// DedupRetention caps remembered record IDs per entity type.
	DedupRetention int `yaml:"dedup_retention"`
}

// RetryConfig controls transient failure retries for one connector.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
}

// IsEnabled reports whether the connector participates in the pipeline.
// Connectors are enabled unless explicitly disabled.
func (c *ConnectorConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Credential returns a named credential, or an error naming the missing key.
func (c *ConnectorConfig) Credential(key string) (string, error) {
	v, ok := c.Credentials[key]
	if !ok || v == "" {
		return "", errors.New(errors.ErrorTypeConfig, "missing credential").
			WithDetail("platform", c.Platform).
			WithDetail("key", key)
	}
	return v, nil
}

// ApplyDefaults fills unset fields with production defaults.
func (c *Config) ApplyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Encoding == "" {
		c.Logging.Encoding = "json"
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}
	if c.Pipeline.Interval <= 0 {
		c.Pipeline.Interval = time.Hour
	}
	if c.Pipeline.ErrorBackoff <= 0 {
		c.Pipeline.ErrorBackoff = time.Minute
	}
	if c.Pipeline.Lookback <= 0 {
		c.Pipeline.Lookback = 24 * time.Hour
	}
	if c.Sink.Type == "" {
		c.Sink.Type = "jsonl"
	}
	if c.Sink.Path == "" {
		c.Sink.Path = "./data"
	}
	for i := range c.Connectors {
		c.Connectors[i].applyDefaults(c.Pipeline.Lookback)
	}
}

func (c *ConnectorConfig) applyDefaults(lookback time.Duration) {
	if c.PrimaryLimit <= 0 {
		c.PrimaryLimit = 100
	}
	if c.SecondaryLimit <= 0 {
		c.SecondaryLimit = 25
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.Lookback <= 0 {
		c.Lookback = lookback
	}
	if c.RateLimitPerMinute <= 0 {
		c.RateLimitPerMinute = 60
	}
	if c.MinScore <= 0 {
		c.MinScore = 0.3
	}
	if c.DedupRetention <= 0 {
		c.DedupRetention = 100000
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.InitialDelay <= 0 {
		c.Retry.InitialDelay = time.Second
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = 30 * time.Second
	}
	if c.Retry.Multiplier <= 0 {
		c.Retry.Multiplier = 2.0
	}
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	switch c.Sink.Type {
	case "jsonl", "sqlite", "memory":
	default:
		return errors.New(errors.ErrorTypeConfig, "unknown sink type").
			WithDetail("type", c.Sink.Type)
	}

	seen := make(map[string]bool, len(c.Connectors))
	for _, cc := range c.Connectors {
		if cc.Platform == "" {
			return errors.New(errors.ErrorTypeConfig, "connector missing platform name")
		}
		if seen[cc.Platform] {
			return errors.New(errors.ErrorTypeConfig, "duplicate connector").
				WithDetail("platform", cc.Platform)
		}
		seen[cc.Platform] = true
	}
	return nil
}
