// Package config loads the stage-based YAML configuration and applies
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"hadaily/internal/domain"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for one pipeline invocation.
type Config struct {
	Storage    Storage    `yaml:"storage"`
	Influx     Influx     `yaml:"influx"`
	Logging    Logging    `yaml:"logging"`
	Processing Processing `yaml:"processing"`
	Retry      Retry      `yaml:"retry"`
}

// Storage holds paths for local data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Influx holds credentials and bucket names for the InfluxDB server.
// Credentials are normally supplied via INFLUX_URL / INFLUX_TOKEN /
// INFLUX_ORG environment variables rather than the YAML file.
type Influx struct {
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
	Org          string `yaml:"org"`
	SourceBucket string `yaml:"source_bucket"`
	DestBucket   string `yaml:"dest_bucket"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Entity configures one source series to process.
type Entity struct {
	ID          string  `yaml:"id"`
	Unit        string  `yaml:"unit"`         // written as a tag on output points
	Scale       float64 `yaml:"scale"`        // multiplicative unit conversion, 0 means 1
	RenameField string  `yaml:"rename_field"` // output field name, default "value"
}

// Processing controls the extract-transform-write pipeline.
type Processing struct {
	Timezone          string   `yaml:"timezone"` // IANA zone for calendar-day windows
	SourceMeasurement string   `yaml:"source_measurement"`
	DestMeasurement   string   `yaml:"dest_measurement"`
	Version           string   `yaml:"version"`
	Scenario          string   `yaml:"scenario"`
	ChunkSize         int      `yaml:"chunk_size"`
	RateLimitPerMin   int      `yaml:"rate_limit_per_min"`
	ArchiveEnabled    bool     `yaml:"archive_enabled"` // mirror writes into a local parquet archive
	Entities          []Entity `yaml:"entities"`
}

// Duration parses YAML values like "250ms" or "30s" via time.ParseDuration.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Retry bounds remote I/O retries and per-call timeouts.
type Retry struct {
	MaxAttempts int      `yaml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay"`
	CallTimeout Duration `yaml:"call_timeout"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides, fills defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("INFLUX_URL"); v != "" {
		cfg.Influx.URL = v
	}
	if v := os.Getenv("INFLUX_TOKEN"); v != "" {
		cfg.Influx.Token = v
	}
	if v := os.Getenv("INFLUX_ORG"); v != "" {
		cfg.Influx.Org = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "./data"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = filepath.Join(cfg.Storage.DataDir, "hadaily.db")
	}
	if cfg.Processing.Timezone == "" {
		cfg.Processing.Timezone = "Europe/Berlin"
	}
	if cfg.Processing.ChunkSize <= 0 {
		cfg.Processing.ChunkSize = 1000
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 4
	}
	if cfg.Retry.BaseDelay <= 0 {
		cfg.Retry.BaseDelay = Duration(500 * time.Millisecond)
	}
	if cfg.Retry.CallTimeout <= 0 {
		cfg.Retry.CallTimeout = Duration(30 * time.Second)
	}
}

// Validate checks the configuration for missing or inconsistent values.
// Failures are domain.ConfigError: fatal, never retried.
func (c *Config) Validate() error {
	var missing []string
	if c.Influx.URL == "" {
		missing = append(missing, "INFLUX_URL")
	}
	if c.Influx.Token == "" {
		missing = append(missing, "INFLUX_TOKEN")
	}
	if c.Influx.Org == "" {
		missing = append(missing, "INFLUX_ORG")
	}
	if len(missing) > 0 {
		return &domain.ConfigError{Reason: "missing InfluxDB credentials: " + strings.Join(missing, ", ")}
	}

	if c.Influx.SourceBucket == "" || c.Influx.DestBucket == "" {
		return &domain.ConfigError{Reason: "influx.source_bucket and influx.dest_bucket are required"}
	}
	if len(c.Processing.Entities) == 0 {
		return &domain.ConfigError{Reason: "processing.entities must list at least one series"}
	}
	for _, e := range c.Processing.Entities {
		if strings.TrimSpace(e.ID) == "" {
			return &domain.ConfigError{Reason: "processing.entities contains an entry with an empty id"}
		}
	}
	if _, err := time.LoadLocation(c.Processing.Timezone); err != nil {
		return &domain.ConfigError{Reason: fmt.Sprintf("invalid timezone %q", c.Processing.Timezone), Err: err}
	}
	return nil
}

// Location returns the configured processing timezone. Call Validate first;
// an invalid zone falls back to UTC here.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Processing.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
