package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/lazypower/permanence/internal/permanence"
)

// EnvPrefix prefixes every environment override, e.g. PERMANENCE_SERVER_PORT.
const EnvPrefix = "PERMANENCE"

// Archive backends.
const (
	ArchiveSQLite = "sqlite"
	ArchiveBadger = "badger"
)

// Config holds all permanence configuration.
type Config struct {
	Server   ServerConfig      `yaml:"server"`
	Database DatabaseConfig    `yaml:"database"`
	Archive  ArchiveConfig     `yaml:"archive"`
	Sweep    SweepConfig       `yaml:"sweep"`
	Log      LogConfig         `yaml:"log"`
	Scoring  permanence.Params `yaml:"scoring"`
}

type ServerConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
	// URL is where CLI commands reach a running server.
	URL string `yaml:"url"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"` // empty: store.DefaultDBPath()
}

type ArchiveConfig struct {
	Backend  string `yaml:"backend"` // "sqlite" or "badger"
	Path     string `yaml:"path"`    // badger directory; empty: next to the database
	PageSize int    `yaml:"page_size" split_words:"true"`
}

type SweepConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Workers  int           `yaml:"workers"`
	PageSize int           `yaml:"page_size" split_words:"true"`
	// ExpiredRetention is how long Expired items are kept before purge.
	ExpiredRetention time.Duration `yaml:"expired_retention" split_words:"true"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37780,
		},
		Archive: ArchiveConfig{
			Backend:  ArchiveSQLite,
			PageSize: 100,
		},
		Sweep: SweepConfig{
			Enabled:          true,
			Interval:         time.Hour,
			Workers:          4,
			PageSize:         200,
			ExpiredRetention: 30 * 24 * time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Scoring: permanence.DefaultParams(),
	}
}

// DefaultPath returns the default config file path: ~/.permanence/config.yaml
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".permanence", "config.yaml"), nil
}

// Load builds a Config from defaults, then the YAML file at path (skipped
// when path is empty), then PERMANENCE_* environment variables, and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate checks the whole configuration. Scoring errors are
// *permanence.ConfigError and match permanence.ErrConfiguration.
func (c *Config) Validate() error {
	if err := c.Scoring.Validate(); err != nil {
		return err
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return &permanence.ConfigError{Field: "server.port", Reason: "must be within [0,65535]"}
	}
	switch c.Archive.Backend {
	case ArchiveSQLite, ArchiveBadger:
	default:
		return &permanence.ConfigError{Field: "archive.backend", Reason: fmt.Sprintf("unknown backend %q", c.Archive.Backend)}
	}
	if c.Sweep.Workers < 1 {
		return &permanence.ConfigError{Field: "sweep.workers", Reason: "must be at least 1"}
	}
	if c.Sweep.PageSize < 1 {
		return &permanence.ConfigError{Field: "sweep.page_size", Reason: "must be at least 1"}
	}
	if c.Sweep.Enabled && c.Sweep.Interval <= 0 {
		return &permanence.ConfigError{Field: "sweep.interval", Reason: "must be positive when the sweep timer is enabled"}
	}
	if c.Sweep.ExpiredRetention < 0 {
		return &permanence.ConfigError{Field: "sweep.expired_retention", Reason: "must not be negative"}
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		return &permanence.ConfigError{Field: "log.format", Reason: fmt.Sprintf("unknown format %q", c.Log.Format)}
	}
	return nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// ServerURL returns the base URL CLI commands use to reach the server.
func (c *Config) ServerURL() string {
	if c.Server.URL != "" {
		return strings.TrimRight(c.Server.URL, "/")
	}
	bind := c.Server.Bind
	if bind == "" || bind == "0.0.0.0" {
		bind = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", bind, c.Server.Port)
}
