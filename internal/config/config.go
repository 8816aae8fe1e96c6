// Package config loads and validates the Courier configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/laibrary/courier/internal/appdir"
)

// Validation errors.
var (
	ErrMissingServerURL = errors.New("server url is required")
	ErrBadMultiplier    = errors.New("reconnect multiplier must be greater than 1")
	ErrBadMaxAttempts   = errors.New("reconnect max_attempts must be at least 1")
)

// Config is the root configuration for the Courier client.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Cache     CacheConfig     `yaml:"cache"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig identifies the laibrary service.
type ServerConfig struct {
	// URL is the base HTTP URL of the service (e.g. "http://localhost:8000").
	URL string `yaml:"url"`
}

// ReconnectConfig tunes the push-channel reconnection schedule and the
// fallback poller.
type ReconnectConfig struct {
	// InitialDelayMS is the first retry delay in milliseconds.
	InitialDelayMS int `yaml:"initial_delay_ms"`
	// Multiplier is the backoff growth factor.
	Multiplier float64 `yaml:"multiplier"`
	// MaxDelayMS caps the retry delay in milliseconds.
	MaxDelayMS int `yaml:"max_delay_ms"`
	// MaxAttempts is the retry ceiling before the push channel is abandoned.
	MaxAttempts int `yaml:"max_attempts"`
	// PollIntervalMS is the fallback poller tick in milliseconds.
	PollIntervalMS int `yaml:"poll_interval_ms"`
}

// CacheConfig configures the static resource cache.
type CacheConfig struct {
	// Version tags the resource store. Bumping it is the only supported
	// invalidation mechanism: stores with any other tag are deleted on
	// activation.
	Version string `yaml:"version"`
	// Manifest is the path to the resource manifest file (one resource
	// path per line, '#' comments allowed).
	Manifest string `yaml:"manifest"`
	// Dir is the directory holding the store files. Defaults to the
	// cache subdirectory of the Courier data directory.
	Dir string `yaml:"dir"`
	// WatchManifest enables reinstalling the store when the manifest
	// file changes on disk.
	WatchManifest bool `yaml:"watch_manifest"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	JSON       bool   `yaml:"json"`
}

// Default returns the built-in configuration, matching the retry and poll
// schedule the laibrary service documents.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			URL: "http://localhost:8000",
		},
		Reconnect: ReconnectConfig{
			InitialDelayMS: 1000,
			Multiplier:     1.5,
			MaxDelayMS:     30000,
			MaxAttempts:    10,
			PollIntervalMS: 1000,
		},
		Cache: CacheConfig{
			Version: "v1",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the configuration from the given YAML file, applying defaults
// for any omitted fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads the configuration from the default path in the
// Courier data directory, falling back to the built-in defaults when no
// file exists.
func LoadOrDefault() (*Config, error) {
	path, err := appdir.ConfigPath()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("stat config %s: %w", path, err)
	}
	return Load(path)
}

// applyDefaults fills zero-valued tuning fields so a sparse config file
// cannot disable the reconnection schedule.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Reconnect.InitialDelayMS <= 0 {
		c.Reconnect.InitialDelayMS = def.Reconnect.InitialDelayMS
	}
	if c.Reconnect.Multiplier == 0 {
		c.Reconnect.Multiplier = def.Reconnect.Multiplier
	}
	if c.Reconnect.MaxDelayMS <= 0 {
		c.Reconnect.MaxDelayMS = def.Reconnect.MaxDelayMS
	}
	if c.Reconnect.MaxAttempts <= 0 {
		c.Reconnect.MaxAttempts = def.Reconnect.MaxAttempts
	}
	if c.Reconnect.PollIntervalMS <= 0 {
		c.Reconnect.PollIntervalMS = def.Reconnect.PollIntervalMS
	}
	if c.Cache.Version == "" {
		c.Cache.Version = def.Cache.Version
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return ErrMissingServerURL
	}
	if c.Reconnect.Multiplier <= 1 {
		return ErrBadMultiplier
	}
	if c.Reconnect.MaxAttempts < 1 {
		return ErrBadMaxAttempts
	}
	return nil
}

// InitialDelay returns the first retry delay as a duration.
func (c *ReconnectConfig) InitialDelay() time.Duration {
	return time.Duration(c.InitialDelayMS) * time.Millisecond
}

// MaxDelay returns the retry delay cap as a duration.
func (c *ReconnectConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMS) * time.Millisecond
}

// PollInterval returns the fallback poller tick as a duration.
func (c *ReconnectConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}
