// Package config implements TOML configuration loading, validation, and
// platform path resolution for ledgersync. Overrides apply in a three-layer
// chain: defaults -> config file -> environment.
package config

import (
	"fmt"
	"time"
)

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Remote  RemoteConfig  `toml:"remote"`
	Sync    SyncConfig    `toml:"sync"`
	Logging LoggingConfig `toml:"logging"`
	Device  DeviceConfig  `toml:"device"`
}

// RemoteConfig points at the cloud service holding the shared replica.
type RemoteConfig struct {
	BaseURL        string `toml:"base_url"`
	FeedURL        string `toml:"feed_url"` // websocket change feed; empty disables it
	ConnectTimeout string `toml:"connect_timeout"`
}

// SyncConfig controls the engine: polling cadence and watch-mode behavior.
type SyncConfig struct {
	PollInterval string `toml:"poll_interval"`
	WatchDataDir bool   `toml:"watch_data_dir"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text or json
}

// DeviceConfig identifies this replica. ID is minted on first run when
// empty; Name defaults to the hostname.
type DeviceConfig struct {
	ID   string `toml:"id"`
	Name string `toml:"name"`
	Type string `toml:"type"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Remote: RemoteConfig{
			BaseURL:        "https://api.ledgersync.dev",
			FeedURL:        "wss://api.ledgersync.dev/v1/events",
			ConnectTimeout: "30s",
		},
		Sync: SyncConfig{
			PollInterval: "5m",
			WatchDataDir: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Device: DeviceConfig{
			Type: "cli",
		},
	}
}

// PollInterval parses the sync cadence.
func (c *Config) PollInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Sync.PollInterval)
	if err != nil {
		return 0, fmt.Errorf("config: invalid sync.poll_interval %q: %w", c.Sync.PollInterval, err)
	}

	return d, nil
}

// ConnectTimeout parses the remote connect timeout.
func (c *Config) ConnectTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Remote.ConnectTimeout)
	if err != nil {
		return 0, fmt.Errorf("config: invalid remote.connect_timeout %q: %w", c.Remote.ConnectTimeout, err)
	}

	return d, nil
}

// Validate checks the configuration for actionable mistakes. It collects
// nothing: the first problem is returned with enough context to fix it.
func (c *Config) Validate() error {
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("config: remote.base_url must not be empty")
	}

	if _, err := c.PollInterval(); err != nil {
		return err
	}

	if _, err := c.ConnectTimeout(); err != nil {
		return err
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: logging.format %q is not one of text, json", c.Logging.Format)
	}

	return nil
}
