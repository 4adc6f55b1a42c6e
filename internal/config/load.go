package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/BurntSushi/toml"
)

// Environment variable names. Each overrides its config-file counterpart.
const (
	EnvConfig    = "LEDGERSYNC_CONFIG"
	EnvRemoteURL = "LEDGERSYNC_REMOTE_URL"
	EnvFeedURL   = "LEDGERSYNC_FEED_URL"
	EnvLogLevel  = "LEDGERSYNC_LOG_LEVEL"
	EnvDataDir   = "LEDGERSYNC_DATA_DIR"
)

// Load reads and validates the config file at path, layering it over the
// defaults and applying environment overrides on top.
func Load(path string) (*Config, error) {
	cfg := Default()

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: %s contains unknown key %q", path, undecoded[0].String())
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault behaves like Load but substitutes pure defaults when the
// file does not exist. First-run UX: no config file is not an error.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		cfg := Default()
		applyEnv(cfg)

		if err := cfg.Validate(); err != nil {
			return nil, err
		}

		return cfg, nil
	}

	return Load(path)
}

// applyEnv overrides config values from the environment.
func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvRemoteURL); v != "" {
		cfg.Remote.BaseURL = v
	}

	if v := os.Getenv(EnvFeedURL); v != "" {
		cfg.Remote.FeedURL = v
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
}
