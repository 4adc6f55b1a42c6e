package config

import (
	"os"
	"path/filepath"
)

// appDir is the subdirectory name under XDG base directories.
const appDir = "ledgersync"

// DefaultConfigPath returns the config file location, honoring
// LEDGERSYNC_CONFIG and XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appDir, "config.toml")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", appDir, "config.toml")
	}

	return filepath.Join(home, ".config", appDir, "config.toml")
}

// DataDir returns the directory holding the local replica database, the
// pidfile, and the session token, honoring LEDGERSYNC_DATA_DIR and
// XDG_DATA_HOME.
func DataDir() string {
	if p := os.Getenv(EnvDataDir); p != "" {
		return p
	}

	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appDir)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", appDir)
	}

	return filepath.Join(home, ".local", "share", appDir)
}

// StatePath returns the local replica database path.
func StatePath() string {
	return filepath.Join(DataDir(), "ledger.db")
}

// TokenPath returns the session token file path.
func TokenPath() string {
	return filepath.Join(DataDir(), "session.json")
}

// PidfilePath returns the watch-mode pidfile path.
func PidfilePath() string {
	return filepath.Join(DataDir(), "ledgersync.pid")
}
