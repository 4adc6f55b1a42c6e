package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/ledgersync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// loadedCfg holds the effective configuration loaded by PersistentPreRunE.
// It is available to all subcommands after the root pre-run phase completes.
var loadedCfg *config.Config

// httpClientTimeout is the fallback timeout for HTTP requests when the
// config value cannot be parsed. Prevents hung connections from blocking
// CLI commands indefinitely.
const httpClientTimeout = 30 * time.Second

// newHTTPClient returns an HTTP client with the configured timeout.
func newHTTPClient() *http.Client {
	timeout := httpClientTimeout
	if loadedCfg != nil {
		if d, err := loadedCfg.ConnectTimeout(); err == nil {
			timeout = d
		}
	}

	return &http.Client{Timeout: timeout}
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ledgersync",
		Short:   "Multi-device ledger sync client",
		Long:    "A personal finance ledger that stays consistent across devices,\nonline or offline, with last-writer-wins reconciliation.",
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			path := flagConfigPath
			if path == "" {
				path = config.DefaultConfigPath()
			}

			cfg, err := config.LoadOrDefault(path)
			if err != nil {
				return err
			}

			loadedCfg = cfg

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "machine-readable JSON output")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "errors only")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(
		newLoginCmd(),
		newLogoutCmd(),
		newWhoamiCmd(),
		newTxCmd(),
		newSyncCmd(),
		newStatusCmd(),
		newConflictsCmd(),
		newQueueCmd(),
		newVerifyCmd(),
		newExportCmd(),
	)

	return cmd
}

// buildLogger creates an slog.Logger configured by the loaded config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it because CLI flags always win.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo
	format := "text"

	if loadedCfg != nil {
		switch loadedCfg.Logging.Level {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}

		format = loadedCfg.Logging.Format
	}

	// CLI flags override config (highest priority).
	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
