package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/ledgersync/internal/cloud"
	"github.com/tonimelisma/ledgersync/internal/config"
	"github.com/tonimelisma/ledgersync/internal/ledger"
	"github.com/tonimelisma/ledgersync/internal/tokenfile"
)

func newSyncCmd() *cobra.Command {
	var (
		flagWatch bool
		flagWake  bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize the local ledger with the cloud",
		Long:  "Runs one reconciliation cycle against the cloud replica. With --watch,\nstays running and syncs on a timer, on data directory changes, on\nremote change notifications, and on SIGUSR1.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flagWake {
				return sendWake(config.PidfilePath())
			}

			logger := buildLogger()

			if flagWatch {
				return runWatch(cmd.Context(), logger)
			}

			return runOnce(cmd.Context(), logger)
		},
	}

	cmd.Flags().BoolVar(&flagWatch, "watch", false, "keep running and sync continuously")
	cmd.Flags().BoolVar(&flagWake, "wake", false, "signal a running --watch daemon to sync now")
	cmd.MarkFlagsMutuallyExclusive("watch", "wake")

	return cmd
}

// runOnce performs a single forced sync cycle and reports its outcome.
func runOnce(ctx context.Context, logger *slog.Logger) error {
	e, err := buildEngine(ctx, logger)
	if err != nil {
		return err
	}
	defer e.Close()

	if !e.client.Ping(ctx) {
		return fmt.Errorf("cloud unreachable at %s", loadedCfg.Remote.BaseURL)
	}

	e.orch.Trigger(ctx, ledger.TriggerForce)

	if e.orch.State() == ledger.StateError {
		return fmt.Errorf("sync failed: %s", e.orch.LastError())
	}

	statusf("Sync completed at %s", formatTime(e.orch.LastSyncAt()))

	return nil
}

// runWatch runs the long-lived sync daemon: a poll ticker, the data
// directory watcher, the cloud change feed, and a SIGUSR1 wake handler all
// feed triggers into one orchestrator. The in-progress guard coalesces
// whatever arrives while a cycle is running.
func runWatch(ctx context.Context, logger *slog.Logger) error {
	cleanup, err := writePIDFile(config.PidfilePath())
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := shutdownContext(ctx)
	defer cancel()

	e, err := buildEngine(ctx, logger)
	if err != nil {
		return err
	}
	defer e.Close()

	interval, err := e.cfg.PollInterval()
	if err != nil {
		return err
	}

	e.orch.Subscribe(func(n ledger.Notification) {
		statusf("Synced %s at %s", n.Username, formatTime(n.Timestamp))
	})

	// Probe once at startup; the change feed owns connectivity edges from
	// here on. If we start offline the initial trigger is deferred and
	// fires on the first connected edge.
	e.orch.SetOnline(ctx, e.client.Ping(ctx))

	// Initial cycle before settling into event-driven operation.
	e.orch.Trigger(ctx, ledger.TriggerForce)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				e.orch.Trigger(ctx, ledger.TriggerTimer)
			}
		}
	})

	g.Go(func() error {
		wake := wakeSignals()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-wake:
				logger.Info("wake signal received")
				e.orch.Trigger(ctx, ledger.TriggerWake)
			}
		}
	})

	if e.cfg.Sync.WatchDataDir {
		watcher := ledger.NewWatcher(config.DataDir(), func(ctx context.Context, reason ledger.TriggerReason) {
			e.orch.Trigger(ctx, reason)
		}, logger)

		g.Go(func() error {
			return watcher.Run(ctx)
		})
	}

	if e.cfg.Remote.FeedURL != "" {
		feed := cloud.NewFeed(
			e.cfg.Remote.FeedURL,
			tokenfile.Source{Path: config.TokenPath()},
			newHTTPClient(),
			logger,
		)

		g.Go(func() error {
			return feed.Run(ctx, func(ev cloud.Event) {
				switch ev.Type {
				case cloud.EventConnected:
					e.orch.SetOnline(ctx, true)
				case cloud.EventDisconnected:
					e.orch.SetOnline(ctx, false)
				case cloud.EventRemoteChanged:
					e.orch.Trigger(ctx, ledger.TriggerRemoteChange)
				}
			})
		})
	}

	logger.Info("watch mode running",
		slog.Duration("poll_interval", interval),
		slog.Bool("data_dir_watch", e.cfg.Sync.WatchDataDir),
		slog.Bool("change_feed", e.cfg.Remote.FeedURL != ""),
	)

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}

	statusf("Shutdown complete")

	return nil
}
