package main

import (
	"github.com/spf13/cobra"

	"github.com/tonimelisma/ledgersync/internal/config"
	"github.com/tonimelisma/ledgersync/internal/ledger"
)

// logEntryJSON is the machine-readable shape for trail entries.
type logEntryJSON struct {
	Time     string `json:"time"`
	Event    string `json:"event"`
	Username string `json:"username,omitempty"`
	DeviceID string `json:"device_id,omitempty"`
	Details  string `json:"details,omitempty"`
}

// statusJSON is the machine-readable shape for status output.
type statusJSON struct {
	Username     string `json:"username"`
	DeviceID     string `json:"device_id"`
	DataDir      string `json:"data_dir"`
	LastSync     string `json:"last_sync,omitempty"`
	LastError    string `json:"last_error,omitempty"`
	QueuePending int    `json:"queue_pending"`
	QueueFailed  int    `json:"queue_failed"`
}

func newStatusCmd() *cobra.Command {
	var (
		flagLog      bool
		flagLogLimit int
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sync state, queue depth, and the recent sync trail",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()
			ctx := cmd.Context()

			sess, err := requireSession()
			if err != nil {
				return err
			}

			store, err := openLocalStore(ctx, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			if flagLog {
				entries, err := store.ListLog(ctx, flagLogLimit)
				if err != nil {
					return err
				}

				if flagJSON {
					out := make([]logEntryJSON, 0, len(entries))

					for _, e := range entries {
						out = append(out, logEntryJSON{
							Time:     formatTime(e.Timestamp),
							Event:    e.Event,
							Username: e.Username,
							DeviceID: e.DeviceID,
							Details:  e.Details,
						})
					}

					return writeJSON(out)
				}

				rows := make([][]string, 0, len(entries))
				for _, e := range entries {
					rows = append(rows, []string{
						formatTime(e.Timestamp),
						e.Event,
						e.Username,
						e.Details,
					})
				}

				printTable([]string{"TIME", "EVENT", "USER", "DETAILS"}, rows)

				return nil
			}

			pending, err := store.ListQueueItems(ctx, ledger.QueuePending)
			if err != nil {
				return err
			}

			failed, err := store.ListQueueItems(ctx, ledger.QueueFailed)
			if err != nil {
				return err
			}

			// The last completed sync and the last failure come from the
			// trail: one-shot invocations have no live orchestrator.
			entries, err := store.ListLog(ctx, 50)
			if err != nil {
				return err
			}

			var lastSync, lastErr string

			for _, e := range entries {
				if lastSync == "" && e.Event == ledger.EventSyncCompleted {
					lastSync = formatTime(e.Timestamp)
				}

				if lastErr == "" && e.Event == ledger.EventSyncError {
					lastErr = e.Details
				}

				if lastSync != "" && lastErr != "" {
					break
				}
			}

			if flagJSON {
				return writeJSON(statusJSON{
					Username:     sess.Username,
					DeviceID:     sess.DeviceID,
					DataDir:      config.DataDir(),
					LastSync:     lastSync,
					LastError:    lastErr,
					QueuePending: len(pending),
					QueueFailed:  len(failed),
				})
			}

			statusf("User:           %s", sess.Username)
			statusf("Device:         %s", sess.DeviceID)
			statusf("Data directory: %s", config.DataDir())

			if lastSync == "" {
				lastSync = "never"
			}

			statusf("Last sync:      %s", lastSync)

			if lastErr != "" {
				statusf("Last error:     %s", lastErr)
			}

			statusf("Queue:          %d pending, %d failed", len(pending), len(failed))

			return nil
		},
	}

	cmd.Flags().BoolVar(&flagLog, "log", false, "show the sync trail instead of the summary")
	cmd.Flags().IntVar(&flagLogLimit, "limit", 20, "trail entries to show with --log")

	return cmd
}
