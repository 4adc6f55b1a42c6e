package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/ledgersync/internal/ledger"
)

// queueJSON is the machine-readable shape for queue output.
type queueJSON struct {
	ID         string `json:"id"`
	Op         string `json:"op"`
	Collection string `json:"collection"`
	RecordID   string `json:"record_id"`
	Status     string `json:"status"`
	RetryCount int    `json:"retry_count"`
	LastError  string `json:"last_error,omitempty"`
	CreatedAt  string `json:"created_at"`
}

func newQueueCmd() *cobra.Command {
	var flagFailed bool

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "List outbound sync queue items",
		Long:  "Shows mutations waiting to be pushed to the cloud. With --failed, shows\npoison items that exhausted their retries and need manual attention.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()
			ctx := cmd.Context()

			store, err := openLocalStore(ctx, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			status := ledger.QueuePending
			if flagFailed {
				status = ledger.QueueFailed
			}

			items, err := store.ListQueueItems(ctx, status)
			if err != nil {
				return err
			}

			if flagJSON {
				out := make([]queueJSON, 0, len(items))

				for _, item := range items {
					out = append(out, queueJSON{
						ID:         item.ID,
						Op:         string(item.Op),
						Collection: item.Collection,
						RecordID:   item.RecordID,
						Status:     string(item.Status),
						RetryCount: item.RetryCount,
						LastError:  item.LastError,
						CreatedAt:  formatTime(item.CreatedAt),
					})
				}

				return writeJSON(out)
			}

			if len(items) == 0 {
				if flagFailed {
					statusf("No failed queue items")
				} else {
					statusf("Queue is empty")
				}

				return nil
			}

			rows := make([][]string, 0, len(items))

			for _, item := range items {
				rows = append(rows, []string{
					formatTime(item.CreatedAt),
					string(item.Op),
					item.RecordID,
					string(item.Status),
					strconv.Itoa(item.RetryCount),
					item.LastError,
				})
			}

			printTable([]string{"CREATED", "OP", "RECORD", "STATUS", "RETRIES", "ERROR"}, rows)

			return nil
		},
	}

	cmd.Flags().BoolVar(&flagFailed, "failed", false, "show poison items instead of pending ones")

	return cmd
}
