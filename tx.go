package main

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/ledgersync/internal/ledger"
)

func newTxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tx",
		Short: "Record and inspect ledger transactions",
	}

	cmd.AddCommand(newTxAddCmd(), newTxListCmd(), newTxDeleteCmd())

	return cmd
}

func newTxAddCmd() *cobra.Command {
	var (
		flagAmount      string
		flagKind        string
		flagCategory    string
		flagDescription string
		flagDate        string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a transaction to the local ledger",
		Long:  "Adds a transaction to the device-local replica and synchronizes it\nto the cloud when reachable. Offline additions stay pending until the\nnext successful sync.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()
			ctx := cmd.Context()

			amount, err := decimal.NewFromString(flagAmount)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", flagAmount, err)
			}

			if amount.IsNegative() {
				return fmt.Errorf("amount must not be negative (use --kind expense)")
			}

			kind := ledger.Kind(flagKind)
			if kind != ledger.KindIncome && kind != ledger.KindExpense {
				return fmt.Errorf("invalid kind %q (expected income or expense)", flagKind)
			}

			occurredAt := ledger.NowNano()
			if flagDate != "" {
				occurredAt, err = parseDate(flagDate)
				if err != nil {
					return err
				}
			}

			e, err := buildEngine(ctx, logger)
			if err != nil {
				return err
			}
			defer e.Close()

			now := ledger.NowNano()
			rec := ledger.Record{
				ID:          uuid.New().String(),
				UserID:      e.sess.UserID,
				Kind:        kind,
				Amount:      amount,
				Category:    flagCategory,
				Description: flagDescription,
				OccurredAt:  occurredAt,
				CreatedAt:   now,
				UpdatedAt:   now,
				DeviceID:    e.sess.DeviceID,
				SyncStatus:  ledger.StatusPending,
			}

			records, err := e.store.Load(ctx, e.sess.UserID)
			if err != nil {
				return err
			}

			records = append(records, rec)

			if err := e.store.Save(ctx, e.sess.UserID, records); err != nil {
				return err
			}

			logger.Info("transaction recorded",
				slog.String("id", rec.ID),
				slog.String("kind", string(kind)),
				slog.String("amount", amount.String()),
			)

			// Attempt to confirm the mutation against the remote replica
			// right away. Failure is not fatal: the record stays pending
			// and the next cycle picks it up.
			e.orch.Trigger(ctx, ledger.TriggerMutation)

			if e.orch.State() == ledger.StateSynced {
				statusf("Added %s %s (synced)", kind, formatAmount(kind, amount))
			} else {
				statusf("Added %s %s (pending sync)", kind, formatAmount(kind, amount))
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&flagAmount, "amount", "", "transaction amount, e.g. 12.50")
	cmd.Flags().StringVar(&flagKind, "kind", string(ledger.KindExpense), "income or expense")
	cmd.Flags().StringVar(&flagCategory, "category", "", "category label")
	cmd.Flags().StringVar(&flagDescription, "description", "", "free-form description")
	cmd.Flags().StringVar(&flagDate, "date", "", "occurrence date (YYYY-MM-DD, default today)")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

// txJSON is the machine-readable shape for tx list output.
type txJSON struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Amount      string `json:"amount"`
	Category    string `json:"category,omitempty"`
	Description string `json:"description,omitempty"`
	OccurredAt  string `json:"occurred_at"`
	SyncStatus  string `json:"sync_status"`
	Deleted     bool   `json:"deleted,omitempty"`
}

func newTxListCmd() *cobra.Command {
	var flagAll bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List transactions from the local replica",
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

			records, err := store.Load(ctx, sess.UserID)
			if err != nil {
				return err
			}

			if flagJSON {
				out := make([]txJSON, 0, len(records))

				for i := range records {
					rec := &records[i]
					if rec.Deleted && !flagAll {
						continue
					}

					out = append(out, txJSON{
						ID:          rec.Identity(),
						Kind:        string(rec.Kind),
						Amount:      rec.Amount.StringFixed(2),
						Category:    rec.Category,
						Description: rec.Description,
						OccurredAt:  ledger.FromUnixNano(rec.OccurredAt).Format("2006-01-02"),
						SyncStatus:  string(rec.SyncStatus),
						Deleted:     rec.Deleted,
					})
				}

				return writeJSON(out)
			}

			rows := make([][]string, 0, len(records))

			for i := range records {
				rec := &records[i]
				if rec.Deleted && !flagAll {
					continue
				}

				rows = append(rows, []string{
					ledger.FromUnixNano(rec.OccurredAt).Format("2006-01-02"),
					formatAmount(rec.Kind, rec.Amount),
					rec.Category,
					rec.Description,
					string(rec.SyncStatus),
					rec.Identity(),
				})
			}

			printTable([]string{"DATE", "AMOUNT", "CATEGORY", "DESCRIPTION", "STATUS", "ID"}, rows)

			return nil
		},
	}

	cmd.Flags().BoolVar(&flagAll, "all", false, "include soft-deleted transactions")

	return cmd
}

func newTxDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Soft-delete a transaction",
		Long:  "Marks a transaction as deleted. The record is retained as a tombstone\nso the deletion propagates to every replica; it never reappears from a\nstale copy.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := buildLogger()
			ctx := cmd.Context()
			id := args[0]

			e, err := buildEngine(ctx, logger)
			if err != nil {
				return err
			}
			defer e.Close()

			records, err := e.store.Load(ctx, e.sess.UserID)
			if err != nil {
				return err
			}

			var target *ledger.Record

			for i := range records {
				if records[i].Identity() == id || records[i].ID == id {
					target = &records[i]
					break
				}
			}

			if target == nil {
				return fmt.Errorf("no transaction with ID %s", id)
			}

			if target.Deleted {
				statusf("Transaction %s is already deleted", id)
				return nil
			}

			target.Deleted = true
			target.UpdatedAt = ledger.NowNano()
			target.SyncStatus = ledger.StatusPending

			if err := e.store.Save(ctx, e.sess.UserID, records); err != nil {
				return err
			}

			// The deletion intent goes straight to the queue: unlike
			// creations, tombstones are not derivable from a merge pass
			// against a remote copy that predates the delete.
			payload, err := ledger.MarshalRecord(target)
			if err != nil {
				return err
			}

			if err := e.queue.Enqueue(ctx, ledger.OpDelete, ledger.TransactionsCollection, target.Identity(), payload); err != nil {
				return err
			}

			e.orch.Trigger(ctx, ledger.TriggerMutation)

			statusf("Deleted transaction %s", id)

			return nil
		},
	}
}
