package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/ledgersync/internal/ledger"
)

// conflictJSON is the machine-readable shape for conflicts output. The
// losing version is included verbatim as captured by the resolver.
type conflictJSON struct {
	ID         string          `json:"id"`
	Resolution string          `json:"resolution"`
	Kind       string          `json:"kind"`
	Amount     string          `json:"amount"`
	Category   string          `json:"category,omitempty"`
	OccurredAt string          `json:"occurred_at"`
	Loser      json.RawMessage `json:"losing_version,omitempty"`
}

func newConflictsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "List transactions whose divergent copies were reconciled",
		Long:  "Shows every transaction tagged conflict_resolved: which side won and,\nwith --json, the full losing version retained for audit.",
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

			var conflicts []*ledger.Record

			for i := range records {
				if records[i].SyncStatus == ledger.StatusConflictResolved {
					conflicts = append(conflicts, &records[i])
				}
			}

			if flagJSON {
				out := make([]conflictJSON, 0, len(conflicts))

				for _, rec := range conflicts {
					out = append(out, conflictJSON{
						ID:         rec.Identity(),
						Resolution: string(rec.Resolution),
						Kind:       string(rec.Kind),
						Amount:     rec.Amount.StringFixed(2),
						Category:   rec.Category,
						OccurredAt: ledger.FromUnixNano(rec.OccurredAt).Format("2006-01-02"),
						Loser:      json.RawMessage(rec.Provenance),
					})
				}

				return writeJSON(out)
			}

			if len(conflicts) == 0 {
				statusf("No resolved conflicts")
				return nil
			}

			rows := make([][]string, 0, len(conflicts))

			for _, rec := range conflicts {
				rows = append(rows, []string{
					ledger.FromUnixNano(rec.OccurredAt).Format("2006-01-02"),
					formatAmount(rec.Kind, rec.Amount),
					rec.Category,
					string(rec.Resolution),
					rec.Identity(),
				})
			}

			printTable([]string{"DATE", "AMOUNT", "CATEGORY", "RESOLUTION", "ID"}, rows)

			return nil
		},
	}
}
