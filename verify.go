package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/ledgersync/internal/ledger"
)

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the local replica for referential integrity",
		Long:  "Audits the local replica: every transaction must reference an existing\nuser, and every device must belong to one. Dangling rows are repaired by\nhard deletion when the database is opened; verify reports what remains.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()
			ctx := cmd.Context()

			// Opening the store runs the repair pass, so a clean report
			// here means the on-disk state is consistent right now.
			store, err := openLocalStore(ctx, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			snap, err := store.LoadSnapshot(ctx)
			if err != nil {
				return err
			}

			report := ledger.NewVerifier(logger).Run(snap)

			if flagJSON {
				return writeJSON(map[string]any{
					"users":                len(snap.Users),
					"devices":              len(snap.Devices),
					"transactions":         len(snap.Transactions),
					"violations":           report.Violations,
					"removed_transactions": report.RemovedTransactions,
					"removed_devices":      report.RemovedDevices,
				})
			}

			statusf("Users:        %d", len(snap.Users))
			statusf("Devices:      %d", len(snap.Devices))
			statusf("Transactions: %d", len(snap.Transactions))

			if !report.Repaired() {
				statusf("Integrity:    OK")
				return nil
			}

			for _, v := range report.Violations {
				statusf("Violation:    %s", v)
			}

			return fmt.Errorf("integrity check found %d violation(s)", len(report.Violations))
		},
	}
}
