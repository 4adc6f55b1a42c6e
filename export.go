package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/ledgersync/internal/ledger"
)

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Export the merged transaction set as JSON",
		Long:  "Writes the full local transaction set to stdout as JSON, waiting for\nany in-flight sync cycle to finish first so the export never captures a\nmid-cycle state.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()
			ctx := cmd.Context()

			e, err := buildEngine(ctx, logger)
			if err != nil {
				return err
			}
			defer e.Close()

			records, err := e.orch.SnapshotWhenQuiet(ctx)
			if err != nil {
				return err
			}

			body, err := ledger.MarshalRecords(records)
			if err != nil {
				return err
			}

			if _, err := os.Stdout.Write(append(body, '\n')); err != nil {
				return err
			}

			return nil
		},
	}
}
