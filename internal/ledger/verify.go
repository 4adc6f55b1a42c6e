package ledger

import (
	"fmt"
	"log/slog"
)

// VerifyReport is the outcome of one integrity pass over a snapshot.
// Violations are human-readable descriptions, collected rather than thrown.
type VerifyReport struct {
	Violations          []string
	RemovedTransactions int
	RemovedDevices      int
}

// Repaired reports whether the pass removed anything, i.e. whether the
// snapshot should be persisted.
func (r *VerifyReport) Repaired() bool {
	return r.RemovedTransactions > 0 || r.RemovedDevices > 0
}

// Verifier validates referential invariants over one store's snapshot and
// repairs violations in place. It runs once per store load, before any
// reconciliation, and always against a single store in isolation — never
// across stores.
type Verifier struct {
	logger *slog.Logger
}

// NewVerifier creates a Verifier that logs repairs at warn level.
func NewVerifier(logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}

	return &Verifier{logger: logger}
}

// Run checks every transaction's and device's owning user against the user
// set. Orphans are deleted outright from the snapshot — a hard delete, not
// a tombstone: a record whose owner does not exist cannot propagate
// anywhere meaningful. The caller persists the snapshot when Repaired().
func (v *Verifier) Run(snap *Snapshot) *VerifyReport {
	report := &VerifyReport{}

	users := make(map[string]bool, len(snap.Users))
	for i := range snap.Users {
		users[snap.Users[i].ID] = true
	}

	kept := snap.Transactions[:0]

	for i := range snap.Transactions {
		tx := snap.Transactions[i]
		if users[tx.UserID] {
			kept = append(kept, tx)
			continue
		}

		report.Violations = append(report.Violations, fmt.Sprintf(
			"transaction %s references non-existent user %s", tx.ID, tx.UserID,
		))
		report.RemovedTransactions++

		v.logger.Warn("integrity: removing orphaned transaction",
			slog.String("id", tx.ID),
			slog.String("user_id", tx.UserID),
		)
	}

	snap.Transactions = kept

	keptDevices := snap.Devices[:0]

	for i := range snap.Devices {
		dev := snap.Devices[i]
		if users[dev.UserID] {
			keptDevices = append(keptDevices, dev)
			continue
		}

		report.Violations = append(report.Violations, fmt.Sprintf(
			"device %s references non-existent user %s", dev.ID, dev.UserID,
		))
		report.RemovedDevices++

		v.logger.Warn("integrity: removing orphaned device",
			slog.String("id", dev.ID),
			slog.String("user_id", dev.UserID),
		)
	}

	snap.Devices = keptDevices

	if report.Repaired() {
		v.logger.Warn("integrity repair complete",
			slog.Int("violations", len(report.Violations)),
			slog.Int("removed_transactions", report.RemovedTransactions),
			slog.Int("removed_devices", report.RemovedDevices),
		)
	}

	return report
}
