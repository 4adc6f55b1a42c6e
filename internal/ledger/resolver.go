package ledger

import (
	"encoding/json"
	"log/slog"
)

// Resolve reconciles two divergent copies of the same logical record into
// one. The policy is last-writer-wins keyed on CreatedAt: a strictly later
// local creation wins, anything else (including a tie) goes to the remote
// copy. Note the key is CreatedAt, not UpdatedAt — a later edit to an
// older-created record loses. That matches the behavior every deployed
// replica already exhibits; changing the key would silently change which
// writer wins under concurrent edits.
//
// The function is pure, deterministic, and total. The losing version is
// attached to the winner as JSON provenance.
func Resolve(local, remote Record, logger *slog.Logger) Record {
	if logger == nil {
		logger = slog.Default()
	}

	if local.CreatedAt > remote.CreatedAt {
		logger.Debug("conflict resolved",
			slog.String("id", local.Identity()),
			slog.String("winner", string(ResolutionLocalWins)),
		)

		winner := local
		winner.SyncStatus = StatusConflictResolved
		winner.Resolution = ResolutionLocalWins
		winner.Provenance = provenanceJSON(&remote)

		return winner
	}

	logger.Debug("conflict resolved",
		slog.String("id", remote.Identity()),
		slog.String("winner", string(ResolutionCloudWins)),
	)

	winner := remote
	winner.SyncStatus = StatusSynced
	winner.CloudID = remote.ID
	winner.Resolution = ResolutionCloudWins
	winner.Provenance = provenanceJSON(&local)

	return winner
}

// provenanceRecord is the JSON shape of a losing version. Amount is kept
// as a string so the decimal survives round-trips exactly.
type provenanceRecord struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Kind        string `json:"kind"`
	Amount      string `json:"amount"`
	Category    string `json:"category"`
	Description string `json:"description"`
	OccurredAt  int64  `json:"occurred_at"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
	DeviceID    string `json:"device_id"`
	Deleted     bool   `json:"deleted"`
}

// provenanceJSON serializes the losing version. Marshal cannot fail for
// this shape, so Resolve stays total.
func provenanceJSON(r *Record) []byte {
	data, err := json.Marshal(provenanceRecord{
		ID:          r.ID,
		UserID:      r.UserID,
		Kind:        string(r.Kind),
		Amount:      r.Amount.String(),
		Category:    r.Category,
		Description: r.Description,
		OccurredAt:  r.OccurredAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		DeviceID:    r.DeviceID,
		Deleted:     r.Deleted,
	})
	if err != nil {
		return nil
	}

	return data
}
