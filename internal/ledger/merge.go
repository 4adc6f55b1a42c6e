package ledger

import (
	"log/slog"
	"sort"
)

// Intent is a mutation the merge decided must reach the remote replica via
// the outbound queue.
type Intent struct {
	Op         Op
	Collection string
	RecordID   string
	Record     Record
}

// TransactionsCollection is the queue target for transaction intents.
const TransactionsCollection = "transactions"

// MergeResult is the outcome of one reconciliation pass.
type MergeResult struct {
	Records []Record
	Intents []Intent

	// Counters for logging and status display.
	RemoteCount int
	LocalOnly   int
	Resolved    int
}

// Merger combines a local and a remote record set into one canonical set.
// It is pure over its inputs and owns nothing: callers persist the result
// and enqueue the intents.
type Merger struct {
	logger *slog.Logger
}

// NewMerger creates a Merger that logs classification decisions at debug
// level.
func NewMerger(logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}

	return &Merger{logger: logger}
}

// Merge reconciles the two replicas. Rules, applied in order:
//
//  1. Every remote record is included, tagged synced, carrying its own ID
//     as the canonical cloud identity. A converged local copy still
//     carrying conflict_resolved keeps that status over the synced tag.
//  2. Every local record whose identity (ID, falling back to CloudID) is
//     absent from the remote set is a genuinely local-only record and is
//     included as-is, tagged pending unless it was already synced. A local
//     record whose identity IS present but whose content diverges from the
//     remote copy goes through Resolve, and the resolver output replaces
//     the step-1 emission.
//  3. Each included record left pending produces exactly one create
//     intent, unless alreadyQueued says a prior pass enqueued it.
//  4. The merged set is sorted by OccurredAt descending — a presentation
//     convenience, re-derivable at any time.
//
// Running Merge over its own output is a no-op: no new intents, stable
// statuses. alreadyQueued may be nil when no queue state exists.
func (m *Merger) Merge(local, remote []Record, alreadyQueued map[string]bool) *MergeResult {
	result := &MergeResult{RemoteCount: len(remote)}

	merged := make([]Record, 0, len(remote)+len(local))
	slot := make(map[string]int, len(remote)) // identity → index in merged

	// Step 1: remote records win inclusion unconditionally.
	for i := range remote {
		rec := remote[i]
		rec.SyncStatus = StatusSynced
		rec.CloudID = remote[i].ID

		slot[rec.ID] = len(merged)
		merged = append(merged, rec)
	}

	// Step 2: local-only inclusion and divergence resolution.
	for i := range local {
		loc := local[i]

		idx, present := m.remoteSlot(&loc, slot)
		if !present {
			if loc.SyncStatus != StatusSynced {
				loc.SyncStatus = StatusPending
			}

			result.LocalOnly++

			m.logger.Debug("local-only record included",
				slog.String("id", loc.Identity()),
				slog.String("status", string(loc.SyncStatus)),
			)

			slot[loc.Identity()] = len(merged)
			merged = append(merged, loc)

			continue
		}

		if loc.EquivalentTo(&merged[idx]) {
			// Converged copies: the remote emission stands, but a
			// conflict_resolved tag on the local copy is the richer
			// reconciliation outcome and must not be flattened to synced.
			if loc.SyncStatus == StatusConflictResolved {
				merged[idx].SyncStatus = StatusConflictResolved
			}

			continue
		}

		// True divergence: both replicas changed this record.
		merged[idx] = Resolve(loc, merged[idx], m.logger)
		result.Resolved++
	}

	// Step 3: create intents for records still pending.
	for i := range merged {
		if merged[i].SyncStatus != StatusPending {
			continue
		}

		if alreadyQueued[merged[i].Identity()] {
			continue
		}

		result.Intents = append(result.Intents, Intent{
			Op:         OpCreate,
			Collection: TransactionsCollection,
			RecordID:   merged[i].Identity(),
			Record:     merged[i],
		})
	}

	// Step 4: newest-first presentation order, deterministic tiebreak.
	sort.SliceStable(merged, func(a, b int) bool {
		if merged[a].OccurredAt != merged[b].OccurredAt {
			return merged[a].OccurredAt > merged[b].OccurredAt
		}

		if merged[a].CreatedAt != merged[b].CreatedAt {
			return merged[a].CreatedAt > merged[b].CreatedAt
		}

		return merged[a].Identity() < merged[b].Identity()
	})

	result.Records = merged

	m.logger.Info("merge complete",
		slog.Int("remote", result.RemoteCount),
		slog.Int("local_only", result.LocalOnly),
		slog.Int("resolved", result.Resolved),
		slog.Int("intents", len(result.Intents)),
		slog.Int("total", len(merged)),
	)

	return result
}

// remoteSlot finds the merged-set slot sharing the local record's identity.
// Matches on the record's own ID first, then the cloud cross-reference.
func (m *Merger) remoteSlot(loc *Record, slot map[string]int) (int, bool) {
	if idx, ok := slot[loc.ID]; ok && loc.ID != "" {
		return idx, true
	}

	if idx, ok := slot[loc.CloudID]; ok && loc.CloudID != "" {
		return idx, true
	}

	return 0, false
}
