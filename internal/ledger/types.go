// Package ledger implements the multi-device synchronization engine for
// ledgersync. It provides the record store contracts, the reconciliation
// merge, last-writer-wins conflict resolution, referential-integrity
// verification, the outbound sync queue, and the sync orchestrator state
// machine — the full reconciliation pipeline.
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Kind classifies a transaction as money in or money out.
type Kind string

// Transaction kinds as stored in the records kind column.
const (
	KindIncome  Kind = "income"
	KindExpense Kind = "expense"
)

// SyncStatus reflects the outcome of the most recent reconciliation for a
// record. It is derived state, never client-set intent.
type SyncStatus string

// Sync statuses as stored in the records sync_status column.
const (
	StatusSynced           SyncStatus = "synced"
	StatusPending          SyncStatus = "pending"
	StatusConflictResolved SyncStatus = "conflict_resolved"
)

// Resolution records which side won when divergent copies were reconciled.
type Resolution string

// Resolution tags as stored in the records resolution column.
const (
	ResolutionNone      Resolution = ""
	ResolutionLocalWins Resolution = "local_wins"
	ResolutionCloudWins Resolution = "cloud_wins"
)

// Record is one ledger transaction as tracked by the sync engine. The same
// shape is used for both the device-local replica and the shared remote
// replica; only the orchestrator knows which store is which.
type Record struct {
	ID          string
	UserID      string
	Kind        Kind
	Amount      decimal.Decimal // non-negative; Kind carries the sign semantics
	Category    string
	Description string

	// Timestamps are Unix nanoseconds. Conversion to RFC3339 happens at
	// the JSON boundary only (internal/cloud).
	OccurredAt int64
	CreatedAt  int64
	UpdatedAt  int64

	DeviceID string

	// Soft-delete tombstone. Deleted records are retained so the deletion
	// propagates to other replicas; they are never physically removed by
	// the merge or repair passes.
	Deleted bool

	SyncStatus SyncStatus
	CloudID    string // canonical cloud identity once the record has crossed over

	// Conflict provenance, populated by the resolver.
	Resolution Resolution
	Provenance []byte // JSON snapshot of the losing version, empty when none
}

// Identity returns the merge key for the record: its own ID, falling back
// to the cloud cross-reference during the local→cloud bridging period.
func (r *Record) Identity() string {
	if r.ID != "" {
		return r.ID
	}

	return r.CloudID
}

// EquivalentTo reports whether two records carry the same ledger content.
// Derived fields (SyncStatus, CloudID, Resolution, Provenance) are ignored:
// they describe reconciliation outcomes, not the record itself.
func (r *Record) EquivalentTo(other *Record) bool {
	return r.ID == other.ID &&
		r.UserID == other.UserID &&
		r.Kind == other.Kind &&
		r.Amount.Equal(other.Amount) &&
		r.Category == other.Category &&
		r.Description == other.Description &&
		r.OccurredAt == other.OccurredAt &&
		r.CreatedAt == other.CreatedAt &&
		r.UpdatedAt == other.UpdatedAt &&
		r.DeviceID == other.DeviceID &&
		r.Deleted == other.Deleted
}

// User is read-only context owned by the authentication subsystem. The
// engine only ever checks existence.
type User struct {
	ID       string
	Username string
	Email    string
	Active   bool
}

// Device is one registered writer of a user's ledger.
type Device struct {
	ID         string
	UserID     string
	Name       string
	Type       string
	LastSeenAt int64
}

// Snapshot is a full view of one store's persisted state, as handed to the
// integrity verifier.
type Snapshot struct {
	Users        []User
	Devices      []Device
	Transactions []Record
}

// Op is the kind of mutation an outbound queue item carries.
type Op string

// Queue operations as stored in the queue op column.
const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// QueueStatus is the lifecycle state of an outbound queue item.
type QueueStatus string

// Queue item statuses. Failed items are poison: retained for inspection,
// excluded from automatic retry.
const (
	QueuePending   QueueStatus = "pending"
	QueueCompleted QueueStatus = "completed"
	QueueFailed    QueueStatus = "failed"
)

// QueueItem is a durable pending mutation intent. Payload is the full
// record JSON captured at enqueue time.
type QueueItem struct {
	ID         string
	Op         Op
	Collection string
	RecordID   string
	Payload    []byte
	CreatedAt  int64
	RetryCount int
	Status     QueueStatus
	LastError  string
}

// LogEntry is one append-only sync trail event. The trail is capped to a
// bounded ring; it is write-only observability, never consulted by the
// reconciliation logic.
type LogEntry struct {
	ID        string
	Event     string
	Username  string
	DeviceID  string
	Timestamp int64
	Details   string
}

// Sync log event names.
const (
	EventSyncCompleted = "sync_completed"
	EventSyncError     = "sync_error"
	EventRepair        = "integrity_repair"
	EventQueueFailed   = "queue_item_failed"
)

// RecordStore is uniform snapshot access to a user-scoped record
// collection. Two instances exist at runtime: the device-local replica and
// the shared remote replica. Load must absorb corrupt or missing backing
// payloads and return an empty, well-typed snapshot instead of a parse
// error. Save replaces the snapshot atomically — readers never observe a
// half-written state.
type RecordStore interface {
	Load(ctx context.Context, userID string) ([]Record, error)
	Save(ctx context.Context, userID string, records []Record) error
}

// QueueStore is the durable backing for the outbound sync queue.
type QueueStore interface {
	PutQueueItem(ctx context.Context, item *QueueItem) error
	ListQueueItems(ctx context.Context, status QueueStatus) ([]*QueueItem, error)
	// ActiveIntents returns the record IDs that already have a pending
	// item for the given operation. Used to keep enqueueing idempotent
	// across reconciliation passes.
	ActiveIntents(ctx context.Context, op Op) (map[string]bool, error)
}

// LogStore appends to and trims the bounded sync trail.
type LogStore interface {
	AppendLog(ctx context.Context, entry *LogEntry) error
	ListLog(ctx context.Context, limit int) ([]*LogEntry, error)
}

// RemoteWriter applies a single mutation against the remote replica.
// Implemented by the cloud client; the queue drain is its only caller.
type RemoteWriter interface {
	Apply(ctx context.Context, op Op, collection, recordID string, payload []byte) error
}

// --- Timestamp helpers ---
// All internal code uses int64 Unix nanoseconds exclusively. Conversion
// happens at system boundaries only.

// NowNano returns the current time as Unix nanoseconds.
func NowNano() int64 {
	return time.Now().UnixNano()
}

// ToUnixNano converts a time.Time to Unix nanoseconds.
// Returns 0 for the zero time.
func ToUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.UnixNano()
}

// FromUnixNano converts Unix nanoseconds to a UTC time.Time.
func FromUnixNano(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}
