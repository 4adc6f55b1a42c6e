package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// newLogID mints sync log entry IDs.
func newLogID() string {
	return uuid.New().String()
}

// SQL statements for the local replica store.
const (
	sqlLoadRecords = `SELECT id, user_id, kind, amount, category, description,
		occurred_at, created_at, updated_at, device_id, deleted,
		sync_status, cloud_id, resolution, provenance
		FROM records WHERE user_id = ?`

	sqlDeleteUserRecords = `DELETE FROM records WHERE user_id = ?`

	sqlInsertRecord = `INSERT INTO records
		(id, user_id, kind, amount, category, description, occurred_at,
		 created_at, updated_at, device_id, deleted, sync_status, cloud_id,
		 resolution, provenance)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlListUsers   = `SELECT id, username, email, active FROM users`
	sqlListDevices = `SELECT id, user_id, name, type, last_seen_at FROM devices`

	sqlDeleteDevice = `DELETE FROM devices WHERE id = ?`

	sqlUpsertQueueItem = `INSERT INTO queue
		(id, op, target_collection, record_id, payload, created_at,
		 retry_count, status, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		 retry_count = excluded.retry_count,
		 status = excluded.status,
		 last_error = excluded.last_error`

	sqlListQueueItems = `SELECT id, op, target_collection, record_id, payload,
		created_at, retry_count, status, last_error
		FROM queue WHERE status = ? ORDER BY created_at`

	sqlActiveIntents = `SELECT record_id FROM queue
		WHERE op = ? AND status = 'pending'`

	sqlInsertLog = `INSERT INTO sync_log
		(id, event, username, device_id, timestamp, details)
		VALUES (?, ?, ?, ?, ?, ?)`

	sqlTrimLog = `DELETE FROM sync_log WHERE id NOT IN
		(SELECT id FROM sync_log ORDER BY timestamp DESC LIMIT ?)`

	sqlListLog = `SELECT id, event, username, device_id, timestamp, details
		FROM sync_log ORDER BY timestamp DESC LIMIT ?`
)

// logRingCap bounds the sync trail. Oldest entries past the cap are
// trimmed on every append.
const logRingCap = 500

// SQLiteStore is the device-local replica: records, the outbound queue,
// the sync trail, and the read-only users/devices context, all in one
// WAL-mode SQLite database. It implements RecordStore, QueueStore, and
// LogStore.
type SQLiteStore struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// OpenStore opens the SQLite database at dbPath, runs migrations, runs the
// integrity verifier over the loaded snapshot (repairing and persisting
// any violations), and returns a ready store. Use ":memory:" for tests.
func OpenStore(ctx context.Context, dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"+
			"&_pragma=journal_size_limit(67108864)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db, logger: logger, nowFunc: time.Now}

	if err := s.verifyOnLoad(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("local replica store ready", slog.String("db_path", dbPath))

	return s, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// verifyOnLoad runs the referential-integrity pass over the full snapshot
// and persists repairs. Runs before any reconciliation touches the store.
func (s *SQLiteStore) verifyOnLoad(ctx context.Context) error {
	snap, err := s.LoadSnapshot(ctx)
	if err != nil {
		return err
	}

	report := NewVerifier(s.logger).Run(snap)
	if !report.Repaired() {
		return nil
	}

	if err := s.saveRepairs(ctx, snap); err != nil {
		return err
	}

	entry := &LogEntry{
		Event:     EventRepair,
		Timestamp: s.nowFunc().UnixNano(),
		Details:   fmt.Sprintf("%d violations repaired", len(report.Violations)),
	}
	if err := s.AppendLog(ctx, entry); err != nil {
		s.logger.Warn("failed to log integrity repair", slog.String("error", err.Error()))
	}

	return nil
}

// LoadSnapshot reads the full store state for the verifier.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}

	users, err := s.listUsers(ctx)
	if err != nil {
		return nil, err
	}

	snap.Users = users

	devices, err := s.listDevices(ctx)
	if err != nil {
		return nil, err
	}

	snap.Devices = devices

	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, kind, amount, category,
		description, occurred_at, created_at, updated_at, device_id, deleted,
		sync_status, cloud_id, resolution, provenance FROM records`)
	if err != nil {
		return nil, fmt.Errorf("ledger: loading all records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}

		snap.Transactions = append(snap.Transactions, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterating records: %w", err)
	}

	return snap, nil
}

// saveRepairs rewrites records and devices from a repaired snapshot in one
// transaction. Orphans are removed outright, not tombstoned.
func (s *SQLiteStore) saveRepairs(ctx context.Context, snap *Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: beginning repair transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return fmt.Errorf("ledger: clearing records for repair: %w", err)
	}

	for i := range snap.Transactions {
		if err := insertRecord(ctx, tx, &snap.Transactions[i]); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM devices`); err != nil {
		return fmt.Errorf("ledger: clearing devices for repair: %w", err)
	}

	for i := range snap.Devices {
		dev := &snap.Devices[i]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO devices (id, user_id, name, type, last_seen_at) VALUES (?, ?, ?, ?, ?)`,
			dev.ID, dev.UserID, dev.Name, dev.Type, dev.LastSeenAt,
		); err != nil {
			return fmt.Errorf("ledger: inserting device %s: %w", dev.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ledger: committing repair: %w", err)
	}

	return nil
}

// --- RecordStore ---

// Load returns the user's records. A corrupt row (bad decimal, bad enum)
// is absorbed: the row is skipped with a warning rather than surfacing a
// parse failure, so callers never receive a malformed snapshot.
func (s *SQLiteStore) Load(ctx context.Context, userID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, sqlLoadRecords, userID)
	if err != nil {
		return nil, fmt.Errorf("ledger: loading records for %s: %w", userID, err)
	}
	defer rows.Close()

	records := []Record{}

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			s.logger.Warn("skipping unreadable record row", slog.String("error", err.Error()))
			continue
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterating records for %s: %w", userID, err)
	}

	return records, nil
}

// Save replaces the user's record set in a single transaction — an atomic
// snapshot replace, never an incremental mutation visible half-written.
func (s *SQLiteStore) Save(ctx context.Context, userID string, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: beginning save transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, sqlDeleteUserRecords, userID); err != nil {
		return fmt.Errorf("ledger: clearing records for %s: %w", userID, err)
	}

	for i := range records {
		if err := insertRecord(ctx, tx, &records[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ledger: committing save for %s: %w", userID, err)
	}

	s.logger.Debug("snapshot saved",
		slog.String("user_id", userID),
		slog.Int("records", len(records)),
	)

	return nil
}

func insertRecord(ctx context.Context, tx *sql.Tx, rec *Record) error {
	if _, err := tx.ExecContext(ctx, sqlInsertRecord,
		rec.ID, rec.UserID, string(rec.Kind), rec.Amount.String(),
		rec.Category, rec.Description, rec.OccurredAt, rec.CreatedAt,
		rec.UpdatedAt, rec.DeviceID, rec.Deleted, string(rec.SyncStatus),
		rec.CloudID, string(rec.Resolution), rec.Provenance,
	); err != nil {
		return fmt.Errorf("ledger: inserting record %s: %w", rec.ID, err)
	}

	return nil
}

// rowScanner matches both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec        Record
		kind       string
		amount     string
		status     string
		resolution string
		provenance []byte
	)

	if err := row.Scan(&rec.ID, &rec.UserID, &kind, &amount, &rec.Category,
		&rec.Description, &rec.OccurredAt, &rec.CreatedAt, &rec.UpdatedAt,
		&rec.DeviceID, &rec.Deleted, &status, &rec.CloudID, &resolution,
		&provenance,
	); err != nil {
		return Record{}, fmt.Errorf("ledger: scanning record row: %w", err)
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return Record{}, fmt.Errorf("ledger: parsing amount %q: %w", amount, err)
	}

	rec.Kind = Kind(kind)
	rec.Amount = dec
	rec.SyncStatus = SyncStatus(status)
	rec.Resolution = Resolution(resolution)
	rec.Provenance = provenance

	return rec, nil
}

// --- Users and devices (read-only context, plus user seeding for tests
// and the auth collaborator) ---

func (s *SQLiteStore) listUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, sqlListUsers)
	if err != nil {
		return nil, fmt.Errorf("ledger: listing users: %w", err)
	}
	defer rows.Close()

	var users []User

	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.Active); err != nil {
			return nil, fmt.Errorf("ledger: scanning user row: %w", err)
		}

		users = append(users, u)
	}

	return users, rows.Err()
}

func (s *SQLiteStore) listDevices(ctx context.Context) ([]Device, error) {
	rows, err := s.db.QueryContext(ctx, sqlListDevices)
	if err != nil {
		return nil, fmt.Errorf("ledger: listing devices: %w", err)
	}
	defer rows.Close()

	var devices []Device

	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.ID, &d.UserID, &d.Name, &d.Type, &d.LastSeenAt); err != nil {
			return nil, fmt.Errorf("ledger: scanning device row: %w", err)
		}

		devices = append(devices, d)
	}

	return devices, rows.Err()
}

// PutUser upserts a user row. Called by the auth collaborator when a
// session is established so the verifier has its referential context.
func (s *SQLiteStore) PutUser(ctx context.Context, u *User) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, email, active) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		  username = excluded.username,
		  email = excluded.email,
		  active = excluded.active`,
		u.ID, u.Username, u.Email, u.Active,
	); err != nil {
		return fmt.Errorf("ledger: upserting user %s: %w", u.ID, err)
	}

	return nil
}

// PutDevice upserts a device row.
func (s *SQLiteStore) PutDevice(ctx context.Context, d *Device) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO devices (id, user_id, name, type, last_seen_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		  name = excluded.name,
		  type = excluded.type,
		  last_seen_at = excluded.last_seen_at`,
		d.ID, d.UserID, d.Name, d.Type, d.LastSeenAt,
	); err != nil {
		return fmt.Errorf("ledger: upserting device %s: %w", d.ID, err)
	}

	return nil
}

// --- QueueStore ---

// PutQueueItem inserts or updates a queue item.
func (s *SQLiteStore) PutQueueItem(ctx context.Context, item *QueueItem) error {
	if _, err := s.db.ExecContext(ctx, sqlUpsertQueueItem,
		item.ID, string(item.Op), item.Collection, item.RecordID,
		item.Payload, item.CreatedAt, item.RetryCount, string(item.Status),
		item.LastError,
	); err != nil {
		return fmt.Errorf("ledger: upserting queue item %s: %w", item.ID, err)
	}

	return nil
}

// ListQueueItems returns items in the given status, oldest first.
func (s *SQLiteStore) ListQueueItems(ctx context.Context, status QueueStatus) ([]*QueueItem, error) {
	rows, err := s.db.QueryContext(ctx, sqlListQueueItems, string(status))
	if err != nil {
		return nil, fmt.Errorf("ledger: listing queue items: %w", err)
	}
	defer rows.Close()

	var items []*QueueItem

	for rows.Next() {
		var (
			item   QueueItem
			op     string
			status string
		)

		if err := rows.Scan(&item.ID, &op, &item.Collection, &item.RecordID,
			&item.Payload, &item.CreatedAt, &item.RetryCount, &status,
			&item.LastError,
		); err != nil {
			return nil, fmt.Errorf("ledger: scanning queue row: %w", err)
		}

		item.Op = Op(op)
		item.Status = QueueStatus(status)
		items = append(items, &item)
	}

	return items, rows.Err()
}

// ActiveIntents returns record IDs with a pending item for the given op.
func (s *SQLiteStore) ActiveIntents(ctx context.Context, op Op) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, sqlActiveIntents, string(op))
	if err != nil {
		return nil, fmt.Errorf("ledger: listing active intents: %w", err)
	}
	defer rows.Close()

	intents := make(map[string]bool)

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ledger: scanning intent row: %w", err)
		}

		intents[id] = true
	}

	return intents, rows.Err()
}

// --- LogStore ---

// AppendLog writes one sync trail entry and trims the ring to its cap.
func (s *SQLiteStore) AppendLog(ctx context.Context, entry *LogEntry) error {
	if entry.ID == "" {
		entry.ID = newLogID()
	}

	if entry.Timestamp == 0 {
		entry.Timestamp = s.nowFunc().UnixNano()
	}

	if _, err := s.db.ExecContext(ctx, sqlInsertLog,
		entry.ID, entry.Event, entry.Username, entry.DeviceID,
		entry.Timestamp, entry.Details,
	); err != nil {
		return fmt.Errorf("ledger: appending sync log: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, sqlTrimLog, logRingCap); err != nil {
		return fmt.Errorf("ledger: trimming sync log: %w", err)
	}

	return nil
}

// ListLog returns the newest entries, most recent first.
func (s *SQLiteStore) ListLog(ctx context.Context, limit int) ([]*LogEntry, error) {
	if limit <= 0 || limit > logRingCap {
		limit = logRingCap
	}

	rows, err := s.db.QueryContext(ctx, sqlListLog, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: listing sync log: %w", err)
	}
	defer rows.Close()

	var entries []*LogEntry

	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.ID, &e.Event, &e.Username, &e.DeviceID,
			&e.Timestamp, &e.Details,
		); err != nil {
			return nil, fmt.Errorf("ledger: scanning log row: %w", err)
		}

		entries = append(entries, &e)
	}

	return entries, rows.Err()
}
