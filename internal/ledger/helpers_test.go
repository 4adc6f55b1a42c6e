package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
)

// testLogWriter adapts testing.T.Log to io.Writer for slog output.
type testLogWriter struct {
	t *testing.T
}

func (w testLogWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// makeRecord builds a minimal valid record for merge and resolver tests.
func makeRecord(id string, occurredAt, createdAt int64) Record {
	return Record{
		ID:         id,
		UserID:     "u1",
		Kind:       KindExpense,
		Amount:     decimal.NewFromFloat(10.50),
		Category:   "groceries",
		OccurredAt: occurredAt,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
		DeviceID:   "dev1",
	}
}

// memStore is an in-memory QueueStore + RecordStore + LogStore for engine
// tests that do not need SQLite.
type memStore struct {
	mu      sync.Mutex
	records map[string][]Record
	items   map[string]*QueueItem
	log     []*LogEntry

	loadErr error
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{
		records: make(map[string][]Record),
		items:   make(map[string]*QueueItem),
	}
}

func (s *memStore) Load(_ context.Context, userID string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loadErr != nil {
		return nil, s.loadErr
	}

	out := make([]Record, len(s.records[userID]))
	copy(out, s.records[userID])

	return out, nil
}

func (s *memStore) Save(_ context.Context, userID string, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saveErr != nil {
		return s.saveErr
	}

	stored := make([]Record, len(records))
	copy(stored, records)
	s.records[userID] = stored

	return nil
}

func (s *memStore) PutQueueItem(_ context.Context, item *QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dup := *item
	s.items[item.ID] = &dup

	return nil
}

func (s *memStore) ListQueueItems(_ context.Context, status QueueStatus) ([]*QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*QueueItem

	for _, item := range s.items {
		if item.Status == status {
			dup := *item
			out = append(out, &dup)
		}
	}

	return out, nil
}

func (s *memStore) ActiveIntents(_ context.Context, op Op) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]bool)

	for _, item := range s.items {
		if item.Op == op && item.Status == QueuePending {
			out[item.RecordID] = true
		}
	}

	return out, nil
}

func (s *memStore) AppendLog(_ context.Context, entry *LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dup := *entry
	s.log = append(s.log, &dup)

	return nil
}

func (s *memStore) ListLog(_ context.Context, limit int) ([]*LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*LogEntry, 0, limit)

	for i := len(s.log) - 1; i >= 0 && len(out) < limit; i-- {
		dup := *s.log[i]
		out = append(out, &dup)
	}

	return out, nil
}

func (s *memStore) queueItem(id string) *QueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.items[id]
}

// fakeWriter is a RemoteWriter with scriptable failures.
type fakeWriter struct {
	mu      sync.Mutex
	applied []appliedOp
	failAll bool
	panics  bool
}

type appliedOp struct {
	op       Op
	recordID string
}

func (w *fakeWriter) Apply(_ context.Context, op Op, _, recordID string, _ []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.panics {
		panic("writer exploded")
	}

	if w.failAll {
		return fmt.Errorf("remote unavailable")
	}

	w.applied = append(w.applied, appliedOp{op: op, recordID: recordID})

	return nil
}

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.applied)
}
