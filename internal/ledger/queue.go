package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// RetryCeiling is the outbound queue retry budget. An item whose retry
// count exceeds this is marked failed permanently: a poison item, retained
// for operator inspection but excluded from automatic drains.
const RetryCeiling = 3

// DrainReport summarizes one drain pass.
type DrainReport struct {
	Attempted int
	Completed int
	Retried   int
	Poisoned  int
}

// Queue is the durable outbound mutation queue. Items are created whenever
// a local mutation cannot be confirmed against the remote store
// synchronously, and drained once per pass against the remote writer.
//
// Drains are not re-entrant: an Enqueue arriving while a drain is running
// never starts a second concurrent drain over the same backing list.
type Queue struct {
	store  QueueStore
	remote RemoteWriter
	online func() bool
	logger *slog.Logger

	draining atomic.Bool
	nowFunc  func() time.Time // injectable for deterministic tests
}

// NewQueue creates a queue over the given backing store and remote writer.
// online gates the opportunistic drain after each enqueue; nil means
// always online.
func NewQueue(store QueueStore, remote RemoteWriter, online func() bool, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}

	if online == nil {
		online = func() bool { return true }
	}

	return &Queue{
		store:   store,
		remote:  remote,
		online:  online,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// Enqueue appends a pending item and, when currently online, immediately
// attempts one drain. The drain attempt is best-effort: its errors are
// logged, not returned, since the item is already durable.
func (q *Queue) Enqueue(ctx context.Context, op Op, collection, recordID string, payload []byte) error {
	item := &QueueItem{
		ID:         uuid.New().String(),
		Op:         op,
		Collection: collection,
		RecordID:   recordID,
		Payload:    payload,
		CreatedAt:  q.nowFunc().UnixNano(),
		Status:     QueuePending,
	}

	if err := q.store.PutQueueItem(ctx, item); err != nil {
		return fmt.Errorf("ledger: enqueueing %s %s/%s: %w", op, collection, recordID, err)
	}

	q.logger.Debug("queue item created",
		slog.String("id", item.ID),
		slog.String("op", string(op)),
		slog.String("record_id", recordID),
	)

	if q.online() {
		if _, err := q.Drain(ctx); err != nil {
			q.logger.Warn("post-enqueue drain failed", slog.String("error", err.Error()))
		}
	}

	return nil
}

// Drain iterates all pending items once. Each item gets one remote write
// attempt: success marks it completed, failure increments its retry count,
// and a count past the ceiling marks it failed for good. If another drain
// is already in flight, Drain returns immediately with a nil report.
func (q *Queue) Drain(ctx context.Context) (*DrainReport, error) {
	if !q.draining.CompareAndSwap(false, true) {
		q.logger.Debug("drain already in progress, skipping")
		return nil, nil
	}
	defer q.draining.Store(false)

	items, err := q.store.ListQueueItems(ctx, QueuePending)
	if err != nil {
		return nil, fmt.Errorf("ledger: listing pending queue items: %w", err)
	}

	report := &DrainReport{}

	for _, item := range items {
		if ctx.Err() != nil {
			return report, fmt.Errorf("ledger: drain canceled: %w", ctx.Err())
		}

		report.Attempted++

		err := q.applyItem(ctx, item)
		if err == nil {
			item.Status = QueueCompleted
			item.LastError = ""
			report.Completed++
		} else {
			item.RetryCount++
			item.LastError = err.Error()

			if item.RetryCount > RetryCeiling {
				item.Status = QueueFailed
				report.Poisoned++

				q.logger.Warn("queue item exhausted retries, marking failed",
					slog.String("id", item.ID),
					slog.String("record_id", item.RecordID),
					slog.Int("retry_count", item.RetryCount),
					slog.String("error", err.Error()),
				)
			} else {
				report.Retried++

				q.logger.Debug("queue item attempt failed",
					slog.String("id", item.ID),
					slog.Int("retry_count", item.RetryCount),
					slog.String("error", err.Error()),
				)
			}
		}

		if putErr := q.store.PutQueueItem(ctx, item); putErr != nil {
			return report, fmt.Errorf("ledger: persisting queue item %s: %w", item.ID, putErr)
		}
	}

	q.logger.Info("queue drain complete",
		slog.Int("attempted", report.Attempted),
		slog.Int("completed", report.Completed),
		slog.Int("retried", report.Retried),
		slog.Int("poisoned", report.Poisoned),
	)

	return report, nil
}

// applyItem performs the remote write for one item, converting panics into
// ordinary errors so a misbehaving writer cannot take down the drain loop.
func (q *Queue) applyItem(ctx context.Context, item *QueueItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ledger: remote writer panic: %v", r)
		}
	}()

	return q.remote.Apply(ctx, item.Op, item.Collection, item.RecordID, item.Payload)
}

// ActiveCreateIntents returns the record IDs with a pending create item,
// used by the orchestrator to keep merge intent emission exactly-once.
func (q *Queue) ActiveCreateIntents(ctx context.Context) (map[string]bool, error) {
	intents, err := q.store.ActiveIntents(ctx, OpCreate)
	if err != nil {
		return nil, fmt.Errorf("ledger: listing active intents: %w", err)
	}

	return intents, nil
}
