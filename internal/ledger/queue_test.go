package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_EnqueueDrainsWhenOnline(t *testing.T) {
	store := newMemStore()
	writer := &fakeWriter{}
	q := NewQueue(store, writer, nil, testLogger(t))

	err := q.Enqueue(context.Background(), OpCreate, TransactionsCollection, "r1", []byte(`{}`))
	require.NoError(t, err)

	assert.Equal(t, 1, writer.count(), "online enqueue should drain immediately")

	pending, err := store.ListQueueItems(context.Background(), QueuePending)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestQueue_EnqueueDoesNotDrainOffline(t *testing.T) {
	store := newMemStore()
	writer := &fakeWriter{}
	q := NewQueue(store, writer, func() bool { return false }, testLogger(t))

	err := q.Enqueue(context.Background(), OpCreate, TransactionsCollection, "r1", []byte(`{}`))
	require.NoError(t, err)

	assert.Zero(t, writer.count())

	pending, err := store.ListQueueItems(context.Background(), QueuePending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, QueuePending, pending[0].Status)
}

func TestQueue_DrainRetriesThenPoisons(t *testing.T) {
	store := newMemStore()
	writer := &fakeWriter{failAll: true}
	q := NewQueue(store, writer, func() bool { return false }, testLogger(t))

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, OpCreate, TransactionsCollection, "r1", []byte(`{}`)))

	// Three failed attempts stay within the retry budget.
	for i := 1; i <= RetryCeiling; i++ {
		report, err := q.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Attempted)
		assert.Equal(t, 1, report.Retried)

		pending, listErr := store.ListQueueItems(ctx, QueuePending)
		require.NoError(t, listErr)
		require.Len(t, pending, 1, "attempt %d should leave the item pending", i)
		assert.Equal(t, i, pending[0].RetryCount)
		assert.NotEmpty(t, pending[0].LastError)
	}

	// The fourth failure crosses the ceiling: the item turns poison.
	report, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Poisoned)

	failed, err := store.ListQueueItems(ctx, QueueFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, RetryCeiling+1, failed[0].RetryCount)

	// Poison items are retained but never retried again.
	report, err = q.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Attempted)
}

func TestQueue_PoisonedItemCompletableAfterManualReset(t *testing.T) {
	store := newMemStore()
	writer := &fakeWriter{failAll: true}
	q := NewQueue(store, writer, func() bool { return false }, testLogger(t))

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, OpCreate, TransactionsCollection, "r1", []byte(`{}`)))

	for i := 0; i <= RetryCeiling; i++ {
		_, err := q.Drain(ctx)
		require.NoError(t, err)
	}

	failed, err := store.ListQueueItems(ctx, QueueFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)

	// Operator intervention: reset the item and fix the remote.
	item := failed[0]
	item.Status = QueuePending
	item.RetryCount = 0
	require.NoError(t, store.PutQueueItem(ctx, item))

	writer.failAll = false

	report, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Completed)
}

func TestQueue_WriterPanicBecomesFailure(t *testing.T) {
	store := newMemStore()
	writer := &fakeWriter{panics: true}
	q := NewQueue(store, writer, func() bool { return false }, testLogger(t))

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, OpCreate, TransactionsCollection, "r1", []byte(`{}`)))

	report, err := q.Drain(ctx)
	require.NoError(t, err, "a panicking writer must not take down the drain")
	assert.Equal(t, 1, report.Retried)

	pending, err := store.ListQueueItems(ctx, QueuePending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Contains(t, pending[0].LastError, "panic")
}

func TestQueue_DrainNotReentrant(t *testing.T) {
	store := newMemStore()
	writer := &fakeWriter{}
	q := NewQueue(store, writer, func() bool { return false }, testLogger(t))

	// Simulate a drain in flight.
	require.True(t, q.draining.CompareAndSwap(false, true))

	report, err := q.Drain(context.Background())
	require.NoError(t, err)
	assert.Nil(t, report, "a concurrent drain must bail out immediately")

	q.draining.Store(false)
}

func TestQueue_ConcurrentDrains_OnlyOneRuns(t *testing.T) {
	store := newMemStore()
	writer := &fakeWriter{}
	q := NewQueue(store, writer, func() bool { return false }, testLogger(t))

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(ctx, OpCreate, TransactionsCollection, "r", []byte(`{}`)))
	}

	var wg sync.WaitGroup

	results := make([]*DrainReport, 4)

	for i := 0; i < 4; i++ {
		wg.Add(1)

		go func(slot int) {
			defer wg.Done()

			report, err := q.Drain(ctx)
			assert.NoError(t, err)
			results[slot] = report
		}(i)
	}

	wg.Wait()

	total := 0

	for _, report := range results {
		if report != nil {
			total += report.Attempted
		}
	}

	// Every item is applied exactly once regardless of how many drains
	// collided: losers return nil reports.
	assert.Equal(t, 5, writer.count())
	assert.Equal(t, 5, total)
}

func TestQueue_ActiveCreateIntents(t *testing.T) {
	store := newMemStore()
	q := NewQueue(store, &fakeWriter{}, func() bool { return false }, testLogger(t))

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, OpCreate, TransactionsCollection, "r1", []byte(`{}`)))
	require.NoError(t, q.Enqueue(ctx, OpDelete, TransactionsCollection, "r2", []byte(`{}`)))

	intents, err := q.ActiveCreateIntents(ctx)
	require.NoError(t, err)

	assert.True(t, intents["r1"])
	assert.False(t, intents["r2"], "delete intents must not suppress create emission")
}
