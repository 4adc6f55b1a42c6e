package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orchFixture struct {
	local  *memStore
	remote *memStore
	writer *fakeWriter
	orch   *Orchestrator
}

func newOrchFixture(t *testing.T) *orchFixture {
	t.Helper()

	local := newMemStore()
	remote := newMemStore()
	writer := &fakeWriter{}

	var orch *Orchestrator

	queue := NewQueue(local, writer, func() bool { return orch.IsOnline() }, testLogger(t))
	orch = NewOrchestrator(local, remote, queue, local, "u1", "alice", "dev1", testLogger(t))

	return &orchFixture{local: local, remote: remote, writer: writer, orch: orch}
}

func TestOrchestrator_SuccessfulCycle(t *testing.T) {
	f := newOrchFixture(t)
	ctx := context.Background()

	f.local.records["u1"] = []Record{makeRecord("l1", 100, 100)}
	f.remote.records["u1"] = []Record{makeRecord("r1", 200, 200)}

	ran := f.orch.Trigger(ctx, TriggerForce)

	require.True(t, ran)
	assert.Equal(t, StateSynced, f.orch.State())
	assert.NotZero(t, f.orch.LastSyncAt())
	assert.Empty(t, f.orch.LastError())

	// Both replicas hold the merged set.
	localRecs, err := f.local.Load(ctx, "u1")
	require.NoError(t, err)
	remoteRecs, err := f.remote.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, localRecs, 2)
	assert.Len(t, remoteRecs, 2)

	// The local-only record went out through the queue.
	assert.Equal(t, 1, f.writer.count())

	entries, err := f.local.ListLog(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, EventSyncCompleted, entries[0].Event)
	assert.Equal(t, "alice", entries[0].Username)
}

func TestOrchestrator_TriggerDroppedWhileSyncing(t *testing.T) {
	f := newOrchFixture(t)

	// Simulate a cycle in flight.
	require.True(t, f.orch.syncInProgress.CompareAndSwap(false, true))

	ran := f.orch.Trigger(context.Background(), TriggerTimer)

	assert.False(t, ran, "a trigger during a running cycle must be dropped")
	assert.Zero(t, f.writer.count())

	f.orch.syncInProgress.Store(false)
}

func TestOrchestrator_ConcurrentTriggers_OneCycle(t *testing.T) {
	f := newOrchFixture(t)
	ctx := context.Background()

	// Slow the cycle down via a large local set so triggers overlap.
	recs := make([]Record, 50)
	for i := range recs {
		recs[i] = makeRecord(fmt.Sprintf("l%03d", i), int64(i), int64(i))
	}

	f.local.records["u1"] = recs

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		rans []bool
	)

	for i := 0; i < 8; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			ran := f.orch.Trigger(ctx, TriggerWake)

			mu.Lock()
			rans = append(rans, ran)
			mu.Unlock()
		}()
	}

	wg.Wait()

	ranCount := 0

	for _, ran := range rans {
		if ran {
			ranCount++
		}
	}

	assert.GreaterOrEqual(t, ranCount, 1, "at least one trigger must win")
	// Each record produced exactly one remote write no matter how many
	// triggers collided: the guard plus queue idempotency hold.
	assert.Equal(t, len(recs), f.writer.count())
}

func TestOrchestrator_OfflineDefersTrigger(t *testing.T) {
	f := newOrchFixture(t)
	ctx := context.Background()

	f.local.records["u1"] = []Record{makeRecord("l1", 100, 100)}

	f.orch.SetOnline(ctx, false)

	ran := f.orch.Trigger(ctx, TriggerMutation)
	assert.False(t, ran)
	assert.Zero(t, f.writer.count())

	// Connectivity returns: the deferred trigger fires automatically.
	f.orch.SetOnline(ctx, true)

	assert.Equal(t, StateSynced, f.orch.State())
	assert.Equal(t, 1, f.writer.count())
}

func TestOrchestrator_ReconnectWithoutDeferredTrigger_DrainsQueue(t *testing.T) {
	f := newOrchFixture(t)
	ctx := context.Background()

	f.orch.SetOnline(ctx, false)

	// A mutation intent lands in the queue while offline, without any
	// trigger being deferred.
	queue := f.orch.queue
	require.NoError(t, queue.Enqueue(ctx, OpCreate, TransactionsCollection, "r1", []byte(`{}`)))
	assert.Zero(t, f.writer.count())

	f.orch.SetOnline(ctx, true)

	assert.Equal(t, 1, f.writer.count(), "reconnect must push the waiting queue")
	// No full cycle ran: the state machine never left idle.
	assert.Equal(t, StateIdle, f.orch.State())
}

func TestOrchestrator_RemoteLoadFailure_ErrorState(t *testing.T) {
	f := newOrchFixture(t)
	ctx := context.Background()

	f.remote.loadErr = fmt.Errorf("remote exploded")

	ran := f.orch.Trigger(ctx, TriggerTimer)

	require.True(t, ran, "a failing cycle still counts as having run")
	assert.Equal(t, StateError, f.orch.State())
	assert.Contains(t, f.orch.LastError(), "remote exploded")

	entries, err := f.local.ListLog(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, EventSyncError, entries[0].Event)
}

func TestOrchestrator_ErrorStateRecoversOnNextCycle(t *testing.T) {
	f := newOrchFixture(t)
	ctx := context.Background()

	f.remote.loadErr = fmt.Errorf("transient outage")
	f.orch.Trigger(ctx, TriggerTimer)
	require.Equal(t, StateError, f.orch.State())

	f.remote.loadErr = nil
	f.orch.Trigger(ctx, TriggerTimer)

	assert.Equal(t, StateSynced, f.orch.State())
	assert.Empty(t, f.orch.LastError())
}

func TestOrchestrator_ObserverNotifiedOnSuccess(t *testing.T) {
	f := newOrchFixture(t)
	ctx := context.Background()

	var notes []Notification

	f.orch.Subscribe(func(n Notification) {
		notes = append(notes, n)
	})

	f.orch.Trigger(ctx, TriggerForce)

	require.Len(t, notes, 1)
	assert.Equal(t, "alice", notes[0].Username)
	assert.NotZero(t, notes[0].Timestamp)
}

func TestOrchestrator_ObserverNotNotifiedOnFailure(t *testing.T) {
	f := newOrchFixture(t)
	ctx := context.Background()

	called := false

	f.orch.Subscribe(func(Notification) { called = true })

	f.remote.loadErr = fmt.Errorf("down")
	f.orch.Trigger(ctx, TriggerForce)

	assert.False(t, called)
}

func TestOrchestrator_SessionEndedResetsToIdle(t *testing.T) {
	f := newOrchFixture(t)
	ctx := context.Background()

	f.orch.Trigger(ctx, TriggerForce)
	require.Equal(t, StateSynced, f.orch.State())

	f.orch.SessionEnded()

	assert.Equal(t, StateIdle, f.orch.State())
}

func TestOrchestrator_SnapshotWhenQuiet(t *testing.T) {
	f := newOrchFixture(t)
	ctx := context.Background()

	f.local.records["u1"] = []Record{makeRecord("l1", 100, 100)}

	records, err := f.orch.SnapshotWhenQuiet(ctx)

	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestOrchestrator_SnapshotWhenQuiet_WaitsOutRunningCycle(t *testing.T) {
	f := newOrchFixture(t)

	// Pin the in-progress guard, then release it shortly after.
	require.True(t, f.orch.syncInProgress.CompareAndSwap(false, true))

	go func() {
		time.Sleep(30 * time.Millisecond)
		f.orch.syncInProgress.Store(false)
	}()

	records, err := f.orch.SnapshotWhenQuiet(context.Background())

	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestOrchestrator_SnapshotWhenQuiet_CanceledWhileWaiting(t *testing.T) {
	f := newOrchFixture(t)

	require.True(t, f.orch.syncInProgress.CompareAndSwap(false, true))
	defer f.orch.syncInProgress.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.orch.SnapshotWhenQuiet(ctx)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
