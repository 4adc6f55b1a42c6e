package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// State is the orchestrator's synchronization state.
type State string

// State machine states. Offline is orthogonal: it preempts syncing
// whenever connectivity is unavailable and is tracked separately.
const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StateSynced  State = "synced"
	StateError   State = "error"
)

// TriggerReason identifies what asked for a sync cycle. Purely for the
// log trail; all triggers behave identically.
type TriggerReason string

// Trigger reasons.
const (
	TriggerTimer        TriggerReason = "timer"
	TriggerWake         TriggerReason = "wake"
	TriggerMutation     TriggerReason = "mutation"
	TriggerForce        TriggerReason = "force"
	TriggerConnectivity TriggerReason = "connectivity_restored"
	TriggerRemoteChange TriggerReason = "remote_change"
	TriggerLocalChange  TriggerReason = "local_change"
)

// Notification is emitted to observers after each successful cycle.
type Notification struct {
	Username  string
	Timestamp int64
}

// Orchestrator owns the sync state machine. It serializes reconciliation
// attempts behind a boolean in-progress guard, wires triggers to cycles,
// and is the only writer to either record store.
type Orchestrator struct {
	local  RecordStore
	remote RecordStore
	queue  *Queue
	logs   LogStore
	merger *Merger

	userID   string
	username string
	deviceID string

	logger  *slog.Logger
	nowFunc func() time.Time

	// syncInProgress is the mutual-exclusion guard. Triggers arriving
	// while a cycle is in flight are dropped, never queued behind it.
	syncInProgress atomic.Bool
	online         atomic.Bool
	deferred       atomic.Bool // a trigger arrived while offline

	mu         sync.Mutex
	state      State
	lastSyncAt int64
	lastError  string
	observers  []func(Notification)
}

// NewOrchestrator constructs a per-session orchestrator. There is no
// process-wide instance: each authenticated session builds its own with
// its injected stores and queue.
func NewOrchestrator(
	local, remote RecordStore, queue *Queue, logs LogStore,
	userID, username, deviceID string, logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		local:    local,
		remote:   remote,
		queue:    queue,
		logs:     logs,
		merger:   NewMerger(logger),
		userID:   userID,
		username: username,
		deviceID: deviceID,
		logger:   logger,
		nowFunc:  time.Now,
		state:    StateIdle,
	}
	o.online.Store(true)

	return o
}

// Subscribe registers an observer called after each successful cycle.
// Observers run synchronously on the syncing goroutine; keep them cheap.
func (o *Orchestrator) Subscribe(fn func(Notification)) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.observers = append(o.observers, fn)
}

// State returns the current machine state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.state
}

// LastSyncAt returns the timestamp of the last successful cycle, or 0.
func (o *Orchestrator) LastSyncAt() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.lastSyncAt
}

// LastError returns the detail of the most recent failed cycle, or "".
func (o *Orchestrator) LastError() string {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.lastError
}

// IsOnline reports the current connectivity belief.
func (o *Orchestrator) IsOnline() bool {
	return o.online.Load()
}

// Trigger requests a sync cycle. While offline the request is deferred
// until connectivity returns; while a cycle is already in flight it is
// dropped (coalesced with the running one). Returns true when a cycle
// actually ran.
func (o *Orchestrator) Trigger(ctx context.Context, reason TriggerReason) bool {
	if !o.online.Load() {
		o.deferred.Store(true)
		o.logger.Debug("trigger deferred while offline", slog.String("reason", string(reason)))

		return false
	}

	if !o.syncInProgress.CompareAndSwap(false, true) {
		o.logger.Debug("trigger dropped, sync already in progress",
			slog.String("reason", string(reason)),
		)

		return false
	}
	defer o.syncInProgress.Store(false)

	o.setState(StateSyncing)

	err := o.runCycle(ctx, reason)
	if err != nil {
		o.failCycle(ctx, reason, err)
		return true
	}

	o.completeCycle(ctx)

	return true
}

// SetOnline records a connectivity edge. A rising edge fires an automatic
// drain-and-sync cycle when any trigger was deferred while offline.
func (o *Orchestrator) SetOnline(ctx context.Context, online bool) {
	was := o.online.Swap(online)
	if was == online {
		return
	}

	if !online {
		o.logger.Info("connectivity lost, sync paused")
		return
	}

	o.logger.Info("connectivity restored")

	if o.deferred.Swap(false) {
		o.Trigger(ctx, TriggerConnectivity)
		return
	}

	// No deferred trigger: still push anything waiting in the queue.
	if _, err := o.queue.Drain(ctx); err != nil {
		o.logger.Warn("reconnect drain failed", slog.String("error", err.Error()))
	}
}

// SessionEnded resets the machine to idle. Called when the authenticated
// session closes; the orchestrator itself holds no other session state.
func (o *Orchestrator) SessionEnded() {
	o.setState(StateIdle)
	o.deferred.Store(false)
}

// SnapshotWhenQuiet serves the backup/export collaborator: it returns the
// merged transaction set once no cycle is in flight, never mid-cycle.
func (o *Orchestrator) SnapshotWhenQuiet(ctx context.Context) ([]Record, error) {
	const pollInterval = 10 * time.Millisecond

	for o.syncInProgress.Load() {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("ledger: snapshot wait canceled: %w", ctx.Err())
		case <-time.After(pollInterval):
		}
	}

	return o.local.Load(ctx, o.userID)
}

// runCycle is one complete read → merge → persist → drain pass. On error,
// partially merged local state is left as-is: the next trigger simply
// retries reconciliation from whatever persisted.
func (o *Orchestrator) runCycle(ctx context.Context, reason TriggerReason) error {
	o.logger.Info("sync cycle started",
		slog.String("reason", string(reason)),
		slog.String("username", o.username),
	)

	localRecs, err := o.local.Load(ctx, o.userID)
	if err != nil {
		return fmt.Errorf("ledger: loading local replica: %w", err)
	}

	remoteRecs, err := o.remote.Load(ctx, o.userID)
	if err != nil {
		return fmt.Errorf("ledger: loading remote replica: %w", err)
	}

	queued, err := o.queue.ActiveCreateIntents(ctx)
	if err != nil {
		return err
	}

	result := o.merger.Merge(localRecs, remoteRecs, queued)

	if err := o.local.Save(ctx, o.userID, result.Records); err != nil {
		return fmt.Errorf("ledger: saving local replica: %w", err)
	}

	if err := o.remote.Save(ctx, o.userID, result.Records); err != nil {
		return fmt.Errorf("ledger: saving remote replica: %w", err)
	}

	for _, intent := range result.Intents {
		payload, err := MarshalRecord(&intent.Record)
		if err != nil {
			return err
		}

		if err := o.queue.Enqueue(ctx, intent.Op, intent.Collection, intent.RecordID, payload); err != nil {
			return err
		}
	}

	// Drain anything still pending, including items from earlier cycles.
	if _, err := o.queue.Drain(ctx); err != nil {
		return err
	}

	return nil
}

// completeCycle records success, logs the trail event, and notifies
// observers.
func (o *Orchestrator) completeCycle(ctx context.Context) {
	now := o.nowFunc().UnixNano()

	o.mu.Lock()
	o.state = StateSynced
	o.lastSyncAt = now
	o.lastError = ""
	observers := make([]func(Notification), len(o.observers))
	copy(observers, o.observers)
	o.mu.Unlock()

	o.appendLog(ctx, EventSyncCompleted, "")

	note := Notification{Username: o.username, Timestamp: now}
	for _, fn := range observers {
		fn(note)
	}

	o.logger.Info("sync cycle completed", slog.String("username", o.username))
}

// failCycle records the error transition. Nothing is rolled back.
func (o *Orchestrator) failCycle(ctx context.Context, reason TriggerReason, err error) {
	o.mu.Lock()
	o.state = StateError
	o.lastError = err.Error()
	o.mu.Unlock()

	o.appendLog(ctx, EventSyncError, err.Error())

	o.logger.Error("sync cycle failed",
		slog.String("reason", string(reason)),
		slog.String("error", err.Error()),
	)
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// appendLog writes a trail entry. Trail failures are logged, never fatal:
// nothing in this engine is allowed to crash the host process.
func (o *Orchestrator) appendLog(ctx context.Context, event, details string) {
	if o.logs == nil {
		return
	}

	entry := &LogEntry{
		Event:     event,
		Username:  o.username,
		DeviceID:  o.deviceID,
		Timestamp: o.nowFunc().UnixNano(),
		Details:   details,
	}

	if err := o.logs.AppendLog(ctx, entry); err != nil {
		o.logger.Warn("sync log append failed", slog.String("error", err.Error()))
	}
}
