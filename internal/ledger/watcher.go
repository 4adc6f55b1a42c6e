package ledger

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher debounce and error backoff constants.
const (
	watchDebounce       = 500 * time.Millisecond
	watchErrInitBackoff = 100 * time.Millisecond
	watchErrMaxBackoff  = 30 * time.Second
	watchErrBackoffMult = 2
)

// Watcher turns filesystem activity in the data directory into sync
// triggers. External collaborators (import/backup tools, another process
// appending to the replica) touch files there; a burst of events coalesces
// into one trigger after a debounce window.
type Watcher struct {
	dir     string
	trigger func(ctx context.Context, reason TriggerReason)
	logger  *slog.Logger
}

// NewWatcher creates a watcher over dir that fires trigger with
// TriggerLocalChange.
func NewWatcher(dir string, trigger func(ctx context.Context, reason TriggerReason), logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{dir: dir, trigger: trigger, logger: logger}
}

// Run watches until the context is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return err
	}

	w.logger.Info("watching data directory", slog.String("dir", w.dir))

	return w.watchLoop(ctx, watcher)
}

// watchLoop is the main select loop: fsnotify events, watcher errors with
// exponential backoff, debounce expiry, and context cancellation.
func (w *Watcher) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) error {
	// The debounce timer starts disarmed; the first relevant event arms it.
	debounce := time.NewTimer(watchDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	errBackoff := watchErrInitBackoff
	armed := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if !w.relevant(event) {
				continue
			}

			w.logger.Debug("data directory changed",
				slog.String("path", event.Name),
				slog.String("op", event.Op.String()),
			)

			if armed {
				if !debounce.Stop() {
					<-debounce.C
				}
			}

			debounce.Reset(watchDebounce)
			armed = true
			errBackoff = watchErrInitBackoff

		case <-debounce.C:
			armed = false
			w.trigger(ctx, TriggerLocalChange)

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			w.logger.Warn("filesystem watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			// Backoff prevents a tight loop under sustained errors
			// (e.g., kernel buffer overflow).
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(errBackoff):
			}

			errBackoff *= watchErrBackoffMult
			if errBackoff > watchErrMaxBackoff {
				errBackoff = watchErrMaxBackoff
			}
		}
	}
}

// relevant filters out chmod noise and SQLite sidecar churn: the WAL and
// shared-memory files change on our own writes, which must not re-trigger
// a cycle.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}

	name := filepath.Base(event.Name)

	if strings.HasSuffix(name, "-wal") || strings.HasSuffix(name, "-shm") ||
		strings.HasSuffix(name, "-journal") || strings.HasPrefix(name, ".") {
		return false
	}

	return true
}
