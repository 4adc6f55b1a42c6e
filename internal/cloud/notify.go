package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/sethvargo/go-retry"
)

// Reconnect backoff bounds for the change feed.
const (
	reconnectBase = 2 * time.Second
	reconnectCap  = 2 * time.Minute
)

// EventType classifies change feed events delivered to the orchestrator.
type EventType string

// Feed event types. Connected/Disconnected double as the connectivity
// signal; RemoteChanged means another device wrote the remote replica.
const (
	EventConnected     EventType = "connected"
	EventDisconnected  EventType = "disconnected"
	EventRemoteChanged EventType = "remote_changed"
)

// Event is one change feed notification.
type Event struct {
	Type     EventType
	Username string
}

// wireEvent is the JSON shape of server-pushed feed messages.
type wireEvent struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

// Feed maintains the websocket subscription to the cloud change feed,
// reconnecting with capped fibonacci backoff whenever the connection
// drops. Connection edges are surfaced as events so the orchestrator can
// track connectivity.
type Feed struct {
	url        string
	token      TokenSource
	httpClient *http.Client
	logger     *slog.Logger

	// minSession is how long a connection must live to count as an
	// established session. Shorter sessions keep the accumulated backoff.
	minSession time.Duration
}

// errSessionEnded marks the drop of an established session, exiting the
// retry loop so the next reconnect starts from fresh backoff.
var errSessionEnded = errors.New("cloud: feed session ended")

// NewFeed creates a change feed subscriber. url is the websocket endpoint
// (ws:// or wss://).
func NewFeed(url string, token TokenSource, httpClient *http.Client, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}

	return &Feed{
		url:        url,
		token:      token,
		httpClient: httpClient,
		logger:     logger,
		minSession: reconnectBase,
	}
}

// Run subscribes and delivers events until the context is canceled.
// Each dropped connection emits EventDisconnected, then reconnects with
// backoff; each established connection emits EventConnected. The backoff
// restarts from its base after every session that outlived minSession, so
// a drop hours into a healthy subscription reconnects promptly.
func (f *Feed) Run(ctx context.Context, onEvent func(Event)) error {
	for {
		backoff := retry.WithCappedDuration(reconnectCap, retry.NewFibonacci(reconnectBase))

		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			started := time.Now()

			connected, err := f.serve(ctx, onEvent)
			if err == nil {
				return nil
			}

			f.logger.Warn("change feed disconnected",
				slog.String("error", err.Error()),
			)
			onEvent(Event{Type: EventDisconnected})

			if connected && time.Since(started) >= f.minSession {
				return errSessionEnded
			}

			return retry.RetryableError(err)
		})

		switch {
		case ctx.Err() != nil:
			return fmt.Errorf("cloud: change feed stopped: %w", ctx.Err())
		case errors.Is(err, errSessionEnded):
			continue
		default:
			return err
		}
	}
}

// serve dials the feed and pumps events until the connection fails or the
// context ends. The bool reports whether the connection was established;
// a nil error means context cancellation.
func (f *Feed) serve(ctx context.Context, onEvent func(Event)) (bool, error) {
	opts := &websocket.DialOptions{HTTPClient: f.httpClient}

	if f.token != nil {
		tok, err := f.token.Token()
		if err != nil {
			return false, fmt.Errorf("cloud: getting feed token: %w", err)
		}

		opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + tok}}
	}

	conn, _, err := websocket.Dial(ctx, f.url, opts)
	if err != nil {
		return false, fmt.Errorf("cloud: dialing change feed: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "shutting down")

	f.logger.Info("change feed connected", slog.String("url", f.url))
	onEvent(Event{Type: EventConnected})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}

			return true, fmt.Errorf("cloud: reading change feed: %w", err)
		}

		var we wireEvent
		if err := json.Unmarshal(data, &we); err != nil {
			// Malformed frames are dropped, not fatal.
			f.logger.Warn("unparseable change feed frame", slog.String("error", err.Error()))
			continue
		}

		if we.Type == "changed" {
			onEvent(Event{Type: EventRemoteChanged, Username: we.Username})
		}
	}
}
