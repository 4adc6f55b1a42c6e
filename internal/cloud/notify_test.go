package cloud

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feedServer is a minimal websocket endpoint pushing the given frames to
// every subscriber.
func feedServer(t *testing.T, frames []string, gotAuth *string) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gotAuth != nil {
			*gotAuth = r.Header.Get("Authorization")
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		for _, frame := range frames {
			if err := conn.Write(r.Context(), websocket.MessageText, []byte(frame)); err != nil {
				return
			}
		}

		<-r.Context().Done()
	}))
	t.Cleanup(server.Close)

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestFeed_DeliversEvents(t *testing.T) {
	var gotAuth string

	server := feedServer(t, []string{
		`{"type":"changed","username":"alice"}`,
		`{"type":"heartbeat"}`,
		`not even json`,
		`{"type":"changed","username":"alice"}`,
	}, &gotAuth)

	feed := NewFeed(wsURL(server), staticToken("tok-feed"), server.Client(), testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu     sync.Mutex
		events []Event
	)

	done := make(chan error, 1)

	go func() {
		done <- feed.Run(ctx, func(ev Event) {
			mu.Lock()
			defer mu.Unlock()

			events = append(events, ev)

			// Two change events observed: we have what we need.
			changed := 0
			for _, e := range events {
				if e.Type == EventRemoteChanged {
					changed++
				}
			}

			if changed == 2 {
				cancel()
			}
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			assert.True(t, errors.Is(err, context.Canceled))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("feed did not deliver events in time")
	}

	mu.Lock()
	defer mu.Unlock()

	require.NotEmpty(t, events)
	assert.Equal(t, EventConnected, events[0].Type, "connection edge comes first")

	var changes []Event

	for _, ev := range events {
		if ev.Type == EventRemoteChanged {
			changes = append(changes, ev)
		}
	}

	// Heartbeats and malformed frames are dropped; only change events
	// reach the orchestrator.
	require.Len(t, changes, 2)
	assert.Equal(t, "alice", changes[0].Username)
	assert.Equal(t, "Bearer tok-feed", gotAuth)
}

func TestFeed_ReconnectsAfterSessionDrop(t *testing.T) {
	// Every accepted connection sends one change event, then hangs up.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}

		_ = conn.Write(r.Context(), websocket.MessageText,
			[]byte(`{"type":"changed","username":"alice"}`))
		conn.Close(websocket.StatusNormalClosure, "")
	}))
	t.Cleanup(server.Close)

	feed := NewFeed(wsURL(server), staticToken("tok"), server.Client(), testLogger(t))
	// Short test sessions still count as established, so each hangup
	// restarts the backoff instead of stacking delays.
	feed.minSession = 0

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu       sync.Mutex
		connects int
	)

	done := make(chan error, 1)

	go func() {
		done <- feed.Run(ctx, func(ev Event) {
			if ev.Type != EventConnected {
				return
			}

			mu.Lock()
			connects++
			again := connects == 2
			mu.Unlock()

			if again {
				cancel()
			}
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("feed did not reconnect after a dropped session")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, connects, 2)
}

func TestFeed_UnreachableEndpoint_EmitsDisconnected(t *testing.T) {
	feed := NewFeed("ws://127.0.0.1:1/v1/events", staticToken("tok"), http.DefaultClient, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sawDisconnect := make(chan struct{}, 1)

	done := make(chan error, 1)

	go func() {
		done <- feed.Run(ctx, func(ev Event) {
			if ev.Type == EventDisconnected {
				select {
				case sawDisconnect <- struct{}{}:
				default:
				}

				cancel()
			}
		})
	}()

	select {
	case <-sawDisconnect:
	case <-time.After(5 * time.Second):
		t.Fatal("no disconnect event for an unreachable feed")
	}

	<-done
}
