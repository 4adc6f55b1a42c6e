package cloud

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

// staticToken is a TokenSource returning a fixed token.
type staticToken string

func (s staticToken) Token() (string, error) {
	return string(s), nil
}

// newTestClient wires a Client to an httptest server with instant retries.
func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(server.URL, server.Client(), staticToken("tok-123"), testLogger(t))
	client.sleepFunc = func(context.Context, time.Duration) error { return nil }

	return client, server
}

func TestClient_Do_Success(t *testing.T) {
	var gotAuth, gotAgent string

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAgent = r.Header.Get("User-Agent")
		w.Write([]byte(`ok`))
	}))

	resp, err := client.Do(context.Background(), http.MethodGet, "/v1/ping", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.Equal(t, userAgent, gotAgent)
}

func TestClient_Do_JSONContentTypeOnBody(t *testing.T) {
	var gotType string

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("Content-Type")
	}))

	resp, err := client.Do(context.Background(), http.MethodPost, "/v1/thing", []byte(`{}`))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "application/json", gotType)
}

func TestClient_Do_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		w.Write([]byte(`ok`))
	}))

	resp, err := client.Do(context.Background(), http.MethodGet, "/v1/flaky", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_Do_ExhaustedRetriesReturnStatusError(t *testing.T) {
	var calls atomic.Int32

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := client.Do(context.Background(), http.MethodGet, "/v1/broken", nil)

	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.ErrorIs(t, err, ErrServerError)

	// Initial attempt plus maxRetries.
	assert.Equal(t, int32(maxRetries+1), calls.Load())
}

func TestClient_Do_TerminalStatusNotRetried(t *testing.T) {
	var calls atomic.Int32

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := client.Do(context.Background(), http.MethodGet, "/v1/denied", nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}

func TestClient_Do_HonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)

			return
		}

		w.Write([]byte(`ok`))
	}))

	var slept time.Duration

	client.sleepFunc = func(_ context.Context, d time.Duration) error {
		slept = d
		return nil
	}

	resp, err := client.Do(context.Background(), http.MethodGet, "/v1/throttled", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, 7*time.Second, slept)
}

func TestClient_Do_CanceledContext(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Do(ctx, http.MethodGet, "/v1/ping", nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClient_CalcBackoff_CappedWithJitter(t *testing.T) {
	client := NewClient("http://example.invalid", nil, nil, testLogger(t))

	for attempt := 0; attempt < 10; attempt++ {
		backoff := client.calcBackoff(attempt)
		assert.GreaterOrEqual(t, backoff, baseBackoff)
		assert.LessOrEqual(t, backoff, time.Duration(float64(maxBackoff)*(1+jitterFraction)))
	}
}
