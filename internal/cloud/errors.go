// Package cloud provides an HTTP client for the ledgersync cloud service
// with automatic retry, backoff, and error classification, plus the
// websocket change feed used for connectivity and remote-change triggers.
package cloud

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, cloud.ErrNotFound) to check.
var (
	ErrBadRequest         = errors.New("cloud: bad request")
	ErrUnauthorized       = errors.New("cloud: unauthorized")
	ErrForbidden          = errors.New("cloud: forbidden")
	ErrNotFound           = errors.New("cloud: not found")
	ErrConflict           = errors.New("cloud: conflict")
	ErrThrottled          = errors.New("cloud: throttled")
	ErrServerError        = errors.New("cloud: server error")
	ErrInvalidCredentials = errors.New("cloud: invalid credentials")
)

// StatusError wraps a sentinel error with the HTTP status code and the
// API error message body for debugging.
type StatusError struct {
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("cloud: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
