package cloud

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// GetSnapshot fetches the user's full record set as raw JSON. Returns
// (nil, nil) when the user has no snapshot yet (HTTP 404) — callers treat
// that as an empty replica, not an error.
func (c *Client) GetSnapshot(ctx context.Context, userID string) ([]byte, error) {
	resp, err := c.Do(ctx, http.MethodGet, recordsPath(userID), nil)
	if err != nil {
		if se, ok := statusError(err); ok && se.StatusCode == http.StatusNotFound {
			return nil, nil
		}

		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("cloud: reading snapshot body: %w", err)
	}

	return body, nil
}

// PutSnapshot replaces the user's full record set. The server applies the
// payload as one atomic snapshot replace.
func (c *Client) PutSnapshot(ctx context.Context, userID string, body []byte) error {
	resp, err := c.Do(ctx, http.MethodPut, recordsPath(userID), body)
	if err != nil {
		return err
	}

	resp.Body.Close()

	return nil
}

// Apply performs a single queued mutation against the remote replica.
// op is "create", "update", or "delete"; payload is the record JSON
// captured at enqueue time (nil for deletes).
func (c *Client) Apply(ctx context.Context, userID, op, collection, recordID string, payload []byte) error {
	var (
		method string
		path   string
		body   []byte
	)

	base := fmt.Sprintf("/v1/users/%s/%s", url.PathEscape(userID), url.PathEscape(collection))

	switch op {
	case "create":
		method = http.MethodPost
		path = base
		body = payload
	case "update":
		method = http.MethodPut
		path = base + "/" + url.PathEscape(recordID)
		body = payload
	case "delete":
		method = http.MethodDelete
		path = base + "/" + url.PathEscape(recordID)
	default:
		return fmt.Errorf("cloud: unknown queue operation %q", op)
	}

	resp, err := c.Do(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp.Body.Close()

	return nil
}

// Ping probes connectivity with a cheap unauthenticated request.
func (c *Client) Ping(ctx context.Context) bool {
	resp, err := c.Do(ctx, http.MethodGet, "/v1/ping", nil)
	if err != nil {
		return false
	}

	resp.Body.Close()

	return true
}

func recordsPath(userID string) string {
	return fmt.Sprintf("/v1/users/%s/records", url.PathEscape(userID))
}

// statusError unwraps a *StatusError from err, if present.
func statusError(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}

	return nil, false
}
