package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Session is the result of a successful login.
type Session struct {
	Token    string `json:"token"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// Login authenticates with username and password and returns a session.
// Wrong credentials surface as ErrInvalidCredentials.
func (c *Client) Login(ctx context.Context, username, password string) (*Session, error) {
	body, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return nil, fmt.Errorf("cloud: encoding login request: %w", err)
	}

	resp, err := c.Do(ctx, http.MethodPost, "/v1/auth/login", body)
	if err != nil {
		if se, ok := statusError(err); ok && se.StatusCode == http.StatusUnauthorized {
			return nil, ErrInvalidCredentials
		}

		return nil, err
	}
	defer resp.Body.Close()

	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("cloud: decoding login response: %w", err)
	}

	if session.Token == "" {
		return nil, fmt.Errorf("cloud: login response missing token")
	}

	return &session, nil
}

// Whoami validates the current session token and returns the user it
// belongs to.
func (c *Client) Whoami(ctx context.Context) (*Session, error) {
	resp, err := c.Do(ctx, http.MethodGet, "/v1/auth/whoami", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("cloud: decoding whoami response: %w", err)
	}

	return &session, nil
}

// Logout invalidates the current session token server-side. A 401 is not
// an error here — the token was already dead.
func (c *Client) Logout(ctx context.Context) error {
	resp, err := c.Do(ctx, http.MethodPost, "/v1/auth/logout", nil)
	if err != nil {
		if se, ok := statusError(err); ok && se.StatusCode == http.StatusUnauthorized {
			return nil
		}

		return err
	}

	resp.Body.Close()

	return nil
}
