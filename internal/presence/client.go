// Package presence talks to the matching service's side channels: the online
// counter and session registration. Both are best-effort and never affect the
// chat session itself.
package presence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// DefaultTimeout bounds every presence request.
const DefaultTimeout = 5 * time.Second

type onlineResponse struct {
	Online int `json:"online"`
}

type registerRequest struct {
	SessionID string `json:"session_id"`
}

type registerResponse struct {
	OK     bool `json:"ok"`
	Online int  `json:"online"`
}

// Client calls the presence endpoints of one matching service.
type Client struct {
	baseURL *url.URL
	http    *http.Client
}

// NewClient creates a Client for the service at serviceURL. A non-positive
// timeout selects DefaultTimeout.
func NewClient(serviceURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(serviceURL)
	if err != nil {
		return nil, fmt.Errorf("presence: parse service url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("presence: unsupported scheme %q", u.Scheme)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: u,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// Online returns the number of sessions the service currently counts.
func (c *Client) Online(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL.JoinPath("online").String(), nil)
	if err != nil {
		return 0, fmt.Errorf("presence: build request: %w", err)
	}
	var out onlineResponse
	if err := c.do(req, &out); err != nil {
		return 0, err
	}
	return out.Online, nil
}

// Register announces sessionID to the service and returns the updated count.
func (c *Client) Register(ctx context.Context, sessionID string) (int, error) {
	body, err := json.Marshal(registerRequest{SessionID: sessionID})
	if err != nil {
		return 0, fmt.Errorf("presence: encode register: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL.JoinPath("register").String(), bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("presence: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out registerResponse
	if err := c.do(req, &out); err != nil {
		return 0, err
	}
	if !out.OK {
		return 0, fmt.Errorf("presence: register rejected")
	}
	return out.Online, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("presence: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("presence: %s %s: unexpected status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("presence: decode %s: %w", req.URL.Path, err)
	}
	return nil
}
