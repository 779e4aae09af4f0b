// Package client is the HTTP/JSON client for the paydeck agent backend. It
// implements orchestrator.Backend over the four console endpoints. Unknown
// response fields are ignored for forward compatibility.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/paydeck/paydeck/internal/orchestrator"
	"github.com/paydeck/paydeck/internal/telemetry"
)

// Client talks to a paydeck agent backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a backend client. timeout bounds each request; zero means the
// default 15 seconds.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// call executes one round-trip and decodes the JSON response into out.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: backend returned %d: %s",
			method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("invalid response for %s %s: %w", method, path, err)
		}
	}
	return nil
}

// Telemetry fetches the current transaction sample set. An absent "logs"
// field decodes to nil, which the poller treats as "no update".
func (c *Client) Telemetry(ctx context.Context) ([]telemetry.Point, error) {
	var resp struct {
		Logs []telemetry.Point `json:"logs"`
	}
	if err := c.call(ctx, http.MethodGet, "/telemetry", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Logs, nil
}

// AgentState reports whether the agent is blocked awaiting approval.
func (c *Client) AgentState(ctx context.Context, threadID string) (orchestrator.AgentState, error) {
	var st orchestrator.AgentState
	path := "/agent_state?thread_id=" + url.QueryEscape(threadID)
	if err := c.call(ctx, http.MethodGet, path, nil, &st); err != nil {
		return orchestrator.AgentState{}, err
	}
	return st, nil
}

// RunCycle asks the backend to advance the agent by one cycle.
func (c *Client) RunCycle(ctx context.Context, threadID string) ([]string, error) {
	var resp struct {
		Logs []string `json:"logs"`
	}
	body := map[string]string{"thread_id": threadID}
	if err := c.call(ctx, http.MethodPost, "/run_cycle", body, &resp); err != nil {
		return nil, err
	}
	return resp.Logs, nil
}

// Decide submits a human approve/reject decision.
func (c *Client) Decide(ctx context.Context, threadID string, approved bool) ([]string, error) {
	var resp struct {
		Status string   `json:"status"`
		Logs   []string `json:"logs"`
	}
	body := map[string]any{"thread_id": threadID, "approved": approved}
	if err := c.call(ctx, http.MethodPost, "/approve_action", body, &resp); err != nil {
		return nil, err
	}
	return resp.Logs, nil
}

// Health checks the backend root endpoint; used by `paydeck status`.
func (c *Client) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.call(ctx, http.MethodGet, "/", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// compile-time interface check
var _ orchestrator.Backend = (*Client)(nil)
