package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/arenabench/arena/pkg/types"
)

// Client wraps the orchestrator HTTP API for CLI usage.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the orchestrator at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateSessionResponse is the reply to CreateSession.
type CreateSessionResponse struct {
	SessionID string   `json:"sessionId"`
	RunIDs    []string `json:"runIds"`
}

// CreateSession submits a prompt and model list; the orchestrator starts
// one run per model immediately.
func (c *Client) CreateSession(ctx context.Context, prompt string, models []types.ModelRef) (*CreateSessionResponse, error) {
	body := map[string]any{"prompt": prompt, "models": models}
	var resp CreateSessionResponse
	if err := c.call(ctx, http.MethodPost, "/api/sessions", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetSession fetches a session with its runs joined.
func (c *Client) GetSession(ctx context.Context, id string) (*types.SessionView, error) {
	var view types.SessionView
	if err := c.call(ctx, http.MethodGet, "/api/sessions/"+id, nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// GetRun fetches a single run record.
func (c *Client) GetRun(ctx context.Context, id string) (*types.Run, error) {
	var run types.Run
	if err := c.call(ctx, http.MethodGet, "/api/runs/"+id, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// StartRun restarts a queued or terminal run.
func (c *Client) StartRun(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodPost, "/api/runs/"+id+"/start", nil, nil)
}

// Kill terminates a run.
func (c *Client) Kill(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, "/api/runs/"+id, nil, nil)
}

// Logs fetches the concatenated logs of a run.
func (c *Client) Logs(ctx context.Context, id string) (string, error) {
	var resp map[string]string
	if err := c.call(ctx, http.MethodGet, "/api/runs/"+id+"/logs", nil, &resp); err != nil {
		return "", err
	}
	return resp["logs"], nil
}

// Stats is the orchestrator's resource snapshot.
type Stats struct {
	Sessions         int            `json:"sessions"`
	Runs             int            `json:"runs"`
	RunsByStatus     map[string]int `json:"runsByStatus"`
	ActiveContainers int            `json:"activeContainers"`
	RegisteredRuns   int            `json:"registeredRuns"`
	PortsAllocated   int            `json:"portsAllocated"`
}

// GetStats fetches the orchestrator's resource snapshot.
func (c *Client) GetStats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := c.call(ctx, http.MethodGet, "/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
