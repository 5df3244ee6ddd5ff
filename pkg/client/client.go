package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/riftborne/treequeue/internal/events"
	"github.com/riftborne/treequeue/internal/gateway/handlers"
	"github.com/riftborne/treequeue/internal/record"
)

// Client is a hand-written SDK for a treequeue gateway: it talks
// directly to the routes internal/gateway.Server registers, the same
// way this repository's other Redis/HTTP clients are built against a
// concrete wire protocol rather than a generated one.
type Client struct {
	baseURL string
	opts    *options
	ws      *WSClient
}

// New builds a Client addressing baseURL (e.g. "http://localhost:8080").
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSuffix(baseURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("client: base URL is required")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	return &Client{baseURL: baseURL, opts: o}, nil
}

// SubmitTask calls POST /api/v1/tasks with fields merged into the
// pushed record, returning the new task's id.
func (c *Client) SubmitTask(ctx context.Context, fields map[string]interface{}) (string, error) {
	var resp handlers.CreateResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/tasks", handlers.CreateRequest{Fields: fields}, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// GetTask calls GET /api/v1/tasks/{id} and returns the task's current
// record.
func (c *Client) GetTask(ctx context.Context, id string) (record.Record, error) {
	var rec record.Record
	if err := c.do(ctx, http.MethodGet, "/api/v1/tasks/"+id, nil, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// CancelTask calls DELETE /api/v1/tasks/{id}. It only succeeds while
// the task is still unclaimed, mirroring the gateway's Cancel guard.
func (c *Client) CancelTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/tasks/"+id, nil, nil)
}

// ListTasks calls GET /api/v1/tasks?state=&limit=.
func (c *Client) ListTasks(ctx context.Context, state string, limit int) (*handlers.ListResponse, error) {
	path := "/api/v1/tasks"
	q := make([]string, 0, 2)
	if state != "" {
		q = append(q, "state="+state)
	}
	if limit > 0 {
		q = append(q, fmt.Sprintf("limit=%d", limit))
	}
	if len(q) > 0 {
		path += "?" + strings.Join(q, "&")
	}

	var resp handlers.ListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListWorkers calls GET /admin/workers.
func (c *Client) ListWorkers(ctx context.Context) ([]handlers.WorkerInfo, error) {
	var resp struct {
		Workers []handlers.WorkerInfo `json:"workers"`
		Count   int                   `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/admin/workers", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Workers, nil
}

// Health calls GET /admin/health.
func (c *Client) Health(ctx context.Context) error {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/admin/health", nil, &resp); err != nil {
		return err
	}
	if resp.Status != "healthy" {
		return fmt.Errorf("client: gateway reports status %q", resp.Status)
	}
	return nil
}

// Events connects to the gateway's WebSocket endpoint and returns a
// channel of lifecycle events. The connection is closed when ctx is
// done or Close is called.
func (c *Client) Events(ctx context.Context) (<-chan *events.Event, error) {
	if c.ws == nil {
		c.ws = newWSClient(c.baseURL, c.opts)
	}
	if err := c.ws.Connect(ctx); err != nil {
		return nil, err
	}
	ws := c.ws
	go func() {
		select {
		case <-ctx.Done():
			_ = ws.Close()
		case <-ws.done:
		}
	}()
	return c.ws.Events(), nil
}

// Close releases the WebSocket connection, if one was opened.
func (c *Client) Close() error {
	if c.ws == nil {
		return nil
	}
	return c.ws.Close()
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var bodyReader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: encode request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.opts.applyHeaders(req)

	resp, err := c.opts.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var errResp handlers.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Message != "" {
			return fmt.Errorf("client: %s %s: %s: %s", method, path, errResp.Error, errResp.Message)
		}
		return fmt.Errorf("client: %s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}
