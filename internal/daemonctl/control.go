// Package daemonctl provides the HTTP client the CLI uses to talk to a
// running dubber daemon.
package daemonctl

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
)

// APIError carries the HTTP status and message of a failed daemon request.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("daemon request failed with status %d", e.Status)
}

// Client talks to the daemon's HTTP API.
type Client struct {
	base string
	user string
	http *http.Client
}

// New builds a client for the given API address. The user identity is sent
// with every request and used for ownership checks on mutating operations.
func New(address, user string) *Client {
	base := strings.TrimSpace(address)
	if base != "" && !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		user: user,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// Ping reports whether the daemon answers its status endpoint.
func (c *Client) Ping(ctx context.Context) bool {
	var ignored json.RawMessage
	return c.get(ctx, "/api/status", &ignored) == nil
}

// Status fetches the daemon status payload.
func (c *Client) Status(ctx context.Context, out any) error {
	return c.get(ctx, "/api/status", out)
}

// Health fetches the readiness payload.
func (c *Client) Health(ctx context.Context, out any) error {
	return c.get(ctx, "/api/health", out)
}

// Submit enqueues a new job from the given request payload.
func (c *Client) Submit(ctx context.Context, req, out any) error {
	return c.post(ctx, "/api/jobs", req, out)
}

// Jobs lists jobs, optionally filtered by user and status.
func (c *Client) Jobs(ctx context.Context, user, status string, out any) error {
	params := url.Values{}
	if user != "" {
		params.Set("user", user)
	}
	if status != "" {
		params.Set("status", status)
	}
	path := "/api/jobs"
	if encoded := params.Encode(); encoded != "" {
		path += "?" + encoded
	}
	return c.get(ctx, path, out)
}

// Job fetches a single job by id.
func (c *Client) Job(ctx context.Context, id string, out any) error {
	return c.get(ctx, "/api/jobs/"+url.PathEscape(id), out)
}

// Cancel stops a live job.
func (c *Client) Cancel(ctx context.Context, id string) error {
	return c.post(ctx, "/api/jobs/"+url.PathEscape(id)+"/cancel", nil, nil)
}

// Retry clones a failed job into a fresh pending one.
func (c *Client) Retry(ctx context.Context, id string, out any) error {
	return c.post(ctx, "/api/jobs/"+url.PathEscape(id)+"/retry", nil, out)
}

// Remove deletes a job.
func (c *Client) Remove(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/jobs/"+url.PathEscape(id), nil, nil)
}

// QueueStats fetches queue counts keyed by status.
func (c *Client) QueueStats(ctx context.Context, out any) error {
	return c.get(ctx, "/api/queue/stats", out)
}

// TTSUsage fetches per-service synthesis accounting.
func (c *Client) TTSUsage(ctx context.Context, out any) error {
	return c.get(ctx, "/api/tts/usage", out)
}

// TTSQuota fetches the monthly quota state for one service.
func (c *Client) TTSQuota(ctx context.Context, service string, out any) error {
	return c.get(ctx, "/api/tts/quota?service="+url.QueryEscape(service), out)
}

// TTSABResults fetches the realized versus configured A/B traffic split.
func (c *Client) TTSABResults(ctx context.Context, out any) error {
	return c.get(ctx, "/api/tts/ab-results", out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c.base == "" {
		return fmt.Errorf("daemon API address is not configured; set paths.api_bind or pass --api")
	}

	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.user != "" {
		req.Header.Set("X-User-ID", c.user)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connect to daemon at %s: %w (is dubberd running?)", c.base, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var failure struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &failure) == nil {
			apiErr.Message = failure.Error
		}
		// Some endpoints serve a full payload alongside an error status,
		// such as the 503 readiness response. Decode it opportunistically.
		if out != nil {
			_ = json.Unmarshal(raw, out)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
