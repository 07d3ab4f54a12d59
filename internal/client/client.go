// Package client talks to a running permanence server over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lazypower/permanence/internal/api"
	"github.com/lazypower/permanence/internal/engine"
	"github.com/lazypower/permanence/internal/permanence"
)

const defaultTimeout = 30 * time.Second

// Client talks to the permanence server.
type Client struct {
	http      *http.Client
	serverURL string
}

// New creates a client for the server at serverURL. A zero timeout uses the
// default.
func New(serverURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		http:      &http.Client{Timeout: timeout},
		serverURL: strings.TrimRight(serverURL, "/"),
	}
}

// Error is a non-2xx response. It unwraps to the matching domain sentinel,
// so callers can use errors.Is as they would against the engine.
type Error struct {
	Method  string
	Path    string
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Message)
}

func (e *Error) Unwrap() error { return api.Sentinel(e.Code) }

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, rd)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		apiErr := &Error{Method: method, Path: path, Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var body api.Error
		if json.Unmarshal(data, &body) == nil && body.Error != "" {
			apiErr.Code = body.Code
			apiErr.Message = body.Error
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response %s: %w", path, err)
	}
	return nil
}

// Healthy checks if the server is reachable.
func (c *Client) Healthy(ctx context.Context) bool {
	return c.do(ctx, http.MethodGet, "/api/health", nil, nil) == nil
}

// CreateItem registers a new item.
func (c *Client) CreateItem(ctx context.Context, req api.CreateItemRequest) (api.Item, error) {
	var it api.Item
	err := c.do(ctx, http.MethodPost, "/api/items", req, &it)
	return it, err
}

// Visibility returns the item's state, evaluated at the server's clock.
func (c *Client) Visibility(ctx context.Context, itemID string) (permanence.Visibility, error) {
	var v permanence.Visibility
	err := c.do(ctx, http.MethodGet, "/api/items/"+url.PathEscape(itemID), nil, &v)
	return v, err
}

// Explain returns the score breakdown for an item at at, or at the server's
// clock when at is zero.
func (c *Client) Explain(ctx context.Context, itemID string, at time.Time) (engine.Explanation, error) {
	path := "/api/items/" + url.PathEscape(itemID) + "/explain"
	if !at.IsZero() {
		path += "?at=" + url.QueryEscape(at.Format(time.RFC3339Nano))
	}
	var ex engine.Explanation
	err := c.do(ctx, http.MethodGet, path, nil, &ex)
	return ex, err
}

// RecordEvent posts an engagement event.
func (c *Client) RecordEvent(ctx context.Context, itemID string, req api.EventRequest) (api.EventResponse, error) {
	var resp api.EventResponse
	err := c.do(ctx, http.MethodPost, "/api/items/"+url.PathEscape(itemID)+"/events", req, &resp)
	return resp, err
}

// Events lists an item's most recent engagement events.
func (c *Client) Events(ctx context.Context, itemID string, limit int) ([]api.Event, error) {
	path := "/api/items/" + url.PathEscape(itemID) + "/events"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp api.EventsResponse
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	return resp.Events, err
}

// ForceArchive asks the server to archive an item that qualifies.
func (c *Client) ForceArchive(ctx context.Context, itemID string, at time.Time) (permanence.Visibility, error) {
	var v permanence.Visibility
	err := c.do(ctx, http.MethodPost, "/api/items/"+url.PathEscape(itemID)+"/archive", api.AtRequest{At: at}, &v)
	return v, err
}

// Sweep runs a sweep on the server at at, or at the server's clock when at is zero.
func (c *Client) Sweep(ctx context.Context, at time.Time) (*engine.SweepReport, error) {
	var report engine.SweepReport
	if err := c.do(ctx, http.MethodPost, "/api/sweep", api.AtRequest{At: at}, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// ResumeSweep continues an interrupted run.
func (c *Client) ResumeSweep(ctx context.Context, runID string) (*engine.SweepReport, error) {
	var report engine.SweepReport
	if err := c.do(ctx, http.MethodPost, "/api/sweeps/"+url.PathEscape(runID)+"/resume", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// SweepRun fetches the record of a sweep run.
func (c *Client) SweepRun(ctx context.Context, runID string) (api.SweepRun, error) {
	var run api.SweepRun
	err := c.do(ctx, http.MethodGet, "/api/sweeps/"+url.PathEscape(runID), nil, &run)
	return run, err
}

// Archive lists up to limit of a user's permanent items, newest first.
func (c *Client) Archive(ctx context.Context, userID string, limit int) (api.ArchiveResponse, error) {
	path := "/api/users/" + url.PathEscape(userID) + "/archive"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp api.ArchiveResponse
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	return resp, err
}

// Stats returns item counts per state.
func (c *Client) Stats(ctx context.Context) (api.StatsResponse, error) {
	var resp api.StatsResponse
	err := c.do(ctx, http.MethodGet, "/api/stats", nil, &resp)
	return resp, err
}
