// Package client provides a Go client for a remote incident manager over
// its HTTP API, with websocket watches of incident events.
//
// Usage:
//
//	c := client.New("https://incidents.example.com",
//	    client.WithToken("s3cret"),
//	)
//
//	acc, err := c.CreateIncident(ctx, api.CreateIncidentRequest{
//	    Hostname: "db-1",
//	    Type:     "low_free_space",
//	})
//	events, err := c.Watch(ctx, acc.IncidentID)
//	for evt := range events {
//	    fmt.Println(evt.Type)
//	}
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Client talks to a remote incident manager.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger

	// Watch reconnection.
	reconnect  bool
	maxRetries int
	baseDelay  time.Duration
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
		maxRetries: 5,
		baseDelay:  time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Error is a non-2xx answer from the server. Reason and Detail are set
// when an incident closure was refused.
type Error struct {
	Status  int
	Message string
	Reason  string
	Detail  string
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("manager/client: %d: %s: %s", e.Status, e.Reason, e.Detail)
	}
	return fmt.Sprintf("manager/client: %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Status == http.StatusNotFound
}

// IsConflict reports whether err is a 409 from the server.
func IsConflict(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Status == http.StatusConflict
}

// do sends a JSON request and decodes a JSON answer into out. It returns
// the status code so callers can tell 204 from 200.
func (c *Client) do(ctx context.Context, method, path string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return resp.StatusCode, decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func decodeError(resp *http.Response) error {
	e := &Error{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil || len(raw) == 0 {
		return e
	}
	var body struct {
		Message string `json:"message"`
		Reason  string `json:"reason"`
		Detail  string `json:"detail"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Message != "" {
			e.Message = body.Message
		}
		e.Reason, e.Detail = body.Reason, body.Detail
	}
	return e
}
