package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	manager "github.com/bprzybys-nc/manager-sub001"
	"github.com/bprzybys-nc/manager-sub001/task"
)

// HTTP claims each dispatched batch and pushes it to an agent endpoint as
// JSON. The agent answers 2xx once it has accepted the batch and later
// posts results to Request.CallbackURL.
type HTTP struct {
	endpoint string
	store    task.Store
	client   *http.Client
	logger   *slog.Logger
}

var _ Dispatcher = (*HTTP)(nil)

// HTTPOption configures an HTTP dispatcher.
type HTTPOption func(*HTTP)

// WithHTTPClient sets the client used to reach the agent.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTP) { h.client = c }
}

// WithHTTPLogger sets the logger.
func WithHTTPLogger(l *slog.Logger) HTTPOption {
	return func(h *HTTP) { h.logger = l }
}

// NewHTTP creates a push dispatcher posting to endpoint.
func NewHTTP(endpoint string, store task.Store, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		endpoint: endpoint,
		store:    store,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Dispatch implements Dispatcher. The batch is claimed only after the
// agent accepted it, so a failed push can be dispatched again. A batch that
// was already claimed is treated as delivered.
func (h *HTTP) Dispatch(ctx context.Context, req Request) error {
	b, err := h.store.GetBatch(ctx, req.BatchID)
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", req.BatchID, err)
	}
	if !b.Visible {
		h.logger.Debug("batch already claimed, skipping push", slog.String("batch_id", req.BatchID))
		return nil
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("dispatch %s: encode: %w", req.BatchID, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", req.BatchID, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", req.BatchID, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("dispatch %s: agent returned %d: %s", req.BatchID, resp.StatusCode, bytes.TrimSpace(msg))
	}

	if _, err := claimBatch(ctx, h.store, b); err != nil && !errors.Is(err, manager.ErrBatchClaimed) {
		return fmt.Errorf("dispatch %s: claim: %w", req.BatchID, err)
	}

	h.logger.Info("batch pushed to agent",
		slog.String("incident_id", req.IncidentID),
		slog.String("batch_id", req.BatchID),
		slog.Int("commands", len(req.Commands)),
	)
	return nil
}
