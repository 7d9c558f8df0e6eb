package executor

import (
	"context"
	"log/slog"
)

// Pull leaves dispatched batches visible in the task store; agents claim
// them with Claim through the HTTP API and report to the callback address.
type Pull struct {
	logger *slog.Logger
}

var _ Dispatcher = (*Pull)(nil)

// NewPull creates a pull dispatcher.
func NewPull(logger *slog.Logger) *Pull {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pull{logger: logger}
}

// Dispatch implements Dispatcher. The batch is already persisted and
// visible, so there is nothing to send.
func (p *Pull) Dispatch(_ context.Context, req Request) error {
	p.logger.Info("batch ready for agent",
		slog.String("incident_id", req.IncidentID),
		slog.String("batch_id", req.BatchID),
		slog.Int("commands", len(req.Commands)),
	)
	return nil
}
