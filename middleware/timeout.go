package middleware

import (
	"context"
	"log/slog"

	"github.com/bprzybys-nc/manager-sub001/job"
)

// Timeout returns middleware that enforces a job's Timeout. The workflow
// checks its context between steps, so an expired job stops at the next
// step boundary with its progress saved.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if j.Timeout <= 0 {
			return next(ctx)
		}
		logger.Debug("job timeout set",
			slog.String("job_id", j.ID.String()),
			slog.Duration("timeout", j.Timeout),
		)
		ctx, cancel := context.WithTimeout(ctx, j.Timeout)
		defer cancel()
		return next(ctx)
	}
}
