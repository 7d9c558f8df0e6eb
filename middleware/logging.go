package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bprzybys-nc/manager-sub001/job"
)

// Logging returns middleware that logs job start and outcome. Permanent
// failures are logged as warnings since retrying will not change them.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		attrs := []any{
			slog.String("job_name", j.Name),
			slog.String("job_id", j.ID.String()),
			slog.String("incident_id", j.IncidentID),
		}
		logger.Debug("job started", append(attrs, slog.Int("attempt", j.RetryCount+1))...)

		start := time.Now()
		err := next(ctx)
		attrs = append(attrs, slog.Duration("elapsed", time.Since(start)))

		switch {
		case err == nil:
			logger.Info("job completed", attrs...)
		case errors.Is(err, job.ErrPermanent):
			logger.Warn("job rejected", append(attrs, slog.String("error", err.Error()))...)
		default:
			logger.Error("job failed", append(attrs, slog.String("error", err.Error()))...)
		}
		return err
	}
}
