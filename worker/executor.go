// Package worker runs resumption jobs: an Executor invokes registered
// handlers through middleware and decides between completion, retry and
// failure, and a Pool polls the job store with per-incident routing so an
// incident never has two jobs in flight in one pool.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bprzybys-nc/manager-sub001/backoff"
	"github.com/bprzybys-nc/manager-sub001/ext"
	"github.com/bprzybys-nc/manager-sub001/job"
	"github.com/bprzybys-nc/manager-sub001/middleware"
)

// Executor runs a single job through middleware and the registered
// handler, then records the outcome and emits lifecycle events.
type Executor struct {
	registry   *job.Registry
	extensions *ext.Registry
	store      job.Store
	backoff    backoff.Strategy
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	extensions *ext.Registry,
	store job.Store,
	bo backoff.Strategy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry:   registry,
		extensions: extensions,
		store:      store,
		backoff:    bo,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs a job through the middleware chain and handler.
// On success the job is completed. A failure is retried with backoff while
// retries remain, unless the handler marked it permanent, in which case
// the job fails at once.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	handler, ok := e.registry.Get(j.Name)
	if !ok {
		err := job.Permanent(fmt.Errorf("no handler registered for job %q", j.Name))
		j.LastError = err.Error()
		return e.fail(ctx, j, err)
	}

	start := time.Now()
	err := e.mw(ctx, j, func(ctx context.Context) error {
		return handler(ctx, j.Payload)
	})
	elapsed := time.Since(start)

	now := time.Now().UTC()
	j.UpdatedAt = now

	if err != nil {
		return e.handleFailure(ctx, j, err, now)
	}
	return e.handleSuccess(ctx, j, now, elapsed)
}

func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, now time.Time, elapsed time.Duration) error {
	j.State = job.StateCompleted
	j.CompletedAt = &now
	j.LastError = ""

	if err := e.store.UpdateJob(ctx, j); err != nil {
		e.logger.Error("failed to update job after success",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.extensions.EmitJobCompleted(ctx, j, elapsed)
	return nil
}

func (e *Executor) handleFailure(ctx context.Context, j *job.Job, handlerErr error, now time.Time) error {
	j.LastError = handlerErr.Error()
	if errors.Is(handlerErr, job.ErrPermanent) {
		return e.fail(ctx, j, handlerErr)
	}

	j.RetryCount++
	if j.RetryCount <= j.MaxRetries {
		return e.scheduleRetry(ctx, j, handlerErr, now)
	}
	return e.fail(ctx, j, handlerErr)
}

func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job, handlerErr error, now time.Time) error {
	delay := e.backoff.Delay(j.RetryCount)
	nextRunAt := now.Add(delay)
	j.RunAt = nextRunAt
	j.State = job.StateRetrying
	j.WorkerID = nilWorker

	if err := e.store.UpdateJob(ctx, j); err != nil {
		e.logger.Error("failed to update job for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.extensions.EmitJobRetrying(ctx, j, j.RetryCount, nextRunAt)

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.String("incident_id", j.IncidentID),
		slog.Int("attempt", j.RetryCount),
		slog.Int("max_retries", j.MaxRetries),
		slog.Duration("delay", delay),
	)

	return fmt.Errorf("job %s retry %d/%d: %w", j.Name, j.RetryCount, j.MaxRetries, handlerErr)
}

// fail marks the job failed. Failed jobs stay in the store for operators.
func (e *Executor) fail(ctx context.Context, j *job.Job, handlerErr error) error {
	now := time.Now().UTC()
	j.State = job.StateFailed
	j.CompletedAt = &now
	j.UpdatedAt = now

	if err := e.store.UpdateJob(ctx, j); err != nil {
		e.logger.Error("failed to update job as failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.extensions.EmitJobFailed(ctx, j, handlerErr)

	e.logger.Warn("job failed",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.String("incident_id", j.IncidentID),
		slog.Int("retry_count", j.RetryCount),
		slog.Bool("permanent", errors.Is(handlerErr, job.ErrPermanent)),
		slog.String("error", handlerErr.Error()),
	)
	return handlerErr
}
