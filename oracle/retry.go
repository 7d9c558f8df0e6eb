package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/bprzybys-nc/manager-sub001/backoff"
)

// Retrying wraps an Oracle so every decision is attempted a bounded number
// of times. After the last failed attempt the error is wrapped in
// ErrExhausted. Context cancellation is never retried.
type Retrying struct {
	inner    Oracle
	attempts int
	backoff  backoff.Strategy
	limiter  *rate.Limiter
	logger   *slog.Logger
}

var _ Oracle = (*Retrying)(nil)

// RetryOption configures a Retrying oracle.
type RetryOption func(*Retrying)

// WithAttempts sets the attempt budget. Values below 1 are ignored.
func WithAttempts(n int) RetryOption {
	return func(r *Retrying) {
		if n > 0 {
			r.attempts = n
		}
	}
}

// WithBackoff sets the delay strategy between attempts.
func WithBackoff(s backoff.Strategy) RetryOption {
	return func(r *Retrying) { r.backoff = s }
}

// WithRateLimit caps decision calls per second across all incidents.
// Zero disables the limiter.
func WithRateLimit(perSecond float64, burst int) RetryOption {
	return func(r *Retrying) {
		if perSecond <= 0 {
			r.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLogger sets the logger used to report failed attempts.
func WithLogger(l *slog.Logger) RetryOption {
	return func(r *Retrying) { r.logger = l }
}

// NewRetrying wraps inner with three attempts and OracleStrategy delays.
func NewRetrying(inner Oracle, opts ...RetryOption) *Retrying {
	r := &Retrying{
		inner:    inner,
		attempts: 3,
		backoff:  backoff.OracleStrategy(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func retry[T any](ctx context.Context, r *Retrying, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var last error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		if attempt > 1 {
			if err := backoff.Wait(ctx, r.backoff, attempt-1); err != nil {
				return zero, err
			}
		}
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return zero, err
			}
		}
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		last = err
		r.logger.Warn("oracle call failed",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", r.attempts),
			slog.String("error", err.Error()),
		)
	}
	return zero, fmt.Errorf("%w: %s after %d attempts: %w", ErrExhausted, op, r.attempts, last)
}

// Classify implements Oracle.
func (r *Retrying) Classify(ctx context.Context, req ClassifyRequest) (*Classification, error) {
	return retry(ctx, r, "classify", func(ctx context.Context) (*Classification, error) {
		return r.inner.Classify(ctx, req)
	})
}

// Diagnose implements Oracle.
func (r *Retrying) Diagnose(ctx context.Context, req DiagnoseRequest) (*Diagnosis, error) {
	return retry(ctx, r, "diagnose", func(ctx context.Context) (*Diagnosis, error) {
		return r.inner.Diagnose(ctx, req)
	})
}

// Interpret implements Oracle.
func (r *Retrying) Interpret(ctx context.Context, req InterpretRequest) (*Interpretation, error) {
	return retry(ctx, r, "interpret", func(ctx context.Context) (*Interpretation, error) {
		return r.inner.Interpret(ctx, req)
	})
}

// IdentifySource implements Oracle.
func (r *Retrying) IdentifySource(ctx context.Context, req SourceRequest) (*Sources, error) {
	return retry(ctx, r, "identify_source", func(ctx context.Context) (*Sources, error) {
		return r.inner.IdentifySource(ctx, req)
	})
}

// Recommend implements Oracle.
func (r *Retrying) Recommend(ctx context.Context, req RecommendRequest) (*Recommendation, error) {
	return retry(ctx, r, "recommend", func(ctx context.Context) (*Recommendation, error) {
		return r.inner.Recommend(ctx, req)
	})
}

// GenerateRemediation implements Oracle.
func (r *Retrying) GenerateRemediation(ctx context.Context, req RemediationRequest) (*Remediation, error) {
	return retry(ctx, r, "generate_remediation", func(ctx context.Context) (*Remediation, error) {
		return r.inner.GenerateRemediation(ctx, req)
	})
}

// SelectPlatform implements Oracle.
func (r *Retrying) SelectPlatform(ctx context.Context, command string) (Platform, error) {
	return retry(ctx, r, "select_platform", func(ctx context.Context) (Platform, error) {
		return r.inner.SelectPlatform(ctx, command)
	})
}
