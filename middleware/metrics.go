package middleware

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/bprzybys-nc/manager-sub001/job"
)

// Metrics returns middleware that records per-job metrics with the global
// MeterProvider.
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(instrumentationName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
//
// Instruments:
//   - incident.job.duration (Float64Histogram, seconds)
//   - incident.job.executions (Int64Counter)
//
// Both carry job_name and status ("ok", "error" or "rejected").
func MetricsWithMeter(meter metric.Meter) Middleware {
	// The API returns noop instruments alongside any error.
	duration, _ := meter.Float64Histogram(
		"incident.job.duration",
		metric.WithDescription("Duration of resumption job execution in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"incident.job.executions",
		metric.WithDescription("Total number of resumption job executions"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		err := next(ctx)

		status := "ok"
		switch {
		case errors.Is(err, job.ErrPermanent):
			status = "rejected"
		case err != nil:
			status = "error"
		}
		attrs := metric.WithAttributes(
			attribute.String("job_name", j.Name),
			attribute.String("status", status),
		)
		duration.Record(ctx, time.Since(start).Seconds(), attrs)
		executions.Add(ctx, 1, attrs)
		return err
	}
}
