package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/bprzybys-nc/manager-sub001/ext"
	"github.com/bprzybys-nc/manager-sub001/job"
	"github.com/bprzybys-nc/manager-sub001/workflow"
)

const instrumentationName = "github.com/bprzybys-nc/manager-sub001/observability"

// Compile-time interface checks.
var (
	_ ext.Extension         = (*MetricsExtension)(nil)
	_ ext.JobEnqueued       = (*MetricsExtension)(nil)
	_ ext.JobCompleted      = (*MetricsExtension)(nil)
	_ ext.JobFailed         = (*MetricsExtension)(nil)
	_ ext.JobRetrying       = (*MetricsExtension)(nil)
	_ ext.WorkflowStarted   = (*MetricsExtension)(nil)
	_ ext.StepCompleted     = (*MetricsExtension)(nil)
	_ ext.StepFailed        = (*MetricsExtension)(nil)
	_ ext.Suspended         = (*MetricsExtension)(nil)
	_ ext.WorkflowCompleted = (*MetricsExtension)(nil)
	_ ext.WorkflowFailed    = (*MetricsExtension)(nil)
	_ ext.IncidentStale     = (*MetricsExtension)(nil)
	_ ext.IncidentClosed    = (*MetricsExtension)(nil)
	_ ext.ClosureRefused    = (*MetricsExtension)(nil)
	_ ext.CronFired         = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle counters. Register it
// with the engine to track job throughput, workflow outcomes, step
// failures, suspensions, stale incidents and closures.
type MetricsExtension struct {
	JobEnqueued       metric.Int64Counter
	JobCompleted      metric.Int64Counter
	JobFailed         metric.Int64Counter
	JobRetried        metric.Int64Counter
	WorkflowStarted   metric.Int64Counter
	WorkflowCompleted metric.Int64Counter
	WorkflowFailed    metric.Int64Counter
	StepCompleted     metric.Int64Counter
	StepFailed        metric.Int64Counter
	Suspended         metric.Int64Counter
	IncidentStale     metric.Int64Counter
	IncidentClosed    metric.Int64Counter
	ClosureRefused    metric.Int64Counter
	CronFired         metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(instrumentationName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		// The API returns a noop instrument alongside any error.
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	return &MetricsExtension{
		JobEnqueued:       counter("incident.job.enqueued", "Resumption jobs enqueued"),
		JobCompleted:      counter("incident.job.completed", "Resumption jobs completed"),
		JobFailed:         counter("incident.job.failed", "Resumption jobs failed terminally"),
		JobRetried:        counter("incident.job.retried", "Resumption job retries scheduled"),
		WorkflowStarted:   counter("incident.workflow.started", "Workflow instances started"),
		WorkflowCompleted: counter("incident.workflow.completed", "Workflow instances that closed their incident"),
		WorkflowFailed:    counter("incident.workflow.failed", "Workflow instances aborted"),
		StepCompleted:     counter("incident.step.completed", "Workflow steps persisted"),
		StepFailed:        counter("incident.step.failed", "Workflow steps that returned an error"),
		Suspended:         counter("incident.suspended", "Suspensions on an external actor"),
		IncidentStale:     counter("incident.stale", "Incidents flagged stale"),
		IncidentClosed:    counter("incident.closed", "Incidents closed"),
		ClosureRefused:    counter("incident.closure.refused", "Refused closures"),
		CronFired:         counter("incident.cron.fired", "Maintenance entries run"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Job lifecycle hooks ─────────────────────────────

func jobAttrs(j *job.Job) metric.AddOption {
	return metric.WithAttributes(attribute.String("job_name", j.Name))
}

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.JobEnqueued.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.JobCompleted.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.JobFailed.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.JobRetried.Add(ctx, 1, jobAttrs(j))
	return nil
}

// ── Workflow lifecycle hooks ────────────────────────

func stepAttrs(step workflow.Step) metric.AddOption {
	return metric.WithAttributes(attribute.String("step", string(step)))
}

// OnWorkflowStarted implements ext.WorkflowStarted.
func (m *MetricsExtension) OnWorkflowStarted(ctx context.Context, _ *workflow.Instance) error {
	m.WorkflowStarted.Add(ctx, 1)
	return nil
}

// OnStepCompleted implements ext.StepCompleted.
func (m *MetricsExtension) OnStepCompleted(ctx context.Context, _ *workflow.Instance, step workflow.Step, _ time.Duration) error {
	m.StepCompleted.Add(ctx, 1, stepAttrs(step))
	return nil
}

// OnStepFailed implements ext.StepFailed.
func (m *MetricsExtension) OnStepFailed(ctx context.Context, _ *workflow.Instance, step workflow.Step, _ error) error {
	m.StepFailed.Add(ctx, 1, stepAttrs(step))
	return nil
}

// OnSuspended implements ext.Suspended.
func (m *MetricsExtension) OnSuspended(ctx context.Context, _ *workflow.Instance, sp *workflow.SuspensionPoint) error {
	m.Suspended.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(sp.Kind))))
	return nil
}

// OnWorkflowCompleted implements ext.WorkflowCompleted.
func (m *MetricsExtension) OnWorkflowCompleted(ctx context.Context, _ *workflow.Instance) error {
	m.WorkflowCompleted.Add(ctx, 1)
	return nil
}

// OnWorkflowFailed implements ext.WorkflowFailed.
func (m *MetricsExtension) OnWorkflowFailed(ctx context.Context, inst *workflow.Instance, _ error) error {
	m.WorkflowFailed.Add(ctx, 1, stepAttrs(inst.Step))
	return nil
}

// OnIncidentStale implements ext.IncidentStale.
func (m *MetricsExtension) OnIncidentStale(ctx context.Context, _ *workflow.Instance, sp *workflow.SuspensionPoint) error {
	m.IncidentStale.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(sp.Kind))))
	return nil
}

// OnIncidentClosed implements ext.IncidentClosed.
func (m *MetricsExtension) OnIncidentClosed(ctx context.Context, _ string, byOperator bool) error {
	m.IncidentClosed.Add(ctx, 1, metric.WithAttributes(attribute.Bool("operator", byOperator)))
	return nil
}

// OnClosureRefused implements ext.ClosureRefused.
func (m *MetricsExtension) OnClosureRefused(ctx context.Context, _ string, err *workflow.ClosureError) error {
	m.ClosureRefused.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(err.Reason))))
	return nil
}

// ── Cron lifecycle hooks ────────────────────────────

// OnCronFired implements ext.CronFired.
func (m *MetricsExtension) OnCronFired(ctx context.Context, entryName string) error {
	m.CronFired.Add(ctx, 1, metric.WithAttributes(attribute.String("entry", entryName)))
	return nil
}
