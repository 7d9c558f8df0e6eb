package ext

import (
	"context"
	"time"

	"github.com/bprzybys-nc/manager-sub001/job"
	"github.com/bprzybys-nc/manager-sub001/workflow"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobEnqueued is called after a job is successfully enqueued.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker begins executing a job.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobRetrying is called when a job fails but is scheduled for retry.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error
}

// JobFailed is called when a job fails terminally.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// ──────────────────────────────────────────────────
// Workflow lifecycle hooks
// ──────────────────────────────────────────────────

// WorkflowStarted is called when an incident's workflow is created.
type WorkflowStarted interface {
	OnWorkflowStarted(ctx context.Context, inst *workflow.Instance) error
}

// StepCompleted is called after a workflow step is persisted.
type StepCompleted interface {
	OnStepCompleted(ctx context.Context, inst *workflow.Instance, step workflow.Step, elapsed time.Duration) error
}

// StepFailed is called when a step returns an error.
type StepFailed interface {
	OnStepFailed(ctx context.Context, inst *workflow.Instance, step workflow.Step, err error) error
}

// Suspended is called when a workflow starts waiting on an external actor.
type Suspended interface {
	OnSuspended(ctx context.Context, inst *workflow.Instance, sp *workflow.SuspensionPoint) error
}

// Resumed is called when a resumption signal reaches a workflow. Token is
// the batch or correlation id presented, empty for a generic resume.
type Resumed interface {
	OnResumed(ctx context.Context, inst *workflow.Instance, token string) error
}

// WorkflowCompleted is called after a workflow closed its incident.
type WorkflowCompleted interface {
	OnWorkflowCompleted(ctx context.Context, inst *workflow.Instance) error
}

// WorkflowFailed is called when a workflow is aborted.
type WorkflowFailed interface {
	OnWorkflowFailed(ctx context.Context, inst *workflow.Instance, err error) error
}

// IncidentStale is called when a workflow outlived its maximum wait.
type IncidentStale interface {
	OnIncidentStale(ctx context.Context, inst *workflow.Instance, sp *workflow.SuspensionPoint) error
}

// IncidentClosed is called after an incident is closed.
type IncidentClosed interface {
	OnIncidentClosed(ctx context.Context, incidentID string, byOperator bool) error
}

// ClosureRefused is called when closing an incident was refused.
type ClosureRefused interface {
	OnClosureRefused(ctx context.Context, incidentID string, err *workflow.ClosureError) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// CronFired is called when a maintenance entry runs.
type CronFired interface {
	OnCronFired(ctx context.Context, entryName string) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
