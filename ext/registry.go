package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/bprzybys-nc/manager-sub001/job"
	"github.com/bprzybys-nc/manager-sub001/workflow"
)

// entry pairs a hook implementation with the extension name captured at
// registration time.
type entry[H any] struct {
	name string
	hook H
}

func add[H any](list []entry[H], name string, e Extension) []entry[H] {
	if h, ok := e.(H); ok {
		return append(list, entry[H]{name: name, hook: h})
	}
	return list
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. Extensions are type-cached at registration so emit calls only
// iterate over those implementing the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	jobEnqueued  []entry[JobEnqueued]
	jobStarted   []entry[JobStarted]
	jobCompleted []entry[JobCompleted]
	jobRetrying  []entry[JobRetrying]
	jobFailed    []entry[JobFailed]

	workflowStarted   []entry[WorkflowStarted]
	stepCompleted     []entry[StepCompleted]
	stepFailed        []entry[StepFailed]
	suspended         []entry[Suspended]
	resumed           []entry[Resumed]
	workflowCompleted []entry[WorkflowCompleted]
	workflowFailed    []entry[WorkflowFailed]
	incidentStale     []entry[IncidentStale]
	incidentClosed    []entry[IncidentClosed]
	closureRefused    []entry[ClosureRefused]

	cronFired []entry[CronFired]
	shutdown  []entry[Shutdown]
}

var _ workflow.Emitter = (*Registry)(nil)

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension to every hook cache it implements.
// Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	n := e.Name()

	r.jobEnqueued = add(r.jobEnqueued, n, e)
	r.jobStarted = add(r.jobStarted, n, e)
	r.jobCompleted = add(r.jobCompleted, n, e)
	r.jobRetrying = add(r.jobRetrying, n, e)
	r.jobFailed = add(r.jobFailed, n, e)

	r.workflowStarted = add(r.workflowStarted, n, e)
	r.stepCompleted = add(r.stepCompleted, n, e)
	r.stepFailed = add(r.stepFailed, n, e)
	r.suspended = add(r.suspended, n, e)
	r.resumed = add(r.resumed, n, e)
	r.workflowCompleted = add(r.workflowCompleted, n, e)
	r.workflowFailed = add(r.workflowFailed, n, e)
	r.incidentStale = add(r.incidentStale, n, e)
	r.incidentClosed = add(r.incidentClosed, n, e)
	r.closureRefused = add(r.closureRefused, n, e)

	r.cronFired = add(r.cronFired, n, e)
	r.shutdown = add(r.shutdown, n, e)
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Job event emitters
// ──────────────────────────────────────────────────

// EmitJobEnqueued notifies all extensions that implement JobEnqueued.
func (r *Registry) EmitJobEnqueued(ctx context.Context, j *job.Job) {
	for _, e := range r.jobEnqueued {
		r.check("OnJobEnqueued", e.name, e.hook.OnJobEnqueued(ctx, j))
	}
}

// EmitJobStarted notifies all extensions that implement JobStarted.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobStarted {
		r.check("OnJobStarted", e.name, e.hook.OnJobStarted(ctx, j))
	}
}

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		r.check("OnJobCompleted", e.name, e.hook.OnJobCompleted(ctx, j, elapsed))
	}
}

// EmitJobRetrying notifies all extensions that implement JobRetrying.
func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) {
	for _, e := range r.jobRetrying {
		r.check("OnJobRetrying", e.name, e.hook.OnJobRetrying(ctx, j, attempt, nextRunAt))
	}
}

// EmitJobFailed notifies all extensions that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobFailed {
		r.check("OnJobFailed", e.name, e.hook.OnJobFailed(ctx, j, jobErr))
	}
}

// ──────────────────────────────────────────────────
// Workflow event emitters
// ──────────────────────────────────────────────────

// EmitWorkflowStarted notifies all extensions that implement WorkflowStarted.
func (r *Registry) EmitWorkflowStarted(ctx context.Context, inst *workflow.Instance) {
	for _, e := range r.workflowStarted {
		r.check("OnWorkflowStarted", e.name, e.hook.OnWorkflowStarted(ctx, inst))
	}
}

// EmitStepCompleted notifies all extensions that implement StepCompleted.
func (r *Registry) EmitStepCompleted(ctx context.Context, inst *workflow.Instance, step workflow.Step, elapsed time.Duration) {
	for _, e := range r.stepCompleted {
		r.check("OnStepCompleted", e.name, e.hook.OnStepCompleted(ctx, inst, step, elapsed))
	}
}

// EmitStepFailed notifies all extensions that implement StepFailed.
func (r *Registry) EmitStepFailed(ctx context.Context, inst *workflow.Instance, step workflow.Step, stepErr error) {
	for _, e := range r.stepFailed {
		r.check("OnStepFailed", e.name, e.hook.OnStepFailed(ctx, inst, step, stepErr))
	}
}

// EmitSuspended notifies all extensions that implement Suspended.
func (r *Registry) EmitSuspended(ctx context.Context, inst *workflow.Instance, sp *workflow.SuspensionPoint) {
	for _, e := range r.suspended {
		r.check("OnSuspended", e.name, e.hook.OnSuspended(ctx, inst, sp))
	}
}

// EmitResumed notifies all extensions that implement Resumed.
func (r *Registry) EmitResumed(ctx context.Context, inst *workflow.Instance, token string) {
	for _, e := range r.resumed {
		r.check("OnResumed", e.name, e.hook.OnResumed(ctx, inst, token))
	}
}

// EmitWorkflowCompleted notifies all extensions that implement WorkflowCompleted.
func (r *Registry) EmitWorkflowCompleted(ctx context.Context, inst *workflow.Instance) {
	for _, e := range r.workflowCompleted {
		r.check("OnWorkflowCompleted", e.name, e.hook.OnWorkflowCompleted(ctx, inst))
	}
}

// EmitWorkflowFailed notifies all extensions that implement WorkflowFailed.
func (r *Registry) EmitWorkflowFailed(ctx context.Context, inst *workflow.Instance, runErr error) {
	for _, e := range r.workflowFailed {
		r.check("OnWorkflowFailed", e.name, e.hook.OnWorkflowFailed(ctx, inst, runErr))
	}
}

// EmitIncidentStale notifies all extensions that implement IncidentStale.
func (r *Registry) EmitIncidentStale(ctx context.Context, inst *workflow.Instance, sp *workflow.SuspensionPoint) {
	for _, e := range r.incidentStale {
		r.check("OnIncidentStale", e.name, e.hook.OnIncidentStale(ctx, inst, sp))
	}
}

// EmitIncidentClosed notifies all extensions that implement IncidentClosed.
func (r *Registry) EmitIncidentClosed(ctx context.Context, incidentID string, byOperator bool) {
	for _, e := range r.incidentClosed {
		r.check("OnIncidentClosed", e.name, e.hook.OnIncidentClosed(ctx, incidentID, byOperator))
	}
}

// EmitClosureRefused notifies all extensions that implement ClosureRefused.
func (r *Registry) EmitClosureRefused(ctx context.Context, incidentID string, cerr *workflow.ClosureError) {
	for _, e := range r.closureRefused {
		r.check("OnClosureRefused", e.name, e.hook.OnClosureRefused(ctx, incidentID, cerr))
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitCronFired notifies all extensions that implement CronFired.
func (r *Registry) EmitCronFired(ctx context.Context, entryName string) {
	for _, e := range r.cronFired {
		r.check("OnCronFired", e.name, e.hook.OnCronFired(ctx, entryName))
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		r.check("OnShutdown", e.name, e.hook.OnShutdown(ctx))
	}
}

// check logs a hook error. Hook errors never propagate; an extension
// must not block a workflow.
func (r *Registry) check(hook, extName string, err error) {
	if err == nil {
		return
	}
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
