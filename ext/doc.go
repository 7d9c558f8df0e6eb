// Package ext defines the extension system of the incident manager.
//
// Extensions are notified of job and workflow lifecycle events and can
// react to them: recording metrics, narrating to a chat channel, feeding
// the watch stream. Each lifecycle hook is a separate interface so
// extensions opt in only to the events they care about.
//
//	type Pager struct{}
//
//	func (p *Pager) Name() string { return "pager" }
//
//	func (p *Pager) OnIncidentStale(ctx context.Context, inst *workflow.Instance, sp *workflow.SuspensionPoint) error {
//	    return page(ctx, inst.IncidentID, sp.Kind)
//	}
//
// # Job Hooks
//
//   - [JobEnqueued], [JobStarted], [JobCompleted], [JobRetrying], [JobFailed]
//
// # Workflow Hooks
//
//   - [WorkflowStarted], [WorkflowCompleted], [WorkflowFailed]
//   - [StepCompleted], [StepFailed]
//   - [Suspended], [Resumed]
//   - [IncidentStale], [IncidentClosed], [ClosureRefused]
//
// # Other Hooks
//
//   - [CronFired]: a maintenance entry ran
//   - [Shutdown]: the engine is stopping
//
// [Registry] fans each event out to the registered extensions that
// implement the matching hook. It satisfies workflow.Emitter.
package ext
