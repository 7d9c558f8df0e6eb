package workflow

import (
	"context"
	"time"
)

// Emitter receives workflow lifecycle events. ext.Registry satisfies it.
type Emitter interface {
	EmitWorkflowStarted(ctx context.Context, inst *Instance)
	EmitStepCompleted(ctx context.Context, inst *Instance, step Step, elapsed time.Duration)
	EmitStepFailed(ctx context.Context, inst *Instance, step Step, err error)
	EmitSuspended(ctx context.Context, inst *Instance, sp *SuspensionPoint)
	EmitResumed(ctx context.Context, inst *Instance, token string)
	EmitWorkflowCompleted(ctx context.Context, inst *Instance)
	EmitWorkflowFailed(ctx context.Context, inst *Instance, err error)
	EmitIncidentStale(ctx context.Context, inst *Instance, sp *SuspensionPoint)
	EmitIncidentClosed(ctx context.Context, incidentID string, byOperator bool)
	EmitClosureRefused(ctx context.Context, incidentID string, err *ClosureError)
}

// NopEmitter discards every event.
type NopEmitter struct{}

func (NopEmitter) EmitWorkflowStarted(context.Context, *Instance)                     {}
func (NopEmitter) EmitStepCompleted(context.Context, *Instance, Step, time.Duration)  {}
func (NopEmitter) EmitStepFailed(context.Context, *Instance, Step, error)             {}
func (NopEmitter) EmitSuspended(context.Context, *Instance, *SuspensionPoint)         {}
func (NopEmitter) EmitResumed(context.Context, *Instance, string)                     {}
func (NopEmitter) EmitWorkflowCompleted(context.Context, *Instance)                   {}
func (NopEmitter) EmitWorkflowFailed(context.Context, *Instance, error)               {}
func (NopEmitter) EmitIncidentStale(context.Context, *Instance, *SuspensionPoint)     {}
func (NopEmitter) EmitIncidentClosed(context.Context, string, bool)                   {}
func (NopEmitter) EmitClosureRefused(context.Context, string, *ClosureError)          {}
