package ext_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/bprzybys-nc/manager-sub001/ext"
	"github.com/bprzybys-nc/manager-sub001/job"
	"github.com/bprzybys-nc/manager-sub001/workflow"
)

// recorder implements every hook and records the calls.
type recorder struct {
	calls []string
}

func (e *recorder) Name() string { return "recorder" }

func (e *recorder) rec(name string) error {
	e.calls = append(e.calls, name)
	return nil
}

func (e *recorder) OnJobEnqueued(context.Context, *job.Job) error { return e.rec("JobEnqueued") }
func (e *recorder) OnJobStarted(context.Context, *job.Job) error  { return e.rec("JobStarted") }
func (e *recorder) OnJobCompleted(context.Context, *job.Job, time.Duration) error {
	return e.rec("JobCompleted")
}
func (e *recorder) OnJobRetrying(context.Context, *job.Job, int, time.Time) error {
	return e.rec("JobRetrying")
}
func (e *recorder) OnJobFailed(context.Context, *job.Job, error) error { return e.rec("JobFailed") }
func (e *recorder) OnWorkflowStarted(context.Context, *workflow.Instance) error {
	return e.rec("WorkflowStarted")
}
func (e *recorder) OnStepCompleted(context.Context, *workflow.Instance, workflow.Step, time.Duration) error {
	return e.rec("StepCompleted")
}
func (e *recorder) OnStepFailed(context.Context, *workflow.Instance, workflow.Step, error) error {
	return e.rec("StepFailed")
}
func (e *recorder) OnSuspended(context.Context, *workflow.Instance, *workflow.SuspensionPoint) error {
	return e.rec("Suspended")
}
func (e *recorder) OnResumed(context.Context, *workflow.Instance, string) error {
	return e.rec("Resumed")
}
func (e *recorder) OnWorkflowCompleted(context.Context, *workflow.Instance) error {
	return e.rec("WorkflowCompleted")
}
func (e *recorder) OnWorkflowFailed(context.Context, *workflow.Instance, error) error {
	return e.rec("WorkflowFailed")
}
func (e *recorder) OnIncidentStale(context.Context, *workflow.Instance, *workflow.SuspensionPoint) error {
	return e.rec("IncidentStale")
}
func (e *recorder) OnIncidentClosed(context.Context, string, bool) error {
	return e.rec("IncidentClosed")
}
func (e *recorder) OnClosureRefused(context.Context, string, *workflow.ClosureError) error {
	return e.rec("ClosureRefused")
}
func (e *recorder) OnCronFired(context.Context, string) error { return e.rec("CronFired") }
func (e *recorder) OnShutdown(context.Context) error         { return e.rec("Shutdown") }

// staleOnly only cares about stale incidents.
type staleOnly struct{ n int }

func (s *staleOnly) Name() string { return "stale-only" }

func (s *staleOnly) OnIncidentStale(context.Context, *workflow.Instance, *workflow.SuspensionPoint) error {
	s.n++
	return nil
}

type failing struct{}

func (failing) Name() string { return "failing" }

func (failing) OnWorkflowFailed(context.Context, *workflow.Instance, error) error {
	return errors.New("boom")
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRegistry_EveryHookFires(t *testing.T) {
	r := ext.NewRegistry(discardLogger())
	rec := &recorder{}
	r.Register(rec)

	ctx := context.Background()
	j := &job.Job{Name: job.NameStartIncident}
	inst := &workflow.Instance{IncidentID: "I1"}
	sp := &workflow.SuspensionPoint{Token: "B1"}

	r.EmitJobEnqueued(ctx, j)
	r.EmitJobStarted(ctx, j)
	r.EmitJobCompleted(ctx, j, time.Second)
	r.EmitJobRetrying(ctx, j, 1, time.Now())
	r.EmitJobFailed(ctx, j, errors.New("fail"))
	r.EmitWorkflowStarted(ctx, inst)
	r.EmitStepCompleted(ctx, inst, workflow.StepClassify, time.Millisecond)
	r.EmitStepFailed(ctx, inst, workflow.StepInterpret, errors.New("x"))
	r.EmitSuspended(ctx, inst, sp)
	r.EmitResumed(ctx, inst, "B1")
	r.EmitWorkflowCompleted(ctx, inst)
	r.EmitWorkflowFailed(ctx, inst, errors.New("x"))
	r.EmitIncidentStale(ctx, inst, sp)
	r.EmitIncidentClosed(ctx, "I1", true)
	r.EmitClosureRefused(ctx, "I1", &workflow.ClosureError{Reason: workflow.ReasonPendingTasks})
	r.EmitCronFired(ctx, "stale-sweep")
	r.EmitShutdown(ctx)

	want := []string{
		"JobEnqueued", "JobStarted", "JobCompleted", "JobRetrying", "JobFailed",
		"WorkflowStarted", "StepCompleted", "StepFailed", "Suspended", "Resumed",
		"WorkflowCompleted", "WorkflowFailed", "IncidentStale", "IncidentClosed",
		"ClosureRefused", "CronFired", "Shutdown",
	}
	if len(rec.calls) != len(want) {
		t.Fatalf("expected %d calls, got %d: %v", len(want), len(rec.calls), rec.calls)
	}
	for i := range want {
		if rec.calls[i] != want[i] {
			t.Errorf("call[%d] = %q, want %q", i, rec.calls[i], want[i])
		}
	}
}

func TestRegistry_OnlyImplementorsAreCalled(t *testing.T) {
	r := ext.NewRegistry(discardLogger())
	rec := &recorder{}
	so := &staleOnly{}
	r.Register(rec)
	r.Register(so)

	ctx := context.Background()
	r.EmitWorkflowStarted(ctx, &workflow.Instance{})
	if so.n != 0 {
		t.Fatalf("stale-only should not see WorkflowStarted")
	}
	r.EmitIncidentStale(ctx, &workflow.Instance{}, &workflow.SuspensionPoint{})
	if so.n != 1 {
		t.Fatalf("stale-only calls = %d, want 1", so.n)
	}
	if len(r.Extensions()) != 2 {
		t.Fatalf("Extensions = %d, want 2", len(r.Extensions()))
	}
}

func TestRegistry_HookErrorDoesNotStopOthers(t *testing.T) {
	r := ext.NewRegistry(discardLogger())
	rec := &recorder{}
	r.Register(failing{})
	r.Register(rec)

	r.EmitWorkflowFailed(context.Background(), &workflow.Instance{}, errors.New("x"))
	if len(rec.calls) != 1 || rec.calls[0] != "WorkflowFailed" {
		t.Fatalf("recorder calls = %v", rec.calls)
	}
}

func TestRegistry_EmptyIsSafe(t *testing.T) {
	r := ext.NewRegistry(discardLogger())
	r.EmitShutdown(context.Background())
	r.EmitJobFailed(context.Background(), &job.Job{}, errors.New("x"))
}
