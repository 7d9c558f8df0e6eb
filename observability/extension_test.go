package observability_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/bprzybys-nc/manager-sub001/ext"
	"github.com/bprzybys-nc/manager-sub001/id"
	"github.com/bprzybys-nc/manager-sub001/job"
	"github.com/bprzybys-nc/manager-sub001/observability"
	"github.com/bprzybys-nc/manager-sub001/workflow"
)

func newTestExtension() (*observability.MetricsExtension, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return observability.NewMetricsExtensionWithMeter(mp.Meter("test")), reader
}

// total sums every data point of the named counter; zero when absent.
func total(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	var n int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: unexpected data %T", name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				n += dp.Value
			}
		}
	}
	return n
}

func newTestJob() *job.Job {
	return &job.Job{
		ID:         id.NewJobID(),
		Name:       job.NameBatchCompleted,
		Queue:      "default",
		IncidentID: "I1",
	}
}

func newTestInstance() *workflow.Instance {
	return &workflow.Instance{IncidentID: "I1", Step: workflow.StepInterpret, Status: workflow.StatusActive}
}

func TestMetricsExtension_Name(t *testing.T) {
	e, _ := newTestExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_JobHooks(t *testing.T) {
	e, reader := newTestExtension()
	ctx := context.Background()
	j := newTestJob()

	_ = e.OnJobEnqueued(ctx, j)
	_ = e.OnJobCompleted(ctx, j, 100*time.Millisecond)
	_ = e.OnJobRetrying(ctx, j, 1, time.Now().Add(time.Minute))
	_ = e.OnJobRetrying(ctx, j, 2, time.Now().Add(time.Minute))
	_ = e.OnJobFailed(ctx, j, errors.New("boom"))

	for name, want := range map[string]int64{
		"incident.job.enqueued":  1,
		"incident.job.completed": 1,
		"incident.job.retried":   2,
		"incident.job.failed":    1,
	} {
		if got := total(t, reader, name); got != want {
			t.Errorf("%s: want %d, got %d", name, want, got)
		}
	}
}

func TestMetricsExtension_ClosureRefusedByReason(t *testing.T) {
	e, reader := newTestExtension()
	ctx := context.Background()

	_ = e.OnClosureRefused(ctx, "I1", &workflow.ClosureError{IncidentID: "I1", Reason: workflow.ReasonPendingTasks})
	_ = e.OnClosureRefused(ctx, "I1", &workflow.ClosureError{IncidentID: "I1", Reason: workflow.ReasonUnresolvedBatch})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	reasons := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "incident.closure.refused" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				v, _ := dp.Attributes.Value("reason")
				reasons[v.AsString()] += dp.Value
			}
		}
	}
	if reasons["pending_tasks"] != 1 || reasons["unresolved_batch"] != 1 {
		t.Errorf("reasons = %v", reasons)
	}
}

func TestMetricsExtension_ViaRegistry(t *testing.T) {
	e, reader := newTestExtension()

	reg := ext.NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
	reg.Register(e)

	ctx := context.Background()
	j := newTestJob()
	inst := newTestInstance()
	sp := &workflow.SuspensionPoint{Token: "B1", IncidentID: "I1", Kind: workflow.KindExecutionWait}

	reg.EmitJobEnqueued(ctx, j)
	reg.EmitJobCompleted(ctx, j, 50*time.Millisecond)
	reg.EmitJobFailed(ctx, j, errors.New("fail"))
	reg.EmitJobRetrying(ctx, j, 1, time.Now())
	reg.EmitWorkflowStarted(ctx, inst)
	reg.EmitStepCompleted(ctx, inst, workflow.StepClassify, time.Second)
	reg.EmitStepFailed(ctx, inst, workflow.StepInterpret, errors.New("oracle down"))
	reg.EmitSuspended(ctx, inst, sp)
	reg.EmitIncidentStale(ctx, inst, sp)
	reg.EmitWorkflowCompleted(ctx, inst)
	reg.EmitWorkflowFailed(ctx, inst, errors.New("wf fail"))
	reg.EmitIncidentClosed(ctx, "I1", true)
	reg.EmitClosureRefused(ctx, "I1", &workflow.ClosureError{IncidentID: "I1", Reason: workflow.ReasonPendingTasks})
	reg.EmitCronFired(ctx, "stale-sweep")

	for _, name := range []string{
		"incident.job.enqueued",
		"incident.job.completed",
		"incident.job.failed",
		"incident.job.retried",
		"incident.workflow.started",
		"incident.step.completed",
		"incident.step.failed",
		"incident.suspended",
		"incident.stale",
		"incident.workflow.completed",
		"incident.workflow.failed",
		"incident.closed",
		"incident.closure.refused",
		"incident.cron.fired",
	} {
		if got := total(t, reader, name); got != 1 {
			t.Errorf("%s: want 1, got %d", name, got)
		}
	}
}
