package client_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	manager "github.com/bprzybys-nc/manager-sub001"
	"github.com/bprzybys-nc/manager-sub001/api"
	"github.com/bprzybys-nc/manager-sub001/client"
	"github.com/bprzybys-nc/manager-sub001/engine"
	"github.com/bprzybys-nc/manager-sub001/incident"
	"github.com/bprzybys-nc/manager-sub001/job"
	"github.com/bprzybys-nc/manager-sub001/oracle"
	"github.com/bprzybys-nc/manager-sub001/store/memory"
	"github.com/bprzybys-nc/manager-sub001/stream"
	"github.com/bprzybys-nc/manager-sub001/task"
	"github.com/bprzybys-nc/manager-sub001/workflow"
)

// ── Test Helpers ──────────────────────────────────────

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubOracle struct{}

func (stubOracle) Classify(context.Context, oracle.ClassifyRequest) (*oracle.Classification, error) {
	return &oracle.Classification{Platforms: []oracle.Platform{oracle.PlatformLinux}}, nil
}

func (stubOracle) Diagnose(_ context.Context, req oracle.DiagnoseRequest) (*oracle.Diagnosis, error) {
	return &oracle.Diagnosis{Commands: []oracle.Command{{Command: "uptime", Platform: req.Platform}}}, nil
}

func (stubOracle) Interpret(_ context.Context, req oracle.InterpretRequest) (*oracle.Interpretation, error) {
	in := &oracle.Interpretation{Verdict: oracle.VerdictConfirmed}
	for _, r := range req.Results {
		in.Commands = append(in.Commands, oracle.CommandVerdict{Command: r.Command, Verdict: oracle.VerdictConfirmed})
	}
	return in, nil
}

func (stubOracle) IdentifySource(context.Context, oracle.SourceRequest) (*oracle.Sources, error) {
	return &oracle.Sources{}, nil
}

func (stubOracle) Recommend(context.Context, oracle.RecommendRequest) (*oracle.Recommendation, error) {
	return &oracle.Recommendation{Summary: "kill the job"}, nil
}

func (stubOracle) GenerateRemediation(context.Context, oracle.RemediationRequest) (*oracle.Remediation, error) {
	return &oracle.Remediation{Commands: []oracle.Command{{Command: "pkill -f batch"}}}, nil
}

func (stubOracle) SelectPlatform(context.Context, string) (oracle.Platform, error) {
	return oracle.PlatformLinux, nil
}

type questions struct {
	mu  sync.Mutex
	ids []string
}

func (q *questions) Ask(_ context.Context, correlationID, _, _ string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, correlationID)
	return nil
}

func (q *questions) first() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ids) == 0 {
		return ""
	}
	return q.ids[0]
}

// setupClientTest serves the API for a memory-backed engine on an
// httptest server and returns a client for it.
func setupClientTest(t *testing.T, started bool) (*client.Client, *engine.Engine, *memory.Store, *questions) {
	t.Helper()

	s := memory.New()
	cfg := manager.DefaultConfig()
	cfg.Concurrency = 2
	cfg.PollInterval = 10 * time.Millisecond
	cfg.HeartbeatInterval = 0
	cfg.StaleJobThreshold = 0
	m, err := manager.New(
		manager.WithStore(s),
		manager.WithConfig(cfg),
		manager.WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("manager.New: %v", err)
	}

	q := &questions{}
	eng, err := engine.Build(m, engine.WithOracle(stubOracle{}), engine.WithGateway(q))
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	if started {
		if err := eng.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		t.Cleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = eng.Stop(ctx)
		})
	}

	srv := httptest.NewServer(api.New(eng, api.WithToken("test-token"), api.WithLogger(testLogger())).Handler())
	t.Cleanup(srv.Close)

	c := client.New(srv.URL, client.WithToken("test-token"), client.WithLogger(testLogger()))
	return c, eng, s, q
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// ── Tests ─────────────────────────────────────────────

func TestClient_CreateAndGet(t *testing.T) {
	c, _, _, _ := setupClientTest(t, false)
	ctx := context.Background()

	acc, err := c.CreateIncident(ctx, api.CreateIncidentRequest{ID: "I1", Hostname: "web-1", Description: "load 40"})
	if err != nil {
		t.Fatalf("CreateIncident: %v", err)
	}
	if acc.IncidentID != "I1" || acc.JobID == "" {
		t.Fatalf("accepted = %+v", acc)
	}

	inc, err := c.GetIncident(ctx, "I1")
	if err != nil {
		t.Fatalf("GetIncident: %v", err)
	}
	if inc.Hostname != "web-1" || inc.Type != incident.TypeOther {
		t.Errorf("incident = %+v", inc)
	}

	list, err := c.ListIncidents(ctx, incident.StatusOpen, 10, 0)
	if err != nil {
		t.Fatalf("ListIncidents: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("listed %d incidents, want 1", len(list))
	}

	jobs, err := c.ListJobs(ctx, client.JobFilter{IncidentID: "I1"})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Name != job.NameStartIncident {
		t.Fatalf("jobs = %+v", jobs)
	}
	got, err := c.GetJob(ctx, acc.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.IncidentID != "I1" {
		t.Errorf("job incident = %q", got.IncidentID)
	}

	if _, err := c.GetIncident(ctx, "missing"); !client.IsNotFound(err) {
		t.Errorf("missing incident err = %v, want 404", err)
	}
	if _, err := c.CreateIncident(ctx, api.CreateIncidentRequest{ID: "I1", Hostname: "web-1"}); !client.IsConflict(err) {
		t.Errorf("duplicate err = %v, want 409", err)
	}
}

func TestClient_Unauthorized(t *testing.T) {
	_, eng, _, _ := setupClientTest(t, false)
	srv := httptest.NewServer(api.New(eng, api.WithToken("test-token")).Handler())
	defer srv.Close()

	c := client.New(srv.URL, client.WithToken("wrong"))
	_, err := c.ListIncidents(context.Background(), "", 0, 0)
	var cerr *client.Error
	if !errors.As(err, &cerr) || cerr.Status != 401 {
		t.Fatalf("err = %v, want 401", err)
	}
}

func TestClient_CloseRefused(t *testing.T) {
	c, _, s, _ := setupClientTest(t, false)
	ctx := context.Background()

	if _, err := c.CreateIncident(ctx, api.CreateIncidentRequest{ID: "I1", Hostname: "web-1"}); err != nil {
		t.Fatalf("CreateIncident: %v", err)
	}
	if err := s.CreateTask(ctx, &task.Task{
		Entity:     manager.NewEntity(),
		ID:         "T1",
		IncidentID: "I1",
		Command:    "uptime",
		State:      task.StateCreated,
	}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	err := c.CloseIncident(ctx, "I1")
	var cerr *client.Error
	if !errors.As(err, &cerr) {
		t.Fatalf("CloseIncident err = %v, want *client.Error", err)
	}
	if cerr.Reason != string(workflow.ReasonPendingTasks) {
		t.Errorf("reason = %q", cerr.Reason)
	}

	if err := c.Comment(ctx, "T1", "oncall", "waiting on dba"); err != nil {
		t.Fatalf("Comment: %v", err)
	}
	tasks, err := c.Tasks(ctx, "I1", task.StateCreated)
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	if len(tasks) != 1 || len(tasks[0].Comments) != 1 {
		t.Fatalf("tasks = %+v", tasks)
	}

	if err := c.IgnoreIncident(ctx, "I1"); err != nil {
		t.Fatalf("IgnoreIncident: %v", err)
	}
}

func TestClient_AgentLoopAndWatch(t *testing.T) {
	c, eng, s, q := setupClientTest(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.CreateIncident(ctx, &incident.Incident{
		Entity:   manager.NewEntity(),
		ID:       "I1",
		Hostname: "web-1",
		Type:     incident.TypeHighCPUUsage,
		Status:   incident.StatusOpen,
	}); err != nil {
		t.Fatalf("CreateIncident: %v", err)
	}

	events, err := c.Watch(ctx, "I1")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	waitFor(t, "watch subscription", func() bool { return eng.Broker().Stats().SubscriberCount == 1 })

	if _, err := engine.Enqueue(ctx, eng, job.NameStartIncident, job.StartIncident{IncidentID: "I1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// An agent polls until the diagnostic batch shows up.
	var batchID string
	waitFor(t, "diagnostic batch", func() bool {
		claimed, err := c.ClaimBatch(ctx, "I1")
		if err != nil {
			t.Fatalf("ClaimBatch: %v", err)
		}
		if claimed == nil {
			return false
		}
		batchID = claimed.Batch.ID
		return true
	})
	if _, err := c.ReportResults(ctx, batchID, map[string]string{"uptime": "load average: 40.1"}); err != nil {
		t.Fatalf("ReportResults: %v", err)
	}

	waitFor(t, "approval question", func() bool { return q.first() != "" })
	if _, err := c.AnswerApproval(ctx, q.first(), false); err != nil {
		t.Fatalf("AnswerApproval: %v", err)
	}

	// A rejected remediation leaves nothing to run, so the workflow closes.
	waitFor(t, "closed incident", func() bool {
		inc, err := c.GetIncident(ctx, "I1")
		return err == nil && inc.Status == incident.StatusClosed
	})

	wf, err := c.Workflow(ctx, "I1")
	if err != nil {
		t.Fatalf("Workflow: %v", err)
	}
	if wf.Instance.Status != workflow.StatusCompleted {
		t.Errorf("workflow status = %s", wf.Instance.Status)
	}

	seen := map[stream.EventType]bool{}
	timeout := time.After(5 * time.Second)
	for !seen[stream.EventIncidentClosed] {
		select {
		case evt, ok := <-events:
			if !ok {
				t.Fatal("watch closed early")
			}
			seen[evt.Type] = true
		case <-timeout:
			t.Fatalf("events seen = %v, want incident.closed", seen)
		}
	}
	if !seen[stream.EventWorkflowStarted] {
		t.Errorf("events seen = %v, want workflow.started", seen)
	}

	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Workflows[workflow.StatusCompleted] != 1 {
		t.Errorf("completed workflows = %d", stats.Workflows[workflow.StatusCompleted])
	}

	cancel()
	for range events {
	}
}
