package executor_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	manager "github.com/bprzybys-nc/manager-sub001"
	"github.com/bprzybys-nc/manager-sub001/executor"
	"github.com/bprzybys-nc/manager-sub001/store/memory"
	"github.com/bprzybys-nc/manager-sub001/task"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seedBatch stores a visible batch holding an approved and a created task.
func seedBatch(t *testing.T, s *memory.Store, batchID string, createdAt time.Time) {
	t.Helper()
	ctx := context.Background()
	for _, tk := range []*task.Task{
		{ID: batchID + "-a", IncidentID: "I1", BatchID: batchID, Command: "df -h", State: task.StateApproved},
		{ID: batchID + "-c", IncidentID: "I1", BatchID: batchID, Command: "rm -rf /tmp/x", State: task.StateCreated},
	} {
		if err := s.CreateTask(ctx, tk); err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
	}
	err := s.CreateBatch(ctx, &task.Batch{
		ID:         batchID,
		IncidentID: "I1",
		TaskIDs:    []string{batchID + "-a", batchID + "-c"},
		Visible:    true,
		CreatedAt:  createdAt,
	})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
}

func taskState(t *testing.T, s *memory.Store, taskID string) task.State {
	t.Helper()
	tk, err := s.GetTask(context.Background(), taskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	return tk.State
}

func visible(t *testing.T, s *memory.Store, batchID string) bool {
	t.Helper()
	b, err := s.GetBatch(context.Background(), batchID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	return b.Visible
}

func request(batchID string) executor.Request {
	return executor.Request{
		BatchID:     batchID,
		IncidentID:  "I1",
		Commands:    []executor.Command{{TaskID: batchID + "-a", Command: "df -h", Kind: task.KindShell}},
		CallbackURL: "http://manager/v1/batches/" + batchID + "/results",
	}
}

func TestClaim_OldestBatchOnce(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	now := time.Now()
	seedBatch(t, s, "B2", now)
	seedBatch(t, s, "B1", now.Add(-time.Minute))

	got, err := executor.Claim(ctx, s, "I1")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if got.Batch.ID != "B1" || got.Batch.Visible {
		t.Fatalf("claimed %+v, want hidden B1", got.Batch)
	}
	if len(got.Tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(got.Tasks))
	}
	if st := taskState(t, s, "B1-a"); st != task.StateInProgress {
		t.Errorf("approved task state = %s, want in_progress", st)
	}
	if st := taskState(t, s, "B1-c"); st != task.StateCreated {
		t.Errorf("unapproved task state = %s, want created", st)
	}

	next, err := executor.Claim(ctx, s, "I1")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if next.Batch.ID != "B2" {
		t.Errorf("second claim = %s, want B2", next.Batch.ID)
	}

	if _, err := executor.Claim(ctx, s, "I1"); !errors.Is(err, manager.ErrBatchNotFound) {
		t.Errorf("Claim on drained incident = %v, want ErrBatchNotFound", err)
	}
}

func TestHTTP_PushThenClaim(t *testing.T) {
	s := memory.New()
	seedBatch(t, s, "B1", time.Now())

	var got executor.Request
	agent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		// The batch must still be visible while the agent decides.
		if !visible(t, s, "B1") {
			t.Error("batch claimed before the agent accepted it")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer agent.Close()

	d := executor.NewHTTP(agent.URL, s, executor.WithHTTPLogger(quietLogger()))
	if err := d.Dispatch(context.Background(), request("B1")); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if got.BatchID != "B1" || len(got.Commands) != 1 || got.Commands[0].Command != "df -h" {
		t.Errorf("agent received %+v", got)
	}
	if !strings.HasSuffix(got.CallbackURL, "/batches/B1/results") {
		t.Errorf("callback url = %q", got.CallbackURL)
	}
	if visible(t, s, "B1") {
		t.Error("batch still visible after push")
	}
	if st := taskState(t, s, "B1-a"); st != task.StateInProgress {
		t.Errorf("task state = %s, want in_progress", st)
	}
}

func TestHTTP_AgentRefusalLeavesBatchVisible(t *testing.T) {
	s := memory.New()
	seedBatch(t, s, "B1", time.Now())

	agent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "agent busy", http.StatusServiceUnavailable)
	}))
	defer agent.Close()

	d := executor.NewHTTP(agent.URL, s, executor.WithHTTPLogger(quietLogger()))
	err := d.Dispatch(context.Background(), request("B1"))
	if err == nil {
		t.Fatal("expected error for 503")
	}
	if !strings.Contains(err.Error(), "503") || !strings.Contains(err.Error(), "agent busy") {
		t.Errorf("error = %v, want status and body", err)
	}
	if !visible(t, s, "B1") {
		t.Error("refused batch must stay visible")
	}
	if st := taskState(t, s, "B1-a"); st != task.StateApproved {
		t.Errorf("task state = %s, want approved", st)
	}
}

func TestHTTP_ClaimedBatchNotPushed(t *testing.T) {
	s := memory.New()
	seedBatch(t, s, "B1", time.Now())
	if err := s.HideBatch(context.Background(), "I1", "B1"); err != nil {
		t.Fatalf("HideBatch: %v", err)
	}

	var calls atomic.Int32
	agent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer agent.Close()

	d := executor.NewHTTP(agent.URL, s, executor.WithHTTPLogger(quietLogger()))
	if err := d.Dispatch(context.Background(), request("B1")); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("agent called %d times, want 0", n)
	}
}

func TestHTTP_UnknownBatch(t *testing.T) {
	d := executor.NewHTTP("http://127.0.0.1:1", memory.New(), executor.WithHTTPLogger(quietLogger()))
	err := d.Dispatch(context.Background(), request("B404"))
	if !errors.Is(err, manager.ErrBatchNotFound) {
		t.Errorf("Dispatch = %v, want ErrBatchNotFound", err)
	}
}

func TestHTTP_AgentUnreachable(t *testing.T) {
	s := memory.New()
	seedBatch(t, s, "B1", time.Now())
	agent := httptest.NewServer(http.NotFoundHandler())
	url := agent.URL
	agent.Close()

	d := executor.NewHTTP(url, s,
		executor.WithHTTPLogger(quietLogger()),
		executor.WithHTTPClient(&http.Client{Timeout: time.Second}),
	)
	if err := d.Dispatch(context.Background(), request("B1")); err == nil {
		t.Fatal("expected error for closed agent")
	}
	if !visible(t, s, "B1") {
		t.Error("undelivered batch must stay visible")
	}
}

func TestPull_LeavesBatchVisible(t *testing.T) {
	s := memory.New()
	seedBatch(t, s, "B1", time.Now())

	if err := executor.NewPull(quietLogger()).Dispatch(context.Background(), request("B1")); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !visible(t, s, "B1") {
		t.Error("pull dispatch must leave the batch for an agent to claim")
	}
}
