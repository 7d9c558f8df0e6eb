package chathook_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	manager "github.com/bprzybys-nc/manager-sub001"
	"github.com/bprzybys-nc/manager-sub001/chat"
	ch "github.com/bprzybys-nc/manager-sub001/chathook"
	"github.com/bprzybys-nc/manager-sub001/ext"
	"github.com/bprzybys-nc/manager-sub001/incident"
	"github.com/bprzybys-nc/manager-sub001/workflow"
)

// ── Fakes ────────────────────────────────────────────

type post struct {
	thread string
	text   string
}

type mockChannel struct {
	mu    sync.Mutex
	err   error
	posts []post
}

func (m *mockChannel) Post(_ context.Context, threadID string, msg chat.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.posts = append(m.posts, post{thread: threadID, text: msg.Markdown()})
	return threadID, nil
}

func (m *mockChannel) last() *post {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.posts) == 0 {
		return nil
	}
	return &m.posts[len(m.posts)-1]
}

func (m *mockChannel) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.posts)
}

type incidents map[string]*incident.Incident

func (s incidents) GetIncident(_ context.Context, incidentID string) (*incident.Incident, error) {
	inc, ok := s[incidentID]
	if !ok {
		return nil, manager.ErrIncidentNotFound
	}
	return inc, nil
}

func newTestExtension(channel *mockChannel, opts ...ch.Option) *ch.Extension {
	store := incidents{"I1": {ID: "I1", ThreadID: "T1", Status: incident.StatusAcknowledged}}
	opts = append([]ch.Option{ch.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return ch.New(channel, store, opts...)
}

func newTestInstance() *workflow.Instance {
	return &workflow.Instance{IncidentID: "I1", Step: workflow.StepInterpret, Status: workflow.StatusActive}
}

// ── Tests ────────────────────────────────────────────

func TestExtension_Name(t *testing.T) {
	e := newTestExtension(&mockChannel{})
	if e.Name() != "chat-hook" {
		t.Errorf("expected name %q, got %q", "chat-hook", e.Name())
	}
}

func TestExtension_WorkflowFailed(t *testing.T) {
	channel := &mockChannel{}
	e := newTestExtension(channel)

	if err := e.OnWorkflowFailed(context.Background(), newTestInstance(), errors.New("oracle: attempts exhausted")); err != nil {
		t.Fatalf("OnWorkflowFailed: %v", err)
	}

	p := channel.last()
	if p == nil {
		t.Fatal("nothing posted")
	}
	if p.thread != "T1" {
		t.Errorf("thread: want %q, got %q", "T1", p.thread)
	}
	for _, want := range []string{"Automated handling stopped", "`interpret`", "attempts exhausted"} {
		if !strings.Contains(p.text, want) {
			t.Errorf("message %q does not contain %q", p.text, want)
		}
	}
}

func TestExtension_StepFailed(t *testing.T) {
	channel := &mockChannel{}
	e := newTestExtension(channel)

	_ = e.OnStepFailed(context.Background(), newTestInstance(), workflow.StepClassify, errors.New("timeout"))

	p := channel.last()
	if p == nil || !strings.Contains(p.text, "`classify`") || !strings.Contains(p.text, "timeout") {
		t.Fatalf("unexpected post %+v", p)
	}
}

func TestExtension_IncidentStale(t *testing.T) {
	channel := &mockChannel{}
	e := newTestExtension(channel)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_ = e.OnIncidentStale(context.Background(), newTestInstance(), &workflow.SuspensionPoint{
		Token:      "I1_id_R1",
		IncidentID: "I1",
		Kind:       workflow.KindApprovalWait,
		CreatedAt:  created,
	})

	p := channel.last()
	if p == nil {
		t.Fatal("nothing posted")
	}
	if !strings.Contains(p.text, "an approval") || !strings.Contains(p.text, "`I1_id_R1`") {
		t.Errorf("unexpected message %q", p.text)
	}
	if !strings.Contains(p.text, created.Format(time.RFC3339)) {
		t.Errorf("message %q lacks the wait start", p.text)
	}
}

func TestExtension_ClosureRefused(t *testing.T) {
	channel := &mockChannel{}
	e := newTestExtension(channel)
	ctx := context.Background()

	_ = e.OnClosureRefused(ctx, "I1", &workflow.ClosureError{
		IncidentID: "I1",
		Reason:     workflow.ReasonPendingTasks,
		Detail:     "2 tasks still await review",
	})
	p := channel.last()
	if p == nil || !strings.Contains(p.text, "pending_tasks") || !strings.Contains(p.text, "2 tasks still await review") {
		t.Fatalf("unexpected post %+v", p)
	}

	// Unknown incidents have no thread to post to.
	_ = e.OnClosureRefused(ctx, "missing", &workflow.ClosureError{IncidentID: "missing", Reason: workflow.ReasonIncidentNotFound})
	if channel.count() != 1 {
		t.Errorf("posts: want 1, got %d", channel.count())
	}
}

func TestExtension_WithEvents(t *testing.T) {
	channel := &mockChannel{}
	e := newTestExtension(channel, ch.WithEvents(ch.EventWorkflowFailed))
	ctx := context.Background()

	_ = e.OnStepFailed(ctx, newTestInstance(), workflow.StepClassify, errors.New("timeout"))
	if channel.count() != 0 {
		t.Fatalf("disabled event posted")
	}
	_ = e.OnWorkflowFailed(ctx, newTestInstance(), errors.New("fatal"))
	if channel.count() != 1 {
		t.Fatalf("posts: want 1, got %d", channel.count())
	}
}

func TestExtension_ChannelErrorSwallowed(t *testing.T) {
	channel := &mockChannel{err: errors.New("webhook down")}
	e := newTestExtension(channel)

	if err := e.OnWorkflowFailed(context.Background(), newTestInstance(), errors.New("fatal")); err != nil {
		t.Fatalf("want nil error, got %v", err)
	}
}

func TestExtension_ViaRegistry(t *testing.T) {
	channel := &mockChannel{}
	e := newTestExtension(channel)

	reg := ext.NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
	reg.Register(e)

	ctx := context.Background()
	inst := newTestInstance()
	reg.EmitStepFailed(ctx, inst, workflow.StepInterpret, errors.New("bad json"))
	reg.EmitWorkflowFailed(ctx, inst, errors.New("fatal"))
	reg.EmitIncidentStale(ctx, inst, &workflow.SuspensionPoint{Token: "B1", IncidentID: "I1", Kind: workflow.KindExecutionWait})
	reg.EmitClosureRefused(ctx, "I1", &workflow.ClosureError{IncidentID: "I1", Reason: workflow.ReasonUnresolvedBatch})
	reg.EmitWorkflowCompleted(ctx, inst)

	if got := channel.count(); got != len(ch.AllEvents()) {
		t.Errorf("posts: want %d, got %d", len(ch.AllEvents()), got)
	}
}
