package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	manager "github.com/bprzybys-nc/manager-sub001"
	"github.com/bprzybys-nc/manager-sub001/approval"
	"github.com/bprzybys-nc/manager-sub001/id"
	"github.com/bprzybys-nc/manager-sub001/incident"
	"github.com/bprzybys-nc/manager-sub001/job"
	"github.com/bprzybys-nc/manager-sub001/store"
	"github.com/bprzybys-nc/manager-sub001/store/memory"
	"github.com/bprzybys-nc/manager-sub001/task"
	"github.com/bprzybys-nc/manager-sub001/workflow"
)

var _ store.Store = (*memory.Store)(nil)

func seedIncident(t *testing.T, s *memory.Store, incID string) {
	t.Helper()
	require.NoError(t, s.CreateIncident(context.Background(), &incident.Incident{
		Entity:   manager.NewEntity(),
		ID:       incID,
		Hostname: "db-1",
		Type:     incident.TypeLowFreeSpace,
		Status:   incident.StatusOpen,
	}))
}

func TestIncident_TerminalGuard(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	seedIncident(t, s, "I1")

	require.NoError(t, s.UpdateIncidentStatus(ctx, "I1", incident.StatusAcknowledged))
	assert.ErrorIs(t, s.UpdateIncidentStatus(ctx, "I1", incident.StatusOpen), manager.ErrInvalidTransition)
	require.NoError(t, s.UpdateIncidentStatus(ctx, "I1", incident.StatusClosed))
	assert.ErrorIs(t, s.UpdateIncidentStatus(ctx, "I1", incident.StatusAcknowledged), manager.ErrInvalidTransition)
	require.NoError(t, s.UpdateIncidentStatus(ctx, "I1", incident.StatusIgnored))

	inc, err := s.GetIncident(ctx, "I1")
	require.NoError(t, err)
	assert.Equal(t, incident.StatusIgnored, inc.Status)

	assert.ErrorIs(t, s.CreateIncident(ctx, inc), manager.ErrIncidentExists)
	_, err = s.GetIncident(ctx, "missing")
	assert.ErrorIs(t, err, manager.ErrIncidentNotFound)
}

func TestTask_OutputCompletesTask(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	require.NoError(t, s.CreateTask(ctx, &task.Task{ID: "D1", IncidentID: "I1", BatchID: "B1", State: task.StateApproved}))
	require.NoError(t, s.CreateTask(ctx, &task.Task{ID: "D2", IncidentID: "I1", BatchID: "B1", State: task.StateApproved}))
	require.NoError(t, s.AddTaskOutput(ctx, "D1", "42G free"))

	got, err := s.GetTask(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, task.StateCompleted, got.State)
	require.NotNil(t, got.Output)
	assert.Equal(t, "42G free", *got.Output)

	pending, err := s.ListTasksByIncident(ctx, "I1", task.StateApproved)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "D2", pending[0].ID)

	inBatch, err := s.ListTasksByBatch(ctx, "B1")
	require.NoError(t, err)
	assert.Len(t, inBatch, 2)
}

func TestTask_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.CreateTask(ctx, &task.Task{ID: "D1", IncidentID: "I1", State: task.StateApproved}))

	got, err := s.GetTask(ctx, "D1")
	require.NoError(t, err)
	got.State = task.StateRejected

	again, err := s.GetTask(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, task.StateApproved, again.State)
}

func TestBatch_HideExactlyOnce(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.CreateBatch(ctx, &task.Batch{ID: "B1", IncidentID: "I1", TaskIDs: []string{"D1"}, Visible: true, CreatedAt: time.Now()}))

	b, err := s.GetVisibleBatch(ctx, "I1")
	require.NoError(t, err)
	assert.Equal(t, "B1", b.ID)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.HideBatch(ctx, "I1", "B1") == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	assert.ErrorIs(t, s.HideBatch(ctx, "I1", "B1"), manager.ErrBatchClaimed)
	_, err = s.GetVisibleBatch(ctx, "I1")
	assert.ErrorIs(t, err, manager.ErrBatchNotFound)
}

func TestQuestion_OnePerTask(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	q := &approval.Question{ID: "Q1", IncidentID: "I1", TaskID: "R1", CorrelationID: approval.CorrelationID("I1", "R1")}
	require.NoError(t, s.CreateQuestion(ctx, q))

	dup := &approval.Question{ID: "Q2", IncidentID: "I1", TaskID: "R1", CorrelationID: "other"}
	assert.ErrorIs(t, s.CreateQuestion(ctx, dup), manager.ErrQuestionExists)

	got, err := s.GetQuestionByCorrelation(ctx, "I1_id_R1")
	require.NoError(t, err)
	assert.Equal(t, "Q1", got.ID)

	require.NoError(t, s.SetQuestionResponse(ctx, "Q1", approval.AnswerYes))
	assert.ErrorIs(t, s.SetQuestionResponse(ctx, "Q1", approval.AnswerNo), manager.ErrQuestionAnswered)

	got, err = s.GetQuestionByTask(ctx, "R1")
	require.NoError(t, err)
	assert.True(t, got.Approved())
	assert.NotNil(t, got.AnsweredAt)
}

func TestInstance_RevisionCheck(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	inst := &workflow.Instance{IncidentID: "I1", Step: workflow.StepClassify, Status: workflow.StatusActive}
	require.NoError(t, s.CreateInstance(ctx, inst))
	assert.Equal(t, int64(1), inst.Revision)
	assert.ErrorIs(t, s.CreateInstance(ctx, inst), manager.ErrWorkflowExists)

	a, err := s.GetInstance(ctx, "I1")
	require.NoError(t, err)
	b, err := s.GetInstance(ctx, "I1")
	require.NoError(t, err)

	a.Step = workflow.StepGenerateDiagnostic
	require.NoError(t, s.UpdateInstance(ctx, a))
	assert.Equal(t, int64(2), a.Revision)

	b.Step = workflow.StepClose
	assert.ErrorIs(t, s.UpdateInstance(ctx, b), manager.ErrRevisionConflict)

	got, err := s.GetInstance(ctx, "I1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StepGenerateDiagnostic, got.Step)
}

func TestInstance_PayloadIsolated(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	out := "ok"
	inst := &workflow.Instance{IncidentID: "I1", Payload: workflow.Payload{
		Diagnostics: []workflow.Diagnostic{{TaskID: "D1", Command: "df -h", Output: &out}},
	}}
	require.NoError(t, s.CreateInstance(ctx, inst))

	got, err := s.GetInstance(ctx, "I1")
	require.NoError(t, err)
	changed := "changed"
	got.Payload.Diagnostics[0].Output = &changed
	got.Payload.Diagnostics[0].Command = "rm"

	again, err := s.GetInstance(ctx, "I1")
	require.NoError(t, err)
	assert.Equal(t, "df -h", again.Payload.Diagnostics[0].Command)
	assert.Equal(t, "ok", *again.Payload.Diagnostics[0].Output)
}

func TestSuspension_ResolveOnce(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	now := time.Now().UTC()

	sp := &workflow.SuspensionPoint{Token: "B1", IncidentID: "I1", Kind: workflow.KindExecutionWait, TaskIDs: []string{"D1"}, CreatedAt: now}
	require.NoError(t, s.SaveSuspension(ctx, sp))

	open, err := s.ListSuspensions(ctx, "I1", true)
	require.NoError(t, err)
	assert.Len(t, open, 1)

	require.NoError(t, s.ResolveSuspension(ctx, "B1", now))
	assert.ErrorIs(t, s.ResolveSuspension(ctx, "B1", now), manager.ErrAlreadyResolved)

	// A stale writer saving an unresolved copy cannot reopen the point.
	require.NoError(t, s.SaveSuspension(ctx, sp))
	got, err := s.GetSuspension(ctx, "B1")
	require.NoError(t, err)
	assert.True(t, got.Resolved())

	open, err = s.ListSuspensions(ctx, "I1", true)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func newJob(incidentID string, runAt time.Time) *job.Job {
	return &job.Job{
		Entity:     manager.NewEntity(),
		ID:         id.NewJobID(),
		Name:       job.NameBatchCompleted,
		Queue:      "default",
		IncidentID: incidentID,
		State:      job.StatePending,
		RunAt:      runAt,
	}
}

func TestJob_DequeueSkipsBusyIncidents(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	past := time.Now().UTC().Add(-time.Minute)

	a1 := newJob("I1", past)
	a2 := newJob("I1", past.Add(time.Second))
	b1 := newJob("I2", past.Add(2*time.Second))
	for _, j := range []*job.Job{a1, a2, b1} {
		require.NoError(t, s.EnqueueJob(ctx, j))
	}

	got, err := s.DequeueJobs(ctx, []string{"default"}, nil, 10)
	require.NoError(t, err)
	require.Len(t, got, 2, "one job per incident per call")
	assert.Equal(t, a1.ID, got[0].ID)
	assert.Equal(t, b1.ID, got[1].ID)

	got, err = s.DequeueJobs(ctx, []string{"default"}, []string{"I1"}, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.DequeueJobs(ctx, []string{"default"}, nil, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a2.ID, got[0].ID)
	assert.Equal(t, job.StateRunning, got[0].State)
}

func TestJob_FutureRunAtNotDequeued(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.EnqueueJob(ctx, newJob("I1", time.Now().UTC().Add(time.Hour))))

	got, err := s.DequeueJobs(ctx, nil, nil, 1)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestJob_ReapStale(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	j := newJob("I1", time.Now().UTC().Add(-time.Minute))
	require.NoError(t, s.EnqueueJob(ctx, j))

	claimed, err := s.DequeueJobs(ctx, nil, nil, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	old := time.Now().UTC().Add(-time.Hour)
	claimed[0].HeartbeatAt = &old
	require.NoError(t, s.UpdateJob(ctx, claimed[0]))

	stale, err := s.ReapStaleJobs(ctx, time.Minute)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, j.ID, stale[0].ID)

	n, err := s.CountJobs(ctx, job.CountOpts{State: job.StateRunning})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCronLock(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	w1, w2 := id.NewWorkerID(), id.NewWorkerID()

	ok, err := s.AcquireCronLock(ctx, "stale-sweep", w1, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AcquireCronLock(ctx, "stale-sweep", w2, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.ReleaseCronLock(ctx, "stale-sweep", w2))
	ok, err = s.AcquireCronLock(ctx, "stale-sweep", w2, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "release by a non-holder is ignored")

	require.NoError(t, s.ReleaseCronLock(ctx, "stale-sweep", w1))
	ok, err = s.AcquireCronLock(ctx, "stale-sweep", w2, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
