package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	manager "github.com/bprzybys-nc/manager-sub001"
	"github.com/bprzybys-nc/manager-sub001/chat"
	"github.com/bprzybys-nc/manager-sub001/executor"
	"github.com/bprzybys-nc/manager-sub001/id"
	"github.com/bprzybys-nc/manager-sub001/incident"
	"github.com/bprzybys-nc/manager-sub001/oracle"
	"github.com/bprzybys-nc/manager-sub001/store/memory"
	"github.com/bprzybys-nc/manager-sub001/task"
	"github.com/bprzybys-nc/manager-sub001/workflow"
)

// ──────────────────────────────────────────────────
// Fakes
// ──────────────────────────────────────────────────

type scriptedOracle struct {
	mu sync.Mutex

	diagnose    []string
	advanced    []string
	verdicts    []oracle.Verdict
	remediation []string
	classifyErr error

	classifyCalls  int
	interpretCalls int
}

func (o *scriptedOracle) Classify(_ context.Context, _ oracle.ClassifyRequest) (*oracle.Classification, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.classifyCalls++
	if o.classifyErr != nil {
		return nil, o.classifyErr
	}
	return &oracle.Classification{Platforms: []oracle.Platform{oracle.PlatformLinux}}, nil
}

func (o *scriptedOracle) Diagnose(_ context.Context, req oracle.DiagnoseRequest) (*oracle.Diagnosis, error) {
	cmds := o.diagnose
	if req.Advanced {
		cmds = o.advanced
	}
	out := &oracle.Diagnosis{}
	for _, c := range cmds {
		out.Commands = append(out.Commands, oracle.Command{Command: c, Platform: req.Platform})
	}
	return out, nil
}

func (o *scriptedOracle) Interpret(_ context.Context, req oracle.InterpretRequest) (*oracle.Interpretation, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v := oracle.VerdictConfirmed
	if len(o.verdicts) > 0 {
		v = o.verdicts[0]
		if len(o.verdicts) > 1 {
			o.verdicts = o.verdicts[1:]
		}
	}
	o.interpretCalls++
	in := &oracle.Interpretation{Verdict: v, Summary: "interpreted"}
	for _, r := range req.Results {
		in.Commands = append(in.Commands, oracle.CommandVerdict{Command: r.Command, Verdict: v})
	}
	return in, nil
}

func (o *scriptedOracle) IdentifySource(context.Context, oracle.SourceRequest) (*oracle.Sources, error) {
	return &oracle.Sources{}, nil
}

func (o *scriptedOracle) Recommend(context.Context, oracle.RecommendRequest) (*oracle.Recommendation, error) {
	return &oracle.Recommendation{Summary: "free some space"}, nil
}

func (o *scriptedOracle) GenerateRemediation(context.Context, oracle.RemediationRequest) (*oracle.Remediation, error) {
	out := &oracle.Remediation{}
	for _, c := range o.remediation {
		out.Commands = append(out.Commands, oracle.Command{Command: c})
	}
	return out, nil
}

func (o *scriptedOracle) SelectPlatform(context.Context, string) (oracle.Platform, error) {
	return oracle.PlatformLinux, nil
}

func (o *scriptedOracle) classifications() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.classifyCalls
}

func (o *scriptedOracle) interpretations() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.interpretCalls
}

type recordingDispatcher struct {
	mu       sync.Mutex
	err      error
	attempts int
	requests []executor.Request
}

func (d *recordingDispatcher) Dispatch(_ context.Context, req executor.Request) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts++
	if d.err != nil {
		return d.err
	}
	d.requests = append(d.requests, req)
	return nil
}

func (d *recordingDispatcher) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *recordingDispatcher) batches() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.requests))
	for i, r := range d.requests {
		out[i] = r.BatchID
	}
	return out
}

type recordingGateway struct {
	mu    sync.Mutex
	err   error
	tries int
	asked []string
}

func (g *recordingGateway) Ask(_ context.Context, correlationID, _, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tries++
	if g.err != nil {
		return g.err
	}
	g.asked = append(g.asked, correlationID)
	return nil
}

func (g *recordingGateway) setErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

func (g *recordingGateway) questions() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.asked...)
}

type threadChannel struct {
	mu    sync.Mutex
	posts int
}

func (c *threadChannel) Post(_ context.Context, threadID string, _ chat.Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.posts++
	if threadID == "" {
		return "T1", nil
	}
	return threadID, nil
}

// scriptedIDs hands out scripted identifiers per prefix, then numbered ones.
type scriptedIDs struct {
	mu     sync.Mutex
	script map[id.Prefix][]string
	n      int
}

func (s *scriptedIDs) next(p id.Prefix) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ids := s.script[p]; len(ids) > 0 {
		s.script[p] = ids[1:]
		return ids[0]
	}
	s.n++
	return fmt.Sprintf("%s-%d", p, s.n)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ──────────────────────────────────────────────────
// Harness
// ──────────────────────────────────────────────────

type harness struct {
	store      *memory.Store
	oracle     *scriptedOracle
	dispatcher *recordingDispatcher
	gateway    *recordingGateway
	clock      *clock
	runner     *workflow.Runner
}

func newHarness(t *testing.T, o *scriptedOracle, tasks []string, cfg func(*manager.Config)) *harness {
	t.Helper()
	h := &harness{
		store:      memory.New(),
		oracle:     o,
		dispatcher: &recordingDispatcher{},
		gateway:    &recordingGateway{},
		clock:      &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	ids := &scriptedIDs{script: map[id.Prefix][]string{
		id.PrefixBatch:    {"B1", "B2"},
		id.PrefixTask:     tasks,
		id.PrefixQuestion: {"Q1", "Q2", "Q3"},
	}}
	c := manager.DefaultConfig()
	if cfg != nil {
		cfg(&c)
	}
	h.runner = workflow.NewRunner(
		h.store, o, h.dispatcher, h.gateway, &threadChannel{}, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		workflow.WithConfig(c),
		workflow.WithIDGenerator(ids.next),
		workflow.WithClock(h.clock.Now),
	)

	require.NoError(t, h.store.CreateIncident(context.Background(), &incident.Incident{
		Entity:      manager.NewEntity(),
		ID:          "I1",
		Hostname:    "db-1",
		Type:        incident.TypeLowFreeSpace,
		Status:      incident.StatusOpen,
		Description: "free space below 5%",
	}))
	return h
}

func (h *harness) instance(t *testing.T) *workflow.Instance {
	t.Helper()
	inst, err := h.store.GetInstance(context.Background(), "I1")
	require.NoError(t, err)
	return inst
}

func (h *harness) incidentStatus(t *testing.T) incident.Status {
	t.Helper()
	inc, err := h.store.GetIncident(context.Background(), "I1")
	require.NoError(t, err)
	return inc.Status
}

// confirmedOracle confirms the first pass and proposes the given fixes.
func confirmedOracle(fixes ...string) *scriptedOracle {
	return &scriptedOracle{
		diagnose:    []string{"df -h"},
		verdicts:    []oracle.Verdict{oracle.VerdictConfirmed},
		remediation: fixes,
	}
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRunner_Scenario(t *testing.T) {
	ctx := context.Background()
	o := &scriptedOracle{
		diagnose:    []string{"top -b"},
		advanced:    []string{"vmstat 1 5"},
		verdicts:    []oracle.Verdict{oracle.VerdictFalsePositive, oracle.VerdictConfirmed},
		remediation: []string{"systemctl restart app"},
	}
	h := newHarness(t, o, []string{"D1", "D2", "R1"}, nil)

	inst, err := h.runner.Start(ctx, "I1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StepAwaitDiagnosticResult, inst.Step)
	assert.Equal(t, workflow.StatusWaiting, h.instance(t).Status)
	assert.Equal(t, incident.StatusAcknowledged, h.incidentStatus(t))
	assert.Equal(t, []string{"B1"}, h.dispatcher.batches())

	require.NoError(t, h.runner.OnBatchCompleted(ctx, "B1", map[string]string{"top -b": "Cpu(s): 0.5 us, 99.0 id"}))
	inst = h.instance(t)
	assert.Equal(t, workflow.StepAwaitDiagnosticResult, inst.Step)
	assert.True(t, inst.Payload.Advanced)
	assert.Equal(t, 2, o.classifications())
	assert.Equal(t, []string{"B1", "B2"}, h.dispatcher.batches())

	require.NoError(t, h.runner.OnBatchCompleted(ctx, "B2", map[string]string{"vmstat 1 5": "swap 98%"}))
	inst = h.instance(t)
	assert.Equal(t, workflow.StepAwaitRemediationApprovals, inst.Step)
	assert.Equal(t, workflow.StatusWaiting, inst.Status)
	require.Len(t, inst.Payload.Remediations, 1)
	assert.Equal(t, "R1", inst.Payload.Remediations[0].TaskID)
	assert.Equal(t, []string{"I1_id_R1"}, h.gateway.questions())

	require.NoError(t, h.runner.OnApprovalAnswered(ctx, "I1_id_R1", true))
	assert.Equal(t, []string{"B1", "B2", "I1_id_R1"}, h.dispatcher.batches())
	assert.Equal(t, incident.StatusAcknowledged, h.incidentStatus(t))

	require.NoError(t, h.runner.OnBatchCompleted(ctx, "I1_id_R1", map[string]string{"systemctl restart app": "ok"}))
	inst = h.instance(t)
	assert.Equal(t, workflow.StepTerminal, inst.Step)
	assert.Equal(t, workflow.StatusCompleted, inst.Status)
	require.NotNil(t, inst.Payload.Remediations[0].Result)
	assert.Equal(t, "ok", *inst.Payload.Remediations[0].Result)
	assert.Equal(t, incident.StatusClosed, h.incidentStatus(t))
}

func TestRunner_DuplicateBatchCompletionIsNoop(t *testing.T) {
	ctx := context.Background()
	o := confirmedOracle("rm /tmp/big")
	h := newHarness(t, o, []string{"D1", "R1"}, nil)

	_, err := h.runner.Start(ctx, "I1")
	require.NoError(t, err)
	require.NoError(t, h.runner.OnBatchCompleted(ctx, "B1", map[string]string{"df -h": "100%"}))
	before := h.instance(t)

	require.NoError(t, h.runner.OnBatchCompleted(ctx, "B1", map[string]string{"df -h": "changed"}))
	after := h.instance(t)
	assert.Equal(t, before.Revision, after.Revision)
	assert.Equal(t, before.Step, after.Step)
	assert.Equal(t, 1, o.interpretations())

	d1, err := h.store.GetTask(ctx, "D1")
	require.NoError(t, err)
	require.NotNil(t, d1.Output)
	assert.Equal(t, "100%", *d1.Output)
}

func TestRunner_SingleQuestionPerTask(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, confirmedOracle("rm /tmp/big"), []string{"D1", "R1"}, nil)

	_, err := h.runner.Start(ctx, "I1")
	require.NoError(t, err)
	require.NoError(t, h.runner.OnBatchCompleted(ctx, "B1", map[string]string{"df -h": "100%"}))

	require.NoError(t, h.runner.Resume(ctx, "I1", nil, nil))
	require.NoError(t, h.runner.Resume(ctx, "I1", nil, nil))

	qs, err := h.store.ListQuestionsByIncident(ctx, "I1")
	require.NoError(t, err)
	require.Len(t, qs, 1)
	assert.Equal(t, "I1_id_R1", qs[0].CorrelationID)
	assert.Equal(t, []string{"I1_id_R1"}, h.gateway.questions())

	r1, err := h.store.GetTask(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, task.StateHuman, r1.State)
}

func TestRunner_AllRemediationsJoinBeforeClose(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, confirmedOracle("fix a", "fix b", "fix c"), []string{"D1", "R1", "R2", "R3"}, nil)

	_, err := h.runner.Start(ctx, "I1")
	require.NoError(t, err)
	require.NoError(t, h.runner.OnBatchCompleted(ctx, "B1", map[string]string{"df -h": "100%"}))
	assert.ElementsMatch(t, []string{"I1_id_R1", "I1_id_R2", "I1_id_R3"}, h.gateway.questions())

	waiting := func() {
		t.Helper()
		inst := h.instance(t)
		assert.Equal(t, workflow.StepAwaitRemediationApprovals, inst.Step)
		assert.Equal(t, incident.StatusAcknowledged, h.incidentStatus(t))
	}

	require.NoError(t, h.runner.OnApprovalAnswered(ctx, "I1_id_R3", false))
	waiting()
	require.NoError(t, h.runner.OnApprovalAnswered(ctx, "I1_id_R1", true))
	waiting()
	require.NoError(t, h.runner.OnApprovalAnswered(ctx, "I1_id_R2", true))
	waiting()
	require.NoError(t, h.runner.OnBatchCompleted(ctx, "I1_id_R2", map[string]string{"fix b": "done b"}))
	waiting()
	require.NoError(t, h.runner.OnBatchCompleted(ctx, "I1_id_R1", map[string]string{"fix a": "done a"}))

	inst := h.instance(t)
	assert.Equal(t, workflow.StatusCompleted, inst.Status)
	assert.Equal(t, incident.StatusClosed, h.incidentStatus(t))

	got := map[string]string{}
	for _, rm := range inst.Payload.Remediations {
		require.NotNil(t, rm.Result)
		got[rm.TaskID] = *rm.Result
	}
	assert.Equal(t, map[string]string{"R1": "done a", "R2": "done b", "R3": workflow.RejectedOutput}, got)
}

func TestRunner_DuplicateApprovalIgnored(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, confirmedOracle("fix a"), []string{"D1", "R1"}, nil)

	_, err := h.runner.Start(ctx, "I1")
	require.NoError(t, err)
	require.NoError(t, h.runner.OnBatchCompleted(ctx, "B1", map[string]string{"df -h": "100%"}))

	require.NoError(t, h.runner.OnApprovalAnswered(ctx, "I1_id_R1", true))
	require.NoError(t, h.runner.OnApprovalAnswered(ctx, "I1_id_R1", false))

	r1, err := h.store.GetTask(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, task.StateApproved, r1.State)
	assert.Equal(t, []string{"B1", "I1_id_R1"}, h.dispatcher.batches())
}

func TestRunner_InconclusiveTwiceDoesNotLoopAgain(t *testing.T) {
	ctx := context.Background()
	o := &scriptedOracle{
		diagnose: []string{"df -h"},
		advanced: []string{"du -sh /var"},
		verdicts: []oracle.Verdict{oracle.VerdictInconclusive},
	}
	h := newHarness(t, o, []string{"D1", "D2"}, nil)

	_, err := h.runner.Start(ctx, "I1")
	require.NoError(t, err)
	require.NoError(t, h.runner.OnBatchCompleted(ctx, "B1", map[string]string{"df -h": "40%"}))
	require.NoError(t, h.runner.OnBatchCompleted(ctx, "B2", map[string]string{"du -sh /var": "2G"}))

	assert.Equal(t, 2, o.classifications())
	assert.Equal(t, 2, o.interpretations())
	inst := h.instance(t)
	assert.Equal(t, 2, inst.Payload.Passes)
	assert.Equal(t, workflow.StatusCompleted, inst.Status)
	assert.Equal(t, incident.StatusClosed, h.incidentStatus(t))
}

func TestRunner_NoAdvancedPassWhenDisabled(t *testing.T) {
	ctx := context.Background()
	o := &scriptedOracle{
		diagnose: []string{"df -h"},
		verdicts: []oracle.Verdict{oracle.VerdictFalsePositive},
	}
	h := newHarness(t, o, []string{"D1"}, func(c *manager.Config) { c.AdvancedDiagnostics = false })

	_, err := h.runner.Start(ctx, "I1")
	require.NoError(t, err)
	require.NoError(t, h.runner.OnBatchCompleted(ctx, "B1", map[string]string{"df -h": "40%"}))

	assert.Equal(t, 1, o.classifications())
	assert.Equal(t, workflow.StatusCompleted, h.instance(t).Status)
}

func TestRunner_TerminalIncidentRetiresInstance(t *testing.T) {
	ctx := context.Background()
	o := confirmedOracle("fix a")
	h := newHarness(t, o, []string{"D1", "R1"}, nil)

	_, err := h.runner.Start(ctx, "I1")
	require.NoError(t, err)
	require.NoError(t, h.store.UpdateIncidentStatus(ctx, "I1", incident.StatusIgnored))

	require.NoError(t, h.runner.OnBatchCompleted(ctx, "B1", map[string]string{"df -h": "100%"}))

	inst := h.instance(t)
	assert.Equal(t, workflow.StatusRetired, inst.Status)
	assert.NotNil(t, inst.RetiredAt)
	assert.Equal(t, workflow.StepAwaitDiagnosticResult, inst.Step)
	assert.Zero(t, o.interpretations())
	assert.Equal(t, incident.StatusIgnored, h.incidentStatus(t))

	d1, err := h.store.GetTask(ctx, "D1")
	require.NoError(t, err)
	assert.Nil(t, d1.Output)
}

func TestRunner_IgnoreIncident(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, confirmedOracle(), []string{"D1"}, nil)

	_, err := h.runner.Start(ctx, "I1")
	require.NoError(t, err)
	require.NoError(t, h.runner.IgnoreIncident(ctx, "I1"))

	assert.Equal(t, incident.StatusIgnored, h.incidentStatus(t))
	assert.Equal(t, workflow.StatusRetired, h.instance(t).Status)

	_, err = h.runner.Start(ctx, "I1")
	assert.ErrorIs(t, err, manager.ErrIncidentTerminal)
}

func TestRunner_BatchAfterIgnoreLeavesTasksAlone(t *testing.T) {
	ctx := context.Background()
	o := confirmedOracle("fix a")
	h := newHarness(t, o, []string{"D1", "R1"}, nil)

	_, err := h.runner.Start(ctx, "I1")
	require.NoError(t, err)
	before, err := h.store.GetTask(ctx, "D1")
	require.NoError(t, err)
	require.NoError(t, h.runner.IgnoreIncident(ctx, "I1"))

	require.NoError(t, h.runner.OnBatchCompleted(ctx, "B1", map[string]string{"df -h": "100%"}))

	d1, err := h.store.GetTask(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, before.State, d1.State)
	assert.Nil(t, d1.Output)
	sp, err := h.store.GetSuspension(ctx, "B1")
	require.NoError(t, err)
	assert.False(t, sp.Resolved())
	assert.Zero(t, o.interpretations())
	assert.Equal(t, workflow.StatusRetired, h.instance(t).Status)
}

func TestRunner_ApprovalAfterIgnoreLeavesTasksAlone(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, confirmedOracle("fix a"), []string{"D1", "R1"}, nil)

	_, err := h.runner.Start(ctx, "I1")
	require.NoError(t, err)
	require.NoError(t, h.runner.OnBatchCompleted(ctx, "B1", map[string]string{"df -h": "100%"}))
	require.Equal(t, []string{"I1_id_R1"}, h.gateway.questions())
	before, err := h.store.GetTask(ctx, "R1")
	require.NoError(t, err)
	require.NoError(t, h.runner.IgnoreIncident(ctx, "I1"))

	require.NoError(t, h.runner.OnApprovalAnswered(ctx, "I1_id_R1", false))

	r1, err := h.store.GetTask(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, before.State, r1.State)
	assert.Empty(t, r1.Comments)
	q, err := h.store.GetQuestionByCorrelation(ctx, "I1_id_R1")
	require.NoError(t, err)
	assert.False(t, q.Answered())
	assert.Equal(t, []string{"B1"}, h.dispatcher.batches())
	assert.Equal(t, incident.StatusIgnored, h.incidentStatus(t))
}

func TestRunner_ResumeWithoutWorkflow(t *testing.T) {
	h := newHarness(t, confirmedOracle(), nil, nil)

	err := h.runner.Resume(context.Background(), "I1", []string{"D1"}, nil)
	assert.ErrorIs(t, err, manager.ErrWorkflowNotFound)
	assert.Equal(t, incident.StatusOpen, h.incidentStatus(t))
}

func TestRunner_OracleExhaustedFailsInstance(t *testing.T) {
	o := confirmedOracle()
	o.classifyErr = fmt.Errorf("classify after 3 attempts: %w", oracle.ErrExhausted)
	h := newHarness(t, o, nil, nil)

	_, err := h.runner.Start(context.Background(), "I1")
	require.NoError(t, err)

	inst := h.instance(t)
	assert.Equal(t, workflow.StatusFailed, inst.Status)
	assert.Equal(t, workflow.StepClassify, inst.Step)
	assert.Contains(t, inst.Error, "attempts exhausted")
	assert.Equal(t, incident.StatusAcknowledged, h.incidentStatus(t))
}

func TestRunner_TransientStepErrorIsReturned(t *testing.T) {
	o := confirmedOracle()
	o.classifyErr = errors.New("connection reset")
	h := newHarness(t, o, nil, nil)

	_, err := h.runner.Start(context.Background(), "I1")
	require.Error(t, err)

	inst := h.instance(t)
	assert.Equal(t, workflow.StatusActive, inst.Status)
	assert.Equal(t, workflow.StepClassify, inst.Step)
}

func TestRunner_DispatchFailureRetriedOnResume(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, confirmedOracle(), []string{"D1"}, nil)
	h.dispatcher.setErr(errors.New("agent unreachable"))

	_, err := h.runner.Start(ctx, "I1")
	require.NoError(t, err)
	assert.Empty(t, h.dispatcher.batches())

	sp, err := h.store.GetSuspension(ctx, "B1")
	require.NoError(t, err)
	assert.False(t, sp.Waiting)
	assert.Nil(t, sp.DispatchedAt)

	h.dispatcher.setErr(nil)
	require.NoError(t, h.runner.Resume(ctx, "I1", nil, nil))
	assert.Equal(t, []string{"B1"}, h.dispatcher.batches())

	sp, err = h.store.GetSuspension(ctx, "B1")
	require.NoError(t, err)
	assert.True(t, sp.Waiting)
	assert.NotNil(t, sp.DispatchedAt)
}

func TestRunner_UndeliveredQuestionResent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, confirmedOracle("fix a"), []string{"D1", "R1"}, nil)
	h.gateway.setErr(errors.New("slack down"))

	_, err := h.runner.Start(ctx, "I1")
	require.NoError(t, err)
	require.NoError(t, h.runner.OnBatchCompleted(ctx, "B1", map[string]string{"df -h": "100%"}))
	assert.Empty(t, h.gateway.questions())

	q, err := h.store.GetQuestionByTask(ctx, "R1")
	require.NoError(t, err)
	assert.Nil(t, q.SentAt)

	h.gateway.setErr(nil)
	require.NoError(t, h.runner.Resume(ctx, "I1", nil, nil))
	assert.Equal(t, []string{"I1_id_R1"}, h.gateway.questions())

	q, err = h.store.GetQuestionByTask(ctx, "R1")
	require.NoError(t, err)
	assert.NotNil(t, q.SentAt)
	assert.Equal(t, "Q1", q.ID)
}

func TestRunner_BatchOutputTruncated(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, confirmedOracle(), []string{"D1"}, func(c *manager.Config) { c.MaxOutputBytes = 64 })

	_, err := h.runner.Start(ctx, "I1")
	require.NoError(t, err)

	big := make([]byte, 1024)
	for i := range big {
		big[i] = 'x'
	}
	require.NoError(t, h.runner.OnBatchCompleted(ctx, "B1", map[string]string{"df -h": string(big)}))

	d1, err := h.store.GetTask(ctx, "D1")
	require.NoError(t, err)
	require.NotNil(t, d1.Output)
	assert.Less(t, len(*d1.Output), len(big))
	assert.Equal(t, task.Truncate(string(big), 64), *d1.Output)
}

func TestRunner_SweepStale(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, confirmedOracle(), []string{"D1"}, nil)

	_, err := h.runner.Start(ctx, "I1")
	require.NoError(t, err)

	n, err := h.runner.SweepStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.clock.Advance(h.runner.Config().ExecutionWaitTimeout + time.Minute)
	n, err = h.runner.SweepStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	inst := h.instance(t)
	assert.True(t, inst.Stale)
	assert.Equal(t, workflow.StatusWaiting, inst.Status)

	n, err = h.runner.SweepStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Advancing clears the flag.
	require.NoError(t, h.runner.OnBatchCompleted(ctx, "B1", map[string]string{"df -h": "100%"}))
	assert.False(t, h.instance(t).Stale)
}

func TestRunner_ResumeAllDrivesActiveInstances(t *testing.T) {
	ctx := context.Background()
	o := confirmedOracle()
	o.classifyErr = errors.New("timeout")
	h := newHarness(t, o, []string{"D1"}, nil)

	_, err := h.runner.Start(ctx, "I1")
	require.Error(t, err)

	o.mu.Lock()
	o.classifyErr = nil
	o.mu.Unlock()

	require.NoError(t, h.runner.ResumeAll(ctx))
	inst := h.instance(t)
	assert.Equal(t, workflow.StepAwaitDiagnosticResult, inst.Step)
	assert.Equal(t, []string{"B1"}, h.dispatcher.batches())
}
