package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	manager "github.com/bprzybys-nc/manager-sub001"
	"github.com/bprzybys-nc/manager-sub001/approval"
	"github.com/bprzybys-nc/manager-sub001/chat"
	"github.com/bprzybys-nc/manager-sub001/executor"
	"github.com/bprzybys-nc/manager-sub001/id"
	"github.com/bprzybys-nc/manager-sub001/incident"
	"github.com/bprzybys-nc/manager-sub001/oracle"
	"github.com/bprzybys-nc/manager-sub001/task"
)

// Backend is the set of stores the runner reads and writes.
type Backend interface {
	incident.Store
	task.Store
	approval.Store
	Store
}

// Inventory resolves a free-text description of the host an incident was
// raised on. It is optional.
type Inventory interface {
	Describe(ctx context.Context, instanceID, hostname string) (string, error)
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithConfig sets the engine configuration.
func WithConfig(cfg manager.Config) RunnerOption {
	return func(r *Runner) { r.config = cfg }
}

// WithLocker replaces the in-process per-incident lock.
func WithLocker(l Locker) RunnerOption {
	return func(r *Runner) { r.locker = l }
}

// WithIDGenerator replaces the identifier generator.
func WithIDGenerator(g id.Generator) RunnerOption {
	return func(r *Runner) { r.newID = g }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// WithInventory sets the host inventory consulted on start.
func WithInventory(inv Inventory) RunnerOption {
	return func(r *Runner) { r.inventory = inv }
}

// Runner drives incident workflow instances. Every entry point holds the
// incident's lock for its whole duration, so steps of one incident never
// interleave.
type Runner struct {
	backend    Backend
	oracle     oracle.Oracle
	dispatcher executor.Dispatcher
	gateway    approval.Gateway
	channel    chat.Channel
	emitter    Emitter
	logger     *slog.Logger

	config    manager.Config
	locker    Locker
	newID     id.Generator
	now       func() time.Time
	inventory Inventory

	steps map[Step]stepFunc
}

// NewRunner creates a workflow runner.
func NewRunner(
	backend Backend,
	o oracle.Oracle,
	dispatcher executor.Dispatcher,
	gateway approval.Gateway,
	channel chat.Channel,
	emitter Emitter,
	logger *slog.Logger,
	opts ...RunnerOption,
) *Runner {
	r := &Runner{
		backend:    backend,
		oracle:     o,
		dispatcher: dispatcher,
		gateway:    gateway,
		channel:    channel,
		emitter:    emitter,
		logger:     logger,
		config:     manager.DefaultConfig(),
		locker:     NewMutexLocker(),
		newID:      id.Generate,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.emitter == nil {
		r.emitter = NopEmitter{}
	}
	if r.channel == nil {
		r.channel = chat.Discard{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.steps = r.stepTable()
	return r
}

// Config returns the runner's configuration.
func (r *Runner) Config() manager.Config { return r.config }

// Start creates the workflow instance of an incident and drives it until
// it first suspends. Starting an incident that already has an instance
// drives the existing one instead.
func (r *Runner) Start(ctx context.Context, incidentID string) (*Instance, error) {
	unlock, err := r.locker.Lock(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("lock incident %s: %w", incidentID, err)
	}
	defer unlock()

	inc, err := r.backend.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("start workflow: %w", err)
	}
	if inc.Terminal() {
		return nil, fmt.Errorf("start workflow for %s: %w", incidentID, manager.ErrIncidentTerminal)
	}

	inst, err := r.backend.GetInstance(ctx, incidentID)
	switch {
	case err == nil:
		return inst, r.drive(ctx, inst)
	case !errors.Is(err, manager.ErrWorkflowNotFound):
		return nil, fmt.Errorf("load workflow %s: %w", incidentID, err)
	}

	if inc.ThreadID == "" {
		r.openThread(ctx, inc)
	}
	if inc.Status == incident.StatusOpen {
		if err := r.backend.UpdateIncidentStatus(ctx, inc.ID, incident.StatusAcknowledged); err != nil &&
			!errors.Is(err, manager.ErrInvalidTransition) {
			return nil, fmt.Errorf("acknowledge incident %s: %w", inc.ID, err)
		}
		inc.Status = incident.StatusAcknowledged
	}

	inst = &Instance{
		Entity:     manager.NewEntity(),
		IncidentID: inc.ID,
		Step:       StepClassify,
		Status:     StatusActive,
		Revision:   1,
	}

	var invErr error
	if r.inventory != nil {
		desc, err := r.inventory.Describe(ctx, inc.InstanceID, inc.Hostname)
		if err != nil {
			invErr = fmt.Errorf("describe host %s: %w", inc.Hostname, err)
		}
		inst.Payload.HostDescription = desc
	}

	if err := r.backend.CreateInstance(ctx, inst); err != nil {
		if errors.Is(err, manager.ErrWorkflowExists) {
			existing, getErr := r.backend.GetInstance(ctx, incidentID)
			if getErr != nil {
				return nil, fmt.Errorf("load workflow %s: %w", incidentID, getErr)
			}
			return existing, r.drive(ctx, existing)
		}
		return nil, fmt.Errorf("create workflow %s: %w", incidentID, err)
	}

	r.logger.Info("workflow started",
		slog.String("incident_id", inc.ID),
		slog.String("hostname", inc.Hostname),
	)
	r.emitter.EmitWorkflowStarted(ctx, inst)

	if invErr != nil {
		return inst, r.fail(ctx, inst, invErr)
	}
	return inst, r.drive(ctx, inst)
}

// Resume re-evaluates an incident's workflow after new task results or
// human answers became available. It returns manager.ErrWorkflowNotFound
// when the incident has no instance.
func (r *Runner) Resume(ctx context.Context, incidentID string, taskIDs, questionIDs []string) error {
	unlock, err := r.locker.Lock(ctx, incidentID)
	if err != nil {
		return fmt.Errorf("lock incident %s: %w", incidentID, err)
	}
	defer unlock()

	inst, err := r.backend.GetInstance(ctx, incidentID)
	if err != nil {
		if errors.Is(err, manager.ErrWorkflowNotFound) {
			r.logger.Warn("resume for incident without workflow",
				slog.String("incident_id", incidentID),
			)
		}
		return fmt.Errorf("resume %s: %w", incidentID, err)
	}
	if halted, err := r.halted(ctx, inst, ""); halted || err != nil {
		return err
	}

	for _, qid := range questionIDs {
		q, err := r.backend.GetQuestion(ctx, qid)
		if err != nil {
			r.logger.Warn("resume references unknown question",
				slog.String("incident_id", incidentID),
				slog.String("question_id", qid),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := r.applyAnswer(ctx, q); err != nil {
			return err
		}
	}

	settled := make(map[string]bool)
	for _, tid := range taskIDs {
		t, err := r.backend.GetTask(ctx, tid)
		if err != nil {
			r.logger.Warn("resume references unknown task",
				slog.String("incident_id", incidentID),
				slog.String("task_id", tid),
				slog.String("error", err.Error()),
			)
			continue
		}
		if t.BatchID == "" || settled[t.BatchID] {
			continue
		}
		settled[t.BatchID] = true
		if err := r.settle(ctx, t.BatchID); err != nil {
			return err
		}
	}

	now := r.now()
	inst.LastResumedAt = &now
	r.emitter.EmitResumed(ctx, inst, "")
	return r.drive(ctx, inst)
}

// OnBatchCompleted records the outputs an agent reported for a batch,
// keyed by command text, and resumes the incident. A batch whose
// suspension is already resolved is ignored.
func (r *Runner) OnBatchCompleted(ctx context.Context, batchID string, results map[string]string) error {
	sp, err := r.backend.GetSuspension(ctx, batchID)
	if err != nil {
		return fmt.Errorf("batch %s: %w", batchID, err)
	}
	if sp.Resolved() {
		r.logger.Debug("duplicate batch completion ignored", slog.String("batch_id", batchID))
		return nil
	}

	unlock, err := r.locker.Lock(ctx, sp.IncidentID)
	if err != nil {
		return fmt.Errorf("lock incident %s: %w", sp.IncidentID, err)
	}
	defer unlock()

	// Re-read under the lock; a concurrent delivery may have won.
	if sp, err = r.backend.GetSuspension(ctx, batchID); err != nil {
		return fmt.Errorf("batch %s: %w", batchID, err)
	}
	if sp.Resolved() {
		r.logger.Debug("duplicate batch completion ignored", slog.String("batch_id", batchID))
		return nil
	}

	inst, err := r.backend.GetInstance(ctx, sp.IncidentID)
	if err != nil {
		return fmt.Errorf("batch %s: %w", batchID, err)
	}
	if halted, err := r.halted(ctx, inst, batchID); halted || err != nil {
		return err
	}

	for _, tid := range sp.TaskIDs {
		t, err := r.backend.GetTask(ctx, tid)
		if err != nil {
			return fmt.Errorf("load task %s: %w", tid, err)
		}
		if t.State.Terminal() {
			continue
		}
		out, ok := results[t.Command]
		if !ok {
			out = NoOutput
		}
		if err := r.backend.AddTaskOutput(ctx, t.ID, task.Truncate(out, r.config.MaxOutputBytes)); err != nil {
			return fmt.Errorf("record output of task %s: %w", t.ID, err)
		}
	}

	if err := r.resolve(ctx, sp); err != nil {
		return err
	}

	now := r.now()
	inst.LastResumedAt = &now
	r.emitter.EmitResumed(ctx, inst, batchID)
	return r.drive(ctx, inst)
}

// OnApprovalAnswered records a human answer for the question with the
// given correlation id and resumes the incident. Only the first answer is
// recorded; later ones are ignored.
func (r *Runner) OnApprovalAnswered(ctx context.Context, correlationID string, approved bool) error {
	q, err := r.backend.GetQuestionByCorrelation(ctx, correlationID)
	if err != nil {
		return fmt.Errorf("approval %s: %w", correlationID, err)
	}

	unlock, err := r.locker.Lock(ctx, q.IncidentID)
	if err != nil {
		return fmt.Errorf("lock incident %s: %w", q.IncidentID, err)
	}
	defer unlock()

	inst, err := r.backend.GetInstance(ctx, q.IncidentID)
	if err != nil {
		return fmt.Errorf("approval %s: %w", correlationID, err)
	}
	if halted, err := r.halted(ctx, inst, correlationID); halted || err != nil {
		return err
	}

	answer := approval.AnswerNo
	if approved {
		answer = approval.AnswerYes
	}
	if err := r.backend.SetQuestionResponse(ctx, q.ID, answer); err != nil {
		if errors.Is(err, manager.ErrQuestionAnswered) {
			r.logger.Debug("duplicate approval answer ignored",
				slog.String("correlation_id", correlationID),
			)
			return nil
		}
		return fmt.Errorf("record answer for %s: %w", correlationID, err)
	}
	q.Response = &answer

	if err := r.applyAnswer(ctx, q); err != nil {
		return err
	}

	now := r.now()
	inst.LastResumedAt = &now
	r.emitter.EmitResumed(ctx, inst, correlationID)
	return r.drive(ctx, inst)
}

// ResumeAll drives every instance that is not parked on an external
// actor. It is called on engine start to finish steps interrupted by a
// crash.
func (r *Runner) ResumeAll(ctx context.Context) error {
	insts, err := r.backend.ListInstances(ctx, ListOpts{Status: StatusActive})
	if err != nil {
		return fmt.Errorf("list active workflows: %w", err)
	}
	for _, inst := range insts {
		if err := r.redrive(ctx, inst.IncidentID); err != nil {
			r.logger.Error("failed to resume workflow",
				slog.String("incident_id", inst.IncidentID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (r *Runner) redrive(ctx context.Context, incidentID string) error {
	unlock, err := r.locker.Lock(ctx, incidentID)
	if err != nil {
		return err
	}
	defer unlock()

	inst, err := r.backend.GetInstance(ctx, incidentID)
	if err != nil {
		return err
	}
	if inst.Status != StatusActive {
		return nil
	}
	r.logger.Info("resuming interrupted workflow",
		slog.String("incident_id", incidentID),
		slog.String("step", string(inst.Step)),
	)
	return r.drive(ctx, inst)
}

// ──────────────────────────────────────────────────
// Driving
// ──────────────────────────────────────────────────

// drive runs steps until the instance suspends, finishes or the incident
// turns terminal. The instance is saved after every step.
func (r *Runner) drive(ctx context.Context, inst *Instance) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if inst.Status.Done() || inst.Step == StepTerminal {
			return nil
		}

		inc, err := r.backend.GetIncident(ctx, inst.IncidentID)
		if err != nil {
			return fmt.Errorf("workflow %s: %w", inst.IncidentID, err)
		}
		if inc.Terminal() {
			return r.retire(ctx, inst, inc.Status)
		}

		step := inst.Step
		fn, ok := r.steps[step]
		if !ok {
			return r.fail(ctx, inst, fmt.Errorf("unknown step %q", step))
		}

		start := r.now()
		tr, err := fn(ctx, inst, inc)
		if err != nil {
			r.emitter.EmitStepFailed(ctx, inst, step, err)
			if errors.Is(err, oracle.ErrExhausted) {
				return r.fail(ctx, inst, err)
			}
			r.logger.Error("workflow step failed",
				slog.String("incident_id", inst.IncidentID),
				slog.String("step", string(step)),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("workflow %s step %q: %w", inst.IncidentID, step, err)
		}

		if tr.next != "" && tr.next != step {
			inst.Step = tr.next
			inst.Stale = false
			inst.StaleSince = nil
		}
		switch {
		case inst.Step == StepTerminal:
			inst.Status = StatusCompleted
		case tr.suspend:
			inst.Status = StatusWaiting
		default:
			inst.Status = StatusActive
		}

		if err := r.save(ctx, inst); err != nil {
			return err
		}
		r.emitter.EmitStepCompleted(ctx, inst, step, r.now().Sub(start))

		if inst.Status == StatusCompleted {
			r.logger.Info("workflow completed", slog.String("incident_id", inst.IncidentID))
			r.emitter.EmitWorkflowCompleted(ctx, inst)
			return nil
		}
		if tr.suspend {
			return nil
		}
	}
}

// halted reports whether a callback must leave the incident untouched:
// the instance is finished or the incident was closed or ignored. A still
// running instance of a terminal incident is retired.
func (r *Runner) halted(ctx context.Context, inst *Instance, ref string) (bool, error) {
	if inst.Status.Done() {
		r.logger.Info("late callback for finished workflow ignored",
			slog.String("incident_id", inst.IncidentID),
			slog.String("ref", ref),
			slog.String("status", string(inst.Status)),
		)
		return true, nil
	}
	inc, err := r.backend.GetIncident(ctx, inst.IncidentID)
	if err != nil {
		return true, fmt.Errorf("workflow %s: %w", inst.IncidentID, err)
	}
	if !inc.Terminal() {
		return false, nil
	}
	r.logger.Info("late callback for terminal incident ignored",
		slog.String("incident_id", inst.IncidentID),
		slog.String("ref", ref),
	)
	return true, r.retire(ctx, inst, inc.Status)
}

func (r *Runner) save(ctx context.Context, inst *Instance) error {
	inst.UpdatedAt = r.now()
	if err := r.backend.UpdateInstance(ctx, inst); err != nil {
		return fmt.Errorf("save workflow %s: %w", inst.IncidentID, err)
	}
	return nil
}

// retire stops an instance whose incident became terminal. Nothing but the
// instance's own status is written.
func (r *Runner) retire(ctx context.Context, inst *Instance, status incident.Status) error {
	if inst.Status.Done() {
		return nil
	}
	r.logger.Info("incident is no longer open, workflow retired",
		slog.String("incident_id", inst.IncidentID),
		slog.String("step", string(inst.Step)),
		slog.String("incident_status", string(status)),
	)
	now := r.now()
	inst.Status = StatusRetired
	inst.RetiredAt = &now
	return r.save(ctx, inst)
}

// fail aborts an instance. The incident stays open for an operator.
func (r *Runner) fail(ctx context.Context, inst *Instance, cause error) error {
	r.logger.Error("workflow failed",
		slog.String("incident_id", inst.IncidentID),
		slog.String("step", string(inst.Step)),
		slog.String("error", cause.Error()),
	)
	inst.Status = StatusFailed
	inst.Error = cause.Error()
	if err := r.save(ctx, inst); err != nil {
		return err
	}
	r.emitter.EmitWorkflowFailed(ctx, inst, cause)
	return nil
}

// settle resolves the suspension of a batch whose tasks are all terminal.
// It serves agents that report outputs task by task.
func (r *Runner) settle(ctx context.Context, batchID string) error {
	sp, err := r.backend.GetSuspension(ctx, batchID)
	if errors.Is(err, manager.ErrSuspensionNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load suspension %s: %w", batchID, err)
	}
	if sp.Resolved() || sp.Kind != KindExecutionWait {
		return nil
	}
	for _, tid := range sp.TaskIDs {
		t, err := r.backend.GetTask(ctx, tid)
		if err != nil {
			return fmt.Errorf("load task %s: %w", tid, err)
		}
		if !t.State.Terminal() {
			return nil
		}
	}
	return r.resolve(ctx, sp)
}

// resolve clears a suspension. Losing the conditional write to another
// resolver is not an error.
func (r *Runner) resolve(ctx context.Context, sp *SuspensionPoint) error {
	if sp.Resolved() {
		return nil
	}
	now := r.now()
	if err := r.backend.ResolveSuspension(ctx, sp.Token, now); err != nil {
		if errors.Is(err, manager.ErrAlreadyResolved) {
			return nil
		}
		return fmt.Errorf("resolve suspension %s: %w", sp.Token, err)
	}
	sp.ResolvedAt = &now
	sp.Waiting = false
	sp.ExecutionComplete = true
	sp.UpdatedAt = now
	if err := r.backend.SaveSuspension(ctx, sp); err != nil {
		return fmt.Errorf("save suspension %s: %w", sp.Token, err)
	}
	return nil
}

// applyAnswer moves the task governed by an answered question out of its
// waiting state.
func (r *Runner) applyAnswer(ctx context.Context, q *approval.Question) error {
	if !q.Answered() {
		return nil
	}
	t, err := r.backend.GetTask(ctx, q.TaskID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", q.TaskID, err)
	}
	if t.State != task.StateCreated && t.State != task.StateHuman {
		return nil
	}
	if q.Approved() {
		if err := r.backend.UpdateTaskState(ctx, t.ID, task.StateApproved); err != nil {
			return fmt.Errorf("approve task %s: %w", t.ID, err)
		}
		return nil
	}
	if err := r.backend.UpdateTaskState(ctx, t.ID, task.StateRejected); err != nil {
		return fmt.Errorf("reject task %s: %w", t.ID, err)
	}
	comment := task.Comment{Author: "approval", Text: "Answered " + *q.Response, CreatedAt: r.now()}
	if err := r.backend.AddTaskComment(ctx, t.ID, comment); err != nil {
		return fmt.Errorf("comment task %s: %w", t.ID, err)
	}
	return nil
}
