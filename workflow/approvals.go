package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	manager "github.com/bprzybys-nc/manager-sub001"
	"github.com/bprzybys-nc/manager-sub001/approval"
	"github.com/bprzybys-nc/manager-sub001/id"
	"github.com/bprzybys-nc/manager-sub001/incident"
	"github.com/bprzybys-nc/manager-sub001/task"
)

// reconcileRemediation brings one remediation forward from whatever its
// task, question and suspension currently record. It reports true once
// the remediation has a result.
func (r *Runner) reconcileRemediation(ctx context.Context, inst *Instance, inc *incident.Incident, rm *Remediation) (bool, error) {
	t, err := r.remediationTask(ctx, inc, rm)
	if err != nil {
		return false, err
	}
	sp, err := r.approvalWait(ctx, inc, rm)
	if err != nil {
		return false, err
	}

	switch t.State {
	case task.StateCompleted:
		out := NoOutput
		if t.Output != nil && *t.Output != "" {
			out = *t.Output
		}
		rm.Result = &out
		return true, r.resolve(ctx, sp)
	case task.StateRejected:
		out := RejectedOutput
		rm.Result = &out
		return true, r.resolve(ctx, sp)
	}

	q, err := r.question(ctx, inc, rm)
	if err != nil {
		return false, err
	}
	if q.SentAt == nil {
		if err := r.ask(ctx, inst, inc, rm, t, q, sp); err != nil {
			return false, err
		}
	}
	if !q.Answered() {
		return false, nil
	}

	if err := r.applyAnswer(ctx, q); err != nil {
		return false, err
	}
	if !q.Approved() {
		out := RejectedOutput
		rm.Result = &out
		return true, r.resolve(ctx, sp)
	}

	if sp.DispatchedAt == nil || !sp.Waiting {
		if !sp.BatchCreated {
			if err := r.ensureBatch(ctx, inc.ID, rm.CorrelationID, []string{rm.TaskID}); err != nil {
				return false, err
			}
			sp.BatchCreated = true
			sp.Preparing = true
			sp.UpdatedAt = r.now()
			if err := r.backend.SaveSuspension(ctx, sp); err != nil {
				return false, fmt.Errorf("save suspension %s: %w", sp.Token, err)
			}
		}
		if err := r.dispatch(ctx, inc, sp); err != nil {
			return false, err
		}
	}
	return false, nil
}

// remediationTask loads or creates the task of a remediation. Remediation
// tasks start created and are batched under their correlation id.
func (r *Runner) remediationTask(ctx context.Context, inc *incident.Incident, rm *Remediation) (*task.Task, error) {
	t, err := r.backend.GetTask(ctx, rm.TaskID)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, manager.ErrTaskNotFound) {
		return nil, fmt.Errorf("load task %s: %w", rm.TaskID, err)
	}
	t = &task.Task{
		Entity:     manager.NewEntity(),
		ID:         rm.TaskID,
		IncidentID: inc.ID,
		InstanceID: inc.InstanceID,
		BatchID:    rm.CorrelationID,
		Kind:       kindFor(rm.Platform),
		Purpose:    task.PurposeFix,
		Command:    rm.Command,
		Platform:   string(rm.Platform),
		Reason:     rm.Reason,
		State:      task.StateCreated,
	}
	if err := r.backend.CreateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("create task %s: %w", rm.TaskID, err)
	}
	return t, nil
}

func (r *Runner) approvalWait(ctx context.Context, inc *incident.Incident, rm *Remediation) (*SuspensionPoint, error) {
	sp, err := r.backend.GetSuspension(ctx, rm.CorrelationID)
	if err == nil {
		return sp, nil
	}
	if !errors.Is(err, manager.ErrSuspensionNotFound) {
		return nil, fmt.Errorf("load suspension %s: %w", rm.CorrelationID, err)
	}
	now := r.now()
	sp = &SuspensionPoint{
		Token:      rm.CorrelationID,
		IncidentID: inc.ID,
		Kind:       KindApprovalWait,
		TaskIDs:    []string{rm.TaskID},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.backend.SaveSuspension(ctx, sp); err != nil {
		return nil, fmt.Errorf("save suspension %s: %w", sp.Token, err)
	}
	return sp, nil
}

// question returns the question governing a remediation, inserting it on
// first use. A concurrent insert losing on the store's uniqueness guard
// reads back the winner instead of creating a second record.
func (r *Runner) question(ctx context.Context, inc *incident.Incident, rm *Remediation) (*approval.Question, error) {
	q, err := r.backend.GetQuestionByTask(ctx, rm.TaskID)
	if err == nil {
		return q, nil
	}
	if !errors.Is(err, manager.ErrQuestionNotFound) {
		return nil, fmt.Errorf("load question for %s: %w", rm.TaskID, err)
	}
	q = &approval.Question{
		ID:            r.newID(id.PrefixQuestion),
		IncidentID:    inc.ID,
		TaskID:        rm.TaskID,
		CorrelationID: rm.CorrelationID,
		ThreadID:      inc.ThreadID,
		Kind:          approval.KindYesNo,
		Text:          approval.DefaultPrompt,
		CreatedAt:     r.now(),
	}
	if err := r.backend.CreateQuestion(ctx, q); err != nil {
		if errors.Is(err, manager.ErrQuestionExists) {
			return r.backend.GetQuestionByTask(ctx, rm.TaskID)
		}
		return nil, fmt.Errorf("create question for %s: %w", rm.TaskID, err)
	}
	return q, nil
}

// ask posts the remediation context and relays the question. A gateway
// failure leaves the question unsent so the next resume retries it.
func (r *Runner) ask(
	ctx context.Context,
	inst *Instance,
	inc *incident.Incident,
	rm *Remediation,
	t *task.Task,
	q *approval.Question,
	sp *SuspensionPoint,
) error {
	r.narrate(ctx, inc, approvalContextMessage(inst, rm))
	if err := r.gateway.Ask(ctx, q.CorrelationID, inc.ThreadID, q.Text); err != nil {
		r.logger.Error("approval question not delivered",
			slog.String("incident_id", inc.ID),
			slog.String("correlation_id", q.CorrelationID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	now := r.now()
	if err := r.backend.MarkQuestionSent(ctx, q.ID, now); err != nil {
		return fmt.Errorf("mark question %s sent: %w", q.ID, err)
	}
	q.SentAt = &now

	if t.State == task.StateCreated {
		if err := r.backend.UpdateTaskState(ctx, t.ID, task.StateHuman); err != nil {
			return fmt.Errorf("hand task %s to human: %w", t.ID, err)
		}
		t.State = task.StateHuman
	}

	sp.UpdatedAt = now
	if err := r.backend.SaveSuspension(ctx, sp); err != nil {
		return fmt.Errorf("save suspension %s: %w", sp.Token, err)
	}
	r.emitter.EmitSuspended(ctx, inst, sp)
	return nil
}
