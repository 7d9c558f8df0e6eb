package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	manager "github.com/bprzybys-nc/manager-sub001"
	"github.com/bprzybys-nc/manager-sub001/incident"
	"github.com/bprzybys-nc/manager-sub001/task"
)

// ClosureReason enumerates why closing an incident was refused.
type ClosureReason string

const (
	ReasonPendingTasks            ClosureReason = "pending_tasks"
	ReasonExecutingTasks          ClosureReason = "executing_tasks"
	ReasonUnresolvedBatch         ClosureReason = "unresolved_batch"
	ReasonIncidentNotFound        ClosureReason = "incident_not_found"
	ReasonAlreadyTerminal         ClosureReason = "already_terminal"
	ReasonInsufficientDiagnostics ClosureReason = "insufficient_diagnostics"
)

// ClosureError is returned when an incident may not be closed.
type ClosureError struct {
	IncidentID string
	Reason     ClosureReason
	Detail     string
}

func (e *ClosureError) Error() string {
	return fmt.Sprintf("closure of %s refused: %s: %s", e.IncidentID, e.Reason, e.Detail)
}

// ReasonOf returns the closure reason carried by err, if any.
func ReasonOf(err error) (ClosureReason, bool) {
	var ce *ClosureError
	if errors.As(err, &ce) {
		return ce.Reason, true
	}
	return "", false
}

// CloseIncident closes an incident on operator request. Closure is
// refused with a *ClosureError while tasks await review or execution, or
// a batch is unresolved; the incident is then left unchanged.
func (r *Runner) CloseIncident(ctx context.Context, incidentID string) error {
	unlock, err := r.locker.Lock(ctx, incidentID)
	if err != nil {
		return fmt.Errorf("lock incident %s: %w", incidentID, err)
	}
	defer unlock()

	inc, err := r.backend.GetIncident(ctx, incidentID)
	if err != nil {
		if errors.Is(err, manager.ErrIncidentNotFound) {
			return r.refuse(ctx, &ClosureError{IncidentID: incidentID, Reason: ReasonIncidentNotFound, Detail: "no such incident"})
		}
		return fmt.Errorf("load incident %s: %w", incidentID, err)
	}
	if inc.Terminal() {
		return r.refuse(ctx, &ClosureError{
			IncidentID: incidentID,
			Reason:     ReasonAlreadyTerminal,
			Detail:     "incident is already " + string(inc.Status),
		})
	}
	cerr, err := r.guard(ctx, inc, true)
	if err != nil {
		return err
	}
	if cerr != nil {
		return r.refuse(ctx, cerr)
	}

	if err := r.backend.UpdateIncidentStatus(ctx, incidentID, incident.StatusClosed); err != nil {
		if errors.Is(err, manager.ErrInvalidTransition) {
			return r.refuse(ctx, &ClosureError{IncidentID: incidentID, Reason: ReasonAlreadyTerminal, Detail: err.Error()})
		}
		return fmt.Errorf("close incident %s: %w", incidentID, err)
	}
	if err := r.retireInstance(ctx, incidentID, incident.StatusClosed); err != nil {
		return err
	}

	r.logger.Info("incident closed by operator", slog.String("incident_id", incidentID))
	r.narrate(ctx, inc, noticeMessage("Incident closed by an operator."))
	r.emitter.EmitIncidentClosed(ctx, incidentID, true)
	return nil
}

// IgnoreIncident marks an incident ignored and retires its workflow.
func (r *Runner) IgnoreIncident(ctx context.Context, incidentID string) error {
	unlock, err := r.locker.Lock(ctx, incidentID)
	if err != nil {
		return fmt.Errorf("lock incident %s: %w", incidentID, err)
	}
	defer unlock()

	inc, err := r.backend.GetIncident(ctx, incidentID)
	if err != nil {
		return fmt.Errorf("load incident %s: %w", incidentID, err)
	}
	if err := r.backend.UpdateIncidentStatus(ctx, incidentID, incident.StatusIgnored); err != nil {
		return fmt.Errorf("ignore incident %s: %w", incidentID, err)
	}
	if err := r.retireInstance(ctx, incidentID, incident.StatusIgnored); err != nil {
		return err
	}
	r.narrate(ctx, inc, noticeMessage("Incident ignored by an operator."))
	return nil
}

func (r *Runner) retireInstance(ctx context.Context, incidentID string, status incident.Status) error {
	inst, err := r.backend.GetInstance(ctx, incidentID)
	if errors.Is(err, manager.ErrWorkflowNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load workflow %s: %w", incidentID, err)
	}
	return r.retire(ctx, inst, status)
}

func (r *Runner) refuse(ctx context.Context, cerr *ClosureError) error {
	r.logger.Warn("closure refused",
		slog.String("incident_id", cerr.IncidentID),
		slog.String("reason", string(cerr.Reason)),
		slog.String("detail", cerr.Detail),
	)
	r.emitter.EmitClosureRefused(ctx, cerr.IncidentID, cerr)
	return cerr
}

// guard checks the closure preconditions of an open incident. The minimum
// diagnostics rule only applies to operator closures.
func (r *Runner) guard(ctx context.Context, inc *incident.Incident, operator bool) (*ClosureError, error) {
	tasks, err := r.backend.ListTasksByIncident(ctx, inc.ID)
	if err != nil {
		return nil, fmt.Errorf("list tasks of %s: %w", inc.ID, err)
	}

	var pending, executing int
	for _, t := range tasks {
		switch t.State {
		case task.StateCreated, task.StateHuman:
			pending++
		case task.StateInProgress:
			executing++
		}
	}
	if pending > 0 {
		return &ClosureError{IncidentID: inc.ID, Reason: ReasonPendingTasks, Detail: fmt.Sprintf("%d tasks still await review", pending)}, nil
	}
	if executing > 0 {
		return &ClosureError{IncidentID: inc.ID, Reason: ReasonExecutingTasks, Detail: fmt.Sprintf("%d tasks are still executing", executing)}, nil
	}

	open, err := r.backend.ListSuspensions(ctx, inc.ID, true)
	if err != nil {
		return nil, fmt.Errorf("list suspensions of %s: %w", inc.ID, err)
	}
	for _, sp := range open {
		if sp.Kind == KindExecutionWait || sp.DispatchedAt != nil {
			return &ClosureError{IncidentID: inc.ID, Reason: ReasonUnresolvedBatch, Detail: fmt.Sprintf("batch %s is still pending execution", sp.Token)}, nil
		}
	}

	if operator && r.config.MinDiagnostics > 0 && len(tasks) < r.config.MinDiagnostics {
		return &ClosureError{
			IncidentID: inc.ID,
			Reason:     ReasonInsufficientDiagnostics,
			Detail:     fmt.Sprintf("%d tasks recorded, %d required", len(tasks), r.config.MinDiagnostics),
		}, nil
	}
	return nil, nil
}
