package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SweepStale flags waiting instances whose suspension has outlived its
// configured wait. Flagged instances keep waiting; the flag only draws an
// operator's attention and is cleared when the instance advances. It
// returns how many instances were newly flagged.
func (r *Runner) SweepStale(ctx context.Context) (int, error) {
	insts, err := r.backend.ListInstances(ctx, ListOpts{Status: StatusWaiting})
	if err != nil {
		return 0, fmt.Errorf("list waiting workflows: %w", err)
	}

	now := r.now()
	flagged := 0
	for _, inst := range insts {
		if inst.Stale {
			continue
		}
		open, err := r.backend.ListSuspensions(ctx, inst.IncidentID, true)
		if err != nil {
			return flagged, fmt.Errorf("list suspensions of %s: %w", inst.IncidentID, err)
		}
		for _, sp := range open {
			if !r.overdue(sp, now) {
				continue
			}
			ok, err := r.flagStale(ctx, inst.IncidentID, sp, now)
			if err != nil {
				r.logger.Error("failed to flag stale workflow",
					slog.String("incident_id", inst.IncidentID),
					slog.String("error", err.Error()),
				)
			}
			if ok {
				flagged++
			}
			break
		}
	}
	return flagged, nil
}

// overdue reports whether a suspension waited longer than allowed. A
// dispatched batch is measured from its dispatch, an unanswered question
// from its creation.
func (r *Runner) overdue(sp *SuspensionPoint, now time.Time) bool {
	since, limit := sp.CreatedAt, r.config.ExecutionWaitTimeout
	switch {
	case sp.DispatchedAt != nil:
		since = *sp.DispatchedAt
	case sp.Kind == KindApprovalWait:
		limit = r.config.ApprovalWaitTimeout
	}
	return limit > 0 && now.Sub(since) > limit
}

func (r *Runner) flagStale(ctx context.Context, incidentID string, sp *SuspensionPoint, now time.Time) (bool, error) {
	unlock, err := r.locker.Lock(ctx, incidentID)
	if err != nil {
		return false, err
	}
	defer unlock()

	inst, err := r.backend.GetInstance(ctx, incidentID)
	if err != nil {
		return false, err
	}
	if inst.Stale || inst.Status != StatusWaiting {
		return false, nil
	}
	inst.Stale = true
	inst.StaleSince = &now
	if err := r.save(ctx, inst); err != nil {
		return false, err
	}

	r.logger.Warn("workflow is stale",
		slog.String("incident_id", incidentID),
		slog.String("step", string(inst.Step)),
		slog.String("token", sp.Token),
		slog.String("kind", string(sp.Kind)),
	)
	r.emitter.EmitIncidentStale(ctx, inst, sp)
	return true, nil
}
