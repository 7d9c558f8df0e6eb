package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	manager "github.com/bprzybys-nc/manager-sub001"
	"github.com/bprzybys-nc/manager-sub001/workflow"
)

const instanceColumns = `incident_id, step, status, payload, revision, stale, stale_since, error,
	last_resumed_at, retired_at, created_at, updated_at`

const suspensionColumns = `token, incident_id, kind, task_ids, batch_created, preparing, waiting,
	execution_complete, created_at, updated_at, dispatched_at, resolved_at`

// CreateInstance persists a new instance.
func (s *Store) CreateInstance(ctx context.Context, inst *workflow.Instance) error {
	if inst.Revision == 0 {
		inst.Revision = 1
	}
	payload, err := json.Marshal(inst.Payload)
	if err != nil {
		return fmt.Errorf("manager/postgres: marshal workflow payload: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflow_instances (`+instanceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		inst.IncidentID, string(inst.Step), string(inst.Status), payload, inst.Revision,
		inst.Stale, inst.StaleSince, inst.Error, inst.LastResumedAt, inst.RetiredAt,
		inst.CreatedAt, inst.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return manager.ErrWorkflowExists
		}
		return fmt.Errorf("manager/postgres: create workflow instance: %w", err)
	}
	return nil
}

// GetInstance retrieves the instance of an incident.
func (s *Store) GetInstance(ctx context.Context, incidentID string) (*workflow.Instance, error) {
	inst, err := scanInstance(s.pool.QueryRow(ctx,
		`SELECT `+instanceColumns+` FROM workflow_instances WHERE incident_id = $1`, incidentID))
	if err != nil {
		if isNoRows(err) {
			return nil, manager.ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("manager/postgres: get workflow instance: %w", err)
	}
	return inst, nil
}

// UpdateInstance writes inst when the stored revision matches and bumps
// the revision in the same statement.
func (s *Store) UpdateInstance(ctx context.Context, inst *workflow.Instance) error {
	payload, err := json.Marshal(inst.Payload)
	if err != nil {
		return fmt.Errorf("manager/postgres: marshal workflow payload: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE workflow_instances SET
			step = $3, status = $4, payload = $5, revision = revision + 1,
			stale = $6, stale_since = $7, error = $8,
			last_resumed_at = $9, retired_at = $10, updated_at = $11
		WHERE incident_id = $1 AND revision = $2`,
		inst.IncidentID, inst.Revision,
		string(inst.Step), string(inst.Status), payload,
		inst.Stale, inst.StaleSince, inst.Error,
		inst.LastResumedAt, inst.RetiredAt, inst.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("manager/postgres: update workflow instance: %w", err)
	}
	if tag.RowsAffected() > 0 {
		inst.Revision++
		return nil
	}

	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM workflow_instances WHERE incident_id = $1)`, inst.IncidentID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("manager/postgres: update workflow instance: %w", err)
	}
	if !exists {
		return manager.ErrWorkflowNotFound
	}
	return manager.ErrRevisionConflict
}

// ListInstances returns instances oldest first.
func (s *Store) ListInstances(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Instance, error) {
	var w where
	if opts.Status != "" {
		w.add("status = ?", string(opts.Status))
	}
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances` + w.String() +
		` ORDER BY created_at, incident_id` + w.page(opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("manager/postgres: list workflow instances: %w", err)
	}
	defer rows.Close()

	var out []*workflow.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("manager/postgres: scan workflow instance row: %w", err)
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("manager/postgres: iterate workflow instance rows: %w", err)
	}
	return out, nil
}

// SaveSuspension upserts a suspension point. A resolved point keeps its
// resolution time.
func (s *Store) SaveSuspension(ctx context.Context, sp *workflow.SuspensionPoint) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workflow_suspensions (`+suspensionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (token) DO UPDATE SET
			incident_id = EXCLUDED.incident_id,
			kind = EXCLUDED.kind,
			task_ids = EXCLUDED.task_ids,
			batch_created = EXCLUDED.batch_created,
			preparing = EXCLUDED.preparing,
			waiting = EXCLUDED.waiting,
			execution_complete = EXCLUDED.execution_complete,
			updated_at = EXCLUDED.updated_at,
			dispatched_at = COALESCE(EXCLUDED.dispatched_at, workflow_suspensions.dispatched_at),
			resolved_at = COALESCE(workflow_suspensions.resolved_at, EXCLUDED.resolved_at)`,
		sp.Token, sp.IncidentID, string(sp.Kind), nonNilStrings(sp.TaskIDs),
		sp.BatchCreated, sp.Preparing, sp.Waiting, sp.ExecutionComplete,
		sp.CreatedAt, sp.UpdatedAt, sp.DispatchedAt, sp.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("manager/postgres: save suspension: %w", err)
	}
	return nil
}

// GetSuspension retrieves a suspension point by token.
func (s *Store) GetSuspension(ctx context.Context, token string) (*workflow.SuspensionPoint, error) {
	sp, err := scanSuspension(s.pool.QueryRow(ctx,
		`SELECT `+suspensionColumns+` FROM workflow_suspensions WHERE token = $1`, token))
	if err != nil {
		if isNoRows(err) {
			return nil, manager.ErrSuspensionNotFound
		}
		return nil, fmt.Errorf("manager/postgres: get suspension: %w", err)
	}
	return sp, nil
}

// ListSuspensions returns an incident's suspension points oldest first.
func (s *Store) ListSuspensions(ctx context.Context, incidentID string, unresolvedOnly bool) ([]*workflow.SuspensionPoint, error) {
	var w where
	w.add("incident_id = ?", incidentID)
	if unresolvedOnly {
		w.add("resolved_at IS NULL")
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+suspensionColumns+` FROM workflow_suspensions`+w.String()+` ORDER BY created_at, token`,
		w.args...,
	)
	if err != nil {
		return nil, fmt.Errorf("manager/postgres: list suspensions: %w", err)
	}
	defer rows.Close()

	var out []*workflow.SuspensionPoint
	for rows.Next() {
		sp, err := scanSuspension(rows)
		if err != nil {
			return nil, fmt.Errorf("manager/postgres: scan suspension row: %w", err)
		}
		out = append(out, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("manager/postgres: iterate suspension rows: %w", err)
	}
	return out, nil
}

// ResolveSuspension resolves a point exactly once.
func (s *Store) ResolveSuspension(ctx context.Context, token string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE workflow_suspensions SET resolved_at = $2, updated_at = $2
		WHERE token = $1 AND resolved_at IS NULL`,
		token, at,
	)
	if err != nil {
		return fmt.Errorf("manager/postgres: resolve suspension: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM workflow_suspensions WHERE token = $1)`, token).Scan(&exists); err != nil {
		return fmt.Errorf("manager/postgres: resolve suspension: %w", err)
	}
	if !exists {
		return manager.ErrSuspensionNotFound
	}
	return manager.ErrAlreadyResolved
}

func scanInstance(row pgx.Row) (*workflow.Instance, error) {
	var (
		inst         workflow.Instance
		step, status string
		payload      []byte
	)
	err := row.Scan(
		&inst.IncidentID, &step, &status, &payload, &inst.Revision,
		&inst.Stale, &inst.StaleSince, &inst.Error,
		&inst.LastResumedAt, &inst.RetiredAt, &inst.CreatedAt, &inst.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	inst.Step = workflow.Step(step)
	inst.Status = workflow.Status(status)
	if err := json.Unmarshal(payload, &inst.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload of %s: %w", inst.IncidentID, err)
	}
	return &inst, nil
}

func scanSuspension(row pgx.Row) (*workflow.SuspensionPoint, error) {
	var (
		sp   workflow.SuspensionPoint
		kind string
	)
	err := row.Scan(
		&sp.Token, &sp.IncidentID, &kind, &sp.TaskIDs,
		&sp.BatchCreated, &sp.Preparing, &sp.Waiting, &sp.ExecutionComplete,
		&sp.CreatedAt, &sp.UpdatedAt, &sp.DispatchedAt, &sp.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	sp.Kind = workflow.SuspensionKind(kind)
	return &sp, nil
}
