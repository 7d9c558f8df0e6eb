package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	manager "github.com/bprzybys-nc/manager-sub001"
	"github.com/bprzybys-nc/manager-sub001/task"
)

const taskColumns = `id, incident_id, instance_id, batch_id, kind, purpose, command, platform, reason,
	state, output, comments, created_at, updated_at`

const batchColumns = `id, incident_id, task_ids, visible, created_at`

// CreateTask persists a new task.
func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	comments, err := json.Marshal(nonNilComments(t.Comments))
	if err != nil {
		return fmt.Errorf("manager/postgres: marshal task comments: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		t.ID, t.IncidentID, t.InstanceID, t.BatchID, string(t.Kind), string(t.Purpose),
		t.Command, t.Platform, t.Reason, string(t.State), t.Output, comments,
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return manager.ErrTaskExists
		}
		return fmt.Errorf("manager/postgres: create task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, taskID string) (*task.Task, error) {
	t, err := scanTask(s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, taskID))
	if err != nil {
		if isNoRows(err) {
			return nil, manager.ErrTaskNotFound
		}
		return nil, fmt.Errorf("manager/postgres: get task: %w", err)
	}
	return t, nil
}

// ListTasksByIncident returns an incident's tasks in creation order.
func (s *Store) ListTasksByIncident(ctx context.Context, incidentID string, states ...task.State) ([]*task.Task, error) {
	var w where
	w.add("incident_id = ?", incidentID)
	if len(states) > 0 {
		names := make([]string, len(states))
		for i, st := range states {
			names[i] = string(st)
		}
		w.add("state = ANY(?)", names)
	}
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks`+w.String()+` ORDER BY created_at, id`, w.args...)
}

// ListTasksByBatch returns the tasks of a batch in creation order.
func (s *Store) ListTasksByBatch(ctx context.Context, batchID string) ([]*task.Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE batch_id = $1 ORDER BY created_at, id`, batchID)
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]*task.Task, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("manager/postgres: list tasks: %w", err)
	}
	defer rows.Close()

	var out []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("manager/postgres: scan task row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("manager/postgres: iterate task rows: %w", err)
	}
	return out, nil
}

func (s *Store) execTask(ctx context.Context, op, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("manager/postgres: %s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return manager.ErrTaskNotFound
	}
	return nil
}

// UpdateTaskState sets a task's state.
func (s *Store) UpdateTaskState(ctx context.Context, taskID string, state task.State) error {
	return s.execTask(ctx, "update task state",
		`UPDATE tasks SET state = $2, updated_at = NOW() WHERE id = $1`,
		taskID, string(state),
	)
}

// AddTaskOutput records output and completes the task.
func (s *Store) AddTaskOutput(ctx context.Context, taskID, output string) error {
	return s.execTask(ctx, "add task output",
		`UPDATE tasks SET output = $2, state = $3, updated_at = NOW() WHERE id = $1`,
		taskID, output, string(task.StateCompleted),
	)
}

// AddTaskComment appends a comment to a task.
func (s *Store) AddTaskComment(ctx context.Context, taskID string, c task.Comment) error {
	data, err := json.Marshal([]task.Comment{c})
	if err != nil {
		return fmt.Errorf("manager/postgres: marshal task comment: %w", err)
	}
	return s.execTask(ctx, "add task comment",
		`UPDATE tasks SET comments = comments || $2::jsonb, updated_at = NOW() WHERE id = $1`,
		taskID, data,
	)
}

// CreateBatch persists a new batch.
func (s *Store) CreateBatch(ctx context.Context, b *task.Batch) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO batches (`+batchColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		b.ID, b.IncidentID, nonNilStrings(b.TaskIDs), b.Visible, b.CreatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return manager.ErrBatchExists
		}
		return fmt.Errorf("manager/postgres: create batch: %w", err)
	}
	return nil
}

// GetBatch retrieves a batch by ID.
func (s *Store) GetBatch(ctx context.Context, batchID string) (*task.Batch, error) {
	b, err := scanBatch(s.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = $1`, batchID))
	if err != nil {
		if isNoRows(err) {
			return nil, manager.ErrBatchNotFound
		}
		return nil, fmt.Errorf("manager/postgres: get batch: %w", err)
	}
	return b, nil
}

// GetVisibleBatch returns the oldest visible batch of an incident.
func (s *Store) GetVisibleBatch(ctx context.Context, incidentID string) (*task.Batch, error) {
	b, err := scanBatch(s.pool.QueryRow(ctx, `
		SELECT `+batchColumns+` FROM batches
		WHERE incident_id = $1 AND visible
		ORDER BY created_at, id
		LIMIT 1`,
		incidentID,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, manager.ErrBatchNotFound
		}
		return nil, fmt.Errorf("manager/postgres: get visible batch: %w", err)
	}
	return b, nil
}

// HideBatch claims a visible batch with a single conditional update.
func (s *Store) HideBatch(ctx context.Context, incidentID, batchID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE batches SET visible = FALSE WHERE id = $1 AND incident_id = $2 AND visible`,
		batchID, incidentID,
	)
	if err != nil {
		return fmt.Errorf("manager/postgres: hide batch: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM batches WHERE id = $1 AND incident_id = $2)`,
		batchID, incidentID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("manager/postgres: hide batch: %w", err)
	}
	if !exists {
		return manager.ErrBatchNotFound
	}
	return manager.ErrBatchClaimed
}

func scanTask(row pgx.Row) (*task.Task, error) {
	var (
		t                    task.Task
		kind, purpose, state string
		comments             []byte
	)
	err := row.Scan(
		&t.ID, &t.IncidentID, &t.InstanceID, &t.BatchID, &kind, &purpose,
		&t.Command, &t.Platform, &t.Reason, &state, &t.Output, &comments,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Kind = task.Kind(kind)
	t.Purpose = task.Purpose(purpose)
	t.State = task.State(state)
	if len(comments) > 0 {
		if err := json.Unmarshal(comments, &t.Comments); err != nil {
			return nil, fmt.Errorf("unmarshal comments of %s: %w", t.ID, err)
		}
	}
	if len(t.Comments) == 0 {
		t.Comments = nil
	}
	return &t, nil
}

func scanBatch(row pgx.Row) (*task.Batch, error) {
	var b task.Batch
	if err := row.Scan(&b.ID, &b.IncidentID, &b.TaskIDs, &b.Visible, &b.CreatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func nonNilComments(cs []task.Comment) []task.Comment {
	if cs == nil {
		return []task.Comment{}
	}
	return cs
}

func nonNilStrings(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
