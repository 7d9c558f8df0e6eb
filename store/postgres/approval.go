package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	manager "github.com/bprzybys-nc/manager-sub001"
	"github.com/bprzybys-nc/manager-sub001/approval"
)

const questionColumns = `id, incident_id, task_id, correlation_id, thread_id, kind, text, response,
	created_at, sent_at, answered_at`

// CreateQuestion persists a new question. The UNIQUE constraints on
// task_id and correlation_id reject a second question for a task.
func (s *Store) CreateQuestion(ctx context.Context, q *approval.Question) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO questions (`+questionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		q.ID, q.IncidentID, q.TaskID, q.CorrelationID, q.ThreadID, string(q.Kind), q.Text,
		q.Response, q.CreatedAt, q.SentAt, q.AnsweredAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return manager.ErrQuestionExists
		}
		return fmt.Errorf("manager/postgres: create question: %w", err)
	}
	return nil
}

func (s *Store) getQuestion(ctx context.Context, column, value string) (*approval.Question, error) {
	q, err := scanQuestion(s.pool.QueryRow(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE `+column+` = $1`, value))
	if err != nil {
		if isNoRows(err) {
			return nil, manager.ErrQuestionNotFound
		}
		return nil, fmt.Errorf("manager/postgres: get question: %w", err)
	}
	return q, nil
}

// GetQuestion retrieves a question by ID.
func (s *Store) GetQuestion(ctx context.Context, questionID string) (*approval.Question, error) {
	return s.getQuestion(ctx, "id", questionID)
}

// GetQuestionByTask retrieves the question of a task.
func (s *Store) GetQuestionByTask(ctx context.Context, taskID string) (*approval.Question, error) {
	return s.getQuestion(ctx, "task_id", taskID)
}

// GetQuestionByCorrelation retrieves a question by correlation id.
func (s *Store) GetQuestionByCorrelation(ctx context.Context, correlationID string) (*approval.Question, error) {
	return s.getQuestion(ctx, "correlation_id", correlationID)
}

// MarkQuestionSent records the send time.
func (s *Store) MarkQuestionSent(ctx context.Context, questionID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE questions SET sent_at = $2 WHERE id = $1`, questionID, at)
	if err != nil {
		return fmt.Errorf("manager/postgres: mark question sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return manager.ErrQuestionNotFound
	}
	return nil
}

// SetQuestionResponse records the first answer to a question.
func (s *Store) SetQuestionResponse(ctx context.Context, questionID, response string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE questions SET response = $2, answered_at = NOW()
		WHERE id = $1 AND response IS NULL`,
		questionID, response,
	)
	if err != nil {
		return fmt.Errorf("manager/postgres: set question response: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM questions WHERE id = $1)`, questionID).Scan(&exists); err != nil {
		return fmt.Errorf("manager/postgres: set question response: %w", err)
	}
	if !exists {
		return manager.ErrQuestionNotFound
	}
	return manager.ErrQuestionAnswered
}

// ListQuestionsByIncident returns an incident's questions oldest first.
func (s *Store) ListQuestionsByIncident(ctx context.Context, incidentID string) ([]*approval.Question, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+questionColumns+` FROM questions
		WHERE incident_id = $1
		ORDER BY created_at, id`,
		incidentID,
	)
	if err != nil {
		return nil, fmt.Errorf("manager/postgres: list questions: %w", err)
	}
	defer rows.Close()

	var out []*approval.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("manager/postgres: scan question row: %w", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("manager/postgres: iterate question rows: %w", err)
	}
	return out, nil
}

func scanQuestion(row pgx.Row) (*approval.Question, error) {
	var (
		q    approval.Question
		kind string
	)
	err := row.Scan(
		&q.ID, &q.IncidentID, &q.TaskID, &q.CorrelationID, &q.ThreadID, &kind, &q.Text,
		&q.Response, &q.CreatedAt, &q.SentAt, &q.AnsweredAt,
	)
	if err != nil {
		return nil, err
	}
	q.Kind = approval.Kind(kind)
	return &q, nil
}
