package memory

import (
	"context"
	"sort"
	"time"

	manager "github.com/bprzybys-nc/manager-sub001"
	"github.com/bprzybys-nc/manager-sub001/approval"
)

func cloneQuestion(q *approval.Question) *approval.Question {
	cp := *q
	return &cp
}

// CreateQuestion persists a new question. Task and correlation id are
// unique, mirroring the unique indexes of the database backends.
func (m *Store) CreateQuestion(_ context.Context, q *approval.Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.questions[q.ID]; exists {
		return manager.ErrQuestionExists
	}
	for _, other := range m.questions {
		if other.TaskID == q.TaskID || other.CorrelationID == q.CorrelationID {
			return manager.ErrQuestionExists
		}
	}
	m.questions[q.ID] = cloneQuestion(q)
	return nil
}

// GetQuestion retrieves a question by ID.
func (m *Store) GetQuestion(_ context.Context, questionID string) (*approval.Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q, ok := m.questions[questionID]
	if !ok {
		return nil, manager.ErrQuestionNotFound
	}
	return cloneQuestion(q), nil
}

// GetQuestionByTask retrieves the question of a task.
func (m *Store) GetQuestionByTask(_ context.Context, taskID string) (*approval.Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, q := range m.questions {
		if q.TaskID == taskID {
			return cloneQuestion(q), nil
		}
	}
	return nil, manager.ErrQuestionNotFound
}

// GetQuestionByCorrelation retrieves a question by correlation id.
func (m *Store) GetQuestionByCorrelation(_ context.Context, correlationID string) (*approval.Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, q := range m.questions {
		if q.CorrelationID == correlationID {
			return cloneQuestion(q), nil
		}
	}
	return nil, manager.ErrQuestionNotFound
}

// MarkQuestionSent records the send time.
func (m *Store) MarkQuestionSent(_ context.Context, questionID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.questions[questionID]
	if !ok {
		return manager.ErrQuestionNotFound
	}
	q.SentAt = &at
	return nil
}

// SetQuestionResponse records the first answer to a question.
func (m *Store) SetQuestionResponse(_ context.Context, questionID, response string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.questions[questionID]
	if !ok {
		return manager.ErrQuestionNotFound
	}
	if q.Response != nil {
		return manager.ErrQuestionAnswered
	}
	at := now()
	q.Response = &response
	q.AnsweredAt = &at
	return nil
}

// ListQuestionsByIncident returns an incident's questions oldest first.
func (m *Store) ListQuestionsByIncident(_ context.Context, incidentID string) ([]*approval.Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*approval.Question
	for _, q := range m.questions {
		if q.IncidentID == incidentID {
			out = append(out, cloneQuestion(q))
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return out, nil
}
