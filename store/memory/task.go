package memory

import (
	"context"
	"slices"
	"sort"

	manager "github.com/bprzybys-nc/manager-sub001"
	"github.com/bprzybys-nc/manager-sub001/task"
)

func cloneTask(t *task.Task) *task.Task {
	cp := *t
	cp.Comments = slices.Clone(t.Comments)
	if t.Output != nil {
		out := *t.Output
		cp.Output = &out
	}
	return &cp
}

func cloneBatch(b *task.Batch) *task.Batch {
	cp := *b
	cp.TaskIDs = slices.Clone(b.TaskIDs)
	return &cp
}

// CreateTask persists a new task.
func (m *Store) CreateTask(_ context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tasks[t.ID]; exists {
		return manager.ErrTaskExists
	}
	m.tasks[t.ID] = cloneTask(t)
	m.taskOrder = append(m.taskOrder, t.ID)
	return nil
}

// GetTask retrieves a task by ID.
func (m *Store) GetTask(_ context.Context, taskID string) (*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[taskID]
	if !ok {
		return nil, manager.ErrTaskNotFound
	}
	return cloneTask(t), nil
}

// ListTasksByIncident returns an incident's tasks in creation order.
func (m *Store) ListTasksByIncident(_ context.Context, incidentID string, states ...task.State) ([]*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*task.Task
	for _, tid := range m.taskOrder {
		t := m.tasks[tid]
		if t.IncidentID != incidentID {
			continue
		}
		if len(states) > 0 && !slices.Contains(states, t.State) {
			continue
		}
		out = append(out, cloneTask(t))
	}
	return out, nil
}

// ListTasksByBatch returns the tasks of a batch in creation order.
func (m *Store) ListTasksByBatch(_ context.Context, batchID string) ([]*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*task.Task
	for _, tid := range m.taskOrder {
		if t := m.tasks[tid]; t.BatchID == batchID {
			out = append(out, cloneTask(t))
		}
	}
	return out, nil
}

// UpdateTaskState sets a task's state.
func (m *Store) UpdateTaskState(_ context.Context, taskID string, state task.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok {
		return manager.ErrTaskNotFound
	}
	t.State = state
	t.UpdatedAt = now()
	return nil
}

// AddTaskOutput records output and completes the task.
func (m *Store) AddTaskOutput(_ context.Context, taskID, output string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok {
		return manager.ErrTaskNotFound
	}
	t.Output = &output
	t.State = task.StateCompleted
	t.UpdatedAt = now()
	return nil
}

// AddTaskComment appends a comment to a task.
func (m *Store) AddTaskComment(_ context.Context, taskID string, c task.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok {
		return manager.ErrTaskNotFound
	}
	t.Comments = append(t.Comments, c)
	t.UpdatedAt = now()
	return nil
}

// CreateBatch persists a new batch.
func (m *Store) CreateBatch(_ context.Context, b *task.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.batches[b.ID]; exists {
		return manager.ErrBatchExists
	}
	m.batches[b.ID] = cloneBatch(b)
	return nil
}

// GetBatch retrieves a batch by ID.
func (m *Store) GetBatch(_ context.Context, batchID string) (*task.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.batches[batchID]
	if !ok {
		return nil, manager.ErrBatchNotFound
	}
	return cloneBatch(b), nil
}

// GetVisibleBatch returns the oldest visible batch of an incident.
func (m *Store) GetVisibleBatch(_ context.Context, incidentID string) (*task.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var visible []*task.Batch
	for _, b := range m.batches {
		if b.IncidentID == incidentID && b.Visible {
			visible = append(visible, b)
		}
	}
	if len(visible) == 0 {
		return nil, manager.ErrBatchNotFound
	}
	sort.Slice(visible, func(i, k int) bool {
		if visible[i].CreatedAt.Equal(visible[k].CreatedAt) {
			return visible[i].ID < visible[k].ID
		}
		return visible[i].CreatedAt.Before(visible[k].CreatedAt)
	})
	return cloneBatch(visible[0]), nil
}

// HideBatch claims a visible batch.
func (m *Store) HideBatch(_ context.Context, incidentID, batchID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[batchID]
	if !ok || b.IncidentID != incidentID {
		return manager.ErrBatchNotFound
	}
	if !b.Visible {
		return manager.ErrBatchClaimed
	}
	b.Visible = false
	return nil
}
