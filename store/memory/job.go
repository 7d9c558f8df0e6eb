package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	manager "github.com/bprzybys-nc/manager-sub001"
	"github.com/bprzybys-nc/manager-sub001/id"
	"github.com/bprzybys-nc/manager-sub001/job"
)

func cloneJob(j *job.Job) *job.Job {
	cp := *j
	cp.Payload = slices.Clone(j.Payload)
	return &cp
}

// EnqueueJob persists a new job in pending state.
func (m *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return manager.ErrJobAlreadyExists
	}
	m.jobs[key] = cloneJob(j)
	return nil
}

// DequeueJobs claims up to limit runnable jobs, skipping busy incidents.
// At most one job per incident is claimed per call.
func (m *Store) DequeueJobs(_ context.Context, queues []string, busy []string, limit int) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := now()
	var candidates []*job.Job
	for _, j := range m.jobs {
		if j.State != job.StatePending && j.State != job.StateRetrying {
			continue
		}
		if !j.RunAt.IsZero() && j.RunAt.After(t) {
			continue
		}
		if len(queues) > 0 && !slices.Contains(queues, j.Queue) {
			continue
		}
		if j.IncidentID != "" && slices.Contains(busy, j.IncidentID) {
			continue
		}
		candidates = append(candidates, j)
	}

	// Priority DESC, RunAt ASC, then creation order.
	sort.Slice(candidates, func(i, k int) bool {
		a, b := candidates[i], candidates[k]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.RunAt.Equal(b.RunAt) {
			return a.RunAt.Before(b.RunAt)
		}
		return a.ID.String() < b.ID.String()
	})

	claimed := make(map[string]bool)
	var out []*job.Job
	for _, j := range candidates {
		if limit > 0 && len(out) >= limit {
			break
		}
		if j.IncidentID != "" {
			if claimed[j.IncidentID] {
				continue
			}
			claimed[j.IncidentID] = true
		}
		started := t
		j.State = job.StateRunning
		j.StartedAt = &started
		j.HeartbeatAt = &started
		out = append(out, cloneJob(j))
	}
	return out, nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, manager.ErrJobNotFound
	}
	return cloneJob(j), nil
}

// UpdateJob persists changes to an existing job.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, ok := m.jobs[key]; !ok {
		return manager.ErrJobNotFound
	}
	cp := cloneJob(j)
	cp.UpdatedAt = now()
	m.jobs[key] = cp
	return nil
}

// DeleteJob removes a job by ID.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return manager.ErrJobNotFound
	}
	delete(m.jobs, key)
	return nil
}

// ListJobsByState returns jobs in a state, oldest first.
func (m *Store) ListJobsByState(_ context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*job.Job
	for _, j := range m.jobs {
		if j.State != state {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.IncidentID != "" && j.IncidentID != opts.IncidentID {
			continue
		}
		out = append(out, cloneJob(j))
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return page(out, opts.Offset, opts.Limit), nil
}

// HeartbeatJob refreshes a running job's heartbeat.
func (m *Store) HeartbeatJob(_ context.Context, jobID id.JobID, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return manager.ErrJobNotFound
	}
	t := now()
	j.HeartbeatAt = &t
	j.WorkerID = workerID
	return nil
}

// ReapStaleJobs returns running jobs whose heartbeat is older than
// threshold.
func (m *Store) ReapStaleJobs(_ context.Context, threshold time.Duration) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := now().Add(-threshold)
	var stale []*job.Job
	for _, j := range m.jobs {
		if j.State != job.StateRunning {
			continue
		}
		last := j.HeartbeatAt
		if last == nil {
			last = j.StartedAt
		}
		if last != nil && last.Before(cutoff) {
			stale = append(stale, cloneJob(j))
		}
	}
	return stale, nil
}

// CountJobs returns the number of jobs matching opts.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, j := range m.jobs {
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		count++
	}
	return count, nil
}
