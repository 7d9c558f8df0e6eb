package memory

import (
	"context"
	"encoding/json"
	"slices"
	"sort"
	"time"

	manager "github.com/bprzybys-nc/manager-sub001"
	"github.com/bprzybys-nc/manager-sub001/workflow"
)

// cloneInstance deep-copies an instance. The payload nests pointers and
// slices several levels down, so a JSON round trip is the simplest exact
// copy.
func cloneInstance(inst *workflow.Instance) *workflow.Instance {
	data, err := json.Marshal(inst)
	if err != nil {
		panic("memory: clone workflow instance: " + err.Error())
	}
	var cp workflow.Instance
	if err := json.Unmarshal(data, &cp); err != nil {
		panic("memory: clone workflow instance: " + err.Error())
	}
	cp.Entity = inst.Entity
	return &cp
}

func cloneSuspension(sp *workflow.SuspensionPoint) *workflow.SuspensionPoint {
	cp := *sp
	cp.TaskIDs = slices.Clone(sp.TaskIDs)
	return &cp
}

// CreateInstance persists a new instance.
func (m *Store) CreateInstance(_ context.Context, inst *workflow.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.instances[inst.IncidentID]; exists {
		return manager.ErrWorkflowExists
	}
	if inst.Revision == 0 {
		inst.Revision = 1
	}
	m.instances[inst.IncidentID] = cloneInstance(inst)
	return nil
}

// GetInstance retrieves the instance of an incident.
func (m *Store) GetInstance(_ context.Context, incidentID string) (*workflow.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.instances[incidentID]
	if !ok {
		return nil, manager.ErrWorkflowNotFound
	}
	return cloneInstance(inst), nil
}

// UpdateInstance writes inst when its revision matches the stored one.
func (m *Store) UpdateInstance(_ context.Context, inst *workflow.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.instances[inst.IncidentID]
	if !ok {
		return manager.ErrWorkflowNotFound
	}
	if cur.Revision != inst.Revision {
		return manager.ErrRevisionConflict
	}
	inst.Revision++
	m.instances[inst.IncidentID] = cloneInstance(inst)
	return nil
}

// ListInstances returns instances oldest first.
func (m *Store) ListInstances(_ context.Context, opts workflow.ListOpts) ([]*workflow.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*workflow.Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		if opts.Status != "" && inst.Status != opts.Status {
			continue
		}
		out = append(out, cloneInstance(inst))
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].IncidentID < out[k].IncidentID
		}
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return page(out, opts.Offset, opts.Limit), nil
}

// SaveSuspension creates or replaces a suspension point. A resolved point
// stays resolved.
func (m *Store) SaveSuspension(_ context.Context, sp *workflow.SuspensionPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := cloneSuspension(sp)
	if cur, ok := m.suspensions[sp.Token]; ok && cur.ResolvedAt != nil && cp.ResolvedAt == nil {
		cp.ResolvedAt = cur.ResolvedAt
	}
	m.suspensions[sp.Token] = cp
	return nil
}

// GetSuspension retrieves a suspension point by token.
func (m *Store) GetSuspension(_ context.Context, token string) (*workflow.SuspensionPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sp, ok := m.suspensions[token]
	if !ok {
		return nil, manager.ErrSuspensionNotFound
	}
	return cloneSuspension(sp), nil
}

// ListSuspensions returns an incident's suspension points oldest first.
func (m *Store) ListSuspensions(_ context.Context, incidentID string, unresolvedOnly bool) ([]*workflow.SuspensionPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*workflow.SuspensionPoint
	for _, sp := range m.suspensions {
		if sp.IncidentID != incidentID {
			continue
		}
		if unresolvedOnly && sp.ResolvedAt != nil {
			continue
		}
		out = append(out, cloneSuspension(sp))
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].Token < out[k].Token
		}
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return out, nil
}

// ResolveSuspension resolves a point exactly once.
func (m *Store) ResolveSuspension(_ context.Context, token string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sp, ok := m.suspensions[token]
	if !ok {
		return manager.ErrSuspensionNotFound
	}
	if sp.ResolvedAt != nil {
		return manager.ErrAlreadyResolved
	}
	sp.ResolvedAt = &at
	sp.UpdatedAt = at
	return nil
}
