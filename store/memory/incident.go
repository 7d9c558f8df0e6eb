package memory

import (
	"context"
	"maps"
	"sort"

	manager "github.com/bprzybys-nc/manager-sub001"
	"github.com/bprzybys-nc/manager-sub001/incident"
)

func cloneIncident(inc *incident.Incident) *incident.Incident {
	cp := *inc
	cp.Data = maps.Clone(inc.Data)
	return &cp
}

// CreateIncident persists a new incident.
func (m *Store) CreateIncident(_ context.Context, inc *incident.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.incidents[inc.ID]; exists {
		return manager.ErrIncidentExists
	}
	m.incidents[inc.ID] = cloneIncident(inc)
	return nil
}

// GetIncident retrieves an incident by ID.
func (m *Store) GetIncident(_ context.Context, incidentID string) (*incident.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inc, ok := m.incidents[incidentID]
	if !ok {
		return nil, manager.ErrIncidentNotFound
	}
	return cloneIncident(inc), nil
}

// UpdateIncidentStatus moves an incident to status if the transition is
// allowed.
func (m *Store) UpdateIncidentStatus(_ context.Context, incidentID string, status incident.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inc, ok := m.incidents[incidentID]
	if !ok {
		return manager.ErrIncidentNotFound
	}
	if !incident.CanTransition(inc.Status, status) {
		return manager.ErrInvalidTransition
	}
	inc.Status = status
	inc.UpdatedAt = now()
	return nil
}

// SetIncidentThread records the incident's chat thread.
func (m *Store) SetIncidentThread(_ context.Context, incidentID, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inc, ok := m.incidents[incidentID]
	if !ok {
		return manager.ErrIncidentNotFound
	}
	inc.ThreadID = threadID
	inc.UpdatedAt = now()
	return nil
}

// ListIncidents returns incidents newest first.
func (m *Store) ListIncidents(_ context.Context, opts incident.ListOpts) ([]*incident.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*incident.Incident, 0, len(m.incidents))
	for _, inc := range m.incidents {
		if opts.Status != "" && inc.Status != opts.Status {
			continue
		}
		out = append(out, cloneIncident(inc))
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID > out[k].ID
		}
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})
	return page(out, opts.Offset, opts.Limit), nil
}
