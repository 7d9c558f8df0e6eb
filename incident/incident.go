// Package incident defines the incident entity, its status lifecycle and
// the store contract.
//
// An incident moves through
//
//	open → acknowledged → closed | ignored
//
// and never leaves a terminal status except to the other terminal status.
package incident

import (
	"context"

	manager "github.com/bprzybys-nc/manager-sub001"
)

// Status is the lifecycle status of an incident.
type Status string

const (
	StatusOpen         Status = "open"
	StatusAcknowledged Status = "acknowledged"
	StatusClosed       Status = "closed"
	StatusIgnored      Status = "ignored"
)

// Terminal reports whether the status is closed or ignored.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusIgnored
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusAcknowledged, StatusClosed, StatusIgnored:
		return true
	}
	return false
}

// CanTransition reports whether an incident in status from may move to
// status to. Terminal statuses only move to another terminal status, and
// an acknowledged incident does not reopen.
func CanTransition(from, to Status) bool {
	if !to.Valid() {
		return false
	}
	if from.Terminal() {
		return to.Terminal()
	}
	if from == StatusAcknowledged && to == StatusOpen {
		return false
	}
	return true
}

// Type is the detected anomaly kind.
type Type string

const (
	TypeLowFreeSpace Type = "low_free_space"
	TypeHighCPUUsage Type = "high_cpu_usage"
	TypeOther        Type = "other"
)

// Incident is a detected problem requiring diagnosis and remediation.
type Incident struct {
	manager.Entity `bson:",inline"`

	ID          string         `json:"id" bson:"_id"`
	InstanceID  string         `json:"instance_id" bson:"instance_id"`
	Hostname    string         `json:"hostname" bson:"hostname"`
	Type        Type           `json:"type" bson:"type"`
	Status      Status         `json:"status" bson:"status"`
	Description string         `json:"description" bson:"description"`
	Data        map[string]any `json:"data,omitempty" bson:"data,omitempty"`
	ThreadID    string         `json:"thread_id,omitempty" bson:"thread_id,omitempty"`
}

// Terminal reports whether the incident is closed or ignored.
func (i *Incident) Terminal() bool { return i.Status.Terminal() }

// ListOpts controls filtering and pagination for incident listings.
type ListOpts struct {
	// Status filters by status. Empty means all.
	Status Status
	// Limit is the maximum number of incidents to return. Zero means no limit.
	Limit int
	// Offset is the number of incidents to skip.
	Offset int
}

// Store defines the persistence contract for incidents.
type Store interface {
	// CreateIncident persists a new incident. Returns
	// manager.ErrIncidentExists if the ID is taken.
	CreateIncident(ctx context.Context, inc *Incident) error

	// GetIncident retrieves an incident by ID.
	GetIncident(ctx context.Context, incidentID string) (*Incident, error)

	// UpdateIncidentStatus moves an incident to a new status. The write
	// is conditional on CanTransition holding for the stored status;
	// otherwise manager.ErrInvalidTransition is returned and nothing changes.
	UpdateIncidentStatus(ctx context.Context, incidentID string, status Status) error

	// SetIncidentThread records the chat thread the incident is narrated in.
	SetIncidentThread(ctx context.Context, incidentID, threadID string) error

	// ListIncidents returns incidents ordered by creation time, newest first.
	ListIncidents(ctx context.Context, opts ListOpts) ([]*Incident, error)
}
