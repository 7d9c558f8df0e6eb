package workflow

import (
	"context"
	"time"
)

// ListOpts controls filtering and pagination for instance listings.
type ListOpts struct {
	// Status filters by status. Empty means all.
	Status Status
	// Limit is the maximum number of instances to return. Zero means no limit.
	Limit int
	// Offset is the number of instances to skip.
	Offset int
}

// Store defines the persistence contract for workflow instances and their
// suspension points.
type Store interface {
	// CreateInstance persists a new instance at revision 1. Returns
	// manager.ErrWorkflowExists if the incident already has one.
	CreateInstance(ctx context.Context, inst *Instance) error

	// GetInstance retrieves the instance of an incident. Returns
	// manager.ErrWorkflowNotFound if none exists.
	GetInstance(ctx context.Context, incidentID string) (*Instance, error)

	// UpdateInstance writes inst if the stored revision equals
	// inst.Revision, then increments inst.Revision. Otherwise it returns
	// manager.ErrRevisionConflict.
	UpdateInstance(ctx context.Context, inst *Instance) error

	// ListInstances returns instances ordered by creation time.
	ListInstances(ctx context.Context, opts ListOpts) ([]*Instance, error)

	// SaveSuspension creates or replaces a suspension point.
	SaveSuspension(ctx context.Context, sp *SuspensionPoint) error

	// GetSuspension retrieves a suspension point by token. Returns
	// manager.ErrSuspensionNotFound if none exists.
	GetSuspension(ctx context.Context, token string) (*SuspensionPoint, error)

	// ListSuspensions returns the suspension points of an incident,
	// optionally only unresolved ones.
	ListSuspensions(ctx context.Context, incidentID string, unresolvedOnly bool) ([]*SuspensionPoint, error)

	// ResolveSuspension marks a suspension resolved. The write is
	// conditional; an already resolved point yields
	// manager.ErrAlreadyResolved.
	ResolveSuspension(ctx context.Context, token string, at time.Time) error
}
