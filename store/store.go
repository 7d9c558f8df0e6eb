// Package store defines the aggregate persistence interface. Each
// subsystem (incident, task, approval, workflow, job, cron) defines its own
// store interface and the composite Store composes them all. Backends:
// Memory, MongoDB and PostgreSQL. The Redis package supplies a job queue
// and a distributed incident lock that can front any of them.
package store

import (
	"context"

	"github.com/bprzybys-nc/manager-sub001/approval"
	"github.com/bprzybys-nc/manager-sub001/cron"
	"github.com/bprzybys-nc/manager-sub001/incident"
	"github.com/bprzybys-nc/manager-sub001/job"
	"github.com/bprzybys-nc/manager-sub001/task"
	"github.com/bprzybys-nc/manager-sub001/workflow"
)

// Store is the aggregate persistence interface. A single backend
// implements all of it.
type Store interface {
	incident.Store
	task.Store
	approval.Store
	workflow.Store
	job.Store
	cron.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
