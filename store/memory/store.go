// Package memory provides an in-memory implementation of every store
// contract. It is safe for concurrent use and intended for tests and
// single-process development. Records are copied on the way in and out
// so callers never share memory with the store.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/bprzybys-nc/manager-sub001/approval"
	"github.com/bprzybys-nc/manager-sub001/cron"
	"github.com/bprzybys-nc/manager-sub001/incident"
	"github.com/bprzybys-nc/manager-sub001/job"
	"github.com/bprzybys-nc/manager-sub001/task"
	"github.com/bprzybys-nc/manager-sub001/workflow"
)

// Compile-time checks. store.Store cannot be imported here (import cycle).
var (
	_ incident.Store = (*Store)(nil)
	_ task.Store     = (*Store)(nil)
	_ approval.Store = (*Store)(nil)
	_ workflow.Store = (*Store)(nil)
	_ job.Store      = (*Store)(nil)
	_ cron.Store     = (*Store)(nil)
)

type cronLock struct {
	holder string
	until  time.Time
}

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	incidents   map[string]*incident.Incident
	tasks       map[string]*task.Task
	taskOrder   []string
	batches     map[string]*task.Batch
	questions   map[string]*approval.Question
	instances   map[string]*workflow.Instance
	suspensions map[string]*workflow.SuspensionPoint
	jobs        map[string]*job.Job
	cronLocks   map[string]cronLock
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		incidents:   make(map[string]*incident.Incident),
		tasks:       make(map[string]*task.Task),
		batches:     make(map[string]*task.Batch),
		questions:   make(map[string]*approval.Question),
		instances:   make(map[string]*workflow.Instance),
		suspensions: make(map[string]*workflow.SuspensionPoint),
		jobs:        make(map[string]*job.Job),
		cronLocks:   make(map[string]cronLock),
	}
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func now() time.Time { return time.Now().UTC() }
