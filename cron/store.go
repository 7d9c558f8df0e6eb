package cron

import (
	"context"
	"time"

	"github.com/bprzybys-nc/manager-sub001/id"
)

// Store defines the per-entry lock shared by all engine processes.
type Store interface {
	// AcquireCronLock takes the lock of an entry for holder until ttl
	// elapses. It returns false when another holder owns an unexpired
	// lock. Re-acquiring an own lock extends it.
	AcquireCronLock(ctx context.Context, name string, holder id.WorkerID, ttl time.Duration) (bool, error)

	// ReleaseCronLock releases the lock if holder owns it.
	ReleaseCronLock(ctx context.Context, name string, holder id.WorkerID) error
}
