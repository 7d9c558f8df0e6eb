package memory

import (
	"context"
	"time"

	"github.com/bprzybys-nc/manager-sub001/id"
)

// AcquireCronLock takes the named lock for holder until ttl elapses.
func (m *Store) AcquireCronLock(_ context.Context, name string, holder id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := now()
	if cur, ok := m.cronLocks[name]; ok && cur.holder != holder.String() && cur.until.After(t) {
		return false, nil
	}
	m.cronLocks[name] = cronLock{holder: holder.String(), until: t.Add(ttl)}
	return true, nil
}

// ReleaseCronLock releases the named lock if holder owns it.
func (m *Store) ReleaseCronLock(_ context.Context, name string, holder id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.cronLocks[name]; ok && cur.holder == holder.String() {
		delete(m.cronLocks, name)
	}
	return nil
}
