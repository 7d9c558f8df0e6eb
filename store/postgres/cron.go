package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/bprzybys-nc/manager-sub001/id"
)

// AcquireCronLock takes the named lock for holder until ttl elapses. The
// upsert only overwrites an own or expired lease.
func (s *Store) AcquireCronLock(ctx context.Context, name string, holder id.WorkerID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO cron_locks (name, holder, until) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET holder = EXCLUDED.holder, until = EXCLUDED.until
		WHERE cron_locks.holder = EXCLUDED.holder OR cron_locks.until <= $4`,
		name, holder.String(), now.Add(ttl), now,
	)
	if err != nil {
		return false, fmt.Errorf("manager/postgres: acquire cron lock: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseCronLock releases the named lock if holder owns it.
func (s *Store) ReleaseCronLock(ctx context.Context, name string, holder id.WorkerID) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM cron_locks WHERE name = $1 AND holder = $2`,
		name, holder.String(),
	)
	if err != nil {
		return fmt.Errorf("manager/postgres: release cron lock: %w", err)
	}
	return nil
}
