package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/bprzybys-nc/manager-sub001/id"
)

// acquireScript sets the lease when it is free and extends it when the
// caller already owns it.
var acquireScript = goredis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == ARGV[1] then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  return 1
end
if redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2]) then
  return 1
end
return 0
`)

// releaseScript deletes a key only when it still holds the caller's token.
var releaseScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// AcquireCronLock takes the named lease for holder until ttl elapses.
func (s *Store) AcquireCronLock(ctx context.Context, name string, holder id.WorkerID, ttl time.Duration) (bool, error) {
	n, err := acquireScript.Run(ctx, s.client, []string{cronLockKey(name)}, holder.String(), ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("manager/redis: acquire cron lock: %w", err)
	}
	return n == 1, nil
}

// ReleaseCronLock releases the named lease if holder owns it.
func (s *Store) ReleaseCronLock(ctx context.Context, name string, holder id.WorkerID) error {
	if err := releaseScript.Run(ctx, s.client, []string{cronLockKey(name)}, holder.String()).Err(); err != nil {
		return fmt.Errorf("manager/redis: release cron lock: %w", err)
	}
	return nil
}
