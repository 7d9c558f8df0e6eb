package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/bprzybys-nc/manager-sub001/workflow"
)

const (
	defaultLockTTL   = 30 * time.Second
	defaultLockRetry = 50 * time.Millisecond
)

var _ workflow.Locker = (*Locker)(nil)

// Locker is a distributed workflow.Locker. Each lock is a SET NX PX key
// holding a random token; a watchdog extends the lease while it is held
// and release deletes the key only if the token still matches.
type Locker struct {
	client goredis.Cmdable
	ttl    time.Duration
	retry  time.Duration
	logger *slog.Logger
}

// LockerOption configures a Locker.
type LockerOption func(*Locker)

// WithLockTTL sets the lease length. The watchdog renews at a third of it.
func WithLockTTL(d time.Duration) LockerOption {
	return func(l *Locker) { l.ttl = d }
}

// WithLockRetry sets the polling interval while waiting for a held lock.
func WithLockRetry(d time.Duration) LockerOption {
	return func(l *Locker) { l.retry = d }
}

// WithLockLogger sets the logger for renewal failures.
func WithLockLogger(logger *slog.Logger) LockerOption {
	return func(l *Locker) { l.logger = logger }
}

// NewLocker creates a Redis-backed Locker.
func NewLocker(client goredis.Cmdable, opts ...LockerOption) *Locker {
	l := &Locker{
		client: client,
		ttl:    defaultLockTTL,
		retry:  defaultLockRetry,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// renewScript extends a lease only while it still holds the caller's token.
var renewScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// Lock blocks until the incident's key is held or ctx ends.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	rkey := incidentLockKey(key)
	token := uuid.NewString()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, rkey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("manager/redis: lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.watch(rkey, token, stop)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			wg.Wait()
			// The caller's context may already be done.
			relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(relCtx, l.client, []string{rkey}, token).Err(); err != nil {
				l.logger.Warn("failed to release incident lock",
					slog.String("incident_id", key),
					slog.String("error", err.Error()),
				)
			}
		})
	}, nil
}

func (l *Locker) watch(rkey, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			n, err := renewScript.Run(ctx, l.client, []string{rkey}, token, l.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				l.logger.Warn("failed to renew incident lock",
					slog.String("key", rkey),
					slog.String("error", err.Error()),
				)
				continue
			}
			if n == 0 {
				l.logger.Error("incident lock lost", slog.String("key", rkey))
				return
			}
		}
	}
}
