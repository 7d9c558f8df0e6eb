package workflow

import (
	"context"
	"sync"
)

// Locker serializes work on one incident. Lock blocks until the key is
// held or ctx ends, and returns the function that releases it.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), error)
}

// MutexLocker is an in-process Locker with one mutex per key. Entries are
// reference counted and dropped once no goroutine holds or waits on them.
type MutexLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

var _ Locker = (*MutexLocker)(nil)

// NewMutexLocker creates an in-process Locker.
func NewMutexLocker() *MutexLocker {
	return &MutexLocker{locks: make(map[string]*keyLock)}
}

// Lock implements Locker.
func (l *MutexLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.release(key, kl)
		})
	}, nil
}

func (l *MutexLocker) release(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// Held returns the number of keys currently tracked.
func (l *MutexLocker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
