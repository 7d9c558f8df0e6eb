package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config defines per-queue rate limiting and concurrency.
type Config struct {
	// Name is the queue identifier (must match the job.Queue field).
	Name string

	// MaxConcurrency limits how many jobs from this queue may run
	// simultaneously in the local worker pool. Zero means no limit.
	MaxConcurrency int

	// RateLimit is the maximum sustained jobs per second started from
	// this queue. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the token-bucket burst. Defaults to 1 when RateLimit is
	// set.
	RateBurst int
}

type queueState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager enforces per-queue and per-kind limits. It is safe for
// concurrent use.
type Manager struct {
	mu     sync.Mutex
	queues map[string]*queueState
	kinds  map[string]*kindState
}

// NewManager creates a Manager with the given queue configurations.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		queues: make(map[string]*queueState, len(configs)),
		kinds:  make(map[string]*kindState),
	}
	for _, cfg := range configs {
		m.queues[cfg.Name] = newQueueState(cfg)
	}
	return m
}

func newQueueState(cfg Config) *queueState {
	return &queueState{config: cfg, limiter: newLimiter(cfg.RateLimit, cfg.RateBurst)}
}

func newLimiter(limit float64, burst int) *rate.Limiter {
	if limit <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(limit), burst)
}

// Acquire reports whether a job of the given kind may start on queue now.
// On success the active counters are incremented and the caller must call
// Release once the job finishes.
func (m *Manager) Acquire(queue, kind string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := m.queues[queue]
	if qs != nil && qs.config.MaxConcurrency > 0 && qs.active >= qs.config.MaxConcurrency {
		return false
	}
	ks := m.kinds[kindKey(queue, kind)]
	if ks != nil && ks.maxConcurrency > 0 && ks.active >= ks.maxConcurrency {
		return false
	}

	// Tokens are only spent once every concurrency gate passed.
	if qs != nil && qs.limiter != nil && !qs.limiter.Allow() {
		return false
	}
	if ks != nil && ks.limiter != nil && !ks.limiter.Allow() {
		return false
	}

	if qs != nil {
		qs.active++
	}
	if ks != nil {
		ks.active++
	}
	return true
}

// Release decrements the active counters for the queue and kind.
func (m *Manager) Release(queue, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if qs := m.queues[queue]; qs != nil && qs.active > 0 {
		qs.active--
	}
	if ks := m.kinds[kindKey(queue, kind)]; ks != nil && ks.active > 0 {
		ks.active--
	}
}

// SetQueueConfig updates (or creates) a queue configuration, keeping the
// current active count.
func (m *Manager) SetQueueConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := newQueueState(cfg)
	if existing := m.queues[cfg.Name]; existing != nil {
		qs.active = existing.active
	}
	m.queues[cfg.Name] = qs
}

// ActiveCount returns the number of active jobs for a queue.
func (m *Manager) ActiveCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs := m.queues[queue]; qs != nil {
		return qs.active
	}
	return 0
}
