package queue

import (
	"golang.org/x/time/rate"
)

// KindConfig limits one job kind on one queue.
type KindConfig struct {
	QueueName string
	// Kind is the job name, such as "incident.start".
	Kind string

	RateLimit      float64
	RateBurst      int
	MaxConcurrency int
}

type kindState struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

func kindKey(queue, kind string) string {
	return queue + ":" + kind
}

// SetKindConfig configures limits for a job kind on a queue, replacing any
// previous configuration for the pair.
func (m *Manager) SetKindConfig(cfg KindConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := kindKey(cfg.QueueName, cfg.Kind)
	ks := &kindState{
		limiter:        newLimiter(cfg.RateLimit, cfg.RateBurst),
		maxConcurrency: cfg.MaxConcurrency,
	}
	if existing := m.kinds[key]; existing != nil {
		ks.active = existing.active
	}
	m.kinds[key] = ks
}

// KindActiveCount returns the number of active jobs of a kind on a queue.
func (m *Manager) KindActiveCount(queue, kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ks := m.kinds[kindKey(queue, kind)]; ks != nil {
		return ks.active
	}
	return 0
}
