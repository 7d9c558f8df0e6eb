package manager

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Option configures a Manager.
type Option func(*Manager) error

// Storer is the minimal store interface held by the Manager. It covers
// lifecycle operations only; subsystem layers use the composite
// store.Store which embeds every subsystem contract.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// poolRunner is an internal interface for worker pool lifecycle.
type poolRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Manager holds process-wide configuration, the logger and the store, and
// owns the lifecycle of the worker pool that drives incident workflows.
// The engine package wires the remaining subsystems around it.
type Manager struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter
	pool       poolRunner

	started bool
}

// New creates a new Manager with the given options.
func New(opts ...Option) (*Manager, error) {
	m := &Manager{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Logger returns the manager's logger.
func (m *Manager) Logger() *slog.Logger { return m.logger }

// Store returns the manager's store.
func (m *Manager) Store() Storer { return m.store }

// Config returns a copy of the manager's configuration.
func (m *Manager) Config() Config { return m.config }

// SetPool sets the worker pool (called by the engine package).
func (m *Manager) SetPool(p poolRunner) { m.pool = p }

// SetExtensions sets the extension emitter (called by the engine package).
func (m *Manager) SetExtensions(e extensionEmitter) { m.extensions = e }

// Start begins processing resumption jobs.
func (m *Manager) Start(ctx context.Context) error {
	if m.pool == nil {
		return ErrNoStore
	}
	if err := m.pool.Start(ctx); err != nil {
		return err
	}
	m.started = true
	return nil
}

// Stop gracefully shuts down the worker pool, notifies extensions and
// closes the store.
func (m *Manager) Stop(ctx context.Context) error {
	if m.pool != nil && m.started {
		if err := m.pool.Stop(ctx); err != nil {
			m.logger.Error("pool stop error", slog.String("error", err.Error()))
		}
	}
	if m.extensions != nil {
		m.extensions.EmitShutdown(ctx)
	}
	if m.store != nil {
		return m.store.Close()
	}
	return nil
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(m *Manager) error {
		m.config = cfg
		return nil
	}
}

// WithConcurrency sets the maximum number of concurrent job processors.
func WithConcurrency(n int) Option {
	return func(m *Manager) error {
		if n <= 0 {
			return errors.New("manager: concurrency must be positive")
		}
		m.config.Concurrency = n
		return nil
	}
}

// WithQueues sets the queues the worker pool polls.
func WithQueues(queues []string) Option {
	return func(m *Manager) error {
		m.config.Queues = queues
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) error {
		m.logger = l
		return nil
	}
}

// WithStore sets the persistence backend. The store must implement Storer
// at minimum; typically it is a store.Store.
func WithStore(s Storer) Option {
	return func(m *Manager) error {
		m.store = s
		return nil
	}
}

// WithWaitTimeouts sets how long execution and approval waits may last
// before the incident is flagged stale.
func WithWaitTimeouts(execution, approval time.Duration) Option {
	return func(m *Manager) error {
		m.config.ExecutionWaitTimeout = execution
		m.config.ApprovalWaitTimeout = approval
		return nil
	}
}

// WithMaxOutputBytes sets the ceiling for persisted command output.
func WithMaxOutputBytes(n int) Option {
	return func(m *Manager) error {
		m.config.MaxOutputBytes = n
		return nil
	}
}

// WithCallbackURL sets the address agents report batch results to.
func WithCallbackURL(u string) Option {
	return func(m *Manager) error {
		m.config.CallbackURL = u
		return nil
	}
}

// WithMinDiagnostics refuses closure while fewer than n tasks exist.
func WithMinDiagnostics(n int) Option {
	return func(m *Manager) error {
		m.config.MinDiagnostics = n
		return nil
	}
}
