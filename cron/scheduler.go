package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/bprzybys-nc/manager-sub001/id"
)

// Emitter emits cron lifecycle events. ext.Registry satisfies it.
type Emitter interface {
	EmitCronFired(ctx context.Context, entryName string)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithLockTTL sets the TTL for per-entry locks. It should exceed the
// longest task run.
func WithLockTTL(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.lockTTL = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Scheduler fires registered entries on a tick loop.
type Scheduler struct {
	store    Store
	emitter  Emitter
	workerID id.WorkerID
	logger   *slog.Logger
	now      func() time.Time

	tickInterval time.Duration
	lockTTL      time.Duration

	mu        sync.Mutex
	entries   map[string]*Entry
	schedules map[string]cronlib.Schedule

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewScheduler creates a Scheduler.
func NewScheduler(store Store, emitter Emitter, workerID id.WorkerID, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		store:        store,
		emitter:      emitter,
		workerID:     workerID,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
		tickInterval: time.Second,
		lockTTL:      time.Minute,
		entries:      make(map[string]*Entry),
		schedules:    make(map[string]cronlib.Schedule),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds an entry. Names are unique.
func (s *Scheduler) Register(e Entry) error {
	if e.Name == "" || e.Task == nil {
		return errors.New("cron: entry needs a name and a task")
	}
	sched, err := ParseSchedule(e.Schedule)
	if err != nil {
		return fmt.Errorf("cron: parse schedule of %s: %w", e.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[e.Name]; exists {
		return fmt.Errorf("cron: entry %s already registered", e.Name)
	}
	next := sched.Next(s.now())
	e.NextRunAt = &next
	s.entries[e.Name] = &e
	s.schedules[e.Name] = sched
	return nil
}

// SetEnabled enables or disables an entry.
func (s *Scheduler) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("cron: no entry %s", name)
	}
	e.Disabled = !enabled
	return nil
}

// Entries returns a snapshot of the registered entries ordered by name.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start launches the tick goroutine.
func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("cron scheduler started",
		slog.String("worker_id", s.workerID.String()),
		slog.Duration("tick_interval", s.tickInterval),
	)
	return nil
}

// Stop signals the scheduler to stop and waits for the running tick.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
	return nil
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Tick(context.Background())
		}
	}
}

// Tick fires every enabled entry that is due.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []string
	for name, e := range s.entries {
		if e.Disabled || e.NextRunAt == nil || e.NextRunAt.After(now) {
			continue
		}
		due = append(due, name)
	}
	s.mu.Unlock()
	sort.Strings(due)

	for _, name := range due {
		s.fire(ctx, name, now)
	}
}

func (s *Scheduler) fire(ctx context.Context, name string, now time.Time) {
	s.mu.Lock()
	e := s.entries[name]
	task := e.Task
	next := s.schedules[name].Next(now)
	e.NextRunAt = &next
	s.mu.Unlock()

	acquired, err := s.store.AcquireCronLock(ctx, name, s.workerID, s.lockTTL)
	if err != nil {
		s.logger.Error("acquire cron lock error",
			slog.String("cron_name", name),
			slog.String("error", err.Error()),
		)
		return
	}
	if !acquired {
		return
	}
	defer func() {
		if err := s.store.ReleaseCronLock(ctx, name, s.workerID); err != nil {
			s.logger.Error("release cron lock error",
				slog.String("cron_name", name),
				slog.String("error", err.Error()),
			)
		}
	}()

	runErr := task(ctx)

	s.mu.Lock()
	e.LastRunAt = &now
	e.LastError = ""
	if runErr != nil {
		e.LastError = runErr.Error()
	}
	s.mu.Unlock()

	if runErr != nil {
		s.logger.Error("cron task failed",
			slog.String("cron_name", name),
			slog.String("error", runErr.Error()),
		)
	} else {
		s.logger.Debug("cron fired", slog.String("cron_name", name))
	}
	if s.emitter != nil {
		s.emitter.EmitCronFired(ctx, name)
	}
}
