package cron_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bprzybys-nc/manager-sub001/cron"
	"github.com/bprzybys-nc/manager-sub001/id"
	"github.com/bprzybys-nc/manager-sub001/store/memory"
)

type stubEmitter struct {
	mu    sync.Mutex
	names []string
}

func (e *stubEmitter) EmitCronFired(_ context.Context, entryName string) {
	e.mu.Lock()
	e.names = append(e.names, entryName)
	e.mu.Unlock()
}

func (e *stubEmitter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.names)
}

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newScheduler(s cron.Store, em cron.Emitter, c *clock) *cron.Scheduler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return cron.NewScheduler(s, em, id.NewWorkerID(), logger, cron.WithClock(c.now))
}

func TestScheduler_FiresDueEntry(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	em := &stubEmitter{}
	s := newScheduler(memory.New(), em, c)

	runs := 0
	if err := s.Register(cron.Entry{
		Name:     "stale-sweep",
		Schedule: "@every 1m",
		Task:     func(context.Context) error { runs++; return nil },
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	s.Tick(context.Background())
	if runs != 0 {
		t.Fatalf("entry fired before it was due")
	}

	c.advance(61 * time.Second)
	s.Tick(context.Background())
	if runs != 1 {
		t.Fatalf("runs = %d, want 1", runs)
	}
	if em.count() != 1 {
		t.Fatalf("cron fired events = %d, want 1", em.count())
	}

	// Not due again until the next minute.
	s.Tick(context.Background())
	if runs != 1 {
		t.Fatalf("runs = %d after immediate re-tick, want 1", runs)
	}

	entries := s.Entries()
	if len(entries) != 1 || entries[0].LastRunAt == nil {
		t.Fatalf("entry snapshot = %+v", entries)
	}
}

func TestScheduler_OneProcessPerTick(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	shared := memory.New()

	var mu sync.Mutex
	runs := 0
	block := make(chan struct{})
	task := func(context.Context) error {
		mu.Lock()
		runs++
		mu.Unlock()
		<-block
		return nil
	}

	a := newScheduler(shared, nil, c)
	b := newScheduler(shared, nil, c)
	for _, s := range []*cron.Scheduler{a, b} {
		if err := s.Register(cron.Entry{Name: "stale-sweep", Schedule: "@every 1m", Task: task}); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	c.advance(2 * time.Minute)

	done := make(chan struct{})
	go func() {
		a.Tick(context.Background())
		close(done)
	}()

	// Wait until a holds the lock and is running the task.
	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := runs
		mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first scheduler never ran the task")
		case <-time.After(5 * time.Millisecond):
		}
	}

	b.Tick(context.Background())
	close(block)
	<-done

	if runs != 1 {
		t.Fatalf("runs = %d, want 1", runs)
	}
}

func TestScheduler_TaskErrorRecorded(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := newScheduler(memory.New(), nil, c)
	if err := s.Register(cron.Entry{
		Name:     "stale-sweep",
		Schedule: "@every 1m",
		Task:     func(context.Context) error { return errors.New("store down") },
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	c.advance(time.Minute + time.Second)
	s.Tick(context.Background())

	if got := s.Entries()[0].LastError; got != "store down" {
		t.Fatalf("LastError = %q", got)
	}
}

func TestScheduler_DisabledEntry(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := newScheduler(memory.New(), nil, c)

	runs := 0
	_ = s.Register(cron.Entry{Name: "stale-sweep", Schedule: "@every 1m", Task: func(context.Context) error { runs++; return nil }})
	if err := s.SetEnabled("stale-sweep", false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}

	c.advance(5 * time.Minute)
	s.Tick(context.Background())
	if runs != 0 {
		t.Fatalf("disabled entry fired")
	}
}

func TestScheduler_RegisterValidation(t *testing.T) {
	s := newScheduler(memory.New(), nil, &clock{t: time.Now()})
	noop := func(context.Context) error { return nil }

	if err := s.Register(cron.Entry{Name: "bad", Schedule: "not a schedule", Task: noop}); err == nil {
		t.Error("expected parse error")
	}
	if err := s.Register(cron.Entry{Name: "", Schedule: "@every 1m", Task: noop}); err == nil {
		t.Error("expected error for missing name")
	}
	if err := s.Register(cron.Entry{Name: "a", Schedule: "@every 1m", Task: noop}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Register(cron.Entry{Name: "a", Schedule: "@every 1m", Task: noop}); err == nil {
		t.Error("expected duplicate name error")
	}
}

func TestScheduler_StartStop(t *testing.T) {
	s := newScheduler(memory.New(), nil, &clock{t: time.Now()})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("double Stop: %v", err)
	}
}
