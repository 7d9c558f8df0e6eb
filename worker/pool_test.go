package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	manager "github.com/bprzybys-nc/manager-sub001"
	"github.com/bprzybys-nc/manager-sub001/backoff"
	"github.com/bprzybys-nc/manager-sub001/ext"
	"github.com/bprzybys-nc/manager-sub001/id"
	"github.com/bprzybys-nc/manager-sub001/job"
	"github.com/bprzybys-nc/manager-sub001/middleware"
	"github.com/bprzybys-nc/manager-sub001/queue"
	"github.com/bprzybys-nc/manager-sub001/store/memory"
	"github.com/bprzybys-nc/manager-sub001/worker"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func setupTestPool(t *testing.T, concurrency int, extensions *ext.Registry, opts ...worker.PoolOption) (
	*worker.Pool, *memory.Store, *job.Registry,
) {
	t.Helper()
	logger := quietLogger()
	s := memory.New()
	reg := job.NewRegistry()
	if extensions == nil {
		extensions = ext.NewRegistry(logger)
	}

	executor := worker.NewExecutor(
		reg, extensions, s, backoff.NewConstant(10*time.Millisecond), logger,
		middleware.Recover(logger),
	)
	opts = append([]worker.PoolOption{
		worker.WithPoolConcurrency(concurrency),
		worker.WithPollInterval(10 * time.Millisecond),
		worker.WithPoolQueues([]string{"default"}),
	}, opts...)
	return worker.NewPool(s, executor, extensions, logger, opts...), s, reg
}

func enqueue(t *testing.T, s *memory.Store, name, incidentID string, payload any, maxRetries int) *job.Job {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	j := &job.Job{
		Entity:     manager.NewEntity(),
		ID:         id.NewJobID(),
		Name:       name,
		Queue:      "default",
		IncidentID: incidentID,
		Payload:    data,
		State:      job.StatePending,
		MaxRetries: maxRetries,
		RunAt:      time.Now().UTC(),
	}
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}
	return j
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func stop(t *testing.T, p *worker.Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}
}

func jobState(t *testing.T, s *memory.Store, jobID id.JobID) *job.Job {
	t.Helper()
	got, err := s.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("get job error: %v", err)
	}
	return got
}

func TestPool_StartStop(t *testing.T) {
	pool, _, _ := setupTestPool(t, 2, nil)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}
	stop(t, pool)
	stop(t, pool)
}

func TestPool_ProcessesJob(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, nil)

	var processed atomic.Bool
	job.RegisterDefinition(reg, job.NewDefinition(job.NameStartIncident, func(_ context.Context, p job.StartIncident) error {
		if p.IncidentID != "I1" {
			t.Errorf("payload.IncidentID = %q, want I1", p.IncidentID)
		}
		processed.Store(true)
		return nil
	}))

	j := enqueue(t, s, job.NameStartIncident, "I1", job.StartIncident{IncidentID: "I1"}, 3)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, "job to be processed", processed.Load)
	waitFor(t, "job to complete", func() bool { return jobState(t, s, j.ID).State == job.StateCompleted })
	stop(t, pool)

	if jobState(t, s, j.ID).CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
}

func TestPool_RetriesThenFails(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, nil)

	var attempts atomic.Int32
	job.RegisterDefinition(reg, job.NewDefinition(job.NameBatchCompleted, func(_ context.Context, _ job.BatchCompleted) error {
		attempts.Add(1)
		return errors.New("store unavailable")
	}))

	j := enqueue(t, s, job.NameBatchCompleted, "I1", job.BatchCompleted{IncidentID: "I1", BatchID: "B1"}, 2)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, "job to fail", func() bool { return jobState(t, s, j.ID).State == job.StateFailed })
	stop(t, pool)

	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3 (1 + 2 retries)", got)
	}
	if jobState(t, s, j.ID).LastError == "" {
		t.Error("expected LastError to be set")
	}
}

func TestPool_PermanentErrorNotRetried(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, nil)

	var attempts atomic.Int32
	job.RegisterDefinition(reg, job.NewDefinition(job.NameResumeIncident, func(_ context.Context, _ job.ResumeIncident) error {
		attempts.Add(1)
		return job.Permanent(manager.ErrWorkflowNotFound)
	}))

	j := enqueue(t, s, job.NameResumeIncident, "I9", job.ResumeIncident{IncidentID: "I9"}, 5)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, "job to fail", func() bool { return jobState(t, s, j.ID).State == job.StateFailed })
	stop(t, pool)

	got := jobState(t, s, j.ID)
	if attempts.Load() != 1 || got.RetryCount != 0 {
		t.Errorf("attempts = %d retry_count = %d, want a single attempt", attempts.Load(), got.RetryCount)
	}
}

func TestPool_UnknownJobFails(t *testing.T) {
	pool, s, _ := setupTestPool(t, 1, nil)
	j := enqueue(t, s, "no.such.job", "I1", struct{}{}, 5)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, "job to fail", func() bool { return jobState(t, s, j.ID).State == job.StateFailed })
	stop(t, pool)
}

func TestPool_OneJobPerIncidentAtATime(t *testing.T) {
	pool, s, reg := setupTestPool(t, 4, nil)

	var (
		mu       sync.Mutex
		inFlight = map[string]int{}
		overlap  atomic.Bool
		done     atomic.Int32
	)
	job.RegisterDefinition(reg, job.NewDefinition(job.NameBatchCompleted, func(_ context.Context, p job.BatchCompleted) error {
		mu.Lock()
		inFlight[p.IncidentID]++
		if inFlight[p.IncidentID] > 1 {
			overlap.Store(true)
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		inFlight[p.IncidentID]--
		mu.Unlock()
		done.Add(1)
		return nil
	}))

	for i := range 6 {
		inc := "I1"
		if i%2 == 1 {
			inc = "I2"
		}
		enqueue(t, s, job.NameBatchCompleted, inc, job.BatchCompleted{IncidentID: inc}, 0)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, "all jobs", func() bool { return done.Load() == 6 })
	stop(t, pool)

	if overlap.Load() {
		t.Fatal("two jobs of the same incident ran concurrently")
	}
}

func TestPool_QueueManagerLimitsKind(t *testing.T) {
	qm := queue.NewManager()
	qm.SetKindConfig(queue.KindConfig{QueueName: "default", Kind: job.NameStartIncident, MaxConcurrency: 1})
	pool, s, reg := setupTestPool(t, 4, nil, worker.WithQueueManager(qm))

	var running, peak, done atomic.Int32
	job.RegisterDefinition(reg, job.NewDefinition(job.NameStartIncident, func(_ context.Context, _ job.StartIncident) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		done.Add(1)
		return nil
	}))

	for _, inc := range []string{"I1", "I2", "I3"} {
		enqueue(t, s, job.NameStartIncident, inc, job.StartIncident{IncidentID: inc}, 0)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, "all starts", func() bool { return done.Load() == 3 })
	stop(t, pool)

	if peak.Load() != 1 {
		t.Fatalf("peak concurrent starts = %d, want 1", peak.Load())
	}
}

func TestPool_ExtensionFires(t *testing.T) {
	extensions := ext.NewRegistry(quietLogger())
	tracker := &trackingExt{}
	extensions.Register(tracker)

	pool, s, reg := setupTestPool(t, 1, extensions)

	job.RegisterDefinition(reg, job.NewDefinition(job.NameStartIncident, func(_ context.Context, _ job.StartIncident) error {
		return nil
	}))
	enqueue(t, s, job.NameStartIncident, "I1", job.StartIncident{IncidentID: "I1"}, 0)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, "completion hook", tracker.completed.Load)
	stop(t, pool)

	if !tracker.started.Load() {
		t.Error("expected OnJobStarted to fire")
	}
	if tracker.failed.Load() {
		t.Error("OnJobFailed fired for a successful job")
	}
}

// trackingExt records which hooks fired.
type trackingExt struct {
	started   atomic.Bool
	completed atomic.Bool
	failed    atomic.Bool
}

func (e *trackingExt) Name() string { return "tracker" }

func (e *trackingExt) OnJobStarted(_ context.Context, _ *job.Job) error {
	e.started.Store(true)
	return nil
}

func (e *trackingExt) OnJobCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	e.completed.Store(true)
	return nil
}

func (e *trackingExt) OnJobFailed(_ context.Context, _ *job.Job, _ error) error {
	e.failed.Store(true)
	return nil
}
