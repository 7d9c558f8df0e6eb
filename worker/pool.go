package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bprzybys-nc/manager-sub001/ext"
	"github.com/bprzybys-nc/manager-sub001/id"
	"github.com/bprzybys-nc/manager-sub001/job"
)

var nilWorker id.WorkerID

// QueueManager gates job starts by queue and job kind. The pool calls
// Acquire before executing a dequeued job and Release afterwards.
type QueueManager interface {
	Acquire(queue, kind string) bool
	Release(queue, kind string)
}

// Pool manages concurrent worker goroutines that poll for jobs and run
// them through the Executor. The pool never runs two jobs of the same
// incident at once: incidents with a job in flight are passed to the store
// as busy and skipped at dequeue.
type Pool struct {
	store        job.Store
	executor     *Executor
	extensions   *ext.Registry
	concurrency  int
	queues       []string
	pollInterval time.Duration
	workerID     id.WorkerID
	logger       *slog.Logger

	heartbeatInterval time.Duration
	staleJobThreshold time.Duration

	queueManager QueueManager

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	// dequeueMu serializes claiming with the busy bookkeeping so two
	// goroutines cannot claim jobs of the same incident.
	dequeueMu  sync.Mutex
	activeMu   sync.Mutex
	activeJobs map[string]context.CancelFunc
	busy       map[string]int
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPoolQueues sets the queues the pool will poll.
func WithPoolQueues(queues []string) PoolOption {
	return func(p *Pool) { p.queues = queues }
}

// WithPollInterval sets how often idle workers poll for new jobs.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithHeartbeatInterval sets how often the pool heartbeats active jobs.
// Zero disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithStaleJobThreshold sets how long a running job may go without a
// heartbeat before it is handed back to the queue. Zero disables reaping.
func WithStaleJobThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.staleJobThreshold = d }
}

// WithQueueManager sets the per-queue and per-kind limiter.
func WithQueueManager(m QueueManager) PoolOption {
	return func(p *Pool) { p.queueManager = m }
}

// NewPool creates a worker pool.
func NewPool(
	store job.Store,
	executor *Executor,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		store:        store,
		executor:     executor,
		extensions:   extensions,
		concurrency:  10,
		queues:       []string{"default"},
		pollInterval: time.Second,
		workerID:     id.NewWorkerID(),
		logger:       logger,
		stopCh:       make(chan struct{}),
		activeJobs:   make(map[string]context.CancelFunc),
		busy:         make(map[string]int),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Any("queues", p.queues),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.dequeueLoop()
	}
	if p.heartbeatInterval > 0 {
		p.wg.Add(1)
		go p.heartbeatLoop()
	}
	if p.staleJobThreshold > 0 {
		p.wg.Add(1)
		go p.reaperLoop()
	}
	return nil
}

// Stop signals all workers to stop and waits for them to finish. When ctx
// expires first, active jobs are cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		p.wg.Wait()
	}
	return nil
}

func (p *Pool) dequeueLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		j, err := p.claim()
		if err != nil {
			p.logger.Error("dequeue error", slog.String("error", err.Error()))
			p.sleep()
			continue
		}
		if j == nil {
			p.sleep()
			continue
		}

		if p.queueManager != nil && !p.queueManager.Acquire(j.Queue, j.Name) {
			p.requeue(j)
			p.sleep()
			continue
		}

		p.run(j)

		if p.queueManager != nil {
			p.queueManager.Release(j.Queue, j.Name)
		}
	}
}

// claim dequeues one job whose incident is not already being processed by
// this pool and marks the incident busy.
func (p *Pool) claim() (*job.Job, error) {
	p.dequeueMu.Lock()
	defer p.dequeueMu.Unlock()

	jobs, err := p.store.DequeueJobs(context.Background(), p.queues, p.busyIncidents(), 1)
	if err != nil || len(jobs) == 0 {
		return nil, err
	}
	j := jobs[0]
	p.markBusy(j.IncidentID)
	return j, nil
}

// requeue hands a rate-limited job back to the queue for a later poll.
func (p *Pool) requeue(j *job.Job) {
	defer p.markIdle(j.IncidentID)

	j.State = job.StatePending
	j.RunAt = time.Now().UTC().Add(p.pollInterval)
	j.WorkerID = nilWorker
	j.StartedAt = nil
	if err := p.store.UpdateJob(context.Background(), j); err != nil {
		p.logger.Error("failed to re-enqueue rate-limited job",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pool) run(j *job.Job) {
	defer p.markIdle(j.IncidentID)

	p.extensions.EmitJobStarted(context.Background(), j)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.trackJob(j.ID.String(), cancel)
	defer p.untrackJob(j.ID.String())

	if err := p.executor.Execute(ctx, j); err != nil {
		p.logger.Debug("job execution failed",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("incident_id", j.IncidentID),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pool) busyIncidents() []string {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	out := make([]string, 0, len(p.busy))
	for inc := range p.busy {
		out = append(out, inc)
	}
	return out
}

func (p *Pool) markBusy(incidentID string) {
	if incidentID == "" {
		return
	}
	p.activeMu.Lock()
	p.busy[incidentID]++
	p.activeMu.Unlock()
}

func (p *Pool) markIdle(incidentID string) {
	if incidentID == "" {
		return
	}
	p.activeMu.Lock()
	if p.busy[incidentID] <= 1 {
		delete(p.busy, incidentID)
	} else {
		p.busy[incidentID]--
	}
	p.activeMu.Unlock()
}

// Busy reports whether the pool is currently processing a job of the
// incident.
func (p *Pool) Busy(incidentID string) bool {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return p.busy[incidentID] > 0
}

func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sendHeartbeats()
		}
	}
}

func (p *Pool) sendHeartbeats() {
	p.activeMu.Lock()
	jobIDs := make([]string, 0, len(p.activeJobs))
	for jobID := range p.activeJobs {
		jobIDs = append(jobIDs, jobID)
	}
	p.activeMu.Unlock()

	for _, raw := range jobIDs {
		jobID, err := id.ParseJobID(raw)
		if err != nil {
			p.logger.Warn("heartbeat: invalid job id", slog.String("job_id", raw))
			continue
		}
		if err := p.store.HeartbeatJob(context.Background(), jobID, p.workerID); err != nil {
			p.logger.Warn("heartbeat failed",
				slog.String("job_id", raw),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (p *Pool) reaperLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.staleJobThreshold)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reapStaleJobs()
		}
	}
}

// reapStaleJobs hands jobs of crashed workers back to the queue. The
// workflow reconciles from the store, so running a resumption twice is
// harmless.
func (p *Pool) reapStaleJobs() {
	stale, err := p.store.ReapStaleJobs(context.Background(), p.staleJobThreshold)
	if err != nil {
		p.logger.Error("reap stale jobs error", slog.String("error", err.Error()))
		return
	}

	for _, j := range stale {
		j.State = job.StatePending
		j.RunAt = time.Now().UTC()
		j.WorkerID = nilWorker
		j.HeartbeatAt = nil
		j.StartedAt = nil

		if err := p.store.UpdateJob(context.Background(), j); err != nil {
			p.logger.Error("reap: failed to reset stale job",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		p.logger.Info("reaped stale job",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("incident_id", j.IncidentID),
		)
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) trackJob(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel()
	}
}
