package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	manager "github.com/bprzybys-nc/manager-sub001"
	"github.com/bprzybys-nc/manager-sub001/approval"
	"github.com/bprzybys-nc/manager-sub001/backoff"
	"github.com/bprzybys-nc/manager-sub001/chat"
	"github.com/bprzybys-nc/manager-sub001/chathook"
	"github.com/bprzybys-nc/manager-sub001/cron"
	"github.com/bprzybys-nc/manager-sub001/executor"
	"github.com/bprzybys-nc/manager-sub001/ext"
	"github.com/bprzybys-nc/manager-sub001/id"
	"github.com/bprzybys-nc/manager-sub001/incident"
	"github.com/bprzybys-nc/manager-sub001/job"
	mw "github.com/bprzybys-nc/manager-sub001/middleware"
	"github.com/bprzybys-nc/manager-sub001/observability"
	"github.com/bprzybys-nc/manager-sub001/oracle"
	"github.com/bprzybys-nc/manager-sub001/queue"
	"github.com/bprzybys-nc/manager-sub001/store"
	"github.com/bprzybys-nc/manager-sub001/stream"
	"github.com/bprzybys-nc/manager-sub001/worker"
	"github.com/bprzybys-nc/manager-sub001/workflow"
)

// StaleSweepEntry is the name of the maintenance entry that flags
// overdue waits.
const StaleSweepEntry = "stale-sweep"

// Engine wraps a Manager with typed subsystem access.
// Use Build() to create one from a Manager.
type Engine struct {
	m          *manager.Manager
	store      store.Store
	jobStore   job.Store
	cronStore  cron.Store
	extensions *ext.Registry
	registry   *job.Registry
	bo         backoff.Strategy
	pool       *worker.Pool
	mws        []mw.Middleware
	logger     *slog.Logger

	// Workflow collaborators.
	oracle     oracle.Oracle
	dispatcher executor.Dispatcher
	gateway    approval.Gateway
	channel    chat.Channel
	locker     workflow.Locker
	inventory  workflow.Inventory
	runner     *workflow.Runner
	broker     *stream.Broker

	scheduler *cron.Scheduler

	// Queue subsystem.
	queueConfigs []queue.Config
	kindConfigs  []queue.KindConfig
	queueManager *queue.Manager

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the retry backoff strategy for resumption jobs.
// If not set, backoff.DefaultStrategy() (exponential with jitter) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithQueueConfig registers queue-level rate limiting and concurrency
// configurations. Queues not listed have no limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) {
		eng.queueConfigs = append(eng.queueConfigs, configs...)
	}
}

// WithKindConfig limits one resumption message kind on a queue.
func WithKindConfig(configs ...queue.KindConfig) Option {
	return func(eng *Engine) {
		eng.kindConfigs = append(eng.kindConfigs, configs...)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware and the observability extension.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// WithOracle sets the decision oracle. An oracle that is not already a
// *oracle.Retrying is wrapped in one using the configured attempt budget
// and rate limit.
func WithOracle(o oracle.Oracle) Option {
	return func(eng *Engine) { eng.oracle = o }
}

// WithDispatcher sets the execution dispatcher. Defaults to executor.Pull.
func WithDispatcher(d executor.Dispatcher) Option {
	return func(eng *Engine) { eng.dispatcher = d }
}

// WithGateway sets the approval gateway. When unset, a channel that also
// implements approval.Gateway is used.
func WithGateway(g approval.Gateway) Option {
	return func(eng *Engine) { eng.gateway = g }
}

// WithChannel sets the chat channel incidents are narrated in. It also
// registers the chat hook that reports workflow trouble.
func WithChannel(c chat.Channel) Option {
	return func(eng *Engine) { eng.channel = c }
}

// WithLocker replaces the in-process per-incident lock, typically with a
// store/redis Locker when several engine processes share a store.
func WithLocker(l workflow.Locker) Option {
	return func(eng *Engine) { eng.locker = l }
}

// WithInventory sets the host inventory consulted when a workflow starts.
func WithInventory(inv workflow.Inventory) Option {
	return func(eng *Engine) { eng.inventory = inv }
}

// WithJobStore moves resumption jobs to a separate store, such as
// store/redis. When it also implements cron.Store the maintenance locks
// move with it.
func WithJobStore(js job.Store) Option {
	return func(eng *Engine) {
		eng.jobStore = js
		if cs, ok := js.(cron.Store); ok {
			eng.cronStore = cs
		}
	}
}

// Build creates an Engine from an existing Manager.
// The Manager's store must implement store.Store.
func Build(m *manager.Manager, opts ...Option) (*Engine, error) {
	logger := m.Logger()
	if m.Store() == nil {
		return nil, manager.ErrNoStore
	}
	s, ok := m.Store().(store.Store)
	if !ok {
		return nil, fmt.Errorf("manager: store does not implement store.Store")
	}

	eng := &Engine{
		m:          m,
		store:      s,
		jobStore:   s,
		cronStore:  s,
		extensions: ext.NewRegistry(logger),
		registry:   job.NewRegistry(),
		logger:     logger,
	}

	for _, opt := range opts {
		opt(eng)
	}

	if eng.oracle == nil {
		return nil, manager.ErrNoOracle
	}
	if eng.gateway == nil {
		if g, ok := eng.channel.(approval.Gateway); ok {
			eng.gateway = g
		} else {
			return nil, manager.ErrNoGateway
		}
	}
	if eng.dispatcher == nil {
		eng.dispatcher = executor.NewPull(logger)
	}
	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}

	config := m.Config()

	if _, wrapped := eng.oracle.(*oracle.Retrying); !wrapped {
		ropts := []oracle.RetryOption{
			oracle.WithAttempts(config.OracleAttempts),
			oracle.WithLogger(logger),
		}
		if config.OracleRateLimit > 0 {
			ropts = append(ropts, oracle.WithRateLimit(config.OracleRateLimit, 1))
		}
		eng.oracle = oracle.NewRetrying(eng.oracle, ropts...)
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/bprzybys-nc/manager-sub001/observability")
		obsExt = observability.NewMetricsExtensionWithMeter(meter)
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	eng.broker = stream.NewBroker(logger)
	eng.extensions.Register(eng.broker)

	if eng.channel != nil {
		eng.extensions.Register(chathook.New(eng.channel, s, chathook.WithLogger(logger)))
	}

	// Create the workflow runner. ext.Registry is its emitter.
	ropts := []workflow.RunnerOption{workflow.WithConfig(config)}
	if eng.locker != nil {
		ropts = append(ropts, workflow.WithLocker(eng.locker))
	}
	if eng.inventory != nil {
		ropts = append(ropts, workflow.WithInventory(eng.inventory))
	}
	eng.runner = workflow.NewRunner(s, eng.oracle, eng.dispatcher, eng.gateway, eng.channel, eng.extensions, logger, ropts...)

	eng.registerHandlers()

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/bprzybys-nc/manager-sub001"))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/bprzybys-nc/manager-sub001"))
	} else {
		metricsMw = mw.Metrics()
	}

	// Default middleware stack: recover → tracing → metrics → logging → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	exec := worker.NewExecutor(eng.registry, eng.extensions, eng.jobStore, eng.bo, logger, allMws...)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(config.Concurrency),
		worker.WithPoolQueues(config.Queues),
		worker.WithPollInterval(config.PollInterval),
		worker.WithHeartbeatInterval(config.HeartbeatInterval),
		worker.WithStaleJobThreshold(config.StaleJobThreshold),
	}

	if len(eng.queueConfigs) > 0 || len(eng.kindConfigs) > 0 {
		eng.queueManager = queue.NewManager(eng.queueConfigs...)
		for _, kc := range eng.kindConfigs {
			eng.queueManager.SetKindConfig(kc)
		}
		poolOpts = append(poolOpts, worker.WithQueueManager(eng.queueManager))
	}

	eng.pool = worker.NewPool(eng.jobStore, exec, eng.extensions, logger, poolOpts...)

	// Wire back into the Manager.
	m.SetPool(eng.pool)
	m.SetExtensions(eng.extensions)

	eng.scheduler = cron.NewScheduler(eng.cronStore, eng.extensions, eng.pool.WorkerID(), logger)
	if err := eng.scheduler.Register(cron.Entry{
		Name:     StaleSweepEntry,
		Schedule: config.StaleSweepSchedule,
		Task:     eng.sweepStale,
	}); err != nil {
		return nil, err
	}

	return eng, nil
}

// registerHandlers binds the four resumption messages to the runner.
func (eng *Engine) registerHandlers() {
	Register(eng, job.NewDefinition(job.NameStartIncident,
		func(ctx context.Context, p job.StartIncident) error {
			_, err := eng.runner.Start(ctx, p.IncidentID)
			return eng.classify(p.IncidentID, err)
		},
	))
	Register(eng, job.NewDefinition(job.NameBatchCompleted,
		func(ctx context.Context, p job.BatchCompleted) error {
			return eng.classify(p.IncidentID, eng.runner.OnBatchCompleted(ctx, p.BatchID, p.Results))
		},
		job.WithPriority(1),
	))
	Register(eng, job.NewDefinition(job.NameApprovalAnswered,
		func(ctx context.Context, p job.ApprovalAnswered) error {
			return eng.classify(p.IncidentID, eng.runner.OnApprovalAnswered(ctx, p.CorrelationID, p.Approved))
		},
		job.WithPriority(1),
	))
	Register(eng, job.NewDefinition(job.NameResumeIncident,
		func(ctx context.Context, p job.ResumeIncident) error {
			return eng.classify(p.IncidentID, eng.runner.Resume(ctx, p.IncidentID, p.TaskIDs, p.QuestionIDs))
		},
	))
}

// classify marks errors that a retry cannot fix as permanent.
func (eng *Engine) classify(incidentID string, err error) error {
	if err == nil {
		return nil
	}
	var cerr *workflow.ClosureError
	switch {
	case errors.Is(err, manager.ErrWorkflowNotFound):
		eng.logger.Warn("no workflow found for incident",
			slog.String("incident_id", incidentID),
		)
		return job.Permanent(err)
	case errors.Is(err, manager.ErrIncidentNotFound),
		errors.Is(err, manager.ErrIncidentTerminal),
		errors.Is(err, manager.ErrSuspensionNotFound),
		errors.Is(err, manager.ErrQuestionNotFound),
		errors.As(err, &cerr):
		return job.Permanent(err)
	}
	return err
}

func (eng *Engine) sweepStale(ctx context.Context) error {
	n, err := eng.runner.SweepStale(ctx)
	if n > 0 {
		eng.logger.Info("stale incidents flagged", slog.Int("count", n))
	}
	return err
}

// Register registers a typed job definition with the engine.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.registry, def)
}

// Enqueue creates and enqueues a job. The payload's routing key becomes
// the job's incident.
func Enqueue[T any](ctx context.Context, eng *Engine, name string, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for job %q: %w", name, err)
	}

	return eng.EnqueueRaw(ctx, name, job.RoutingKey(payload), data, opts...)
}

// EnqueueRaw enqueues a job with a pre-serialized payload. Options
// registered with the job name apply first, opts override them.
func (eng *Engine) EnqueueRaw(ctx context.Context, name, incidentID string, payload []byte, opts ...job.Option) (*job.Job, error) {
	jobOpts, ok := eng.registry.Options(name)
	if !ok {
		jobOpts = job.DefaultOptions()
	}
	for _, opt := range opts {
		opt(&jobOpts)
	}

	now := time.Now().UTC()
	j := &job.Job{
		Entity:     manager.NewEntity(),
		ID:         id.NewJobID(),
		Name:       name,
		Queue:      jobOpts.Queue,
		IncidentID: incidentID,
		Payload:    payload,
		State:      job.StatePending,
		Priority:   jobOpts.Priority,
		MaxRetries: jobOpts.MaxRetries,
		Timeout:    jobOpts.Timeout,
		RunAt:      now,
	}
	if !jobOpts.RunAt.IsZero() {
		j.RunAt = jobOpts.RunAt
	}

	if err := eng.jobStore.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}

	eng.extensions.EmitJobEnqueued(ctx, j)
	return j, nil
}

// ──────────────────────────────────────────────────
// Incident entry points
// ──────────────────────────────────────────────────

// CreateIncident persists a new open incident and enqueues the start of
// its workflow. A missing id is generated.
func (eng *Engine) CreateIncident(ctx context.Context, inc *incident.Incident) (*job.Job, error) {
	if inc.Hostname == "" {
		return nil, errors.New("manager: incident needs a hostname")
	}
	if inc.ID == "" {
		inc.ID = id.NewIncident()
	}
	if inc.Type == "" {
		inc.Type = incident.TypeOther
	}
	inc.Entity = manager.NewEntity()
	inc.Status = incident.StatusOpen
	if err := eng.store.CreateIncident(ctx, inc); err != nil {
		return nil, err
	}
	eng.logger.Info("incident created",
		slog.String("incident_id", inc.ID),
		slog.String("hostname", inc.Hostname),
		slog.String("type", string(inc.Type)),
	)
	return Enqueue(ctx, eng, job.NameStartIncident, job.StartIncident{IncidentID: inc.ID})
}

// CompleteBatch enqueues the outputs an agent reported for a batch.
func (eng *Engine) CompleteBatch(ctx context.Context, batchID string, results map[string]string) (*job.Job, error) {
	b, err := eng.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return Enqueue(ctx, eng, job.NameBatchCompleted, job.BatchCompleted{
		IncidentID: b.IncidentID,
		BatchID:    batchID,
		Results:    results,
	})
}

// AnswerApproval enqueues a human answer for the question with the given
// correlation id.
func (eng *Engine) AnswerApproval(ctx context.Context, correlationID string, approved bool) (*job.Job, error) {
	q, err := eng.store.GetQuestionByCorrelation(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	return Enqueue(ctx, eng, job.NameApprovalAnswered, job.ApprovalAnswered{
		IncidentID:    q.IncidentID,
		CorrelationID: correlationID,
		Approved:      approved,
	})
}

// RequestResume enqueues a re-evaluation of an incident.
func (eng *Engine) RequestResume(ctx context.Context, incidentID string, taskIDs, questionIDs []string) (*job.Job, error) {
	if _, err := eng.store.GetIncident(ctx, incidentID); err != nil {
		return nil, err
	}
	return Enqueue(ctx, eng, job.NameResumeIncident, job.ResumeIncident{
		IncidentID:  incidentID,
		TaskIDs:     taskIDs,
		QuestionIDs: questionIDs,
	})
}

// CloseIncident closes an incident on operator request. A refusal is a
// *workflow.ClosureError.
func (eng *Engine) CloseIncident(ctx context.Context, incidentID string) error {
	return eng.runner.CloseIncident(ctx, incidentID)
}

// IgnoreIncident marks an incident ignored.
func (eng *Engine) IgnoreIncident(ctx context.Context, incidentID string) error {
	return eng.runner.IgnoreIncident(ctx, incidentID)
}

// ClaimBatch hands the oldest visible batch of an incident to an agent.
func (eng *Engine) ClaimBatch(ctx context.Context, incidentID string) (*executor.Claimed, error) {
	return executor.Claim(ctx, eng.store, incidentID)
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Start resumes workflows interrupted by a crash, then starts the cron
// scheduler and the worker pool.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.runner.ResumeAll(ctx); err != nil {
		eng.logger.Warn("failed to resume workflows",
			slog.String("error", err.Error()),
		)
	}

	if err := eng.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start cron scheduler: %w", err)
	}

	return eng.m.Start(ctx)
}

// Stop gracefully shuts down the engine.
func (eng *Engine) Stop(ctx context.Context) error {
	if err := eng.scheduler.Stop(ctx); err != nil {
		eng.logger.Error("cron scheduler stop error", slog.String("error", err.Error()))
	}

	return eng.m.Stop(ctx)
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Manager returns the underlying Manager.
func (eng *Engine) Manager() *manager.Manager { return eng.m }

// Store returns the composite store.
func (eng *Engine) Store() store.Store { return eng.store }

// JobStore returns the store resumption jobs live in.
func (eng *Engine) JobStore() job.Store { return eng.jobStore }

// Runner returns the workflow runner.
func (eng *Engine) Runner() *workflow.Runner { return eng.runner }

// Broker returns the lifecycle event broker.
func (eng *Engine) Broker() *stream.Broker { return eng.broker }

// Scheduler returns the cron scheduler.
func (eng *Engine) Scheduler() *cron.Scheduler { return eng.scheduler }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// QueueManager returns the queue manager, or nil if no queue configs
// were provided.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }
