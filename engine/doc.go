// Package engine wires the incident subsystems together and provides the
// application-level API: incident intake, agent and approval callbacks,
// operator actions and batch claims.
//
// The engine package exists to break an import cycle: the root manager
// package defines Entity and the shared configuration (imported by
// incident, task, workflow, job, etc.) and therefore cannot import those
// packages back. Engine sits above all subsystem packages and below the
// application layer (api, cmd).
//
// # Building an Engine
//
//	m, err := manager.New(
//	    manager.WithStore(pgStore),
//	    manager.WithConcurrency(20),
//	)
//
//	eng, err := engine.Build(m,
//	    engine.WithOracle(oracle.NewModel(openai.New(openai.WithAPIKey(key)))),
//	    engine.WithChannel(chat.NewWebhook(url, nil)),
//	    engine.WithLocker(redis.NewLocker(rdb)),
//	    engine.WithBackoff(backoff.Exponential()),
//	)
//
// Build registers one job definition per resumption message (start,
// batch completed, approval answered, resume) and the stale-sweep cron
// entry. Every external event is turned into a job keyed by its incident,
// so a worker pool never runs two jobs of one incident at once.
//
// # Driving Incidents
//
//	eng.CreateIncident(ctx, &incident.Incident{Hostname: "db-1", Type: incident.TypeLowFreeSpace})
//	eng.ClaimBatch(ctx, incidentID)
//	eng.CompleteBatch(ctx, batchID, outputs)
//	eng.AnswerApproval(ctx, correlationID, true)
//	eng.CloseIncident(ctx, incidentID)
//
// # Options
//
//   - [WithOracle] sets the reasoning backend (required)
//   - [WithGateway] and [WithChannel] set where questions and narration go
//   - [WithDispatcher] sets how batches reach agents
//   - [WithLocker] sets the per-incident lock
//   - [WithExtension] registers a lifecycle extension
//   - [WithMiddleware] adds a middleware to the execution chain
//   - [WithQueueConfig] and [WithKindConfig] configure rate limits
//   - [WithTracerProvider] and [WithMeterProvider] set OpenTelemetry providers
package engine
