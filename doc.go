// Package manager provides a durable incident-workflow engine. An incident
// is driven from creation to closure through oracle decision steps, remote
// command executions and human approval gates, surviving process restarts,
// duplicate callbacks and out-of-order resumption signals.
//
// The engine is designed as a library. Configure a store, an oracle, an
// execution dispatcher and an approval gateway, then drive incidents through
// the resumption entry points exposed by the workflow package.
//
// # Quick Start
//
//	eng, err := engine.Build(mgr,
//	    engine.WithOracle(oracle.NewModel(openai.New())),
//	    engine.WithDispatcher(executor.NewPull(logger)),
//	    engine.WithChannel(chat.NewWebhook(url, nil)),
//	)
//
// # Architecture
//
// Each subsystem (incident, task, approval, workflow, job) defines its own
// store interface and a single backend implements all of them. Steps of one
// incident run sequentially; different incidents run in parallel on the
// worker pool.
package manager
