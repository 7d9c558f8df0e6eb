// Package store defines the aggregate persistence interface.
//
// The composite interface:
//
//	type Store interface {
//	    incident.Store
//	    task.Store
//	    approval.Store
//	    workflow.Store
//	    job.Store
//	    cron.Store
//
//	    Migrate(ctx context.Context) error
//	    Ping(ctx context.Context) error
//	    Close() error
//	}
//
// Every conditional write the workflow relies on is atomic in each
// backend: a question per task, hiding a batch, resolving a suspension,
// terminal incident transitions and the instance revision check.
//
// # Available Backends
//
//   - store/memory: in-memory store for development and testing
//   - store/mongo: MongoDB backend using mongo-driver v2
//   - store/postgres: PostgreSQL backend using pgx/v5
//   - store/redis: job queue and incident lock on Redis (partial)
//
// # Migrations
//
// Call Migrate once at startup to create or update the schema:
//
//	if err := s.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package store
