package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/bprzybys-nc/manager-sub001/approval"
	"github.com/bprzybys-nc/manager-sub001/cron"
	"github.com/bprzybys-nc/manager-sub001/incident"
	"github.com/bprzybys-nc/manager-sub001/job"
	"github.com/bprzybys-nc/manager-sub001/task"
	"github.com/bprzybys-nc/manager-sub001/workflow"
)

// Collection name constants.
const (
	colIncidents   = "incidents"
	colTasks       = "tasks"
	colBatches     = "batches"
	colQuestions   = "questions"
	colInstances   = "workflow_instances"
	colSuspensions = "workflow_suspensions"
	colJobs        = "jobs"
	colCronLocks   = "cron_locks"
)

// Ensure Store implements all subsystem interfaces at compile time.
var (
	_ incident.Store = (*Store)(nil)
	_ task.Store     = (*Store)(nil)
	_ approval.Store = (*Store)(nil)
	_ workflow.Store = (*Store)(nil)
	_ job.Store      = (*Store)(nil)
	_ cron.Store     = (*Store)(nil)
)

// Store implements store.Store on a MongoDB database.
// The caller owns the client lifecycle; Store never disconnects it.
type Store struct {
	db     *mongod.Database
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a new MongoDB store on db.
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying database for advanced usage.
func (s *Store) DB() *mongod.Database {
	return s.db
}

func (s *Store) col(name string) *mongod.Collection {
	return s.db.Collection(name)
}

// Migrate creates indexes for all collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		if _, err := s.col(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("manager/mongo: migrate %s indexes: %w", col, err)
		}
		s.logger.Debug("mongo indexes ensured", slog.String("collection", col), slog.Int("count", len(models)))
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// Close is a no-op because the caller owns the client.
func (s *Store) Close() error {
	return nil
}

// ── helpers ──────────────────────────────────────────────────────

// now returns the current UTC time truncated to MongoDB's millisecond
// precision.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// isDuplicateKey checks if a MongoDB error is a duplicate key violation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if mongod.IsDuplicateKeyError(err) {
		return true
	}
	return strings.Contains(err.Error(), "duplicate key") ||
		strings.Contains(err.Error(), "E11000")
}

// exists reports whether a document matching filter is present.
func (s *Store) exists(ctx context.Context, col string, filter bson.M) (bool, error) {
	n, err := s.col(col).CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// pageOpts applies offset and limit to a find.
func pageOpts(o *options.FindOptionsBuilder, offset, limit int) *options.FindOptionsBuilder {
	if offset > 0 {
		o = o.SetSkip(int64(offset))
	}
	if limit > 0 {
		o = o.SetLimit(int64(limit))
	}
	return o
}

// migrationIndexes returns the index definitions for all collections.
func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colIncidents: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		colTasks: {
			{Keys: bson.D{{Key: "incident_id", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "batch_id", Value: 1}}},
		},
		colBatches: {
			// Agent claim: oldest visible batch per incident.
			{Keys: bson.D{
				{Key: "incident_id", Value: 1},
				{Key: "visible", Value: 1},
				{Key: "created_at", Value: 1},
			}},
		},
		colQuestions: {
			// One question per task and per correlation id.
			{
				Keys:    bson.D{{Key: "task_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{
				Keys:    bson.D{{Key: "correlation_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "incident_id", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		colInstances: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		colSuspensions: {
			{Keys: bson.D{
				{Key: "incident_id", Value: 1},
				{Key: "resolved_at", Value: 1},
				{Key: "created_at", Value: 1},
			}},
		},
		colJobs: {
			// Dequeue index: queue + state + priority + run_at.
			{Keys: bson.D{
				{Key: "queue", Value: 1},
				{Key: "state", Value: 1},
				{Key: "priority", Value: -1},
				{Key: "run_at", Value: 1},
			}},
			{Keys: bson.D{{Key: "incident_id", Value: 1}, {Key: "state", Value: 1}}},
			// Heartbeat index for reaping stale jobs.
			{Keys: bson.D{
				{Key: "state", Value: 1},
				{Key: "heartbeat_at", Value: 1},
			}},
		},
	}
}
