package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	manager "github.com/bprzybys-nc/manager-sub001"
	"github.com/bprzybys-nc/manager-sub001/id"
	"github.com/bprzybys-nc/manager-sub001/job"
)

var runnableStates = []string{string(job.StatePending), string(job.StateRetrying)}

// EnqueueJob persists a new job in pending state.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	if _, err := s.col(colJobs).InsertOne(ctx, toJobModel(j)); err != nil {
		if isDuplicateKey(err) {
			return manager.ErrJobAlreadyExists
		}
		return fmt.Errorf("manager/mongo: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs claims up to limit runnable jobs, one FindOneAndUpdate per
// job. Busy incidents and incidents already claimed in this call are
// excluded, so at most one job per incident leaves per call.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, busy []string, limit int) ([]*job.Job, error) {
	t := now()
	col := s.col(colJobs)
	excluded := append([]string(nil), busy...)
	jobs := make([]*job.Job, 0, limit)

	for limit <= 0 || len(jobs) < limit {
		filter := bson.M{
			"state":  bson.M{"$in": runnableStates},
			"run_at": bson.M{"$lte": t},
		}
		if len(queues) > 0 {
			filter["queue"] = bson.M{"$in": queues}
		}
		if len(excluded) > 0 {
			filter["incident_id"] = bson.M{"$nin": excluded}
		}

		update := bson.M{
			"$set": bson.M{
				"state":        string(job.StateRunning),
				"started_at":   t,
				"heartbeat_at": t,
				"updated_at":   t,
			},
		}

		opts := options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetSort(bson.D{
				{Key: "priority", Value: -1},
				{Key: "run_at", Value: 1},
				{Key: "_id", Value: 1},
			})

		var m jobModel
		err := col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
		if err != nil {
			if isNoDocuments(err) {
				break
			}
			return nil, fmt.Errorf("manager/mongo: dequeue jobs: %w", err)
		}

		j, convErr := fromJobModel(&m)
		if convErr != nil {
			return nil, fmt.Errorf("manager/mongo: dequeue convert: %w", convErr)
		}
		jobs = append(jobs, j)
		if j.IncidentID != "" {
			excluded = append(excluded, j.IncidentID)
		}
	}

	return jobs, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var m jobModel
	err := s.col(colJobs).FindOne(ctx, bson.M{"_id": jobID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, manager.ErrJobNotFound
		}
		return nil, fmt.Errorf("manager/mongo: get job: %w", err)
	}
	return fromJobModel(&m)
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	m := toJobModel(j)
	m.UpdatedAt = now()
	res, err := s.col(colJobs).ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return fmt.Errorf("manager/mongo: update job: %w", err)
	}
	if res.MatchedCount == 0 {
		return manager.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.col(colJobs).DeleteOne(ctx, bson.M{"_id": jobID.String()})
	if err != nil {
		return fmt.Errorf("manager/mongo: delete job: %w", err)
	}
	if res.DeletedCount == 0 {
		return manager.ErrJobNotFound
	}
	return nil
}

// ListJobsByState returns jobs in a state, oldest first.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	filter := bson.M{"state": string(state)}
	if opts.Queue != "" {
		filter["queue"] = opts.Queue
	}
	if opts.IncidentID != "" {
		filter["incident_id"] = opts.IncidentID
	}
	findOpts := pageOpts(options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}), opts.Offset, opts.Limit)
	return s.findJobs(ctx, filter, findOpts)
}

func (s *Store) findJobs(ctx context.Context, filter bson.M, findOpts *options.FindOptionsBuilder) ([]*job.Job, error) {
	cursor, err := s.col(colJobs).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("manager/mongo: list jobs: %w", err)
	}
	defer cursor.Close(ctx)

	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("manager/mongo: list jobs decode: %w", err)
	}
	return fromJobModels(models)
}

// HeartbeatJob refreshes a running job's heartbeat.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	t := now()
	res, err := s.col(colJobs).UpdateOne(ctx,
		bson.M{"_id": jobID.String()},
		bson.M{"$set": bson.M{
			"heartbeat_at": t,
			"worker_id":    workerID.String(),
			"updated_at":   t,
		}},
	)
	if err != nil {
		return fmt.Errorf("manager/mongo: heartbeat job: %w", err)
	}
	if res.MatchedCount == 0 {
		return manager.ErrJobNotFound
	}
	return nil
}

// ReapStaleJobs returns running jobs whose heartbeat is older than
// threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	cutoff := now().Add(-threshold)
	filter := bson.M{
		"state": string(job.StateRunning),
		"$or": bson.A{
			bson.M{"heartbeat_at": bson.M{"$lt": cutoff}},
			bson.M{"heartbeat_at": nil, "started_at": bson.M{"$lt": cutoff}},
		},
	}
	return s.findJobs(ctx, filter, options.Find())
}

// CountJobs returns the number of jobs matching opts.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	filter := bson.M{}
	if opts.Queue != "" {
		filter["queue"] = opts.Queue
	}
	if opts.State != "" {
		filter["state"] = string(opts.State)
	}
	n, err := s.col(colJobs).CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("manager/mongo: count jobs: %w", err)
	}
	return n, nil
}
