package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	manager "github.com/bprzybys-nc/manager-sub001"
	"github.com/bprzybys-nc/manager-sub001/id"
	"github.com/bprzybys-nc/manager-sub001/job"
)

const jobColumns = `id, name, queue, incident_id, payload, state, priority, max_retries, retry_count,
	last_error, worker_id, run_at, started_at, completed_at, heartbeat_at, created_at, updated_at,
	timeout`

// EnqueueJob persists a new job in pending state.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (`+jobColumns+`) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9,
			$10, $11, $12, $13, $14, $15, $16, $17,
			$18
		)`,
		j.ID.String(), j.Name, j.Queue, j.IncidentID, j.Payload, string(j.State),
		j.Priority, j.MaxRetries, j.RetryCount,
		j.LastError, workerString(j.WorkerID), j.RunAt, j.StartedAt, j.CompletedAt, j.HeartbeatAt,
		j.CreatedAt, j.UpdatedAt,
		j.Timeout.Nanoseconds(),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return manager.ErrJobAlreadyExists
		}
		return fmt.Errorf("manager/postgres: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs atomically claims up to limit runnable jobs. Candidate rows
// are locked with SKIP LOCKED; busy incidents are filtered out and only
// the first job of each incident is taken.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, busy []string, limit int) ([]*job.Job, error) {
	if queues == nil {
		queues = []string{}
	}
	if busy == nil {
		busy = []string{}
	}
	rows, err := s.pool.Query(ctx, `
		WITH candidates AS (
			SELECT id, incident_id, priority, run_at FROM jobs
			WHERE state IN ('pending', 'retrying')
			  AND run_at <= NOW()
			  AND (cardinality($1::text[]) = 0 OR queue = ANY($1))
			  AND NOT (incident_id = ANY($2::text[]))
			ORDER BY priority DESC, run_at ASC, id ASC
			FOR UPDATE SKIP LOCKED
		), ranked AS (
			SELECT id, priority, run_at, ROW_NUMBER() OVER (
				PARTITION BY CASE WHEN incident_id = '' THEN id ELSE incident_id END
				ORDER BY priority DESC, run_at ASC, id ASC
			) AS rn
			FROM candidates
		), picked AS (
			SELECT id FROM ranked WHERE rn = 1
			ORDER BY priority DESC, run_at ASC, id ASC
			LIMIT NULLIF($3, 0)
		), dequeued AS (
			UPDATE jobs
			SET state = 'running', started_at = NOW(), heartbeat_at = NOW(), updated_at = NOW()
			WHERE id IN (SELECT id FROM picked)
			RETURNING `+jobColumns+`
		)
		SELECT * FROM dequeued ORDER BY priority DESC, run_at ASC, id ASC`,
		queues, busy, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("manager/postgres: dequeue jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID.String()))
	if err != nil {
		if isNoRows(err) {
			return nil, manager.ErrJobNotFound
		}
		return nil, fmt.Errorf("manager/postgres: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
			name = $2, queue = $3, incident_id = $4, payload = $5, state = $6,
			priority = $7, max_retries = $8, retry_count = $9,
			last_error = $10, worker_id = $11, run_at = $12, started_at = $13,
			completed_at = $14, heartbeat_at = $15, timeout = $16,
			updated_at = NOW()
		WHERE id = $1`,
		j.ID.String(), j.Name, j.Queue, j.IncidentID, j.Payload, string(j.State),
		j.Priority, j.MaxRetries, j.RetryCount,
		j.LastError, workerString(j.WorkerID), j.RunAt, j.StartedAt,
		j.CompletedAt, j.HeartbeatAt, j.Timeout.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("manager/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return manager.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("manager/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return manager.ErrJobNotFound
	}
	return nil
}

// ListJobsByState returns jobs in a state, oldest first.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	var w where
	w.add("state = ?", string(state))
	if opts.Queue != "" {
		w.add("queue = ?", opts.Queue)
	}
	if opts.IncidentID != "" {
		w.add("incident_id = ?", opts.IncidentID)
	}
	query := `SELECT ` + jobColumns + ` FROM jobs` + w.String() +
		` ORDER BY created_at ASC` + w.page(opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("manager/postgres: list jobs by state: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// HeartbeatJob refreshes a running job's heartbeat.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET heartbeat_at = NOW(), worker_id = $2, updated_at = NOW() WHERE id = $1`,
		jobID.String(), workerString(workerID),
	)
	if err != nil {
		return fmt.Errorf("manager/postgres: heartbeat job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return manager.ErrJobNotFound
	}
	return nil
}

// ReapStaleJobs returns running jobs whose heartbeat is older than
// threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE state = 'running'
		  AND COALESCE(heartbeat_at, started_at) < $1`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("manager/postgres: reap stale jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching opts.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	var w where
	if opts.Queue != "" {
		w.add("queue = ?", opts.Queue)
	}
	if opts.State != "" {
		w.add("state = ?", string(opts.State))
	}

	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs`+w.String(), w.args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("manager/postgres: count jobs: %w", err)
	}
	return count, nil
}

func workerString(w id.WorkerID) string {
	if w.IsNil() {
		return ""
	}
	return w.String()
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		idStr     string
		stateStr  string
		workerStr string
		timeoutNs int64
	)
	err := row.Scan(
		&idStr, &j.Name, &j.Queue, &j.IncidentID, &j.Payload, &stateStr,
		&j.Priority, &j.MaxRetries, &j.RetryCount,
		&j.LastError, &workerStr, &j.RunAt, &j.StartedAt, &j.CompletedAt, &j.HeartbeatAt,
		&j.CreatedAt, &j.UpdatedAt,
		&timeoutNs,
	)
	if err != nil {
		return nil, err
	}

	j.State = job.State(stateStr)
	j.Timeout = time.Duration(timeoutNs)

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("manager/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	if workerStr != "" {
		if parsedWorker, workerErr := id.ParseWorkerID(workerStr); workerErr == nil {
			j.WorkerID = parsedWorker
		}
	}

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("manager/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("manager/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
