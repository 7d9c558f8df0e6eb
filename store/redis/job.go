package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	manager "github.com/bprzybys-nc/manager-sub001"
	"github.com/bprzybys-nc/manager-sub001/id"
	"github.com/bprzybys-nc/manager-sub001/job"
)

// dequeueScript walks the queue sorted sets in order and claims runnable
// jobs. A job is skipped while its run_at lies in the future or its
// incident is busy; each claimed incident becomes busy for the rest of the
// call.
//
// KEYS: queue keys. ARGV: limit, now (unix ms), timestamp, job key
// prefix, busy count, busy incident ids...
var dequeueScript = goredis.NewScript(`
local limit = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local stamp = ARGV[3]
local prefix = ARGV[4]
local nbusy = tonumber(ARGV[5])
local skip = {}
for i = 1, nbusy do skip[ARGV[5 + i]] = true end

local claimed = {}
for _, q in ipairs(KEYS) do
  local ids = redis.call('ZRANGE', q, 0, -1)
  for _, jid in ipairs(ids) do
    if limit > 0 and #claimed >= limit then return claimed end
    local key = prefix .. jid
    local f = redis.call('HMGET', key, 'incident_id', 'run_at_ms')
    if not f[2] then
      redis.call('ZREM', q, jid)
    else
      local inc = f[1] or ''
      local runAt = tonumber(f[2]) or 0
      if runAt <= now and not (inc ~= '' and skip[inc]) then
        redis.call('ZREM', q, jid)
        redis.call('HSET', key, 'state', 'running', 'started_at', stamp, 'heartbeat_at', stamp, 'updated_at', stamp)
        if inc ~= '' then skip[inc] = true end
        table.insert(claimed, jid)
      end
    end
  end
end
return claimed
`)

// EnqueueJob stores the job as a Hash and adds it to the queue's Sorted Set.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("manager/redis: enqueue check exists: %w", err)
	}
	if exists > 0 {
		return manager.ErrJobAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	pipe.SAdd(ctx, jobIDsKey, jID)
	pipe.SAdd(ctx, queueNamesKey, j.Queue)
	if runnable(j.State) {
		pipe.ZAdd(ctx, queueKey(j.Queue), goredis.Z{Score: jobScore(j.Priority, j.RunAt), Member: jID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("manager/redis: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs claims up to limit runnable jobs from the given queues in a
// single script call. An empty queue list means every known queue.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, busy []string, limit int) ([]*job.Job, error) {
	if len(queues) == 0 {
		known, err := s.client.SMembers(ctx, queueNamesKey).Result()
		if err != nil {
			return nil, fmt.Errorf("manager/redis: dequeue list queues: %w", err)
		}
		sort.Strings(known)
		queues = known
	}
	if len(queues) == 0 {
		return nil, nil
	}

	keys := make([]string, len(queues))
	for i, q := range queues {
		keys[i] = queueKey(q)
	}
	now := time.Now().UTC()
	args := []any{limit, now.UnixMilli(), now.Format(time.RFC3339Nano), jobKeyPrefix, len(busy)}
	for _, b := range busy {
		args = append(args, b)
	}

	ids, err := dequeueScript.Run(ctx, s.client, keys, args...).StringSlice()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("manager/redis: dequeue script: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			return nil, getErr
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// UpdateJob persists changes to an existing job. A job moved back to
// pending or retrying re-enters its queue.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("manager/redis: update job exists: %w", err)
	}
	if exists == 0 {
		return manager.ErrJobNotFound
	}

	fields := jobToMap(j)
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	for _, f := range []string{"started_at", "completed_at", "heartbeat_at"} {
		if _, ok := fields[f]; !ok {
			pipe.HDel(ctx, key, f)
		}
	}
	if runnable(j.State) {
		pipe.ZAdd(ctx, queueKey(j.Queue), goredis.Z{Score: jobScore(j.Priority, j.RunAt), Member: jID})
	} else {
		pipe.ZRem(ctx, queueKey(j.Queue), jID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("manager/redis: update job: %w", err)
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	key := jobKey(jID)

	q, err := s.client.HGet(ctx, key, "queue").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return manager.ErrJobNotFound
		}
		return fmt.Errorf("manager/redis: delete job get queue: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, jobIDsKey, jID)
	pipe.ZRem(ctx, queueKey(q), jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("manager/redis: delete job: %w", err)
	}
	return nil
}

// allJobs loads every tracked job. Missing hashes are skipped.
func (s *Store) allJobs(ctx context.Context) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("manager/redis: list job ids: %w", err)
	}
	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// ListJobsByState returns jobs in a state, oldest first.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	all, err := s.allJobs(ctx)
	if err != nil {
		return nil, err
	}

	var jobs []*job.Job
	for _, j := range all {
		if j.State != state {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.IncidentID != "" && j.IncidentID != opts.IncidentID {
			continue
		}
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(a, b int) bool { return jobs[a].CreatedAt.Before(jobs[b].CreatedAt) })

	if opts.Offset > 0 {
		if opts.Offset >= len(jobs) {
			return nil, nil
		}
		jobs = jobs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(jobs) {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// HeartbeatJob updates the heartbeat timestamp for a running job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	key := jobKey(jobID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("manager/redis: heartbeat exists: %w", err)
	}
	if exists == 0 {
		return manager.ErrJobNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.client.HSet(ctx, key,
		"heartbeat_at", now,
		"worker_id", workerID.String(),
		"updated_at", now,
	).Err(); err != nil {
		return fmt.Errorf("manager/redis: heartbeat job: %w", err)
	}
	return nil
}

// ReapStaleJobs returns running jobs whose last heartbeat is older than
// the threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	all, err := s.allJobs(ctx)
	if err != nil {
		return nil, err
	}

	var stale []*job.Job
	for _, j := range all {
		if j.State != job.StateRunning {
			continue
		}
		last := j.HeartbeatAt
		if last == nil {
			last = j.StartedAt
		}
		if last != nil && last.Before(cutoff) {
			stale = append(stale, j)
		}
	}
	return stale, nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	all, err := s.allJobs(ctx)
	if err != nil {
		return 0, err
	}

	var count int64
	for _, j := range all {
		if opts.State != "" && j.State != opts.State {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		count++
	}
	return count, nil
}

// ── helpers ──

func runnable(s job.State) bool {
	return s == job.StatePending || s == job.StateRetrying
}

// jobScore computes a sorted-set score from priority and run_at.
// Lower score = dequeued first.
func jobScore(priority int, runAt time.Time) float64 {
	// Negative priority sorts higher priority first; the fractional time
	// component keeps FIFO within one priority.
	return float64(-priority) + float64(runAt.UnixMilli())/1e15
}

func jobToMap(j *job.Job) map[string]any {
	m := map[string]any{
		"id":          j.ID.String(),
		"name":        j.Name,
		"queue":       j.Queue,
		"incident_id": j.IncidentID,
		"payload":     string(j.Payload),
		"state":       string(j.State),
		"priority":    strconv.Itoa(j.Priority),
		"max_retries": strconv.Itoa(j.MaxRetries),
		"retry_count": strconv.Itoa(j.RetryCount),
		"last_error":  j.LastError,
		"worker_id":   "",
		"run_at":      j.RunAt.Format(time.RFC3339Nano),
		"run_at_ms":   strconv.FormatInt(runAtMillis(j.RunAt), 10),
		"timeout":     strconv.FormatInt(int64(j.Timeout), 10),
		"created_at":  j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":  j.UpdatedAt.Format(time.RFC3339Nano),
	}
	if !j.WorkerID.IsNil() {
		m["worker_id"] = j.WorkerID.String()
	}
	if j.StartedAt != nil {
		m["started_at"] = j.StartedAt.Format(time.RFC3339Nano)
	}
	if j.CompletedAt != nil {
		m["completed_at"] = j.CompletedAt.Format(time.RFC3339Nano)
	}
	if j.HeartbeatAt != nil {
		m["heartbeat_at"] = j.HeartbeatAt.Format(time.RFC3339Nano)
	}
	return m
}

// runAtMillis maps the zero time to 0 so unscheduled jobs are always due.
func runAtMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("manager/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, manager.ErrJobNotFound
	}
	return mapToJob(vals)
}

func parseTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil
	}
	return &t
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("manager/redis: parse job id: %w", err)
	}

	priority, _ := strconv.Atoi(m["priority"])           //nolint:errcheck // best-effort parse from trusted Redis data
	maxRetries, _ := strconv.Atoi(m["max_retries"])      //nolint:errcheck // best-effort parse from trusted Redis data
	retryCount, _ := strconv.Atoi(m["retry_count"])      //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		ID:          jID,
		Name:        m["name"],
		Queue:       m["queue"],
		IncidentID:  m["incident_id"],
		Payload:     []byte(m["payload"]),
		State:       job.State(m["state"]),
		Priority:    priority,
		MaxRetries:  maxRetries,
		RetryCount:  retryCount,
		LastError:   m["last_error"],
		Timeout:     time.Duration(timeout),
		StartedAt:   parseTime(m["started_at"]),
		CompletedAt: parseTime(m["completed_at"]),
		HeartbeatAt: parseTime(m["heartbeat_at"]),
	}
	if t := parseTime(m["run_at"]); t != nil {
		j.RunAt = *t
	}
	if t := parseTime(m["created_at"]); t != nil {
		j.CreatedAt = *t
	}
	if t := parseTime(m["updated_at"]); t != nil {
		j.UpdatedAt = *t
	}
	if wid := m["worker_id"]; wid != "" {
		j.WorkerID, _ = id.ParseWorkerID(wid) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	return j, nil
}
