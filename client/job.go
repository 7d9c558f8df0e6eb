package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/bprzybys-nc/manager-sub001/api"
	"github.com/bprzybys-nc/manager-sub001/job"
)

// JobFilter narrows a job listing.
type JobFilter struct {
	State      job.State
	Queue      string
	IncidentID string
	Limit      int
	Offset     int
}

// ListJobs lists resumption jobs in one state (pending by default).
func (c *Client) ListJobs(ctx context.Context, f JobFilter) ([]*job.Job, error) {
	q := url.Values{}
	if f.State != "" {
		q.Set("state", string(f.State))
	}
	if f.Queue != "" {
		q.Set("queue", f.Queue)
	}
	if f.IncidentID != "" {
		q.Set("incident_id", f.IncidentID)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}
	var out []*job.Job
	if _, err := c.do(ctx, http.MethodGet, "/v1/jobs?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetJob retrieves a job by ID.
func (c *Client) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	var out job.Job
	if _, err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RetryJob requeues a failed job.
func (c *Client) RetryJob(ctx context.Context, jobID string) (*api.AcceptedResponse, error) {
	var out api.AcceptedResponse
	if _, err := c.do(ctx, http.MethodPost, "/v1/jobs/"+url.PathEscape(jobID)+"/retry", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// JobCounts counts jobs per state.
func (c *Client) JobCounts(ctx context.Context) (*api.JobCountsResponse, error) {
	var out api.JobCountsResponse
	if _, err := c.do(ctx, http.MethodGet, "/v1/jobs/counts", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stats retrieves queue, workflow and stream statistics.
func (c *Client) Stats(ctx context.Context) (*api.StatsResponse, error) {
	var out api.StatsResponse
	if _, err := c.do(ctx, http.MethodGet, "/v1/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
