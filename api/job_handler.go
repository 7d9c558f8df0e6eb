package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/bprzybys-nc/manager-sub001/id"
	"github.com/bprzybys-nc/manager-sub001/job"
)

func (a *API) listJobs(c echo.Context) error {
	state := job.State(c.QueryParam("state"))
	if state == "" {
		state = job.StatePending
	}
	limit, offset, err := pagination(c)
	if err != nil {
		return err
	}

	jobs, err := a.eng.JobStore().ListJobsByState(c.Request().Context(), state, job.ListOpts{
		Limit:      limit,
		Offset:     offset,
		Queue:      c.QueryParam("queue"),
		IncidentID: c.QueryParam("incident_id"),
	})
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	return c.JSON(http.StatusOK, jobs)
}

func (a *API) getJob(c echo.Context) error {
	jobID, err := id.ParseJobID(c.Param("jobId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid job ID: %v", err))
	}
	j, err := a.eng.JobStore().GetJob(c.Request().Context(), jobID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, j)
}

// retryJob puts a failed job back on its queue with a fresh retry budget.
func (a *API) retryJob(c echo.Context) error {
	jobID, err := id.ParseJobID(c.Param("jobId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid job ID: %v", err))
	}
	ctx := c.Request().Context()
	js := a.eng.JobStore()

	j, err := js.GetJob(ctx, jobID)
	if err != nil {
		return mapError(err)
	}
	if j.State != job.StateFailed {
		return echo.NewHTTPError(http.StatusConflict, fmt.Sprintf("only failed jobs can be retried, current state: %s", j.State))
	}

	j.State = job.StatePending
	j.RetryCount = 0
	j.LastError = ""
	j.WorkerID = id.Nil
	j.RunAt = time.Now().UTC()
	j.StartedAt = nil
	j.CompletedAt = nil
	j.HeartbeatAt = nil
	if err := js.UpdateJob(ctx, j); err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	a.eng.Extensions().EmitJobEnqueued(ctx, j)
	return c.JSON(http.StatusAccepted, AcceptedResponse{IncidentID: j.IncidentID, JobID: j.ID.String()})
}

func (a *API) jobCounts(c echo.Context) error {
	resp, err := a.countJobs(c.Request().Context(), c.QueryParam("queue"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (a *API) countJobs(ctx context.Context, queue string) (JobCountsResponse, error) {
	var resp JobCountsResponse
	for _, state := range []job.State{
		job.StatePending,
		job.StateRunning,
		job.StateCompleted,
		job.StateFailed,
		job.StateRetrying,
	} {
		count, err := a.eng.JobStore().CountJobs(ctx, job.CountOpts{Queue: queue, State: state})
		if err != nil {
			return resp, fmt.Errorf("count jobs (%s): %w", state, err)
		}
		switch state {
		case job.StatePending:
			resp.Pending = count
		case job.StateRunning:
			resp.Running = count
		case job.StateCompleted:
			resp.Completed = count
		case job.StateFailed:
			resp.Failed = count
		case job.StateRetrying:
			resp.Retrying = count
		}
	}
	return resp, nil
}
