package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/bprzybys-nc/manager-sub001/workflow"
)

func (a *API) stats(c echo.Context) error {
	ctx := c.Request().Context()
	cfg := a.eng.Manager().Config()

	jobs, err := a.countJobs(ctx, "")
	if err != nil {
		return err
	}
	resp := StatsResponse{
		Jobs:      jobs,
		Queues:    make(map[string]JobCountsResponse, len(cfg.Queues)),
		Workflows: make(map[workflow.Status]int),
		Stream:    a.eng.Broker().Stats(),
		Worker: WorkerStats{
			ID:          a.eng.Pool().WorkerID().String(),
			Concurrency: cfg.Concurrency,
		},
	}
	if len(cfg.Queues) > 1 {
		for _, q := range cfg.Queues {
			if resp.Queues[q], err = a.countJobs(ctx, q); err != nil {
				return err
			}
		}
	}

	for _, st := range []workflow.Status{
		workflow.StatusActive,
		workflow.StatusWaiting,
		workflow.StatusCompleted,
		workflow.StatusFailed,
		workflow.StatusRetired,
	} {
		insts, err := a.eng.Store().ListInstances(ctx, workflow.ListOpts{Status: st})
		if err != nil {
			return err
		}
		resp.Workflows[st] = len(insts)
	}
	return c.JSON(http.StatusOK, resp)
}
