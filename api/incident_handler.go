package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/bprzybys-nc/manager-sub001/incident"
	"github.com/bprzybys-nc/manager-sub001/task"
	"github.com/bprzybys-nc/manager-sub001/workflow"
)

func (a *API) createIncident(c echo.Context) error {
	var req CreateIncidentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Hostname) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "hostname is required")
	}

	inc := &incident.Incident{
		ID:          req.ID,
		Hostname:    req.Hostname,
		Type:        incident.Type(req.Type),
		Description: req.Description,
		Data:        req.Data,
	}
	j, err := a.eng.CreateIncident(c.Request().Context(), inc)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusAccepted, AcceptedResponse{IncidentID: inc.ID, JobID: j.ID.String()})
}

func (a *API) listIncidents(c echo.Context) error {
	opts := incident.ListOpts{Status: incident.Status(c.QueryParam("status"))}
	if opts.Status != "" && !opts.Status.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown status")
	}
	var err error
	if opts.Limit, opts.Offset, err = pagination(c); err != nil {
		return err
	}
	incs, err := a.eng.Store().ListIncidents(c.Request().Context(), opts)
	if err != nil {
		return err
	}
	if incs == nil {
		incs = []*incident.Incident{}
	}
	return c.JSON(http.StatusOK, incs)
}

func (a *API) getIncident(c echo.Context) error {
	inc, err := a.eng.Store().GetIncident(c.Request().Context(), c.Param("incidentId"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, inc)
}

func (a *API) closeIncident(c echo.Context) error {
	if err := a.eng.CloseIncident(c.Request().Context(), c.Param("incidentId")); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (a *API) ignoreIncident(c echo.Context) error {
	if err := a.eng.IgnoreIncident(c.Request().Context(), c.Param("incidentId")); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (a *API) resumeIncident(c echo.Context) error {
	var req ResumeRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}
	incidentID := c.Param("incidentId")
	j, err := a.eng.RequestResume(c.Request().Context(), incidentID, req.TaskIDs, req.QuestionIDs)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusAccepted, AcceptedResponse{IncidentID: incidentID, JobID: j.ID.String()})
}

func (a *API) listTasks(c echo.Context) error {
	var states []task.State
	if raw := c.QueryParam("state"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			states = append(states, task.State(s))
		}
	}
	tasks, err := a.eng.Store().ListTasksByIncident(c.Request().Context(), c.Param("incidentId"), states...)
	if err != nil {
		return mapError(err)
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	return c.JSON(http.StatusOK, tasks)
}

func (a *API) addComment(c echo.Context) error {
	var req CommentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}
	err := a.eng.Store().AddTaskComment(c.Request().Context(), c.Param("taskId"), task.Comment{
		Author:    req.Author,
		Text:      req.Text,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (a *API) listQuestions(c echo.Context) error {
	qs, err := a.eng.Store().ListQuestionsByIncident(c.Request().Context(), c.Param("incidentId"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, qs)
}

func (a *API) getWorkflow(c echo.Context) error {
	ctx := c.Request().Context()
	incidentID := c.Param("incidentId")

	inst, err := a.eng.Store().GetInstance(ctx, incidentID)
	if err != nil {
		return mapError(err)
	}
	unresolved := c.QueryParam("all") != "true"
	sps, err := a.eng.Store().ListSuspensions(ctx, incidentID, unresolved)
	if err != nil {
		return err
	}
	if sps == nil {
		sps = []*workflow.SuspensionPoint{}
	}
	return c.JSON(http.StatusOK, WorkflowResponse{Instance: inst, Suspensions: sps})
}

// pagination reads limit and offset query parameters.
func pagination(c echo.Context) (limit, offset int, err error) {
	limit, offset = 50, 0
	if v := c.QueryParam("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			return 0, 0, echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, echo.NewHTTPError(http.StatusBadRequest, "invalid offset")
		}
	}
	return limit, offset, nil
}
