package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	manager "github.com/bprzybys-nc/manager-sub001"
)

// claimBatch hands the oldest visible batch of an incident to an agent.
// 204 means there is nothing to run.
func (a *API) claimBatch(c echo.Context) error {
	claimed, err := a.eng.ClaimBatch(c.Request().Context(), c.Param("incidentId"))
	if errors.Is(err, manager.ErrBatchNotFound) {
		return c.NoContent(http.StatusNoContent)
	}
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, claimed)
}

func (a *API) batchResults(c echo.Context) error {
	var req BatchResultsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	j, err := a.eng.CompleteBatch(c.Request().Context(), c.Param("batchId"), req.Results)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusAccepted, AcceptedResponse{IncidentID: j.IncidentID, JobID: j.ID.String()})
}

func (a *API) answerApproval(c echo.Context) error {
	var req ApprovalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	j, err := a.eng.AnswerApproval(c.Request().Context(), c.Param("correlationId"), req.Approved)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusAccepted, AcceptedResponse{IncidentID: j.IncidentID, JobID: j.ID.String()})
}
