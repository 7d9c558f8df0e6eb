package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/bprzybys-nc/manager-sub001/cron"
)

func (a *API) listCrons(c echo.Context) error {
	entries := a.eng.Scheduler().Entries()
	out := make([]CronEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, cronEntryResponse(e))
	}
	return c.JSON(http.StatusOK, out)
}

func (a *API) enableCron(c echo.Context) error  { return a.setCronEnabled(c, true) }
func (a *API) disableCron(c echo.Context) error { return a.setCronEnabled(c, false) }

func (a *API) setCronEnabled(c echo.Context, enabled bool) error {
	if err := a.eng.Scheduler().SetEnabled(c.Param("name"), enabled); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func cronEntryResponse(e cron.Entry) CronEntryResponse {
	resp := CronEntryResponse{
		Name:      e.Name,
		Schedule:  e.Schedule,
		Enabled:   !e.Disabled,
		LastError: e.LastError,
	}
	if e.LastRunAt != nil {
		resp.LastRunAt = e.LastRunAt.UTC().Format(time.RFC3339)
	}
	if e.NextRunAt != nil {
		resp.NextRunAt = e.NextRunAt.UTC().Format(time.RFC3339)
	}
	return resp
}
