// Package api serves the incident engine over HTTP with echo: incident
// intake, agent and approval callbacks, agent batch claims, operator
// actions and a websocket watch of lifecycle events.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel/trace"

	manager "github.com/bprzybys-nc/manager-sub001"
	"github.com/bprzybys-nc/manager-sub001/engine"
	"github.com/bprzybys-nc/manager-sub001/workflow"
)

// API wires all HTTP handlers together for the incident engine.
type API struct {
	eng    *engine.Engine
	logger *slog.Logger
	token  string
	tracer trace.TracerProvider
}

// Option configures an API.
type Option func(*API)

// WithToken requires "Authorization: Bearer <token>" on every /v1 route.
func WithToken(token string) Option {
	return func(a *API) { a.token = token }
}

// WithLogger sets the logger for request and watch errors.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// WithTracerProvider traces every request with the given provider instead
// of the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(a *API) { a.tracer = tp }
}

// New creates an API from an Engine.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{eng: eng, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns an echo instance with all routes registered.
func (a *API) Handler() http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	var otelOpts []otelecho.Option
	if a.tracer != nil {
		otelOpts = append(otelOpts, otelecho.WithTracerProvider(a.tracer))
	}
	e.Use(otelecho.Middleware("incidentd", otelOpts...))
	e.Use(a.requestLogger())

	e.GET("/healthz", a.health)
	a.RegisterRoutes(e.Group("/v1"))
	return e
}

// RegisterRoutes registers all /v1 routes into the given group.
func (a *API) RegisterRoutes(g *echo.Group) {
	if a.token != "" {
		g.Use(middleware.KeyAuth(func(key string, _ echo.Context) (bool, error) {
			return key == a.token, nil
		}))
	}
	a.registerIncidentRoutes(g)
	a.registerCallbackRoutes(g)
	a.registerJobRoutes(g)
	a.registerCronRoutes(g)
	g.GET("/stats", a.stats)
	g.GET("/watch", a.watchAll)
}

func (a *API) registerIncidentRoutes(g *echo.Group) {
	g.POST("/incidents", a.createIncident)
	g.GET("/incidents", a.listIncidents)
	g.GET("/incidents/:incidentId", a.getIncident)
	g.POST("/incidents/:incidentId/close", a.closeIncident)
	g.POST("/incidents/:incidentId/ignore", a.ignoreIncident)
	g.POST("/incidents/:incidentId/resume", a.resumeIncident)
	g.GET("/incidents/:incidentId/tasks", a.listTasks)
	g.GET("/incidents/:incidentId/questions", a.listQuestions)
	g.GET("/incidents/:incidentId/workflow", a.getWorkflow)
	g.GET("/incidents/:incidentId/watch", a.watch)
	g.POST("/tasks/:taskId/comments", a.addComment)
}

func (a *API) registerCallbackRoutes(g *echo.Group) {
	g.POST("/incidents/:incidentId/batches/claim", a.claimBatch)
	g.POST("/batches/:batchId/results", a.batchResults)
	g.POST("/approvals/:correlationId", a.answerApproval)
}

func (a *API) registerJobRoutes(g *echo.Group) {
	g.GET("/jobs", a.listJobs)
	g.GET("/jobs/counts", a.jobCounts)
	g.GET("/jobs/:jobId", a.getJob)
	g.POST("/jobs/:jobId/retry", a.retryJob)
}

func (a *API) registerCronRoutes(g *echo.Group) {
	g.GET("/crons", a.listCrons)
	g.POST("/crons/:name/enable", a.enableCron)
	g.POST("/crons/:name/disable", a.disableCron)
}

func (a *API) health(c echo.Context) error {
	if err := a.eng.Store().Ping(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
				a.logger.Warn("request failed", attrs...)
				return nil
			}
			a.logger.Debug("request", attrs...)
			return nil
		},
	})
}

// mapError converts sentinel errors to echo HTTP errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var cerr *workflow.ClosureError
	switch {
	case errors.As(err, &cerr):
		status := http.StatusConflict
		if cerr.Reason == workflow.ReasonIncidentNotFound {
			status = http.StatusNotFound
		}
		return echo.NewHTTPError(status, ClosureRefusedResponse{
			Reason: string(cerr.Reason),
			Detail: cerr.Detail,
		})
	case isNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case isConflict(err):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return err
}

func isNotFound(err error) bool {
	return errors.Is(err, manager.ErrIncidentNotFound) ||
		errors.Is(err, manager.ErrTaskNotFound) ||
		errors.Is(err, manager.ErrBatchNotFound) ||
		errors.Is(err, manager.ErrQuestionNotFound) ||
		errors.Is(err, manager.ErrWorkflowNotFound) ||
		errors.Is(err, manager.ErrSuspensionNotFound) ||
		errors.Is(err, manager.ErrJobNotFound)
}

func isConflict(err error) bool {
	return errors.Is(err, manager.ErrIncidentExists) ||
		errors.Is(err, manager.ErrInvalidTransition) ||
		errors.Is(err, manager.ErrIncidentTerminal)
}
