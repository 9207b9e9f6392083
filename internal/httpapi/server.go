// Package httpapi exposes workflows and executions over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/ghxstship/orangeseadragon-sub009/internal/actions"
	"github.com/ghxstship/orangeseadragon-sub009/internal/compiler"
	"github.com/ghxstship/orangeseadragon-sub009/internal/engine"
	"github.com/ghxstship/orangeseadragon-sub009/internal/logging"
	"github.com/ghxstship/orangeseadragon-sub009/internal/store"
	"github.com/ghxstship/orangeseadragon-sub009/internal/streaming"
	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// Runner is the part of the interpreter the API drives.
type Runner interface {
	Trigger(ctx context.Context, req engine.TriggerRequest) (*schema.WorkflowExecution, error)
	Resume(ctx context.Context, req engine.ResumeRequest) (*schema.WorkflowExecution, error)
	Status(ctx context.Context, id string) (*schema.WorkflowExecution, error)
	ForceFail(ctx context.Context, id, reason string) (*schema.WorkflowExecution, error)
	ResumeDue(ctx context.Context, now time.Time) (*engine.SweepReport, error)
}

// Store is the persistence the API reads and writes directly.
type Store interface {
	store.DefinitionStore
	ListExecutions(ctx context.Context, filter store.ExecutionFilter) ([]*schema.WorkflowExecution, error)
	ListEvents(ctx context.Context, executionID string, sinceID int64) ([]*schema.ExecutionEvent, error)
}

// Approvals records approval decisions.
type Approvals interface {
	Get(ctx context.Context, id string) (*store.Approval, error)
	Decide(ctx context.Context, id string, d store.Decision) (*store.Approval, error)
}

// Pinger reports database health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the API's collaborators. Runner and Store are required.
type Deps struct {
	Runner    Runner
	Store     Store
	Actions   *actions.Registry
	Approvals Approvals
	Hub       streaming.EventHub
	Health    Pinger
	Logger    *slog.Logger
	Version   string
	Now       func() time.Time
}

// Server wires the routes onto an echo instance.
type Server struct {
	deps     Deps
	compiler *compiler.Compiler
	echo     *echo.Echo
}

// New creates the server and registers its routes.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	var opts []compiler.Option
	if deps.Actions != nil {
		opts = append(opts, compiler.WithActions(deps.Actions))
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{deps: deps, compiler: compiler.New(opts...), echo: e}
	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("flowd"))
	e.Use(s.requestLogger())
	s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) routes() {
	e := s.echo
	e.GET("/healthz", s.health)

	api := e.Group("/api")
	api.GET("/node-types", s.listNodeTypes)
	api.GET("/actions", s.listActions)

	api.GET("/workflows", s.listWorkflows)
	api.POST("/workflows", s.createWorkflow)
	api.POST("/workflows/validate", s.validateWorkflow)
	api.GET("/workflows/:id", s.getWorkflow)
	api.PUT("/workflows/:id", s.updateWorkflow)
	api.GET("/workflows/:id/versions", s.listVersions)
	api.GET("/workflows/:id/versions/:version", s.getVersion)
	api.POST("/workflows/:id/activate", s.activateWorkflow)
	api.POST("/workflows/:id/deactivate", s.deactivateWorkflow)
	api.POST("/workflows/:id/trigger", s.triggerWorkflow)

	api.POST("/executions", s.trigger)
	api.GET("/executions", s.listExecutions)
	api.POST("/executions/resume-due", s.resumeDue)
	api.GET("/executions/:id", s.getExecution)
	api.POST("/executions/:id/resume", s.resume)
	api.POST("/executions/:id/fail", s.fail)
	api.GET("/executions/:id/events", s.listEvents)
	api.GET("/executions/:id/stream", s.streamExecution)
	api.GET("/stream", s.streamAll)

	api.GET("/approvals/:id", s.getApproval)
	api.POST("/approvals/:id/decide", s.decideApproval)
}

// requestLogger logs one line per request through slog.
func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			if v.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			s.deps.Logger.LogAttrs(c.Request().Context(), level, "http request", attrs...)
			return nil
		},
	})
}

func (s *Server) health(c echo.Context) error {
	status := map[string]any{"status": "ok", "version": s.deps.Version}
	if s.deps.Health != nil {
		if err := s.deps.Health.Ping(c.Request().Context()); err != nil {
			status["status"] = "degraded"
			status["database"] = err.Error()
			return c.JSON(http.StatusServiceUnavailable, status)
		}
	}
	return c.JSON(http.StatusOK, status)
}
