package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ghxstship/orangeseadragon-sub009/internal/engine"
	"github.com/ghxstship/orangeseadragon-sub009/internal/store"
	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// respond writes the run outcome: 200 while waiting, 201 once finished.
func respond(c echo.Context, exec *schema.WorkflowExecution) error {
	body, waiting := engine.Summarize(exec)
	if waiting {
		return c.JSON(http.StatusOK, body)
	}
	return c.JSON(http.StatusCreated, body)
}

func (s *Server) trigger(c echo.Context) error {
	var req engine.TriggerRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	return s.runTrigger(c, req)
}

func (s *Server) runTrigger(c echo.Context, req engine.TriggerRequest) error {
	exec, err := s.deps.Runner.Trigger(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return respond(c, exec)
}

type resumeBody struct {
	Data       map[string]any `json:"data"`
	WaitingFor string         `json:"waitingFor"`
}

func (s *Server) resume(c echo.Context) error {
	var body resumeBody
	if c.Request().ContentLength != 0 {
		if err := bind(c, &body); err != nil {
			return err
		}
	}
	exec, err := s.deps.Runner.Resume(c.Request().Context(), engine.ResumeRequest{
		ExecutionID: c.Param("id"),
		Data:        body.Data,
		WaitingFor:  body.WaitingFor,
	})
	if err != nil {
		return err
	}
	return respond(c, exec)
}

func (s *Server) getExecution(c echo.Context) error {
	exec, err := s.deps.Runner.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, exec)
}

func (s *Server) listExecutions(c echo.Context) error {
	filter := store.ExecutionFilter{
		WorkflowID: c.QueryParam("workflowId"),
		Status:     schema.ExecutionStatus(c.QueryParam("status")),
		EntityType: c.QueryParam("entityType"),
		EntityID:   c.QueryParam("entityId"),
		Limit:      queryInt(c, "limit", 50),
	}
	if raw := c.QueryParam("updatedBefore"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "updatedBefore: %v", err)
		}
		filter.UpdatedBefore = &t
	}
	execs, err := s.deps.Store.ListExecutions(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	if execs == nil {
		execs = []*schema.WorkflowExecution{}
	}
	return c.JSON(http.StatusOK, execs)
}

type failBody struct {
	Reason string `json:"reason"`
}

func (s *Server) fail(c echo.Context) error {
	var body failBody
	if c.Request().ContentLength != 0 {
		if err := bind(c, &body); err != nil {
			return err
		}
	}
	exec, err := s.deps.Runner.ForceFail(c.Request().Context(), c.Param("id"), body.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, exec)
}

func (s *Server) listEvents(c echo.Context) error {
	var since int64
	if raw := c.QueryParam("since"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "since: %v", err)
		}
		since = n
	}
	ctx := c.Request().Context()
	if _, err := s.deps.Runner.Status(ctx, c.Param("id")); err != nil {
		return err
	}
	events, err := s.deps.Store.ListEvents(ctx, c.Param("id"), since)
	if err != nil {
		return err
	}
	if events == nil {
		events = []*schema.ExecutionEvent{}
	}
	return c.JSON(http.StatusOK, events)
}

// resumeDue runs one delay sweep inline; the scheduler does the same on its
// interval.
func (s *Server) resumeDue(c echo.Context) error {
	report, err := s.deps.Runner.ResumeDue(c.Request().Context(), s.deps.Now())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}
