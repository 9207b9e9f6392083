package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ghxstship/orangeseadragon-sub009/internal/streaming"
	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

const keepAlive = 15 * time.Second

// streamExecution replays the stored events after ?since= and then follows
// the live hub until the execution finishes. A finished execution is only
// replayed.
func (s *Server) streamExecution(c echo.Context) error {
	id := c.Param("id")
	exec, err := s.deps.Runner.Status(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return s.serveSSE(c, streaming.EventFilter{ExecutionID: id}, true, !exec.Status.IsTerminal())
}

// streamAll follows the live hub, optionally narrowed by workflowId and a
// comma-separated list of event types.
func (s *Server) streamAll(c echo.Context) error {
	filter := streaming.EventFilter{WorkflowID: c.QueryParam("workflowId")}
	if raw := c.QueryParam("types"); raw != "" {
		filter.EventTypes = strings.Split(raw, ",")
	}
	return s.serveSSE(c, filter, false, true)
}

func (s *Server) serveSSE(c echo.Context, filter streaming.EventFilter, replay, follow bool) error {
	if s.deps.Hub == nil {
		return schema.NewError(schema.ErrCodeNotFound, "event streaming is not enabled")
	}
	ctx := c.Request().Context()

	// Subscribe before replaying so nothing falls between the two.
	ch, cancel, err := s.deps.Hub.Subscribe(ctx, filter)
	if err != nil {
		return err
	}
	defer cancel()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	var last int64
	if replay {
		since := int64(queryInt(c, "since", 0))
		events, err := s.deps.Store.ListEvents(ctx, filter.ExecutionID, since)
		if err != nil {
			s.deps.Logger.WarnContext(ctx, "event replay failed", "error", err)
		}
		for _, e := range events {
			if err := writeEvent(w, e); err != nil {
				return nil
			}
			last = e.ID
		}
		w.Flush()
	}
	if !follow {
		return nil
	}

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return nil
			}
			w.Flush()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if ev.Event.ID != 0 && ev.Event.ID <= last {
				continue
			}
			if err := writeEvent(w, &ev.Event); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}

func writeEvent(w *echo.Response, e *schema.ExecutionEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if e.ID != 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", e.ID); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
	return err
}
