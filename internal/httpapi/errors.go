package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// ErrorBody is the envelope of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries a stable code and a human-readable message.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(code string) int {
	switch code {
	case schema.ErrCodeValidation, schema.ErrCodeCycleDetected:
		return http.StatusUnprocessableEntity
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeConflict, schema.ErrCodeInvalidTransition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func codeForStatus(status int) string {
	switch {
	case status == http.StatusNotFound:
		return schema.ErrCodeNotFound
	case status == http.StatusConflict:
		return schema.ErrCodeConflict
	case status >= http.StatusInternalServerError:
		return schema.ErrCodeInternal
	default:
		return schema.ErrCodeValidation
	}
}

// handleError renders any handler error as an ErrorBody.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	body := ErrorBody{Error: ErrorDetail{Code: schema.ErrCodeInternal, Message: err.Error()}}

	var fe *schema.FlowError
	var he *echo.HTTPError
	switch {
	case errors.As(err, &fe):
		status = StatusFor(fe.Code)
		body.Error = ErrorDetail{Code: fe.Code, Message: fe.Message, Details: fe.Details}
	case errors.As(err, &he):
		status = he.Code
		body.Error = ErrorDetail{Code: codeForStatus(he.Code), Message: fmt.Sprint(he.Message)}
	}

	if status >= http.StatusInternalServerError {
		s.deps.Logger.ErrorContext(c.Request().Context(), "request failed",
			"path", c.Path(), "code", body.Error.Code, "error", err)
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		s.deps.Logger.WarnContext(c.Request().Context(), "write error response", "error", err)
	}
}

// bind decodes the request body, reporting malformed input as a validation
// error.
func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return schema.NewErrorf(schema.ErrCodeValidation, "invalid request body: %v", he.Message)
		}
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid request body: %v", err)
	}
	return nil
}
