package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ghxstship/orangeseadragon-sub009/internal/compiler"
	"github.com/ghxstship/orangeseadragon-sub009/internal/engine"
	"github.com/ghxstship/orangeseadragon-sub009/internal/logging"
	"github.com/ghxstship/orangeseadragon-sub009/internal/store"
	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

type decideBody struct {
	ApproverID string `json:"approverId"`
	Approved   *bool  `json:"approved"`
	Comment    string `json:"comment"`
}

// DecisionResponse is the approval after a vote and, when the vote resolved
// it, the resumed execution.
type DecisionResponse struct {
	Approval    *store.Approval `json:"approval"`
	Execution   any             `json:"execution,omitempty"`
	ResumeError *ErrorDetail    `json:"resumeError,omitempty"`
}

func (s *Server) approvals() (Approvals, error) {
	if s.deps.Approvals == nil {
		return nil, schema.NewError(schema.ErrCodeNotFound, "approvals are not enabled")
	}
	return s.deps.Approvals, nil
}

func (s *Server) getApproval(c echo.Context) error {
	ap, err := s.approvals()
	if err != nil {
		return err
	}
	a, err := ap.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

// decideApproval records one vote. The vote that resolves the approval also
// resumes the execution waiting on it, passing the outcome as resume data.
// The vote stands even if that resume loses a race.
func (s *Server) decideApproval(c echo.Context) error {
	ap, err := s.approvals()
	if err != nil {
		return err
	}
	var body decideBody
	if err := bind(c, &body); err != nil {
		return err
	}
	if body.ApproverID == "" || body.Approved == nil {
		return schema.NewError(schema.ErrCodeValidation, "approverId and approved are required")
	}

	ctx := c.Request().Context()
	a, err := ap.Decide(ctx, c.Param("id"), store.Decision{
		ApproverID: body.ApproverID,
		Approved:   *body.Approved,
		Comment:    body.Comment,
		DecidedAt:  s.deps.Now(),
	})
	if err != nil {
		return err
	}
	resp := DecisionResponse{Approval: a}
	if a.Status == store.ApprovalPending || a.ExecutionID == "" {
		return c.JSON(http.StatusOK, resp)
	}

	decisions := make([]any, len(a.Decisions))
	for i, d := range a.Decisions {
		decisions[i] = map[string]any{"approverId": d.ApproverID, "approved": d.Approved, "comment": d.Comment}
	}
	exec, err := s.deps.Runner.Resume(ctx, engine.ResumeRequest{
		ExecutionID: a.ExecutionID,
		WaitingFor:  compiler.WaitApproval,
		Data: map[string]any{
			"approvalId": a.ID,
			"status":     a.Status,
			"approved":   a.Status == store.ApprovalApproved,
			"decisions":  decisions,
		},
	})
	if err != nil {
		var detail ErrorDetail
		if fe, ok := err.(*schema.FlowError); ok {
			detail = ErrorDetail{Code: fe.Code, Message: fe.Message}
		} else {
			detail = ErrorDetail{Code: schema.ErrCodeInternal, Message: err.Error()}
		}
		s.deps.Logger.WarnContext(logging.WithExecutionID(ctx, a.ExecutionID),
			"resume after approval failed", "approval_id", a.ID, "error", err)
		resp.ResumeError = &detail
		return c.JSON(http.StatusOK, resp)
	}
	resp.Execution, _ = engine.Summarize(exec)
	return c.JSON(http.StatusOK, resp)
}
