package httpapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ghxstship/orangeseadragon-sub009/internal/engine"
	"github.com/ghxstship/orangeseadragon-sub009/internal/registry"
	"github.com/ghxstship/orangeseadragon-sub009/internal/store"
	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// ValidationResponse reports whether a definition can be activated.
type ValidationResponse struct {
	Valid    bool                     `json:"valid"`
	Errors   []schema.ValidationError `json:"errors"`
	Warnings []schema.ValidationError `json:"warnings"`
	Steps    []schema.Step            `json:"steps,omitempty"`
}

// WorkflowResponse is a stored definition with its validation outcome.
type WorkflowResponse struct {
	Workflow   *schema.WorkflowDefinition `json:"workflow"`
	Validation ValidationResponse         `json:"validation"`
}

func (s *Server) check(def *schema.WorkflowDefinition) ValidationResponse {
	steps, result, _ := s.compiler.CompileDefinition(def)
	if result == nil {
		result = &schema.ValidationResult{}
	}
	if def.Graph == nil && len(def.Steps) == 0 {
		result.AddError("", schema.ErrCodeValidation, "workflow has neither a graph nor steps")
		steps = nil
	}
	resp := ValidationResponse{
		Valid:    result.Valid(),
		Errors:   result.Errors,
		Warnings: result.Warnings,
		Steps:    steps,
	}
	if resp.Errors == nil {
		resp.Errors = []schema.ValidationError{}
	}
	if resp.Warnings == nil {
		resp.Warnings = []schema.ValidationError{}
	}
	return resp
}

func invalid(v ValidationResponse, what string) error {
	return schema.NewErrorf(schema.ErrCodeValidation, "%s: workflow has %d validation error(s)", what, len(v.Errors)).
		WithDetails(map[string]any{"errors": v.Errors, "warnings": v.Warnings})
}

func (s *Server) listNodeTypes(c echo.Context) error {
	type nodeType struct {
		*registry.Spec
		ConfigSchema map[string]any `json:"configSchema"`
	}
	specs := registry.All()
	out := make([]nodeType, len(specs))
	for i, sp := range specs {
		out[i] = nodeType{Spec: sp, ConfigSchema: sp.ConfigSchema()}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) listActions(c echo.Context) error {
	if s.deps.Actions == nil {
		return c.JSON(http.StatusOK, []any{})
	}
	return c.JSON(http.StatusOK, s.deps.Actions.List())
}

func (s *Server) listWorkflows(c echo.Context) error {
	filter := store.DefinitionFilter{
		OrganizationID: c.QueryParam("organizationId"),
		EntityType:     c.QueryParam("entityType"),
		ActiveOnly:     c.QueryParam("active") == "true",
		Limit:          queryInt(c, "limit", 0),
	}
	defs, err := s.deps.Store.ListDefinitions(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	if defs == nil {
		defs = []*schema.WorkflowDefinition{}
	}
	return c.JSON(http.StatusOK, defs)
}

func (s *Server) createWorkflow(c echo.Context) error {
	var def schema.WorkflowDefinition
	if err := bind(c, &def); err != nil {
		return err
	}
	if def.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "name is required")
	}
	v := s.check(&def)
	if def.IsActive && !v.Valid {
		return invalid(v, "cannot create an active workflow")
	}
	if err := s.deps.Store.CreateDefinition(c.Request().Context(), &def); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, WorkflowResponse{Workflow: &def, Validation: v})
}

func (s *Server) getWorkflow(c echo.Context) error {
	def, err := s.deps.Store.GetDefinition(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, def)
}

// updateWorkflow stores the body as the next version. Running executions
// keep the version they started on.
func (s *Server) updateWorkflow(c echo.Context) error {
	ctx := c.Request().Context()
	current, err := s.deps.Store.GetDefinition(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	var def schema.WorkflowDefinition
	if err := bind(c, &def); err != nil {
		return err
	}
	def.ID = current.ID
	if def.Name == "" {
		def.Name = current.Name
	}
	if def.OrganizationID == "" {
		def.OrganizationID = current.OrganizationID
	}
	v := s.check(&def)
	if current.IsActive && !v.Valid {
		return invalid(v, "cannot save an invalid version of an active workflow")
	}
	if err := s.deps.Store.SaveDefinitionVersion(ctx, &def); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, WorkflowResponse{Workflow: &def, Validation: v})
}

func (s *Server) listVersions(c echo.Context) error {
	defs, err := s.deps.Store.ListDefinitionVersions(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, defs)
}

func (s *Server) getVersion(c echo.Context) error {
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil || version < 1 {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid version %q", c.Param("version"))
	}
	def, err := s.deps.Store.GetDefinitionVersion(c.Request().Context(), c.Param("id"), version)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, def)
}

// activateWorkflow enables triggering. Only a definition without validation
// errors can be activated.
func (s *Server) activateWorkflow(c echo.Context) error {
	ctx := c.Request().Context()
	def, err := s.deps.Store.GetDefinition(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	v := s.check(def)
	if !v.Valid {
		return invalid(v, "cannot activate workflow")
	}
	if err := s.deps.Store.SetDefinitionActive(ctx, def.ID, true); err != nil {
		return err
	}
	def.IsActive = true
	return c.JSON(http.StatusOK, WorkflowResponse{Workflow: def, Validation: v})
}

func (s *Server) deactivateWorkflow(c echo.Context) error {
	ctx := c.Request().Context()
	if err := s.deps.Store.SetDefinitionActive(ctx, c.Param("id"), false); err != nil {
		return err
	}
	def, err := s.deps.Store.GetDefinition(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, def)
}

func (s *Server) validateWorkflow(c echo.Context) error {
	var def schema.WorkflowDefinition
	if err := bind(c, &def); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.check(&def))
}

// triggerWorkflow is POST /executions with the workflow id taken from the path.
func (s *Server) triggerWorkflow(c echo.Context) error {
	var req engine.TriggerRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	req.WorkflowID = c.Param("id")
	return s.runTrigger(c, req)
}

func queryInt(c echo.Context, name string, def int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
