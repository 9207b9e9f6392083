// Package mcp exposes the workflow engine to agents as MCP tools.
package mcp

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ghxstship/orangeseadragon-sub009/internal/actions"
	"github.com/ghxstship/orangeseadragon-sub009/internal/compiler"
	"github.com/ghxstship/orangeseadragon-sub009/internal/engine"
	"github.com/ghxstship/orangeseadragon-sub009/internal/logging"
	"github.com/ghxstship/orangeseadragon-sub009/internal/streaming"
	"github.com/ghxstship/orangeseadragon-sub009/pkg/schema"
)

// Runner is the part of the interpreter the tools drive.
type Runner interface {
	Trigger(ctx context.Context, req engine.TriggerRequest) (*schema.WorkflowExecution, error)
	Resume(ctx context.Context, req engine.ResumeRequest) (*schema.WorkflowExecution, error)
	Status(ctx context.Context, id string) (*schema.WorkflowExecution, error)
}

// Store reads definitions and the event log.
type Store interface {
	GetDefinition(ctx context.Context, id string) (*schema.WorkflowDefinition, error)
	GetDefinitionVersion(ctx context.Context, id string, version int) (*schema.WorkflowDefinition, error)
	ListEvents(ctx context.Context, executionID string, sinceID int64) ([]*schema.ExecutionEvent, error)
}

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Runner  Runner
	Store   Store
	Actions *actions.Registry
	Hub     streaming.EventHub
	Logger  *slog.Logger
	Version string
}

// Server wraps an MCP server with the workflow tool handlers.
type Server struct {
	runner    Runner
	store     Store
	compiler  *compiler.Compiler
	hub       streaming.EventHub
	logger    *slog.Logger
	sessions  *SessionRegistry
	notifier  AgentNotifier
	mcpServer *server.MCPServer
}

// NewServer creates a Server with all tools registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	var opts []compiler.Option
	if deps.Actions != nil {
		opts = append(opts, compiler.WithActions(deps.Actions))
	}

	s := &Server{
		runner:   deps.Runner,
		store:    deps.Store,
		compiler: compiler.New(opts...),
		hub:      deps.Hub,
		logger:   logger,
		sessions: NewSessionRegistry(),
	}

	hooks := &server.Hooks{}
	hooks.AddOnUnregisterSession(func(_ context.Context, session server.ClientSession) {
		s.sessions.Remove(session.SessionID())
	})

	mcpSrv := server.NewMCPServer(
		"flowd",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithHooks(hooks),
		server.WithInstructions("flowd runs entity workflows. Use list_node_types and validate_workflow while authoring, "+
			"trigger_workflow to start a run, get_execution to inspect it, and resume_execution to continue a waiting run."),
	)
	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.sessions)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	go s.ForwardEvents(ctx)
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// HTTPHandler serves the SSE transport under basePath (e.g. "/mcp").
func (s *Server) HTTPHandler(basePath string) http.Handler {
	return server.NewSSEServer(s.mcpServer, server.WithStaticBasePath(basePath))
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ForwardEvents pushes execution events to the agent that started or resumed
// the execution, until ctx ends. Terminal events release the watch.
func (s *Server) ForwardEvents(ctx context.Context) {
	if s.hub == nil {
		return
	}
	ch, cancel, err := s.hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		s.logger.WarnContext(ctx, "mcp event forwarding disabled", "error", err)
		return
	}
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.forward(ctx, ev)
		}
	}
}

func (s *Server) forward(ctx context.Context, ev streaming.StreamEvent) {
	execID := ev.Event.ExecutionID
	agentID, ok := s.sessions.Watcher(execID, streaming.IsTerminal(ev.Event.Type))
	if !ok {
		return
	}
	payload := map[string]any{
		"level":  "info",
		"logger": "flowd",
		"data": map[string]any{
			"executionId": execID,
			"workflowId":  ev.WorkflowID,
			"type":        ev.Event.Type,
			"stepIndex":   ev.Event.StepIndex,
		},
	}
	if err := s.notifier.Notify(ctx, agentID, payload); err != nil {
		s.logger.WarnContext(logging.WithExecutionID(ctx, execID), "notify agent failed",
			"agent_id", agentID, "error", err)
	}
}

// watch routes future events of a non-terminal execution to agentID.
func (s *Server) watch(ctx context.Context, agentID string, exec *schema.WorkflowExecution) {
	if agentID == "" || exec == nil || exec.Status.IsTerminal() {
		return
	}
	s.captureSession(ctx, agentID)
	s.sessions.Watch(exec.ID, agentID)
}

// captureSession maps the agent ID to its current MCP session for notifications.
func (s *Server) captureSession(ctx context.Context, agentID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(agentID, session.SessionID())
	}
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: listNodeTypesTool(), Handler: s.handleListNodeTypes},
		{Tool: validateWorkflowTool(), Handler: s.handleValidateWorkflow},
		{Tool: triggerWorkflowTool(), Handler: s.handleTriggerWorkflow},
		{Tool: resumeExecutionTool(), Handler: s.handleResumeExecution},
		{Tool: getExecutionTool(), Handler: s.handleGetExecution},
		{Tool: diagramWorkflowTool(), Handler: s.handleDiagramWorkflow},
	}
}

func listNodeTypesTool() mcp.Tool {
	return mcp.NewTool("list_node_types",
		mcp.WithDescription("List the node types a workflow graph may use, with their config schemas"),
		mcp.WithString("category", mcp.Description("Only list node types of this category")),
	)
}

func validateWorkflowTool() mcp.Tool {
	return mcp.NewTool("validate_workflow",
		mcp.WithDescription("Validate a workflow definition and return its compiled steps"),
		mcp.WithObject("definition", mcp.Description("Workflow definition with a graph or a steps list")),
		mcp.WithString("workflow_id", mcp.Description("Validate the latest stored version instead")),
	)
}

func triggerWorkflowTool() mcp.Tool {
	return mcp.NewTool("trigger_workflow",
		mcp.WithDescription("Start an execution of an active workflow"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to run")),
		mcp.WithString("entity_type", mcp.Description("Entity type the run is about")),
		mcp.WithString("entity_id", mcp.Description("Entity id the run is about")),
		mcp.WithObject("trigger_data", mcp.Description("Data exposed to the run as trigger_data")),
		mcp.WithString("agent_id", mcp.Description("Receive progress notifications for this run")),
	)
}

func resumeExecutionTool() mcp.Tool {
	return mcp.NewTool("resume_execution",
		mcp.WithDescription("Continue a waiting execution"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the waiting execution")),
		mcp.WithString("waiting_for", mcp.Description("Expected wait kind, e.g. approval or delay")),
		mcp.WithObject("data", mcp.Description("Resume data exposed to later steps")),
		mcp.WithString("agent_id", mcp.Description("Receive progress notifications for this run")),
	)
}

func getExecutionTool() mcp.Tool {
	return mcp.NewTool("get_execution",
		mcp.WithDescription("Get an execution with its step results"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution")),
		mcp.WithBoolean("include_events", mcp.Description("Include the event log")),
	)
}

func diagramWorkflowTool() mcp.Tool {
	return mcp.NewTool("diagram_workflow",
		mcp.WithDescription("Render a workflow as Mermaid or ASCII, optionally overlaid with an execution's progress"),
		mcp.WithString("workflow_id", mcp.Description("Stored workflow to draw")),
		mcp.WithString("execution_id", mcp.Description("Draw the version this execution runs, with its progress")),
		mcp.WithString("format", mcp.Enum("mermaid", "ascii"), mcp.Description("Output format (default mermaid)")),
	)
}
