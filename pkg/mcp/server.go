package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rloza/tramite/internal/engine"
	"github.com/rloza/tramite/internal/store"
	"github.com/rloza/tramite/internal/validation"
)

// TramiteServerDeps holds the dependencies for creating a TramiteServer.
type TramiteServerDeps struct {
	Machine   *engine.Machine
	Store     store.Store
	Validator *validation.ProcedureValidator
	Logger    *slog.Logger
}

// TramiteServer wraps an MCP server with engine-specific tool handlers, so
// agents can define procedures, start runs and complete pending steps.
type TramiteServer struct {
	machine   *engine.Machine
	store     store.Store
	validator *validation.ProcedureValidator
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewTramiteServer creates a new TramiteServer with all 5 tools registered.
func NewTramiteServer(deps TramiteServerDeps) *TramiteServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &TramiteServer{
		machine:   deps.Machine,
		store:     deps.Store,
		validator: deps.Validator,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"tramite",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Tramite is a business-process run engine. Use tramite.define to register procedures, tramite.start to begin a run, tramite.complete to record a step's result and advance the run, tramite.status to inspect a run, and tramite.query to list procedures/runs/events."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *TramiteServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *TramiteServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *TramiteServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: defineTool(), Handler: s.handleDefine},
		{Tool: startTool(), Handler: s.handleStart},
		{Tool: completeTool(), Handler: s.handleComplete},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: queryTool(), Handler: s.handleQuery},
	}
}

// --- Tool definitions ---

func defineTool() mcp.Tool {
	return mcp.NewTool("tramite.define",
		mcp.WithDescription("Register a procedure definition"),
		mcp.WithObject("procedure", mcp.Required(), mcp.Description("Procedure definition object (name, steps, routes)")),
		mcp.WithString("organization_id", mcp.Required(), mcp.Description("Owning organization")),
	)
}

func startTool() mcp.Tool {
	return mcp.NewTool("tramite.start",
		mcp.WithDescription("Start a run of a registered procedure"),
		mcp.WithString("procedure_id", mcp.Required(), mcp.Description("ID of the procedure to run")),
		mcp.WithString("organization_id", mcp.Description("Organization scope check")),
		mcp.WithString("started_by", mcp.Description("User or agent starting the run")),
		mcp.WithObject("input", mcp.Description("Initial input data for the run")),
		mcp.WithObject("trigger_context", mcp.Description("Trigger event payload (e.g. file references)")),
	)
}

func completeTool() mcp.Tool {
	return mcp.NewTool("tramite.complete",
		mcp.WithDescription("Record a step's result and advance the run"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run")),
		mcp.WithString("step_id", mcp.Required(), mcp.Description("ID of the step being completed")),
		mcp.WithObject("output", mcp.Description("Step output data")),
		mcp.WithString("outcome", mcp.Enum("SUCCESS", "FAILURE", "FLAGGED"),
			mcp.Description("Step outcome (default: SUCCESS)")),
		mcp.WithString("user_id", mcp.Description("User or agent completing the step")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("tramite.status",
		mcp.WithDescription("Get a run's current status, position and step log"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to inspect")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("tramite.query",
		mcp.WithDescription("Query procedures, runs, or usage events"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("procedures", "runs", "events"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (organization_id, procedure_id, status, run_id, limit)")),
	)
}
