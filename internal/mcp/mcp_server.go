// Package mcp provides the Model Context Protocol (MCP) server implementation.
package mcp

import (
	"context"

	"github.com/huangsam/devyear/schema"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RunReader is the read side of the orchestrator exposed as tools.
type RunReader interface {
	Status(ctx context.Context, id string) (schema.RunStatusView, error)
	List(ctx context.Context, filter schema.RunFilter) ([]schema.AnalysisRun, error)
	RankedUnits(ctx context.Context, id string) ([]schema.WorkUnit, error)
	Report(ctx context.Context, id string) (*schema.YearlyReport, error)
}

// NewMCPServer initializes and configures the devyear MCP server without starting it.
// This is exposed for unit testing.
func NewMCPServer(runs RunReader, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"Developer Yearly Review Server",
		version,
		server.WithLogging(),
		server.WithRecovery(),
	)

	h := &toolHandler{runs: runs}

	// --- 1. Tool: get_run_status ---
	s.AddTool(mcp.NewTool("get_run_status",
		mcp.WithDescription("Get the status, phase and completion percentage of a yearly review run."),
		mcp.WithString("run_id", mcp.Description("The run identifier."), mcp.Required()),
	), h.handleGetRunStatus)

	// --- 2. Tool: list_runs ---
	s.AddTool(mcp.NewTool("list_runs",
		mcp.WithDescription("List yearly review runs, newest first."),
		mcp.WithString("org", mcp.Description("Only runs of this organization.")),
		mcp.WithString("user", mcp.Description("Only runs of this developer.")),
		mcp.WithNumber("year", mcp.Description("Only runs of this calendar year.")),
		mcp.WithString("status", mcp.Description("Only runs in this status."), mcp.Enum("QUEUED", "IN_PROGRESS", "PAUSED", "DONE", "FAILED")),
	), h.handleListRuns)

	// --- 3. Tool: list_work_units ---
	s.AddTool(mcp.NewTool("list_work_units",
		mcp.WithDescription("List the work units of a run ranked by impact score."),
		mcp.WithString("run_id", mcp.Description("The run identifier."), mcp.Required()),
		mcp.WithNumber("limit", mcp.Description("Limit the number of units returned.")),
		mcp.WithBoolean("sampled_only", mcp.Description("Only return units selected for AI review.")),
	), h.handleListWorkUnits)

	// --- 4. Tool: get_report ---
	s.AddTool(mcp.NewTool("get_report",
		mcp.WithDescription("Get the yearly report of a finished run."),
		mcp.WithString("run_id", mcp.Description("The run identifier."), mcp.Required()),
	), h.handleGetReport)

	return s
}

// StartMCPServer serves the tools over stdio until the client disconnects.
func StartMCPServer(_ context.Context, runs RunReader, version string) error {
	s := NewMCPServer(runs, version)
	return server.ServeStdio(s)
}
