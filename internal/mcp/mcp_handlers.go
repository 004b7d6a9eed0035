package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/huangsam/devyear/schema"
	"github.com/mark3labs/mcp-go/mcp"
)

// toolHandler holds common dependencies for MCP tool handlers.
type toolHandler struct {
	runs RunReader
}

func (h *toolHandler) handleGetRunStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := runID(request)
	if errResult != nil {
		return errResult, nil
	}
	view, err := h.runs.Status(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status lookup failed: %v", err)), nil
	}
	return jsonResult(view)
}

func (h *toolHandler) handleListRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := schema.RunFilter{
		Org:    request.GetString("org", ""),
		User:   request.GetString("user", ""),
		Year:   request.GetInt("year", 0),
		Status: schema.RunStatus(request.GetString("status", "")),
	}
	runs, err := h.runs.List(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("listing runs failed: %v", err)), nil
	}
	views := make([]schema.RunStatusView, 0, len(runs))
	for _, run := range runs {
		views = append(views, run.View())
	}
	return jsonResult(views)
}

func (h *toolHandler) handleListWorkUnits(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := runID(request)
	if errResult != nil {
		return errResult, nil
	}
	limit := request.GetInt("limit", 0)
	if limit < 0 {
		return mcp.NewToolResultError("limit must not be negative"), nil
	}

	units, err := h.runs.RankedUnits(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("listing work units failed: %v", err)), nil
	}
	if request.GetBool("sampled_only", false) {
		sampled := make([]schema.WorkUnit, 0, len(units))
		for _, u := range units {
			if u.IsSampled {
				sampled = append(sampled, u)
			}
		}
		units = sampled
	}
	if limit > 0 && len(units) > limit {
		units = units[:limit]
	}
	return jsonResult(units)
}

func (h *toolHandler) handleGetReport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := runID(request)
	if errResult != nil {
		return errResult, nil
	}
	report, err := h.runs.Report(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("report lookup failed: %v", err)), nil
	}
	return jsonResult(report)
}

func runID(request mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	id := strings.TrimSpace(request.GetString("run_id", ""))
	if id == "" {
		return "", mcp.NewToolResultError("run_id is required")
	}
	return id, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonData, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonData)), nil
}
