package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/clibridge/internal/history"
)

// recentLimit caps the listing returned when no run_id is given.
const recentLimit = 10

type inspectParams struct {
	RunID string `json:"run_id,omitempty" jsonschema:"the run ID from a bridge_transform result. Omit to list recent runs."`
}

func (h *handler) inspectHandler(ctx context.Context, req *mcp.CallToolRequest, params inspectParams) (*mcp.CallToolResult, any, error) {
	if params.RunID == "" {
		return textResult(formatRecent(h.engine.Recent(recentLimit)))
	}

	rec, err := h.engine.Inspect(params.RunID)
	if errors.Is(err, history.ErrNotFound) {
		return errorResult(fmt.Sprintf("No record for run %s. Only recent runs are kept.", params.RunID))
	}
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to load run %s: %v", params.RunID, err))
	}

	return textResult(formatRecord(rec))
}

func formatRecord(rec *history.Record) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run: %s\n", rec.ID)
	fmt.Fprintf(&b, "Model: %s\n", rec.Model)
	fmt.Fprintf(&b, "Status: %s\n", rec.Status)
	if rec.Kind != "" {
		fmt.Fprintf(&b, "Failure: %s: %s\n", rec.Kind, rec.Detail)
	}
	fmt.Fprintf(&b, "Duration: %s\n", rec.Duration())
	fmt.Fprintf(&b, "Created: %s\n", rec.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
	fmt.Fprintf(&b, "Input: %d bytes (%s)\n", rec.InputBytes, rec.InputDigest)

	if rec.Output != "" {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "Output:")
		for _, line := range strings.Split(strings.TrimRight(rec.Output, "\n"), "\n") {
			fmt.Fprintf(&b, "    %s\n", line)
		}
	}
	return b.String()
}

func formatRecent(recs []*history.Record) string {
	if len(recs) == 0 {
		return "No runs recorded yet.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Recent runs (%d):\n", len(recs))
	for _, rec := range recs {
		fmt.Fprintf(&b, "  %s  %-11s %-6s %s", rec.ID, rec.Status, rec.Model, rec.Duration())
		if rec.Kind != "" {
			fmt.Fprintf(&b, "  %s", rec.Kind)
		}
		fmt.Fprintln(&b)
	}
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "Inspect one with bridge_inspect(run_id=\"<id>\").")
	return b.String()
}
