package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/clibridge/internal/history"
	"github.com/deixis/clibridge/internal/runner"
	"github.com/deixis/clibridge/internal/workflow"
)

type transformParams struct {
	Text        string `json:"text" jsonschema:"the text to transform"`
	Instruction string `json:"instruction,omitempty" jsonschema:"what to do with the text, e.g. 'Fix spelling and grammar'"`
	Model       string `json:"model,omitempty" jsonschema:"backend model variant (haiku, sonnet, opus). Defaults to the configured model."`
}

func (h *handler) transformHandler(ctx context.Context, req *mcp.CallToolRequest, params transformParams) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(params.Instruction) == "" && strings.TrimSpace(params.Text) != "" {
		return errorResult("instruction is required")
	}
	if err := h.wait(ctx); err != nil {
		return errorResult(err.Error())
	}

	out := h.engine.Transform(ctx, runner.Request{
		Text:        params.Text,
		Instruction: params.Instruction,
		Model:       params.Model,
	})
	return textResult(formatOutcome(out))
}

func formatOutcome(out *workflow.Outcome) string {
	var b strings.Builder

	switch out.Status {
	case history.Success:
		fmt.Fprintln(&b, "Status: OK")
	case history.PassThrough:
		fmt.Fprintln(&b, "Status: PASSTHROUGH")
	default:
		fmt.Fprintln(&b, "Status: FALLBACK")
	}
	if out.RunID != "" {
		fmt.Fprintf(&b, "Run: %s\n", out.RunID)
	}
	if out.Model != "" {
		fmt.Fprintf(&b, "Model: %s\n", out.Model)
	}
	fmt.Fprintf(&b, "Duration: %s\n", time.Duration(out.DurationMS)*time.Millisecond)

	if out.Failed() {
		fmt.Fprintf(&b, "Failure: %s: %s\n", out.Kind, out.Detail)
		fmt.Fprintln(&b, "The original text is returned unchanged.")
	}
	if out.Truncated {
		fmt.Fprintln(&b, "Output was truncated at the configured size limit.")
	}

	fmt.Fprintln(&b)
	b.WriteString(out.Text)
	return b.String()
}
