package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/clibridge/internal/model"
)

type modelsParams struct{}

func (h *handler) modelsHandler(ctx context.Context, req *mcp.CallToolRequest, _ modelsParams) (*mcp.CallToolResult, any, error) {
	if err := h.wait(ctx); err != nil {
		return errorResult(err.Error())
	}
	def := model.Default
	if r := h.backend(); r != nil && r.DefaultModel != "" {
		def = r.DefaultModel
	}

	var b strings.Builder
	fmt.Fprintln(&b, "Models:")
	for _, v := range model.Variants() {
		marker := " "
		if v.ID == def {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s %-8s %s\n", marker, v.ID, v.Label)
	}
	if _, known := model.Lookup(def); !known {
		fmt.Fprintf(&b, "* %-8s (configured)\n", def)
	}
	fmt.Fprintln(&b)
	fmt.Fprintf(&b, "Default: %s\n", def)
	return textResult(b.String())
}

type statusParams struct{}

func (h *handler) statusHandler(ctx context.Context, req *mcp.CallToolRequest, _ statusParams) (*mcp.CallToolResult, any, error) {
	if err := h.wait(ctx); err != nil {
		return errorResult(err.Error())
	}
	r := h.backend()
	st := h.engine.Status(ctx)

	var b strings.Builder
	if r != nil {
		fmt.Fprintf(&b, "Backend: %s\n", r.BinaryName())
	}
	if !st.Available {
		fmt.Fprintln(&b, "Available: no")
		fmt.Fprintf(&b, "Error: %s\n", st.Error)
		return textResult(b.String())
	}
	fmt.Fprintln(&b, "Available: yes")
	fmt.Fprintf(&b, "Version: %s\n", st.Version)
	return textResult(b.String())
}
