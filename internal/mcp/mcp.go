// Package mcp provides the clibridge MCP server, registering the bridge
// tools and publishing model instructions.
package mcp

import (
	"context"
	_ "embed"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/clibridge"
	"github.com/deixis/clibridge/internal/config"
	"github.com/deixis/clibridge/internal/log"
	"github.com/deixis/clibridge/internal/runner"
	"github.com/deixis/clibridge/internal/workflow"
)

//go:embed instructions.md
var Instructions string

// handler holds shared dependencies for all tool handlers.
type handler struct {
	engine *workflow.Engine
	// runner is replaced, never mutated, when a client root carries its own
	// configuration. Nil unless the engine runs the real backend.
	runner atomic.Pointer[runner.Runner]
	// ready is closed once root configuration has been resolved. Tool calls
	// wait for it so none runs with stale settings.
	ready chan struct{}
}

// NewServer creates an MCP server with all bridge tools registered.
func NewServer(e *workflow.Engine, opts ...ServerOption) *mcp.Server {
	h := &handler{engine: e, ready: make(chan struct{})}
	if r, ok := e.Runner.(*runner.Runner); ok {
		h.runner.Store(r)
	}

	var so serverOptions
	for _, o := range opts {
		o(&so)
	}

	rootConfig := so.rootConfig && h.backend() != nil
	if rootConfig {
		// The engine must follow runner swaps, so give it its own view.
		eng := *e
		eng.Runner = liveRunner{h: h}
		h.engine = &eng
	} else {
		close(h.ready)
	}

	mcpOpts := &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
	}
	if rootConfig {
		var once sync.Once
		mcpOpts.InitializedHandler = func(ctx context.Context, req *mcp.InitializedRequest) {
			once.Do(func() {
				// ListRoots is a request to the client; don't block the notification.
				go func() {
					defer close(h.ready)
					h.configureFromRoots(context.WithoutCancel(ctx), req.Session)
				}()
			})
		}
	}
	s := mcp.NewServer(&mcp.Implementation{Name: "clibridge", Version: clibridge.Version}, mcpOpts)

	mcp.AddTool(s, &mcp.Tool{
		Name: "bridge_transform",
		Description: `Transform text with the backend model according to an instruction.

Returns the transformed text. If the backend fails or times out, the original text is
returned unchanged together with the failure kind; the call itself never errors for
backend failures. Empty or whitespace-only text is returned as-is without invoking
the backend.`,
	}, h.transformHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "bridge_models",
		Description: "List the model variants offered by the bridge and the configured default.",
	}, h.modelsHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "bridge_status",
		Description: "Probe the backend with --version and report whether it is available.",
	}, h.statusHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "bridge_inspect",
		Description: `Show the record of a previous bridge_transform call.

Use the run_id printed by bridge_transform, or omit it to list recent runs.
Input text is never stored, only its digest.`,
	}, h.inspectHandler)

	return s
}

// ServerOption configures the MCP server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	rootConfig bool
}

// WithRootConfig makes the server read .clibridge from the client's first
// file root when the session initialises. Only suitable for single-client
// transports such as stdio, since the runner is shared.
func WithRootConfig() ServerOption {
	return func(o *serverOptions) {
		o.rootConfig = true
	}
}

// configureFromRoots asks the client for its roots and, when the first one
// is a directory holding a .clibridge file, applies that configuration to
// a copy of the runner and swaps it in.
func (h *handler) configureFromRoots(ctx context.Context, session *mcp.ServerSession) {
	current := h.backend()
	if current == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	roots, err := session.ListRoots(ctx, &mcp.ListRootsParams{})
	if err != nil || len(roots.Roots) == 0 {
		return
	}

	u, err := url.Parse(roots.Roots[0].URI)
	if err != nil || u.Scheme != "file" {
		return
	}

	loaded, err := config.Load(u.Path)
	if err != nil {
		log.WithComponent("mcp").Warn("ignoring client root configuration", "root", u.Path, "error", err)
		return
	}
	if loaded.Path == "" {
		return
	}

	cfg := loaded.Config
	next := *current
	next.Binary = cfg.BinaryName()
	next.DefaultModel = cfg.DefaultModel()
	next.Timeout = cfg.Timeout()
	next.MaxOutput = cfg.MaxOutputBytes()
	h.runner.Store(&next)
	log.WithComponent("mcp").Info("applied client root configuration", "path", loaded.Path)
}

// backend returns the runner currently in use, or nil.
func (h *handler) backend() *runner.Runner {
	return h.runner.Load()
}

// wait blocks until root configuration has been resolved.
func (h *handler) wait(ctx context.Context) error {
	select {
	case <-h.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// liveRunner forwards to whichever runner the handler holds at call time.
type liveRunner struct {
	h *handler
}

func (l liveRunner) Run(ctx context.Context, req runner.Request) (*runner.Result, error) {
	return l.h.backend().Run(ctx, req)
}

func (l liveRunner) Available(ctx context.Context) bool {
	return l.h.backend().Available(ctx)
}

func (l liveRunner) Version(ctx context.Context) (string, error) {
	return l.h.backend().Version(ctx)
}

// textResult is a helper to build a text-only tool result.
func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// errorResult is a helper to build an error tool result.
func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}
