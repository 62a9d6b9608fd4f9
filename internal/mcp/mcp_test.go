package mcp

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"github.com/deixis/clibridge/internal/history"
	"github.com/deixis/clibridge/internal/runner"
	"github.com/deixis/clibridge/internal/workflow"
)

// fakeBackend answers --version and otherwise runs body. The prompt is in $4.
func fakeBackend(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "claude")
	script := "#!/bin/sh\nif [ \"$1\" = \"--version\" ]; then echo \"9.9.9 (fake)\"; exit 0; fi\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("writing fake backend: %v", err)
	}
	return path
}

// setup creates a clibridge MCP server + client over in-memory transports.
func setup(t *testing.T, r *runner.Runner, opts ...ServerOption) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	e := &workflow.Engine{
		Runner: r,
		Store:  history.NewLRUStore(5, nil),
	}
	server := NewServer(e, opts...)

	ct, st := mcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, st, nil)
	if err != nil {
		t.Fatalf("server.Connect: %v", err)
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	return connect(t, client, ct, ss)
}

func connect(t *testing.T, client *mcp.Client, ct mcp.Transport, ss *mcp.ServerSession) *mcp.ClientSession {
	t.Helper()
	cs, err := client.Connect(context.Background(), ct, nil)
	if err != nil {
		t.Fatalf("client.Connect: %v", err)
	}
	t.Cleanup(func() {
		_ = cs.Close()
		_ = ss.Wait()
	})
	return cs
}

func callTool(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	return res
}

func resultText(r *mcp.CallToolResult) string {
	var parts []string
	for _, c := range r.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

var runLine = regexp.MustCompile(`(?m)^Run: (\S+)$`)

func TestListTools(t *testing.T) {
	cs := setup(t, &runner.Runner{Binary: fakeBackend(t, "exit 0")})
	res, err := cs.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	got := map[string]bool{}
	for _, tool := range res.Tools {
		got[tool.Name] = true
	}
	for _, want := range []string{"bridge_transform", "bridge_models", "bridge_status", "bridge_inspect"} {
		if !got[want] {
			t.Errorf("tool %s not registered", want)
		}
	}
}

// --- bridge_transform ---

func TestBridgeTransform_Success(t *testing.T) {
	cs := setup(t, &runner.Runner{Binary: fakeBackend(t, `printf '  Hello, world.  \n'`)})
	res := callTool(t, cs, "bridge_transform", map[string]any{
		"text":        "helo wrld",
		"instruction": "Fix spelling",
	})
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	if !strings.HasPrefix(text, "Status: OK\n") {
		t.Errorf("expected Status: OK, got:\n%s", text)
	}
	if !strings.HasSuffix(text, "\n\nHello, world.") {
		t.Errorf("expected trimmed output at the end, got:\n%s", text)
	}
	if !strings.Contains(text, "Model: haiku") {
		t.Errorf("expected default model, got:\n%s", text)
	}
}

func TestBridgeTransform_BackendFailureFallsBack(t *testing.T) {
	cs := setup(t, &runner.Runner{Binary: fakeBackend(t, "echo 'rate limited' >&2; exit 1")})
	res := callTool(t, cs, "bridge_transform", map[string]any{
		"text":        "keep me",
		"instruction": "Fix",
		"model":       "sonnet",
	})
	text := resultText(res)
	if res.IsError {
		t.Fatalf("backend failure must not be a tool error: %s", text)
	}
	for _, want := range []string{"Status: FALLBACK", "Model: sonnet", "Failure: backend: rate limited", "The original text is returned unchanged."} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output, got:\n%s", want, text)
		}
	}
	if !strings.HasSuffix(text, "\n\nkeep me") {
		t.Errorf("expected original text at the end, got:\n%s", text)
	}
}

func TestBridgeTransform_Timeout(t *testing.T) {
	cs := setup(t, &runner.Runner{
		Binary:  fakeBackend(t, "sleep 5"),
		Timeout: 200 * time.Millisecond,
	})
	start := time.Now()
	res := callTool(t, cs, "bridge_transform", map[string]any{"text": "slow", "instruction": "Fix"})
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("call took %v, deadline not enforced", elapsed)
	}
	text := resultText(res)
	if !strings.Contains(text, "Failure: timeout: timed out after 200ms") {
		t.Errorf("expected timeout failure, got:\n%s", text)
	}
}

func TestBridgeTransform_EmptyTextPassesThrough(t *testing.T) {
	cs := setup(t, &runner.Runner{Binary: filepath.Join(t.TempDir(), "missing")})
	res := callTool(t, cs, "bridge_transform", map[string]any{"text": "  \n", "instruction": "Fix"})
	text := resultText(res)
	if !strings.HasPrefix(text, "Status: PASSTHROUGH") {
		t.Errorf("expected pass-through without spawning, got:\n%s", text)
	}
}

func TestBridgeTransform_RequiresInstruction(t *testing.T) {
	cs := setup(t, &runner.Runner{Binary: fakeBackend(t, "exit 0")})
	res := callTool(t, cs, "bridge_transform", map[string]any{"text": "hello"})
	if !res.IsError {
		t.Fatalf("expected error result, got:\n%s", resultText(res))
	}
}

// --- bridge_inspect ---

func TestBridgeInspect_AfterTransform(t *testing.T) {
	cs := setup(t, &runner.Runner{Binary: fakeBackend(t, "echo Fixed")})
	res := callTool(t, cs, "bridge_transform", map[string]any{"text": "brokn", "instruction": "Fix"})
	m := runLine.FindStringSubmatch(resultText(res))
	if m == nil {
		t.Fatalf("no Run: line in:\n%s", resultText(res))
	}

	res = callTool(t, cs, "bridge_inspect", map[string]any{"run_id": m[1]})
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	for _, want := range []string{"Run: " + m[1], "Status: success", "Input: 5 bytes (blake3:", "    Fixed"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output, got:\n%s", want, text)
		}
	}
	if strings.Contains(text, "brokn") {
		t.Errorf("input text must not be stored, got:\n%s", text)
	}
}

func TestBridgeInspect_Unknown(t *testing.T) {
	cs := setup(t, &runner.Runner{Binary: fakeBackend(t, "exit 0")})
	if res := callTool(t, cs, "bridge_inspect", map[string]any{"run_id": "nope"}); !res.IsError {
		t.Errorf("expected error for unknown run, got:\n%s", resultText(res))
	}
}

func TestBridgeInspect_ListsRecentRuns(t *testing.T) {
	cs := setup(t, &runner.Runner{Binary: fakeBackend(t, "echo done")})
	text := resultText(callTool(t, cs, "bridge_inspect", nil))
	if !strings.Contains(text, "No runs recorded yet.") {
		t.Errorf("expected empty listing, got:\n%s", text)
	}

	var runs []string
	for range 2 {
		res := callTool(t, cs, "bridge_transform", map[string]any{"text": "a", "instruction": "b"})
		m := runLine.FindStringSubmatch(resultText(res))
		if m == nil {
			t.Fatalf("no Run: line in:\n%s", resultText(res))
		}
		runs = append(runs, m[1])
	}

	text = resultText(callTool(t, cs, "bridge_inspect", map[string]any{}))
	if !strings.Contains(text, "Recent runs (2):") {
		t.Errorf("expected two runs, got:\n%s", text)
	}
	if strings.Index(text, runs[1]) > strings.Index(text, runs[0]) {
		t.Errorf("newest run should be listed first, got:\n%s", text)
	}
}

// --- bridge_models / bridge_status ---

func TestBridgeModels(t *testing.T) {
	cs := setup(t, &runner.Runner{Binary: fakeBackend(t, "exit 0"), DefaultModel: "sonnet"})
	text := resultText(callTool(t, cs, "bridge_models", nil))
	for _, want := range []string{"  haiku", "* sonnet", "  opus", "Default: sonnet"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output, got:\n%s", want, text)
		}
	}
}

func TestBridgeStatus(t *testing.T) {
	cs := setup(t, &runner.Runner{Binary: fakeBackend(t, "exit 0")})
	text := resultText(callTool(t, cs, "bridge_status", nil))
	if !strings.Contains(text, "Available: yes") || !strings.Contains(text, "Version: 9.9.9 (fake)") {
		t.Errorf("unexpected status output:\n%s", text)
	}

	cs = setup(t, &runner.Runner{Binary: filepath.Join(t.TempDir(), "missing")})
	text = resultText(callTool(t, cs, "bridge_status", nil))
	if !strings.Contains(text, "Available: no") || !strings.Contains(text, "Error: spawning backend:") {
		t.Errorf("unexpected status output:\n%s", text)
	}
}

// --- roots ---

func TestRootConfigIsApplied(t *testing.T) {
	root := t.TempDir()
	backend := fakeBackend(t, "echo from-root")
	cfg := "binary: " + backend + "\nmodel: opus\ntimeout: 5s\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, ".clibridge"), []byte(cfg), 0o644))

	r := &runner.Runner{Binary: filepath.Join(t.TempDir(), "missing")}
	e := &workflow.Engine{Runner: r, Store: history.NewLRUStore(4, nil)}
	server := NewServer(e, WithRootConfig())

	ct, st := mcp.NewInMemoryTransports()
	ss, err := server.Connect(context.Background(), st, nil)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	client.AddRoots(&mcp.Root{URI: "file://" + root})
	cs := connect(t, client, ct, ss)

	// Tool calls are held until the root configuration has been applied,
	// so the very first call must already see it.
	text := resultText(callTool(t, cs, "bridge_models", nil))
	require.Contains(t, text, "Default: opus")

	text = resultText(callTool(t, cs, "bridge_transform", map[string]any{"text": "x", "instruction": "y"}))
	require.Contains(t, text, "Status: OK")
	require.Contains(t, text, "Model: opus")
	require.True(t, strings.HasSuffix(text, "from-root"), text)
}

func TestRootConfigWithoutFileKeepsRunner(t *testing.T) {
	root := t.TempDir()
	r := &runner.Runner{Binary: fakeBackend(t, "echo original"), DefaultModel: "sonnet"}
	server := NewServer(&workflow.Engine{Runner: r}, WithRootConfig())

	ct, st := mcp.NewInMemoryTransports()
	ss, err := server.Connect(context.Background(), st, nil)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	client.AddRoots(&mcp.Root{URI: "file://" + root})
	cs := connect(t, client, ct, ss)

	text := resultText(callTool(t, cs, "bridge_transform", map[string]any{"text": "x", "instruction": "y"}))
	require.Contains(t, text, "Model: sonnet")
	require.True(t, strings.HasSuffix(text, "original"), text)
	require.Equal(t, "sonnet", r.DefaultModel, "the caller's runner must never be mutated")
}
