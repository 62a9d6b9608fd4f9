package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeBackend writes an executable shell script standing in for the
// backend CLI and returns its path. Arguments arrive as
// $1=--model $2=<model> $3=-p $4=<prompt>.
func writeBackend(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backend")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestRunner(t *testing.T, body string) *Runner {
	t.Helper()
	return &Runner{
		Binary:    writeBackend(t, body),
		Timeout:   10 * time.Second,
		MaxOutput: 1 << 20,
	}
}

func wantKind(t *testing.T, err error, want Kind) *Error {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	e, ok := err.(*Error)
	if !ok {
		t.Fatalf("error = %T (%v), want *Error", err, err)
	}
	if e.Kind != want {
		t.Fatalf("Kind = %s, want %s (detail %q)", e.Kind, want, e.Detail)
	}
	return e
}

func TestRun_EmptyTextPassesThroughWithoutSpawning(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "spawned")
	r := newTestRunner(t, "touch "+marker)

	for _, text := range []string{"", "   ", "\n\t  \n"} {
		res, err := r.Run(context.Background(), Request{Text: text, Instruction: "Fix grammar", Model: "haiku"})
		if err != nil {
			t.Fatalf("Run(%q): unexpected error: %v", text, err)
		}
		if !res.PassThrough {
			t.Errorf("Run(%q): PassThrough = false, want true", text)
		}
		if res.Output != text {
			t.Errorf("Run(%q): Output = %q, want original text", text, res.Output)
		}
	}
	if _, err := os.Stat(marker); err == nil {
		t.Error("backend was spawned for whitespace-only text")
	}
}

func TestRun_SuccessTrimsOutput(t *testing.T) {
	r := newTestRunner(t, `printf '  Hello world  \n'`)
	res, err := r.Run(context.Background(), Request{Text: "helo wrld", Instruction: "Fix spelling"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Output != "Hello world" {
		t.Errorf("Output = %q, want %q", res.Output, "Hello world")
	}
	if res.PassThrough {
		t.Error("PassThrough = true, want false")
	}
	if res.RunID == "" {
		t.Error("RunID is empty")
	}
	if res.Duration <= 0 {
		t.Errorf("Duration = %v, want > 0", res.Duration)
	}
}

func TestRun_EmptyOutputPassesThrough(t *testing.T) {
	r := newTestRunner(t, `printf '  \n'`)
	res, err := r.Run(context.Background(), Request{Text: " keep me ", Instruction: "Fix"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.PassThrough || res.Output != " keep me " {
		t.Errorf("got PassThrough=%v Output=%q, want original text", res.PassThrough, res.Output)
	}
}

func TestRun_NonZeroExitIsBackendError(t *testing.T) {
	r := newTestRunner(t, `printf 'rate limited' >&2; exit 1`)
	res, err := r.Run(context.Background(), Request{Text: "hello", Instruction: "Fix"})
	e := wantKind(t, err, KindBackend)
	if e.Detail != "rate limited" {
		t.Errorf("Detail = %q, want %q", e.Detail, "rate limited")
	}
	if res == nil || res.RunID == "" {
		t.Error("Result should carry a RunID on failure")
	}
}

func TestRun_NonZeroExitWithoutStderr(t *testing.T) {
	r := newTestRunner(t, `exit 3`)
	_, err := r.Run(context.Background(), Request{Text: "hello", Instruction: "Fix"})
	e := wantKind(t, err, KindBackend)
	if !strings.Contains(e.Detail, "exit status 3") {
		t.Errorf("Detail = %q, want exit status", e.Detail)
	}
}

func TestRun_ArgumentVector(t *testing.T) {
	r := newTestRunner(t, `printf '%s|%s|%s|%s|%s' "$#" "$1" "$2" "$3" "$4"`)
	text := "it's \"quoted\" $HOME `x`"
	res, err := r.Run(context.Background(), Request{Text: text, Instruction: "Fix grammar", Model: "sonnet"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "4|--model|sonnet|-p|Fix grammar\n\nText:\n" + text
	if res.Output != want {
		t.Errorf("Output = %q, want %q", res.Output, want)
	}
}

func TestRun_DefaultAndUnknownModel(t *testing.T) {
	r := newTestRunner(t, `printf '%s' "$2"`)

	res, err := r.Run(context.Background(), Request{Text: "x", Instruction: "i"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Output != "haiku" {
		t.Errorf("default model = %q, want haiku", res.Output)
	}

	r.DefaultModel = "opus"
	res, _ = r.Run(context.Background(), Request{Text: "x", Instruction: "i"})
	if res.Output != "opus" {
		t.Errorf("configured default = %q, want opus", res.Output)
	}

	res, _ = r.Run(context.Background(), Request{Text: "x", Instruction: "i", Model: "not-in-table"})
	if res.Output != "not-in-table" {
		t.Errorf("unknown model = %q, want it passed through", res.Output)
	}
}

func TestRun_InvalidUTF8IsReplaced(t *testing.T) {
	r := newTestRunner(t, `printf '\377ok'`)
	res, err := r.Run(context.Background(), Request{Text: "x", Instruction: "i"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Output != "\uFFFDok" {
		t.Errorf("Output = %q, want replacement character", res.Output)
	}
}

func TestRun_BinaryNotFound(t *testing.T) {
	r := &Runner{Binary: filepath.Join(t.TempDir(), "nonexistent-backend-xyz")}
	start := time.Now()
	_, err := r.Run(context.Background(), Request{Text: "hello", Instruction: "Fix"})
	e := wantKind(t, err, KindSpawn)
	if !strings.Contains(e.Detail, "nonexistent-backend-xyz") {
		t.Errorf("Detail = %q, want to mention the binary", e.Detail)
	}
	if time.Since(start) > time.Second {
		t.Error("spawn failure should return immediately")
	}
}

func TestRun_NotExecutable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backend")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := &Runner{Binary: path}
	_, err := r.Run(context.Background(), Request{Text: "hello", Instruction: "Fix"})
	wantKind(t, err, KindSpawn)
}

func TestRun_Timeout(t *testing.T) {
	r := newTestRunner(t, `printf 'partial'; exec sleep 10`)
	r.Timeout = 200 * time.Millisecond

	start := time.Now()
	res, err := r.Run(context.Background(), Request{Text: "hello", Instruction: "Fix"})
	elapsed := time.Since(start)

	e := wantKind(t, err, KindTimeout)
	if e.Detail != "timed out after 200ms" {
		t.Errorf("Detail = %q", e.Detail)
	}
	if elapsed > 2*time.Second {
		t.Errorf("Run took %v, want close to the 200ms deadline", elapsed)
	}
	if res.Output != "" {
		t.Errorf("Output = %q, partial output should be discarded", res.Output)
	}
}

func TestRun_ContextCancel(t *testing.T) {
	r := newTestRunner(t, `exec sleep 10`)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, err := r.Run(ctx, Request{Text: "hello", Instruction: "Fix"})
	e := wantKind(t, err, KindTimeout)
	if !strings.HasPrefix(e.Detail, "interrupted:") {
		t.Errorf("Detail = %q, want interrupted prefix", e.Detail)
	}
}

func TestRun_Idempotent(t *testing.T) {
	r := newTestRunner(t, `printf '%s' "$4" | tr a-z A-Z`)
	req := Request{Text: "same input", Instruction: "upper"}
	a, errA := r.Run(context.Background(), req)
	b, errB := r.Run(context.Background(), req)
	if errA != nil || errB != nil {
		t.Fatalf("unexpected errors: %v, %v", errA, errB)
	}
	if a.Output != b.Output || a.PassThrough != b.PassThrough {
		t.Errorf("outcomes differ: %q vs %q", a.Output, b.Output)
	}
	if a.RunID == b.RunID {
		t.Error("RunID should be unique per call")
	}
}

func TestRun_OutputTruncation(t *testing.T) {
	r := newTestRunner(t, "dd if=/dev/zero bs=200 count=1 2>/dev/null | tr '\\0' 'a'")
	r.MaxOutput = 100

	res, err := r.Run(context.Background(), Request{Text: "x", Instruction: "i"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Truncated {
		t.Error("Truncated = false, want true")
	}
	if len(res.Output) != 100 {
		t.Errorf("len(Output) = %d, want 100", len(res.Output))
	}
}

func TestVersionAndAvailable(t *testing.T) {
	ok := newTestRunner(t, `[ "$1" = "--version" ] || exit 9; printf '2.1.0 (Claude Code)\n'`)
	v, err := ok.Version(context.Background())
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v != "2.1.0 (Claude Code)" {
		t.Errorf("Version = %q", v)
	}
	if !ok.Available(context.Background()) {
		t.Error("Available = false, want true")
	}

	failing := newTestRunner(t, `echo broken >&2; exit 1`)
	if failing.Available(context.Background()) {
		t.Error("Available = true for non-zero exit")
	}
	_, err = failing.Version(context.Background())
	wantKind(t, err, KindBackend)

	missing := &Runner{Binary: filepath.Join(t.TempDir(), "missing")}
	if missing.Available(context.Background()) {
		t.Error("Available = true for missing binary")
	}
}

func TestError_Messages(t *testing.T) {
	cases := []struct {
		err  *Error
		want string
	}{
		{&Error{KindSpawn, "not found"}, "spawning backend: not found"},
		{&Error{KindWait, "ECHILD"}, "waiting for backend: ECHILD"},
		{&Error{KindTimeout, "timed out after 30 seconds"}, "backend timed out after 30 seconds"},
		{&Error{KindBackend, "rate limited"}, "backend failed: rate limited"},
	}
	for _, c := range cases {
		if got := c.err.Error(); got != c.want {
			t.Errorf("Error() = %q, want %q", got, c.want)
		}
		if k, ok := KindOf(c.err); !ok || k != c.err.Kind {
			t.Errorf("KindOf = %v, %v", k, ok)
		}
	}
	if formatTimeout(30*time.Second) != "30 seconds" {
		t.Errorf("formatTimeout(30s) = %q", formatTimeout(30*time.Second))
	}
}
