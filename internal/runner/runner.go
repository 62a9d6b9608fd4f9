// Package runner invokes the backend CLI for a single text transformation,
// bounded by a deadline, and classifies every exit path into an *Error.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/deixis/clibridge/internal/log"
	"github.com/deixis/clibridge/internal/model"
)

// Default values for runner configuration.
const (
	DefaultBinary    = "claude"
	DefaultTimeout   = 30 * time.Second
	DefaultMaxOutput = 4 << 20 // 4 MB per stream
)

// pipeWaitDelay bounds how long reaping waits for the output pipes after the
// backend exits, in case a grandchild inherited them.
const pipeWaitDelay = 2 * time.Second

// Runner executes the backend once per call. A Runner holds no per-call state
// and is safe for concurrent use.
type Runner struct {
	Binary       string        // backend executable, resolved via PATH
	DefaultModel string        // variant used when a request names none
	Timeout      time.Duration // deadline for one invocation
	MaxOutput    int           // bytes captured per stream
	Logger       *slog.Logger
}

// Prompt combines instruction and text into the single directive passed to
// the backend.
func Prompt(instruction, text string) string {
	return instruction + "\n\nText:\n" + text
}

// Run transforms req.Text with the backend.
//
// Whitespace-only text is returned unchanged without spawning anything. The
// backend is started directly with [--model <model> -p <prompt>], never via a
// shell. If it exits 0, the trimmed stdout is returned, or the original text
// when stdout is blank. Every other path returns an *Error.
//
// On timeout the process is killed and Run returns without waiting for the
// kill to land; reaping finishes in the background. Output the backend was
// still writing at that point is discarded.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	res := &Result{
		RunID: uuid.New().String(),
		Model: model.Resolve(req.Model, r.DefaultModel),
	}

	if strings.TrimSpace(req.Text) == "" {
		res.Output = req.Text
		res.PassThrough = true
		return res, nil
	}

	logger := r.logger().With("run_id", res.RunID, "model", res.Model)
	prompt := Prompt(req.Instruction, req.Text)
	timeout := r.timeout()

	cmd := exec.Command(r.binary(), "--model", res.Model, "-p", prompt)
	cmd.WaitDelay = pipeWaitDelay
	setProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	outW := &limitWriter{buf: &stdout, limit: r.maxOutput()}
	cmd.Stdout = outW
	cmd.Stderr = &limitWriter{buf: &stderr, limit: r.maxOutput()}

	logger.Debug("invoking backend", "binary", r.binary(), "prompt_chars", len(prompt), "timeout", timeout)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return res, &Error{Kind: KindSpawn, Detail: err.Error()}
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case err := <-waitErr:
		res.Duration = time.Since(start)
		res.Truncated = outW.truncated
		return res, r.harvest(cmd, res, req.Text, err, &stdout, &stderr, logger)

	case <-deadline.C:
		res.Duration = time.Since(start)
		logger.Warn("backend timed out, killing", "pid", cmd.Process.Pid, "timeout", timeout)
		kill(cmd, logger)
		return res, &Error{Kind: KindTimeout, Detail: "timed out after " + formatTimeout(timeout)}

	case <-ctx.Done():
		res.Duration = time.Since(start)
		logger.Warn("invocation interrupted, killing backend", "pid", cmd.Process.Pid, "error", ctx.Err())
		kill(cmd, logger)
		return res, &Error{Kind: KindTimeout, Detail: "interrupted: " + ctx.Err().Error()}
	}
}

// harvest classifies a finished process. It runs only after Wait returned, so
// the output buffers are no longer being written.
func (r *Runner) harvest(cmd *exec.Cmd, res *Result, original string, waitErr error, stdout, stderr *bytes.Buffer, logger *slog.Logger) error {
	if errors.Is(waitErr, exec.ErrWaitDelay) {
		// Exited 0, but something kept the pipes open past the delay.
		logger.Warn("backend output pipes outlived the process")
		waitErr = nil
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			kill(cmd, logger)
			return &Error{Kind: KindWait, Detail: waitErr.Error()}
		}
		detail := decode(stderr.Bytes())
		if strings.TrimSpace(detail) == "" {
			detail = exitErr.Error()
		}
		logger.Debug("backend exited non-zero", "exit_code", exitErr.ExitCode(), "duration", res.Duration)
		return &Error{Kind: KindBackend, Detail: detail}
	}

	out := strings.TrimSpace(decode(stdout.Bytes()))
	if out == "" {
		logger.Debug("backend returned empty output, passing text through")
		res.Output = original
		res.PassThrough = true
		return nil
	}

	logger.Debug("backend succeeded", "output_chars", len(out), "duration", res.Duration)
	res.Output = out
	return nil
}

// Version runs the backend with --version and returns its trimmed stdout.
// Only ctx bounds the call.
func (r *Runner) Version(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, r.binary(), "--version")
	cmd.WaitDelay = pipeWaitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitWriter{buf: &stdout, limit: r.maxOutput()}
	cmd.Stderr = &limitWriter{buf: &stderr, limit: r.maxOutput()}

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", &Error{Kind: KindTimeout, Detail: "interrupted: " + ctx.Err().Error()}
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			detail := strings.TrimSpace(decode(stderr.Bytes()))
			if detail == "" {
				detail = exitErr.Error()
			}
			return "", &Error{Kind: KindBackend, Detail: detail}
		}
		return "", &Error{Kind: KindSpawn, Detail: err.Error()}
	}
	return strings.TrimSpace(decode(stdout.Bytes())), nil
}

// Available reports whether the backend starts and answers --version with
// exit status 0. It is advisory only.
func (r *Runner) Available(ctx context.Context) bool {
	v, err := r.Version(ctx)
	if err != nil {
		r.logger().Warn("backend not available", "binary", r.binary(), "error", err)
		return false
	}
	r.logger().Debug("backend available", "binary", r.binary(), "version", v)
	return true
}

// BinaryName returns the executable the runner invokes.
func (r *Runner) BinaryName() string {
	return r.binary()
}

func (r *Runner) binary() string {
	if r.Binary != "" {
		return r.Binary
	}
	return DefaultBinary
}

func (r *Runner) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return DefaultTimeout
}

func (r *Runner) maxOutput() int {
	if r.MaxOutput > 0 {
		return r.MaxOutput
	}
	return DefaultMaxOutput
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.WithComponent("runner")
}

// kill sends SIGKILL to the backend's process group and does not wait for it
// to take effect. If the group cannot be signalled the direct child is killed.
func kill(cmd *exec.Cmd, logger *slog.Logger) {
	if cmd.Process == nil {
		return
	}
	err := killProcessGroup(cmd)
	if err == nil {
		return
	}
	logger.Warn("failed to kill backend process group", "pid", cmd.Process.Pid, "error", err)
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logger.Error("failed to kill backend", "pid", cmd.Process.Pid, "error", err)
	}
}

// decode converts backend output to a string, replacing invalid UTF-8 with
// U+FFFD.
func decode(b []byte) string {
	return strings.ToValidUTF8(string(b), "\uFFFD")
}

func formatTimeout(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("%d seconds", int(d/time.Second))
	}
	return d.String()
}

// limitWriter writes up to limit bytes to buf, then silently discards the rest.
type limitWriter struct {
	buf       *bytes.Buffer
	limit     int
	truncated bool
}

func (w *limitWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		w.truncated = w.truncated || len(p) > 0
		return len(p), nil // discard
	}
	if len(p) > remaining {
		// Write only what fits, but report all bytes as consumed
		// to avoid short write errors from io.Copy.
		w.buf.Write(p[:remaining])
		w.truncated = true
		return len(p), nil
	}
	return w.buf.Write(p)
}
