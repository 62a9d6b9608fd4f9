// Package workflow wraps the runner with the behaviour every caller of the
// bridge wants: fall back to the original text on failure, record the
// invocation, and count it. It is consumed by the CLI, the MCP server and
// the HTTP API.
package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/deixis/clibridge/internal/history"
	"github.com/deixis/clibridge/internal/log"
	"github.com/deixis/clibridge/internal/metrics"
	"github.com/deixis/clibridge/internal/runner"
)

//go:generate mockgen -destination=mocks/mock_transformer.go -package=mocks github.com/deixis/clibridge/internal/workflow Transformer

// Transformer invokes the backend. Implemented by runner.Runner.
type Transformer interface {
	Run(ctx context.Context, req runner.Request) (*runner.Result, error)
	Available(ctx context.Context) bool
	Version(ctx context.Context) (string, error)
}

// Engine holds shared dependencies for all bridge operations.
type Engine struct {
	Runner  Transformer
	Store   history.Store    // optional
	Metrics *metrics.Metrics // optional
	Logger  *slog.Logger     // optional
	Now     func() time.Time // optional, for tests
}

// Outcome is the caller-facing result of one transformation. Text is always
// usable: on failure it is the caller's original text.
type Outcome struct {
	RunID      string         `json:"run_id"`
	Model      string         `json:"model"`
	Status     history.Status `json:"status"`
	Kind       runner.Kind    `json:"kind,omitempty"`
	Detail     string         `json:"detail,omitempty"`
	Text       string         `json:"text"`
	Fallback   bool           `json:"fallback"`
	Truncated  bool           `json:"truncated,omitempty"`
	DurationMS int64          `json:"duration_ms"`
}

// Failed reports whether the backend could not produce a result.
func (o *Outcome) Failed() bool {
	return o.Status == history.Failure
}

// Transform runs one invocation and never fails: any runner error is turned
// into a fallback Outcome carrying the original text and the failure detail.
func (e *Engine) Transform(ctx context.Context, req runner.Request) *Outcome {
	res, err := e.Runner.Run(ctx, req)
	if res == nil {
		res = &runner.Result{}
	}

	out := &Outcome{
		RunID:      res.RunID,
		Model:      res.Model,
		Truncated:  res.Truncated,
		DurationMS: res.Duration.Milliseconds(),
	}

	logger := e.logger().With("run_id", out.RunID, "model", out.Model)

	switch {
	case err != nil:
		kind, ok := runner.KindOf(err)
		if !ok {
			kind = runner.KindWait
		}
		out.Status = history.Failure
		out.Kind = kind
		out.Detail = runner.DetailOf(err)
		out.Text = req.Text
		out.Fallback = true
		logger.Warn("transformation failed, using original text", "kind", kind, "detail", out.Detail, "duration_ms", out.DurationMS)
	case res.PassThrough:
		out.Status = history.PassThrough
		out.Text = req.Text
		logger.Debug("transformation passed text through")
	default:
		out.Status = history.Success
		out.Text = res.Output
		logger.Info("transformation succeeded", "input_chars", len(req.Text), "output_chars", len(out.Text), "duration_ms", out.DurationMS)
	}

	e.Metrics.Observe(out.Model, string(out.Status), string(out.Kind), res.Duration)
	e.record(req, out, logger)
	return out
}

func (e *Engine) record(req runner.Request, out *Outcome, logger *slog.Logger) {
	if e.Store == nil || out.RunID == "" {
		return
	}
	rec := &history.Record{
		ID:          out.RunID,
		Model:       out.Model,
		Status:      out.Status,
		Kind:        string(out.Kind),
		Detail:      out.Detail,
		InputDigest: history.Digest(req.Text),
		InputBytes:  len(req.Text),
		DurationMS:  out.DurationMS,
		CreatedAt:   e.now(),
	}
	if out.Status == history.Success {
		rec.Output = out.Text
	}
	if err := e.Store.Save(rec); err != nil {
		logger.Error("failed to save invocation record", "error", err)
	}
}

// StatusReport describes backend availability.
type StatusReport struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Status probes the backend with --version. The probe is advisory: it is
// true iff the backend starts and exits 0.
func (e *Engine) Status(ctx context.Context) *StatusReport {
	v, err := e.Runner.Version(ctx)
	if err != nil {
		e.logger().Warn("backend not available", "error", err)
		return &StatusReport{Error: err.Error()}
	}
	return &StatusReport{Available: true, Version: v}
}

// Available reports whether the backend answers --version successfully.
func (e *Engine) Available(ctx context.Context) bool {
	return e.Runner.Available(ctx)
}

// Inspect loads the record of a previous invocation.
func (e *Engine) Inspect(id string) (*history.Record, error) {
	if e.Store == nil {
		return nil, history.ErrNotFound
	}
	return e.Store.Load(id)
}

// Recent returns up to n of the most recently used records, newest first.
// n <= 0 returns all that are held. Stores that cannot list return nil.
func (e *Engine) Recent(n int) []*history.Record {
	l, ok := e.Store.(history.Lister)
	if !ok {
		return nil
	}
	return l.Recent(n)
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.WithComponent("workflow")
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}
