package runner

import "time"

// Request is a single transformation request.
type Request struct {
	Text        string // payload, may be empty
	Instruction string // natural-language directive for the backend
	Model       string // backend variant; empty selects the runner default
}

// Result describes one invocation. Run returns a non-nil Result even when it
// also returns an error, so callers can always log RunID and Duration.
type Result struct {
	RunID       string        // unique identifier for this invocation
	Model       string        // variant actually passed to the backend
	Output      string        // trimmed stdout, or the original text on pass-through
	PassThrough bool          // true if Output is the caller's text, untouched
	Duration    time.Duration // wall time from spawn to harvest
	Truncated   bool          // true if stdout exceeded the size cap
}
