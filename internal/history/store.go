// Package history persists invocation records so a run can be inspected
// after the fact. Input text is never stored; only its digest is.
package history

import (
	"encoding/hex"
	"errors"
	"time"

	"github.com/zeebo/blake3"
)

// Status is the top-level outcome of an invocation.
type Status string

const (
	// PassThrough means the caller's text was returned unchanged.
	PassThrough Status = "passthrough"
	// Success means the backend produced transformed text.
	Success Status = "success"
	// Failure means the backend could not be run to a useful result.
	Failure Status = "failure"
)

// ErrNotFound is returned by Load when no record has the given ID.
var ErrNotFound = errors.New("record not found")

// Store persists and retrieves invocation records.
type Store interface {
	Save(rec *Record) error
	Load(id string) (*Record, error)
}

// Lister is implemented by stores that can enumerate recent records.
type Lister interface {
	Recent(n int) []*Record
}

// Record is the persisted form of one invocation.
type Record struct {
	ID          string    `json:"id"`
	Model       string    `json:"model"`
	Status      Status    `json:"status"`
	Kind        string    `json:"kind,omitempty"`   // failure kind, empty unless Status is failure
	Detail      string    `json:"detail,omitempty"` // failure detail
	InputDigest string    `json:"input_digest"`
	InputBytes  int       `json:"input_bytes"`
	Output      string    `json:"output,omitempty"` // transformed text; empty on pass-through or failure
	DurationMS  int64     `json:"duration_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

// Duration returns the recorded wall time.
func (r *Record) Duration() time.Duration {
	return time.Duration(r.DurationMS) * time.Millisecond
}

// Digest returns the BLAKE3 digest of text as "blake3:<hex>".
func Digest(text string) string {
	sum := blake3.Sum256([]byte(text))
	return "blake3:" + hex.EncodeToString(sum[:])
}
