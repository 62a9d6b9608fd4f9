package runner

import (
	"errors"
	"fmt"
)

// Kind classifies why an invocation failed. The set is closed.
type Kind string

const (
	// KindSpawn means the process could not be created.
	KindSpawn Kind = "spawn"
	// KindWait means the OS failed while waiting for or reaping the process.
	KindWait Kind = "wait"
	// KindTimeout means the deadline passed and the process was killed.
	KindTimeout Kind = "timeout"
	// KindBackend means the process ran and exited non-zero.
	KindBackend Kind = "backend"
)

// Error is returned by Run for every failed invocation. Detail is always
// non-empty; for KindBackend it is the backend's stderr, verbatim.
type Error struct {
	Kind   Kind
	Detail string
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindSpawn:
		return "spawning backend: " + e.Detail
	case KindWait:
		return "waiting for backend: " + e.Detail
	case KindTimeout:
		return "backend " + e.Detail
	case KindBackend:
		return "backend failed: " + e.Detail
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
}

// KindOf reports the Kind of err if it wraps an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// DetailOf returns the detail string of err if it wraps an *Error, and
// err.Error() otherwise.
func DetailOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Detail
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
