package framegraph

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Graph operations.
var (
	// ErrClosed is returned when a Graph is used after Close.
	ErrClosed = errors.New("framegraph: session closed")

	// ErrNoBackend is returned by New when no backend could be
	// initialized.
	ErrNoBackend = errors.New("framegraph: no backend available")
)

// DrawableError reports that a window drawable could not be acquired for
// a pass. The frame degrades: the pass is skipped with a warning rather
// than aborting the frame. Unwrap yields the backend cause
// (typically backend.ErrDrawableUnavailable).
type DrawableError struct {
	// Resource is the window-handle resource that failed to acquire.
	Resource *Resource

	// Pass is the pass that was skipped.
	Pass *PassRecord

	// Err is the underlying acquisition error.
	Err error
}

// Error implements error.
func (e *DrawableError) Error() string {
	return fmt.Sprintf("framegraph: drawable for %s unavailable in pass %s: %v", e.Resource, e.Pass, e.Err)
}

// Unwrap returns the underlying acquisition error.
func (e *DrawableError) Unwrap() error { return e.Err }

// Programming-error class: caller contract violations abort frame
// compilation immediately with a diagnostic naming the offending resource
// and pass. They indicate bugs, not recoverable runtime conditions.

// fatalf panics with a framegraph-prefixed diagnostic.
func fatalf(format string, args ...any) {
	panic("framegraph: " + fmt.Sprintf(format, args...))
}
