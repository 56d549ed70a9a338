package pipeline

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind tags a pipeline failure so the transport layer can pick an
// external representation without inspecting messages.
type Kind string

const (
	// KindConfig - no detector available or the requested model is not
	// loaded; no partial work was performed.
	KindConfig Kind = "config"
	// KindInput - unsupported file type or malformed parameters, rejected
	// before any detector invocation.
	KindInput Kind = "input"
	// KindDetector - model invocation failed; fatal for the request.
	KindDetector Kind = "detector"
	// KindRender - producing or writing the annotated output failed.
	KindRender Kind = "render"
	// KindHistory - history I/O failed; logged and swallowed, never
	// surfaced to the caller.
	KindHistory Kind = "history"
)

// Error is a tagged pipeline failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E wraps err with a kind tag.
func E(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Ef creates a tagged error from a format string.
func Ef(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Err: errors.Errorf(format, args...)}
}

// KindOf extracts the kind tag; untagged errors report as detector
// failures, the most conservative mapping.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindDetector
}
