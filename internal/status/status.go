// Package status defines the error kinds used across blobkv.
//
// The value-log layer distinguishes a handful of outcomes that callers
// need to branch on (spec.md §7): OK, NotFound, Corruption, IOError,
// InvalidArgument and NonFatal. Go has no status-code idiom, so Kind is
// carried as a typed error that wraps the underlying cause.
package status

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a status.Error.
type Kind int

const (
	// OK is never returned as an error; it exists so Kind has a zero value
	// distinct from the others.
	OK Kind = iota
	NotFound
	Corruption
	IOError
	InvalidArgument
	// NonFatal marks a soft GC decision: empty pick, threshold not met,
	// invalid file number for a manual GC request. Does not set bg_error.
	NonFatal
)

func (k Kind) String() string {
	switch k {
	case OK:
		return "OK"
	case NotFound:
		return "NotFound"
	case Corruption:
		return "Corruption"
	case IOError:
		return "IOError"
	case InvalidArgument:
		return "InvalidArgument"
	case NonFatal:
		return "NonFatal"
	default:
		return "Unknown"
	}
}

// Error is a status-carrying error: a Kind plus the wrapped cause.
type Error struct {
	kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

// Unwrap lets errors.Is/errors.As see through to the wrapped cause.
func (e *Error) Unwrap() error { return e.err }

// Kind returns the error's kind.
func (e *Error) Kind() Kind { return e.kind }

// New builds a status error of the given kind with the given message.
func New(kind Kind, msg string) error {
	return &Error{kind: kind, msg: msg}
}

// Wrap attaches a kind to an existing error. Returns nil if err is nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, msg: msg, err: errors.WithStack(err)}
}

// Wrapf is Wrap with formatting.
func Wrapf(kind Kind, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(kind, err, fmt.Sprintf(format, args...))
}

// KindOf returns the Kind carried by err, or IOError if err does not carry
// one (any raw, non-status error reaching a caller is treated as an I/O
// failure, matching spec.md §7's "any vlog error surfaces as IOError").
func KindOf(err error) Kind {
	if err == nil {
		return OK
	}
	var se *Error
	if errors.As(err, &se) {
		return se.kind
	}
	return IOError
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsNonFatal reports whether err is nil or carries the NonFatal kind,
// mirroring the reference implementation's Status::IsNonFatal().
func IsNonFatal(err error) bool {
	return err == nil || Is(err, NonFatal)
}
