// Package ecerrors augments the standard errors package with a Wrap()
// method and the classified error kinds used throughout the core
// (§7 of the design: not-found-locally, not-found-anywhere,
// source-missing, source-bad, destination-full, destination-error,
// hash-mismatch, cancelled, put-rejected, max-retries,
// scheduler-timeout).
package ecerrors

import (
	stderr "errors"
	"fmt"
)

// Kind classifies a terminal failure the way §7 describes it.
type Kind int

const (
	// KindUnknown is the zero value; never returned for a classified error.
	KindUnknown Kind = iota
	KindNotFoundLocally
	KindNotFoundAnywhere
	KindSourceMissing
	KindSourceBad
	KindDestinationFull
	KindDestinationError
	KindHashMismatch
	KindCancelled
	KindPutRejected
	KindMaxRetries
	KindSchedulerTimeout
)

func (k Kind) String() string {
	switch k {
	case KindNotFoundLocally:
		return "not-found-locally"
	case KindNotFoundAnywhere:
		return "not-found-anywhere"
	case KindSourceMissing:
		return "source-missing"
	case KindSourceBad:
		return "source-bad"
	case KindDestinationFull:
		return "destination-full"
	case KindDestinationError:
		return "destination-error"
	case KindHashMismatch:
		return "hash-mismatch"
	case KindCancelled:
		return "cancelled"
	case KindPutRejected:
		return "put-rejected"
	case KindMaxRetries:
		return "max-retries"
	case KindSchedulerTimeout:
		return "scheduler-timeout"
	default:
		return "unknown"
	}
}

var _ error = New("")

// New creates an Error carrying just a message.
func New(msg string) *Error {
	return &Error{msg: msg}
}

// NewKind creates an Error of the given kind.
func NewKind(kind Kind, msg string) *Error {
	return &Error{msg: msg, kind: kind}
}

// Error augments the standard error interface with a Wrap method and a
// classification Kind.
//
// The main difference with github.com/pkg/errors is that we are wrapping
// errors from errors, not from text, and we carry a Kind so that callers
// can branch on "what broke" without string-matching messages.
type Error struct {
	msg  string
	kind Kind
	err  error
}

// Error message: the bare message for an unclassified error, otherwise the
// kind followed by the message. The wrapped cause is not included.
func (e *Error) Error() string {
	if e.kind == KindUnknown {
		return e.msg
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

// Kind returns the error's classification.
func (e *Error) Kind() Kind {
	return e.kind
}

// Unwrap returns the nested error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// Wrap a nested error, returning the receiver for chaining.
func (e *Error) Wrap(err error) *Error {
	e.err = err
	return e
}

// Is reports whether target is e itself or its wrapped cause.
func (e *Error) Is(target error) bool {
	return e == target || e.err == target
}

// As is a shortcut to the standard library errors.As.
func As(err error, target interface{}) bool {
	return stderr.As(err, target)
}

// Is is a shortcut to the standard library errors.Is.
func Is(err, target error) bool {
	return stderr.Is(err, target)
}

// KindOf extracts the Kind of err, if err (or something it wraps) is an
// *Error; returns KindUnknown otherwise.
func KindOf(err error) Kind {
	var e *Error
	if As(err, &e) {
		return e.kind
	}
	return KindUnknown
}

// Retryable reports whether, per §7's propagation rules, an error of this
// kind should cause the copy engine to try the next candidate rather than
// abort the whole request.
func (k Kind) Retryable() bool {
	switch k {
	case KindSourceMissing, KindSourceBad, KindHashMismatch:
		return true
	default:
		return false
	}
}
