// Package apperror defines the error taxonomy shared by the scheduling and
// queue domains. Handlers translate kinds to HTTP statuses; services attach
// the context a caller needs to act on the rejection.
package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport mapping and caller recovery.
type Kind int

const (
	// KindValidation rejects malformed input (bad range, missing duration).
	// Terminal for the request.
	KindValidation Kind = iota
	// KindNotFound signals a missing entity. Terminal for the request.
	KindNotFound
	// KindAlreadyBooked signals a lost slot reservation race. The caller
	// should pick another slot.
	KindAlreadyBooked
	// KindState rejects an illegal status transition.
	KindState
	// KindConcurrency signals a transaction serialization failure after
	// retries. The caller should retry the single operation.
	KindConcurrency
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindAlreadyBooked:
		return "already_booked"
	case KindState:
		return "state"
	case KindConcurrency:
		return "concurrency"
	}
	return "unknown"
}

// Error is a kinded error with a caller-facing message.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Validation builds a KindValidation error.
func Validation(format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// NotFound builds a KindNotFound error.
func NotFound(format string, args ...interface{}) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// AlreadyBooked builds a KindAlreadyBooked error.
func AlreadyBooked(format string, args ...interface{}) error {
	return &Error{Kind: KindAlreadyBooked, Msg: fmt.Sprintf(format, args...)}
}

// State builds a KindState error.
func State(format string, args ...interface{}) error {
	return &Error{Kind: KindState, Msg: fmt.Sprintf(format, args...)}
}

// Concurrency builds a KindConcurrency error wrapping the underlying cause.
func Concurrency(msg string, err error) error {
	return &Error{Kind: KindConcurrency, Msg: msg, Err: err}
}

// KindOf returns the kind of err, or ok=false when err carries no kind.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Is reports whether err carries the given kind.
func Is(err error, k Kind) bool {
	kind, ok := KindOf(err)
	return ok && kind == k
}
