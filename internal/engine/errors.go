package engine

import (
	"errors"
	"fmt"
)

// Error categories reported by an engine. Every error returned by an Engine
// implementation wraps exactly one of these so callers can classify it with
// errors.Is.
var (
	// ErrBadInput indicates the caller supplied malformed or semantically
	// invalid input. Retrying the same input will fail again.
	ErrBadInput = errors.New("bad input")

	// ErrRetryable indicates a transient backend condition. The same input
	// may succeed if submitted again later.
	ErrRetryable = errors.New("retryable failure")

	// ErrUnrecoverable indicates the engine is in a state where continuing
	// makes no sense (lost repository, destroyed environment, ...).
	ErrUnrecoverable = errors.New("unrecoverable failure")
)

// Derived errors.
var (
	// ErrNotFound is returned when a record or entity does not exist.
	ErrNotFound = fmt.Errorf("%w: not found", ErrBadInput)

	// ErrUnknownDataSource is returned when a record names an unregistered data source.
	ErrUnknownDataSource = fmt.Errorf("%w: unknown data source", ErrBadInput)

	// ErrEngineClosed is returned by calls made after Close.
	ErrEngineClosed = fmt.Errorf("%w: engine closed", ErrUnrecoverable)
)

// Error carries an engine-specific code alongside one of the category errors.
type Error struct {
	// Code is an engine-defined numeric code, zero when unknown.
	Code int

	// Op names the engine operation that failed.
	Op string

	// Kind is one of ErrBadInput, ErrRetryable or ErrUnrecoverable (or a
	// derived error wrapping one of them).
	Kind error

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Code != 0 {
		msg = fmt.Sprintf("%s (code %d)", msg, e.Code)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the category and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewError builds an *Error for the given operation and category.
func NewError(op string, kind error, cause error) *Error {
	return &Error{Op: op, Kind: kind, Err: cause}
}

// IsBadInput reports whether err belongs to the bad-input category.
func IsBadInput(err error) bool { return errors.Is(err, ErrBadInput) }

// IsRetryable reports whether err belongs to the retryable category.
func IsRetryable(err error) bool { return errors.Is(err, ErrRetryable) }
