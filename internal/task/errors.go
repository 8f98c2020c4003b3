package task

import (
	"errors"
	"fmt"
)

// Common errors returned by the pool, the queue and the pipeline.
var (
	ErrPoolClosed   = errors.New("worker pool is closed")
	ErrQueueClosed  = errors.New("task queue is closed")
	ErrQueueFull    = errors.New("task queue is full")
	ErrPollTimeout  = errors.New("task queue poll timed out")
	ErrSinkClosed   = errors.New("retry sink is closed")
	ErrInvalidInput = errors.New("invalid input")
	ErrWorkerPanic  = errors.New("worker panicked")
)

// AbortError is returned by a pipeline run that stopped because of a
// Critical outcome. Unit is the unit that triggered the abort; it is the zero
// Unit when the run failed outside of any unit (for example a source error).
type AbortError struct {
	Unit Unit
	Err  error
}

// Error implements the error interface.
func (e *AbortError) Error() string {
	if e.Unit.Seq == 0 {
		return fmt.Sprintf("run aborted: %v", e.Err)
	}
	if e.Unit.Line > 0 {
		return fmt.Sprintf("run aborted at unit %d (line %d): %v", e.Unit.Seq, e.Unit.Line, e.Err)
	}
	return fmt.Sprintf("run aborted at unit %d: %v", e.Unit.Seq, e.Err)
}

// Unwrap returns the underlying cause.
func (e *AbortError) Unwrap() error {
	return e.Err
}
