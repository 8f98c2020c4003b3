package task

import (
	"context"
)

// Kind is the classified outcome of a unit of work.
type Kind int

// Outcome kinds.
const (
	KindSuccess Kind = iota
	KindBadInput
	KindRetryable
	KindCritical
)

// String returns the upper-case name used in logs and reports.
func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "SUCCESS"
	case KindBadInput:
		return "BAD_INPUT"
	case KindRetryable:
		return "RETRYABLE"
	case KindCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Result is the tagged outcome of one unit. Value is set for KindSuccess,
// Err for every other kind.
type Result struct {
	Kind  Kind
	Value string
	Err   error
}

// ExecFunc executes a unit against the engine and returns the engine's
// response document.
type ExecFunc func(ctx context.Context) (string, error)

// Unit is a unit of work. It is immutable once submitted.
type Unit struct {
	// Seq is assigned in read order, starting at 1
	Seq int64

	// Line is the source line number, zero when the source has no lines
	Line int

	// Payload is the raw input, written verbatim to the retry sink
	Payload string

	// Exec performs the work
	Exec ExecFunc
}

// Handle identifies a unit tracked by a WorkerPool.
type Handle int64

// Completion pairs a finished unit with its result.
type Completion struct {
	Handle Handle
	Unit   Unit
	Result Result
}

// Input is one raw item read from a Source.
type Input struct {
	Line    int
	Payload string
}

// WorkFunc turns a raw input into the work to execute. An error means the
// input is structurally invalid; it is recorded as BadInput and never
// submitted.
type WorkFunc func(in Input) (ExecFunc, error)

// Source yields a finite sequence of inputs. Next returns io.EOF once the
// input is exhausted; any other error aborts the run.
type Source interface {
	Next(ctx context.Context) (Input, error)
}

// RedoSource is a refillable source polled by the continuous pipeline.
// Next returns ok=false when nothing is available right now.
type RedoSource interface {
	Next(ctx context.Context) (payload string, ok bool, err error)
	Count(ctx context.Context) (int64, error)
}

// SuccessHook receives the value of every successful unit. Its errors are
// logged and never change the outcome of the unit or the run.
type SuccessHook func(ctx context.Context, unit Unit, value string) error
