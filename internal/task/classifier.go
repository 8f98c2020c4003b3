package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/phrazzld/snippet-runner/internal/engine"
)

// Classify maps the outcome of an ExecFunc onto a Result.
//
//   - nil error: Success
//   - engine.ErrBadInput, ErrInvalidInput: BadInput
//   - engine.ErrRetryable, context cancellation or deadline: Retryable
//   - anything else: Critical
func Classify(value string, err error) Result {
	switch {
	case err == nil:
		return Result{Kind: KindSuccess, Value: value}
	case engine.IsBadInput(err), errors.Is(err, ErrInvalidInput):
		return Result{Kind: KindBadInput, Err: err}
	case engine.IsRetryable(err),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return Result{Kind: KindRetryable, Err: err}
	default:
		return Result{Kind: KindCritical, Err: err}
	}
}

// execute runs the unit and classifies its outcome. A panic inside Exec is
// recovered and reported as a Critical result wrapping ErrWorkerPanic.
func execute(ctx context.Context, unit Unit, logger *slog.Logger) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("unit panicked",
				"seq", unit.Seq,
				"line", unit.Line,
				"panic", r,
				"stack", string(debug.Stack()))
			res = Result{Kind: KindCritical, Err: fmt.Errorf("%w: %v", ErrWorkerPanic, r)}
		}
	}()

	if unit.Exec == nil {
		return Result{Kind: KindCritical, Err: fmt.Errorf("unit %d has no exec function", unit.Seq)}
	}
	return Classify(unit.Exec(ctx))
}
