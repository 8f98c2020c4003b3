package task

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/snippet-runner/internal/redact"
)

// Recorder applies the outcome policy to observed units: it counts every
// outcome, persists retryable payloads, forwards successes to the hook, and
// reports Critical outcomes to the caller as an *AbortError.
type Recorder struct {
	// counters aggregates outcomes
	counters *Counters

	// sink receives retryable payloads
	sink *RetrySink

	// hook is called for successful units, may be nil
	hook SuccessHook

	// logger for structured logging
	logger *slog.Logger

	// progressEvery logs progress each time this many units were observed,
	// zero disables progress logging
	progressEvery int64
}

// NewRecorder creates a Recorder.
func NewRecorder(counters *Counters, sink *RetrySink, hook SuccessHook, progressEvery int, logger *slog.Logger) *Recorder {
	return &Recorder{
		counters:      counters,
		sink:          sink,
		hook:          hook,
		logger:        logger,
		progressEvery: int64(progressEvery),
	}
}

// Record applies the policy for one completion. It returns an *AbortError
// when the run must stop: for a Critical outcome, or when a retryable
// payload could not be persisted.
func (r *Recorder) Record(ctx context.Context, c Completion) error {
	unit, res := c.Unit, c.Result
	counts := r.counters.Add(res.Kind)
	defer r.progress(counts)

	switch res.Kind {
	case KindSuccess:
		if r.hook != nil {
			if err := r.hook(ctx, unit, res.Value); err != nil {
				r.logger.Warn("success hook failed",
					"severity", "WARNING",
					"seq", unit.Seq,
					"line", unit.Line,
					"error", err)
			}
		}
		return nil

	case KindBadInput:
		r.logger.Error("unit rejected",
			"severity", "ERROR",
			"seq", unit.Seq,
			"line", unit.Line,
			"error", redact.Error(res.Err))
		return nil

	case KindRetryable:
		r.logger.Warn("unit failed, queued for retry",
			"severity", "WARNING",
			"seq", unit.Seq,
			"line", unit.Line,
			"error", redact.Error(res.Err))
		if err := r.sink.Append(unit.Payload); err != nil {
			return &AbortError{Unit: unit, Err: fmt.Errorf("persist retryable unit: %w", err)}
		}
		return nil

	default:
		r.logger.Error("unit failed",
			"severity", "CRITICAL",
			"seq", unit.Seq,
			"line", unit.Line,
			"error", redact.Error(res.Err))
		return &AbortError{Unit: unit, Err: res.Err}
	}
}

// Reject records an input that never became a unit because it failed
// structural validation.
func (r *Recorder) Reject(seq int64, in Input, err error) {
	counts := r.counters.Add(KindBadInput)
	r.logger.Error("input rejected",
		"severity", "ERROR",
		"seq", seq,
		"line", in.Line,
		"error", redact.Error(err))
	r.progress(counts)
}

func (r *Recorder) progress(counts Counts) {
	if r.progressEvery <= 0 {
		return
	}
	if total := counts.Total(); total%r.progressEvery == 0 {
		r.logger.Info("progress",
			"observed", total,
			"success", counts.Success,
			"errors", counts.Errors())
	}
}
