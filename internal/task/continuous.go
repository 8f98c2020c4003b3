package task

import (
	"context"
	"fmt"

	"github.com/phrazzld/snippet-runner/internal/redact"
)

// RunContinuous polls src until ctx is cancelled or a Critical outcome
// aborts the run. When src has nothing available the run idles for
// IdlePause before asking again. Cancellation is a normal termination: the
// returned error is nil and Report.Cancelled is set.
func (p *Pipeline) RunContinuous(ctx context.Context, src RedoSource, work WorkFunc) (Report, error) {
	return p.RunContinuousWithHook(ctx, src, work, nil)
}

// RunContinuousWithHook is RunContinuous with a per-run success hook.
func (p *Pipeline) RunContinuousWithHook(ctx context.Context, src RedoSource, work WorkFunc, hook SuccessHook) (Report, error) {
	r := p.begin(ctx, ModeContinuous, hook)
	defer r.cleanup()

	r.loop(ctx, src, work)
	if ctx.Err() != nil {
		r.cancelled.Store(true)
		r.logger.Info("run cancelled", "pending", r.pool.Pending())
	}

	r.cleanup()
	return r.report, r.abortErr()
}

func (r *run) loop(ctx context.Context, src RedoSource, work WorkFunc) {
	done := ctx.Done()
	for !r.aborted() && ctx.Err() == nil {
		// Take as much work as the backlog allows
		r.setState(StateFilling)
		filled, err := r.fillFrom(ctx, src, work)
		if err != nil {
			if !r.transient(ctx, "read redo record", err) {
				return
			}
		}

		// Observe what finished; this pauses while the backlog is at its cap
		if !r.drain(done) {
			return
		}
		if r.aborted() || ctx.Err() != nil {
			return
		}
		if r.pool.Pending() >= r.cfg.BacklogCap() {
			continue
		}

		// Decide between refilling now, a short pause and the idle wait

		available, err := src.Count(ctx)
		if err != nil {
			if !r.transient(ctx, "count redo records", err) {
				return
			}
			available = 0
		}

		switch {
		case available > 0 && filled > 0:
			// more work right away
		case available > 0 || r.pool.Pending() > 0:
			if !sleep(done, r.cfg.DrainPause) {
				return
			}
		default:
			r.setState(StateIdle)
			counts := r.counters.Snapshot()
			r.logger.Info("no work available, idling",
				"idle_pause", r.cfg.IdlePause,
				"success", counts.Success,
				"errors", counts.Errors())
			if !sleep(done, r.cfg.IdlePause) {
				return
			}
		}
	}
}

// fillFrom submits units until the backlog is full or src has nothing
// available. It returns the number of inputs taken from src.
func (r *run) fillFrom(ctx context.Context, src RedoSource, work WorkFunc) (int, error) {
	taken := 0
	for r.pool.Pending() < r.cfg.BacklogCap() && !r.aborted() && ctx.Err() == nil {
		payload, ok, err := src.Next(ctx)
		if err != nil {
			return taken, err
		}
		if !ok {
			return taken, nil
		}
		taken++
		if err := r.submit(Input{Payload: payload}, work); err != nil {
			r.fail(err)
			return taken, nil
		}
	}
	return taken, nil
}

// transient decides what a source error means for the run. Retryable errors
// are logged and the run goes on; cancellation ends the loop without an
// abort; anything else aborts. It returns true when the loop may continue.
func (r *run) transient(ctx context.Context, op string, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if Classify("", err).Kind == KindRetryable {
		r.logger.Warn(op+" failed, will retry",
			"severity", "WARNING",
			"error", redact.Error(err))
		return sleep(ctx.Done(), r.cfg.DrainPause)
	}
	r.fail(fmt.Errorf("%s: %w", op, err))
	return false
}
