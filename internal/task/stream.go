package task

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"
)

// RunStream drives src with one producer and one consumer joined by a
// bounded TaskQueue. The consumer executes each unit itself, so outcomes
// and retry file lines follow input order.
//
// Cancelling ctx or a Critical outcome stops the producer only. The
// consumer keeps going until the queue is closed and empty, so every
// submitted unit is executed and observed, as the batch driver does in its
// final drain.
func (p *Pipeline) RunStream(ctx context.Context, src Source, work WorkFunc) (Report, error) {
	return p.RunStreamWithHook(ctx, src, work, nil)
}

// RunStreamWithHook is RunStream with a per-run success hook.
func (p *Pipeline) RunStreamWithHook(ctx context.Context, src Source, work WorkFunc, hook SuccessHook) (Report, error) {
	r := p.begin(ctx, ModeStream, hook)
	defer r.cleanup()

	g, gctx := errgroup.WithContext(ctx)

	// the consumer stops the producer on abort without returning, since it
	// still has the queue to drain
	pctx, stopProducer := context.WithCancel(gctx)
	defer stopProducer()

	g.Go(func() error { return r.produce(pctx, src, work) })
	g.Go(func() error { return r.consume(stopProducer) })

	err := g.Wait()
	switch {
	case err == nil:
	case r.aborted() && errors.Is(err, context.Canceled):
		// producer stopped by the consumer after a Critical outcome
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		r.cancelled.Store(true)
		r.logger.Info("run cancelled", "submitted", r.submitted.Load())
	default:
		r.fail(err)
	}

	r.cleanup()
	return r.report, r.abortErr()
}

// produce reads src into the queue until the input is exhausted or ctx is
// done. The queue is closed on every exit path so the consumer can finish.
func (r *run) produce(ctx context.Context, src Source, work WorkFunc) error {
	defer r.queue.Close()

	for {
		in, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			r.logger.Debug("producer finished", "read", r.seq)
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read input: %w", err)
		}

		unit, ok := r.build(in, work)
		if !ok {
			continue
		}

		// Put only fails when ctx is done; the unit was never queued and is
		// not counted as submitted
		if err := r.queue.Put(ctx, unit); err != nil {
			return err
		}
		r.submitted.Add(1)
		if n := int64(r.queue.Len()); n > r.highWater.Load() {
			r.highWater.Store(n)
		}
	}
}

// consume executes queued units in order until the producer has closed the
// queue and it is empty. Polling uses the detached context, so cancellation
// never leaves a submitted unit behind in the queue.
func (r *run) consume(stopProducer context.CancelFunc) error {
	for {
		unit, err := r.queue.Poll(r.execCtx, r.cfg.PollTimeout)
		switch {
		case errors.Is(err, ErrPollTimeout):
			r.logger.Debug("consumer waiting for input")
			continue
		case errors.Is(err, ErrQueueClosed):
			return nil
		case err != nil:
			return err
		}

		if r.aborted() {
			r.setState(StateFinalDrain)
		}
		res := execute(r.execCtx, unit, r.logger)
		if err := r.recorder.Record(r.execCtx, Completion{Unit: unit, Result: res}); err != nil {
			// the first abort wins; the rest of the queue is still classified
			r.fail(err)
			stopProducer()
		}
	}
}
