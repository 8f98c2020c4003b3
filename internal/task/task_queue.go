package task

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// TaskQueue is a bounded FIFO between one producer and one consumer. The
// producer closes it once it is done; the consumer then receives the
// remaining items followed by ErrQueueClosed.
type TaskQueue[T any] struct {
	items     chan T
	logger    *slog.Logger
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewTaskQueue creates a new task queue with the specified buffer size
func NewTaskQueue[T any](size int, logger *slog.Logger) *TaskQueue[T] {
	if size <= 0 {
		size = 1
	}
	return &TaskQueue[T]{
		items:  make(chan T, size),
		logger: logger,
	}
}

// Put adds an item, waiting for room until ctx is done.
func (q *TaskQueue[T]) Put(ctx context.Context, item T) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}

	select {
	case q.items <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Poll removes the oldest item, waiting up to timeout. It returns
// ErrPollTimeout when nothing arrived in time and ErrQueueClosed once the
// queue is closed and empty.
func (q *TaskQueue[T]) Poll(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case item, ok := <-q.items:
		if !ok {
			return zero, ErrQueueClosed
		}
		return item, nil
	case <-timer.C:
		return zero, ErrPollTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Close closes the task queue, preventing further submission.
// Only the producer may call it.
func (q *TaskQueue[T]) Close() {
	q.closeOnce.Do(func() {
		q.closed.Store(true)
		close(q.items)
		q.logger.Debug("task queue closed", "remaining", len(q.items))
	})
}

// Len returns the number of queued items.
func (q *TaskQueue[T]) Len() int {
	return len(q.items)
}

// Cap returns the queue capacity.
func (q *TaskQueue[T]) Cap() int {
	return cap(q.items)
}
