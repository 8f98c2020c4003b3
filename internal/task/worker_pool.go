package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// WorkerPool runs units on a fixed set of worker goroutines and tracks every
// submitted unit until its completion has been observed by Poll or DrainAll.
//
// The pool is driven by a single goroutine: Submit, Poll, Shutdown and
// DrainAll are not meant to be called concurrently with each other, although
// Pending, HighWater and Closed may be read from anywhere.
type WorkerPool struct {
	// jobs carries submitted units to the workers
	jobs chan job

	// completions carries finished units back to the driver
	completions chan Completion

	// workerCount is the number of concurrent workers to start
	workerCount int

	// capacity bounds the number of tracked units
	capacity int

	// mu guards pending, nextHandle, highWater and closed
	mu         sync.Mutex
	pending    map[Handle]Unit
	nextHandle Handle
	highWater  int
	closed     bool

	// wg tracks active worker goroutines for clean shutdown
	wg sync.WaitGroup

	// ctx is passed to every unit
	ctx context.Context

	// logger for structured logging
	logger *slog.Logger

	startOnce    sync.Once
	shutdownOnce sync.Once
}

type job struct {
	handle Handle
	unit   Unit
}

// WorkerPoolConfig holds configuration options for the worker pool
type WorkerPoolConfig struct {
	// WorkerCount determines how many concurrent worker goroutines to start
	// If zero or negative, defaults to 1
	WorkerCount int

	// QueueSize is the maximum number of tracked units (the backlog cap)
	// If smaller than WorkerCount, defaults to WorkerCount
	QueueSize int
}

// NewWorkerPool creates a new worker pool. Units run with ctx; callers that
// want in-flight work to survive cancellation pass a detached context.
func NewWorkerPool(ctx context.Context, config WorkerPoolConfig, logger *slog.Logger) *WorkerPool {
	// Apply defaults for invalid config values
	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
	}
	capacity := config.QueueSize
	if capacity < workerCount {
		capacity = workerCount
	}

	return &WorkerPool{
		jobs:        make(chan job, capacity),
		completions: make(chan Completion, capacity),
		workerCount: workerCount,
		capacity:    capacity,
		pending:     make(map[Handle]Unit, capacity),
		ctx:         ctx,
		logger:      logger,
	}
}

// Start launches the workers. Calls after the first have no effect.
func (p *WorkerPool) Start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.workerCount; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}
		p.logger.Debug("worker pool started",
			"worker_count", p.workerCount,
			"capacity", p.capacity)
	})
}

// Submit tracks unit and hands it to a worker. It never blocks: it fails
// with ErrPoolClosed after Shutdown and with ErrQueueFull when the caller
// submitted past the capacity.
func (p *WorkerPool) Submit(unit Unit) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Reject work once shutdown has begun
	if p.closed {
		return 0, ErrPoolClosed
	}

	// Submitting past the capacity means the driver skipped a poll
	if len(p.pending) >= p.capacity {
		return 0, fmt.Errorf("%w: capacity %d reached", ErrQueueFull, p.capacity)
	}

	// Track the unit before a worker can finish it
	p.nextHandle++
	h := p.nextHandle
	p.pending[h] = unit
	if n := len(p.pending); n > p.highWater {
		p.highWater = n
	}

	// jobs has room for every tracked unit, so this send cannot block
	p.jobs <- job{handle: h, unit: unit}
	return h, nil
}

// Poll returns finished units and stops tracking them. When blocking is
// true and units are tracked, it waits for at least one to finish.
func (p *WorkerPool) Poll(blocking bool) []Completion {
	var out []Completion

	// Wait for one completion only when something is tracked, or this
	// would block forever
	if blocking && p.Pending() > 0 {
		out = append(out, p.observe(<-p.completions))
	}

	// Collect whatever else has already finished
	for {
		select {
		case c := <-p.completions:
			out = append(out, p.observe(c))
		default:
			return out
		}
	}
}

// DrainAll blocks until no unit is tracked and returns every remaining
// completion. After Shutdown it also waits for the workers to exit.
func (p *WorkerPool) DrainAll() []Completion {
	var out []Completion
	for p.Pending() > 0 {
		out = append(out, p.observe(<-p.completions))
	}

	// Workers exit once the closed job channel is empty
	if p.Closed() {
		p.wg.Wait()
	}
	return out
}

// Shutdown stops accepting submissions. Submitted units still run.
func (p *WorkerPool) Shutdown() {
	p.shutdownOnce.Do(func() {
		// Closing under the lock keeps Submit from sending on a closed channel
		p.mu.Lock()
		p.closed = true
		close(p.jobs)
		p.mu.Unlock()
		p.logger.Debug("worker pool shut down", "pending", p.Pending())
	})
}

// Pending returns the number of tracked units.
func (p *WorkerPool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// HighWater returns the largest number of units tracked at once.
func (p *WorkerPool) HighWater() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.highWater
}

// Capacity returns the maximum number of tracked units.
func (p *WorkerPool) Capacity() int {
	return p.capacity
}

// Closed reports whether Shutdown was called.
func (p *WorkerPool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *WorkerPool) observe(c Completion) Completion {
	p.mu.Lock()
	delete(p.pending, c.Handle)
	p.mu.Unlock()
	return c
}

// worker executes jobs until the job channel is closed
func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("starting worker", "worker_id", id)

	// Process jobs until the channel is closed by Shutdown
	for j := range p.jobs {
		res := execute(p.ctx, j.unit, p.logger.With("worker_id", id))
		// completions has room for every tracked unit
		p.completions <- Completion{Handle: j.handle, Unit: j.unit, Result: res}
	}
	p.logger.Debug("job channel closed, stopping worker", "worker_id", id)
}
