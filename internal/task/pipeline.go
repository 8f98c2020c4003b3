package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Config holds the pipeline tuning knobs.
type Config struct {
	// Workers is the number of concurrent workers
	Workers int

	// BacklogMultiplier sets the backlog cap to Workers * BacklogMultiplier
	BacklogMultiplier int

	// DrainPause is the sleep between drain attempts while at the backlog cap
	DrainPause time.Duration

	// IdlePause is the sleep of the continuous pipeline when no work is available
	IdlePause time.Duration

	// PollTimeout bounds each wait of the streaming consumer
	PollTimeout time.Duration

	// ProgressInterval logs progress every N observed units, zero disables it
	ProgressInterval int

	// RetryDir is where the retry file is created, the OS temp dir when empty
	RetryDir string
}

// DefaultConfig returns a Config with reasonable defaults
func DefaultConfig() Config {
	return Config{
		Workers:           8,
		BacklogMultiplier: 10,
		DrainPause:        100 * time.Millisecond,
		IdlePause:         30 * time.Second,
		PollTimeout:       3 * time.Second,
		ProgressInterval:  100,
	}
}

// BacklogCap returns the maximum number of in-flight units.
func (c Config) BacklogCap() int {
	return c.Workers * c.BacklogMultiplier
}

func (c Config) withDefaults(logger *slog.Logger) Config {
	def := DefaultConfig()
	if c.Workers <= 0 {
		logger.Warn("invalid worker count specified, using default",
			"specified_count", c.Workers,
			"default_count", def.Workers)
		c.Workers = def.Workers
	}
	if c.BacklogMultiplier <= 0 {
		c.BacklogMultiplier = def.BacklogMultiplier
	}
	if c.DrainPause <= 0 {
		c.DrainPause = def.DrainPause
	}
	if c.IdlePause <= 0 {
		c.IdlePause = def.IdlePause
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = def.PollTimeout
	}
	return c
}

// Mode names a pipeline driver.
type Mode string

// Pipeline modes.
const (
	ModeBatch      Mode = "batch"
	ModeContinuous Mode = "continuous"
	ModeStream     Mode = "stream"
)

// State is the position of a run in its state machine.
type State string

// Run states.
const (
	StateFilling      State = "FILLING"
	StateDraining     State = "DRAINING"
	StatePaused       State = "PAUSED"
	StateIdle         State = "IDLE"
	StateShuttingDown State = "SHUTTING_DOWN"
	StateFinalDrain   State = "FINAL_DRAIN"
	StateTerminated   State = "TERMINATED"
)

// Report summarizes a finished run.
type Report struct {
	RunID      string        `json:"run_id"`
	Mode       Mode          `json:"mode"`
	Counts     Counts        `json:"counts"`
	Submitted  int64         `json:"submitted"`
	Rejected   int64         `json:"rejected"`
	RetryFile  string        `json:"retry_file,omitempty"`
	RetryCount int           `json:"retry_count"`
	MaxBacklog int           `json:"max_backlog"`
	Cancelled  bool          `json:"cancelled"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Status is a live view of the current run.
type Status struct {
	RunID      string    `json:"run_id"`
	Mode       Mode      `json:"mode"`
	State      State     `json:"state"`
	Pending    int       `json:"pending"`
	BacklogCap int       `json:"backlog_cap"`
	Counts     Counts    `json:"counts"`
	RetryFile  string    `json:"retry_file,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSuccessHook installs a hook called for every successful unit.
func WithSuccessHook(hook SuccessHook) Option {
	return func(p *Pipeline) { p.hook = hook }
}

// Pipeline drives sources through the bounded backlog. A Pipeline may be
// used for several runs, one at a time.
type Pipeline struct {
	cfg    Config
	hook   SuccessHook
	logger *slog.Logger

	// slot is shared with the pipelines derived by Sequential
	slot *runSlot
}

// runSlot holds the run in progress, if any.
type runSlot struct {
	mu      sync.Mutex
	current *run
}

func (s *runSlot) get() *run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *runSlot) set(r *run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = r
}

// clear empties the slot if r still holds it.
func (s *runSlot) clear(r *run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == r {
		s.current = nil
	}
}

// NewPipeline creates a Pipeline.
func NewPipeline(cfg Config, logger *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:    cfg.withDefaults(logger),
		logger: logger.With("component", "pipeline"),
		slot:   &runSlot{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Sequential returns a pipeline that executes one unit at a time: one
// worker and a backlog cap of one. Pauses, retry directory and success hook
// are shared with p, and so is the status slot, so Status on either
// pipeline reports runs of both.
func (p *Pipeline) Sequential() *Pipeline {
	cfg := p.cfg
	cfg.Workers = 1
	cfg.BacklogMultiplier = 1
	return &Pipeline{
		cfg:    cfg,
		hook:   p.hook,
		logger: p.logger.With("sequential", true),
		slot:   p.slot,
	}
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Status returns the state of the run in progress, if any.
func (p *Pipeline) Status() (Status, bool) {
	r := p.slot.get()
	if r == nil {
		return Status{}, false
	}
	return r.status(), true
}

// run holds the state of one pipeline run.
type run struct {
	id       string
	mode     Mode
	cfg      Config
	started  time.Time
	logger   *slog.Logger
	owner    *Pipeline
	counters *Counters
	sink     *RetrySink
	recorder *Recorder

	// pool is nil in stream mode
	pool *WorkerPool

	// queue is nil unless in stream mode
	queue *TaskQueue[Unit]

	// execCtx is detached from cancellation so in-flight work completes
	execCtx context.Context

	state     atomic.Value
	seq       int64
	submitted atomic.Int64
	rejected  atomic.Int64
	highWater atomic.Int64

	abortMu   sync.Mutex
	abort     error
	cancelled atomic.Bool

	cleanupOnce sync.Once
	report      Report
}

func (p *Pipeline) begin(ctx context.Context, mode Mode, hook SuccessHook) *run {
	if hook == nil {
		hook = p.hook
	}
	id := uuid.NewString()
	logger := p.logger.With("run_id", id, "mode", string(mode))

	// Units run on a context detached from ctx so cancellation never
	// interrupts work that was already submitted
	r := &run{
		id:       id,
		mode:     mode,
		cfg:      p.cfg,
		started:  time.Now(),
		logger:   logger,
		owner:    p,
		counters: &Counters{},
		sink:     NewRetrySink(p.cfg.RetryDir),
		execCtx:  context.WithoutCancel(ctx),
	}
	r.recorder = NewRecorder(r.counters, r.sink, hook, p.cfg.ProgressInterval, logger)
	r.state.Store(StateFilling)

	// Stream runs use a producer/consumer queue, the others a worker pool
	if mode == ModeStream {
		r.queue = NewTaskQueue[Unit](p.cfg.BacklogCap(), logger)
	} else {
		r.pool = NewWorkerPool(r.execCtx, WorkerPoolConfig{
			WorkerCount: p.cfg.Workers,
			QueueSize:   p.cfg.BacklogCap(),
		}, logger)
		r.pool.Start()
	}

	p.slot.set(r)

	logger.Info("run started",
		"workers", p.cfg.Workers,
		"backlog_cap", p.cfg.BacklogCap())
	return r
}

func (r *run) setState(s State) {
	if prev, _ := r.state.Load().(State); prev != s {
		r.logger.Debug("state change", "from", string(prev), "to", string(s))
	}
	r.state.Store(s)
}

func (r *run) getState() State {
	s, _ := r.state.Load().(State)
	return s
}

func (r *run) pending() int {
	if r.pool != nil {
		return r.pool.Pending()
	}
	if r.queue != nil {
		return r.queue.Len()
	}
	return 0
}

func (r *run) status() Status {
	return Status{
		RunID:      r.id,
		Mode:       r.mode,
		State:      r.getState(),
		Pending:    r.pending(),
		BacklogCap: r.cfg.BacklogCap(),
		Counts:     r.counters.Snapshot(),
		RetryFile:  r.sink.Path(),
		StartedAt:  r.started,
	}
}

// fail records the first abort cause; later ones are ignored.
func (r *run) fail(err error) {
	r.abortMu.Lock()
	defer r.abortMu.Unlock()
	if r.abort != nil {
		return
	}
	var abortErr *AbortError
	if !errors.As(err, &abortErr) {
		err = &AbortError{Err: err}
	}
	r.abort = err
	r.logger.Error("aborting run", "severity", "CRITICAL", "error", err)
}

func (r *run) aborted() bool {
	r.abortMu.Lock()
	defer r.abortMu.Unlock()
	return r.abort != nil
}

func (r *run) abortErr() error {
	r.abortMu.Lock()
	defer r.abortMu.Unlock()
	return r.abort
}

// next assigns the sequence number for a new input.
func (r *run) next() int64 {
	r.seq++
	return r.seq
}

// build turns an input into a unit. ok is false when the input was rejected.
func (r *run) build(in Input, work WorkFunc) (Unit, bool) {
	seq := r.next()
	exec, err := work(in)
	if err != nil {
		r.rejected.Add(1)
		r.recorder.Reject(seq, in, err)
		return Unit{}, false
	}
	return Unit{Seq: seq, Line: in.Line, Payload: in.Payload, Exec: exec}, true
}

// submit builds and submits one input to the pool.
func (r *run) submit(in Input, work WorkFunc) error {
	unit, ok := r.build(in, work)
	if !ok {
		return nil
	}
	if _, err := r.pool.Submit(unit); err != nil {
		return fmt.Errorf("submit unit %d: %w", unit.Seq, err)
	}
	r.submitted.Add(1)
	if hw := int64(r.pool.HighWater()); hw > r.highWater.Load() {
		r.highWater.Store(hw)
	}
	return nil
}

// observe applies the outcome policy to completions.
func (r *run) observe(completions []Completion) {
	for _, c := range completions {
		if err := r.recorder.Record(r.execCtx, c); err != nil {
			r.fail(err)
		}
	}
}

// drain polls without blocking, then pauses and polls again for as long as
// the backlog is at its cap. It returns false if done fired while paused.
func (r *run) drain(done <-chan struct{}) bool {
	r.setState(StateDraining)
	r.observe(r.pool.Poll(false))

	for !r.aborted() && r.pool.Pending() >= r.cfg.BacklogCap() {
		r.setState(StatePaused)
		if !sleep(done, r.cfg.DrainPause) {
			return false
		}
		r.setState(StateDraining)
		r.observe(r.pool.Poll(false))
	}
	return true
}

// cleanup shuts the run down: no more submissions, every in-flight unit is
// observed, the retry sink is closed and the report is built. It runs once.
func (r *run) cleanup() {
	r.cleanupOnce.Do(func() {
		r.setState(StateShuttingDown)
		if r.pool != nil {
			// No more submissions; every tracked unit still runs and is observed
			r.pool.Shutdown()
			r.setState(StateFinalDrain)
			r.observe(r.pool.DrainAll())
			if hw := int64(r.pool.HighWater()); hw > r.highWater.Load() {
				r.highWater.Store(hw)
			}
		}

		// A retry file that cannot be flushed aborts the run
		if err := r.sink.Close(); err != nil {
			r.fail(err)
		}

		r.report = Report{
			RunID:      r.id,
			Mode:       r.mode,
			Counts:     r.counters.Snapshot(),
			Submitted:  r.submitted.Load(),
			Rejected:   r.rejected.Load(),
			RetryFile:  r.sink.Path(),
			RetryCount: r.sink.Count(),
			MaxBacklog: int(r.highWater.Load()),
			Cancelled:  r.cancelled.Load(),
			Elapsed:    time.Since(r.started),
		}
		r.setState(StateTerminated)

		// Status reports nothing once the run has terminated
		r.owner.slot.clear(r)

		r.logger.Info("run finished",
			"success", r.report.Counts.Success,
			"bad_input", r.report.Counts.BadInput,
			"retryable", r.report.Counts.Retryable,
			"critical", r.report.Counts.Critical,
			"submitted", r.report.Submitted,
			"rejected", r.report.Rejected,
			"retry_file", r.report.RetryFile,
			"cancelled", r.report.Cancelled,
			"elapsed", r.report.Elapsed)
	})
}

// Run drives a finite source to completion. It returns an *AbortError when
// a Critical outcome stopped the run; the Report is valid in both cases.
// Batch runs are not cancelled by ctx directly: ctx is handed to the source,
// and once the source reports cancellation no further input is read, the
// submitted units are drained and the report is marked Cancelled.
func (p *Pipeline) Run(ctx context.Context, src Source, work WorkFunc) (Report, error) {
	return p.RunWithHook(ctx, src, work, nil)
}

// RunWithHook is Run with a per-run success hook overriding the pipeline's.
func (p *Pipeline) RunWithHook(ctx context.Context, src Source, work WorkFunc, hook SuccessHook) (Report, error) {
	r := p.begin(ctx, ModeBatch, hook)
	defer r.cleanup()

	exhausted := false
	for !exhausted && !r.aborted() {
		// Fill the backlog up to its cap
		r.setState(StateFilling)
		for r.pool.Pending() < r.cfg.BacklogCap() && !r.aborted() {
			in, err := src.Next(ctx)
			if errors.Is(err, io.EOF) {
				exhausted = true
				break
			}
			// The source saw the interrupt: stop reading, keep what was submitted
			if err != nil && ctx.Err() != nil {
				r.cancelled.Store(true)
				r.logger.Info("run interrupted, draining submitted units", "pending", r.pool.Pending())
				exhausted = true
				break
			}
			if err != nil {
				r.fail(fmt.Errorf("read input: %w", err))
				break
			}
			if err := r.submit(in, work); err != nil {
				r.fail(err)
				break
			}
		}
		// Observe completions before reading more input
		if !exhausted {
			r.drain(nil)
		}
	}

	// Final drain, also on the abort path
	r.cleanup()
	return r.report, r.abortErr()
}

// sleep waits for d or until done fires. It returns false if done fired.
func sleep(done <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-done:
		return false
	}
}
