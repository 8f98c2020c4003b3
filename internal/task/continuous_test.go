package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/snippet-runner/internal/engine"
)

func echoWork(in Input) (ExecFunc, error) {
	return func(context.Context) (string, error) { return in.Payload, nil }, nil
}

func runContinuous(p *Pipeline, ctx context.Context, src RedoSource, work WorkFunc) <-chan struct {
	report Report
	err    error
} {
	out := make(chan struct {
		report Report
		err    error
	}, 1)
	go func() {
		report, err := p.RunContinuous(ctx, src, work)
		out <- struct {
			report Report
			err    error
		}{report, err}
	}()
	return out
}

func TestRunContinuous_IdleThenResume(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	p := NewPipeline(cfg, setupTestLogger())
	src := &redoSource{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	result := runContinuous(p, ctx, src, echoWork)

	// nothing available at start: the run idles and keeps re-querying
	assert.Eventually(t, func() bool {
		st, ok := p.Status()
		return ok && st.State == StateIdle
	}, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool { return src.countCalls() >= 3 }, time.Second, time.Millisecond)

	src.push("r1", "r2", "r3")
	assert.Eventually(t, func() bool {
		st, ok := p.Status()
		return ok && st.Counts.Success == 3
	}, time.Second, time.Millisecond)

	cancel()
	res := <-result
	require.NoError(t, res.err)
	assert.True(t, res.report.Cancelled)
	assert.Equal(t, Counts{Success: 3}, res.report.Counts)
	assert.Equal(t, ModeContinuous, res.report.Mode)
}

func TestRunContinuous_CancelDuringIdle(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.IdlePause = time.Hour
	p := NewPipeline(cfg, setupTestLogger())
	ctx, cancel := context.WithCancel(context.Background())

	result := runContinuous(p, ctx, &redoSource{}, echoWork)
	require.Eventually(t, func() bool {
		st, ok := p.Status()
		return ok && st.State == StateIdle
	}, time.Second, time.Millisecond)

	start := time.Now()
	cancel()
	res := <-result
	assert.Less(t, time.Since(start), time.Minute, "cancellation interrupts the idle wait")
	require.NoError(t, res.err)
	assert.True(t, res.report.Cancelled)
	assert.Zero(t, res.report.Counts.Total())
}

func TestRunContinuous_CancelWithWorkInFlight(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Workers = 2
	cfg.BacklogMultiplier = 2
	p := NewPipeline(cfg, setupTestLogger())

	src := &redoSource{}
	for i := 0; i < 10; i++ {
		src.push("redo")
	}

	release := make(chan struct{})
	var started atomic.Int32
	work := func(in Input) (ExecFunc, error) {
		return func(ctx context.Context) (string, error) {
			started.Add(1)
			<-release
			// in-flight units keep running after cancellation
			return "", ctx.Err()
		}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	result := runContinuous(p, ctx, src, work)

	require.Eventually(t, func() bool {
		st, ok := p.Status()
		return ok && st.State == StatePaused && started.Load() == 2
	}, time.Second, time.Millisecond)

	cancel()
	close(release)
	res := <-result
	require.NoError(t, res.err)
	assert.True(t, res.report.Cancelled)
	assert.Equal(t, int64(4), res.report.Submitted)
	assert.Equal(t, Counts{Success: 4}, res.report.Counts, "every in-flight unit is drained")
}

func TestRunContinuous_CriticalAborts(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	p := NewPipeline(cfg, setupTestLogger())
	src := &redoSource{}
	src.push("ok", "fatal", "ok")

	work := func(in Input) (ExecFunc, error) {
		return func(context.Context) (string, error) {
			if in.Payload == "fatal" {
				return "", engine.ErrEngineClosed
			}
			return "", nil
		}, nil
	}

	report, err := p.RunContinuous(context.Background(), src, work)
	var abortErr *AbortError
	require.ErrorAs(t, err, &abortErr)
	assert.Equal(t, "fatal", abortErr.Unit.Payload)
	assert.False(t, report.Cancelled)
	assert.Equal(t, int64(1), report.Counts.Critical)
	assert.Equal(t, report.Submitted, report.Counts.Total())
}

func TestRunContinuous_SourceErrors(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	src := &redoSource{err: errors.New("repository lost")}
	_, err := NewPipeline(cfg, setupTestLogger()).RunContinuous(context.Background(), src, echoWork)
	assert.ErrorContains(t, err, "repository lost")

	// a transient source error does not stop the run
	src = &redoSource{err: engine.NewError("getRedoRecord", engine.ErrRetryable, errors.New("busy"))}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	report, err := NewPipeline(cfg, setupTestLogger()).RunContinuous(ctx, src, echoWork)
	require.NoError(t, err)
	assert.True(t, report.Cancelled)
}

func TestCleanup_RunsOnce(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	p := NewPipeline(cfg, setupTestLogger())
	r := p.begin(context.Background(), ModeContinuous, nil)

	require.NoError(t, r.submit(Input{Payload: "a"}, echoWork))
	require.NoError(t, r.submit(Input{Payload: "b"}, func(Input) (ExecFunc, error) {
		return func(context.Context) (string, error) {
			return "", engine.NewError("processRedoRecord", engine.ErrRetryable, errors.New("busy"))
		}, nil
	}))

	r.cleanup()
	first := r.report
	r.cleanup()

	assert.Equal(t, first, r.report)
	assert.Equal(t, Counts{Success: 1, Retryable: 1}, r.report.Counts)
	assert.Equal(t, StateTerminated, r.getState())
	assert.Equal(t, []string{"b"}, readLines(t, r.report.RetryFile))
	assert.NoError(t, r.abortErr(), "closing the sink twice is not an error")

	_, active := p.Status()
	assert.False(t, active)
}
