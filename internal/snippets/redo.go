package snippets

import (
	"context"

	"github.com/phrazzld/snippet-runner/internal/task"
)

// RedoContinuousViaFutures processes redo records until ctx is cancelled.
func RedoContinuousViaFutures(ctx context.Context, env *Env) (task.Report, error) {
	return env.Pipeline.RunContinuous(ctx, redoSource{eng: env.Engine}, redoWork(env.Engine, false))
}

// RedoWithInfoContinuous processes redo records with info until ctx is
// cancelled, fetching every entity the redo records touched.
func RedoWithInfoContinuous(ctx context.Context, env *Env) (task.Report, error) {
	tracker := newEntityTracker(env.Engine, env.Logger)
	report, err := env.Pipeline.RunContinuousWithHook(ctx, redoSource{eng: env.Engine}, redoWork(env.Engine, true), tracker.Hook)
	env.Printf("Entities affected: %d\n", len(tracker.IDs()))
	return report, err
}

// RedoContinuous processes redo records one at a time until ctx is
// cancelled.
func RedoContinuous(ctx context.Context, env *Env) (task.Report, error) {
	return env.Loop.RunContinuous(ctx, redoSource{eng: env.Engine}, redoWork(env.Engine, false))
}

// LoadWithRedoViaLoop adds every truth set file one record at a time, then
// processes the redo records the load produced until none is pending. The
// load is summarized first; the returned report covers the redo phase.
func LoadWithRedoViaLoop(ctx context.Context, env *Env) (task.Report, error) {
	r, closeAll, err := env.openInputs(env.Input.TruthSetFiles)
	if err != nil {
		return task.Report{}, err
	}
	defer closeAll()

	loaded, err := env.Loop.Run(ctx, task.NewLineSource(r), addRecordWork(env.Engine, false))
	if err != nil || loaded.Cancelled {
		return loaded, err
	}
	env.Printf("Records added: %d\n", loaded.Counts.Success)
	if loaded.RetryFile != "" {
		env.Printf("Load retry file: %s (%d records)\n", loaded.RetryFile, loaded.RetryCount)
	}

	return env.Loop.Run(ctx, &pendingRedo{eng: env.Engine}, redoWork(env.Engine, false))
}
