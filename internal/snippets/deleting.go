package snippets

import (
	"context"

	"github.com/phrazzld/snippet-runner/internal/task"
)

// DeleteViaFutures deletes every record of the delete file with info.
func DeleteViaFutures(ctx context.Context, env *Env) (task.Report, error) {
	f, err := env.openInput(env.Input.DeleteFile)
	if err != nil {
		return task.Report{}, err
	}
	defer func() { _ = f.Close() }()

	logInfo := func(_ context.Context, unit task.Unit, info string) error {
		env.Logger.Debug("record deleted", "seq", unit.Seq, "info", info)
		return nil
	}
	return env.Pipeline.RunWithHook(ctx, task.NewLineSource(f), deleteRecordWork(env.Engine, true), logInfo)
}

// DeleteViaLoop deletes every record of the delete file one at a time.
func DeleteViaLoop(ctx context.Context, env *Env) (task.Report, error) {
	f, err := env.openInput(env.Input.DeleteFile)
	if err != nil {
		return task.Report{}, err
	}
	defer func() { _ = f.Close() }()

	return env.Loop.Run(ctx, task.NewLineSource(f), deleteRecordWork(env.Engine, false))
}
