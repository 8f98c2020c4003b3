package snippets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/phrazzld/snippet-runner/internal/task"
)

const timeResolution = time.Millisecond

// RunAll runs the snippets in order, printing a report after each. It stops
// at the first failing snippet and returns its error; an *task.AbortError
// means a Critical outcome stopped that snippet. Once ctx is cancelled no
// further snippet is started.
func RunAll(ctx context.Context, env *Env, list []Snippet) error {
	for _, s := range list {
		if ctx.Err() != nil {
			env.Logger.Info("interrupted, skipping remaining snippets", "next", s.ID())
			return nil
		}

		log := env.Logger.With("snippet", s.ID())
		log.Info("snippet started", "description", s.Description)
		env.Printf("== %s ==\n", s.ID())

		report, err := s.Run(ctx, env)
		if report.RunID != "" {
			env.PrintReport(report)
		}
		if err != nil {
			var abort *task.AbortError
			if errors.As(err, &abort) {
				log.Error("snippet aborted", "error", err)
			} else {
				log.Error("snippet failed", "error", err)
			}
			return fmt.Errorf("%s: %w", s.ID(), err)
		}
		log.Info("snippet finished",
			"success", report.Counts.Success,
			"errors", report.Counts.Errors())
	}
	return nil
}
