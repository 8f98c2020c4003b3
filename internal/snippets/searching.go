package snippets

import (
	"context"
	"strings"

	"github.com/phrazzld/snippet-runner/internal/engine"
	"github.com/phrazzld/snippet-runner/internal/task"
)

// SearchViaFutures runs every search of the search file through the worker
// pool and prints each result document.
func SearchViaFutures(ctx context.Context, env *Env) (task.Report, error) {
	f, err := env.openInput(env.Input.SearchFile)
	if err != nil {
		return task.Report{}, err
	}
	defer func() { _ = f.Close() }()

	printResult := func(_ context.Context, unit task.Unit, result string) error {
		env.Printf("%s\n", result)
		return nil
	}
	return env.Pipeline.RunWithHook(ctx, task.NewLineSource(f), searchWork(env.Engine), printResult)
}

// searchCriteria are the searches run by SearchRecords. The first two find
// the records added by AddRecords, the last one finds nothing.
var searchCriteria = []string{
	`{"NAME_FULL":"Robert Smith","EMAIL_ADDRESS":"bsmith@work.com"}`,
	`{"NAME_FULL":"Bob Smith","PHONE_NUMBER":"702-919-1300"}`,
	`{"NAME_FULL":"Makio Yamanaka","ADDR_FULL":"787 Rotary Drive, Rotorville, FL 78720"}`,
}

// SearchRecords runs a fixed set of searches one at a time and lists the
// entities each one resolved to.
func SearchRecords(ctx context.Context, env *Env) (task.Report, error) {
	printMatches := func(_ context.Context, unit task.Unit, result string) error {
		res, err := engine.ParseSearchResult(result)
		if err != nil {
			return err
		}
		if len(res.ResolvedEntities) == 0 {
			env.Printf("No results for criteria: %s\n", unit.Payload)
			return nil
		}
		env.Printf("Results for criteria: %s\n", unit.Payload)
		for _, ent := range res.ResolvedEntities {
			keys := make([]string, 0, len(ent.Records))
			for _, k := range ent.Records {
				keys = append(keys, k.String())
			}
			env.Printf("%d: %s\n", ent.EntityID, strings.Join(keys, ", "))
		}
		return nil
	}
	return env.Loop.RunWithHook(ctx, linesOf(searchCriteria), searchWork(env.Engine), printMatches)
}
