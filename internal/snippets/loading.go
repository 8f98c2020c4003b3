package snippets

import (
	"context"
	"fmt"

	"github.com/phrazzld/snippet-runner/internal/engine"
	"github.com/phrazzld/snippet-runner/internal/task"
)

// LoadViaFutures adds every record of the load file through the worker pool.
func LoadViaFutures(ctx context.Context, env *Env) (task.Report, error) {
	f, err := env.openInput(env.Input.LoadFile)
	if err != nil {
		return task.Report{}, err
	}
	defer func() { _ = f.Close() }()

	return env.Pipeline.Run(ctx, task.NewLineSource(f), addRecordWork(env.Engine, false))
}

// LoadWithInfoViaFutures adds every record with info, fetches each
// affected entity, and reports how many distinct entities were touched.
func LoadWithInfoViaFutures(ctx context.Context, env *Env) (task.Report, error) {
	f, err := env.openInput(env.Input.LoadFile)
	if err != nil {
		return task.Report{}, err
	}
	defer func() { _ = f.Close() }()

	tracker := newEntityTracker(env.Engine, env.Logger)
	report, err := env.Pipeline.RunWithHook(ctx, task.NewLineSource(f), addRecordWork(env.Engine, true), tracker.Hook)
	env.Printf("Entities affected: %d\n", len(tracker.IDs()))
	return report, err
}

// LoadViaQueue adds every record of the load file through a bounded
// producer/consumer queue instead of the worker pool.
func LoadViaQueue(ctx context.Context, env *Env) (task.Report, error) {
	f, err := env.openInput(env.Input.LoadFile)
	if err != nil {
		return task.Report{}, err
	}
	defer func() { _ = f.Close() }()

	return env.Pipeline.RunStream(ctx, task.NewLineSource(f), addRecordWork(env.Engine, false))
}

// sampleRecords are the records added by AddRecords. Three of them share an
// email address and resolve to one entity.
var sampleRecords = []string{
	`{"DATA_SOURCE":"TEST","RECORD_ID":"1001","NAME_FULL":"Robert Smith","DATE_OF_BIRTH":"12/11/1978","ADDR_FULL":"123 Main Street, Las Vegas, NV 89132","PHONE_NUMBER":"702-919-1300","EMAIL_ADDRESS":"bsmith@work.com"}`,
	`{"DATA_SOURCE":"TEST","RECORD_ID":"1002","NAME_FULL":"Bob Smith II","DATE_OF_BIRTH":"11/12/1978","ADDR_FULL":"1515 Adela Lane, Las Vegas, NV 89111","PHONE_NUMBER":"702-919-1300"}`,
	`{"DATA_SOURCE":"TEST","RECORD_ID":"1003","NAME_FULL":"Bob J Smith","DATE_OF_BIRTH":"12/11/1978","EMAIL_ADDRESS":"bsmith@work.com"}`,
	`{"DATA_SOURCE":"TEST","RECORD_ID":"1004","NAME_FULL":"B Smith","ADDR_FULL":"1515 Adela Ln, Las Vegas, NV 89132","EMAIL_ADDRESS":"bsmith@work.com"}`,
	`{"DATA_SOURCE":"TEST","RECORD_ID":"1005","NAME_FULL":"Rob E Smith","DRIVERS_LICENSE_NUMBER":"112233","ADDR_FULL":"123 E Main St, Henderson, NV 89132"}`,
}

// AddRecords adds a fixed set of records one at a time.
func AddRecords(ctx context.Context, env *Env) (task.Report, error) {
	printAdded := func(_ context.Context, unit task.Unit, _ string) error {
		rec, err := engine.ParseRecord(unit.Payload)
		if err != nil {
			return err
		}
		env.Printf("Record %s added\n", rec.Key.RecordID)
		return nil
	}
	return env.Loop.RunWithHook(ctx, linesOf(sampleRecords), addRecordWork(env.Engine, false), printAdded)
}

const (
	// statsInterval is the number of added records between two stats lines
	statsInterval = 100

	// statsTruncate bounds the printed stats document
	statsTruncate = 70
)

// LoadWithStatsViaLoop adds the records of the load file one at a time and
// prints run statistics every statsInterval successful records.
func LoadWithStatsViaLoop(ctx context.Context, env *Env) (task.Report, error) {
	f, err := env.openInput(env.Input.LoadFile)
	if err != nil {
		return task.Report{}, err
	}
	defer func() { _ = f.Close() }()

	// successes are observed one at a time by the sequential run
	var added int
	printStats := func(ctx context.Context, _ task.Unit, _ string) error {
		added++
		if added%statsInterval != 0 {
			return nil
		}
		stats, err := env.stats(ctx)
		if err != nil {
			return fmt.Errorf("failed to obtain stats: %w", err)
		}
		env.Printf("* STATS: %s\n", truncate(stats, statsTruncate))
		return nil
	}
	return env.Loop.RunWithHook(ctx, task.NewLineSource(f), addRecordWork(env.Engine, false), printStats)
}

// LoadTruthSetWithInfoViaLoop adds every truth set file in order, one record
// at a time with info, and reports how many distinct entities were touched.
func LoadTruthSetWithInfoViaLoop(ctx context.Context, env *Env) (task.Report, error) {
	r, closeAll, err := env.openInputs(env.Input.TruthSetFiles)
	if err != nil {
		return task.Report{}, err
	}
	defer closeAll()

	tracker := newEntityTracker(env.Engine, env.Logger)
	report, err := env.Loop.RunWithHook(ctx, task.NewLineSource(r), addRecordWork(env.Engine, true), tracker.Hook)
	env.Printf("Entities affected: %d\n", len(tracker.IDs()))
	return report, err
}
