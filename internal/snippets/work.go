package snippets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/phrazzld/snippet-runner/internal/engine"
	"github.com/phrazzld/snippet-runner/internal/task"
)

// addRecordWork parses each line as a record and adds it.
func addRecordWork(eng engine.Engine, withInfo bool) task.WorkFunc {
	return func(in task.Input) (task.ExecFunc, error) {
		rec, err := engine.ParseRecord(in.Payload)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) (string, error) {
			return eng.AddRecord(ctx, rec.Key, in.Payload, withInfo)
		}, nil
	}
}

// deleteRecordWork parses each line as a record and deletes it by key.
func deleteRecordWork(eng engine.Engine, withInfo bool) task.WorkFunc {
	return func(in task.Input) (task.ExecFunc, error) {
		rec, err := engine.ParseRecord(in.Payload)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) (string, error) {
			return eng.DeleteRecord(ctx, rec.Key, withInfo)
		}, nil
	}
}

// searchWork parses each line as a set of search attributes.
func searchWork(eng engine.Engine) task.WorkFunc {
	return func(in task.Input) (task.ExecFunc, error) {
		if _, err := engine.ParseAttributes(in.Payload); err != nil {
			return nil, err
		}
		return func(ctx context.Context) (string, error) {
			return eng.SearchByAttributes(ctx, in.Payload)
		}, nil
	}
}

// redoWork processes each payload as a redo record.
func redoWork(eng engine.Engine, withInfo bool) task.WorkFunc {
	return func(in task.Input) (task.ExecFunc, error) {
		if in.Payload == "" {
			return nil, fmt.Errorf("%w: empty redo record", task.ErrInvalidInput)
		}
		return func(ctx context.Context) (string, error) {
			return eng.ProcessRedoRecord(ctx, in.Payload, withInfo)
		}, nil
	}
}

// redoSource adapts the engine's redo queue to task.RedoSource.
type redoSource struct {
	eng engine.Engine
}

func (s redoSource) Next(ctx context.Context) (string, bool, error) {
	redo, err := s.eng.GetRedoRecord(ctx)
	if err != nil {
		return "", false, err
	}
	return redo, redo != "", nil
}

func (s redoSource) Count(ctx context.Context) (int64, error) {
	return s.eng.CountRedoRecords(ctx)
}

// entityTracker is a success hook that reads the info document of each
// unit, fetches every affected entity and remembers its ID.
type entityTracker struct {
	eng    engine.Engine
	logger *slog.Logger

	mu  sync.Mutex
	ids map[int64]struct{}
}

func newEntityTracker(eng engine.Engine, logger *slog.Logger) *entityTracker {
	return &entityTracker{eng: eng, logger: logger, ids: make(map[int64]struct{})}
}

// Hook implements task.SuccessHook. An entity that no longer exists (it
// lost its last record to this very unit) is skipped.
func (t *entityTracker) Hook(ctx context.Context, unit task.Unit, info string) error {
	ids, err := engine.ParseInfo(info)
	if err != nil {
		return err
	}
	for _, id := range ids {
		doc, err := t.eng.GetEntity(ctx, id)
		if errors.Is(err, engine.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("get entity %d: %w", id, err)
		}
		t.mu.Lock()
		t.ids[id] = struct{}{}
		t.mu.Unlock()
		t.logger.Debug("entity affected", "seq", unit.Seq, "entity_id", id, "entity", doc)
	}
	return nil
}

// IDs returns the tracked entity IDs in ascending order.
func (t *entityTracker) IDs() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]int64, 0, len(t.ids))
	for id := range t.ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// linesOf serves fixed inputs, one per line.
func linesOf(lines []string) task.Source {
	return task.NewLineSource(strings.NewReader(strings.Join(lines, "\n")))
}

// pendingRedo is a finite source of the redo records pending right now.
// It ends once the engine reports none.
type pendingRedo struct {
	eng  engine.Engine
	read int
}

func (s *pendingRedo) Next(ctx context.Context) (task.Input, error) {
	if err := ctx.Err(); err != nil {
		return task.Input{}, err
	}
	redo, err := s.eng.GetRedoRecord(ctx)
	if err != nil {
		return task.Input{}, err
	}
	if redo == "" {
		return task.Input{}, io.EOF
	}
	s.read++
	return task.Input{Line: s.read, Payload: redo}, nil
}

// runStats is the document printed by LoadWithStatsViaLoop.
type runStats struct {
	Counts      task.Counts `json:"counts"`
	Pending     int         `json:"pending"`
	RedoPending int64       `json:"redo_pending"`
}

// stats describes the run in progress and the engine's redo backlog.
func (e *Env) stats(ctx context.Context) (string, error) {
	var st runStats
	if status, ok := e.Pipeline.Status(); ok {
		st.Counts = status.Counts
		st.Pending = status.Pending
	}
	n, err := e.Engine.CountRedoRecords(ctx)
	if err != nil {
		return "", err
	}
	st.RedoPending = n
	return engine.Encode(st)
}

// truncate shortens s to n bytes, marking the cut.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + " ..."
}
