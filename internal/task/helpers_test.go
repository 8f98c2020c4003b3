package task

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/phrazzld/snippet-runner/internal/engine"
	"github.com/phrazzld/snippet-runner/internal/engine/memory"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// testConfig mirrors the defaults with short pauses.
func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DrainPause = time.Millisecond
	cfg.IdlePause = 20 * time.Millisecond
	cfg.PollTimeout = 20 * time.Millisecond
	cfg.RetryDir = t.TempDir()
	return cfg
}

// recordLines returns n well-formed record lines with ids 1..n.
func recordLines(n int) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = recordLine(i + 1)
	}
	return lines
}

func recordLine(id int) string {
	return fmt.Sprintf(`{"DATA_SOURCE":"TEST","RECORD_ID":"%d","NAME_FULL":"Person %d"}`, id, id)
}

func sourceOf(lines []string) Source {
	return NewLineSource(strings.NewReader(strings.Join(lines, "\n")))
}

// addWork loads every input into eng.
func addWork(eng engine.Engine) WorkFunc {
	return func(in Input) (ExecFunc, error) {
		rec, err := engine.ParseRecord(in.Payload)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) (string, error) {
			return eng.AddRecord(ctx, rec.Key, in.Payload, false)
		}, nil
	}
}

// failOn injects kind for the given record ids.
func failOn(kind error, ids ...int) memory.FaultFunc {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[fmt.Sprint(id)] = struct{}{}
	}
	return func(op string, key engine.RecordKey) error {
		if op != memory.OpAddRecord {
			return nil
		}
		if _, ok := set[key.RecordID]; ok {
			return engine.NewError(op, kind, fmt.Errorf("injected failure for %s", key))
		}
		return nil
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	return lines
}

func dirEntries(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return len(entries)
}

// redoSource is a RedoSource fed by the test.
type redoSource struct {
	mu      sync.Mutex
	items   []string
	counted int
	err     error
}

func (s *redoSource) push(items ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, items...)
}

func (s *redoSource) Next(context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", false, s.err
	}
	if len(s.items) == 0 {
		return "", false, nil
	}
	item := s.items[0]
	s.items = s.items[1:]
	return item, true, nil
}

func (s *redoSource) Count(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counted++
	return int64(len(s.items)), nil
}

func (s *redoSource) countCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counted
}
