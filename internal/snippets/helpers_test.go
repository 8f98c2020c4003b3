package snippets

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/phrazzld/snippet-runner/internal/config"
	"github.com/phrazzld/snippet-runner/internal/engine"
	"github.com/phrazzld/snippet-runner/internal/engine/memory"
	"github.com/phrazzld/snippet-runner/internal/task"
)

const loadData = `{"DATA_SOURCE":"CUSTOMERS","RECORD_ID":"1001","NAME_FULL":"Robert Smith","EMAIL_ADDRESS":"bsmith@example.com"}
{"DATA_SOURCE":"CUSTOMERS","RECORD_ID":"1002","NAME_FULL":"Bob Smith","EMAIL_ADDRESS":"BSmith@example.com"}
# watchlist entries
{"DATA_SOURCE":"WATCHLIST","RECORD_ID":"2001","PHONE_NUMBER":"702-555-0101"}

{"DATA_SOURCE":"CUSTOMERS","RECORD_ID":"1003","SSN_NUMBER":"111-22-3333"}
{not json
`

// truth set split over two files; 3002 and 3003 join customer entities
const truthCustomers = `{"DATA_SOURCE":"CUSTOMERS","RECORD_ID":"3001","NAME_FULL":"Ann Lee","EMAIL_ADDRESS":"ann@example.com"}
{"DATA_SOURCE":"CUSTOMERS","RECORD_ID":"3004","NAME_FULL":"Raj Iyer","PHONE_NUMBER":"702-555-0199"}`

const truthWatchlist = `{"DATA_SOURCE":"WATCHLIST","RECORD_ID":"3002","NAME_FULL":"Ann Lee","EMAIL_ADDRESS":"ANN@example.com"}
{"DATA_SOURCE":"WATCHLIST","RECORD_ID":"3003","PHONE_NUMBER":"702-555-0199"}
`

const searchData = `{"EMAIL_ADDRESS":"bsmith@example.com"}
{"NAME_FULL":"Nobody Here"}
[bad
`

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testEnv builds an Env over eng with the sample data files in a temp dir.
func testEnv(t *testing.T, eng engine.Engine) (*Env, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "load.jsonl"), []byte(loadData), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "search.jsonl"), []byte(searchData), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "customers.jsonl"), []byte(truthCustomers), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "watchlist.jsonl"), []byte(truthWatchlist), 0o600))

	cfg := task.Config{
		Workers:           2,
		BacklogMultiplier: 2,
		DrainPause:        time.Millisecond,
		IdlePause:         10 * time.Millisecond,
		PollTimeout:       50 * time.Millisecond,
		RetryDir:          t.TempDir(),
	}
	input := config.InputConfig{
		Dir:           dir,
		LoadFile:      "load.jsonl",
		SearchFile:    "search.jsonl",
		DeleteFile:    "load.jsonl",
		TruthSetFiles: []string{"customers.jsonl", "watchlist.jsonl"},
	}

	out := &bytes.Buffer{}
	logger := setupTestLogger()
	return NewEnv(eng, task.NewPipeline(cfg, logger), input, logger, out), out
}

// failOn returns a fault injector failing op for the given record IDs.
func failOn(op string, kind error, recordIDs ...string) memory.FaultFunc {
	ids := make(map[string]bool, len(recordIDs))
	for _, id := range recordIDs {
		ids[id] = true
	}
	return func(o string, key engine.RecordKey) error {
		if o == op && ids[key.RecordID] {
			return engine.NewError(o, kind, errors.New("injected"))
		}
		return nil
	}
}
