//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/snippet-runner/internal/engine"
	"github.com/phrazzld/snippet-runner/internal/platform/postgres"
	"github.com/phrazzld/snippet-runner/internal/testdb"
)

func openEngine(t *testing.T) *postgres.Engine {
	t.Helper()
	db := testdb.GetTestDBWithT(t)
	require.NoError(t, postgres.Migrate(db, slog.New(slog.NewTextHandler(io.Discard, nil))), "migrations are idempotent")
	return postgres.NewEngine(db)
}

func TestEngineResolutionIntegration(t *testing.T) {
	e := openEngine(t)
	ctx := context.Background()

	first := engine.RecordKey{DataSource: "CUSTOMERS", RecordID: "1"}
	second := engine.RecordKey{DataSource: "WATCHLIST", RecordID: "2"}

	_, err := e.AddRecord(ctx, first, `{"EMAIL_ADDRESS":"ann@example.com"}`, false)
	require.NoError(t, err)
	info, err := e.AddRecord(ctx, second, `{"EMAIL_ADDRESS":"ANN@example.com"}`, true)
	require.NoError(t, err)

	ids, err := engine.ParseInfo(info)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	doc, err := e.GetEntity(ctx, ids[0])
	require.NoError(t, err)
	assert.Contains(t, doc, `"RECORD_ID":"1"`)
	assert.Contains(t, doc, `"RECORD_ID":"2"`)

	n, err := e.CountRedoRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	redo, err := e.GetRedoRecord(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, redo)
	_, err = e.ProcessRedoRecord(ctx, redo, true)
	require.NoError(t, err)

	redo, err = e.GetRedoRecord(ctx)
	require.NoError(t, err)
	assert.Empty(t, redo)

	_, err = e.DeleteRecord(ctx, first, false)
	require.NoError(t, err)
	_, err = e.DeleteRecord(ctx, second, false)
	require.NoError(t, err)

	_, err = e.GetEntity(ctx, ids[0])
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestEngineConcurrentRedoPopIntegration(t *testing.T) {
	e := openEngine(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		key := engine.RecordKey{DataSource: "CUSTOMERS", RecordID: fmt.Sprint(i)}
		_, err := e.AddRecord(ctx, key, `{"PHONE_NUMBER":"702-555-0100"}`, false)
		require.NoError(t, err)
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				redo, err := e.GetRedoRecord(ctx)
				if !assert.NoError(t, err) || redo == "" {
					return
				}
				mu.Lock()
				seen[redo]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 19, "every record after the first joins the entity")
	for redo, n := range seen {
		assert.Equal(t, 1, n, "redo %s popped more than once", redo)
	}
}
