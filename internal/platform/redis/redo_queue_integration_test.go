//go:build integration

package redis_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/snippet-runner/internal/config"
	"github.com/phrazzld/snippet-runner/internal/engine"
	"github.com/phrazzld/snippet-runner/internal/engine/memory"
	"github.com/phrazzld/snippet-runner/internal/platform/redis"
	"github.com/phrazzld/snippet-runner/internal/testdb"
)

func connectQueue(t *testing.T, key string) *redis.RedoQueue {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.RedisConfig{Addr: testdb.GetTestRedisAddr(t), Key: key, ConnectAttempts: 5}
	q, err := redis.Connect(ctx, cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		for {
			if _, ok, err := q.Pop(ctx); err != nil || !ok {
				break
			}
		}
		_ = q.Close()
	})
	return q
}

func TestRedoQueueIntegration(t *testing.T) {
	q := connectQueue(t, "it:redo:fifo")
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, "first"))
	require.NoError(t, q.Push(ctx, "second"))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	redo, ok, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "first", redo)
}

func TestRedoQueueSharedByEnginesIntegration(t *testing.T) {
	q := connectQueue(t, "it:redo:shared")
	ctx := context.Background()

	producer := memory.New(memory.WithRedoStore(q))
	_, err := producer.AddRecord(ctx, engine.RecordKey{DataSource: "CUSTOMERS", RecordID: "1"}, `{"PHONE_NUMBER":"702-555-0100"}`, false)
	require.NoError(t, err)
	_, err = producer.AddRecord(ctx, engine.RecordKey{DataSource: "CUSTOMERS", RecordID: "2"}, `{"PHONE_NUMBER":"702-555-0100"}`, false)
	require.NoError(t, err)

	consumer := memory.New(memory.WithRedoStore(q))
	n, err := consumer.CountRedoRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	redo, err := consumer.GetRedoRecord(ctx)
	require.NoError(t, err)
	parsed, err := engine.ParseRedo(redo)
	require.NoError(t, err)
	assert.Equal(t, "2", parsed.RecordID)
}
