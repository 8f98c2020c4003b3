// Package redis provides a Redis-backed redo queue that can be shared by
// several snippet runners working against the same repository.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/phrazzld/snippet-runner/internal/config"
	"github.com/phrazzld/snippet-runner/internal/platform/connect"
)

const pingTimeout = 5 * time.Second

// RedoQueue is a FIFO of redo records stored in a Redis list.
type RedoQueue struct {
	client *redis.Client
	key    string
}

// NewRedoQueue wraps an existing client. The queue owns the client and
// closes it in Close.
func NewRedoQueue(client *redis.Client, key string) *RedoQueue {
	return &RedoQueue{client: client, key: key}
}

// Connect creates a client for cfg and verifies it with a ping, retrying
// with backoff up to cfg.ConnectAttempts times.
func Connect(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (*RedoQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	err := connect.Retry(ctx, "redis", connect.Policy{Attempts: cfg.ConnectAttempts}, logger,
		func(ctx context.Context) error {
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			defer cancel()
			return client.Ping(pingCtx).Err()
		})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info("redis redo queue connected", "addr", cfg.Addr, "key", cfg.Key)
	return NewRedoQueue(client, cfg.Key), nil
}

// Push appends a redo record.
func (q *RedoQueue) Push(ctx context.Context, redo string) error {
	if err := q.client.RPush(ctx, q.key, redo).Err(); err != nil {
		return fmt.Errorf("push redo record: %w", err)
	}
	return nil
}

// Pop removes the oldest redo record. The boolean is false when the queue
// is empty.
func (q *RedoQueue) Pop(ctx context.Context) (string, bool, error) {
	redo, err := q.client.LPop(ctx, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("pop redo record: %w", err)
	}
	return redo, true, nil
}

// Len reports the number of queued redo records.
func (q *RedoQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("count redo records: %w", err)
	}
	return n, nil
}

// Close closes the Redis connection.
func (q *RedoQueue) Close() error {
	if q.client != nil {
		return q.client.Close()
	}
	return nil
}
