package task

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTaskQueue(t *testing.T) {
	t.Parallel()
	logger := setupTestLogger()

	queue := NewTaskQueue[int](10, logger)
	assert.Equal(t, 10, queue.Cap())
	assert.Zero(t, queue.Len())

	queue = NewTaskQueue[int](0, logger)
	assert.Equal(t, 1, queue.Cap())
}

func TestTaskQueue_Close(t *testing.T) {
	t.Parallel()

	queue := NewTaskQueue[string](2, setupTestLogger())
	require.NoError(t, queue.Put(context.Background(), "a"))

	queue.Close()
	assert.ErrorIs(t, queue.Put(context.Background(), "b"), ErrQueueClosed)
	assert.Equal(t, 1, queue.Len(), "closing keeps queued items")

	// Closing again must not panic
	queue.Close()
}

func TestTaskQueue_PutWaitsForRoom(t *testing.T) {
	t.Parallel()

	queue := NewTaskQueue[int](1, setupTestLogger())
	require.NoError(t, queue.Put(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, queue.Put(ctx, 2), context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() { done <- queue.Put(context.Background(), 3) }()

	item, err := queue.Poll(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, item)
	require.NoError(t, <-done)

	item, err = queue.Poll(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, item)
}

func TestTaskQueue_Poll(t *testing.T) {
	t.Parallel()

	queue := NewTaskQueue[string](4, setupTestLogger())

	_, err := queue.Poll(context.Background(), 5*time.Millisecond)
	assert.ErrorIs(t, err, ErrPollTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = queue.Poll(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, queue.Put(context.Background(), "x"))
	require.NoError(t, queue.Put(context.Background(), "y"))
	queue.Close()

	var got []string
	for {
		item, err := queue.Poll(context.Background(), time.Second)
		if err != nil {
			assert.ErrorIs(t, err, ErrQueueClosed)
			break
		}
		got = append(got, item)
	}
	assert.Equal(t, []string{"x", "y"}, got, "items queued before close are still delivered")
}

func TestLineSource(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		"# header comment",
		`  {"a":1}  `,
		"",
		"   ",
		`{"b":2}`,
	}, "\n")
	src := NewLineSource(strings.NewReader(input))
	ctx := context.Background()

	in, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, Input{Line: 2, Payload: `{"a":1}`}, in)

	in, err = src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, Input{Line: 5, Payload: `{"b":2}`}, in)

	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestLineSource_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLineSource(strings.NewReader("x")).Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
