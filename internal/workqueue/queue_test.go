package workqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	ctx := context.Background()
	q := New(4)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Put(ctx, id))
	}
	for _, want := range []string{"a", "b", "c"} {
		id, ok := q.Get(ctx)
		require.True(t, ok)
		assert.Equal(t, want, id)
	}
}

func TestQueueDrainsAfterShutdown(t *testing.T) {
	ctx := context.Background()
	q := New(4)
	require.NoError(t, q.Put(ctx, "a"))
	require.NoError(t, q.Put(ctx, "b"))
	q.Shutdown()

	// Enqueued work is still delivered before the sentinel.
	id, ok := q.Get(ctx)
	require.True(t, ok)
	assert.Equal(t, "a", id)
	id, ok = q.Get(ctx)
	require.True(t, ok)
	assert.Equal(t, "b", id)

	_, ok = q.Get(ctx)
	assert.False(t, ok)
}

func TestQueuePutAfterShutdown(t *testing.T) {
	q := New(4)
	q.Shutdown()
	err := q.Put(context.Background(), "a")
	assert.True(t, errors.Is(err, ErrShutdown))
}

func TestQueueShutdownIdempotent(t *testing.T) {
	q := New(4)
	q.Shutdown()
	q.Shutdown()
}

func TestQueueShutdownUnblocksConsumer(t *testing.T) {
	q := New(4)
	got := make(chan bool, 1)
	go func() {
		_, ok := q.Get(context.Background())
		got <- ok
	}()
	q.Shutdown()

	select {
	case ok := <-got:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("Get did not return after Shutdown")
	}
}

func TestQueueGetHonorsContext(t *testing.T) {
	q := New(4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := q.Get(ctx)
	assert.False(t, ok)
}

func TestQueuePutBlocksWhenFull(t *testing.T) {
	q := New(1)
	ctx := context.Background()
	require.NoError(t, q.Put(ctx, "a"))

	bounded, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := q.Put(bounded, "b")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
