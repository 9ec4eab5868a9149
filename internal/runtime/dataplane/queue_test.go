package dataplane

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/routineflow/internal/runtime/errors"
)

func TestQueueDefaultsCapacity(t *testing.T) {
	assert.Equal(t, DefaultQueueCapacity, NewQueue(0).Cap())
	assert.Equal(t, 3, NewQueue(3).Cap())
}

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(4)
	ctx := context.Background()
	for i := range 3 {
		require.NoError(t, q.Put(ctx, NewMessage("src", i)))
	}
	assert.Equal(t, 3, q.Len())
	for i := range 3 {
		msg, err := q.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, msg.Payload)
	}
}

func TestQueuePutBlocksWhenFull(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.Put(context.Background(), NewMessage("src", 1)))

	ok, err := q.TryPut(NewMessage("src", 2))
	require.NoError(t, err)
	assert.False(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Put(ctx, NewMessage("src", 2)), context.DeadlineExceeded)
}

func TestQueueCloseReleasesBlockedCallers(t *testing.T) {
	q := NewQueue(1)
	errs := make(chan error, 1)
	go func() {
		_, err := q.Get(context.Background())
		errs <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()
	q.Close()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, errspkg.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Get did not return after Close")
	}
	assert.True(t, q.Closed())
	assert.ErrorIs(t, q.Put(context.Background(), NewMessage("src", 1)), errspkg.ErrClosed)
	_, err := q.TryPut(NewMessage("src", 1))
	assert.ErrorIs(t, err, errspkg.ErrClosed)
}

func TestMessageCopyIsolatesMetadata(t *testing.T) {
	msg := NewMessage("capture", "frame")
	msg.Metadata["k"] = "v"
	cp := msg.Copy()
	cp.Metadata["k"] = "changed"
	cp.Update("other")

	assert.Equal(t, "v", msg.Metadata["k"])
	assert.Equal(t, "frame", msg.Payload)
	assert.Equal(t, msg.ID, cp.ID)
	assert.NotEmpty(t, msg.ID)
	assert.GreaterOrEqual(t, msg.Age(), time.Duration(0))
}

func TestMetadataWith(t *testing.T) {
	var md Metadata
	out := md.With("a", "1")
	assert.Nil(t, md)
	assert.Equal(t, Metadata{"a": "1"}, out)
}
