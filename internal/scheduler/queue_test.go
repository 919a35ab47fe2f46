package scheduler

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueuedTask(priority Priority) *Task {
	return &Task{
		ID:       uuid.New(),
		Category: "test",
		Priority: priority,
	}
}

func TestQueuePriorityOrder(t *testing.T) {
	q := NewPriorityQueue(10)

	low := newQueuedTask(PriorityLow)
	normal := newQueuedTask(PriorityNormal)
	high := newQueuedTask(PriorityHigh)

	require.NoError(t, q.Push(low))
	require.NoError(t, q.Push(normal))
	require.NoError(t, q.Push(high))

	got, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, high.ID, got.ID)

	got, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, normal.ID, got.ID)

	got, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, low.ID, got.ID)
}

func TestQueueFIFOWithinPriority(t *testing.T) {
	q := NewPriorityQueue(10)

	first := newQueuedTask(PriorityNormal)
	second := newQueuedTask(PriorityNormal)
	third := newQueuedTask(PriorityNormal)

	require.NoError(t, q.Push(first))
	require.NoError(t, q.Push(second))
	require.NoError(t, q.Push(third))

	for _, want := range []*Task{first, second, third} {
		got, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, want.ID, got.ID)
	}
}

func TestQueueFullBackpressure(t *testing.T) {
	q := NewPriorityQueue(2)

	require.NoError(t, q.Push(newQueuedTask(PriorityNormal)))
	require.NoError(t, q.Push(newQueuedTask(PriorityNormal)))

	err := q.Push(newQueuedTask(PriorityNormal))
	assert.ErrorIs(t, err, ErrQueueFull)

	// Draining restores normal operation; the failed push left no residue.
	_, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, q.Len())

	assert.NoError(t, q.Push(newQueuedTask(PriorityNormal)))
	assert.Equal(t, 2, q.Len())
}

func TestQueueRemove(t *testing.T) {
	q := NewPriorityQueue(10)

	keep := newQueuedTask(PriorityNormal)
	drop := newQueuedTask(PriorityNormal)

	require.NoError(t, q.Push(keep))
	require.NoError(t, q.Push(drop))

	assert.True(t, q.Remove(drop.ID))
	assert.False(t, q.Remove(drop.ID), "second removal must report not found")
	assert.Equal(t, 1, q.Len())

	got, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, keep.ID, got.ID)
}

func TestQueueClose(t *testing.T) {
	q := NewPriorityQueue(10)
	queued := newQueuedTask(PriorityNormal)
	require.NoError(t, q.Push(queued))

	q.Close()

	assert.ErrorIs(t, q.Push(newQueuedTask(PriorityNormal)), ErrQueueClosed)

	// Remaining tasks can still be drained after close.
	got, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, queued.ID, got.ID)

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestQueueCloseUnblocksPop(t *testing.T) {
	q := NewPriorityQueue(10)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, ok := q.Pop()
		assert.False(t, ok)
	}()

	q.Close()
	<-done
}
