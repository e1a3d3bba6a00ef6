package wiring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func labelled(id int, seen *[]int) task {
	return func() (func(), error) {
		*seen = append(*seen, id)
		return nil, nil
	}
}

func TestTaskQueue_FIFO(t *testing.T) {
	q := newTaskQueue()
	var seen []int
	for i := 1; i <= 3; i++ {
		require.True(t, q.Enqueue(labelled(i, &seen)))
	}

	for range 3 {
		tk, ok := q.TryDequeue()
		require.True(t, ok)
		_, err := tk()
		require.NoError(t, err)
	}
	assert.Equal(t, []int{1, 2, 3}, seen)

	_, ok := q.TryDequeue()
	assert.False(t, ok)
}

func TestTaskQueue_CloseRejectsEnqueue(t *testing.T) {
	q := newTaskQueue()
	var seen []int
	require.True(t, q.Enqueue(labelled(1, &seen)))

	q.Close()
	assert.False(t, q.Enqueue(labelled(2, &seen)))
	assert.False(t, q.Done(), "queued task is still available after close")

	_, ok := q.TryDequeue()
	require.True(t, ok)
	assert.True(t, q.Done())
}

func TestTaskQueue_WaitSignalsOnEnqueueAndClose(t *testing.T) {
	q := newTaskQueue()
	var seen []int

	go func() {
		time.Sleep(5 * time.Millisecond)
		q.Enqueue(labelled(1, &seen))
	}()
	select {
	case <-q.Wait():
	case <-time.After(time.Second):
		t.Fatal("wait was not signalled by enqueue")
	}
	_, ok := q.TryDequeue()
	require.True(t, ok)

	go func() {
		time.Sleep(5 * time.Millisecond)
		q.Close()
	}()
	select {
	case <-q.Wait():
	case <-time.After(time.Second):
		t.Fatal("wait was not signalled by close")
	}
	assert.True(t, q.Done())
}

func TestTaskQueue_Drain(t *testing.T) {
	q := newTaskQueue()
	var seen []int
	for i := range 4 {
		q.Enqueue(labelled(i, &seen))
	}

	assert.Len(t, q.Drain(), 4)
	assert.Equal(t, 0, q.Len())
}
