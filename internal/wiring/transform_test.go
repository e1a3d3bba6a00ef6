package wiring

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitFilterTransform(t *testing.T) {
	m := NewModel("helpers")
	src, err := NewScheduler[[]int](m, "source", Direct)
	require.NoError(t, err)
	in := NewInputWire[[]int, []int](src, "in").Bind(func(v []int) ([]int, error) { return v, nil })

	items, err := Split(m, "split", src.Output(), SolderPut)
	require.NoError(t, err)
	evens, err := Filter(m, "evens", items, SolderPut, func(v int) bool { return v%2 == 0 })
	require.NoError(t, err)
	labels, err := Transform(m, "label", evens, SolderPut, strconv.Itoa)
	require.NoError(t, err)

	var got []string
	labels.SolderToFunc(func(s string) { got = append(got, s) })

	require.NoError(t, m.Start())
	defer m.Stop()

	in.Put([]int{1, 2, 3, 4, 5, 6})
	assert.Equal(t, []string{"2", "4", "6"}, got)
}

func TestBusyTimer_Fraction(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }
	b := newBusyTimer(1, clock)

	started := b.start()
	now = now.Add(250 * time.Millisecond)
	b.stop(started)
	now = now.Add(750 * time.Millisecond)
	assert.InDelta(t, 0.25, b.fraction(), 1e-9)

	started = b.start()
	now = now.Add(500 * time.Millisecond)
	assert.InDelta(t, 1.0, b.fraction(), 1e-9, "an active task counts as busy")
	now = now.Add(500 * time.Millisecond)
	b.stop(started)
	assert.InDelta(t, 1.0, b.fraction(), 1e-9)
}

func TestBusyTimer_ScalesByParallelism(t *testing.T) {
	now := time.Unix(0, 0)
	b := newBusyTimer(4, func() time.Time { return now })

	s1 := b.start()
	s2 := b.start()
	now = now.Add(time.Second)
	b.stop(s1)
	b.stop(s2)
	assert.InDelta(t, 0.5, b.fraction(), 1e-9)
}
