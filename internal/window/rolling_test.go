package window

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRejectsInvalidSize(t *testing.T) {
	_, err := New[int](0)
	require.True(t, errors.Is(err, ErrInvalidSize))
}

func TestRollingNewestFirst(t *testing.T) {
	w, err := New[int](2)
	require.NoError(t, err)
	require.False(t, w.IsReady())

	w.Add(1)
	require.False(t, w.IsReady())
	v, ok := w.At(0)
	require.True(t, ok)
	require.Equal(t, 1, v)
	_, ok = w.At(1)
	require.False(t, ok)

	w.Add(2)
	require.True(t, w.IsReady())
	require.Equal(t, []int{2, 1}, w.Items())

	w.Add(3)
	require.Equal(t, []int{3, 2}, w.Items())
	removed, ok := w.MostRecentlyRemoved()
	require.True(t, ok)
	require.Equal(t, 1, removed)
	require.Equal(t, 3, w.Samples())
	require.Equal(t, 2, w.Count())
}

func TestRollingReset(t *testing.T) {
	w, err := New[string](3)
	require.NoError(t, err)
	w.Add("a")
	w.Add("b")
	w.Reset()
	require.Equal(t, 0, w.Count())
	require.Equal(t, 0, w.Samples())
	require.Empty(t, w.Items())
	_, ok := w.MostRecentlyRemoved()
	require.False(t, ok)
}

func TestRollingWrapsManyTimes(t *testing.T) {
	w, err := New[int](3)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		w.Add(i)
	}
	require.Equal(t, []int{9, 8, 7}, w.Items())
	_, ok := w.At(-1)
	require.False(t, ok)
}
