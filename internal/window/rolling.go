// Package window provides a fixed-capacity rolling buffer of recent observations.
package window

import "errors"

// ErrInvalidSize is returned when a window is created with a capacity below one.
var ErrInvalidSize = errors.New("window size must be at least 1")

// Rolling keeps the most recent Size() values. Index 0 is the newest.
// It is not safe for concurrent use.
type Rolling[T any] struct {
	buf     []T
	head    int // slot the next Add writes to
	count   int
	samples int

	removed    T
	hasRemoved bool
}

// New returns an empty rolling window holding up to size values.
func New[T any](size int) (*Rolling[T], error) {
	if size < 1 {
		return nil, ErrInvalidSize
	}
	return &Rolling[T]{buf: make([]T, size)}, nil
}

// Add pushes v as the newest value, evicting the oldest when full.
func (w *Rolling[T]) Add(v T) {
	if w.count == len(w.buf) {
		w.removed = w.buf[w.head]
		w.hasRemoved = true
	} else {
		w.count++
	}
	w.buf[w.head] = v
	w.head = (w.head + 1) % len(w.buf)
	w.samples++
}

// At returns the value i steps back from the newest.
func (w *Rolling[T]) At(i int) (T, bool) {
	var zero T
	if i < 0 || i >= w.count {
		return zero, false
	}
	idx := (w.head - 1 - i + len(w.buf)) % len(w.buf)
	return w.buf[idx], true
}

// Count is the number of values currently held.
func (w *Rolling[T]) Count() int { return w.count }

// Size is the capacity.
func (w *Rolling[T]) Size() int { return len(w.buf) }

// Samples is the number of values ever added.
func (w *Rolling[T]) Samples() int { return w.samples }

// IsReady reports whether the window is full.
func (w *Rolling[T]) IsReady() bool { return w.count == len(w.buf) }

// MostRecentlyRemoved returns the last evicted value.
func (w *Rolling[T]) MostRecentlyRemoved() (T, bool) {
	return w.removed, w.hasRemoved
}

// Items returns a newest-first copy of the held values.
func (w *Rolling[T]) Items() []T {
	out := make([]T, 0, w.count)
	for i := 0; i < w.count; i++ {
		v, _ := w.At(i)
		out = append(out, v)
	}
	return out
}

// Reset empties the window. Samples is cleared as well.
func (w *Rolling[T]) Reset() {
	var zero T
	for i := range w.buf {
		w.buf[i] = zero
	}
	w.head, w.count, w.samples = 0, 0, 0
	w.removed, w.hasRemoved = zero, false
}
