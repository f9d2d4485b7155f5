package paper

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"geckobot/internal/execution"
)

// JSONLRecorder appends fills as JSON lines tagged with the strategy that produced them.
type JSONLRecorder struct {
	mu       sync.Mutex
	file     *os.File
	buf      *bufio.Writer
	enc      *json.Encoder
	strategy string
	written  int
	err      error
}

// RecorderOption tunes a JSONLRecorder.
type RecorderOption func(*JSONLRecorder)

// WithStrategyName stamps every line with name.
func WithStrategyName(name string) RecorderOption {
	return func(r *JSONLRecorder) { r.strategy = name }
}

type fillLine struct {
	execution.Fill
	Strategy string  `json:"strategy,omitempty"`
	Notional float64 `json:"notional"`
}

// NewJSONLRecorder creates/opens the target file for appending.
func NewJSONLRecorder(path string, opts ...RecorderOption) (*JSONLRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	buf := bufio.NewWriter(file)
	r := &JSONLRecorder{file: file, buf: buf, enc: json.NewEncoder(buf)}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Record buffers one line; the first write error sticks and is returned by Err and Close.
func (r *JSONLRecorder) Record(fill execution.Fill) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil || r.err != nil {
		return
	}
	line := fillLine{Fill: fill, Strategy: r.strategy, Notional: fill.Qty * fill.Price}
	if err := r.enc.Encode(line); err != nil {
		r.err = err
		return
	}
	r.written++
}

// Written counts the lines accepted so far.
func (r *JSONLRecorder) Written() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// Flush pushes buffered lines to disk.
func (r *JSONLRecorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return r.err
	}
	if err := r.buf.Flush(); err != nil && r.err == nil {
		r.err = err
	}
	return r.err
}

// Err reports the first write failure.
func (r *JSONLRecorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close flushes and closes the file handle.
func (r *JSONLRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return r.err
	}
	if err := r.buf.Flush(); err != nil && r.err == nil {
		r.err = err
	}
	if err := r.file.Close(); err != nil && r.err == nil {
		r.err = err
	}
	r.file = nil
	return r.err
}
