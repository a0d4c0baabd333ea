// Copyright 2025 Mortem Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package stream provides bounded, non-blocking line buffering over process
// output pipes.
package stream

import (
	"bufio"
	"io"
	"log/slog"
	"sync"
)

const (
	// DefaultMaxRetained bounds how many unread lines a Reader holds before
	// it starts discarding the oldest half of its queue.
	DefaultMaxRetained = 65536

	// maxLineBytes is the largest single line the scanner accepts.
	maxLineBytes = 1024 * 1024
)

// Option configures a Reader.
type Option func(*Reader)

// WithMaxRetained overrides the retention bound. Values less than one are
// ignored.
func WithMaxRetained(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.maxRetained = n
		}
	}
}

// WithLogger sets the logger used to report queue overflows and stream
// errors.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Reader drains an io.Reader line-by-line in a background goroutine into a
// bounded in-memory queue. The producer never blocks on the consumer: when
// the queue grows past its retention bound, the oldest half is dropped and
// counted. A final line without a trailing newline is still delivered.
//
// All methods are safe for concurrent use.
type Reader struct {
	mu          sync.Mutex
	lines       []string
	head        int // index of the next unread line
	dropped     int
	eof         bool
	last        string
	seen        bool
	maxRetained int
	logger      *slog.Logger
}

// NewReader starts draining src and returns the Reader. The drain goroutine
// exits when src reaches end of stream or fails.
func NewReader(src io.Reader, opts ...Option) *Reader {
	r := &Reader{
		maxRetained: DefaultMaxRetained,
		logger:      slog.Default().With(slog.String("component", "stream")),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.drain(src)
	return r
}

// TryNext pops the oldest unread line without blocking. The second return
// value is false when the queue is empty.
func (r *Reader) TryNext() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.head >= len(r.lines) {
		return "", false
	}
	line := r.lines[r.head]
	r.lines[r.head] = ""
	r.head++
	if r.head == len(r.lines) {
		r.lines = r.lines[:0]
		r.head = 0
	}
	return line, true
}

// EOF reports whether the underlying stream has closed. Buffered lines may
// remain after EOF returns true; drain them with TryNext.
func (r *Reader) EOF() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.eof
}

// Len returns the number of buffered unread lines.
func (r *Reader) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lines) - r.head
}

// Last returns the most recent line read from the stream, whether or not it
// has been consumed. The second return value is false until the first line
// arrives.
func (r *Reader) Last() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.seen
}

// Dropped returns how many lines have been discarded to keep the queue
// within its retention bound.
func (r *Reader) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

func (r *Reader) drain(src io.Reader) {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		r.push(scanner.Text())
	}
	err := scanner.Err()

	r.mu.Lock()
	r.eof = true
	r.mu.Unlock()

	if err != nil && err != io.ErrClosedPipe {
		r.logger.Debug("stream closed with error", "error", err)
	}
}

func (r *Reader) push(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lines = append(r.lines, line)
	r.last = line
	r.seen = true

	unread := len(r.lines) - r.head
	if unread <= r.maxRetained {
		return
	}

	// Copy the newest half into a fresh slice so the discarded backing
	// array can be collected.
	drop := unread / 2
	kept := make([]string, unread-drop)
	copy(kept, r.lines[r.head+drop:])
	r.lines = kept
	r.head = 0
	r.dropped += drop
	r.logger.Warn("line queue overflow, oldest lines discarded",
		"dropped", drop,
		"total_dropped", r.dropped)
}
