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

package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mortem-dev/mortem/internal/config"
)

func TestDebouncerCoalesces(t *testing.T) {
	var flushes atomic.Int32
	d := newDebouncer(30*time.Millisecond, func() { flushes.Add(1) })

	for i := 0; i < 5; i++ {
		d.bump()
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(150 * time.Millisecond)
	if got := flushes.Load(); got != 1 {
		t.Errorf("flushes = %d, want 1", got)
	}
}

func TestDebouncerStopCancelsPending(t *testing.T) {
	var flushes atomic.Int32
	d := newDebouncer(20*time.Millisecond, func() { flushes.Add(1) })

	d.bump()
	d.stop()
	d.bump() // rejected after stop

	time.Sleep(100 * time.Millisecond)
	if got := flushes.Load(); got != 0 {
		t.Errorf("flushes = %d, want 0", got)
	}
}

func TestMatches(t *testing.T) {
	w := &Watcher{path: "/build/prog"}

	tests := []struct {
		name string
		ev   fsnotify.Event
		want bool
	}{
		{"write to target", fsnotify.Event{Name: "/build/prog", Op: fsnotify.Write}, true},
		{"create target", fsnotify.Event{Name: "/build/prog", Op: fsnotify.Create}, true},
		{"rename target", fsnotify.Event{Name: "/build/prog", Op: fsnotify.Rename}, true},
		{"chmod only", fsnotify.Event{Name: "/build/prog", Op: fsnotify.Chmod}, false},
		{"remove only", fsnotify.Event{Name: "/build/prog", Op: fsnotify.Remove}, false},
		{"sibling file", fsnotify.Event{Name: "/build/prog.o", Op: fsnotify.Write}, false},
		{"unclean path", fsnotify.Event{Name: "/build/./prog", Op: fsnotify.Write}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := w.matches(tt.ev); got != tt.want {
				t.Errorf("matches(%v) = %v, want %v", tt.ev, got, tt.want)
			}
		})
	}
}

func writeTarget(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("binary"), 0o755); err != nil {
		t.Fatal(err)
	}
}

func startWatcher(t *testing.T, cfg config.WatchConfig) (*Watcher, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "prog")
	writeTarget(t, path)

	w, err := New(path, cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { w.Stop() })

	w.Start(context.Background())
	return w, path
}

func TestWatcherDetectsRebuild(t *testing.T) {
	w, path := startWatcher(t, config.WatchConfig{Debounce: 20 * time.Millisecond})

	writeTarget(t, path)

	select {
	case <-w.Triggers():
	case <-time.After(2 * time.Second):
		t.Fatal("no trigger after rebuild")
	}
}

func TestWatcherIgnoresSiblings(t *testing.T) {
	w, path := startWatcher(t, config.WatchConfig{Debounce: 10 * time.Millisecond})

	writeTarget(t, filepath.Join(filepath.Dir(path), "prog.o"))

	select {
	case <-w.Triggers():
		t.Fatal("trigger for unrelated file")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcherRateLimitsTriggers(t *testing.T) {
	w, path := startWatcher(t, config.WatchConfig{
		Debounce:             10 * time.Millisecond,
		MaxTriggersPerMinute: 1,
	})

	writeTarget(t, path)
	select {
	case <-w.Triggers():
	case <-time.After(2 * time.Second):
		t.Fatal("first rebuild not delivered")
	}

	// The burst of one is spent; the next token is a minute away.
	writeTarget(t, path)
	select {
	case <-w.Triggers():
		t.Fatal("rate-limited rebuild was delivered")
	case <-time.After(300 * time.Millisecond):
	}
}
