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

// Package watch notices rebuilds of the target binary and queues re-runs,
// debounced and rate-limited so rebuild storms trigger once.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/mortem-dev/mortem/internal/config"
	"github.com/mortem-dev/mortem/internal/log"
)

// Watcher watches one target binary for rebuilds.
type Watcher struct {
	path    string
	fsw     *fsnotify.Watcher
	deb     *debouncer
	limiter *rate.Limiter

	triggers chan struct{}
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a watcher for the binary at path. Compilers replace the
// binary rather than rewriting it, so the parent directory is watched and
// events are matched by name; a watch on the file itself would die with
// the old inode.
func New(path string, cfg config.WatchConfig, logger *slog.Logger) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving target path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(absPath), err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	w := &Watcher{
		path:     absPath,
		fsw:      fsw,
		triggers: make(chan struct{}, 1),
		logger:   log.WithComponent(logger, "watch").With(slog.String("path", absPath)),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	w.deb = newDebouncer(cfg.Debounce, w.fire)

	if cfg.MaxTriggersPerMinute > 0 {
		perSecond := float64(cfg.MaxTriggersPerMinute) / 60.0
		w.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}

	return w, nil
}

// Start begins watching. The loop exits when ctx is canceled or Stop is
// called.
func (w *Watcher) Start(ctx context.Context) {
	go w.loop(ctx)
	w.logger.Info("watching target for rebuilds")
}

// Triggers delivers one value per accepted rebuild. The channel is never
// closed; select against your context.
func (w *Watcher) Triggers() <-chan struct{} {
	return w.triggers
}

// Stop stops the watcher and releases the fsnotify resources.
func (w *Watcher) Stop() error {
	w.deb.stop()
	close(w.stopCh)
	<-w.doneCh
	return w.fsw.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.doneCh)

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("watch loop stopped (context canceled)")
			return
		case <-w.stopCh:
			w.logger.Debug("watch loop stopped")
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.matches(ev) {
				continue
			}
			w.logger.Debug("target changed", "op", ev.Op.String())
			w.deb.bump()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watch error", "error", err)
		}
	}
}

// matches reports whether ev is a rebuild of the watched binary. Writes
// cover in-place builds; create and rename cover the compile-then-move
// pattern. Chmod noise is ignored.
func (w *Watcher) matches(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != w.path {
		return false
	}
	return ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Rename)
}

// fire runs after the debounce window closes. A full token bucket or an
// already-pending trigger drops the event.
func (w *Watcher) fire() {
	if w.limiter != nil && !w.limiter.Allow() {
		w.logger.Warn("re-run rate limit exceeded, dropping trigger")
		return
	}

	select {
	case w.triggers <- struct{}{}:
		w.logger.Info("target rebuilt, re-run queued")
	default:
	}
}

// debouncer delays delivery until no new events arrive for a window.
type debouncer struct {
	mu      sync.Mutex
	window  time.Duration
	timer   *time.Timer
	onFlush func()
	stopped bool
}

func newDebouncer(window time.Duration, onFlush func()) *debouncer {
	return &debouncer{window: window, onFlush: onFlush}
}

// bump restarts the window. The flush callback runs on the timer goroutine.
func (d *debouncer) bump() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.onFlush)
}

// stop cancels any pending flush and rejects later bumps.
func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
