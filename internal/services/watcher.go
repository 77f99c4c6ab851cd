// Copyright 2025 Tom Barlow
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

package services

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/tombee/powerd/internal/log"
)

const (
	// debounceWindow coalesces bursts of file events (editor saves,
	// rsync of a unit tree) into a single reload.
	debounceWindow = 500 * time.Millisecond

	// retryDelay is how long a rate-limited reload waits before retrying.
	retryDelay = 1 * time.Second
)

// Watcher watches the unit directory and triggers supervisor reloads
// when unit files change. Reloads are debounced and rate limited so an
// event storm settles into one trailing reload.
type Watcher struct {
	dir     string
	matches []string
	reload  func()
	watcher *fsnotify.Watcher
	limiter *rate.Limiter
	logger  *slog.Logger

	mu    sync.Mutex
	timer *time.Timer

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWatcher creates a watcher over dir. reload is invoked after unit
// files matching patterns change.
func NewWatcher(dir string, patterns []string, reload func(), logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	w := &Watcher{
		dir:     absDir,
		matches: patterns,
		reload:  reload,
		watcher: fsw,
		limiter: rate.NewLimiter(rate.Limit(1), 1),
		logger:  log.WithComponent(logger, "unit-watcher"),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	if err := fsw.Add(absDir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch path: %w", err)
	}

	// Unit patterns may reach into subdirectories; watch those too.
	err = filepath.WalkDir(absDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() || path == absDir {
			return nil
		}
		if addErr := fsw.Add(path); addErr != nil {
			w.logger.Warn("failed to watch subdirectory", log.String("path", path), log.Error(addErr))
		}
		return nil
	})
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to walk unit directory: %w", err)
	}

	return w, nil
}

// Start begins watching for unit file changes.
func (w *Watcher) Start(ctx context.Context) {
	go w.eventLoop(ctx)
	w.logger.Info("unit watcher started", log.String("dir", w.dir))
}

// Stop stops the watcher and releases resources.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()

	return w.watcher.Close()
}

// eventLoop processes fsnotify events until stopped.
func (w *Watcher) eventLoop(ctx context.Context) {
	defer close(w.doneCh)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("unit watcher stopped (context cancelled)")
			return
		case <-w.stopCh:
			w.logger.Info("unit watcher stopped")
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				w.logger.Warn("unit watcher event channel closed")
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				w.logger.Warn("unit watcher error channel closed")
				return
			}
			w.logger.Error("unit watcher error", log.Error(err))
		}
	}
}

// handleEvent schedules a reload for relevant events and tracks new
// subdirectories.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.watcher.Add(event.Name); err != nil {
				w.logger.Warn("failed to watch new subdirectory", log.String("path", event.Name), log.Error(err))
			}
			return
		}
	}

	const relevant = fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename
	if event.Op&relevant == 0 {
		return
	}

	if !w.matchesUnit(event.Name) {
		return
	}

	w.logger.Debug("unit file changed", log.String("path", event.Name), log.String("op", event.Op.String()))
	w.scheduleReload(debounceWindow)
}

// matchesUnit reports whether path looks like a unit file.
func (w *Watcher) matchesUnit(path string) bool {
	rel, err := filepath.Rel(w.dir, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)

	for _, pattern := range w.matches {
		if matched, _ := doublestar.Match(pattern, rel); matched {
			return true
		}
	}
	return false
}

// scheduleReload arms (or re-arms) the debounce timer.
func (w *Watcher) scheduleReload(delay time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	select {
	case <-w.stopCh:
		return
	default:
	}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(delay, w.fireReload)
}

// fireReload runs the reload callback, deferring when the rate limit
// has been hit so the trailing state is still picked up.
func (w *Watcher) fireReload() {
	if !w.limiter.Allow() {
		w.logger.Debug("reload deferred by rate limit")
		w.scheduleReload(retryDelay)
		return
	}

	w.logger.Info("service units changed on disk, reloading")
	w.reload()
}
