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
	"os"
	"path/filepath"
	"testing"
	"time"
)

func startWatcher(t *testing.T, dir string) (*Watcher, chan struct{}) {
	t.Helper()

	reloads := make(chan struct{}, 8)
	w, err := NewWatcher(dir, []string{"**/*.yaml", "**/*.yml"}, func() {
		reloads <- struct{}{}
	}, testLogger())
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	w.Start(ctx)

	return w, reloads
}

func TestWatcherTriggersReload(t *testing.T) {
	dir := t.TempDir()
	w, reloads := startWatcher(t, dir)
	defer w.Stop()

	writeUnit(t, dir, "web.yaml", "command: [\"/bin/true\"]\n")

	select {
	case <-reloads:
	case <-time.After(3 * time.Second):
		t.Fatal("reload never fired for a new unit file")
	}
}

func TestWatcherIgnoresNonUnitFiles(t *testing.T) {
	dir := t.TempDir()
	w, reloads := startWatcher(t, dir)
	defer w.Stop()

	writeUnit(t, dir, "notes.txt", "not a unit\n")

	select {
	case <-reloads:
		t.Fatal("reload fired for a non-unit file")
	case <-time.After(1200 * time.Millisecond):
	}
}

func TestWatcherCoalescesBursts(t *testing.T) {
	dir := t.TempDir()
	w, reloads := startWatcher(t, dir)
	defer w.Stop()

	for i := 0; i < 5; i++ {
		writeUnit(t, dir, "web.yaml", "command: [\"/bin/true\"]\n")
	}

	select {
	case <-reloads:
	case <-time.After(3 * time.Second):
		t.Fatal("reload never fired")
	}

	select {
	case <-reloads:
		t.Fatal("burst of writes produced more than one reload")
	case <-time.After(1500 * time.Millisecond):
	}
}

func TestWatcherPicksUpNewSubdirectory(t *testing.T) {
	dir := t.TempDir()
	w, reloads := startWatcher(t, dir)
	defer w.Stop()

	if err := os.MkdirAll(filepath.Join(dir, "extra"), 0o755); err != nil {
		t.Fatalf("failed to create subdirectory: %v", err)
	}
	// Give the watcher a moment to pick up the new directory
	time.Sleep(300 * time.Millisecond)

	writeUnit(t, dir, "extra/worker.yaml", "command: [\"/bin/true\"]\n")

	select {
	case <-reloads:
	case <-time.After(3 * time.Second):
		t.Fatal("reload never fired for a unit in a new subdirectory")
	}
}

func TestWatcherStopPreventsReload(t *testing.T) {
	dir := t.TempDir()
	w, reloads := startWatcher(t, dir)

	if err := w.Stop(); err != nil {
		t.Fatalf("failed to stop watcher: %v", err)
	}

	writeUnit(t, dir, "web.yaml", "command: [\"/bin/true\"]\n")

	select {
	case <-reloads:
		t.Fatal("reload fired after stop")
	case <-time.After(1 * time.Second):
	}
}
