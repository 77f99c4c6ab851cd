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

// Package mounts tracks the mounts the daemon manages and performs the
// quiesce operations against them. The table holds entries in mount
// order, oldest first; the shutdown sweep walks snapshots back to front
// so filesystems unmount in reverse of how they stacked up.
package mounts

import (
	"log/slog"
	"sync"

	"github.com/tombee/powerd/internal/log"
	"github.com/tombee/powerd/internal/power"
	"github.com/tombee/powerd/pkg/errors"
)

// entry is one managed mount. Entries are append-only until a successful
// unmount removes them.
type entry struct {
	id   uint64
	path string
}

// Table is the managed mount table. It satisfies the power transition
// task's filesystem contract.
type Table struct {
	logger *slog.Logger
	ops    Ops

	mu      sync.Mutex
	nextID  uint64
	entries []*entry
}

// NewTable creates an empty mount table backed by ops.
func NewTable(ops Ops, logger *slog.Logger) *Table {
	return &Table{
		logger: log.WithComponent(logger, "mounts"),
		ops:    ops,
		nextID: 1,
	}
}

// Attach registers a managed mount. Attach order must reflect mount
// order: later attachments are treated as stacked on earlier ones and
// unmount first during the sweep. Paths that are not currently mount
// points are rejected.
func (t *Table) Attach(path string) (uint64, error) {
	mounted, err := t.ops.Probe(path)
	if err != nil {
		return 0, errors.Wrapf(err, "probing %s", path)
	}
	if !mounted {
		return 0, &errors.ValidationError{Field: "path", Message: path + " is not a mount point"}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.entries = append(t.entries, &entry{id: id, path: path})

	t.logger.Debug("mount attached", log.String(log.MountKey, path))
	return id, nil
}

// LockAll remounts every managed mount read-only. Failures are logged
// and do not stop the remaining mounts from being locked.
func (t *Table) LockAll() {
	for _, m := range t.snapshot() {
		if err := t.ops.RemountReadOnly(m.Path); err != nil {
			t.logger.Warn("read-only remount failed",
				log.String(log.MountKey, m.Path),
				log.Error(err))
		}
	}
}

// Sync flushes all dirty pages system-wide.
func (t *Table) Sync() {
	t.ops.Sync()
}

// Mounts returns a snapshot of the managed mounts in mount order,
// oldest first.
func (t *Table) Mounts() []power.Mount {
	return t.snapshot()
}

func (t *Table) snapshot() []power.Mount {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]power.Mount, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, power.Mount{GuestID: e.id, Path: e.path})
	}
	return out
}

// Flush writes back dirty pages belonging to the given mount. Errors
// are logged; the subsequent unmount decides whether the mount is
// actually stuck.
func (t *Table) Flush(m power.Mount) {
	if err := t.ops.SyncFS(m.Path); err != nil {
		t.logger.Warn("flush failed", log.String(log.MountKey, m.Path), log.Error(err))
	}
}

// Unmount detaches the mount identified by the snapshot and drops it
// from the table. A mount that has already disappeared counts as
// unmounted. Busy mounts stay in the table for a later sweep pass.
func (t *Table) Unmount(m power.Mount) error {
	t.mu.Lock()
	var target *entry
	for _, e := range t.entries {
		if e.id == m.GuestID {
			target = e
			break
		}
	}
	t.mu.Unlock()

	if target == nil {
		return nil
	}
	if err := t.ops.Unmount(target.path); err != nil {
		return &errors.UnmountError{Mount: target.path, Cause: err}
	}

	t.mu.Lock()
	for i, e := range t.entries {
		if e.id == m.GuestID {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			break
		}
	}
	t.mu.Unlock()

	t.logger.Debug("mount detached", log.String(log.MountKey, target.path))
	return nil
}
