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

package power

import "time"

// Kind classifies directory records into the two drain classes. User
// records are always drained to zero before any system record is touched.
type Kind string

const (
	// KindUser marks supervised workload services backed by child
	// processes.
	KindUser Kind = "user"

	// KindSystem marks the supervisor's own internal tasks (the
	// finalizer, watchers, the supervisor record itself).
	KindSystem Kind = "system"
)

// LifeState is the liveness of a directory record.
type LifeState string

const (
	// StateAlive means the record is running normally.
	StateAlive LifeState = "alive"

	// StateDying means termination has been requested but the record
	// has not yet been reaped.
	StateDying LifeState = "dying"

	// StateDead means the record has fully exited and been reaped.
	StateDead LifeState = "dead"
)

// Dead reports whether s is the terminal liveness state.
func (s LifeState) Dead() bool { return s == StateDead }

// ProcessInfo is a point-in-time snapshot of one directory record. The
// orchestrator only ever sees these values; it never holds live records.
type ProcessInfo struct {
	PID   int
	Name  string
	Kind  Kind
	State LifeState
}

// Directory is the process directory the termination coordinator drains.
// Implementations own record lifecycle; the orchestrator issues requests
// and observes snapshots.
type Directory interface {
	// Self returns the directory PID of the supervisor's own record,
	// which is excluded from every termination batch.
	Self() int

	// Processes returns a point-in-time snapshot of all records,
	// including the supervisor's own and the finalizer's.
	Processes() []ProcessInfo

	// Kill requests termination of the record with the given directory
	// PID. The request is non-blocking: on success the record is Dying
	// and will later be reaped to Dead by the finalizer.
	Kill(pid int) error

	// AuthorizeShutdown permits termination of otherwise-protected
	// records. It is set exactly once per process lifetime and is never
	// cleared.
	AuthorizeShutdown()
}

// Finalizer is the reaper task. The coordinator pokes it after each kill
// batch so Dying records converge to Dead, and retires it last through the
// directory once everything else is gone.
type Finalizer interface {
	// PID returns the finalizer's directory PID, excluded from both
	// kill batches.
	PID() int

	// Notify wakes the finalizer so it reaps Dying records promptly.
	Notify()
}

// Scheduler yields the transition task's goroutine while it waits for
// records to converge. Production uses the Go runtime; tests substitute a
// scheduler that advances a simulated world.
type Scheduler interface {
	Yield()
}

// Clock supplies monotonic time for the convergence diagnostics cadence.
type Clock interface {
	Now() time.Time
}

// Mount is a point-in-time snapshot of one managed mount. GuestID
// identifies the covered mount point inode; Path is the absolute mount
// path. Snapshots are taken per sweep pass and never held across passes.
type Mount struct {
	GuestID uint64
	Path    string
}

// Filesystems is the quiesce manager's view of the mount layer.
type Filesystems interface {
	// LockAll takes every filesystem lock, stopping new mutations.
	LockAll()

	// Sync flushes all pending writes to stable storage.
	Sync()

	// Mounts returns a snapshot of the mount table in mount order,
	// oldest first. The sweep walks it back to front.
	Mounts() []Mount

	// Flush writes back the given mount's pending guest data. Called
	// immediately before each unmount attempt.
	Flush(m Mount)

	// Unmount detaches the mount identified by the snapshot. Busy
	// mounts return an error; the sweep retries them on a later pass.
	Unmount(m Mount) error
}

// Platform is the machine power interface the dispatcher drives. All
// methods are best-effort on real hardware; a returning Reboot or PowerOff
// means the mechanism failed.
type Platform interface {
	// ACPIEnabled reports whether ACPI-assisted reboot is available.
	ACPIEnabled() bool

	// ACPIReboot requests a reboot through ACPI.
	ACPIReboot() error

	// Reboot requests a reboot through the architecture mechanism.
	Reboot() error

	// PowerOff requests a power-off through the architecture mechanism.
	PowerOff() error

	// Halt stops the machine without powering it off. On production
	// platforms Halt never returns; test platforms return so the
	// harness can observe the terminal outcome.
	Halt()

	// ElevatePriority raises the calling task's scheduling priority for
	// the duration of the transition. Best-effort.
	ElevatePriority()
}
