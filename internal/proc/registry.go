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

package proc

import (
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"github.com/tombee/powerd/internal/log"
	"github.com/tombee/powerd/internal/power"
	"github.com/tombee/powerd/pkg/errors"
)

// StopFunc initiates termination of a record's underlying runtime. It
// receives the record's own directory PID, so a stop hook registered
// before the caller has stored the returned PID still knows which exit
// to report. It is invoked at most once, outside the registry lock, and
// must not block: signal sends and context cancels qualify, waiting for
// exit does not.
type StopFunc func(pid int)

// exitReport is a confirmed exit waiting to be reaped.
type exitReport struct {
	pid int
	err error
}

// record is one directory entry. All fields are guarded by the registry
// mutex.
type record struct {
	pid       int
	name      string
	kind      power.Kind
	protected bool
	state     power.LifeState
	stop      StopFunc
}

func (rec *record) info() power.ProcessInfo {
	return power.ProcessInfo{PID: rec.pid, Name: rec.name, Kind: rec.kind, State: rec.state}
}

// Registry is the supervisor-local process directory. It satisfies the
// power transition task's directory contract: termination requests mark
// records dying, and the finalizer reaps confirmed exits to dead.
type Registry struct {
	logger *slog.Logger

	mu         sync.Mutex
	records    map[int]*record
	nextPID    int
	selfPID    int
	authorized bool
	exited     []exitReport

	// wake is the reaper's doorbell. Buffered so exit reports and
	// Notify never block.
	wake chan struct{}
}

// NewRegistry creates a directory containing only the supervisor's own
// record, which is protected and assigned PID 1.
func NewRegistry(logger *slog.Logger) *Registry {
	r := &Registry{
		logger:  log.WithComponent(logger, "proc"),
		records: map[int]*record{},
		nextPID: 1,
		wake:    make(chan struct{}, 1),
	}
	r.selfPID = r.register("powerd", power.KindSystem, nil, true)
	return r
}

// Register adds a record for a supervised runtime and returns its
// directory PID. stop is called once if termination is requested.
func (r *Registry) Register(name string, kind power.Kind, stop StopFunc) int {
	return r.register(name, kind, stop, false)
}

// RegisterProtected adds a record that refuses termination until a
// shutdown transition authorizes it.
func (r *Registry) RegisterProtected(name string, kind power.Kind, stop StopFunc) int {
	return r.register(name, kind, stop, true)
}

func (r *Registry) register(name string, kind power.Kind, stop StopFunc, protected bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	pid := r.nextPID
	r.nextPID++
	r.records[pid] = &record{
		pid:       pid,
		name:      name,
		kind:      kind,
		protected: protected,
		state:     power.StateAlive,
		stop:      stop,
	}
	registeredRecords.WithLabelValues(string(kind)).Inc()

	r.logger.Debug("record registered",
		log.Int("pid", pid),
		log.String("name", name),
		log.String("kind", string(kind)))
	return pid
}

// Self returns the supervisor's own directory PID.
func (r *Registry) Self() int { return r.selfPID }

// Processes returns a point-in-time snapshot of every record, sorted by
// PID.
func (r *Registry) Processes() []power.ProcessInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]power.ProcessInfo, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// Kill requests termination of the record with the given PID. The record
// moves to dying and its stop function runs; it stays dying until the
// exit is confirmed and reaped. Kill is idempotent: repeat requests and
// requests against dead records return nil without re-invoking stop.
func (r *Registry) Kill(pid int) error {
	r.mu.Lock()
	rec, ok := r.records[pid]
	if !ok {
		r.mu.Unlock()
		return &errors.NotFoundError{Resource: "process", ID: strconv.Itoa(pid)}
	}
	if rec.protected && !r.authorized {
		r.mu.Unlock()
		return &errors.ProtectedError{PID: pid, Name: rec.name}
	}
	if rec.state != power.StateAlive {
		r.mu.Unlock()
		return nil
	}
	rec.state = power.StateDying
	stop := rec.stop
	name := rec.name
	r.mu.Unlock()

	r.logger.Debug("termination requested", log.Int("pid", pid), log.String("name", name))
	if stop != nil {
		stop(pid)
	}
	return nil
}

// AuthorizeShutdown permits termination of protected records. It is set
// once per process lifetime and never cleared.
func (r *Registry) AuthorizeShutdown() {
	r.mu.Lock()
	already := r.authorized
	r.authorized = true
	r.mu.Unlock()

	if !already {
		r.logger.Info("shutdown authorized, protected records may now be terminated")
	}
}

// ShutdownAuthorized reports whether a power-down drain is in progress.
// Supervisors use it to suppress restarts once termination has begun.
func (r *Registry) ShutdownAuthorized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.authorized
}

// ReportExit records that a runtime has exited so the finalizer can reap
// it. err carries the exit failure, if any, for the reap log. Reports
// for unknown or already dead records are dropped.
func (r *Registry) ReportExit(pid int, err error) {
	r.mu.Lock()
	rec, ok := r.records[pid]
	if !ok || rec.state == power.StateDead {
		r.mu.Unlock()
		return
	}
	r.exited = append(r.exited, exitReport{pid: pid, err: err})
	r.mu.Unlock()
	r.notifyReaper()
}

// Remove deletes a dead record, freeing its slot for a replacement
// incarnation. Records that have not been reaped cannot be removed.
func (r *Registry) Remove(pid int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[pid]
	if !ok {
		return &errors.NotFoundError{Resource: "process", ID: strconv.Itoa(pid)}
	}
	if rec.state != power.StateDead {
		return &errors.ValidationError{Field: "pid", Message: "record has not been reaped"}
	}
	delete(r.records, pid)
	registeredRecords.WithLabelValues(string(rec.kind)).Dec()
	return nil
}

func (r *Registry) notifyReaper() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Registry) wakeCh() <-chan struct{} { return r.wake }

// takeExited drains the pending exit reports.
func (r *Registry) takeExited() []exitReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.exited
	r.exited = nil
	return out
}

// markDead transitions a record to dead and returns its final snapshot.
func (r *Registry) markDead(pid int) (power.ProcessInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[pid]
	if !ok {
		return power.ProcessInfo{}, false
	}
	rec.state = power.StateDead
	return rec.info(), true
}
