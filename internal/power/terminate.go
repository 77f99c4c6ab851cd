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

import (
	"log/slog"
	"time"

	"github.com/tombee/powerd/internal/log"
)

// terminator drains directory records in kind batches. Each batch issues
// non-blocking kill requests, wakes the finalizer, and waits without bound
// for every targeted record to reach Dead. There is deliberately no
// timeout: a record that never exits is an upstream defect the operator
// diagnoses from the periodic status lines, not something the transition
// papers over by moving on with live processes.
type terminator struct {
	directory Directory
	finalizer Finalizer
	sched     Scheduler
	clock     Clock
	logger    *slog.Logger

	statusInterval time.Duration
	verbose        bool
}

// killProcesses requests termination of every record of the given kind,
// excluding the supervisor's own record and the finalizer, then waits for
// the batch to fully drain.
func (k *terminator) killProcesses(kind Kind, finalizerPID int) {
	self := k.directory.Self()

	for _, p := range k.directory.Processes() {
		if p.PID == self || p.PID == finalizerPID || p.Kind != kind {
			continue
		}
		if err := k.directory.Kill(p.PID); err != nil {
			// Kill is a request; a record that exited on its own in
			// the meantime is not a problem.
			k.logger.Warn("kill request failed",
				log.PIDKey, p.PID, "name", p.Name, "error", err)
		}
		killRequests.WithLabelValues(string(kind)).Inc()
	}

	// The directory could complete Dying records from here, but the
	// finalizer exists to perform final duties; let it work until its
	// own turn comes.
	k.finalizer.Notify()

	k.waitForDrain(kind, finalizerPID)
}

// waitForDrain yields until no targeted record of the kind remains alive,
// reporting the remaining count at the configured cadence.
func (k *terminator) waitForDrain(kind Kind, finalizerPID int) {
	self := k.directory.Self()
	start := k.clock.Now()
	lastStatus := start

	alive := 1
	for alive > 0 {
		k.sched.Yield()

		alive = 0
		var survivors []ProcessInfo
		for _, p := range k.directory.Processes() {
			if p.PID == self || p.PID == finalizerPID || p.Kind != kind || p.State.Dead() {
				continue
			}
			alive++
			if k.verbose {
				survivors = append(survivors, p)
			}
		}

		now := k.clock.Now()
		if now.Sub(lastStatus) >= k.statusInterval {
			lastStatus = now
			k.logger.Info("waiting on processes to exit", "remaining", alive)
			for _, p := range survivors {
				k.logger.Debug("process still alive",
					log.PIDKey, p.PID,
					"kind", string(p.Kind),
					"state", string(p.State),
					"name", p.Name)
			}
		}
	}

	convergenceWait.WithLabelValues(string(kind)).Observe(k.clock.Now().Sub(start).Seconds())
}

// teardownFinalizer retires the reaper itself once everything it could
// reap is gone, and waits for its record to complete.
func (k *terminator) teardownFinalizer(finalizerPID int) {
	k.logger.Info("tearing down finalizer", log.PIDKey, finalizerPID)
	if err := k.directory.Kill(finalizerPID); err != nil {
		k.logger.Error("finalizer teardown request failed",
			log.PIDKey, finalizerPID, "error", err)
	}
	for !k.recordDead(finalizerPID) {
		k.sched.Yield()
	}
}

// recordDead reports whether the record is Dead or gone from the
// directory.
func (k *terminator) recordDead(pid int) bool {
	for _, p := range k.directory.Processes() {
		if p.PID == pid {
			return p.State.Dead()
		}
	}
	return true
}

// reportStragglers logs the probable cause of an unclean shutdown. By this
// point every record other than the supervisor's own should be dead; this
// reports rather than panics, since the transition is about to halt the
// machine regardless.
func (k *terminator) reportStragglers() {
	self := k.directory.Self()
	alive := 0
	for _, p := range k.directory.Processes() {
		if p.PID != self && !p.State.Dead() {
			alive++
		}
	}
	if alive != 0 {
		k.logger.Warn("not the last process alive; proper shutdown may fail", "alive", alive)
	}
}
