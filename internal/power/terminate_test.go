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
	"strings"
	"testing"
	"time"
)

func newTestTerminator(dir *fakeDirectory, fin *fakeFinalizer, verbose bool) (*terminator, *manualClock, func() string) {
	clock := newManualClock()
	logger, buf := testLogger()
	k := &terminator{
		directory:      dir,
		finalizer:      fin,
		sched:          &worldScheduler{dir: dir, clock: clock, step: 100 * time.Millisecond},
		clock:          clock,
		logger:         logger,
		statusInterval: DefaultStatusInterval,
		verbose:        verbose,
	}
	return k, clock, buf.String
}

func TestKillProcessesConvergesStaggeredRecords(t *testing.T) {
	dir := newFakeDirectory()
	dir.addProtected(2, "finalizer", KindSystem, 0)
	dir.add(10, "fast", KindUser, 1)
	dir.add(11, "medium", KindUser, 5)
	dir.add(12, "slow", KindUser, 9)

	fin := &fakeFinalizer{pid: 2}
	k, _, _ := newTestTerminator(dir, fin, false)

	k.killProcesses(KindUser, fin.PID())

	for _, pid := range []int{10, 11, 12} {
		if got := dir.state(pid); got != StateDead {
			t.Errorf("pid %d state = %q, want %q", pid, got, StateDead)
		}
	}
	if got := fin.notifyCount(); got != 1 {
		t.Errorf("finalizer notified %d times, want 1", got)
	}
}

func TestKillProcessesOnlyTargetsKind(t *testing.T) {
	dir := newFakeDirectory()
	dir.addProtected(2, "finalizer", KindSystem, 0)
	dir.add(10, "web", KindUser, 1)
	dir.add(20, "watcher", KindSystem, 1)

	fin := &fakeFinalizer{pid: 2}
	k, _, _ := newTestTerminator(dir, fin, false)

	k.killProcesses(KindUser, fin.PID())

	if got := dir.state(10); got != StateDead {
		t.Errorf("user record state = %q, want %q", got, StateDead)
	}
	if got := dir.state(20); got != StateAlive {
		t.Errorf("system record state = %q, want %q (user batch must not touch it)", got, StateAlive)
	}
	if got := dir.state(2); got != StateAlive {
		t.Errorf("finalizer state = %q, want %q (excluded from batches)", got, StateAlive)
	}
}

func TestKillProcessesEmptyBatchStillYieldsOnce(t *testing.T) {
	dir := newFakeDirectory()
	dir.addProtected(2, "finalizer", KindSystem, 0)

	fin := &fakeFinalizer{pid: 2}
	clock := newManualClock()
	logger, _ := testLogger()

	yields := 0
	k := &terminator{
		directory:      dir,
		finalizer:      fin,
		sched:          yieldCounter{count: &yields},
		clock:          clock,
		logger:         logger,
		statusInterval: DefaultStatusInterval,
	}

	k.killProcesses(KindUser, fin.PID())

	if yields != 1 {
		t.Errorf("yields = %d, want exactly 1 for an already-empty batch", yields)
	}
}

type yieldCounter struct{ count *int }

func (y yieldCounter) Yield() { *y.count++ }

func TestTeardownFinalizerWaitsForDeath(t *testing.T) {
	dir := newFakeDirectory()
	dir.addProtected(2, "finalizer", KindSystem, 3)
	dir.AuthorizeShutdown()

	fin := &fakeFinalizer{pid: 2}
	k, _, _ := newTestTerminator(dir, fin, false)

	k.teardownFinalizer(fin.PID())

	if got := dir.state(2); got != StateDead {
		t.Errorf("finalizer state = %q, want %q", got, StateDead)
	}
}

func TestTeardownFinalizerLogsProtectedRefusal(t *testing.T) {
	dir := newFakeDirectory()
	dir.addProtected(2, "finalizer", KindSystem, 0)
	// Shutdown authorization withheld: the kill must be refused.

	fin := &fakeFinalizer{pid: 2}
	k, _, logs := newTestTerminator(dir, fin, false)

	done := make(chan struct{})
	go func() {
		k.teardownFinalizer(fin.PID())
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("teardown should not complete while the finalizer refuses to die")
	case <-time.After(50 * time.Millisecond):
	}

	if !strings.Contains(logs(), "finalizer teardown request failed") {
		t.Errorf("expected refusal to be logged, got:\n%s", logs())
	}

	// Authorize so the goroutine can finish before the test exits.
	dir.AuthorizeShutdown()
	if err := dir.Kill(fin.PID()); err != nil {
		t.Fatalf("authorized kill failed: %v", err)
	}
	<-done
}

func TestReportStragglersWarnsOnSurvivors(t *testing.T) {
	dir := newFakeDirectory()
	dir.add(30, "late-arrival", KindUser, 0)

	fin := &fakeFinalizer{pid: 2}
	k, _, logs := newTestTerminator(dir, fin, false)

	k.reportStragglers()

	if !strings.Contains(logs(), "not the last process alive") {
		t.Errorf("expected straggler warning, got:\n%s", logs())
	}
}

func TestReportStragglersQuietWhenDrained(t *testing.T) {
	dir := newFakeDirectory()

	fin := &fakeFinalizer{pid: 2}
	k, _, logs := newTestTerminator(dir, fin, false)

	k.reportStragglers()

	if strings.Contains(logs(), "not the last process alive") {
		t.Errorf("unexpected straggler warning with only the supervisor record left:\n%s", logs())
	}
}
