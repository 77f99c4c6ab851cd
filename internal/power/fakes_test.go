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
	"bytes"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tombee/powerd/pkg/errors"
)

// alwaysBusy marks a fake mount that fails every unmount attempt.
const alwaysBusy = -1

// fakeRecord is one simulated directory entry. deathTicks is how many
// scheduler ticks a Dying record needs before it completes; zero dies on
// the next tick.
type fakeRecord struct {
	info       ProcessInfo
	protected  bool
	deathTicks int
}

// fakeDirectory is a deterministic in-memory process directory. The world
// advances only when tick is called (by the test scheduler), so
// convergence behavior is fully scripted.
type fakeDirectory struct {
	mu         sync.Mutex
	selfPID    int
	records    map[int]*fakeRecord
	authorized bool

	// kills records the order termination requests were issued in.
	kills []int
	// orderViolations counts system kills issued while a user record
	// was still undrained.
	orderViolations int
}

func newFakeDirectory() *fakeDirectory {
	d := &fakeDirectory{
		selfPID: 1,
		records: map[int]*fakeRecord{},
	}
	d.records[1] = &fakeRecord{
		info:      ProcessInfo{PID: 1, Name: "powerd", Kind: KindSystem, State: StateAlive},
		protected: true,
	}
	return d
}

func (d *fakeDirectory) add(pid int, name string, kind Kind, deathTicks int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records[pid] = &fakeRecord{
		info:       ProcessInfo{PID: pid, Name: name, Kind: kind, State: StateAlive},
		deathTicks: deathTicks,
	}
}

func (d *fakeDirectory) addProtected(pid int, name string, kind Kind, deathTicks int) {
	d.add(pid, name, kind, deathTicks)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records[pid].protected = true
}

func (d *fakeDirectory) Self() int { return d.selfPID }

func (d *fakeDirectory) Processes() []ProcessInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ProcessInfo, 0, len(d.records))
	for _, r := range d.records {
		out = append(out, r.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

func (d *fakeDirectory) Kill(pid int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.records[pid]
	if !ok {
		return &errors.NotFoundError{Resource: "process", ID: "unknown"}
	}
	if r.protected && !d.authorized {
		return &errors.ProtectedError{PID: pid, Name: r.info.Name}
	}
	if r.info.State == StateDead {
		return nil
	}

	if r.info.Kind == KindSystem {
		for _, other := range d.records {
			if other.info.Kind == KindUser && other.info.State != StateDead {
				d.orderViolations++
			}
		}
	}

	r.info.State = StateDying
	d.kills = append(d.kills, pid)
	return nil
}

func (d *fakeDirectory) AuthorizeShutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.authorized = true
}

// tick advances every Dying record one step closer to Dead.
func (d *fakeDirectory) tick() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.records {
		if r.info.State != StateDying {
			continue
		}
		if r.deathTicks <= 0 {
			r.info.State = StateDead
			continue
		}
		r.deathTicks--
	}
}

func (d *fakeDirectory) killOrder() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.kills...)
}

func (d *fakeDirectory) violations() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.orderViolations
}

func (d *fakeDirectory) state(pid int) LifeState {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.records[pid]; ok {
		return r.info.State
	}
	return StateDead
}

// fakeFinalizer counts notifications. It must be registered in the
// directory separately; the tests conventionally give it pid 2.
type fakeFinalizer struct {
	mu       sync.Mutex
	pid      int
	notifies int
}

func (f *fakeFinalizer) PID() int { return f.pid }

func (f *fakeFinalizer) Notify() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifies++
}

func (f *fakeFinalizer) notifyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.notifies
}

// manualClock is a hand-advanced monotonic clock.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Unix(1000, 0)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// worldScheduler advances the simulated world on every yield: directory
// records progress toward death and the clock moves by step.
type worldScheduler struct {
	dir   *fakeDirectory
	clock *manualClock
	step  time.Duration
}

func (s *worldScheduler) Yield() {
	if s.dir != nil {
		s.dir.tick()
	}
	if s.clock != nil && s.step > 0 {
		s.clock.advance(s.step)
	}
}

// gateScheduler blocks the transition inside its first convergence wait
// until the test releases it, then behaves like its inner scheduler.
type gateScheduler struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	inner   Scheduler
}

func newGateScheduler(inner Scheduler) *gateScheduler {
	return &gateScheduler{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		inner:   inner,
	}
}

func (g *gateScheduler) Yield() {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	g.inner.Yield()
}

// fakeFilesystems simulates the mount layer. busy maps guest IDs to the
// number of unmount attempts that fail before one succeeds; alwaysBusy
// never succeeds.
type fakeFilesystems struct {
	mu     sync.Mutex
	mounts []Mount
	busy   map[uint64]int

	events   []string
	flushed  []uint64
	attempts []uint64
}

func newFakeFilesystems(mounts ...Mount) *fakeFilesystems {
	return &fakeFilesystems{
		mounts: append([]Mount(nil), mounts...),
		busy:   map[uint64]int{},
	}
}

func (f *fakeFilesystems) setBusy(guestID uint64, failures int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.busy[guestID] = failures
}

func (f *fakeFilesystems) LockAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "lock")
}

func (f *fakeFilesystems) Sync() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "sync")
}

func (f *fakeFilesystems) Mounts() []Mount {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Mount(nil), f.mounts...)
}

func (f *fakeFilesystems) Flush(m Mount) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushed = append(f.flushed, m.GuestID)
}

func (f *fakeFilesystems) Unmount(m Mount) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.attempts = append(f.attempts, m.GuestID)
	if n, ok := f.busy[m.GuestID]; ok && n != 0 {
		if n > 0 {
			f.busy[m.GuestID] = n - 1
		}
		return &errors.UnmountError{Mount: m.Path, Cause: errors.New("mount is busy")}
	}

	for i, cur := range f.mounts {
		if cur.GuestID == m.GuestID {
			f.mounts = append(f.mounts[:i], f.mounts[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeFilesystems) attemptOrder() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.attempts...)
}

func (f *fakeFilesystems) eventLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func (f *fakeFilesystems) remaining() []Mount {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Mount(nil), f.mounts...)
}

// fakePlatform records mechanism calls in order. Halt returns so the
// harness can observe the terminal outcome.
type fakePlatform struct {
	mu          sync.Mutex
	acpiEnabled bool
	acpiErr     error
	rebootErr   error
	powerOffErr error

	calls  []string
	halted bool
}

func (p *fakePlatform) ACPIEnabled() bool { return p.acpiEnabled }

func (p *fakePlatform) ACPIReboot() error {
	p.record("acpi_reboot")
	return p.acpiErr
}

func (p *fakePlatform) Reboot() error {
	p.record("reboot")
	return p.rebootErr
}

func (p *fakePlatform) PowerOff() error {
	p.record("power_off")
	return p.powerOffErr
}

func (p *fakePlatform) Halt() {
	p.record("halt")
	p.mu.Lock()
	p.halted = true
	p.mu.Unlock()
}

func (p *fakePlatform) ElevatePriority() {
	p.record("elevate")
}

func (p *fakePlatform) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *fakePlatform) callLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakePlatform) wasHalted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.halted
}

// testLogger returns a debug-level text logger writing into the returned
// buffer. Reads of the buffer are only safe after the transition's Done
// channel closes.
func testLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler), &buf
}
