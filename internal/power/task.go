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
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/powerd/internal/log"
)

// DefaultStatusInterval is the cadence of the "waiting on processes"
// diagnostic during convergence waits.
const DefaultStatusInterval = 2 * time.Second

// PhaseHook observes phase changes of a running transition. Hooks are
// strictly observational: a hook error or panic never alters the
// transition's control flow.
type PhaseHook func(tr *Transition, phase Phase)

// ConsoleSwitch replaces the transition's logger once durable log storage
// is about to be quiesced. The daemon installs one that returns a direct
// stderr logger.
type ConsoleSwitch func(tr *Transition) *slog.Logger

// Task drives power state transitions. At most one transition is active at
// a time; spawning a second while one is active is a caller defect and
// panics.
type Task struct {
	directory Directory
	finalizer Finalizer
	fs        Filesystems
	platform  Platform
	sched     Scheduler
	clock     Clock
	logger    *slog.Logger

	hooks         []PhaseHook
	consoleSwitch ConsoleSwitch

	statusInterval time.Duration
	verboseWait    bool

	mu     sync.Mutex
	active *Transition
}

// TaskOption configures a Task.
type TaskOption func(*Task)

// WithLogger sets the task's logger.
func WithLogger(logger *slog.Logger) TaskOption {
	return func(t *Task) { t.logger = logger }
}

// WithScheduler replaces the runtime scheduler used during convergence
// waits. Tests install a scheduler that advances a simulated world on
// every yield.
func WithScheduler(s Scheduler) TaskOption {
	return func(t *Task) { t.sched = s }
}

// WithClock replaces the monotonic clock used for diagnostics cadence.
func WithClock(c Clock) TaskOption {
	return func(t *Task) { t.clock = c }
}

// WithPhaseHook registers a hook observing phase changes. Hooks run in
// registration order on the transition goroutine.
func WithPhaseHook(h PhaseHook) TaskOption {
	return func(t *Task) { t.hooks = append(t.hooks, h) }
}

// WithConsoleSwitch installs the logger swap performed after finalizer
// teardown, before filesystems quiesce.
func WithConsoleSwitch(cs ConsoleSwitch) TaskOption {
	return func(t *Task) { t.consoleSwitch = cs }
}

// WithStatusInterval overrides the convergence diagnostic cadence.
func WithStatusInterval(d time.Duration) TaskOption {
	return func(t *Task) {
		if d > 0 {
			t.statusInterval = d
		}
	}
}

// WithVerboseWait enables the per-process survivor listing emitted with
// each convergence diagnostic.
func WithVerboseWait(v bool) TaskOption {
	return func(t *Task) { t.verboseWait = v }
}

// NewTask builds a transition task over its four collaborators.
func NewTask(directory Directory, finalizer Finalizer, fs Filesystems, platform Platform, opts ...TaskOption) *Task {
	t := &Task{
		directory:      directory,
		finalizer:      finalizer,
		fs:             fs,
		platform:       platform,
		sched:          goScheduler{},
		clock:          systemClock{},
		logger:         slog.Default(),
		statusInterval: DefaultStatusInterval,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Transition is the handle of one spawned power transition. Its identity
// and command are immutable; phase and outcome progress as the task runs.
type Transition struct {
	ID        string
	Command   Command
	Requester string
	StartedAt time.Time

	mu         sync.Mutex
	phase      Phase
	phaseStart time.Time
	outcome    Outcome
	done       chan struct{}
}

// Phase returns the transition's current phase.
func (tr *Transition) Phase() Phase {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.phase
}

// Outcome returns the terminal outcome, or OutcomePending while running.
func (tr *Transition) Outcome() Outcome {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.outcome
}

// Done returns a channel closed when the transition task returns. On real
// hardware the channel never closes for a successful transition; the
// machine halts first.
func (tr *Transition) Done() <-chan struct{} {
	return tr.done
}

// Wait blocks until the transition task returns and reports its outcome.
func (tr *Transition) Wait() Outcome {
	<-tr.done
	return tr.Outcome()
}

// SpawnOption annotates a spawned transition.
type SpawnOption func(*Transition)

// WithRequester records who asked for the transition.
func WithRequester(requester string) SpawnOption {
	return func(tr *Transition) { tr.Requester = requester }
}

// Spawn starts the transition task for the given command and returns its
// handle. Spawning while another transition is active panics: the caller
// holds responsibility for serializing requests. The handle clears only if
// the task returns without halting the machine, after which Spawn may be
// called again.
func (t *Task) Spawn(cmd Command, opts ...SpawnOption) *Transition {
	tr := &Transition{
		ID:        uuid.NewString(),
		Command:   cmd,
		StartedAt: t.clock.Now(),
		phase:     PhaseIdle,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(tr)
	}

	t.mu.Lock()
	if t.active != nil {
		t.mu.Unlock()
		panic("power: transition already active")
	}
	t.active = tr
	t.mu.Unlock()

	transitionsStarted.WithLabelValues(cmd.String()).Inc()
	go t.run(tr)
	return tr
}

// Active returns the currently running transition, or nil.
func (t *Task) Active() *Transition {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// run is the transition task body. It executes on a dedicated goroutine
// pinned to its OS thread so the priority elevation stays with it.
func (t *Task) run(tr *Transition) {
	runtime.LockOSThread()
	t.platform.ElevatePriority()

	logger := log.WithTransitionContext(t.logger, tr.ID, tr.Command.String())
	t.setPhase(tr, logger, PhaseSpawned)

	var outcome Outcome
	switch tr.Command {
	case CommandShutdown:
		outcome = t.performShutdown(tr, logger)
	case CommandReboot:
		outcome = t.performReboot(tr, logger)
	default:
		panic(fmt.Sprintf("power: unknown power state command %q", tr.Command))
	}

	// The machine usually halts inside the perform routine and control
	// never reaches this point. When it does, clear the handle so a new
	// transition can be spawned.
	tr.mu.Lock()
	tr.outcome = outcome
	tr.mu.Unlock()

	t.mu.Lock()
	t.active = nil
	t.mu.Unlock()

	logger.Info("transition task returned", "outcome", string(outcome))
	close(tr.done)
}

// performShutdown drains every record, tears down the finalizer, quiesces
// and unmounts filesystems, then dispatches the power-off.
func (t *Task) performShutdown(tr *Transition, logger *slog.Logger) Outcome {
	// By this point orderly teardown has had its chance upstream. What
	// remains is forced: every record except the finalizer and the
	// supervisor itself gets a termination request.
	logger.Info("killing remaining processes")

	finalizerPID := t.finalizer.PID()
	if !t.directoryContains(finalizerPID) {
		panic(fmt.Sprintf("power: finalizer pid %d not present in directory", finalizerPID))
	}

	// Permit termination of the supervisor record and the finalizer.
	t.directory.AuthorizeShutdown()

	term := t.newTerminator(logger)

	// User records drain fully before any system record is touched,
	// otherwise workloads lose their supervisors mid-exit and hang.
	t.setPhase(tr, logger, PhaseTerminatingUsers)
	term.killProcesses(KindUser, finalizerPID)

	t.setPhase(tr, logger, PhaseTerminatingSystem)
	term.killProcesses(KindSystem, finalizerPID)

	t.setPhase(tr, logger, PhaseFinalizerTeardown)
	term.teardownFinalizer(finalizerPID)
	term.reportStragglers()

	// Durable log storage is about to be locked; hand the remaining
	// phases to the direct console sink.
	if t.consoleSwitch != nil {
		if replacement := t.consoleSwitch(tr); replacement != nil {
			logger = log.WithTransitionContext(replacement, tr.ID, tr.Command.String())
		}
	}

	q := t.newQuiescer(logger)
	t.setPhase(tr, logger, PhaseQuiesce)
	q.quiesce()

	t.setPhase(tr, logger, PhaseUnmountSweep)
	q.unmountSweep()

	// Second quiesce: the sweep itself dirties state, and any mount that
	// survived it (usually the root) still deserves a final flush.
	t.setPhase(tr, logger, PhaseQuiesce)
	q.quiesce()

	t.setPhase(tr, logger, PhaseDispatch)
	logger.Info("attempting system shutdown")
	outcome := t.newDispatcher(logger).powerOff()
	t.setPhase(tr, logger, PhaseHalted)
	return outcome
}

// performReboot quiesces filesystems and dispatches the reboot. No
// termination requests are issued on this path.
func (t *Task) performReboot(tr *Transition, logger *slog.Logger) Outcome {
	q := t.newQuiescer(logger)
	t.setPhase(tr, logger, PhaseQuiesce)
	q.quiesce()

	t.setPhase(tr, logger, PhaseDispatch)
	outcome := t.newDispatcher(logger).reboot()
	t.setPhase(tr, logger, PhaseHalted)
	return outcome
}

// setPhase advances the transition's phase, records the previous phase's
// duration, and notifies hooks.
func (t *Task) setPhase(tr *Transition, logger *slog.Logger, p Phase) {
	now := t.clock.Now()

	tr.mu.Lock()
	prev := tr.phase
	prevStart := tr.phaseStart
	tr.phase = p
	tr.phaseStart = now
	tr.mu.Unlock()

	if prev != PhaseIdle && !prevStart.IsZero() {
		phaseDuration.WithLabelValues(prev.String()).Observe(now.Sub(prevStart).Seconds())
	}

	logger.Debug("phase change", log.PhaseKey, p.String())

	for _, h := range t.hooks {
		t.runHook(h, tr, p)
	}
}

// runHook isolates hook panics from the transition.
func (t *Task) runHook(h PhaseHook, tr *Transition, p Phase) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("phase hook panicked", log.PhaseKey, p.String(), "panic", r)
		}
	}()
	h(tr, p)
}

// directoryContains reports whether the directory currently has a record
// with the given pid.
func (t *Task) directoryContains(pid int) bool {
	for _, p := range t.directory.Processes() {
		if p.PID == pid {
			return true
		}
	}
	return false
}

func (t *Task) newTerminator(logger *slog.Logger) *terminator {
	return &terminator{
		directory:      t.directory,
		finalizer:      t.finalizer,
		sched:          t.sched,
		clock:          t.clock,
		logger:         logger,
		statusInterval: t.statusInterval,
		verbose:        t.verboseWait,
	}
}

func (t *Task) newQuiescer(logger *slog.Logger) *quiescer {
	return &quiescer{fs: t.fs, logger: logger}
}

func (t *Task) newDispatcher(logger *slog.Logger) *dispatcher {
	return &dispatcher{platform: t.platform, logger: logger}
}

// goScheduler yields to the Go runtime.
type goScheduler struct{}

func (goScheduler) Yield() { runtime.Gosched() }

// systemClock reads the real monotonic clock.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
