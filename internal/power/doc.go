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

/*
Package power drives the machine's power state transitions.

A Task owns the whole journey from a shutdown or reboot request to the
point where the machine halts. It runs each transition on a dedicated
goroutine and keeps at most one transition active at a time; spawning a
second while one runs is a programming error and panics rather than
queueing.

# Spawning a transition

	task := power.NewTask(directory, finalizer, filesystems, platform,
	    power.WithLogger(logger))
	tr := task.Spawn(power.CommandShutdown, power.WithRequester("powerctl"))

A shutdown drains user services first, then system tasks, retires the
finalizer last, quiesces and unmounts filesystems, and dispatches the
power-off. A reboot skips all termination and goes straight from quiesce
to dispatch.

# Collaborators

The task talks to the rest of the system only through the Directory,
Finalizer, Filesystems and Platform interfaces, plus an injectable
Scheduler and Clock. Production wiring lives in the daemon; tests drive
the task against simulated implementations and a manual clock, which
makes the convergence waits and diagnostic cadence fully deterministic.

# Failure stance

Invariant violations (double spawn, a command outside the closed set, a
missing finalizer record) panic. Everything else is absorbed: failed
unmounts are retried until the sweep stops making progress, failed power
mechanisms fall through to the next one, and when the whole chain is
exhausted the task tells the operator the machine is safe to turn off by
hand and halts where it is.

# Observing progress

Phase changes are delivered to registered PhaseHooks (the daemon journals
them and annotates traces) and to the transition handle itself, which the
API surfaces. Hooks are observational only; a panicking hook is logged
and the transition continues.
*/
package power
