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
	"context"

	"github.com/tombee/powerd/internal/power"
	"github.com/tombee/powerd/pkg/errors"
)

// Task is a long-lived internal goroutine tracked as a system record.
type Task struct {
	pid  int
	name string
	done chan struct{}
}

// StartTask registers run as a system record and launches it. Killing
// the record cancels the task context; when run returns, the exit is
// reported for reaping. A context.Canceled return counts as a clean
// stop.
func (r *Registry) StartTask(ctx context.Context, name string, run func(context.Context) error) *Task {
	taskCtx, cancel := context.WithCancel(ctx)
	t := &Task{
		name: name,
		done: make(chan struct{}),
	}
	t.pid = r.register(name, power.KindSystem, func(int) { cancel() }, false)

	go func() {
		defer close(t.done)
		defer cancel()

		err := run(taskCtx)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		r.ReportExit(t.pid, err)
	}()
	return t
}

// PID returns the task's directory PID.
func (t *Task) PID() int { return t.pid }

// Name returns the task's record name.
func (t *Task) Name() string { return t.name }

// Done is closed once the task's run function has returned.
func (t *Task) Done() <-chan struct{} { return t.done }
