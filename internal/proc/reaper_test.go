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
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tombee/powerd/internal/power"
	"github.com/tombee/powerd/pkg/errors"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestReaperReapsReportedExits(t *testing.T) {
	logger, buf := testLogger()
	r := NewRegistry(logger)
	reaper := NewReaper(r, logger)

	if got := reaper.PID(); got != 2 {
		t.Fatalf("reaper PID = %d, want 2", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reaper.Start(ctx)

	pid := r.Register("web", power.KindUser, nil)
	if err := r.Kill(pid); err != nil {
		t.Fatalf("Kill() error = %v", err)
	}
	r.ReportExit(pid, nil)

	waitFor(t, "record to be reaped", func() bool {
		return recordState(r, pid) == power.StateDead
	})
	if !strings.Contains(buf.String(), "reaped process") {
		t.Error("expected reap log entry")
	}
}

func TestFinalizeHooksRunNewestFirst(t *testing.T) {
	logger, _ := testLogger()
	r := NewRegistry(logger)
	reaper := NewReaper(r, logger)
	reaper.Start(context.Background())

	var mu sync.Mutex
	var order []string
	mark := func(name string) func() error {
		return func() error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}
	reaper.OnFinalize("journal", mark("journal"))
	reaper.OnFinalize("tracer", mark("tracer"))
	reaper.OnFinalize("socket", mark("socket"))

	r.AuthorizeShutdown()
	if err := r.Kill(reaper.PID()); err != nil {
		t.Fatalf("Kill(reaper) error = %v", err)
	}
	reaper.Wait()

	mu.Lock()
	defer mu.Unlock()
	want := []string{"socket", "tracer", "journal"}
	if len(order) != len(want) {
		t.Fatalf("hook order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("hook order = %v, want %v", order, want)
		}
	}
	if got := recordState(r, reaper.PID()); got != power.StateDead {
		t.Errorf("reaper state after teardown = %q, want %q", got, power.StateDead)
	}
}

func TestReaperTearsDownOnContextCancel(t *testing.T) {
	logger, buf := testLogger()
	r := NewRegistry(logger)
	reaper := NewReaper(r, logger)

	ran := false
	reaper.OnFinalize("journal", func() error {
		ran = true
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	reaper.Start(ctx)
	cancel()
	reaper.Wait()

	if !ran {
		t.Error("finalize hook did not run on context cancel")
	}
	if got := recordState(r, reaper.PID()); got != power.StateDead {
		t.Errorf("reaper state = %q, want %q", got, power.StateDead)
	}
	if !strings.Contains(buf.String(), "finalizer teardown complete") {
		t.Error("expected teardown completion log")
	}
}

func TestReaperProtectedUntilAuthorized(t *testing.T) {
	logger, _ := testLogger()
	r := NewRegistry(logger)
	reaper := NewReaper(r, logger)
	reaper.Start(context.Background())

	var pErr *errors.ProtectedError
	if err := r.Kill(reaper.PID()); !errors.As(err, &pErr) {
		t.Fatalf("Kill(reaper) before authorize = %v, want *errors.ProtectedError", err)
	}

	r.AuthorizeShutdown()
	if err := r.Kill(reaper.PID()); err != nil {
		t.Fatalf("Kill(reaper) after authorize = %v", err)
	}
	reaper.Wait()
}

func TestReaperDrainsQueueDuringTeardown(t *testing.T) {
	logger, _ := testLogger()
	r := NewRegistry(logger)
	reaper := NewReaper(r, logger)

	// Exit reported before the loop ever runs; teardown must still reap
	// it.
	pid := r.Register("web", power.KindUser, nil)
	r.Kill(pid)
	r.ReportExit(pid, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reaper.Start(ctx)
	reaper.Wait()

	if got := recordState(r, pid); got != power.StateDead {
		t.Errorf("record state = %q, want %q", got, power.StateDead)
	}
}

func TestFinalizeHookFailureLogged(t *testing.T) {
	logger, buf := testLogger()
	r := NewRegistry(logger)
	reaper := NewReaper(r, logger)

	reaper.OnFinalize("journal", func() error {
		return errors.New("disk gone")
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reaper.Start(ctx)
	reaper.Wait()

	out := buf.String()
	if !strings.Contains(out, "finalize hook failed") || !strings.Contains(out, "disk gone") {
		t.Errorf("expected hook failure log, got:\n%s", out)
	}
	if got := recordState(r, reaper.PID()); got != power.StateDead {
		t.Error("hook failure must not prevent the reaper from dying")
	}
}

func TestNotifyNeverBlocks(t *testing.T) {
	logger, _ := testLogger()
	r := NewRegistry(logger)
	reaper := NewReaper(r, logger)

	// No loop is consuming the doorbell; repeated notifies must still
	// return.
	for i := 0; i < 10; i++ {
		reaper.Notify()
	}
}
