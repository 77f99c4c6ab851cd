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
	"log/slog"
	"sync"

	"github.com/tombee/powerd/internal/log"
	"github.com/tombee/powerd/internal/power"
)

// FinalizeHook is a named teardown step the reaper runs after its reap
// loop stops. Hooks release resources that must outlive every other
// record, such as the transition journal.
type FinalizeHook struct {
	Name string
	Run  func() error
}

// Reaper is the finalizer task. During normal operation it reaps
// confirmed exits, moving records from dying to dead. When its own
// record is killed, or its context is cancelled, it drains the reap
// queue, runs finalize hooks, and only then marks itself dead. The
// power transition task waits on that final death, so hooks always run
// after every other record is gone.
type Reaper struct {
	registry *Registry
	logger   *slog.Logger
	pid      int

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}

	mu    sync.Mutex
	hooks []FinalizeHook
}

// NewReaper registers the finalizer record and returns the reaper. The
// record is protected: it refuses termination until shutdown is
// authorized.
func NewReaper(registry *Registry, logger *slog.Logger) *Reaper {
	p := &Reaper{
		registry: registry,
		logger:   log.WithComponent(logger, "finalizer"),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	p.pid = registry.register("finalizer", power.KindSystem, p.requestStop, true)
	return p
}

// PID returns the finalizer's directory PID.
func (p *Reaper) PID() int { return p.pid }

// Notify wakes the reap loop so dying records are reaped promptly.
func (p *Reaper) Notify() { p.registry.notifyReaper() }

// OnFinalize appends a teardown hook. Hooks run newest first, mirroring
// the order resources were acquired in.
func (p *Reaper) OnFinalize(name string, run func() error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hooks = append(p.hooks, FinalizeHook{Name: name, Run: run})
}

// Start launches the reap loop. The loop runs until ctx is cancelled or
// the finalizer record is killed, then tears down once.
func (p *Reaper) Start(ctx context.Context) {
	go p.run(ctx)
}

// Wait blocks until teardown has completed.
func (p *Reaper) Wait() { <-p.done }

func (p *Reaper) requestStop(int) {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

func (p *Reaper) run(ctx context.Context) {
	defer close(p.done)
	p.logger.Debug("reaper started", log.Int("pid", p.pid))

	for {
		select {
		case <-ctx.Done():
			p.teardown()
			return
		case <-p.stopCh:
			p.teardown()
			return
		case <-p.registry.wakeCh():
			p.reap()
		}
	}
}

// reap drains the exit queue, transitioning each reported record to
// dead.
func (p *Reaper) reap() {
	for _, exit := range p.registry.takeExited() {
		info, ok := p.registry.markDead(exit.pid)
		if !ok {
			continue
		}
		reapsTotal.Inc()
		if exit.err != nil {
			p.logger.Debug("reaped process",
				log.Int("pid", info.PID),
				log.String("name", info.Name),
				log.Error(exit.err))
			continue
		}
		p.logger.Debug("reaped process",
			log.Int("pid", info.PID),
			log.String("name", info.Name))
	}
}

func (p *Reaper) teardown() {
	// Reap anything reported before the loop stopped.
	p.reap()

	p.mu.Lock()
	hooks := make([]FinalizeHook, len(p.hooks))
	copy(hooks, p.hooks)
	p.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		p.logger.Info("running finalize hook", log.String("hook", h.Name))
		if err := h.Run(); err != nil {
			p.logger.Error("finalize hook failed", log.String("hook", h.Name), log.Error(err))
		}
	}

	p.registry.markDead(p.pid)
	p.logger.Info("finalizer teardown complete")
}
