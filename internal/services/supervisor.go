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

package services

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"reflect"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/tombee/powerd/internal/log"
	"github.com/tombee/powerd/internal/power"
	"github.com/tombee/powerd/internal/proc"
	"github.com/tombee/powerd/pkg/errors"
)

// Config configures the supervisor.
type Config struct {
	// Dir is the directory searched for unit files.
	Dir string

	// Patterns are doublestar globs matched against paths under Dir.
	Patterns []string

	// Watch reloads unit files when they change on disk.
	Watch bool

	// StopGrace is the default SIGTERM grace period before SIGKILL.
	StopGrace time.Duration
}

// Supervisor launches and supervises service processes. Every running
// service is registered in the process directory under its unit's kind,
// so a power-down drain terminates services through the directory like
// any other process: user services in the user drain, system services
// in the system drain.
type Supervisor struct {
	cfg       Config
	registry  *proc.Registry
	evaluator *Evaluator
	logger    *slog.Logger

	mu       sync.Mutex
	services map[string]*service
	watcher  *Watcher

	ctx    context.Context
	cancel context.CancelFunc
}

// service tracks one unit and its current incarnation.
type service struct {
	unit      *Unit
	pid       int // directory record of the running incarnation
	osPID     int
	running   bool
	skipped   bool  // condition evaluated false
	stopping  bool  // stop requested through the directory
	removed   bool  // unit file deleted, drop entry once exited
	pending   *Unit // replacement definition to launch after exit
	restarts  int
	startedAt time.Time
}

// NewSupervisor creates a supervisor over the given unit directory.
func NewSupervisor(cfg Config, registry *proc.Registry, logger *slog.Logger) *Supervisor {
	if len(cfg.Patterns) == 0 {
		cfg.Patterns = []string{"**/*.yaml", "**/*.yml"}
	}
	if cfg.StopGrace == 0 {
		cfg.StopGrace = 10 * time.Second
	}

	return &Supervisor{
		cfg:       cfg,
		registry:  registry,
		evaluator: NewEvaluator(),
		logger:    log.WithComponent(logger, "services"),
		services:  make(map[string]*service),
	}
}

// Start loads unit files and launches matching services. When watching
// is enabled, unit file changes trigger reloads until Stop.
func (s *Supervisor) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	units, err := LoadDir(s.cfg.Dir, s.cfg.Patterns)
	if err != nil {
		return err
	}

	s.mu.Lock()
	for _, u := range units {
		s.startLocked(u)
	}
	count := len(s.services)
	s.mu.Unlock()

	if s.cfg.Watch {
		if _, err := os.Stat(s.cfg.Dir); err == nil {
			w, err := NewWatcher(s.cfg.Dir, s.cfg.Patterns, s.requestReload, s.logger)
			if err != nil {
				s.logger.Warn("unit watcher unavailable", log.Error(err))
			} else {
				s.watcher = w
				w.Start(s.ctx)
			}
		}
	}

	s.logger.Info("service supervisor started", log.Int("services", count))
	return nil
}

// Stop stops the watcher and terminates all running services. The
// power-down path does not use it; there the power task terminates
// services through the directory instead.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	pids := make([]int, 0, len(s.services))
	for _, svc := range s.services {
		if svc.running {
			pids = append(pids, svc.pid)
		}
	}
	s.mu.Unlock()

	if w != nil {
		if err := w.Stop(); err != nil {
			s.logger.Warn("failed to stop unit watcher", log.Error(err))
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	for _, pid := range pids {
		if err := s.registry.Kill(pid); err != nil {
			s.logger.Warn("failed to stop service", log.Int("pid", pid), log.Error(err))
		}
	}

	s.logger.Info("service supervisor stopped")
}

// Reload re-reads the unit directory and reconciles running services:
// new units start, removed units stop, changed units restart with the
// new definition once the old incarnation exits.
func (s *Supervisor) Reload() error {
	if s.ctx == nil || s.ctx.Err() != nil {
		return nil
	}

	units, err := LoadDir(s.cfg.Dir, s.cfg.Patterns)
	if err != nil {
		return err
	}

	byName := make(map[string]*Unit, len(units))
	for _, u := range units {
		byName[u.Name] = u
	}

	var toStop []int
	var toStart []*Unit

	s.mu.Lock()
	for name, svc := range s.services {
		if _, ok := byName[name]; ok {
			continue
		}
		svc.removed = true
		if svc.running {
			toStop = append(toStop, svc.pid)
		} else {
			delete(s.services, name)
			s.logger.Info("service removed", log.String("service", name))
		}
	}
	for _, u := range units {
		svc, ok := s.services[u.Name]
		if !ok {
			toStart = append(toStart, u)
			continue
		}
		if reflect.DeepEqual(svc.unit, u) {
			continue
		}
		if svc.running {
			svc.pending = u
			toStop = append(toStop, svc.pid)
		} else {
			svc.unit = u
			s.relaunchLocked(svc)
		}
	}
	s.mu.Unlock()

	// Kills run outside the supervisor lock: the directory invokes our
	// stop hook synchronously and the hook takes the same lock.
	for _, pid := range toStop {
		if err := s.registry.Kill(pid); err != nil {
			s.logger.Warn("failed to stop service for reload", log.Int("pid", pid), log.Error(err))
		}
	}

	s.mu.Lock()
	for _, u := range toStart {
		s.startLocked(u)
	}
	s.mu.Unlock()

	return nil
}

// requestReload adapts Reload for the watcher callback.
func (s *Supervisor) requestReload() {
	if err := s.Reload(); err != nil {
		s.logger.Error("unit reload failed", log.Error(err))
	}
}

// startLocked registers a unit and launches it if its condition holds.
// The caller holds s.mu.
func (s *Supervisor) startLocked(u *Unit) {
	svc := &service{unit: u}
	s.services[u.Name] = svc
	s.relaunchLocked(svc)
}

// relaunchLocked evaluates the unit condition and launches the service.
// The caller holds s.mu.
func (s *Supervisor) relaunchLocked(svc *service) {
	u := svc.unit

	ok, err := s.evaluator.Evaluate(u.When, Facts())
	if err != nil {
		recordFailure(u.Name, "condition")
		s.logger.Error("service condition invalid", log.String("service", u.Name), log.Error(err))
		svc.skipped = true
		return
	}
	if !ok {
		s.logger.Info("service skipped by condition", log.String("service", u.Name), log.String("when", u.When))
		svc.skipped = true
		return
	}
	svc.skipped = false

	s.launchLocked(svc)
}

// launchLocked starts the unit's process and registers it in the
// directory. The caller holds s.mu.
func (s *Supervisor) launchLocked(svc *service) {
	u := svc.unit

	cmd := exec.Command(u.Command[0], u.Command[1:]...)
	cmd.Dir = u.WorkingDir
	cmd.Env = os.Environ()
	for k, v := range u.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	// Own process group, so stop signals reach forked children too
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		recordFailure(u.Name, "start")
		s.logger.Error("failed to start service", log.String("service", u.Name), log.Error(err))
		return
	}

	name := u.Name
	svc.osPID = cmd.Process.Pid
	svc.running = true
	svc.stopping = false
	svc.startedAt = time.Now()

	kind := power.KindUser
	if u.Kind == KindSystem {
		kind = power.KindSystem
	}
	stop := func(int) { s.stopService(name) }
	if u.Protected {
		svc.pid = s.registry.RegisterProtected(name, kind, stop)
	} else {
		svc.pid = s.registry.Register(name, kind, stop)
	}
	servicesRunning.Inc()

	logger := log.WithServiceContext(s.logger, name, svc.pid)
	logger.Info("service started", log.Int("os_pid", svc.osPID))

	go s.waitService(name, svc.pid, cmd)
}

// stopService is the directory stop hook. It must return promptly, so
// the signal escalation runs in its own goroutine.
func (s *Supervisor) stopService(name string) {
	s.mu.Lock()
	svc, ok := s.services[name]
	if !ok || !svc.running {
		s.mu.Unlock()
		return
	}
	svc.stopping = true
	osPID := svc.osPID
	grace := svc.unit.StopGrace
	if grace == 0 {
		grace = s.cfg.StopGrace
	}
	s.mu.Unlock()

	go func() {
		// Negative pid addresses the whole process group
		if err := proc.Terminate(-osPID, grace); err != nil {
			s.logger.Warn("service did not stop cleanly", log.String("service", name), log.Error(err))
		}
	}()
}

// waitService reaps the process, reports its exit to the directory, and
// applies the restart policy.
func (s *Supervisor) waitService(name string, pid int, cmd *exec.Cmd) {
	err := cmd.Wait()
	s.registry.ReportExit(pid, err)

	s.mu.Lock()
	svc, ok := s.services[name]
	if !ok || svc.pid != pid {
		// Entry replaced or dropped while we waited
		s.mu.Unlock()
		s.removeRecord(pid)
		return
	}

	svc.running = false
	servicesRunning.Dec()

	logger := log.WithServiceContext(s.logger, name, pid)
	if err != nil {
		recordFailure(name, "exit")
		logger.Warn("service exited", log.Error(err))
	} else {
		logger.Info("service exited")
	}

	pending := svc.pending
	svc.pending = nil
	stopping := svc.stopping
	removed := svc.removed
	policy := svc.unit.Restart
	delay := svc.unit.RestartDelay
	if removed {
		delete(s.services, name)
		logger.Info("service removed")
	}
	s.mu.Unlock()

	// Free the directory slot for the next incarnation. The finalizer
	// reaps exit reports asynchronously; retry briefly over the handoff.
	s.removeRecord(pid)

	if s.ctx.Err() != nil || removed {
		return
	}

	if pending != nil {
		s.mu.Lock()
		// pid still matching means no newer incarnation raced us here
		if cur, ok := s.services[name]; ok && cur == svc && cur.pid == pid {
			svc.unit = pending
			s.relaunchLocked(svc)
		}
		s.mu.Unlock()
		return
	}

	if stopping || s.registry.ShutdownAuthorized() {
		return
	}

	switch policy {
	case RestartNever:
		return
	case RestartOnFailure:
		if err == nil {
			return
		}
	}

	recordRestart(name)
	select {
	case <-time.After(delay):
	case <-s.ctx.Done():
		return
	}
	if s.registry.ShutdownAuthorized() {
		return
	}

	s.mu.Lock()
	if cur, ok := s.services[name]; ok && cur == svc && cur.pid == pid && !svc.stopping && !svc.removed {
		svc.restarts++
		logger.Info("restarting service", log.Int("restarts", svc.restarts))
		s.launchLocked(svc)
	}
	s.mu.Unlock()
}

// removeRecord deletes the dead directory record for pid, retrying
// while the finalizer catches up with the exit report.
func (s *Supervisor) removeRecord(pid int) {
	for i := 0; i < 100; i++ {
		err := s.registry.Remove(pid)
		if err == nil {
			return
		}
		var nf *errors.NotFoundError
		if errors.As(err, &nf) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	s.logger.Warn("service record was not reaped", log.Int("pid", pid))
}

// ServiceStatus describes one unit for the status API.
type ServiceStatus struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Kind        string    `json:"kind"`
	Protected   bool      `json:"protected,omitempty"`
	PID         int       `json:"pid,omitempty"`
	OSPID       int       `json:"os_pid,omitempty"`
	State       string    `json:"state"`
	Restarts    int       `json:"restarts"`
	Since       time.Time `json:"since"`
}

// Services returns the status of all known units, sorted by name.
func (s *Supervisor) Services() []ServiceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]ServiceStatus, 0, len(s.services))
	for name, svc := range s.services {
		st := ServiceStatus{
			Name:        name,
			Description: svc.unit.Description,
			Kind:        string(svc.unit.Kind),
			Protected:   svc.unit.Protected,
			Restarts:    svc.restarts,
		}
		switch {
		case svc.skipped:
			st.State = "skipped"
		case svc.running && svc.stopping:
			st.State = "stopping"
		case svc.running:
			st.State = "running"
		default:
			st.State = "exited"
		}
		if svc.running {
			st.PID = svc.pid
			st.OSPID = svc.osPID
			st.Since = svc.startedAt
		}
		statuses = append(statuses, st)
	}

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}
