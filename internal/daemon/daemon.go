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

// Package daemon wires the supervisor's subsystems together: the
// process directory, the finalizer, the mount table, the service
// supervisor, the transition journal and the power task, with an HTTP
// control API on top.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tombee/powerd/internal/config"
	"github.com/tombee/powerd/internal/daemon/api"
	"github.com/tombee/powerd/internal/daemon/auth"
	"github.com/tombee/powerd/internal/daemon/listener"
	"github.com/tombee/powerd/internal/journal"
	"github.com/tombee/powerd/internal/lifecycle"
	"github.com/tombee/powerd/internal/log"
	"github.com/tombee/powerd/internal/mounts"
	"github.com/tombee/powerd/internal/platform"
	"github.com/tombee/powerd/internal/power"
	"github.com/tombee/powerd/internal/proc"
	"github.com/tombee/powerd/internal/secrets"
	"github.com/tombee/powerd/internal/services"
	"github.com/tombee/powerd/internal/tracing"
	"github.com/tombee/powerd/pkg/security"
	"github.com/tombee/powerd/pkg/security/audit"
)

// Options contains daemon options set at build time.
type Options struct {
	Version   string
	Commit    string
	BuildDate string
}

// Daemon is the powerd supervisor process.
type Daemon struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	registry   *proc.Registry
	reaper     *proc.Reaper
	table      *mounts.Table
	machine    *platform.Machine
	journal    *journal.Journal
	supervisor *services.Supervisor
	task       *power.Task
	recorder   *transitionRecorder
	provider   *tracing.Provider
	auditor    *audit.Logger
	authMw     *auth.Middleware

	server *http.Server
	ln     net.Listener
	pidMgr *lifecycle.PIDFileManager

	startedAt time.Time

	// spawnMu makes the busy check and the spawn atomic, so two
	// concurrent requests cannot both reach the task.
	spawnMu sync.Mutex

	mu      sync.Mutex
	started bool
}

// New creates a new daemon instance.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	// Create logger with daemon component context
	logger := log.WithComponent(log.New(log.FromEnv()), "daemon")

	registry := proc.NewRegistry(logger)
	reaper := proc.NewReaper(registry, logger)

	// Attach managed mounts in mount order; the power task unmounts
	// them newest first.
	table := mounts.NewTable(mounts.NewLinuxOps(), logger)
	for _, path := range cfg.Mounts.Managed {
		if _, err := table.Attach(path); err != nil {
			logger.Warn("failed to attach managed mount",
				log.String("path", path),
				log.Error(err))
		}
	}

	var machineOpts []platform.Option
	if v := cfg.Power.ACPIOverride(); v != nil {
		machineOpts = append(machineOpts, platform.WithACPIOverride(*v))
	}
	machine := platform.NewMachine(logger, machineOpts...)

	jn, err := journal.Open(journal.Config{
		Path: cfg.Journal.Path,
		WAL:  cfg.Journal.WAL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open transition journal: %w", err)
	}

	supervisor := services.NewSupervisor(services.Config{
		Dir:       cfg.Services.Dir,
		Patterns:  cfg.Services.Patterns,
		Watch:     cfg.Services.Watch,
		StopGrace: cfg.Services.StopGrace,
	}, registry, logger)

	// Initialize the OpenTelemetry provider for tracing and metrics
	var provider *tracing.Provider
	if cfg.Observability.Enabled {
		provider, err = tracing.NewProvider(context.Background(), tracingConfig(cfg, opts.Version))
		if err != nil {
			logger.Warn("failed to initialize OpenTelemetry provider",
				log.Error(err))
			logger.Warn("tracing will not be available")
			provider = nil
		}
	}

	recorder := newTransitionRecorder(jn, logger)
	taskOpts := []power.TaskOption{
		power.WithLogger(logger),
		power.WithPhaseHook(recorder.Hook),
		power.WithConsoleSwitch(consoleSwitch),
		power.WithVerboseWait(cfg.Power.VerboseWait),
	}
	if cfg.Power.StatusInterval > 0 {
		taskOpts = append(taskOpts, power.WithStatusInterval(cfg.Power.StatusInterval))
	}
	if provider != nil {
		spans := newSpanRecorder(provider.Tracer("powerd/transition"))
		taskOpts = append(taskOpts, power.WithPhaseHook(spans.Hook))

		// Spans recorded up to finalizer teardown still have a network
		// to leave through; flush them there.
		flushProvider := provider
		reaper.OnFinalize("tracing", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return flushProvider.ForceFlush(ctx)
		})
	}
	task := power.NewTask(registry, reaper, table, machine, taskOpts...)

	// The audit trail drains during finalizer teardown, while its
	// backing filesystem is still writable.
	var auditor *audit.Logger
	if cfg.Audit.Enabled {
		auditor, err = audit.NewLogger(auditConfig(cfg))
		if err != nil {
			logger.Warn("failed to open audit trail",
				log.Error(err))
			auditor = nil
		} else {
			reaper.OnFinalize("audit", auditor.Close)
		}
	}

	// Create auth middleware
	var authMw *auth.Middleware
	if cfg.Daemon.Auth.Enabled {
		secret, err := resolveTokenSecret(context.Background(), cfg.Daemon.Auth.TokenSecret)
		if err != nil {
			if auditor != nil {
				auditor.Close()
			}
			jn.Close()
			return nil, fmt.Errorf("failed to resolve auth token secret: %w", err)
		}
		authMw = auth.NewMiddleware(auth.Config{
			Enabled: true,
			JWT: auth.JWTConfig{
				Secret:    []byte(secret),
				Issuer:    "powerd",
				ClockSkew: 30 * time.Second,
			},
			AllowUnixSocket: true,
			RateLimit:       auth.RateLimitConfig{Enabled: true},
			Logger:          logger,
		})
	}

	return &Daemon{
		cfg:        cfg,
		opts:       opts,
		logger:     logger,
		registry:   registry,
		reaper:     reaper,
		table:      table,
		machine:    machine,
		journal:    jn,
		supervisor: supervisor,
		task:       task,
		recorder:   recorder,
		provider:   provider,
		auditor:    auditor,
		authMw:     authMw,
	}, nil
}

// Start starts the daemon and blocks until the context is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("daemon already started")
	}
	d.started = true
	d.startedAt = time.Now()
	d.mu.Unlock()

	// Check permissions on critical directories and files at startup
	d.checkPermissionsAtStartup()

	// Claim the PID file if configured. A file left by a dead daemon
	// is replaced; a live daemon refuses to start twice.
	if d.cfg.Daemon.PIDFile != "" {
		mgr := lifecycle.NewPIDFileManager(d.cfg.Daemon.PIDFile)
		if err := mgr.Acquire(os.Getpid()); err != nil {
			return fmt.Errorf("failed to claim PID file: %w", err)
		}
		d.pidMgr = mgr
	}

	// Entries still pending in the journal belong to transitions that
	// never reached their seal on a previous boot.
	d.sealInterrupted(ctx)

	d.reaper.Start(ctx)

	if err := d.supervisor.Start(ctx); err != nil {
		d.logger.Warn("service supervisor start failed",
			log.Error(err))
	}

	// Create listener
	ln, err := listener.New(d.cfg.Daemon.Listen)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	d.ln = ln

	// Create HTTP router
	router := api.NewRouter(api.RouterConfig{
		Version:   d.opts.Version,
		Commit:    d.opts.Commit,
		BuildDate: d.opts.BuildDate,
	})

	api.NewTransitionsHandler(d, d.journal).RegisterRoutes(router.Mux())
	api.NewServicesHandler(d.supervisor).RegisterRoutes(router.Mux())
	api.NewStatusHandler(d).RegisterRoutes(router.Mux())

	// The power and proc metrics live in the default Prometheus
	// registry, so the endpoint is served even without the provider.
	if d.provider != nil {
		router.SetMetricsHandler(d.provider.MetricsHandler())
	} else {
		router.SetMetricsHandler(promhttp.Handler())
	}

	// Create HTTP server with auth middleware
	var handler http.Handler = router
	if d.authMw != nil {
		handler = d.authMw.Wrap(handler)
	}

	d.server = &http.Server{
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Register the API server in the process directory so the power
	// task drains it with the other system records. The stop hook takes
	// the PID from the registry itself; a kill delivered before Register
	// returns still confirms the right record.
	d.registry.Register("api", power.KindSystem, func(pid int) {
		go d.confirmServerExit(pid)
	})

	// Log startup
	d.logger.Info("powerd starting",
		slog.String("version", d.opts.Version),
		slog.String("listen_addr", ln.Addr().String()))

	// Start control plane server
	errCh := make(chan error, 1)
	go func() {
		if err := d.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or server error
	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// confirmServerExit is the API record's termination path. The power
// task kills the record during the system drain, and the drain only
// converges once the exit is confirmed through the registry.
func (d *Daemon) confirmServerExit(pid int) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Daemon.ShutdownTimeout)
	defer cancel()

	d.server.SetKeepAlivesEnabled(false)
	err := d.server.Shutdown(ctx)
	d.registry.ReportExit(pid, err)
}

// Shutdown gracefully shuts down the daemon. The power-down path does
// not come through here; a transition tears the daemon down through
// the process directory instead.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		return nil
	}

	if tr := d.task.Active(); tr != nil {
		d.logger.Warn("shutdown requested while a power transition is active",
			log.String("transition_id", tr.ID),
			log.String(log.PhaseKey, tr.Phase().String()))
		return nil
	}

	d.logger.Info("graceful shutdown initiated")

	// Shutdown control plane HTTP server
	if d.server != nil {
		d.server.SetKeepAlivesEnabled(false)
		shutdownCtx, cancel := context.WithTimeout(ctx, d.cfg.Daemon.ShutdownTimeout)
		defer cancel()

		if err := d.server.Shutdown(shutdownCtx); err != nil {
			d.logger.Error("HTTP server shutdown error",
				log.Error(err))
		}
	}

	// Stop supervised services
	d.supervisor.Stop()

	// Close the journal unless a transition already sealed it
	if !d.recorder.Sealed() {
		if err := d.journal.Close(); err != nil {
			d.logger.Error("failed to close transition journal",
				log.Error(err))
		}
	}

	// Clean up PID file
	if d.pidMgr != nil {
		if err := d.pidMgr.Remove(); err != nil {
			d.logger.Error("failed to remove PID file",
				log.Error(err),
				log.String("path", d.pidMgr.Path()))
		}
	}

	// Clean up Unix socket file if it exists
	if d.cfg.Daemon.Listen.SocketPath != "" && d.cfg.Daemon.Listen.TCPAddr == "" {
		if err := os.Remove(d.cfg.Daemon.Listen.SocketPath); err != nil && !os.IsNotExist(err) {
			d.logger.Error("failed to remove socket file",
				log.Error(err),
				log.String("path", d.cfg.Daemon.Listen.SocketPath))
		}
	}

	// Shutdown OpenTelemetry provider
	if d.provider != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := d.provider.Shutdown(shutdownCtx); err != nil {
			d.logger.Error("OpenTelemetry provider shutdown error",
				log.Error(err))
		}
	}

	// Drain the audit trail; Close is a no-op if a transition already
	// flushed it through the finalizer.
	if d.auditor != nil {
		if err := d.auditor.Close(); err != nil {
			d.logger.Error("audit trail close error",
				log.Error(err))
		}
	}

	d.started = false
	d.logger.Info("daemon stopped")
	return nil
}

// StartTransition validates the spawn attempt and hands the command to
// the power task. It implements api.TransitionStarter.
func (d *Daemon) StartTransition(cmd power.Command, requester, reason string) (*power.Transition, error) {
	d.spawnMu.Lock()
	defer d.spawnMu.Unlock()

	if tr := d.task.Active(); tr != nil {
		d.audit(audit.Event{
			Type:      audit.EventTransition,
			Command:   cmd.String(),
			Requester: requester,
			Decision:  audit.DecisionDenied,
			Reason:    "transition already active",
		})
		return nil, api.ErrTransitionActive
	}

	d.recorder.StageReason(reason)

	var opts []power.SpawnOption
	if requester != "" {
		opts = append(opts, power.WithRequester(requester))
	}
	tr := d.task.Spawn(cmd, opts...)
	d.audit(audit.Event{
		Type:         audit.EventTransition,
		Command:      cmd.String(),
		TransitionID: tr.ID,
		Requester:    requester,
		Decision:     audit.DecisionAllowed,
		Reason:       reason,
	})
	return tr, nil
}

// ActiveTransition returns the running transition, or nil.
func (d *Daemon) ActiveTransition() *power.Transition {
	return d.task.Active()
}

// Reload re-reads the service unit directory and reconciles running
// services, same as POST /v1/services/reload.
func (d *Daemon) Reload() error {
	d.audit(audit.Event{
		Type:     audit.EventServicesReload,
		Decision: audit.DecisionAllowed,
	})
	return d.supervisor.Reload()
}

// audit records one event on the trail; with the trail disabled the
// event is dropped.
func (d *Daemon) audit(event audit.Event) {
	if d.auditor != nil {
		d.auditor.Log(event)
	}
}

// Status assembles the daemon status report. It implements
// api.StatusProvider.
func (d *Daemon) Status() api.Status {
	st := api.Status{
		Name:               "powerd",
		Version:            d.opts.Version,
		StartedAt:          d.startedAt,
		UptimeSeconds:      int64(time.Since(d.startedAt).Seconds()),
		Mounts:             len(d.table.Mounts()),
		ShutdownAuthorized: d.registry.ShutdownAuthorized(),
	}

	for _, svc := range d.supervisor.Services() {
		st.Services.Total++
		if svc.State == "running" {
			st.Services.Running++
		}
	}

	if tr := d.task.Active(); tr != nil {
		view := api.TransitionView{
			ID:        tr.ID,
			Command:   tr.Command.String(),
			Requester: tr.Requester,
			Phase:     tr.Phase().String(),
			Outcome:   string(tr.Outcome()),
			StartedAt: tr.StartedAt,
		}
		st.Transition = &view
	}

	return st
}

// sealInterrupted stamps journal entries left pending by an earlier
// boot. A pending entry means the machine lost power or crashed before
// its transition reached the point of no return.
func (d *Daemon) sealInterrupted(ctx context.Context) {
	entries, err := d.journal.Unsealed(ctx)
	if err != nil {
		d.logger.Warn("failed to scan journal for interrupted transitions",
			log.Error(err))
		return
	}

	for _, e := range entries {
		if err := d.journal.Seal(ctx, e.ID, journal.OutcomeInterrupted, time.Now()); err != nil {
			d.logger.Warn("failed to seal interrupted transition",
				log.String("transition_id", e.ID),
				log.Error(err))
			continue
		}
		d.logger.Info("sealed interrupted transition from previous boot",
			log.String("transition_id", e.ID),
			log.String("command", e.Command))
	}
}

// checkPermissionsAtStartup checks critical paths for insecure permissions and logs warnings.
func (d *Daemon) checkPermissionsAtStartup() {
	pathsToCheck := []string{}

	// Check data directory (contains the journal and service units)
	if d.cfg.Daemon.DataDir != "" {
		pathsToCheck = append(pathsToCheck, d.cfg.Daemon.DataDir)
	}

	// Check PID file directory
	if d.cfg.Daemon.PIDFile != "" {
		pathsToCheck = append(pathsToCheck, filepath.Dir(d.cfg.Daemon.PIDFile))
	}

	// Check service unit directory (units name commands to execute)
	if d.cfg.Services.Dir != "" {
		pathsToCheck = append(pathsToCheck, d.cfg.Services.Dir)
	}

	// Check each path and log warnings
	for _, path := range pathsToCheck {
		warnings := security.CheckConfigPermissions(path)
		for _, warning := range warnings {
			d.logger.Warn("security warning",
				slog.String("warning", warning))
		}
	}
}

// consoleSwitch hands transition logging to the direct console sink.
// The power task invokes it right before durable log storage quiesces.
func consoleSwitch(*power.Transition) *slog.Logger {
	return log.NewConsole()
}

// tracingConfig maps the observability section onto the tracing
// provider's configuration.
func tracingConfig(cfg *config.Config, version string) tracing.Config {
	tc := tracing.DefaultConfig()
	tc.Enabled = cfg.Observability.Enabled
	tc.Prometheus = cfg.Observability.Prometheus
	if cfg.Observability.ServiceName != "" {
		tc.ServiceName = cfg.Observability.ServiceName
	}
	if version != "" {
		tc.ServiceVersion = version
	}

	tc.Exporters = make([]tracing.ExporterConfig, len(cfg.Observability.Exporters))
	for i, exp := range cfg.Observability.Exporters {
		tc.Exporters[i] = tracing.ExporterConfig{
			Type:     exp.Type,
			Endpoint: exp.Endpoint,
			Insecure: exp.Insecure,
			Headers:  exp.Headers,
			Timeout:  exp.Timeout,
			TLS: tracing.TLSOptions{
				CAFile:     exp.TLS.CACert,
				CertFile:   exp.TLS.Cert,
				KeyFile:    exp.TLS.Key,
				ServerName: exp.TLS.ServerName,
				SkipVerify: exp.TLS.SkipVerify,
			},
		}
	}
	return tc
}

// auditConfig maps the audit section onto the audit logger's
// configuration.
func auditConfig(cfg *config.Config) audit.Config {
	ac := audit.Config{
		Destinations: make([]audit.DestinationConfig, len(cfg.Audit.Destinations)),
	}
	for i, dest := range cfg.Audit.Destinations {
		ac.Destinations[i] = audit.DestinationConfig{
			Type:        dest.Type,
			Path:        dest.Path,
			Format:      dest.Format,
			Facility:    dest.Facility,
			URL:         dest.URL,
			Headers:     dest.Headers,
			MaxSize:     dest.MaxSize,
			MaxAge:      dest.MaxAge,
			RotateDaily: dest.RotateDaily,
			Compress:    dest.Compress,
		}
	}
	return ac
}

// resolveTokenSecret turns the configured token secret into key
// material. Literal values pass through; empty or reference values go
// through the secret backends.
func resolveTokenSecret(ctx context.Context, raw string) (string, error) {
	var key string
	switch {
	case raw == "":
		key = "jwt-secret"
	case strings.HasPrefix(raw, "secret://"):
		key = strings.TrimPrefix(raw, "secret://")
	case strings.HasPrefix(raw, "keyring://"):
		// keyring://<service>/<key>: the service segment is fixed at
		// powerd, only the key matters here.
		key = strings.TrimPrefix(raw, "keyring://")
		if i := strings.IndexByte(key, '/'); i >= 0 {
			key = key[i+1:]
		}
	default:
		return raw, nil
	}

	file, err := secrets.NewFileBackend("", "")
	if err != nil {
		return "", err
	}
	resolver := secrets.NewResolver(secrets.NewEnvBackend(), secrets.NewKeychainBackend(), file)
	return resolver.Get(ctx, key)
}
