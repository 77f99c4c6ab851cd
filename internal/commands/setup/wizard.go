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

package setup

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/huh"

	"github.com/tombee/powerd/internal/config"
)

// wizardValues holds the form bindings. Durations are edited as strings and
// parsed back when the wizard applies them to the configuration.
type wizardValues struct {
	socketPath  string
	tcpAddr     string
	allowRemote bool
	tlsCert     string
	tlsKey      string

	authEnabled bool
	tokenSecret string
	tokenTTL    string

	journalPath string
	journalWAL  bool

	acpi           string
	statusInterval string
	verboseWait    bool

	servicesDir   string
	servicesWatch bool
	stopGrace     string

	confirmed bool
}

// valuesFromConfig seeds the form bindings from an existing configuration.
func valuesFromConfig(cfg *config.Config) *wizardValues {
	return &wizardValues{
		socketPath:     cfg.Daemon.Listen.SocketPath,
		tcpAddr:        cfg.Daemon.Listen.TCPAddr,
		allowRemote:    cfg.Daemon.Listen.AllowRemote,
		tlsCert:        cfg.Daemon.Listen.TLSCert,
		tlsKey:         cfg.Daemon.Listen.TLSKey,
		authEnabled:    cfg.Daemon.Auth.Enabled,
		tokenSecret:    cfg.Daemon.Auth.TokenSecret,
		tokenTTL:       cfg.Daemon.Auth.TokenTTL.String(),
		journalPath:    cfg.Journal.Path,
		journalWAL:     cfg.Journal.WAL,
		acpi:           cfg.Power.ACPI,
		statusInterval: cfg.Power.StatusInterval.String(),
		verboseWait:    cfg.Power.VerboseWait,
		servicesDir:    cfg.Services.Dir,
		servicesWatch:  cfg.Services.Watch,
		stopGrace:      cfg.Services.StopGrace.String(),
	}
}

// apply writes the edited values back onto the configuration.
// Field-level validation has already run; parse errors here mean a field
// escaped its validator and are reported as plain errors.
func (v *wizardValues) apply(cfg *config.Config) error {
	ttl, err := time.ParseDuration(v.tokenTTL)
	if err != nil {
		return fmt.Errorf("invalid token TTL: %w", err)
	}
	interval, err := time.ParseDuration(v.statusInterval)
	if err != nil {
		return fmt.Errorf("invalid status interval: %w", err)
	}
	grace, err := time.ParseDuration(v.stopGrace)
	if err != nil {
		return fmt.Errorf("invalid stop grace: %w", err)
	}

	cfg.Daemon.Listen.SocketPath = v.socketPath
	cfg.Daemon.SocketPath = v.socketPath
	cfg.Daemon.Listen.TCPAddr = v.tcpAddr
	cfg.Daemon.Listen.AllowRemote = v.tcpAddr != "" && v.allowRemote
	cfg.Daemon.Listen.TLSCert = v.tlsCert
	cfg.Daemon.Listen.TLSKey = v.tlsKey
	cfg.Daemon.Auth.Enabled = v.authEnabled
	cfg.Daemon.Auth.TokenSecret = v.tokenSecret
	cfg.Daemon.Auth.TokenTTL = ttl
	cfg.Journal.Path = v.journalPath
	cfg.Journal.WAL = v.journalWAL
	cfg.Power.ACPI = v.acpi
	cfg.Power.StatusInterval = interval
	cfg.Power.VerboseWait = v.verboseWait
	cfg.Services.Dir = v.servicesDir
	cfg.Services.Watch = v.servicesWatch
	cfg.Services.StopGrace = grace

	return nil
}

// crossCheck validates constraints that span multiple fields. It runs on the
// final confirmation so the user can navigate back and fix the inputs.
func (v *wizardValues) crossCheck() error {
	if (v.tlsCert == "") != (v.tlsKey == "") {
		return fmt.Errorf("TLS certificate and key must be set together")
	}
	if v.tcpAddr != "" && v.allowRemote {
		if v.tlsCert == "" {
			return fmt.Errorf("remote access requires TLS (set certificate and key)")
		}
		if !v.authEnabled {
			return fmt.Errorf("remote access requires authentication")
		}
	}
	return nil
}

// summary renders the review screen contents.
func (v *wizardValues) summary() string {
	var lines []string

	lines = append(lines, fmt.Sprintf("%-16s %s", "Socket:", v.socketPath))

	tcp := "disabled"
	if v.tcpAddr != "" {
		tcp = v.tcpAddr
		if v.allowRemote {
			tcp += " (remote allowed)"
		} else {
			tcp += " (loopback only)"
		}
	}
	lines = append(lines, fmt.Sprintf("%-16s %s", "TCP listener:", tcp))

	tls := "none"
	if v.tlsCert != "" {
		tls = v.tlsCert
	}
	lines = append(lines, fmt.Sprintf("%-16s %s", "TLS:", tls))

	auth := "disabled"
	if v.authEnabled {
		auth = fmt.Sprintf("enabled (secret %s, TTL %s)", MaskSecret(v.tokenSecret), v.tokenTTL)
	}
	lines = append(lines, fmt.Sprintf("%-16s %s", "Auth:", auth))

	wal := "WAL off"
	if v.journalWAL {
		wal = "WAL on"
	}
	lines = append(lines, fmt.Sprintf("%-16s %s (%s)", "Journal:", v.journalPath, wal))
	lines = append(lines, fmt.Sprintf("%-16s %s", "ACPI:", v.acpi))
	lines = append(lines, fmt.Sprintf("%-16s every %s", "Drain status:", v.statusInterval))

	watch := "watch off"
	if v.servicesWatch {
		watch = "watching"
	}
	lines = append(lines, fmt.Sprintf("%-16s %s (%s, stop grace %s)", "Services:", v.servicesDir, watch, v.stopGrace))

	return strings.Join(lines, "\n")
}

// buildForm assembles the wizard form. The TLS and auth group only appears
// when a TCP listener is configured; the Unix socket is always trusted.
func (v *wizardValues) buildForm() *huh.Form {
	listeners := huh.NewGroup(
		huh.NewNote().
			Title("powerd setup").
			Description("Configure how the daemon listens and how transitions behave.\nExisting values are pre-filled; leave a field unchanged to keep it."),
		huh.NewInput().
			Title("Unix socket path").
			Description("powerctl connects here. The socket is always trusted.").
			Value(&v.socketPath).
			Validate(validateAbsolutePath),
		huh.NewInput().
			Title("TCP listen address").
			Description("Optional, e.g. 127.0.0.1:7433. Leave empty to disable TCP.").
			Placeholder("127.0.0.1:7433").
			Value(&v.tcpAddr).
			Validate(validateTCPAddr),
	)

	remote := huh.NewGroup(
		huh.NewConfirm().
			Title("Allow remote connections?").
			Description("Binding beyond loopback requires TLS and authentication.").
			Value(&v.allowRemote),
		huh.NewInput().
			Title("TLS certificate").
			Description("PEM file presented to TCP clients.").
			Placeholder("/etc/powerd/tls/cert.pem").
			Value(&v.tlsCert).
			Validate(validateOptionalPath),
		huh.NewInput().
			Title("TLS private key").
			Placeholder("/etc/powerd/tls/key.pem").
			Value(&v.tlsKey).
			Validate(validateOptionalPath),
		huh.NewConfirm().
			Title("Require bearer tokens on TCP requests?").
			Value(&v.authEnabled),
		huh.NewInput().
			Title("Token signing secret").
			Description("A literal secret, or a reference like keyring://powerd/api-token.").
			EchoMode(huh.EchoModePassword).
			Value(&v.tokenSecret),
		huh.NewInput().
			Title("Token lifetime").
			Value(&v.tokenTTL).
			Validate(validateDuration),
	).WithHideFunc(func() bool {
		return v.tcpAddr == ""
	})

	behavior := huh.NewGroup(
		huh.NewInput().
			Title("Journal database path").
			Description("SQLite file recording every transition. Sealed before filesystems unmount.").
			Value(&v.journalPath).
			Validate(validateAbsolutePath),
		huh.NewConfirm().
			Title("Enable write-ahead logging?").
			Value(&v.journalWAL),
		huh.NewSelect[string]().
			Title("ACPI reboot path").
			Description("auto probes the firmware at startup; on and off override the probe.").
			Options(
				huh.NewOption("auto (probe firmware)", "auto"),
				huh.NewOption("on (force ACPI)", "on"),
				huh.NewOption("off (plain reboot)", "off"),
			).
			Value(&v.acpi),
		huh.NewInput().
			Title("Drain diagnostic interval").
			Description("How often waiting transitions log remaining process counts.").
			Value(&v.statusInterval).
			Validate(validateDuration),
		huh.NewConfirm().
			Title("List every remaining process in drain diagnostics?").
			Value(&v.verboseWait),
	)

	services := huh.NewGroup(
		huh.NewInput().
			Title("Service unit directory").
			Description("Directory scanned for yaml unit files.").
			Value(&v.servicesDir).
			Validate(validateAbsolutePath),
		huh.NewConfirm().
			Title("Reload units when files change?").
			Value(&v.servicesWatch),
		huh.NewInput().
			Title("Stop grace period").
			Description("Time between SIGTERM and SIGKILL when stopping a service.").
			Value(&v.stopGrace).
			Validate(validateDuration),
	)

	review := huh.NewGroup(
		huh.NewNote().
			Title("Review").
			DescriptionFunc(v.summary, v),
		huh.NewConfirm().
			Title("Write this configuration?").
			Affirmative("Save").
			Negative("Discard").
			Value(&v.confirmed).
			Validate(func(ok bool) error {
				if !ok {
					return nil
				}
				return v.crossCheck()
			}),
	)

	return huh.NewForm(listeners, remote, behavior, services, review)
}

// RunWizard walks the user through the configuration and applies the result
// to cfg. It returns false when the user aborted or discarded the changes.
func RunWizard(ctx context.Context, cfg *config.Config, accessibleMode bool) (bool, error) {
	v := valuesFromConfig(cfg)

	form := ApplyTheme(v.buildForm()).WithAccessible(accessibleMode)

	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, fmt.Errorf("setup wizard failed: %w", err)
	}

	if !v.confirmed {
		return false, nil
	}

	if err := v.apply(cfg); err != nil {
		return false, err
	}

	return true, nil
}

// validateAbsolutePath requires a non-empty absolute path.
func validateAbsolutePath(value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("a path is required")
	}
	if !filepath.IsAbs(value) {
		return fmt.Errorf("must be an absolute path")
	}
	return nil
}

// validateOptionalPath requires an absolute path when a value is given.
func validateOptionalPath(value string) error {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return validateAbsolutePath(value)
}

// validateTCPAddr accepts an empty value or a host:port address.
func validateTCPAddr(value string) error {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	host, port, err := net.SplitHostPort(value)
	if err != nil {
		return fmt.Errorf("must be host:port, e.g. 127.0.0.1:7433")
	}
	if host == "" || port == "" {
		return fmt.Errorf("must include both host and port")
	}
	return nil
}

// validateDuration requires a positive Go duration.
func validateDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("must be a duration like 2s or 10m")
	}
	if d <= 0 {
		return fmt.Errorf("must be positive")
	}
	return nil
}
