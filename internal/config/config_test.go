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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Log defaults
	if cfg.Log.Level != "info" {
		t.Errorf("expected log level 'info', got %q", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("expected log format 'json', got %q", cfg.Log.Format)
	}
	if cfg.Log.AddSource {
		t.Errorf("expected log add_source false, got true")
	}

	// Daemon defaults
	if cfg.Daemon.SocketPath == "" {
		t.Error("expected non-empty socket path")
	}
	if cfg.Daemon.Listen.SocketPath != cfg.Daemon.SocketPath {
		t.Errorf("expected listen socket %q to match socket path %q", cfg.Daemon.Listen.SocketPath, cfg.Daemon.SocketPath)
	}
	if cfg.Daemon.ShutdownTimeout != 5*time.Second {
		t.Errorf("expected shutdown timeout 5s, got %v", cfg.Daemon.ShutdownTimeout)
	}
	if cfg.Daemon.Auth.Enabled {
		t.Error("expected auth disabled by default")
	}
	if cfg.Daemon.Auth.TokenTTL != 24*time.Hour {
		t.Errorf("expected token TTL 24h, got %v", cfg.Daemon.Auth.TokenTTL)
	}

	// Power defaults
	if cfg.Power.ACPI != "auto" {
		t.Errorf("expected acpi 'auto', got %q", cfg.Power.ACPI)
	}
	if cfg.Power.StatusInterval != 2*time.Second {
		t.Errorf("expected status interval 2s, got %v", cfg.Power.StatusInterval)
	}
	if cfg.Power.VerboseWait {
		t.Error("expected verbose_wait false, got true")
	}

	// Services defaults
	if !strings.HasSuffix(cfg.Services.Dir, "services") {
		t.Errorf("expected services dir under data dir, got %q", cfg.Services.Dir)
	}
	if len(cfg.Services.Patterns) != 2 {
		t.Errorf("expected 2 default patterns, got %v", cfg.Services.Patterns)
	}
	if !cfg.Services.Watch {
		t.Error("expected watch enabled by default")
	}
	if cfg.Services.StopGrace != 10*time.Second {
		t.Errorf("expected stop grace 10s, got %v", cfg.Services.StopGrace)
	}

	// Journal defaults
	if filepath.Base(cfg.Journal.Path) != "journal.db" {
		t.Errorf("expected journal.db, got %q", cfg.Journal.Path)
	}
	if !cfg.Journal.WAL {
		t.Error("expected WAL enabled by default")
	}

	// Observability defaults
	if cfg.Observability.Enabled {
		t.Error("expected observability disabled by default")
	}
	if cfg.Observability.ServiceName != "powerd" {
		t.Errorf("expected service name 'powerd', got %q", cfg.Observability.ServiceName)
	}
	if !cfg.Observability.Prometheus {
		t.Error("expected prometheus enabled by default")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
		errText string
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "invalid log level",
			modify: func(c *Config) {
				c.Log.Level = "verbose"
			},
			wantErr: true,
			errText: "log.level must be one of",
		},
		{
			name: "invalid log format",
			modify: func(c *Config) {
				c.Log.Format = "xml"
			},
			wantErr: true,
			errText: "log.format must be one of",
		},
		{
			name: "invalid acpi setting",
			modify: func(c *Config) {
				c.Power.ACPI = "maybe"
			},
			wantErr: true,
			errText: "power.acpi must be one of",
		},
		{
			name: "negative status interval",
			modify: func(c *Config) {
				c.Power.StatusInterval = -time.Second
			},
			wantErr: true,
			errText: "power.status_interval must be positive",
		},
		{
			name: "relative managed mount",
			modify: func(c *Config) {
				c.Mounts.Managed = []string{"var/data"}
			},
			wantErr: true,
			errText: "mounts.managed entries must be absolute",
		},
		{
			name: "absolute managed mounts",
			modify: func(c *Config) {
				c.Mounts.Managed = []string{"/var", "/var/data"}
			},
			wantErr: false,
		},
		{
			name: "tls cert without key",
			modify: func(c *Config) {
				c.Daemon.Listen.TLSCert = "/etc/powerd/cert.pem"
			},
			wantErr: true,
			errText: "must be set together",
		},
		{
			name: "remote listener without tls",
			modify: func(c *Config) {
				c.Daemon.Listen.TCPAddr = "0.0.0.0:7433"
				c.Daemon.Listen.AllowRemote = true
				c.Daemon.Auth.Enabled = true
			},
			wantErr: true,
			errText: "allow_remote requires TLS",
		},
		{
			name: "remote listener without auth",
			modify: func(c *Config) {
				c.Daemon.Listen.TCPAddr = "0.0.0.0:7433"
				c.Daemon.Listen.AllowRemote = true
				c.Daemon.Listen.TLSCert = "/etc/powerd/cert.pem"
				c.Daemon.Listen.TLSKey = "/etc/powerd/key.pem"
			},
			wantErr: true,
			errText: "allow_remote requires daemon.auth.enabled",
		},
		{
			name: "local tcp listener without tls",
			modify: func(c *Config) {
				c.Daemon.Listen.TCPAddr = "127.0.0.1:7433"
			},
			wantErr: false,
		},
		{
			name: "zero stop grace",
			modify: func(c *Config) {
				c.Services.StopGrace = 0
			},
			wantErr: true,
			errText: "services.stop_grace must be positive",
		},
		{
			name: "unknown exporter type",
			modify: func(c *Config) {
				c.Observability.Exporters = []ExporterConfig{{Type: "jaeger"}}
			},
			wantErr: true,
			errText: "exporters[0].type must be one of",
		},
		{
			name: "otlp exporter without endpoint",
			modify: func(c *Config) {
				c.Observability.Exporters = []ExporterConfig{{Type: "otlp"}}
			},
			wantErr: true,
			errText: "endpoint is required",
		},
		{
			name: "console exporter without endpoint",
			modify: func(c *Config) {
				c.Observability.Exporters = []ExporterConfig{{Type: "console"}}
			},
			wantErr: false,
		},
		{
			name: "unknown audit destination type",
			modify: func(c *Config) {
				c.Audit.Destinations = []AuditDestinationConfig{{Type: "journald"}}
			},
			wantErr: true,
			errText: "audit.destinations[0].type must be one of",
		},
		{
			name: "file audit destination without path",
			modify: func(c *Config) {
				c.Audit.Destinations = []AuditDestinationConfig{{Type: "rotating-file"}}
			},
			wantErr: true,
			errText: "path is required for type",
		},
		{
			name: "webhook audit destination without url",
			modify: func(c *Config) {
				c.Audit.Destinations = []AuditDestinationConfig{{Type: "webhook"}}
			},
			wantErr: true,
			errText: "url is required for type webhook",
		},
		{
			name: "invalid audit format",
			modify: func(c *Config) {
				c.Audit.Destinations = []AuditDestinationConfig{{
					Type:   "file",
					Path:   "/var/log/powerd/audit.log",
					Format: "csv",
				}}
			},
			wantErr: true,
			errText: "format must be json or text",
		},
		{
			name: "syslog audit destination",
			modify: func(c *Config) {
				c.Audit.Destinations = []AuditDestinationConfig{{Type: "syslog", Facility: "auth"}}
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected validation error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errText) {
					t.Errorf("expected error containing %q, got %q", tt.errText, err.Error())
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestAuditDefaultDestination(t *testing.T) {
	cfg := Default()
	cfg.Audit.Enabled = true
	cfg.applyDefaults()

	if len(cfg.Audit.Destinations) != 1 {
		t.Fatalf("expected 1 default destination, got %d", len(cfg.Audit.Destinations))
	}
	dest := cfg.Audit.Destinations[0]
	if dest.Type != "rotating-file" {
		t.Errorf("expected rotating-file destination, got %q", dest.Type)
	}
	if want := filepath.Join(cfg.Daemon.DataDir, "audit.log"); dest.Path != want {
		t.Errorf("expected audit log at %q, got %q", want, dest.Path)
	}

	// Explicit destinations are left alone.
	cfg = Default()
	cfg.Audit.Enabled = true
	cfg.Audit.Destinations = []AuditDestinationConfig{{Type: "syslog"}}
	cfg.applyDefaults()
	if len(cfg.Audit.Destinations) != 1 || cfg.Audit.Destinations[0].Type != "syslog" {
		t.Errorf("expected explicit syslog destination preserved, got %+v", cfg.Audit.Destinations)
	}

	// Disabled audit gets no destinations.
	cfg = Default()
	cfg.applyDefaults()
	if len(cfg.Audit.Destinations) != 0 {
		t.Errorf("expected no destinations when disabled, got %+v", cfg.Audit.Destinations)
	}
}

func TestACPIOverride(t *testing.T) {
	tests := []struct {
		acpi string
		want *bool
	}{
		{"auto", nil},
		{"on", boolPtr(true)},
		{"off", boolPtr(false)},
	}

	for _, tt := range tests {
		t.Run(tt.acpi, func(t *testing.T) {
			pc := PowerConfig{ACPI: tt.acpi}
			got := pc.ACPIOverride()
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("expected nil override, got %v", *got)
			case tt.want != nil && got == nil:
				t.Errorf("expected override %v, got nil", *tt.want)
			case tt.want != nil && *got != *tt.want:
				t.Errorf("expected override %v, got %v", *tt.want, *got)
			}
		})
	}
}

func boolPtr(b bool) *bool { return &b }

func TestLoadFromEnv(t *testing.T) {
	// Save and restore environment
	oldEnv := saveEnv()
	defer restoreEnv(oldEnv)

	// Clear all config-related env vars
	clearConfigEnv()

	envVars := map[string]string{
		"POWERD_LOG_LEVEL":       "debug",
		"POWERD_LOG_FORMAT":      "text",
		"POWERD_LOG_SOURCE":      "1",
		"POWERD_SOCKET":          "/tmp/test-powerd.sock",
		"POWERD_DATA_DIR":        "/tmp/test-powerd-data",
		"POWERD_ACPI":            "off",
		"POWERD_STATUS_INTERVAL": "5s",
		"POWERD_VERBOSE_WAIT":    "true",
	}

	for k, v := range envVars {
		os.Setenv(k, v)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("expected log level 'debug', got %q", cfg.Log.Level)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("expected log format 'text', got %q", cfg.Log.Format)
	}
	if !cfg.Log.AddSource {
		t.Errorf("expected log add_source true, got false")
	}
	if cfg.Daemon.SocketPath != "/tmp/test-powerd.sock" {
		t.Errorf("expected socket path from env, got %q", cfg.Daemon.SocketPath)
	}
	if cfg.Daemon.DataDir != "/tmp/test-powerd-data" {
		t.Errorf("expected data dir from env, got %q", cfg.Daemon.DataDir)
	}
	if cfg.Power.ACPI != "off" {
		t.Errorf("expected acpi 'off', got %q", cfg.Power.ACPI)
	}
	if cfg.Power.StatusInterval != 5*time.Second {
		t.Errorf("expected status interval 5s, got %v", cfg.Power.StatusInterval)
	}
	if !cfg.Power.VerboseWait {
		t.Errorf("expected verbose_wait true, got false")
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
log:
  level: warn
  format: text

daemon:
  listen:
    tcp_addr: 127.0.0.1:7433
  shutdown_timeout: 15s

power:
  acpi: "off"
  status_interval: 5s
  verbose_wait: true

mounts:
  managed:
    - /var
    - /var/data

services:
  watch: false
  stop_grace: 30s

journal:
  path: /tmp/test-journal.db
  wal: false
`

	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	// Save and restore environment
	oldEnv := saveEnv()
	defer restoreEnv(oldEnv)
	clearConfigEnv()

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("expected log level 'warn', got %q", cfg.Log.Level)
	}
	if cfg.Daemon.Listen.TCPAddr != "127.0.0.1:7433" {
		t.Errorf("expected tcp addr from file, got %q", cfg.Daemon.Listen.TCPAddr)
	}
	if cfg.Daemon.ShutdownTimeout != 15*time.Second {
		t.Errorf("expected shutdown timeout 15s, got %v", cfg.Daemon.ShutdownTimeout)
	}
	if cfg.Power.ACPI != "off" {
		t.Errorf("expected acpi 'off', got %q", cfg.Power.ACPI)
	}
	if !cfg.Power.VerboseWait {
		t.Errorf("expected verbose_wait true, got false")
	}
	if len(cfg.Mounts.Managed) != 2 || cfg.Mounts.Managed[1] != "/var/data" {
		t.Errorf("expected managed mounts from file, got %v", cfg.Mounts.Managed)
	}
	if cfg.Services.Watch {
		t.Errorf("expected watch false from file, got true")
	}
	if cfg.Services.StopGrace != 30*time.Second {
		t.Errorf("expected stop grace 30s, got %v", cfg.Services.StopGrace)
	}
	if cfg.Journal.Path != "/tmp/test-journal.db" {
		t.Errorf("expected journal path from file, got %q", cfg.Journal.Path)
	}
	if cfg.Journal.WAL {
		t.Errorf("expected WAL false from file, got true")
	}

	// Defaults still applied to fields the file omits
	if len(cfg.Services.Patterns) != 2 {
		t.Errorf("expected default patterns, got %v", cfg.Services.Patterns)
	}
	if cfg.Power.StatusInterval != 5*time.Second {
		t.Errorf("expected status interval 5s, got %v", cfg.Power.StatusInterval)
	}
}

func TestLoadFromFileWithEnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
log:
  level: info
power:
  acpi: "on"
`

	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	// Save and restore environment
	oldEnv := saveEnv()
	defer restoreEnv(oldEnv)
	clearConfigEnv()

	// Set env var to override file value
	os.Setenv("POWERD_LOG_LEVEL", "debug")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Verify env overrides file
	if cfg.Log.Level != "debug" {
		t.Errorf("expected log level 'debug' from env, got %q", cfg.Log.Level)
	}
	// ACPI should use file value (no env var override set)
	if cfg.Power.ACPI != "on" {
		t.Errorf("expected acpi 'on' from file, got %q", cfg.Power.ACPI)
	}
}

func TestLoadInvalidFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Errorf("expected error for nonexistent file, got nil")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bad.yaml")

	if err := os.WriteFile(configPath, []byte("invalid: yaml: content:"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Errorf("expected error for invalid YAML, got nil")
	}
}

func TestLoadValidationFailure(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid-config.yaml")

	// Config with invalid values
	yamlContent := `
power:
  acpi: sometimes
`

	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	// Save and restore environment
	oldEnv := saveEnv()
	defer restoreEnv(oldEnv)
	clearConfigEnv()

	_, err := Load(configPath)
	if err == nil {
		t.Errorf("expected validation error, got nil")
	}
	if !strings.Contains(err.Error(), "validation failed") {
		t.Errorf("expected validation error message, got %q", err.Error())
	}
}

// TestMinimalConfig verifies that a config with a single section loads
// with defaults filled in for everything else.
func TestMinimalConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
mounts:
  managed:
    - /var/data
`

	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	// Save and restore environment
	oldEnv := saveEnv()
	defer restoreEnv(oldEnv)
	clearConfigEnv()

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load minimal config: %v", err)
	}

	if len(cfg.Mounts.Managed) != 1 || cfg.Mounts.Managed[0] != "/var/data" {
		t.Errorf("expected managed mount preserved, got %v", cfg.Mounts.Managed)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected log level 'info', got %q", cfg.Log.Level)
	}
	if cfg.Power.StatusInterval != 2*time.Second {
		t.Errorf("expected status interval 2s, got %v", cfg.Power.StatusInterval)
	}
	if cfg.Journal.Path == "" {
		t.Error("expected default journal path")
	}
}

// Helper functions for environment management
func saveEnv() map[string]string {
	env := make(map[string]string)
	for _, e := range os.Environ() {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) == 2 {
			env[parts[0]] = parts[1]
		}
	}
	return env
}

func restoreEnv(env map[string]string) {
	os.Clearenv()
	for k, v := range env {
		os.Setenv(k, v)
	}
}

func clearConfigEnv() {
	envVars := []string{
		"POWERD_LOG_LEVEL", "POWERD_LOG_FORMAT", "POWERD_LOG_SOURCE",
		"POWERD_SOCKET", "POWERD_LISTEN_SOCKET", "POWERD_TCP_ADDR",
		"POWERD_PID_FILE", "POWERD_DATA_DIR", "POWERD_TOKEN_SECRET",
		"POWERD_SHUTDOWN_TIMEOUT", "POWERD_ACPI", "POWERD_STATUS_INTERVAL",
		"POWERD_VERBOSE_WAIT", "POWERD_SERVICES_DIR",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}
