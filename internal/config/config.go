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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	powerderrors "github.com/tombee/powerd/pkg/errors"
)

var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// Config represents the complete powerd configuration.
type Config struct {
	Log           LogConfig           `yaml:"log"`
	Daemon        DaemonConfig        `yaml:"daemon"`
	Power         PowerConfig         `yaml:"power"`
	Mounts        MountsConfig        `yaml:"mounts"`
	Services      ServicesConfig      `yaml:"services"`
	Journal       JournalConfig       `yaml:"journal"`
	Audit         AuditConfig         `yaml:"audit,omitempty"`
	Observability ObservabilityConfig `yaml:"observability,omitempty"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, or error.
	// Environment: POWERD_LOG_LEVEL
	// Default: info
	Level string `yaml:"level"`

	// Format is the log output format: json or text.
	// Environment: POWERD_LOG_FORMAT
	// Default: json
	Format string `yaml:"format"`

	// AddSource includes file:line in log records.
	// Environment: POWERD_LOG_SOURCE
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// DaemonConfig configures daemon-related settings.
// This struct includes both CLI connection settings and daemon server settings.
type DaemonConfig struct {
	// SocketPath is the Unix socket path the CLI connects to.
	// Environment: POWERD_SOCKET
	// Default: /run/powerd/powerd.sock (or XDG_RUNTIME_DIR/powerd/powerd.sock)
	SocketPath string `yaml:"socket_path,omitempty"`

	// Listen configures the daemon's listeners (daemon-specific).
	Listen ListenConfig `yaml:"listen,omitempty"`

	// Auth configures API authentication for the TCP listener.
	Auth AuthConfig `yaml:"auth,omitempty"`

	// PIDFile is the path to the PID file. Empty means no PID file.
	PIDFile string `yaml:"pid_file,omitempty"`

	// DataDir is the directory for daemon state (journal, tokens).
	// Environment: POWERD_DATA_DIR
	// Default: /var/lib/powerd (or XDG_DATA_HOME/powerd)
	DataDir string `yaml:"data_dir,omitempty"`

	// ShutdownTimeout is the maximum duration the API server waits for
	// in-flight requests to finish once a transition reaches dispatch.
	// Default: 5s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`
}

// ListenConfig configures the daemon's listeners.
type ListenConfig struct {
	// SocketPath is the Unix socket to listen on.
	// Environment: POWERD_LISTEN_SOCKET
	// Default: same as daemon.socket_path
	SocketPath string `yaml:"socket_path,omitempty"`

	// TCPAddr is an optional TCP address to listen on (e.g. "127.0.0.1:7433").
	// Empty disables the TCP listener.
	// Environment: POWERD_TCP_ADDR
	TCPAddr string `yaml:"tcp_addr,omitempty"`

	// AllowRemote permits binding the TCP listener to a non-loopback address.
	// Requires TLS and auth to be configured.
	// Default: false
	AllowRemote bool `yaml:"allow_remote"`

	// TLSCert is the path to the TLS certificate for the TCP listener.
	TLSCert string `yaml:"tls_cert,omitempty"`

	// TLSKey is the path to the TLS private key for the TCP listener.
	TLSKey string `yaml:"tls_key,omitempty"`
}

// AuthConfig configures API authentication.
// The Unix socket is always trusted; auth applies to the TCP listener.
type AuthConfig struct {
	// Enabled requires a bearer token on TCP requests.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// TokenSecret signs issued tokens. Supports secret references
	// (e.g. "keyring://powerd/api-token").
	// Environment: POWERD_TOKEN_SECRET
	TokenSecret string `yaml:"token_secret,omitempty"`

	// TokenTTL is the lifetime of issued tokens.
	// Default: 24h
	TokenTTL time.Duration `yaml:"token_ttl,omitempty"`
}

// PowerConfig configures power transition behavior.
type PowerConfig struct {
	// ACPI controls the ACPI reboot path: auto probes the firmware,
	// on forces it, off disables it.
	// Environment: POWERD_ACPI
	// Default: auto
	ACPI string `yaml:"acpi,omitempty"`

	// StatusInterval is how often termination progress diagnostics are
	// logged while waiting for processes to drain.
	// Default: 2s
	StatusInterval time.Duration `yaml:"status_interval,omitempty"`

	// VerboseWait lists every remaining process in each diagnostic,
	// not just the count.
	// Default: false
	VerboseWait bool `yaml:"verbose_wait"`
}

// MountsConfig configures managed filesystems.
type MountsConfig struct {
	// Managed lists mount points to attach at startup, in mount order.
	// Each entry must be an absolute path to an active mount point.
	Managed []string `yaml:"managed,omitempty"`
}

// ServicesConfig configures supervised services.
type ServicesConfig struct {
	// Dir is the directory searched for service unit files.
	// Environment: POWERD_SERVICES_DIR
	// Default: <data_dir>/services
	Dir string `yaml:"dir,omitempty"`

	// Patterns are glob patterns (doublestar syntax) matched against
	// paths under Dir when discovering unit files.
	// Default: ["**/*.yaml", "**/*.yml"]
	Patterns []string `yaml:"patterns,omitempty"`

	// Watch reloads unit files when they change on disk.
	// Default: true
	Watch bool `yaml:"watch"`

	// StopGrace is how long a service gets between SIGTERM and SIGKILL.
	// Default: 10s
	StopGrace time.Duration `yaml:"stop_grace,omitempty"`
}

// JournalConfig configures the transition journal.
type JournalConfig struct {
	// Path is the SQLite database path.
	// Default: <data_dir>/journal.db
	Path string `yaml:"path,omitempty"`

	// WAL enables write-ahead logging. The journal is sealed and closed
	// before filesystems quiesce, so WAL is safe to leave on.
	// Default: true
	WAL bool `yaml:"wal"`
}

// AuditConfig configures the privileged-operation audit trail.
type AuditConfig struct {
	// Enabled records transition requests and service reloads to the
	// configured destinations.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Destinations lists audit sinks. When enabled with no destinations
	// configured, a rotating file at <data_dir>/audit.log is used.
	Destinations []AuditDestinationConfig `yaml:"destinations,omitempty"`
}

// AuditDestinationConfig defines one audit sink.
type AuditDestinationConfig struct {
	// Type is the destination type: "file", "rotating-file", "syslog",
	// or "webhook".
	Type string `yaml:"type"`

	// Path is the log file path for file destinations.
	Path string `yaml:"path,omitempty"`

	// Format is the line format for file destinations: json or text.
	// Default: json
	Format string `yaml:"format,omitempty"`

	// Facility is the syslog facility.
	// Default: daemon
	Facility string `yaml:"facility,omitempty"`

	// URL is the endpoint for webhook destinations.
	URL string `yaml:"url,omitempty"`

	// Headers are sent with each webhook request.
	Headers map[string]string `yaml:"headers,omitempty"`

	// MaxSize rotates a rotating-file destination past this many bytes.
	MaxSize int64 `yaml:"max_size,omitempty"`

	// MaxAge discards rotated files older than this.
	MaxAge time.Duration `yaml:"max_age,omitempty"`

	// RotateDaily also rotates at calendar day boundaries.
	RotateDaily bool `yaml:"rotate_daily"`

	// Compress gzips rotated files.
	Compress bool `yaml:"compress"`
}

// ObservabilityConfig configures tracing and metrics export.
type ObservabilityConfig struct {
	// Enabled activates the OpenTelemetry provider.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// ServiceName identifies this daemon in traces.
	// Default: powerd
	ServiceName string `yaml:"service_name,omitempty"`

	// Exporters configures trace export destinations.
	Exporters []ExporterConfig `yaml:"exporters,omitempty"`

	// Prometheus exposes collected metrics on the API's /metrics endpoint.
	// Default: true
	Prometheus bool `yaml:"prometheus"`
}

// ExporterConfig defines a trace export destination.
type ExporterConfig struct {
	// Type is the exporter type: "otlp", "otlp-http", or "console".
	Type string `yaml:"type"`

	// Endpoint is the OTLP receiver address.
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure disables TLS for OTLP connections.
	Insecure bool `yaml:"insecure"`

	// TLS tunes certificate handling for OTLP connections.
	TLS ExporterTLSConfig `yaml:"tls,omitempty"`

	// Headers are additional headers for authentication.
	Headers map[string]string `yaml:"headers,omitempty"`

	// Timeout is the export timeout.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// ExporterTLSConfig configures certificates for an OTLP exporter.
type ExporterTLSConfig struct {
	// CACert is a PEM file with the CA that signed the receiver's
	// certificate. Empty means the system pool.
	CACert string `yaml:"ca_cert,omitempty"`

	// Cert and Key are a client certificate pair for mutual TLS.
	Cert string `yaml:"cert,omitempty"`
	Key  string `yaml:"key,omitempty"`

	// ServerName overrides the hostname verified against the
	// receiver's certificate.
	ServerName string `yaml:"server_name,omitempty"`

	// SkipVerify disables certificate verification entirely.
	SkipVerify bool `yaml:"skip_verify"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	dataDir := defaultDataDir()
	socketPath := defaultSocketPath()

	return &Config{
		Log: LogConfig{
			Level:     "info",
			Format:    "json",
			AddSource: false,
		},
		Daemon: DaemonConfig{
			SocketPath: socketPath,
			Listen: ListenConfig{
				SocketPath: socketPath,
			},
			Auth: AuthConfig{
				Enabled:  false,
				TokenTTL: 24 * time.Hour,
			},
			DataDir:         dataDir,
			ShutdownTimeout: 5 * time.Second,
		},
		Power: PowerConfig{
			ACPI:           "auto",
			StatusInterval: 2 * time.Second,
			VerboseWait:    false,
		},
		Services: ServicesConfig{
			Dir:       filepath.Join(dataDir, "services"),
			Patterns:  []string{"**/*.yaml", "**/*.yml"},
			Watch:     true,
			StopGrace: 10 * time.Second,
		},
		Journal: JournalConfig{
			Path: filepath.Join(dataDir, "journal.db"),
			WAL:  true,
		},
		Observability: ObservabilityConfig{
			Enabled:     false,
			ServiceName: "powerd",
			Prometheus:  true,
		},
	}
}

// Load loads configuration from a YAML file and environment variables.
// Environment variables take precedence over file-based configuration.
// If configPath is empty, only defaults and environment variables are used.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &powerderrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	// Apply defaults to any zero values (handles minimal configs)
	cfg.applyDefaults()

	// Override with environment variables
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &powerderrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

// applyDefaults fills in zero values with defaults. This allows minimal
// configs (e.g. just a mounts section) to work without every field.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}

	if c.Daemon.DataDir == "" {
		c.Daemon.DataDir = defaults.Daemon.DataDir
	}
	if c.Daemon.SocketPath == "" {
		c.Daemon.SocketPath = defaults.Daemon.SocketPath
	}
	if c.Daemon.Listen.SocketPath == "" {
		c.Daemon.Listen.SocketPath = c.Daemon.SocketPath
	}
	if c.Daemon.ShutdownTimeout == 0 {
		c.Daemon.ShutdownTimeout = defaults.Daemon.ShutdownTimeout
	}
	if c.Daemon.Auth.TokenTTL == 0 {
		c.Daemon.Auth.TokenTTL = defaults.Daemon.Auth.TokenTTL
	}

	if c.Power.ACPI == "" {
		c.Power.ACPI = defaults.Power.ACPI
	}
	if c.Power.StatusInterval == 0 {
		c.Power.StatusInterval = defaults.Power.StatusInterval
	}

	if c.Services.Dir == "" {
		c.Services.Dir = filepath.Join(c.Daemon.DataDir, "services")
	}
	if len(c.Services.Patterns) == 0 {
		c.Services.Patterns = defaults.Services.Patterns
	}
	if c.Services.StopGrace == 0 {
		c.Services.StopGrace = defaults.Services.StopGrace
	}

	if c.Journal.Path == "" {
		c.Journal.Path = filepath.Join(c.Daemon.DataDir, "journal.db")
	}

	if c.Audit.Enabled && len(c.Audit.Destinations) == 0 {
		c.Audit.Destinations = []AuditDestinationConfig{{
			Type: "rotating-file",
			Path: filepath.Join(c.Daemon.DataDir, "audit.log"),
		}}
	}

	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = defaults.Observability.ServiceName
	}
	for i := range c.Observability.Exporters {
		if c.Observability.Exporters[i].Timeout == 0 {
			c.Observability.Exporters[i].Timeout = 10 * time.Second
		}
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	// Expand home directory if present
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables.
func (c *Config) loadFromEnv() {
	// Log configuration
	if val := os.Getenv("POWERD_LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("POWERD_LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("POWERD_LOG_SOURCE"); val != "" {
		c.Log.AddSource = val == "1" || strings.ToLower(val) == "true"
	}

	// Daemon configuration (CLI-related)
	if val := os.Getenv("POWERD_SOCKET"); val != "" {
		c.Daemon.SocketPath = val
	}

	// Daemon configuration (daemon-specific)
	if val := os.Getenv("POWERD_LISTEN_SOCKET"); val != "" {
		c.Daemon.Listen.SocketPath = val
	}
	if val := os.Getenv("POWERD_TCP_ADDR"); val != "" {
		c.Daemon.Listen.TCPAddr = val
	}
	if val := os.Getenv("POWERD_PID_FILE"); val != "" {
		c.Daemon.PIDFile = val
	}
	if val := os.Getenv("POWERD_DATA_DIR"); val != "" {
		c.Daemon.DataDir = val
	}
	if val := os.Getenv("POWERD_TOKEN_SECRET"); val != "" {
		c.Daemon.Auth.TokenSecret = val
	}
	if val := os.Getenv("POWERD_SHUTDOWN_TIMEOUT"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Daemon.ShutdownTimeout = duration
		}
	}

	// Power configuration
	if val := os.Getenv("POWERD_ACPI"); val != "" {
		c.Power.ACPI = strings.ToLower(val)
	}
	if val := os.Getenv("POWERD_STATUS_INTERVAL"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Power.StatusInterval = duration
		}
	}
	if val := os.Getenv("POWERD_VERBOSE_WAIT"); val != "" {
		c.Power.VerboseWait = val == "1" || strings.ToLower(val) == "true"
	}

	// Services configuration
	if val := os.Getenv("POWERD_SERVICES_DIR"); val != "" {
		c.Services.Dir = val
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	// Validate log configuration
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, warning, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	// Validate daemon configuration
	if c.Daemon.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("daemon.shutdown_timeout must be positive, got %v", c.Daemon.ShutdownTimeout))
	}
	if (c.Daemon.Listen.TLSCert == "") != (c.Daemon.Listen.TLSKey == "") {
		errs = append(errs, "daemon.listen.tls_cert and daemon.listen.tls_key must be set together")
	}
	if c.Daemon.Listen.TCPAddr != "" && c.Daemon.Listen.AllowRemote {
		if c.Daemon.Listen.TLSCert == "" {
			errs = append(errs, "daemon.listen.allow_remote requires TLS (set tls_cert and tls_key)")
		}
		if !c.Daemon.Auth.Enabled {
			errs = append(errs, "daemon.listen.allow_remote requires daemon.auth.enabled")
		}
	}
	if c.Daemon.Auth.Enabled && c.Daemon.Auth.TokenTTL <= 0 {
		errs = append(errs, fmt.Sprintf("daemon.auth.token_ttl must be positive, got %v", c.Daemon.Auth.TokenTTL))
	}

	// Validate power configuration
	validACPI := map[string]bool{"auto": true, "on": true, "off": true}
	if !validACPI[c.Power.ACPI] {
		errs = append(errs, fmt.Sprintf("power.acpi must be one of [auto, on, off], got %q", c.Power.ACPI))
	}
	if c.Power.StatusInterval <= 0 {
		errs = append(errs, fmt.Sprintf("power.status_interval must be positive, got %v", c.Power.StatusInterval))
	}

	// Validate mounts configuration
	for _, path := range c.Mounts.Managed {
		if !filepath.IsAbs(path) {
			errs = append(errs, fmt.Sprintf("mounts.managed entries must be absolute paths, got %q", path))
		}
	}

	// Validate services configuration
	if c.Services.StopGrace <= 0 {
		errs = append(errs, fmt.Sprintf("services.stop_grace must be positive, got %v", c.Services.StopGrace))
	}

	// Validate audit configuration
	validAuditTypes := map[string]bool{"file": true, "rotating-file": true, "syslog": true, "webhook": true}
	for i, dest := range c.Audit.Destinations {
		if !validAuditTypes[dest.Type] {
			errs = append(errs, fmt.Sprintf("audit.destinations[%d].type must be one of [file, rotating-file, syslog, webhook], got %q", i, dest.Type))
			continue
		}
		switch dest.Type {
		case "file", "rotating-file":
			if dest.Path == "" {
				errs = append(errs, fmt.Sprintf("audit.destinations[%d].path is required for type %q", i, dest.Type))
			}
		case "webhook":
			if dest.URL == "" {
				errs = append(errs, fmt.Sprintf("audit.destinations[%d].url is required for type webhook", i))
			}
		}
		if dest.Format != "" && dest.Format != "json" && dest.Format != "text" {
			errs = append(errs, fmt.Sprintf("audit.destinations[%d].format must be json or text, got %q", i, dest.Format))
		}
	}

	// Validate observability configuration
	validExporters := map[string]bool{"otlp": true, "otlp-http": true, "console": true}
	for i, exp := range c.Observability.Exporters {
		if !validExporters[exp.Type] {
			errs = append(errs, fmt.Sprintf("observability.exporters[%d].type must be one of [otlp, otlp-http, console], got %q", i, exp.Type))
		}
		if exp.Type != "console" && exp.Endpoint == "" {
			errs = append(errs, fmt.Sprintf("observability.exporters[%d].endpoint is required for type %q", i, exp.Type))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}

	return nil
}

// ACPIOverride translates the power.acpi setting into an optional override.
// It returns nil for "auto", meaning the firmware probe decides.
func (c *PowerConfig) ACPIOverride() *bool {
	switch c.ACPI {
	case "on":
		enabled := true
		return &enabled
	case "off":
		enabled := false
		return &enabled
	default:
		return nil
	}
}

// defaultSocketPath returns the default Unix socket path.
func defaultSocketPath() string {
	// The daemon usually runs as PID-1-adjacent root on an appliance
	if os.Geteuid() == 0 {
		return "/run/powerd/powerd.sock"
	}

	// Use XDG_RUNTIME_DIR if available (Linux)
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return filepath.Join(runtimeDir, "powerd", "powerd.sock")
	}

	// Fall back to ~/.powerd/powerd.sock
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/powerd.sock"
	}

	return filepath.Join(homeDir, ".powerd", "powerd.sock")
}

// defaultDataDir returns the default data directory.
func defaultDataDir() string {
	if os.Geteuid() == 0 {
		return "/var/lib/powerd"
	}

	// Use XDG_DATA_HOME if available
	if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
		return filepath.Join(dataHome, "powerd")
	}

	// Fall back to ~/.powerd/data
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/powerd-data"
	}

	return filepath.Join(homeDir, ".powerd", "data")
}
