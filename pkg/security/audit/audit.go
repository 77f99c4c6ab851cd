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

// Package audit records privileged daemon operations to durable
// destinations. Every request that can take the machine down, and
// every decision to refuse one, leaves a line here regardless of what
// the structured log is doing.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/syslog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tombee/powerd/pkg/httpclient"
)

// Event types recorded by the daemon.
const (
	// EventTransition is a request to start a power transition.
	EventTransition = "transition.request"

	// EventServicesReload is a request to re-read the service unit
	// directory and reconcile running services.
	EventServicesReload = "services.reload"
)

// Decision is the outcome of a recorded request.
type Decision string

const (
	DecisionAllowed Decision = "allowed"
	DecisionDenied  Decision = "denied"
)

// Event is one audited operation.
type Event struct {
	Timestamp    time.Time      `json:"timestamp"`
	Type         string         `json:"type"`
	Command      string         `json:"command,omitempty"`
	TransitionID string         `json:"transition_id,omitempty"`
	Requester    string         `json:"requester,omitempty"`
	Decision     Decision       `json:"decision"`
	Reason       string         `json:"reason,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Destination is a sink for audit events.
type Destination interface {
	// Write records one event.
	Write(event Event) error

	// Close releases the destination.
	Close() error
}

// Config configures the audit logger.
type Config struct {
	Destinations []DestinationConfig `yaml:"destinations" json:"destinations"`
	BufferSize   int                 `yaml:"buffer_size,omitempty" json:"buffer_size,omitempty"`
}

// DestinationConfig configures a single destination.
type DestinationConfig struct {
	// Type selects the destination: file, rotating-file, syslog, or
	// webhook.
	Type     string            `yaml:"type" json:"type"`
	Path     string            `yaml:"path,omitempty" json:"path,omitempty"`
	Format   string            `yaml:"format,omitempty" json:"format,omitempty"`
	Facility string            `yaml:"facility,omitempty" json:"facility,omitempty"`
	URL      string            `yaml:"url,omitempty" json:"url,omitempty"`
	Headers  map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// Rotation settings, honored when Type is rotating-file.
	MaxSize     int64         `yaml:"max_size,omitempty" json:"max_size,omitempty"`
	MaxAge      time.Duration `yaml:"max_age,omitempty" json:"max_age,omitempty"`
	RotateDaily bool          `yaml:"rotate_daily,omitempty" json:"rotate_daily,omitempty"`
	Compress    bool          `yaml:"compress,omitempty" json:"compress,omitempty"`
}

// DefaultBufferSize bounds events waiting for the background writer.
// Transitions are rare; a small buffer is plenty.
const DefaultBufferSize = 64

var (
	eventsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "powerd_audit_events_total",
			Help: "Audit events recorded, by type and decision.",
		},
		[]string{"type", "decision"},
	)
	eventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "powerd_audit_events_dropped_total",
			Help: "Audit events dropped because the buffer was full.",
		},
	)
)

// Logger fans audit events out to the configured destinations from a
// background writer.
type Logger struct {
	mu           sync.RWMutex
	destinations []Destination
	buffer       chan Event
	cancel       context.CancelFunc
	wg           sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// NewLogger creates an audit logger with the given configuration.
func NewLogger(config Config) (*Logger, error) {
	if config.BufferSize == 0 {
		config.BufferSize = DefaultBufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	logger := &Logger{
		destinations: make([]Destination, 0, len(config.Destinations)),
		buffer:       make(chan Event, config.BufferSize),
		cancel:       cancel,
	}

	for _, destConfig := range config.Destinations {
		dest, err := createDestination(destConfig)
		if err != nil {
			logger.Close()
			return nil, fmt.Errorf("failed to create %s destination: %w", destConfig.Type, err)
		}
		logger.destinations = append(logger.destinations, dest)
	}

	logger.wg.Add(1)
	go logger.writeLoop(ctx)

	return logger, nil
}

// Log queues an event for every destination. A zero timestamp is
// stamped with the current time. Log never blocks; if the buffer is
// full the event is dropped and counted.
func (l *Logger) Log(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case l.buffer <- event:
		eventsRecorded.WithLabelValues(event.Type, string(event.Decision)).Inc()
	default:
		eventsDropped.Inc()
		fmt.Fprintf(os.Stderr, "powerd: audit buffer full, dropping %s event\n", event.Type)
	}
}

// Close drains buffered events and closes every destination. It is
// safe to call more than once; later calls return the first error.
func (l *Logger) Close() error {
	l.closeOnce.Do(func() {
		l.cancel()
		l.wg.Wait()

		l.mu.Lock()
		defer l.mu.Unlock()
		for _, dest := range l.destinations {
			if err := dest.Close(); err != nil && l.closeErr == nil {
				l.closeErr = err
			}
		}
	})
	return l.closeErr
}

// writeLoop delivers buffered events until cancelled, then drains
// whatever is left so a shutdown does not lose queued records.
func (l *Logger) writeLoop(ctx context.Context) {
	defer l.wg.Done()

	for {
		select {
		case event := <-l.buffer:
			l.deliver(event)
		case <-ctx.Done():
			for {
				select {
				case event := <-l.buffer:
					l.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) deliver(event Event) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, dest := range l.destinations {
		if err := dest.Write(event); err != nil {
			fmt.Fprintf(os.Stderr, "powerd: audit write failed: %v\n", err)
		}
	}
}

// createDestination builds a destination from its configuration.
func createDestination(config DestinationConfig) (Destination, error) {
	switch config.Type {
	case "file":
		return NewFileDestination(config)
	case "rotating-file":
		return NewRotatingFileDestination(RotationConfig{
			Path:        config.Path,
			Format:      config.Format,
			MaxSize:     config.MaxSize,
			MaxAge:      config.MaxAge,
			RotateDaily: config.RotateDaily,
			Compress:    config.Compress,
		})
	case "syslog":
		return NewSyslogDestination(config)
	case "webhook":
		return NewWebhookDestination(config)
	default:
		return nil, fmt.Errorf("unknown destination type: %s", config.Type)
	}
}

// encodeEvent renders an event as one output line.
func encodeEvent(event Event, format string) ([]byte, error) {
	switch format {
	case "json":
		line, err := json.Marshal(event)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal event: %w", err)
		}
		return append(line, '\n'), nil
	case "text":
		return []byte(fmt.Sprintf("[%s] %s command=%s requester=%s decision=%s reason=%q\n",
			event.Timestamp.Format(time.RFC3339),
			event.Type,
			event.Command,
			event.Requester,
			event.Decision,
			event.Reason,
		)), nil
	default:
		return nil, fmt.Errorf("unknown format: %s", format)
	}
}

// expandPath resolves a leading ~ against the home directory.
func expandPath(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}

// FileDestination appends audit events to a single file.
type FileDestination struct {
	mu     sync.Mutex
	file   *os.File
	format string
}

// NewFileDestination creates a plain file destination.
func NewFileDestination(config DestinationConfig) (*FileDestination, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("file destination requires path")
	}

	path, err := expandPath(config.Path)
	if err != nil {
		return nil, err
	}

	// The trail can name requesters; keep it owner-only.
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}

	format := config.Format
	if format == "" {
		format = "json"
	}

	return &FileDestination{file: file, format: format}, nil
}

// Write appends one event.
func (d *FileDestination) Write(event Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	line, err := encodeEvent(event, d.format)
	if err != nil {
		return err
	}
	_, err = d.file.Write(line)
	return err
}

// Close closes the file.
func (d *FileDestination) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.file.Close()
}

// SyslogDestination writes audit events to syslog.
type SyslogDestination struct {
	writer *syslog.Writer
}

// NewSyslogDestination connects to syslog. The default facility is
// daemon, matching how init-adjacent services log.
func NewSyslogDestination(config DestinationConfig) (*SyslogDestination, error) {
	priority := syslog.LOG_NOTICE

	switch config.Facility {
	case "", "daemon":
		priority |= syslog.LOG_DAEMON
	case "auth":
		priority |= syslog.LOG_AUTH
	case "user":
		priority |= syslog.LOG_USER
	case "local0":
		priority |= syslog.LOG_LOCAL0
	case "local1":
		priority |= syslog.LOG_LOCAL1
	case "local2":
		priority |= syslog.LOG_LOCAL2
	case "local3":
		priority |= syslog.LOG_LOCAL3
	default:
		return nil, fmt.Errorf("unknown syslog facility: %s", config.Facility)
	}

	writer, err := syslog.New(priority, "powerd")
	if err != nil {
		return nil, fmt.Errorf("failed to connect to syslog: %w", err)
	}

	return &SyslogDestination{writer: writer}, nil
}

// Write sends one event as a JSON syslog message.
func (d *SyslogDestination) Write(event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return d.writer.Notice(string(data))
}

// Close closes the syslog connection.
func (d *SyslogDestination) Close() error {
	return d.writer.Close()
}

// WebhookDestination posts audit events to an HTTP endpoint, letting a
// fleet controller hear that a node has been ordered down. Requests
// are sent while the machine is still fully up; nothing in the power
// transition itself depends on the endpoint answering.
type WebhookDestination struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookDestination creates a webhook destination. Posts are
// retried, so receivers must treat the trail as at-least-once.
func NewWebhookDestination(config DestinationConfig) (*WebhookDestination, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("webhook destination requires url")
	}

	clientCfg := httpclient.DefaultConfig()
	clientCfg.RetryAttempts = 2
	clientCfg.AllowNonIdempotentRetry = true
	client, err := httpclient.New(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build webhook client: %w", err)
	}

	return &WebhookDestination{
		url:     config.URL,
		headers: config.Headers,
		client:  client,
	}, nil
}

// Write posts one event.
func (d *WebhookDestination) Write(event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, d.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range d.headers {
		req.Header.Set(key, value)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Close releases idle connections.
func (d *WebhookDestination) Close() error {
	d.client.CloseIdleConnections()
	return nil
}
