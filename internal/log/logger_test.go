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

package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != "info" {
		t.Errorf("expected default level 'info', got %q", cfg.Level)
	}

	if cfg.Format != FormatJSON {
		t.Errorf("expected default format 'json', got %q", cfg.Format)
	}

	if cfg.Output != os.Stderr {
		t.Errorf("expected default output to be os.Stderr")
	}

	if cfg.AddSource {
		t.Errorf("expected default AddSource to be false")
	}
}

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		expected *Config
	}{
		{
			name:    "defaults when no env vars",
			envVars: map[string]string{},
			expected: &Config{
				Level:     "info",
				Format:    FormatJSON,
				AddSource: false,
			},
		},
		{
			name: "LOG_LEVEL=debug",
			envVars: map[string]string{
				"LOG_LEVEL": "debug",
			},
			expected: &Config{
				Level:     "debug",
				Format:    FormatJSON,
				AddSource: false,
			},
		},
		{
			name: "POWERD_LOG_LEVEL wins over LOG_LEVEL",
			envVars: map[string]string{
				"POWERD_LOG_LEVEL": "warn",
				"LOG_LEVEL":        "debug",
			},
			expected: &Config{
				Level:     "warn",
				Format:    FormatJSON,
				AddSource: false,
			},
		},
		{
			name: "POWERD_DEBUG enables debug and source",
			envVars: map[string]string{
				"POWERD_DEBUG":     "1",
				"POWERD_LOG_LEVEL": "error",
			},
			expected: &Config{
				Level:     "debug",
				Format:    FormatJSON,
				AddSource: true,
			},
		},
		{
			name: "LOG_FORMAT=text",
			envVars: map[string]string{
				"LOG_FORMAT": "text",
			},
			expected: &Config{
				Level:     "info",
				Format:    FormatText,
				AddSource: false,
			},
		},
		{
			name: "LOG_SOURCE=1",
			envVars: map[string]string{
				"LOG_SOURCE": "1",
			},
			expected: &Config{
				Level:     "info",
				Format:    FormatJSON,
				AddSource: true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}
			defer func() {
				for k := range tt.envVars {
					os.Unsetenv(k)
				}
			}()

			cfg := FromEnv()

			if cfg.Level != tt.expected.Level {
				t.Errorf("expected level %q, got %q", tt.expected.Level, cfg.Level)
			}
			if cfg.Format != tt.expected.Format {
				t.Errorf("expected format %q, got %q", tt.expected.Format, cfg.Format)
			}
			if cfg.AddSource != tt.expected.AddSource {
				t.Errorf("expected AddSource %v, got %v", tt.expected.AddSource, cfg.AddSource)
			}
		})
	}
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer

	cfg := &Config{
		Level:  "debug",
		Format: FormatJSON,
		Output: &buf,
	}

	logger := New(cfg)
	logger.Info("transition started", "command", "shutdown")

	output := buf.String()

	var logEntry map[string]interface{}
	if err := json.Unmarshal([]byte(output), &logEntry); err != nil {
		t.Fatalf("expected valid JSON output, got error: %v", err)
	}

	if logEntry["msg"] != "transition started" {
		t.Errorf("expected msg field to be 'transition started', got: %v", logEntry["msg"])
	}

	if logEntry["command"] != "shutdown" {
		t.Errorf("expected command field to be 'shutdown', got: %v", logEntry["command"])
	}

	if logEntry["level"] != "INFO" {
		t.Errorf("expected level field to be 'INFO', got: %v", logEntry["level"])
	}
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer

	cfg := &Config{
		Level:  "info",
		Format: FormatText,
		Output: &buf,
	}

	logger := New(cfg)
	logger.Info("unmount attempt", "mount", "/var/data")

	output := buf.String()
	if !strings.Contains(output, "unmount attempt") {
		t.Errorf("expected output to contain 'unmount attempt', got: %s", output)
	}

	if !strings.Contains(output, "mount=/var/data") {
		t.Errorf("expected output to contain 'mount=/var/data', got: %s", output)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"trace", LevelTrace},
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level := parseLevel(tt.input)
			if level != tt.expected {
				t.Errorf("expected level %v, got %v", tt.expected, level)
			}
		})
	}
}

func TestWithTransitionContext(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	ctxLogger := WithTransitionContext(logger, "8f14e45f", "shutdown")
	ctxLogger.Info("phase change", "phase", "terminating_users")

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}

	if logEntry[TransitionIDKey] != "8f14e45f" {
		t.Errorf("expected transition_id '8f14e45f', got: %v", logEntry[TransitionIDKey])
	}
	if logEntry[CommandKey] != "shutdown" {
		t.Errorf("expected command 'shutdown', got: %v", logEntry[CommandKey])
	}
}

func TestTrace_GatedByLevel(t *testing.T) {
	t.Run("suppressed at debug level", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})

		Trace(logger, "survivor listing", Int("pid", 42))

		if buf.Len() != 0 {
			t.Errorf("expected no output at debug level, got: %s", buf.String())
		}
	})

	t.Run("emitted at trace level", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(&Config{Level: "trace", Format: FormatJSON, Output: &buf})

		Trace(logger, "survivor listing", Int("pid", 42))

		if !strings.Contains(buf.String(), "survivor listing") {
			t.Errorf("expected trace output, got: %s", buf.String())
		}
	})
}

func TestSanitizeAPIKey(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"sk-1234567890", "...7890"},
		{"abcd", "[REDACTED]"},
		{"", "[REDACTED]"},
	}

	for _, tt := range tests {
		if got := SanitizeAPIKey(tt.input); got != tt.expected {
			t.Errorf("SanitizeAPIKey(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
