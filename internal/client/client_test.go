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

package client

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tombee/powerd/pkg/errors"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	client.baseURL = server.URL
	return client
}

func TestClientHealth(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/health" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))

	health, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Status != "ok" {
		t.Errorf("Expected status 'ok', got %s", health.Status)
	}
}

func TestClientVersion(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/version" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"version":    "1.0.0",
			"commit":     "abc123",
			"build_date": "2025-01-01",
		})
	}))

	version, err := client.Version(context.Background())
	if err != nil {
		t.Fatalf("Version failed: %v", err)
	}
	if version.Version != "1.0.0" {
		t.Errorf("Expected version '1.0.0', got %s", version.Version)
	}
}

func TestClientStart(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != "/v1/transitions" {
				t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
			}

			var body map[string]string
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("Failed to decode request body: %v", err)
			}
			if body["command"] != "shutdown" {
				t.Errorf("command = %q, want shutdown", body["command"])
			}
			if body["reason"] != "maintenance" {
				t.Errorf("reason = %q, want maintenance", body["reason"])
			}

			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(map[string]any{
				"id":         "tr-1",
				"command":    "shutdown",
				"phase":      "spawned",
				"started_at": time.Now(),
			})
		}))

		tr, err := client.Start(context.Background(), "shutdown", "maintenance")
		if err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		if tr.ID != "tr-1" {
			t.Errorf("ID = %q, want tr-1", tr.ID)
		}
		if tr.Phase != "spawned" {
			t.Errorf("Phase = %q, want spawned", tr.Phase)
		}
	})

	t.Run("conflict", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]string{
				"error": "a power transition is already active",
			})
		}))

		_, err := client.Start(context.Background(), "shutdown", "")
		if err == nil {
			t.Fatal("Start should have failed")
		}

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("Expected APIError, got %T: %v", err, err)
		}
		if apiErr.StatusCode != http.StatusConflict {
			t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, http.StatusConflict)
		}
	})

	t.Run("bad command carries suggestion", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{
				"error":      `unknown power command "restart"`,
				"suggestion": `Use "shutdown" or "reboot"`,
			})
		}))

		_, err := client.Start(context.Background(), "restart", "")
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("Expected APIError, got %T: %v", err, err)
		}
		if apiErr.Hint == "" {
			t.Error("Hint should carry the daemon's suggestion")
		}
	})
}

func TestClientActive(t *testing.T) {
	t.Run("running", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"id":      "tr-2",
				"command": "reboot",
				"phase":   "quiesce",
			})
		}))

		tr, err := client.Active(context.Background())
		if err != nil {
			t.Fatalf("Active failed: %v", err)
		}
		if tr == nil || tr.ID != "tr-2" {
			t.Errorf("Transition = %+v, want tr-2", tr)
		}
	})

	t.Run("idle", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "no active transition"})
		}))

		tr, err := client.Active(context.Background())
		if err != nil {
			t.Fatalf("Active failed: %v", err)
		}
		if tr != nil {
			t.Errorf("Transition = %+v, want nil", tr)
		}
	})
}

func TestClientListTransitions(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("outcome") != "interrupted" {
			t.Errorf("outcome = %q, want interrupted", q.Get("outcome"))
		}
		if q.Get("limit") != "10" {
			t.Errorf("limit = %q, want 10", q.Get("limit"))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"transitions": []map[string]any{
				{"id": "tr-1", "command": "shutdown", "outcome": "interrupted"},
			},
			"count": 1,
		})
	}))

	entries, err := client.ListTransitions(context.Background(), ListOptions{
		Outcome: "interrupted",
		Limit:   10,
	})
	if err != nil {
		t.Fatalf("ListTransitions failed: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "tr-1" {
		t.Errorf("entries = %+v, want one entry tr-1", entries)
	}
}

func TestClientStatus(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/status" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"name":           "powerd",
			"version":        "1.0.0",
			"uptime_seconds": 42,
			"services":       map[string]int{"total": 3, "running": 2},
			"mounts":         4,
		})
	}))

	status, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.UptimeSeconds != 42 {
		t.Errorf("UptimeSeconds = %d, want 42", status.UptimeSeconds)
	}
	if status.Services.Running != 2 {
		t.Errorf("Services.Running = %d, want 2", status.Services.Running)
	}
}

func TestClientServices(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/services":
			json.NewEncoder(w).Encode(map[string]any{
				"services": []map[string]any{
					{"name": "metrics-agent", "state": "running"},
				},
				"count": 1,
			})
		case r.Method == http.MethodPost && r.URL.Path == "/v1/services/reload":
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		default:
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))

	services, err := client.Services(context.Background())
	if err != nil {
		t.Fatalf("Services failed: %v", err)
	}
	if len(services) != 1 || services[0].Name != "metrics-agent" {
		t.Errorf("services = %+v, want metrics-agent", services)
	}

	if err := client.ReloadServices(context.Background()); err != nil {
		t.Errorf("ReloadServices failed: %v", err)
	}
}

func TestClientToken(t *testing.T) {
	var gotAuth string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	server := httptest.NewServer(handler)
	defer server.Close()

	client, err := New(WithHTTPClient(server.Client()), WithToken("secret-token"))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	client.baseURL = server.URL

	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("Authorization = %q, want Bearer secret-token", gotAuth)
	}
}

func TestClientWithUnixSocket(t *testing.T) {
	// Create temp directory for socket
	tmpDir := t.TempDir()
	socketPath := filepath.Join(tmpDir, "test.sock")

	// Create Unix socket listener
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("Failed to create Unix socket: %v", err)
	}
	defer ln.Close()

	// Start simple HTTP server on socket
	server := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		}),
	}
	go server.Serve(ln)
	defer server.Close()

	// Wait for server to be ready
	time.Sleep(50 * time.Millisecond)

	// Create client with Unix transport
	transport := NewUnixTransport(socketPath)
	client, err := New(WithTransport(transport))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	if err := client.Ping(context.Background()); err != nil {
		t.Errorf("Ping via Unix socket failed: %v", err)
	}
}

func TestParseHost(t *testing.T) {
	tests := []struct {
		name       string
		host       string
		wantSocket string
		wantTCP    string
		wantErr    bool
	}{
		{
			name:       "unix socket",
			host:       "unix:///var/run/powerd.sock",
			wantSocket: "/var/run/powerd.sock",
		},
		{
			name:    "tcp address",
			host:    "tcp://localhost:9030",
			wantTCP: "localhost:9030",
		},
		{
			name:    "https address",
			host:    "https://power.example.com:9030",
			wantTCP: "power.example.com:9030",
		},
		{
			name:    "invalid format",
			host:    "http://localhost:9030",
			wantErr: true,
		},
		{
			name:    "invalid scheme",
			host:    "ftp://localhost:9030",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport, err := ParseHost(tt.host)

			if tt.wantErr {
				if err == nil {
					t.Error("Expected error, got nil")
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			if tt.wantSocket != "" && transport.SocketPath != tt.wantSocket {
				t.Errorf("Expected socket path %s, got %s", tt.wantSocket, transport.SocketPath)
			}

			if tt.wantTCP != "" && transport.TCPAddr != tt.wantTCP {
				t.Errorf("Expected TCP addr %s, got %s", tt.wantTCP, transport.TCPAddr)
			}
		})
	}
}

func TestDefaultSocketPath(t *testing.T) {
	// Clear XDG_RUNTIME_DIR to test home directory fallback
	origXDG := os.Getenv("XDG_RUNTIME_DIR")
	os.Unsetenv("XDG_RUNTIME_DIR")
	defer os.Setenv("XDG_RUNTIME_DIR", origXDG)

	path, err := DefaultSocketPath()
	if err != nil {
		t.Fatalf("DefaultSocketPath failed: %v", err)
	}

	if path == "" {
		t.Error("DefaultSocketPath returned empty string")
	}

	// Should end with powerd.sock
	if filepath.Base(path) != "powerd.sock" {
		t.Errorf("Expected path to end with powerd.sock, got %s", path)
	}
}

func TestIsDaemonNotRunning(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
		{
			name: "unrelated error",
			err:  errors.New("permission denied"),
			want: false,
		},
		{
			name: "connection refused string",
			err:  errors.New("dial unix /run/powerd/powerd.sock: connect: connection refused"),
			want: true,
		},
		{
			name: "daemon not running error",
			err:  &DaemonNotRunningError{SocketPath: "/tmp/test.sock"},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsDaemonNotRunning(tt.err)
			if got != tt.want {
				t.Errorf("IsDaemonNotRunning() = %v, want %v", got, tt.want)
			}
		})
	}
}
