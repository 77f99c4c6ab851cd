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
	"crypto/tls"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tombee/powerd/internal/secrets"
	"github.com/tombee/powerd/pkg/errors"
)

// HostEnv is the environment variable naming the daemon endpoint.
const HostEnv = "POWERD_HOST"

// DefaultSocketPath returns the default Unix socket path for the daemon.
func DefaultSocketPath() (string, error) {
	// Root talks to the system daemon
	if os.Geteuid() == 0 {
		return "/run/powerd/powerd.sock", nil
	}

	// Use XDG_RUNTIME_DIR if available (Linux)
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return filepath.Join(runtimeDir, "powerd", "powerd.sock"), nil
	}

	// Fall back to ~/.powerd/powerd.sock
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	return filepath.Join(homeDir, ".powerd", "powerd.sock"), nil
}

// ParseHost parses a POWERD_HOST value into a transport.
// Supports:
//   - unix:///path/to/socket
//   - tcp://host:port
//   - https://host:port
//
// If host is empty, returns a transport for the default socket path.
func ParseHost(host string) (*Transport, error) {
	if host == "" {
		return DefaultTransport()
	}

	switch {
	case strings.HasPrefix(host, "unix://"):
		socketPath := strings.TrimPrefix(host, "unix://")
		return NewUnixTransport(socketPath), nil

	case strings.HasPrefix(host, "tcp://"):
		addr := strings.TrimPrefix(host, "tcp://")
		return NewTCPTransport(addr), nil

	case strings.HasPrefix(host, "https://"):
		addr := strings.TrimPrefix(host, "https://")
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		return NewTLSTransport(addr, tlsConfig), nil

	default:
		return nil, fmt.Errorf("invalid POWERD_HOST format: %s (must start with unix://, tcp://, or https://)", host)
	}
}

// FromEnvironment creates a client configured from environment variables.
func FromEnvironment() (*Client, error) {
	return FromHost(os.Getenv(HostEnv))
}

// FromHost creates a client for an explicit daemon address, as given to
// powerctl --host. An empty host falls back to the default socket.
func FromHost(host string) (*Client, error) {
	transport, err := ParseHost(host)
	if err != nil {
		return nil, err
	}

	opts := []Option{WithTransport(transport)}

	// Remote daemons want a bearer token; the Unix socket's file
	// permissions are the access control locally.
	if transport.TCPAddr != "" {
		if token := lookupToken(transport.TCPAddr); token != "" {
			opts = append(opts, WithToken(token))
		}
	}

	return New(opts...)
}

// lookupToken resolves the bearer token for a remote daemon from the
// secret backends. Host-specific "token/<addr>" wins over the bare
// "token" key; POWERD_TOKEN satisfies both through the env backend's
// alias.
func lookupToken(addr string) string {
	file, err := secrets.NewFileBackend("", "")
	if err != nil {
		return ""
	}
	resolver := secrets.NewResolver(secrets.NewEnvBackend(), secrets.NewKeychainBackend(), file)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if token, err := resolver.Get(ctx, "token/"+addr); err == nil {
		return token
	}
	if token, err := resolver.Get(ctx, "token"); err == nil {
		return token
	}
	return ""
}

// DaemonNotRunningError indicates the daemon is not running.
type DaemonNotRunningError struct {
	SocketPath string
	Err        error
}

func (e *DaemonNotRunningError) Error() string {
	return fmt.Sprintf("powerd daemon is not running (socket: %s)", e.SocketPath)
}

func (e *DaemonNotRunningError) Unwrap() error {
	return e.Err
}

// Guidance returns user-friendly guidance for starting the daemon.
func (e *DaemonNotRunningError) Guidance() string {
	return `powerd daemon is not running.

Start the daemon with:
  powerctl daemon start         # Background process
  powerd                        # Foreground (for development)
  systemctl start powerd        # System service (if installed)

Check the socket path with:
  powerctl setup`
}

// IsDaemonNotRunning checks if an error indicates the daemon is not running.
func IsDaemonNotRunning(err error) bool {
	if err == nil {
		return false
	}

	var dnr *DaemonNotRunningError
	if errors.As(err, &dnr) {
		return true
	}

	// Check for common connection errors
	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no such file or directory") ||
		strings.Contains(errStr, "socket") && strings.Contains(errStr, "not found")
}
