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

package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

const (
	// EnvBackendPriority is the priority for the environment variable
	// backend. Highest, so deployments can override stored secrets.
	EnvBackendPriority = 100

	envSecretPrefix = "POWERD_SECRET_"
)

// EnvBackend provides read-only access to secrets via environment
// variables. A key resolves through POWERD_SECRET_<KEY>, with slashes
// and hyphens folded to underscores. Token keys additionally resolve
// through the bare POWERD_TOKEN variable.
type EnvBackend struct{}

// NewEnvBackend creates a new environment variable backend.
func NewEnvBackend() *EnvBackend {
	return &EnvBackend{}
}

// Name returns the backend identifier.
func (e *EnvBackend) Name() string {
	return "env"
}

// Get retrieves a secret from environment variables.
func (e *EnvBackend) Get(ctx context.Context, key string) (string, error) {
	if value := os.Getenv(e.normalizeKey(key)); value != "" {
		return value, nil
	}

	if alias := e.alias(key); alias != "" {
		if value := os.Getenv(alias); value != "" {
			return value, nil
		}
	}

	return "", fmt.Errorf("%w: environment variable not set", ErrSecretNotFound)
}

// Set returns ErrReadOnlyBackend; the environment cannot be written.
func (e *EnvBackend) Set(ctx context.Context, key string, value string) error {
	return ErrReadOnlyBackend
}

// Delete returns ErrReadOnlyBackend; the environment cannot be written.
func (e *EnvBackend) Delete(ctx context.Context, key string) error {
	return ErrReadOnlyBackend
}

// List returns the keys of all POWERD_SECRET_* variables. The mapping
// back from variable names is lossy: slashes and hyphens both came out
// as underscores, so listed keys use hyphens throughout.
func (e *EnvBackend) List(ctx context.Context) ([]string, error) {
	var keys []string
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, envSecretPrefix) {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 && parts[1] != "" {
			name := strings.TrimPrefix(parts[0], envSecretPrefix)
			keys = append(keys, strings.ReplaceAll(strings.ToLower(name), "_", "-"))
		}
	}
	return keys, nil
}

// Available returns true; the environment is always readable.
func (e *EnvBackend) Available() bool {
	return true
}

// Priority returns the backend priority (highest).
func (e *EnvBackend) Priority() int {
	return EnvBackendPriority
}

// ReadOnly returns true.
func (e *EnvBackend) ReadOnly() bool {
	return true
}

// normalizeKey converts a secret key to an environment variable name.
// Example: "token/node-7" -> "POWERD_SECRET_TOKEN_NODE_7"
func (e *EnvBackend) normalizeKey(key string) string {
	normalized := strings.NewReplacer("/", "_", "-", "_").Replace(key)
	return envSecretPrefix + strings.ToUpper(normalized)
}

// alias returns the shorthand variable for well-known keys.
// Example: "token/node-7" -> "POWERD_TOKEN"
func (e *EnvBackend) alias(key string) string {
	if key == "token" || strings.HasPrefix(key, "token/") {
		return "POWERD_TOKEN"
	}
	return ""
}
