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
	"errors"
	"slices"
	"testing"
)

func TestEnvBackend_Metadata(t *testing.T) {
	backend := NewEnvBackend()

	if backend.Name() != "env" {
		t.Errorf("Name() = %v, want env", backend.Name())
	}
	if backend.Priority() != EnvBackendPriority {
		t.Errorf("Priority() = %v, want %v", backend.Priority(), EnvBackendPriority)
	}
	if !backend.Available() {
		t.Error("Available() = false, want true")
	}
	if !backend.ReadOnly() {
		t.Error("ReadOnly() = false, want true")
	}
}

func TestEnvBackend_Get(t *testing.T) {
	t.Setenv("POWERD_SECRET_JWT_SECRET", "from-env")

	backend := NewEnvBackend()
	value, err := backend.Get(context.Background(), "jwt-secret")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if value != "from-env" {
		t.Errorf("Get() = %v, want from-env", value)
	}
}

func TestEnvBackend_GetScopedKey(t *testing.T) {
	// Slashes and hyphens both normalize to underscores.
	t.Setenv("POWERD_SECRET_TOKEN_NODE_7", "scoped")

	backend := NewEnvBackend()
	value, err := backend.Get(context.Background(), "token/node-7")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if value != "scoped" {
		t.Errorf("Get() = %v, want scoped", value)
	}
}

func TestEnvBackend_GetTokenAlias(t *testing.T) {
	t.Setenv("POWERD_TOKEN", "alias-token")

	backend := NewEnvBackend()
	for _, key := range []string{"token", "token/node-7"} {
		value, err := backend.Get(context.Background(), key)
		if err != nil {
			t.Fatalf("Get(%q) error = %v", key, err)
		}
		if value != "alias-token" {
			t.Errorf("Get(%q) = %v, want alias-token", key, value)
		}
	}
}

func TestEnvBackend_GetNotFound(t *testing.T) {
	backend := NewEnvBackend()

	_, err := backend.Get(context.Background(), "nonexistent-secret-key")
	if !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("Get() error = %v, want %v", err, ErrSecretNotFound)
	}
}

func TestEnvBackend_ReadOnlyWrites(t *testing.T) {
	backend := NewEnvBackend()
	ctx := context.Background()

	if err := backend.Set(ctx, "k", "v"); !errors.Is(err, ErrReadOnlyBackend) {
		t.Errorf("Set() error = %v, want %v", err, ErrReadOnlyBackend)
	}
	if err := backend.Delete(ctx, "k"); !errors.Is(err, ErrReadOnlyBackend) {
		t.Errorf("Delete() error = %v, want %v", err, ErrReadOnlyBackend)
	}
}

func TestEnvBackend_List(t *testing.T) {
	t.Setenv("POWERD_SECRET_JWT_SECRET", "a")
	t.Setenv("POWERD_SECRET_TOKEN_NODE_7", "b")

	backend := NewEnvBackend()
	keys, err := backend.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	// Listed names are flattened to hyphens.
	for _, want := range []string{"jwt-secret", "token-node-7"} {
		if !slices.Contains(keys, want) {
			t.Errorf("List() = %v, missing %q", keys, want)
		}
	}
}
