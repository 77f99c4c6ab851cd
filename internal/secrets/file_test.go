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
	"os"
	"path/filepath"
	"testing"
)

func TestFileBackend_Metadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.enc")

	backend, err := NewFileBackend(path, "test-master-key")
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}

	if backend.Name() != "file" {
		t.Errorf("Name() = %v, want file", backend.Name())
	}
	if backend.Priority() != FileBackendPriority {
		t.Errorf("Priority() = %v, want %v", backend.Priority(), FileBackendPriority)
	}
	if !backend.Available() {
		t.Error("Available() = false, want true")
	}
}

func TestFileBackend_SetGetDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.enc")
	backend, err := NewFileBackend(path, "test-master-key")
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}

	ctx := context.Background()

	if err := backend.Set(ctx, "token/node-7", "tok-1"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("file permissions = %o, want 0600", info.Mode().Perm())
	}

	value, err := backend.Get(ctx, "token/node-7")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if value != "tok-1" {
		t.Errorf("Get() = %v, want tok-1", value)
	}

	_, err = backend.Get(ctx, "missing")
	if !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("Get() missing error = %v, want %v", err, ErrSecretNotFound)
	}

	if err := backend.Set(ctx, "token/node-7", "tok-2"); err != nil {
		t.Fatalf("Set() (update) error = %v", err)
	}
	value, err = backend.Get(ctx, "token/node-7")
	if err != nil {
		t.Fatalf("Get() (after update) error = %v", err)
	}
	if value != "tok-2" {
		t.Errorf("Get() (after update) = %v, want tok-2", value)
	}

	if err := backend.Delete(ctx, "token/node-7"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	_, err = backend.Get(ctx, "token/node-7")
	if !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("Get() after delete error = %v, want %v", err, ErrSecretNotFound)
	}
	if err := backend.Delete(ctx, "token/node-7"); !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("Delete() non-existent error = %v, want %v", err, ErrSecretNotFound)
	}
}

func TestFileBackend_PersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.enc")
	ctx := context.Background()

	first, err := NewFileBackend(path, "shared-key")
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}
	if err := first.Set(ctx, "jwt-secret", "persisted"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	second, err := NewFileBackend(path, "shared-key")
	if err != nil {
		t.Fatalf("NewFileBackend() (second) error = %v", err)
	}
	value, err := second.Get(ctx, "jwt-secret")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if value != "persisted" {
		t.Errorf("Get() = %v, want persisted", value)
	}
}

func TestFileBackend_WrongMasterKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.enc")
	ctx := context.Background()

	writer, err := NewFileBackend(path, "right-key")
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}
	if err := writer.Set(ctx, "jwt-secret", "value"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	reader, err := NewFileBackend(path, "wrong-key")
	if err != nil {
		t.Fatalf("NewFileBackend() (reader) error = %v", err)
	}
	if _, err := reader.Get(ctx, "jwt-secret"); err == nil {
		t.Error("Get() with wrong master key expected error")
	}
}

func TestFileBackend_MasterKeyFile(t *testing.T) {
	t.Setenv("POWERD_MASTER_KEY", "")

	dir := t.TempDir()
	keyPath := filepath.Join(dir, "master.key")
	if err := os.WriteFile(keyPath, []byte("file-master-key"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	// The master key is picked up from master.key next to the store.
	path := filepath.Join(dir, "secrets.enc")
	backend, err := NewFileBackend(path, "")
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}
	if !backend.Available() {
		t.Fatal("Available() = false, want true")
	}

	ctx := context.Background()
	if err := backend.Set(ctx, "jwt-secret", "v"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, err := backend.Get(ctx, "jwt-secret"); err != nil {
		t.Errorf("Get() error = %v", err)
	}
}

func TestFileBackend_UnavailableWithoutMasterKey(t *testing.T) {
	t.Setenv("POWERD_MASTER_KEY", "")

	path := filepath.Join(t.TempDir(), "secrets.enc")
	backend, err := NewFileBackend(path, "")
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}

	if backend.Available() {
		t.Fatal("Available() = true, want false")
	}
	if _, err := backend.Get(context.Background(), "jwt-secret"); !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("Get() error = %v, want %v", err, ErrBackendUnavailable)
	}
}

func TestFileBackend_MasterKeyFromEnv(t *testing.T) {
	t.Setenv("POWERD_MASTER_KEY", "env-master-key")

	path := filepath.Join(t.TempDir(), "secrets.enc")
	backend, err := NewFileBackend(path, "")
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}
	if !backend.Available() {
		t.Fatal("Available() = false, want true")
	}

	ctx := context.Background()
	if err := backend.Set(ctx, "jwt-secret", "v"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
}
