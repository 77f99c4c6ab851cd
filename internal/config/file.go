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
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/powerd/pkg/security"
)

var (
	// ErrLockTimeout is returned when file lock acquisition times out.
	ErrLockTimeout = errors.New("configuration locked by another process")
)

const (
	// lockTimeout is the maximum duration to wait for lock acquisition.
	lockTimeout = 5 * time.Second
)

// File manages the config.yaml file with file locking for concurrent access protection.
// The setup command uses it for read-modify-write cycles.
type File struct {
	path     string
	lockFile *os.File
}

// NewFile creates a new File instance for the given path.
// If path is empty, uses the default config path.
func NewFile(path string) (*File, error) {
	if path == "" {
		var err error
		path, err = ConfigPath()
		if err != nil {
			return nil, fmt.Errorf("failed to get config path: %w", err)
		}
	}

	return &File{
		path: path,
	}, nil
}

// Lock acquires an exclusive lock on the config file.
// Returns ErrLockTimeout if the lock cannot be acquired within the timeout period.
func (f *File) Lock() error {
	lockPath := f.path + ".lock"

	// Ensure the directory exists
	dir := filepath.Dir(lockPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Open or create the lock file
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}

	// Try to acquire the lock with timeout
	deadline := time.Now().Add(lockTimeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		// Attempt to acquire exclusive lock
		err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			// Lock acquired
			f.lockFile = lockFile
			return nil
		}

		// Check if we've exceeded the timeout
		if time.Now().After(deadline) {
			lockFile.Close()
			return ErrLockTimeout
		}

		// Wait before retrying
		<-ticker.C
	}
}

// Unlock releases the file lock.
func (f *File) Unlock() error {
	if f.lockFile == nil {
		return nil
	}

	// Release the lock
	if err := syscall.Flock(int(f.lockFile.Fd()), syscall.LOCK_UN); err != nil {
		f.lockFile.Close()
		f.lockFile = nil
		return fmt.Errorf("failed to unlock: %w", err)
	}

	// Close the lock file
	if err := f.lockFile.Close(); err != nil {
		f.lockFile = nil
		return fmt.Errorf("failed to close lock file: %w", err)
	}

	f.lockFile = nil
	return nil
}

// Load loads the configuration from the config file.
// The file must be locked before calling this method.
func (f *File) Load() (*Config, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, return default config
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	// Apply defaults to fill in any missing values
	cfg.applyDefaults()

	return &cfg, nil
}

// Save saves the configuration to the config file using atomic writes.
// The file must be locked before calling this method.
func (f *File) Save(cfg *Config) error {
	// The config can carry a token secret; it gets owner-only modes.
	fileMode, dirMode := security.DeterminePermissions(f.path)

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// Write to a temporary file in the same directory, fix its mode
	// before any content lands, then atomically rename into place.
	tempPath := f.path + ".tmp"
	tmp, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fileMode)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer func() {
		if tmp != nil {
			tmp.Close()
			os.Remove(tempPath)
		}
	}()

	if err := tmp.Chmod(fileMode); err != nil {
		return fmt.Errorf("failed to set temporary file permissions: %w", err)
	}
	if err := security.VerifyPermissions(tmp, fileMode); err != nil {
		return fmt.Errorf("failed to verify temporary file permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync temporary file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	tmp = nil

	if err := os.Rename(tempPath, f.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	return nil
}

// WithLock executes a function while holding the file lock.
// The lock is automatically released when the function returns.
func (f *File) WithLock(fn func() error) error {
	if err := f.Lock(); err != nil {
		return err
	}
	defer f.Unlock()

	return fn()
}

// SaveFile is a convenience function that saves a config with automatic locking.
func SaveFile(path string, cfg *Config) error {
	f, err := NewFile(path)
	if err != nil {
		return err
	}

	return f.WithLock(func() error {
		return f.Save(cfg)
	})
}
