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

package audit

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultMaxSize is the size that triggers rotation. A node audits
	// a handful of events per boot cycle, so this lasts years.
	DefaultMaxSize = 16 * 1024 * 1024

	// DefaultMaxAge is the retention period for rotated files.
	DefaultMaxAge = 90 * 24 * time.Hour
)

// RotationConfig configures a rotating file destination.
type RotationConfig struct {
	Path        string        `yaml:"path" json:"path"`
	Format      string        `yaml:"format,omitempty" json:"format,omitempty"`
	MaxSize     int64         `yaml:"max_size,omitempty" json:"max_size,omitempty"`
	MaxAge      time.Duration `yaml:"max_age,omitempty" json:"max_age,omitempty"`
	RotateDaily bool          `yaml:"rotate_daily,omitempty" json:"rotate_daily,omitempty"`
	Compress    bool          `yaml:"compress,omitempty" json:"compress,omitempty"`
}

// RotatingFileDestination is a file destination that rotates by size
// and optionally by calendar day, discarding rotated files past the
// retention period.
type RotatingFileDestination struct {
	mu          sync.Mutex
	basePath    string
	file        *os.File
	format      string
	maxSize     int64
	maxAge      time.Duration
	rotateDaily bool
	compress    bool
	currentSize int64
	currentDate string
}

// NewRotatingFileDestination creates a rotating file destination.
func NewRotatingFileDestination(config RotationConfig) (*RotatingFileDestination, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("rotating file destination requires path")
	}
	if config.MaxSize == 0 {
		config.MaxSize = DefaultMaxSize
	}
	if config.MaxAge == 0 {
		config.MaxAge = DefaultMaxAge
	}
	if config.Format == "" {
		config.Format = "json"
	}

	path, err := expandPath(config.Path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	dest := &RotatingFileDestination{
		basePath:    path,
		format:      config.Format,
		maxSize:     config.MaxSize,
		maxAge:      config.MaxAge,
		rotateDaily: config.RotateDaily,
		compress:    config.Compress,
		currentDate: time.Now().Format("2006-01-02"),
	}

	if err := dest.openFile(); err != nil {
		return nil, err
	}
	if err := dest.cleanupOldLogs(); err != nil {
		fmt.Fprintf(os.Stderr, "powerd: audit cleanup failed: %v\n", err)
	}

	return dest, nil
}

// Write appends one event, rotating first if a limit was reached.
func (d *RotatingFileDestination) Write(event Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.shouldRotate() {
		if err := d.rotate(); err != nil {
			return fmt.Errorf("failed to rotate audit file: %w", err)
		}
	}

	line, err := encodeEvent(event, d.format)
	if err != nil {
		return err
	}

	n, err := d.file.Write(line)
	if err != nil {
		return err
	}
	d.currentSize += int64(n)
	return nil
}

// Close closes the current file.
func (d *RotatingFileDestination) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file != nil {
		return d.file.Close()
	}
	return nil
}

func (d *RotatingFileDestination) shouldRotate() bool {
	if d.currentSize >= d.maxSize {
		return true
	}
	if d.rotateDaily && time.Now().Format("2006-01-02") != d.currentDate {
		return true
	}
	return false
}

// rotate renames the current file aside and starts a fresh one.
func (d *RotatingFileDestination) rotate() error {
	if d.file != nil {
		if err := d.file.Close(); err != nil {
			return fmt.Errorf("failed to close current file: %w", err)
		}
	}

	timestamp := time.Now().Format("2006-01-02-150405")
	ext := filepath.Ext(d.basePath)
	rotatedPath := fmt.Sprintf("%s.%s%s", strings.TrimSuffix(d.basePath, ext), timestamp, ext)

	if err := os.Rename(d.basePath, rotatedPath); err != nil {
		// Nothing written yet is fine.
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to rename audit file: %w", err)
		}
	} else if d.compress {
		if err := compressFile(rotatedPath); err != nil {
			fmt.Fprintf(os.Stderr, "powerd: audit compression failed: %v\n", err)
		}
	}

	if err := d.openFile(); err != nil {
		return err
	}
	d.currentDate = time.Now().Format("2006-01-02")

	if err := d.cleanupOldLogs(); err != nil {
		fmt.Fprintf(os.Stderr, "powerd: audit cleanup failed: %v\n", err)
	}
	return nil
}

func (d *RotatingFileDestination) openFile() error {
	file, err := os.OpenFile(d.basePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open audit file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat audit file: %w", err)
	}

	d.file = file
	d.currentSize = info.Size()
	return nil
}

// cleanupOldLogs removes rotated files older than the retention period.
func (d *RotatingFileDestination) cleanupOldLogs() error {
	dir := filepath.Dir(d.basePath)
	base := filepath.Base(d.basePath)

	pattern := strings.TrimSuffix(base, filepath.Ext(base)) + ".*"
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return fmt.Errorf("failed to list rotated files: %w", err)
	}

	cutoff := time.Now().Add(-d.maxAge)
	for _, match := range matches {
		if match == d.basePath {
			continue
		}
		info, err := os.Stat(match)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(match); err != nil {
				fmt.Fprintf(os.Stderr, "powerd: failed to remove old audit file %s: %v\n", match, err)
			}
		}
	}
	return nil
}

// compressFile gzips a rotated file and removes the original.
func compressFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open rotated file: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(path+".gz", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create compressed file: %w", err)
	}
	defer dst.Close()

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		return fmt.Errorf("failed to compress file: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finalize compression: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("failed to close compressed file: %w", err)
	}

	return os.Remove(path)
}
