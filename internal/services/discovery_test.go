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

package services

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeUnit(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create unit dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write unit file: %v", err)
	}
	return path
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, dir, "web.yaml", "command: [\"/bin/true\"]\n")
	writeUnit(t, dir, "db.yml", "command: [\"/bin/true\"]\n")
	writeUnit(t, dir, "nested/worker.yaml", "command: [\"/bin/true\"]\n")
	writeUnit(t, dir, "README.md", "not a unit\n")

	paths, err := Discover(dir, []string{"**/*.yaml", "**/*.yml"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("expected 3 unit files, got %d: %v", len(paths), paths)
	}
	for i := 1; i < len(paths); i++ {
		if paths[i-1] >= paths[i] {
			t.Errorf("paths not sorted: %v", paths)
		}
	}
}

func TestDiscoverMissingDirectory(t *testing.T) {
	paths, err := Discover(filepath.Join(t.TempDir(), "absent"), []string{"**/*.yaml"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if paths != nil {
		t.Errorf("expected no units for missing directory, got %v", paths)
	}
}

func TestDiscoverInvalidPattern(t *testing.T) {
	_, err := Discover(t.TempDir(), []string{"[unclosed"})
	if err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}

func TestLoadUnitNameFromFilename(t *testing.T) {
	dir := t.TempDir()
	path := writeUnit(t, dir, "telemetry.yaml", "command: [\"/usr/bin/telemetryd\"]\n")

	u, err := LoadUnit(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Name != "telemetry" {
		t.Errorf("expected name 'telemetry', got %q", u.Name)
	}
	if u.Restart != RestartOnFailure {
		t.Errorf("expected default restart policy, got %q", u.Restart)
	}
}

func TestLoadUnitExplicitName(t *testing.T) {
	dir := t.TempDir()
	path := writeUnit(t, dir, "other.yaml", "name: metrics\ncommand: [\"/bin/true\"]\n")

	u, err := LoadUnit(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Name != "metrics" {
		t.Errorf("expected name 'metrics', got %q", u.Name)
	}
}

func TestLoadUnitInvalid(t *testing.T) {
	dir := t.TempDir()
	path := writeUnit(t, dir, "broken.yaml", "restart: never\n")

	_, err := LoadUnit(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "invalid service unit") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, dir, "b.yaml", "command: [\"/bin/true\"]\n")
	writeUnit(t, dir, "a.yaml", "command: [\"/bin/true\"]\n")

	units, err := LoadDir(dir, []string{"**/*.yaml"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(units) != 2 {
		t.Fatalf("expected 2 units, got %d", len(units))
	}
	if units[0].Name != "a" || units[1].Name != "b" {
		t.Errorf("units not ordered by path: %q, %q", units[0].Name, units[1].Name)
	}
}

func TestLoadDirDuplicateNames(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, dir, "one.yaml", "name: web\ncommand: [\"/bin/true\"]\n")
	writeUnit(t, dir, "two.yaml", "name: web\ncommand: [\"/bin/true\"]\n")

	_, err := LoadDir(dir, []string{"**/*.yaml"})
	if err == nil {
		t.Fatal("expected duplicate name error")
	}
	if !strings.Contains(err.Error(), "duplicate service name") {
		t.Errorf("unexpected error: %v", err)
	}
}
