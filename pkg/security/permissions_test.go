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

package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDeterminePermissions(t *testing.T) {
	tests := []struct {
		path     string
		fileMode os.FileMode
		dirMode  os.FileMode
	}{
		{"/etc/powerd/config.yaml", 0600, 0700},
		{"/var/lib/powerd/secrets.enc", 0600, 0700},
		{"/var/lib/powerd/master.key", 0600, 0700},
		{"/etc/powerd/tls/server.pem", 0600, 0700},
		{"/var/lib/powerd/TOKENS.json", 0600, 0700},
		{"/var/lib/powerd/journal.db", 0640, 0750},
		{"/var/lib/powerd/services/web.yaml", 0640, 0750},
	}

	for _, tt := range tests {
		t.Run(filepath.Base(tt.path), func(t *testing.T) {
			fileMode, dirMode := DeterminePermissions(tt.path)
			if fileMode != tt.fileMode || dirMode != tt.dirMode {
				t.Errorf("DeterminePermissions(%q) = %o/%o, want %o/%o",
					tt.path, fileMode, dirMode, tt.fileMode, tt.dirMode)
			}
		})
	}
}

func TestVerifyPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		t.Fatalf("failed to create file: %v", err)
	}
	defer f.Close()
	if err := f.Chmod(0600); err != nil {
		t.Fatalf("failed to chmod: %v", err)
	}

	if err := VerifyPermissions(f, 0600); err != nil {
		t.Errorf("VerifyPermissions(0600) = %v, want nil", err)
	}

	err = VerifyPermissions(f, 0640)
	if err == nil {
		t.Fatal("VerifyPermissions(0640) = nil, want mismatch error")
	}
	if !strings.Contains(err.Error(), "permissions mismatch") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCheckConfigPermissions(t *testing.T) {
	t.Run("missing path", func(t *testing.T) {
		warnings := CheckConfigPermissions(filepath.Join(t.TempDir(), "absent"))
		if len(warnings) != 0 {
			t.Errorf("warnings for missing path: %v", warnings)
		}
	})

	t.Run("strict file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		writeWithMode(t, path, 0600)

		if warnings := CheckConfigPermissions(path); len(warnings) != 0 {
			t.Errorf("warnings for 0600 file: %v", warnings)
		}
	})

	t.Run("world-readable file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		writeWithMode(t, path, 0644)

		warnings := CheckConfigPermissions(path)
		if len(warnings) != 1 || !strings.Contains(warnings[0], "world-readable") {
			t.Errorf("warnings = %v, want one world-readable warning", warnings)
		}
	})

	t.Run("world-writable file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "units.yaml")
		writeWithMode(t, path, 0606)

		warnings := CheckConfigPermissions(path)
		var worldWritable bool
		for _, w := range warnings {
			if strings.Contains(w, "world-writable") {
				worldWritable = true
			}
		}
		if !worldWritable {
			t.Errorf("warnings = %v, want world-writable warning", warnings)
		}
	})

	t.Run("group-writable sensitive file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "master.key")
		writeWithMode(t, path, 0620)

		warnings := CheckConfigPermissions(path)
		if len(warnings) != 1 || !strings.Contains(warnings[0], "group-writable") {
			t.Errorf("warnings = %v, want one group-writable warning", warnings)
		}
	})

	t.Run("group-writable plain file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "journal.db")
		writeWithMode(t, path, 0620)

		if warnings := CheckConfigPermissions(path); len(warnings) != 0 {
			t.Errorf("warnings for group-writable non-sensitive file: %v", warnings)
		}
	})

	t.Run("loose directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "data")
		if err := os.Mkdir(dir, 0700); err != nil {
			t.Fatalf("failed to create dir: %v", err)
		}
		if err := os.Chmod(dir, 0777); err != nil {
			t.Fatalf("failed to chmod dir: %v", err)
		}

		warnings := CheckConfigPermissions(dir)
		if len(warnings) != 3 {
			t.Errorf("warnings = %v, want world-readable, world-writable and group-writable", warnings)
		}
	})

	t.Run("strict directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "data")
		if err := os.Mkdir(dir, 0700); err != nil {
			t.Fatalf("failed to create dir: %v", err)
		}
		if err := os.Chmod(dir, 0700); err != nil {
			t.Fatalf("failed to chmod dir: %v", err)
		}

		if warnings := CheckConfigPermissions(dir); len(warnings) != 0 {
			t.Errorf("warnings for 0700 directory: %v", warnings)
		}
	})
}

func writeWithMode(t *testing.T, path string, mode os.FileMode) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x\n"), mode); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	// WriteFile modes pass through the umask; force the exact bits.
	if err := os.Chmod(path, mode); err != nil {
		t.Fatalf("failed to chmod %s: %v", path, err)
	}
}
