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

// Package security provides permission hardening for the daemon's
// on-disk state. The configuration decides who may halt the machine
// and the unit directory names commands the daemon executes as root,
// so both are written with strict modes and probed for loose ones at
// startup.
package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// sensitivePatterns are matched case-insensitively against a path's
// basename. Matching files hold key material or decide trust and get
// owner-only modes.
var sensitivePatterns = []string{
	"config", "settings",
	"secret", "credential", "password", "token",
	"key", ".pem", "master",
}

// DeterminePermissions returns the file and directory modes for a
// path: 0600/0700 for sensitive files, 0640/0750 otherwise.
func DeterminePermissions(path string) (fileMode, dirMode os.FileMode) {
	base := strings.ToLower(filepath.Base(path))

	for _, pattern := range sensitivePatterns {
		if strings.Contains(base, pattern) {
			return 0600, 0700
		}
	}

	return 0640, 0750
}

// VerifyPermissions checks an open file's mode through its descriptor,
// so the check cannot race against a rename of the path.
func VerifyPermissions(fd *os.File, expected os.FileMode) error {
	info, err := fd.Stat()
	if err != nil {
		return fmt.Errorf("failed to verify permissions: %w", err)
	}

	if actual := info.Mode().Perm(); actual != expected {
		return fmt.Errorf("permissions mismatch: got %o, expected %o", actual, expected)
	}

	return nil
}

// CheckConfigPermissions reports paths whose permissions expose daemon
// state: world-accessible directories, world-accessible files, and
// group-writable sensitive files. A missing path reports nothing.
// Intended for startup, where the findings become log warnings rather
// than errors.
func CheckConfigPermissions(path string) []string {
	var warnings []string

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return warnings
		}
		return append(warnings, fmt.Sprintf("unable to check permissions for %s: %v", path, err))
	}

	perm := info.Mode().Perm()

	if info.IsDir() {
		if perm&0004 != 0 {
			warnings = append(warnings, fmt.Sprintf("directory %s is world-readable (permissions: %o), recommend chmod 0700 or 0750", path, perm))
		}
		if perm&0002 != 0 {
			warnings = append(warnings, fmt.Sprintf("directory %s is world-writable (permissions: %o), recommend chmod 0700 or 0750", path, perm))
		}
		if perm&0020 != 0 {
			warnings = append(warnings, fmt.Sprintf("directory %s is group-writable (permissions: %o), recommend chmod 0700", path, perm))
		}
		return warnings
	}

	if perm&0004 != 0 {
		warnings = append(warnings, fmt.Sprintf("file %s is world-readable (permissions: %o), recommend chmod 0600 or 0640", path, perm))
	}
	if perm&0002 != 0 {
		warnings = append(warnings, fmt.Sprintf("file %s is world-writable (permissions: %o), recommend chmod 0600 or 0640", path, perm))
	}
	if perm&0020 != 0 {
		fileMode, _ := DeterminePermissions(path)
		if fileMode == 0600 {
			warnings = append(warnings, fmt.Sprintf("sensitive file %s is group-writable (permissions: %o), recommend chmod 0600", path, perm))
		}
	}

	return warnings
}
