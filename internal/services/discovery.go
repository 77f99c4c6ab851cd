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
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/tombee/powerd/pkg/errors"
)

// Discover returns the unit files under dir matching the glob patterns,
// sorted by path. Patterns support doublestar syntax (** matches across
// path separators). A missing directory yields no units.
func Discover(dir string, patterns []string) ([]string, error) {
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read services directory: %w", err)
	}

	// Validate patterns compile correctly
	for _, pattern := range patterns {
		if _, err := doublestar.Match(pattern, "test"); err != nil {
			return nil, fmt.Errorf("invalid unit pattern %q: %w", pattern, err)
		}
	}

	fsys := os.DirFS(dir)
	seen := make(map[string]bool)
	var paths []string

	for _, pattern := range patterns {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to glob pattern %q: %w", pattern, err)
		}
		for _, match := range matches {
			full := filepath.Join(dir, match)
			if seen[full] {
				continue
			}
			info, err := os.Stat(full)
			if err != nil || info.IsDir() {
				continue
			}
			seen[full] = true
			paths = append(paths, full)
		}
	}

	sort.Strings(paths)
	return paths, nil
}

// LoadUnit loads a single unit file. A unit without an explicit name
// takes the file's basename without extension.
func LoadUnit(path string) (*Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read unit file: %w", err)
	}

	var u Unit
	if err := yaml.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("failed to parse service unit %s: %w", path, err)
	}

	if u.Name == "" {
		base := filepath.Base(path)
		u.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	u.ApplyDefaults()

	if err := u.Validate(); err != nil {
		return nil, fmt.Errorf("invalid service unit %s: %w", path, err)
	}

	return &u, nil
}

// LoadDir discovers and loads all units under dir. Unit names must be
// unique across the directory.
func LoadDir(dir string, patterns []string) ([]*Unit, error) {
	paths, err := Discover(dir, patterns)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]string, len(paths))
	units := make([]*Unit, 0, len(paths))

	for _, path := range paths {
		u, err := LoadUnit(path)
		if err != nil {
			return nil, err
		}
		if prev, exists := byName[u.Name]; exists {
			return nil, &errors.ValidationError{
				Field:      "name",
				Message:    fmt.Sprintf("duplicate service name %q in %s and %s", u.Name, prev, path),
				Suggestion: "give each unit file a unique name",
			}
		}
		byName[u.Name] = path
		units = append(units, u)
	}

	return units, nil
}
