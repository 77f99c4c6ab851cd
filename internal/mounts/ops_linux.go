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

//go:build linux

package mounts

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// Mockable syscall functions for testing.
var (
	mountFunc   = syscall.Mount
	unmountFunc = syscall.Unmount
	syncFunc    = syscall.Sync
	syncfsFunc  = unix.Syncfs
)

const mountInfoPath = "/proc/self/mountinfo"

// linuxOps drives the kernel mount interfaces directly.
type linuxOps struct{}

// NewLinuxOps returns the production mount operations.
func NewLinuxOps() Ops {
	return linuxOps{}
}

func (linuxOps) Probe(path string) (bool, error) {
	f, err := os.Open(mountInfoPath)
	if err != nil {
		return false, fmt.Errorf("failed to open %s: %w", mountInfoPath, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 {
			continue
		}
		if unescapeMountPath(fields[4]) == path {
			return true, nil
		}
	}
	return false, scanner.Err()
}

func (linuxOps) RemountReadOnly(path string) error {
	return mountFunc("", path, "", syscall.MS_REMOUNT|syscall.MS_RDONLY, "")
}

func (linuxOps) Sync() {
	syncFunc()
}

func (linuxOps) SyncFS(path string) error {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_DIRECTORY, 0)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer unix.Close(fd)
	return syncfsFunc(fd)
}

func (linuxOps) Unmount(path string) error {
	return unmountFunc(path, 0)
}

// unescapeMountPath decodes the octal escapes mountinfo uses for
// whitespace and backslashes in mount points.
func unescapeMountPath(s string) string {
	replacer := strings.NewReplacer(`\040`, " ", `\011`, "\t", `\012`, "\n", `\134`, `\`)
	return replacer.Replace(s)
}
