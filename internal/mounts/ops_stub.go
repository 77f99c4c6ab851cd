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

//go:build !linux

package mounts

import "errors"

var errUnsupported = errors.New("managed mounts are only supported on linux")

type stubOps struct{}

// NewLinuxOps returns a stub on non-Linux platforms so the daemon still
// builds for development hosts.
func NewLinuxOps() Ops {
	return stubOps{}
}

func (stubOps) Probe(string) (bool, error)    { return false, errUnsupported }
func (stubOps) RemountReadOnly(string) error  { return errUnsupported }
func (stubOps) Sync()                         {}
func (stubOps) SyncFS(string) error           { return errUnsupported }
func (stubOps) Unmount(string) error          { return errUnsupported }
