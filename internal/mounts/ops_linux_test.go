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

import "testing"

func TestProbeRootIsMounted(t *testing.T) {
	ops := NewLinuxOps()
	mounted, err := ops.Probe("/")
	if err != nil {
		t.Fatalf("Probe(/) error = %v", err)
	}
	if !mounted {
		t.Error("Probe(/) = false, the root filesystem is always mounted")
	}
}

func TestProbeUnknownPath(t *testing.T) {
	ops := NewLinuxOps()
	mounted, err := ops.Probe("/powerd-definitely-not-a-mount")
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if mounted {
		t.Error("Probe(unknown) = true, want false")
	}
}

func TestUnescapeMountPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`/mnt/plain`, "/mnt/plain"},
		{`/mnt/with\040space`, "/mnt/with space"},
		{`/mnt/back\134slash`, `/mnt/back\slash`},
	}
	for _, tt := range tests {
		if got := unescapeMountPath(tt.in); got != tt.want {
			t.Errorf("unescapeMountPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
