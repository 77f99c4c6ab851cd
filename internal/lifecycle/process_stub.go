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

package lifecycle

import "errors"

// Without /proc there is no cmdline to inspect. Refusing the match is
// the safe answer: callers treat an unverifiable PID as foreign and
// never signal it.
func isPowerdProcess(int) bool { return false }

func getProcessCommand(int) (string, error) {
	return "", errors.New("process inspection requires linux")
}
