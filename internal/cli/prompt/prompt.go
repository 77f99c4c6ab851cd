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

// Package prompt provides interactive confirmation for power commands.
// A shutdown or reboot is irreversible once the daemon accepts it, so
// powerctl asks before sending unless --now is given. The Prompter
// interface exists so command tests can script answers.
package prompt

import "context"

// Prompter collects a yes/no answer from the operator.
// Implementations include SurveyPrompter (production) and MockPrompter (testing).
type Prompter interface {
	// Confirm asks a yes/no question and returns the answer.
	Confirm(ctx context.Context, message string, def bool) (bool, error)

	// IsInteractive returns true if prompts can be displayed
	IsInteractive() bool
}
