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

package prompt

import (
	"context"
	"fmt"
)

// MockPrompter implements Prompter with scripted answers for testing.
// Answers are consumed in order; running out of answers is an error so
// tests notice unexpected prompts.
type MockPrompter struct {
	// Answers are returned by successive Confirm calls.
	Answers []bool

	// Err, if set, is returned by every Confirm call.
	Err error

	// Messages records the questions asked, in order.
	Messages []string

	next int
}

// NewMockPrompter creates a mock prompter with the given scripted answers.
func NewMockPrompter(answers ...bool) *MockPrompter {
	return &MockPrompter{Answers: answers}
}

// Confirm returns the next scripted answer.
func (mp *MockPrompter) Confirm(ctx context.Context, message string, def bool) (bool, error) {
	mp.Messages = append(mp.Messages, message)

	if mp.Err != nil {
		return false, mp.Err
	}
	if mp.next >= len(mp.Answers) {
		return false, fmt.Errorf("unexpected prompt: %q", message)
	}

	answer := mp.Answers[mp.next]
	mp.next++
	return answer, nil
}

// IsInteractive always returns true for the mock.
func (mp *MockPrompter) IsInteractive() bool {
	return true
}
