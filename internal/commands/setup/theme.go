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

package setup

import (
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
)

// Color definitions, matching the palette the rest of the CLI renders with.
var (
	ColorPrimary = lipgloss.Color("39")  // Blue
	ColorSuccess = lipgloss.Color("42")  // Green
	ColorWarning = lipgloss.Color("214") // Orange
	ColorError   = lipgloss.Color("196") // Red
	ColorMuted   = lipgloss.Color("245") // Gray
)

// Theme defines the visual theme for the setup wizard.
// It's based on the Charm theme but customized with powerd's color palette.
func Theme() *huh.Theme {
	t := huh.ThemeCharm()

	// Focused field styles (when user is interacting)
	t.Focused.Base = lipgloss.NewStyle()
	t.Focused.Title = lipgloss.NewStyle().Foreground(ColorPrimary).Bold(true)
	t.Focused.Description = lipgloss.NewStyle().Foreground(ColorMuted)
	t.Focused.ErrorIndicator = lipgloss.NewStyle().Foreground(ColorError).Bold(true)
	t.Focused.ErrorMessage = lipgloss.NewStyle().Foreground(ColorError)

	// Select field styles
	t.Focused.SelectSelector = lipgloss.NewStyle().Foreground(ColorPrimary).Bold(true)
	t.Focused.Option = lipgloss.NewStyle()
	t.Focused.NextIndicator = lipgloss.NewStyle().Foreground(ColorMuted)
	t.Focused.PrevIndicator = lipgloss.NewStyle().Foreground(ColorMuted)

	// Confirm / select choice styles
	t.Focused.SelectedOption = lipgloss.NewStyle().Foreground(ColorSuccess)
	t.Focused.SelectedPrefix = lipgloss.NewStyle().Foreground(ColorSuccess).SetString("✓ ")
	t.Focused.UnselectedOption = lipgloss.NewStyle()
	t.Focused.UnselectedPrefix = lipgloss.NewStyle().SetString("  ")

	// Button styles
	t.Focused.FocusedButton = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).Background(ColorPrimary).Padding(0, 1).Bold(true)
	t.Focused.BlurredButton = lipgloss.NewStyle().Foreground(ColorMuted).Padding(0, 1)

	// Blurred field styles (when field is not active)
	t.Blurred.Base = lipgloss.NewStyle()
	t.Blurred.Title = lipgloss.NewStyle().Foreground(ColorMuted)
	t.Blurred.Description = lipgloss.NewStyle().Foreground(ColorMuted)
	t.Blurred.SelectSelector = lipgloss.NewStyle().Foreground(ColorMuted)
	t.Blurred.NextIndicator = lipgloss.NewStyle().Foreground(ColorMuted)
	t.Blurred.PrevIndicator = lipgloss.NewStyle().Foreground(ColorMuted)

	return t
}

// ApplyTheme applies the powerd theme to a form.
// Usage: form := huh.NewForm(...); setup.ApplyTheme(form)
func ApplyTheme(form *huh.Form) *huh.Form {
	return form.WithTheme(Theme())
}

// MaskSecret masks a token secret for display.
// Secret references (keyring://, secret://) are shown verbatim since they
// name a storage location, not key material.
// Examples:
//   - "hunter2good" -> "hu*****ood"
//   - "keyring://powerd/api-token" -> unchanged
func MaskSecret(secret string) string {
	if secret == "" {
		return "(not set)"
	}

	if strings.HasPrefix(secret, "keyring://") || strings.HasPrefix(secret, "secret://") {
		return secret
	}

	// For very short secrets, show only first few chars
	if len(secret) < 8 {
		return secret[:min(3, len(secret))] + "***"
	}

	// Show prefix (2 chars), mask middle, show suffix (3 chars)
	prefix := secret[:2]
	suffix := secret[len(secret)-3:]

	masked := len(secret) - len(prefix) - len(suffix)

	return prefix + strings.Repeat("*", min(masked, 5)) + suffix
}
