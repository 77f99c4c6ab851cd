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

// Package timeline renders ASCII phase timelines for power transitions.
package timeline

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/term"
)

const (
	// MinTerminalWidth is the minimum supported terminal width
	MinTerminalWidth = 80
	// DefaultBarWidth is the default width for duration bars
	DefaultBarWidth = 40
	// StatusIconOK marks a phase the transition moved past
	StatusIconOK = "✓"
	// StatusIconError marks the phase an interrupted transition died in
	StatusIconError = "✗"
	// StatusIconOpen marks the phase a pending transition is still in
	StatusIconOpen = "…"

	nameWidth = 20
)

// Phase is one step of a transition with its entry time.
type Phase struct {
	Name      string
	EnteredAt time.Time
}

// Entry is a journaled transition prepared for rendering.
type Entry struct {
	ID        string
	Command   string
	Outcome   string
	StartedAt time.Time
	SealedAt  *time.Time
	Phases    []Phase
}

// Renderer renders ASCII timelines from journal entries.
type Renderer struct {
	Width    int
	BarWidth int
}

// NewRenderer creates a timeline renderer with terminal width detection.
func NewRenderer() (*Renderer, error) {
	width, _, err := term.GetSize(0)
	if err != nil {
		// Default to 100 if detection fails
		width = 100
	}

	if width < MinTerminalWidth {
		return nil, fmt.Errorf("terminal width %d is too narrow (minimum %d columns)", width, MinTerminalWidth)
	}

	// Reserve space for the phase name, duration, status, and borders.
	// Format: "│ phase_name ██████░░░░  duration  status │"
	barWidth := width - 40
	if barWidth > 60 {
		barWidth = 60
	}
	if barWidth < DefaultBarWidth {
		barWidth = DefaultBarWidth
	}

	return &Renderer{
		Width:    width,
		BarWidth: barWidth,
	}, nil
}

// Render generates an ASCII timeline for one transition.
func (r *Renderer) Render(e Entry) (string, error) {
	if len(e.Phases) == 0 {
		return "", fmt.Errorf("no phases to render")
	}

	start := e.StartedAt
	if start.IsZero() {
		start = e.Phases[0].EnteredAt
	}

	end, sealed := r.endTime(e)
	total := end.Sub(start)
	if total <= 0 {
		total = time.Millisecond
	}

	var sb strings.Builder

	border := strings.Repeat("─", r.Width-2)
	sb.WriteString("┌" + border + "┐\n")

	totalStr := formatDuration(total)
	if !sealed {
		totalStr += "+"
	}
	header := fmt.Sprintf("│ Transition: %-*s Total: %-8s │\n",
		r.Width-33,
		truncate(e.Command+" ("+e.ID+")", r.Width-33),
		totalStr)
	sb.WriteString(header)

	sb.WriteString("├" + border + "┤\n")

	for i, phase := range e.Phases {
		phaseEnd := end
		open := !sealed && i == len(e.Phases)-1
		if i+1 < len(e.Phases) {
			phaseEnd = e.Phases[i+1].EnteredAt
			open = false
		}

		icon := r.phaseIcon(e, i, open)
		line := r.renderPhase(phase, phaseEnd, open, icon, start, total)
		sb.WriteString(line)
	}

	sb.WriteString("└" + border + "┘\n")

	return sb.String(), nil
}

// endTime returns when the transition stopped accruing phases and
// whether that end is authoritative (sealed) or just the latest entry.
func (r *Renderer) endTime(e Entry) (time.Time, bool) {
	if e.SealedAt != nil {
		return *e.SealedAt, true
	}
	return e.Phases[len(e.Phases)-1].EnteredAt, false
}

// phaseIcon picks the status marker for a phase row. Every phase the
// transition moved past gets a check; the final phase reflects the
// entry's outcome.
func (r *Renderer) phaseIcon(e Entry, i int, open bool) string {
	if i < len(e.Phases)-1 {
		return StatusIconOK
	}
	if open || e.Outcome == "pending" {
		return StatusIconOpen
	}
	if e.Outcome == "interrupted" {
		return StatusIconError
	}
	return StatusIconOK
}

// renderPhase generates a timeline line for a single phase.
func (r *Renderer) renderPhase(phase Phase, phaseEnd time.Time, open bool, icon string, start time.Time, total time.Duration) string {
	duration := phaseEnd.Sub(phase.EnteredAt)
	if duration < 0 {
		duration = 0
	}

	// Calculate bar position and length
	startOffset := phase.EnteredAt.Sub(start)
	startPos := int(float64(startOffset) / float64(total) * float64(r.BarWidth))
	barLength := int(float64(duration) / float64(total) * float64(r.BarWidth))

	if barLength < 1 {
		barLength = 1
	}
	if startPos >= r.BarWidth {
		startPos = r.BarWidth - 1
	}
	if startPos+barLength > r.BarWidth {
		barLength = r.BarWidth - startPos
	}

	// Build the timeline bar
	bar := make([]rune, r.BarWidth)
	for i := 0; i < r.BarWidth; i++ {
		if i >= startPos && i < startPos+barLength {
			bar[i] = '█'
		} else {
			bar[i] = '░'
		}
	}

	durationStr := formatDuration(duration)
	if open {
		durationStr += "+"
	}

	return fmt.Sprintf("│ %-*s %s  %7s  %s │\n",
		nameWidth,
		truncate(phase.Name, nameWidth),
		string(bar),
		durationStr,
		icon,
	)
}

// truncate shortens a string to maxLen with ellipsis if needed.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}
