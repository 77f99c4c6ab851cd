// Package format provides CLI output helpers with TTY detection.
package format

import (
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/term"
)

// IsTTY determines if output should use terminal formatting.
// Returns true if stdout is a TTY with color support.
// Returns false if stdout is piped, NO_COLOR is set, or TERM is "dumb" or empty.
func IsTTY() bool {
	// Check NO_COLOR environment variable
	if os.Getenv("NO_COLOR") != "" {
		return false
	}

	// Check TERM environment variable
	termEnv := os.Getenv("TERM")
	if termEnv == "dumb" || termEnv == "" {
		return false
	}

	// Check if stdout is a terminal
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// JSON pretty-prints a value with 2-space indentation. journal --jq and
// status --jq results go through here before printing.
func JSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to format JSON: %w", err)
	}
	return string(data), nil
}

// Ago renders a duration in seconds as a compact human age like "3m" or
// "2h15m". Journal listings use it for the STARTED column.
func Ago(seconds int64) string {
	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%dm", seconds/60)
	case seconds < 86400:
		m := (seconds % 3600) / 60
		if m == 0 {
			return fmt.Sprintf("%dh", seconds/3600)
		}
		return fmt.Sprintf("%dh%dm", seconds/3600, m)
	default:
		return fmt.Sprintf("%dd", seconds/86400)
	}
}
