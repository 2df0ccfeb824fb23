// Package strings holds text helpers for terminal output.
package strings

import (
	"strings"
)

const (
	// CellMaxLen bounds table cells that hold nested JSON.
	CellMaxLen = 100
	// DescriptionMaxLen bounds tool descriptions in listings.
	DescriptionMaxLen = 60

	ellipsis = "..."
)

// SingleLine collapses every run of whitespace, newlines included, into
// one space.
func SingleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Truncate shortens s to at most maxLen runes, ending in "..." when
// anything was cut. maxLen below 4 is raised to 4 so at least one rune
// survives.
func Truncate(s string, maxLen int) string {
	if maxLen < len(ellipsis)+1 {
		maxLen = len(ellipsis) + 1
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-len(ellipsis)]) + ellipsis
}

// Summary is the single-line, truncated form used for descriptions.
func Summary(s string, maxLen int) string {
	return Truncate(SingleLine(s), maxLen)
}
