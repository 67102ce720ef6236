// Package trace collects per-test execution traces from external
// tracers and reduces them to the lines that identify executed
// source statements.
package trace

import (
	"strings"
)

// excludedMarkers are substrings that mark address- or file-annotated
// step lines; such lines never count as plain source lines.
var excludedMarkers = []string{"0x", ".c", "./"}

// IsBreakpoint reports whether line is a breakpoint-hit notice.
func IsBreakpoint(line string) bool {
	return strings.HasPrefix(line, "Breakpoint")
}

// IsSourceLine reports whether line is a "line-number + source text"
// entry: it starts with a decimal digit and carries no address or file
// annotation.
func IsSourceLine(line string) bool {
	if !startsWithDigit(line) {
		return false
	}
	for _, m := range excludedMarkers {
		if strings.Contains(line, m) {
			return false
		}
	}
	return true
}

// IsBrace reports whether line is a lone opening or closing brace.
func IsBrace(line string) bool {
	t := strings.TrimSpace(line)
	return t == "{" || t == "}"
}

// Keep reports whether a trimmed trace line survives filtering.
func Keep(line string) bool {
	return IsBreakpoint(line) || IsSourceLine(line) || IsBrace(line)
}

// Filter returns the trimmed lines of raw that Keep accepts, in order.
func Filter(raw []string) []string {
	var out []string
	for _, line := range raw {
		line = strings.TrimSpace(line)
		if Keep(line) {
			out = append(out, line)
		}
	}
	return out
}

func startsWithDigit(s string) bool {
	return s != "" && s[0] >= '0' && s[0] <= '9'
}
