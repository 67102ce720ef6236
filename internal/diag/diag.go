// Package diag defines the recoverable diagnostics that analysis
// stages hand back to their caller instead of aborting.
package diag

import "fmt"

// Kind classifies a recoverable diagnostic.
type Kind string

// Diagnostic kinds.
const (
	// ToolFailure is an external tool that exited abnormally for one
	// unit of work (typically one test case).
	ToolFailure Kind = "tool_failure"

	// MalformedData is a record that could not be parsed and was
	// skipped.
	MalformedData Kind = "malformed_data"

	// Unresolved is an instruction with no matching debug location.
	Unresolved Kind = "unresolved"
)

// Warning is a non-fatal problem found while processing one record.
type Warning struct {
	Kind   Kind   `json:"kind"`
	Detail string `json:"detail"`
}

// Warnf builds a Warning with a formatted detail message.
func Warnf(kind Kind, format string, args ...any) Warning {
	return Warning{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func (w Warning) String() string {
	return string(w.Kind) + ": " + w.Detail
}
