package trace

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Tracer runs a binary with one test's inputs and returns the raw
// execution log, one entry per line.
//
// A tracer that exits abnormally returns a *ToolError; callers treat
// it as a per-test failure rather than aborting the run.
type Tracer interface {
	Trace(ctx context.Context, binary string, inputs []string) ([]string, error)
}

// TracerFunc adapts a plain function to the Tracer interface.
type TracerFunc func(ctx context.Context, binary string, inputs []string) ([]string, error)

// Trace calls f.
func (f TracerFunc) Trace(ctx context.Context, binary string, inputs []string) ([]string, error) {
	return f(ctx, binary, inputs)
}

// ToolError reports an external tool that terminated unsuccessfully.
type ToolError struct {
	// Tool is the executable name (gdb, dlv, gcc, ...).
	Tool string

	// ExitCode is the process exit status, or -1 when the process
	// could not be started or was killed.
	ExitCode int

	// Output is the captured diagnostic output.
	Output string

	Err error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s failed (exit %d)", e.Tool, e.ExitCode)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *ToolError) Unwrap() error { return e.Err }

// IsToolError reports whether err is, or wraps, a *ToolError.
func IsToolError(err error) bool {
	var te *ToolError
	return errors.As(err, &te)
}

// RunTool runs cmd to completion and converts a failed run into a
// *ToolError carrying the combined output.
func RunTool(cmd *exec.Cmd) ([]byte, error) {
	out, err := cmd.CombinedOutput()
	if err == nil {
		return out, nil
	}
	code := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}
	return out, &ToolError{
		Tool:     cmd.Args[0],
		ExitCode: code,
		Output:   string(out),
		Err:      err,
	}
}

// maxLineSize bounds a single line of tool output.
const maxLineSize = 1024 * 1024

// SplitLines splits tool output into lines without trailing newlines.
// A line longer than maxLineSize is an error rather than a silently
// truncated trace.
func SplitLines(data []byte) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return lines, fmt.Errorf("line %d: %w", len(lines)+1, err)
	}
	return lines, nil
}
