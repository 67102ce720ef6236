package trace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// GDB traces a native binary by single-stepping it under gdb in batch
// mode and logging every instruction and source line it stops at.
type GDB struct {
	// Path is the gdb executable. Default: "gdb".
	Path string

	// Entry is the function the step loop starts from. Default: "main".
	Entry string
}

// Script returns the gdb command script that logs a full stepping run
// of the program with the given space-joined inputs into logFile.
func (g GDB) Script(inputs []string, logFile string) string {
	entry := g.Entry
	if entry == "" {
		entry = "main"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "set pagination off\n")
	fmt.Fprintf(&b, "set confirm off\n")
	fmt.Fprintf(&b, "set logging file %s\n", logFile)
	fmt.Fprintf(&b, "set logging overwrite on\n")
	fmt.Fprintf(&b, "set logging on\n\n")
	fmt.Fprintf(&b, "break %s\n", entry)
	fmt.Fprintf(&b, "run %s\n\n", strings.Join(inputs, " "))
	b.WriteString(`define step_and_log_ir
  while ($pc != 0)
    x/i $pc
    stepi
  end
end

step_and_log_ir

set logging off
quit
`)
	return b.String()
}

// Trace implements Tracer.
func (g GDB) Trace(ctx context.Context, binary string, inputs []string) ([]string, error) {
	path := g.Path
	if path == "" {
		path = "gdb"
	}

	dir, err := os.MkdirTemp("", "faultloc-gdb-*")
	if err != nil {
		return nil, fmt.Errorf("creating gdb work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	logFile := filepath.Join(dir, "trace.log")
	scriptFile := filepath.Join(dir, "trace.gdb")
	if err := os.WriteFile(scriptFile, []byte(g.Script(inputs, logFile)), 0o600); err != nil {
		return nil, fmt.Errorf("writing gdb script: %w", err)
	}

	cmd := exec.CommandContext(ctx, path, "-batch", "-x", scriptFile, binary)
	if _, err := RunTool(cmd); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(logFile)
	if err != nil {
		return nil, fmt.Errorf("reading gdb log: %w", err)
	}
	lines, err := SplitLines(data)
	if err != nil {
		return nil, fmt.Errorf("reading gdb log: %w", err)
	}
	return lines, nil
}
