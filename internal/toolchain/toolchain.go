// Package toolchain invokes the compiler that produces the traced
// binary and, optionally, the textual LLVM IR dump the debug resolver
// reads.
package toolchain

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/unbound-force/faultloc/internal/trace"
)

// Options describes one compilation.
type Options struct {
	// Compiler is the C compiler executable. Default: "gcc".
	Compiler string

	// Flags are passed before the output flag. Default: ["-g"].
	Flags []string

	Source string
	Binary string

	// IRCompiler produces the IR dump. Default: "clang".
	IRCompiler string

	// IRDump is the path of the textual IR dump.
	IRDump string
}

// CompileArgs returns the compiler argument list for opts.
func CompileArgs(opts Options) []string {
	flags := opts.Flags
	if flags == nil {
		flags = []string{"-g"}
	}
	args := append([]string{}, flags...)
	return append(args, "-o", opts.Binary, opts.Source)
}

// EmitIRArgs returns the argument list that writes the unoptimized IR
// with debug metadata.
func EmitIRArgs(opts Options) []string {
	return []string{"-S", "-emit-llvm", "-g", "-O0", "-o", opts.IRDump, opts.Source}
}

// Compile builds opts.Binary from opts.Source. A failing compiler is
// reported as a *trace.ToolError.
func Compile(ctx context.Context, opts Options) error {
	if opts.Source == "" || opts.Binary == "" {
		return fmt.Errorf("compile: source and binary must be set")
	}
	cc := opts.Compiler
	if cc == "" {
		cc = "gcc"
	}
	if _, err := trace.RunTool(exec.CommandContext(ctx, cc, CompileArgs(opts)...)); err != nil {
		return fmt.Errorf("compiling %s: %w", opts.Source, err)
	}
	return nil
}

// EmitIR writes the textual IR dump of opts.Source to opts.IRDump.
func EmitIR(ctx context.Context, opts Options) error {
	if opts.Source == "" || opts.IRDump == "" {
		return fmt.Errorf("emit IR: source and IR dump path must be set")
	}
	cc := opts.IRCompiler
	if cc == "" {
		cc = "clang"
	}
	if _, err := trace.RunTool(exec.CommandContext(ctx, cc, EmitIRArgs(opts)...)); err != nil {
		return fmt.Errorf("emitting IR for %s: %w", opts.Source, err)
	}
	return nil
}
