package toolchain

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/unbound-force/faultloc/internal/trace"
)

func TestCompileArgs(t *testing.T) {
	got := CompileArgs(Options{Source: "minmax.c", Binary: "minmax"})
	want := []string{"-g", "-o", "minmax", "minmax.c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("CompileArgs = %q, want %q", got, want)
	}

	got = CompileArgs(Options{Flags: []string{"-g", "-O0"}, Source: "a.c", Binary: "a"})
	want = []string{"-g", "-O0", "-o", "a", "a.c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("CompileArgs = %q, want %q", got, want)
	}
}

func TestEmitIRArgs(t *testing.T) {
	got := EmitIRArgs(Options{Source: "minmax.c", IRDump: "minmax.ll"})
	want := []string{"-S", "-emit-llvm", "-g", "-O0", "-o", "minmax.ll", "minmax.c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("EmitIRArgs = %q, want %q", got, want)
	}
}

func TestCompile_MissingPaths(t *testing.T) {
	if err := Compile(context.Background(), Options{Source: "a.c"}); err == nil {
		t.Error("expected error without binary")
	}
	if err := EmitIR(context.Background(), Options{Source: "a.c"}); err == nil {
		t.Error("expected error without IR dump path")
	}
}

func TestCompile_ToolFailure(t *testing.T) {
	// A compiler stand-in that always fails.
	dir := t.TempDir()
	cc := filepath.Join(dir, "cc")
	script := "#!/bin/sh\necho 'error: expected ;' >&2\nexit 1\n"
	if err := os.WriteFile(cc, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}

	err := Compile(context.Background(), Options{
		Compiler: cc,
		Source:   filepath.Join(dir, "broken.c"),
		Binary:   filepath.Join(dir, "broken"),
	})
	if err == nil {
		t.Fatal("expected compile error")
	}
	var te *trace.ToolError
	if !errors.As(err, &te) {
		t.Fatalf("expected *trace.ToolError, got %T", err)
	}
	if te.ExitCode != 1 {
		t.Errorf("exit code = %d, want 1", te.ExitCode)
	}
}

func TestCompile_Success(t *testing.T) {
	dir := t.TempDir()
	cc := filepath.Join(dir, "cc")
	// Touches the path following -o.
	script := "#!/bin/sh\nwhile [ $# -gt 0 ]; do if [ \"$1\" = -o ]; then touch \"$2\"; fi; shift; done\n"
	if err := os.WriteFile(cc, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	bin := filepath.Join(dir, "prog")
	if err := Compile(context.Background(), Options{Compiler: cc, Source: "prog.c", Binary: bin}); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if _, err := os.Stat(bin); err != nil {
		t.Errorf("binary not produced: %v", err)
	}
}
