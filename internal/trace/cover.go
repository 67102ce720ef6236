package trace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/tools/cover"
)

// Cover derives an execution trace from Go's coverage instrumentation
// instead of single-stepping. The binary must be built with
// "go build -cover". Every line of every executed block in SourceFile
// is reported as a bare line-number entry.
type Cover struct {
	// GoPath is the go executable used for "go tool covdata".
	// Default: "go".
	GoPath string

	// SourceFile restricts reported lines to profile entries whose
	// file name ends with this suffix. Empty reports every file.
	SourceFile string
}

// Trace implements Tracer.
func (c Cover) Trace(ctx context.Context, binary string, inputs []string) ([]string, error) {
	goPath := c.GoPath
	if goPath == "" {
		goPath = "go"
	}

	dir, err := os.MkdirTemp("", "faultloc-cover-*")
	if err != nil {
		return nil, fmt.Errorf("creating cover work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	covDir := filepath.Join(dir, "covdata")
	if err := os.Mkdir(covDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating GOCOVERDIR: %w", err)
	}

	run := exec.CommandContext(ctx, binary, inputs...)
	run.Env = append(os.Environ(), "GOCOVERDIR="+covDir)
	// A failing program is expected for failing tests; only a missing
	// coverage payload makes the trace unusable.
	_, _ = run.CombinedOutput()

	profile := filepath.Join(dir, "cover.out")
	conv := exec.CommandContext(ctx, goPath, "tool", "covdata", "textfmt", "-i="+covDir, "-o="+profile)
	if _, err := RunTool(conv); err != nil {
		return nil, err
	}

	profiles, err := cover.ParseProfiles(profile)
	if err != nil {
		return nil, fmt.Errorf("parsing coverage profile: %w", err)
	}
	return ProfileLines(profiles, c.SourceFile), nil
}

// ProfileLines lists, in order of first appearance, every line spanned
// by an executed block of the profiles whose file name ends with
// sourceFile.
func ProfileLines(profiles []*cover.Profile, sourceFile string) []string {
	seen := make(map[int]bool)
	var lines []string
	for _, p := range profiles {
		if sourceFile != "" && !strings.HasSuffix(p.FileName, sourceFile) {
			continue
		}
		for _, b := range p.Blocks {
			if b.Count == 0 {
				continue
			}
			for n := b.StartLine; n <= b.EndLine; n++ {
				if seen[n] {
					continue
				}
				seen[n] = true
				lines = append(lines, strconv.Itoa(n))
			}
		}
	}
	return lines
}
