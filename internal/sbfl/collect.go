package sbfl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/unbound-force/faultloc/internal/corpus"
	"github.com/unbound-force/faultloc/internal/diag"
	"github.com/unbound-force/faultloc/internal/trace"
)

// Matrix is the coverage matrix: per-line failing/passing execution
// counts plus the corpus totals.
type Matrix struct {
	Lines       map[int]Counts `json:"lines"`
	TotalFailed int            `json:"total_failed"`
	TotalPassed int            `json:"total_passed"`
}

// NewMatrix returns an empty matrix.
func NewMatrix() *Matrix {
	return &Matrix{Lines: make(map[int]Counts)}
}

// Add records one test case: its outcome counts toward the totals and
// every line in executed is credited once.
func (m *Matrix) Add(outcome corpus.Outcome, executed map[int]struct{}) {
	if outcome == corpus.Failed {
		m.TotalFailed++
	} else {
		m.TotalPassed++
	}
	for line := range executed {
		c := m.Lines[line]
		if outcome == corpus.Failed {
			c.Failed++
		} else {
			c.Passed++
		}
		m.Lines[line] = c
	}
}

// ExecutedLines extracts the set of source lines named by a filtered
// trace: the leading integer of every line that starts with a digit.
func ExecutedLines(filtered []string) map[int]struct{} {
	set := make(map[int]struct{})
	for _, line := range filtered {
		end := 0
		for end < len(line) && line[end] >= '0' && line[end] <= '9' {
			end++
		}
		if end == 0 {
			continue
		}
		n, err := strconv.Atoi(line[:end])
		if err != nil {
			continue
		}
		set[n] = struct{}{}
	}
	return set
}

// CollectOptions configures trace collection.
type CollectOptions struct {
	// Workers is the number of test cases traced concurrently.
	// Values below 2 trace sequentially.
	Workers int

	// Timeout bounds each tracer invocation. Zero means no limit.
	Timeout time.Duration

	// TraceDir, when set, receives trace_<i>.log and
	// filtered_trace_<i>.log for every test case.
	TraceDir string
}

// caseResult is the per-test output of the tracing phase.
type caseResult struct {
	executed map[int]struct{}
	warning  *diag.Warning
}

// Collect traces every test case and accumulates the coverage matrix.
//
// A tracer failure degrades that test's coverage to empty and yields a
// warning; its outcome still counts toward the totals. Only
// cancellation of ctx or an unwritable TraceDir aborts collection.
// Results are reduced in corpus order, so the matrix is identical for
// any worker count.
func Collect(ctx context.Context, tracer trace.Tracer, binary string, cases []corpus.TestCase, opts CollectOptions) (*Matrix, []diag.Warning, error) {
	if opts.TraceDir != "" {
		if err := os.MkdirAll(opts.TraceDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating trace dir: %w", err)
		}
	}

	results := make([]caseResult, len(cases))

	g, gctx := errgroup.WithContext(ctx)
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)
	for i, tc := range cases {
		g.Go(func() error {
			res, err := traceOne(gctx, tracer, binary, tc, opts)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	m := NewMatrix()
	var warnings []diag.Warning
	for i, tc := range cases {
		if w := results[i].warning; w != nil {
			warnings = append(warnings, *w)
		}
		m.Add(tc.Outcome, results[i].executed)
	}
	return m, warnings, nil
}

func traceOne(ctx context.Context, tracer trace.Tracer, binary string, tc corpus.TestCase, opts CollectOptions) (caseResult, error) {
	if err := ctx.Err(); err != nil {
		return caseResult{}, err
	}

	tctx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	raw, err := tracer.Trace(tctx, binary, tc.Inputs)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return caseResult{}, ctxErr
		}
		w := diag.Warnf(diag.ToolFailure, "tracing test %d (%s) with input %q: %v",
			tc.Index, tc.Outcome, tc.Args(), err)
		return caseResult{executed: map[int]struct{}{}, warning: &w}, nil
	}

	filtered := trace.Filter(raw)
	if opts.TraceDir != "" {
		if err := writeTrace(opts.TraceDir, tc.Index, raw, filtered); err != nil {
			return caseResult{}, err
		}
	}
	return caseResult{executed: ExecutedLines(filtered)}, nil
}

func writeTrace(dir string, idx int, raw, filtered []string) error {
	files := map[string][]string{
		fmt.Sprintf("trace_%d.log", idx):          raw,
		fmt.Sprintf("filtered_trace_%d.log", idx): filtered,
	}
	for name, lines := range files {
		var b strings.Builder
		for _, l := range lines {
			b.WriteString(l)
			b.WriteByte('\n')
		}
		if err := os.WriteFile(filepath.Join(dir, name), []byte(b.String()), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}
	return nil
}
