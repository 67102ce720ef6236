// Package corpus reads labeled test corpora: one test case per line,
// a pass/fail marker followed by the program inputs.
package corpus

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Outcome is the expected result of a test case.
type Outcome int

// Outcome values.
const (
	Passed Outcome = iota
	Failed
)

// String returns "passed" or "failed".
func (o Outcome) String() string {
	if o == Failed {
		return "failed"
	}
	return "passed"
}

// TestCase is one labeled execution of the program under analysis.
type TestCase struct {
	// Index is the zero-based line position of the case in the corpus
	// file, counting blank lines. Trace artifacts are named after it.
	Index int

	// Outcome is Failed when the marker token starts with 'f'.
	Outcome Outcome

	// Inputs are the whitespace-separated tokens after the marker.
	Inputs []string
}

// Args returns the inputs joined by single spaces, the way they are
// handed to the traced program.
func (tc TestCase) Args() string {
	return strings.Join(tc.Inputs, " ")
}

// ParseLine parses one corpus line. ok is false for blank lines.
func ParseLine(line string) (tc TestCase, ok bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return TestCase{}, false
	}
	tc.Outcome = Passed
	if strings.HasPrefix(fields[0], "f") {
		tc.Outcome = Failed
	}
	tc.Inputs = fields[1:]
	return tc, true
}

// Parse reads every test case from r, skipping blank lines.
func Parse(r io.Reader) ([]TestCase, error) {
	var cases []TestCase
	scanner := bufio.NewScanner(r)
	idx := 0
	for scanner.Scan() {
		tc, ok := ParseLine(scanner.Text())
		if ok {
			tc.Index = idx
			cases = append(cases, tc)
		}
		idx++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading corpus: %w", err)
	}
	return cases, nil
}

// Load reads the corpus file at path.
func Load(path string) ([]TestCase, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Totals counts the failed and passed cases.
func Totals(cases []TestCase) (failed, passed int) {
	for _, tc := range cases {
		if tc.Outcome == Failed {
			failed++
		} else {
			passed++
		}
	}
	return failed, passed
}
