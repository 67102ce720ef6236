package corpus

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		ok      bool
		outcome Outcome
		args    string
	}{
		{name: "failed_marker", line: "f 1 2", ok: true, outcome: Failed, args: "1 2"},
		{name: "failed_word", line: "fail 3", ok: true, outcome: Failed, args: "3"},
		{name: "passed_marker", line: "p 3 4", ok: true, outcome: Passed, args: "3 4"},
		{name: "any_other_marker", line: "ok 5", ok: true, outcome: Passed, args: "5"},
		{name: "marker_only", line: "f", ok: true, outcome: Failed, args: ""},
		{name: "extra_whitespace", line: "  p   7\t8  ", ok: true, outcome: Passed, args: "7 8"},
		{name: "blank", line: "   ", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc, ok := ParseLine(tt.line)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if tc.Outcome != tt.outcome {
				t.Errorf("outcome = %s, want %s", tc.Outcome, tt.outcome)
			}
			if got := tc.Args(); got != tt.args {
				t.Errorf("Args() = %q, want %q", got, tt.args)
			}
		})
	}
}

func TestParse_SkipsBlankLinesKeepsIndex(t *testing.T) {
	cases, err := Parse(strings.NewReader("f 1 2\n\np 3 4\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(cases) != 2 {
		t.Fatalf("expected 2 cases, got %d", len(cases))
	}
	if cases[0].Index != 0 || cases[1].Index != 2 {
		t.Errorf("indices = %d,%d, want 0,2", cases[0].Index, cases[1].Index)
	}
	failed, passed := Totals(cases)
	if failed != 1 || passed != 1 {
		t.Errorf("Totals = %d/%d, want 1/1", failed, passed)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing"))
	if !os.IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}
