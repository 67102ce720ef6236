package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/unbound-force/faultloc/internal/config"
	"github.com/unbound-force/faultloc/internal/pdg"
	"github.com/unbound-force/faultloc/internal/sbfl"
	"github.com/unbound-force/faultloc/internal/toolchain"
	"github.com/unbound-force/faultloc/internal/trace"
)

const testIR = `define dso_local i32 @minmax(i32 noundef %0) #0 !dbg !9 {
  %1 = alloca i32, align 4, !dbg !13
  %2 = load i32, ptr %1, align 4, !dbg !14
  %3 = icmp sgt i32 %2, 0, !dbg !15
  br label %7
}
!13 = !DILocation(line: 3, column: 7, scope: !9)
!14 = !DILocation(line: 4, column: 7, scope: !9)
!15 = !DILocation(line: 5, column: 7, scope: !9)
`

const testGraph = `[
  {"instruction": [
    [0, ["%1 = alloca i32, align 4"]],
    [1, ["%2 = load i32, ptr %1, align 4"]],
    [2, ["%3 = icmp sgt i32 %2, 0"]],
    [3, ["br label %7"]]
  ]},
  {"instruction_control_instruction": [[0, 1], [1, 2], [2, 3]]}
]`

// fakeTracer reports lines 3 and 4 for inputs starting with "1" and
// lines 3 and 5 otherwise.
var fakeTracer = trace.TracerFunc(func(_ context.Context, _ string, inputs []string) ([]string, error) {
	if len(inputs) > 0 && inputs[0] == "1" {
		return []string{
			"Breakpoint 1, main () at minmax.c:3",
			"3\t  int a = x;",
			"0x0000555555555131 in main ()",
			"4\t  if (a > b) {",
		}, nil
	}
	return []string{"3\t  int a = x;", "5\t  return a;", "}"}, nil
})

func quietDeps() Deps {
	return Deps{Logger: log.New(io.Discard), Tracer: fakeTracer, Version: "test"}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// workspace lays out a complete set of inputs and returns a config
// pointing at them.
func workspace(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Source = ""
	cfg.Binary = filepath.Join(dir, "minmax")
	cfg.Corpus = filepath.Join(dir, "testcase")
	cfg.ScoreLog = filepath.Join(dir, "score.log")
	cfg.IRDump = filepath.Join(dir, "minmax.ll")
	cfg.Graph = filepath.Join(dir, "minmax.json")
	cfg.ResolvedGraph = filepath.Join(dir, "updated_minmax.json")
	cfg.DOT = filepath.Join(dir, "highlighted_pdg.dot")
	cfg.PlainDOT = filepath.Join(dir, "PDG_Original.dot")

	writeFile(t, cfg.Binary, "not really a binary")
	writeFile(t, cfg.Corpus, "f 1 2\np 3 4\n")
	writeFile(t, cfg.IRDump, testIR)
	writeFile(t, cfg.Graph, testGraph)
	return cfg
}

func TestRun_EndToEnd(t *testing.T) {
	cfg := workspace(t)
	res, err := Run(context.Background(), cfg, quietDeps())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Report.TotalFailed != 1 || res.Report.TotalPassed != 1 {
		t.Errorf("totals = %d/%d, want 1/1", res.Report.TotalFailed, res.Report.TotalPassed)
	}
	scores := map[int]float64{}
	for _, s := range res.Report.Scores {
		scores[s.Line] = s.Score
	}
	if scores[3] != 0.5 || scores[4] != 1.0 || scores[5] != 0 {
		t.Errorf("scores = %v", scores)
	}

	scoreLog, err := os.ReadFile(cfg.ScoreLog)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(scoreLog), "Line 3: Suspiciousness 0.5000\n") {
		t.Errorf("score log = %q", scoreLog)
	}

	if len(res.Graph.Nodes) != 4 {
		t.Fatalf("expected 4 nodes, got %d", len(res.Graph.Nodes))
	}
	want := []sbfl.Category{sbfl.Medium, sbfl.High, sbfl.NotSuspicious, sbfl.NotSuspicious}
	for i, n := range res.Graph.Nodes {
		if n.Category != want[i] {
			t.Errorf("node %d category = %s, want %s", n.Index, n.Category, want[i])
		}
	}
	if res.Warnings != 1 {
		t.Errorf("expected 1 warning (unresolved br), got %d", res.Warnings)
	}

	dot, err := os.ReadFile(cfg.DOT)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range []string{"High (1.00)", "Medium (0.50)", "Not Suspicious"} {
		if !strings.Contains(string(dot), s) {
			t.Errorf("DOT output missing %q", s)
		}
	}

	doc, _, err := pdg.Load(cfg.ResolvedGraph)
	if err != nil {
		t.Fatal(err)
	}
	if got := doc.Entries[1].Details[0]; got != "%2 = load i32, i32* %1, 4 (Line 4)" {
		t.Errorf("resolved entry 1 = %q", got)
	}
}

func TestScore_SharedLine(t *testing.T) {
	cfg := workspace(t)
	deps := quietDeps()
	deps.Tracer = trace.TracerFunc(func(context.Context, string, []string) ([]string, error) {
		return []string{"10\tx++;"}, nil
	})
	rpt, _, err := Score(context.Background(), cfg, deps)
	if err != nil {
		t.Fatal(err)
	}
	if len(rpt.Scores) != 1 || rpt.Scores[0].Line != 10 || rpt.Scores[0].Score != 0.5 {
		t.Errorf("scores = %+v", rpt.Scores)
	}
	if rpt.Scores[0].Failed != 1 || rpt.Scores[0].Passed != 1 {
		t.Errorf("counts = %+v", rpt.Scores[0])
	}
}

func TestScore_TracerFailureIsWarning(t *testing.T) {
	cfg := workspace(t)
	deps := quietDeps()
	deps.Tracer = trace.TracerFunc(func(_ context.Context, _ string, inputs []string) ([]string, error) {
		if inputs[0] == "1" {
			return nil, &trace.ToolError{Tool: "gdb", ExitCode: 1}
		}
		return []string{"7\ty = 0;"}, nil
	})
	rpt, warnings, err := Score(context.Background(), cfg, deps)
	if err != nil {
		t.Fatalf("tracer failure must not abort: %v", err)
	}
	if len(warnings) != 1 {
		t.Errorf("expected 1 warning, got %v", warnings)
	}
	if rpt.TotalFailed != 1 {
		t.Errorf("failed outcome still counts, got %d", rpt.TotalFailed)
	}
}

func TestScore_MissingCorpus(t *testing.T) {
	cfg := workspace(t)
	os.Remove(cfg.Corpus)
	_, _, err := Score(context.Background(), cfg, quietDeps())
	if !errors.Is(err, ErrMissingArtifact) {
		t.Fatalf("expected ErrMissingArtifact, got %v", err)
	}
	if !strings.Contains(err.Error(), cfg.Corpus) {
		t.Errorf("error should name the path: %v", err)
	}
	if _, err := os.Stat(cfg.ScoreLog); !os.IsNotExist(err) {
		t.Error("score log must not be written")
	}
}

func TestResolve_MissingDumpWritesNothing(t *testing.T) {
	cfg := workspace(t)
	os.Remove(cfg.IRDump)
	_, _, err := Resolve(context.Background(), cfg, quietDeps())
	if !errors.Is(err, ErrMissingArtifact) {
		t.Fatalf("expected ErrMissingArtifact, got %v", err)
	}
	if _, err := os.Stat(cfg.ResolvedGraph); !os.IsNotExist(err) {
		t.Error("resolved graph must not be written")
	}
}

func TestResolve_InvalidGraph(t *testing.T) {
	cfg := workspace(t)
	writeFile(t, cfg.Graph, `{"instruction": []}`)
	if _, _, err := Resolve(context.Background(), cfg, quietDeps()); err == nil {
		t.Fatal("expected error for invalid graph document")
	}
}

func TestAnnotate_MalformedScoreLine(t *testing.T) {
	cfg := workspace(t)
	if _, _, err := Resolve(context.Background(), cfg, quietDeps()); err != nil {
		t.Fatal(err)
	}
	writeFile(t, cfg.ScoreLog, "Line 3: Suspiciousness 0.6500\nLine x: oops\n\n")
	g, warnings, err := Annotate(context.Background(), cfg, quietDeps())
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 1 {
		t.Errorf("expected 1 warning, got %v", warnings)
	}
	if g.Nodes[0].Label() != "High (0.65)" {
		t.Errorf("node 0 label = %q", g.Nodes[0].Label())
	}
}

func TestAnnotate_MissingScoreLog(t *testing.T) {
	cfg := workspace(t)
	_, _, err := Annotate(context.Background(), cfg, quietDeps())
	if !errors.Is(err, ErrMissingArtifact) {
		t.Fatalf("expected ErrMissingArtifact, got %v", err)
	}
}

func TestPlainGraph(t *testing.T) {
	cfg := workspace(t)
	if err := PlainGraph(cfg, quietDeps()); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(cfg.PlainDOT)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "Node 3") {
		t.Errorf("plain graph = %s", data)
	}
}

func TestBuild(t *testing.T) {
	cfg := workspace(t)
	cfg.Source = filepath.Join(filepath.Dir(cfg.Binary), "minmax.c")
	cfg.Compiler.EmitIR = true
	writeFile(t, cfg.Source, "int main(void) { return 0; }\n")

	var compiled, emitted toolchain.Options
	deps := quietDeps()
	deps.Compile = func(_ context.Context, o toolchain.Options) error { compiled = o; return nil }
	deps.EmitIR = func(_ context.Context, o toolchain.Options) error { emitted = o; return nil }

	if err := Build(context.Background(), cfg, deps); err != nil {
		t.Fatal(err)
	}
	if compiled.Compiler != "gcc" || compiled.Binary != cfg.Binary || compiled.Source != cfg.Source {
		t.Errorf("compile options = %+v", compiled)
	}
	if emitted.IRDump != cfg.IRDump {
		t.Errorf("emit options = %+v", emitted)
	}
}

func TestBuild_CompilerFailureIsFatal(t *testing.T) {
	cfg := workspace(t)
	cfg.Source = filepath.Join(filepath.Dir(cfg.Binary), "minmax.c")
	writeFile(t, cfg.Source, "int main(")

	deps := quietDeps()
	deps.Compile = func(context.Context, toolchain.Options) error {
		return &trace.ToolError{Tool: "gcc", ExitCode: 1}
	}
	_, err := Run(context.Background(), cfg, deps)
	if !trace.IsToolError(err) {
		t.Fatalf("expected tool error, got %v", err)
	}
	if _, err := os.Stat(cfg.ScoreLog); !os.IsNotExist(err) {
		t.Error("no stage may run after a failed build")
	}
}

type fakeExporter struct {
	graph string
	nodes int
	clean bool
}

func (f *fakeExporter) Export(_ context.Context, graph string, g *pdg.Graph, clean bool) error {
	f.graph, f.nodes, f.clean = graph, len(g.Nodes), clean
	return nil
}

func TestRun_Export(t *testing.T) {
	cfg := workspace(t)
	cfg.Neo4j.Clean = true
	exp := &fakeExporter{}
	deps := quietDeps()
	deps.Exporter = exp
	if _, err := Run(context.Background(), cfg, deps); err != nil {
		t.Fatal(err)
	}
	if exp.graph != "minmax" || exp.nodes != 4 || !exp.clean {
		t.Errorf("exporter saw %+v", exp)
	}
}

func TestExport_NoURI(t *testing.T) {
	cfg := config.DefaultConfig()
	if err := Export(context.Background(), cfg, quietDeps(), &pdg.Graph{}); err == nil {
		t.Error("expected error without neo4j uri")
	}
}

func TestNewTracer(t *testing.T) {
	cfg := config.DefaultConfig()
	for kind, want := range map[string]string{
		config.TracerGDB:   "trace.GDB",
		config.TracerDelve: "trace.Delve",
		config.TracerCover: "trace.Cover",
	} {
		cfg.Tracer.Kind = kind
		tr, err := NewTracer(cfg)
		if err != nil {
			t.Fatalf("NewTracer(%s): %v", kind, err)
		}
		switch tr.(type) {
		case trace.GDB, trace.Delve, trace.Cover:
		default:
			t.Errorf("NewTracer(%s) = %T, want %s", kind, tr, want)
		}
	}
	cfg.Tracer.Kind = "valgrind"
	if _, err := NewTracer(cfg); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestGraphName(t *testing.T) {
	cfg := config.DefaultConfig()
	if got := GraphName(cfg); got != "minmax" {
		t.Errorf("GraphName = %q", got)
	}
	cfg.Source = ""
	cfg.Binary = "/tmp/bin/prog"
	if got := GraphName(cfg); got != "prog" {
		t.Errorf("GraphName = %q", got)
	}
}
