// Package pipeline runs the fault localization stages against the
// artifacts named in a config.Config.
//
// Each stage checks its inputs before writing anything, so a missing
// artifact aborts the stage without partial output.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/unbound-force/faultloc/internal/addrmap"
	"github.com/unbound-force/faultloc/internal/config"
	"github.com/unbound-force/faultloc/internal/corpus"
	"github.com/unbound-force/faultloc/internal/diag"
	"github.com/unbound-force/faultloc/internal/graphstore"
	"github.com/unbound-force/faultloc/internal/irmap"
	"github.com/unbound-force/faultloc/internal/pdg"
	"github.com/unbound-force/faultloc/internal/sbfl"
	"github.com/unbound-force/faultloc/internal/toolchain"
	"github.com/unbound-force/faultloc/internal/trace"
)

// ErrMissingArtifact reports a required input file that does not
// exist. It is always wrapped with the path.
var ErrMissingArtifact = errors.New("missing artifact")

// Exporter publishes an annotated graph.
type Exporter interface {
	Export(ctx context.Context, graph string, g *pdg.Graph, clean bool) error
}

// Deps are the collaborators a pipeline run uses. Nil fields fall back
// to the implementations selected by the configuration.
type Deps struct {
	Logger *log.Logger

	// Tracer overrides the tracer built from cfg.Tracer.
	Tracer trace.Tracer

	// Compile and EmitIR override the toolchain.
	Compile func(context.Context, toolchain.Options) error
	EmitIR  func(context.Context, toolchain.Options) error

	// Exporter overrides the Neo4j store built from cfg.Neo4j.
	Exporter Exporter

	// Version is stamped into score reports.
	Version string
}

func (d Deps) logger() *log.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return log.Default()
}

// Result summarizes a full run.
type Result struct {
	Report   *sbfl.Report
	Graph    *pdg.Graph
	Warnings int
}

// NewTracer builds the tracer backend named by cfg.Tracer.Kind.
func NewTracer(cfg *config.Config) (trace.Tracer, error) {
	switch cfg.Tracer.Kind {
	case config.TracerGDB:
		return trace.GDB{}, nil
	case config.TracerDelve:
		d := trace.Delve{MaxSteps: cfg.Tracer.MaxSteps}
		if cfg.Source != "" {
			d.SourceFile = filepath.Base(cfg.Source)
		}
		return d, nil
	case config.TracerCover:
		return trace.Cover{SourceFile: cfg.CoverSource()}, nil
	default:
		return nil, fmt.Errorf("invalid tracer kind %q", cfg.Tracer.Kind)
	}
}

// RequireFile returns an ErrMissingArtifact error naming path when it
// does not exist.
func RequireFile(path string) error {
	if path == "" {
		return fmt.Errorf("%w: no path configured", ErrMissingArtifact)
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrMissingArtifact, path)
		}
		return err
	}
	return nil
}

func requireFiles(paths ...string) error {
	for _, p := range paths {
		if err := RequireFile(p); err != nil {
			return err
		}
	}
	return nil
}

func logWarnings(logger *log.Logger, stage string, warnings []diag.Warning) {
	for _, w := range warnings {
		logger.Warn(w.Detail, "stage", stage, "kind", w.Kind)
	}
}

// Build compiles cfg.Source into cfg.Binary and, when configured,
// writes the IR dump. It does nothing when no source is configured.
func Build(ctx context.Context, cfg *config.Config, deps Deps) error {
	if cfg.Source == "" {
		return nil
	}
	if err := RequireFile(cfg.Source); err != nil {
		return err
	}
	opts := toolchain.Options{
		Compiler: cfg.Compiler.Command,
		Flags:    cfg.Compiler.Flags,
		Source:   cfg.Source,
		Binary:   cfg.Binary,
		IRDump:   cfg.IRDump,
	}
	compile := deps.Compile
	if compile == nil {
		compile = toolchain.Compile
	}
	deps.logger().Info("compiling", "source", cfg.Source, "binary", cfg.Binary)
	if err := compile(ctx, opts); err != nil {
		return err
	}
	if !cfg.Compiler.EmitIR {
		return nil
	}
	emit := deps.EmitIR
	if emit == nil {
		emit = toolchain.EmitIR
	}
	deps.logger().Info("emitting IR", "source", cfg.Source, "dump", cfg.IRDump)
	return emit(ctx, opts)
}

// AddressMap reads the address to line table of cfg.Binary.
func AddressMap(cfg *config.Config) (addrmap.Map, error) {
	if err := RequireFile(cfg.Binary); err != nil {
		return nil, err
	}
	return addrmap.Resolve(cfg.Binary)
}

// Score traces every test case of cfg.Corpus, scores the executed
// lines and writes cfg.ScoreLog.
func Score(ctx context.Context, cfg *config.Config, deps Deps) (*sbfl.Report, []diag.Warning, error) {
	logger := deps.logger()
	if err := requireFiles(cfg.Binary, cfg.Corpus); err != nil {
		return nil, nil, err
	}
	cases, err := corpus.Load(cfg.Corpus)
	if err != nil {
		return nil, nil, fmt.Errorf("loading corpus: %w", err)
	}

	tracer := deps.Tracer
	if tracer == nil {
		if tracer, err = NewTracer(cfg); err != nil {
			return nil, nil, err
		}
	}

	failed, passed := corpus.Totals(cases)
	logger.Info("tracing test cases", "cases", len(cases), "failed", failed, "passed", passed, "tracer", cfg.Tracer.Kind)
	m, warnings, err := sbfl.Collect(ctx, tracer, cfg.Binary, cases, sbfl.CollectOptions{
		Workers:  cfg.Tracer.Workers,
		Timeout:  cfg.Tracer.Timeout,
		TraceDir: cfg.TraceDir,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("collecting coverage: %w", err)
	}
	logWarnings(logger, "score", warnings)

	rpt := sbfl.NewReport(m, deps.Version)
	if len(rpt.Scores) == 0 {
		logger.Warn("no scores computed; both failing and passing tests are required",
			"failed", m.TotalFailed, "passed", m.TotalPassed)
	}
	if err := sbfl.SaveScoreLog(cfg.ScoreLog, rpt.Scores); err != nil {
		return nil, nil, fmt.Errorf("writing score log: %w", err)
	}
	logger.Info("score log written", "path", cfg.ScoreLog, "lines", len(rpt.Scores))
	return rpt, warnings, nil
}

// Resolve annotates the instruction listing of cfg.Graph with source
// lines from cfg.IRDump and writes cfg.ResolvedGraph.
func Resolve(ctx context.Context, cfg *config.Config, deps Deps) (*pdg.Document, []diag.Warning, error) {
	logger := deps.logger()
	if err := requireFiles(cfg.IRDump, cfg.Graph); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	doc, warnings, err := pdg.Load(cfg.Graph)
	if err != nil {
		return nil, nil, fmt.Errorf("loading graph: %w", err)
	}
	logWarnings(logger, "resolve", warnings)

	m, err := irmap.LoadMapping(cfg.IRDump)
	if err != nil {
		return nil, nil, fmt.Errorf("loading IR dump: %w", err)
	}
	logger.Debug("debug mappings extracted", "count", len(m))

	unresolved := irmap.Annotate(doc, m)
	logWarnings(logger, "resolve", unresolved)
	warnings = append(warnings, unresolved...)

	if err := doc.Save(cfg.ResolvedGraph); err != nil {
		return nil, nil, fmt.Errorf("writing resolved graph: %w", err)
	}
	logger.Info("resolved graph written", "path", cfg.ResolvedGraph,
		"entries", len(doc.Entries), "unresolved", len(unresolved))
	return doc, warnings, nil
}

// LoadAnnotated joins cfg.ScoreLog with cfg.ResolvedGraph into the
// annotated graph without writing anything.
func LoadAnnotated(cfg *config.Config) (*pdg.Graph, []diag.Warning, error) {
	if err := requireFiles(cfg.ScoreLog, cfg.ResolvedGraph); err != nil {
		return nil, nil, err
	}
	scores, warnings, err := sbfl.LoadScoreLog(cfg.ScoreLog)
	if err != nil {
		return nil, nil, fmt.Errorf("loading score log: %w", err)
	}
	doc, docWarnings, err := pdg.Load(cfg.ResolvedGraph)
	if err != nil {
		return nil, nil, fmt.Errorf("loading resolved graph: %w", err)
	}
	return pdg.Build(doc, scores), append(warnings, docWarnings...), nil
}

// Annotate builds the annotated graph and writes it to cfg.DOT.
func Annotate(ctx context.Context, cfg *config.Config, deps Deps) (*pdg.Graph, []diag.Warning, error) {
	logger := deps.logger()
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	g, warnings, err := LoadAnnotated(cfg)
	if err != nil {
		return nil, nil, err
	}
	logWarnings(logger, "annotate", warnings)

	if err := pdg.SaveDOT(cfg.DOT, pdg.Render(g)); err != nil {
		return nil, nil, fmt.Errorf("writing DOT graph: %w", err)
	}
	counts := g.Counts()
	logger.Info("annotated graph written", "path", cfg.DOT,
		"nodes", len(g.Nodes), "edges", len(g.Edges),
		"high", counts[sbfl.High], "medium", counts[sbfl.Medium], "low", counts[sbfl.Low])
	return g, warnings, nil
}

// PlainGraph renders the unannotated graph of cfg.Graph to
// cfg.PlainDOT.
func PlainGraph(cfg *config.Config, deps Deps) error {
	if err := RequireFile(cfg.Graph); err != nil {
		return err
	}
	doc, warnings, err := pdg.Load(cfg.Graph)
	if err != nil {
		return fmt.Errorf("loading graph: %w", err)
	}
	logWarnings(deps.logger(), "pdg", warnings)
	if err := pdg.SaveDOT(cfg.PlainDOT, pdg.RenderPlain(doc)); err != nil {
		return fmt.Errorf("writing DOT graph: %w", err)
	}
	deps.logger().Info("graph written", "path", cfg.PlainDOT, "entries", len(doc.Entries))
	return nil
}

// GraphName is the name an exported graph is stored under: the source
// file name without extension, or the binary name.
func GraphName(cfg *config.Config) string {
	name := cfg.Source
	if name == "" {
		name = cfg.Binary
	}
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Export publishes g through deps.Exporter or, when none is given, the
// Neo4j database configured in cfg.Neo4j.
func Export(ctx context.Context, cfg *config.Config, deps Deps, g *pdg.Graph) error {
	exp := deps.Exporter
	if exp == nil {
		if cfg.Neo4j.URI == "" {
			return errors.New("export: no neo4j uri configured")
		}
		store, err := graphstore.NewNeo4jStore(ctx, cfg.Neo4j.URI, cfg.Neo4j.User, cfg.Neo4j.Password, deps.Logger)
		if err != nil {
			return err
		}
		defer store.Close(ctx)
		exp = store
	}
	name := GraphName(cfg)
	if err := exp.Export(ctx, name, g, cfg.Neo4j.Clean); err != nil {
		return fmt.Errorf("exporting graph %q: %w", name, err)
	}
	deps.logger().Info("graph exported", "graph", name, "nodes", len(g.Nodes))
	return nil
}

// Run executes every stage in order: build, address map, score,
// resolve, annotate and, when a Neo4j URI or Exporter is configured,
// export.
func Run(ctx context.Context, cfg *config.Config, deps Deps) (*Result, error) {
	logger := deps.logger()
	if err := Build(ctx, cfg, deps); err != nil {
		return nil, fmt.Errorf("build: %w", err)
	}

	if am, err := AddressMap(cfg); err != nil {
		logger.Debug("address map unavailable", "binary", cfg.Binary, "err", err)
	} else {
		logger.Debug("address map loaded", "addresses", len(am))
	}

	res := &Result{}
	rpt, warnings, err := Score(ctx, cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("score: %w", err)
	}
	res.Report = rpt
	res.Warnings += len(warnings)

	_, warnings, err = Resolve(ctx, cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("resolve: %w", err)
	}
	res.Warnings += len(warnings)

	g, warnings, err := Annotate(ctx, cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("annotate: %w", err)
	}
	res.Graph = g
	res.Warnings += len(warnings)

	if deps.Exporter != nil || cfg.Neo4j.URI != "" {
		if err := Export(ctx, cfg, deps, g); err != nil {
			return nil, fmt.Errorf("export: %w", err)
		}
	}
	return res, nil
}
