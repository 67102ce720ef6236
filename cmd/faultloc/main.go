package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/unbound-force/faultloc/internal/config"
	"github.com/unbound-force/faultloc/internal/pdg"
	"github.com/unbound-force/faultloc/internal/pipeline"
	"github.com/unbound-force/faultloc/internal/sbfl"
)

// logger is the application-wide structured logger (writes to stderr).
var logger = charmlog.NewWithOptions(os.Stderr, charmlog.Options{
	ReportTimestamp: false,
})

// Set by build flags.
var version = "dev"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	verbose    bool
	overrides  overrides
}

func main() {
	var g globalFlags
	root := newRootCmd(&g)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(g *globalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "faultloc",
		Short: "Faultloc: spectrum-based fault localization",
		Long: `Faultloc traces a program under a pass/fail test corpus, ranks
source lines by Tarantula suspiciousness, resolves LLVM IR
instructions to source lines through their debug metadata, and
highlights suspicious nodes of the instruction dependency graph.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if g.verbose {
				logger.SetLevel(charmlog.DebugLevel)
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "",
		"path to config file (default: ./"+config.DefaultFile+" if present)")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "enable debug logging")
	pf.StringVar(&g.overrides.binary, "binary", "", "override the binary path")
	pf.StringVar(&g.overrides.corpus, "corpus", "", "override the corpus path")

	root.AddCommand(newRunCmd(g))
	root.AddCommand(newScoreCmd(g))
	root.AddCommand(newResolveCmd(g))
	root.AddCommand(newAnnotateCmd(g))
	root.AddCommand(newPDGCmd(g))
	root.AddCommand(newAddrmapCmd(g))
	root.AddCommand(newExportCmd(g))
	root.AddCommand(newSchemaCmd())
	return root
}

// overrides are flag values applied on top of the config file. Zero
// values leave the file's setting alone.
type overrides struct {
	binary  string
	corpus  string
	tracer  string
	workers int
	timeout time.Duration
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(path string, o overrides) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if o.binary != "" {
		cfg.Binary = o.binary
	}
	if o.corpus != "" {
		cfg.Corpus = o.corpus
	}
	if o.tracer != "" {
		cfg.Tracer.Kind = o.tracer
	}
	if o.workers != 0 {
		cfg.Tracer.Workers = o.workers
	}
	if o.timeout != 0 {
		cfg.Tracer.Timeout = o.timeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

func defaultDeps() pipeline.Deps {
	return pipeline.Deps{Logger: logger, Version: version}
}

// stageParams holds what every stage command needs.
type stageParams struct {
	cfg    *config.Config
	deps   pipeline.Deps
	stdout io.Writer
	stderr io.Writer
}

func (g *globalFlags) params(cmd *cobra.Command) (stageParams, error) {
	cfg, err := loadConfig(g.configPath, g.overrides)
	if err != nil {
		return stageParams{}, err
	}
	return stageParams{
		cfg:    cfg,
		deps:   defaultDeps(),
		stdout: cmd.OutOrStdout(),
		stderr: cmd.ErrOrStderr(),
	}, nil
}

// ---------------------------------------------------------------------------
// run
// ---------------------------------------------------------------------------

// runRun is the extracted, testable body of the run command.
func runRun(ctx context.Context, p stageParams) error {
	res, err := pipeline.Run(ctx, p.cfg, p.deps)
	if err != nil {
		return err
	}
	if err := sbfl.WriteText(p.stdout, res.Report); err != nil {
		return err
	}
	counts := res.Graph.Counts()
	fmt.Fprintf(p.stdout, "\nGraph: %d nodes, %d edges (%d high, %d medium, %d low) -> %s\n",
		len(res.Graph.Nodes), len(res.Graph.Edges),
		counts[sbfl.High], counts[sbfl.Medium], counts[sbfl.Low], p.cfg.DOT)
	if res.Warnings > 0 {
		logger.Warn("run finished with warnings", "count", res.Warnings)
	}
	return nil
}

func newRunCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every stage: build, score, resolve, annotate",
		Long: `Compile the source (when configured), trace every test case,
write the score log, resolve the instruction listing against the IR
dump and write the highlighted graph. When a Neo4j URI is configured
the annotated graph is exported as well.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := g.params(cmd)
			if err != nil {
				return err
			}
			return runRun(cmd.Context(), p)
		},
	}
	addTracerFlags(cmd, g)
	return cmd
}

func addTracerFlags(cmd *cobra.Command, g *globalFlags) {
	cmd.Flags().StringVar(&g.overrides.tracer, "tracer", "",
		"tracer backend: gdb, delve, or cover")
	cmd.Flags().IntVar(&g.overrides.workers, "workers", 0,
		"test cases traced concurrently")
	cmd.Flags().DurationVar(&g.overrides.timeout, "timeout", 0,
		"per-test tracing timeout (0 = none)")
}

// ---------------------------------------------------------------------------
// score
// ---------------------------------------------------------------------------

// scoreParams holds the parsed flags for the score command.
type scoreParams struct {
	stageParams
	format  string
	maxHigh int
}

// runScore is the extracted, testable body of the score command.
func runScore(ctx context.Context, p scoreParams) error {
	if p.format != "text" && p.format != "json" {
		return fmt.Errorf("invalid format %q: must be 'text' or 'json'", p.format)
	}

	rpt, _, err := pipeline.Score(ctx, p.cfg, p.deps)
	if err != nil {
		return err
	}

	switch p.format {
	case "json":
		err = sbfl.WriteJSON(p.stdout, rpt)
	default:
		err = sbfl.WriteText(p.stdout, rpt)
	}
	if err != nil {
		return err
	}

	printCISummary(p.stderr, rpt, p.maxHigh)
	return checkCIThreshold(rpt, p.maxHigh)
}

func countHigh(rpt *sbfl.Report) int {
	n := 0
	for _, s := range rpt.Scores {
		if sbfl.Classify(s.Score) == sbfl.High {
			n++
		}
	}
	return n
}

// printCISummary prints a one-line CI summary when a threshold is set.
func printCISummary(w io.Writer, rpt *sbfl.Report, maxHigh int) {
	if maxHigh < 0 {
		return
	}
	high := countHigh(rpt)
	status := "PASS"
	if high > maxHigh {
		status = "FAIL"
	}
	parts := []string{fmt.Sprintf("High-suspicion lines: %d/%d (%s)", high, maxHigh, status)}
	if rpt.TotalFailed == 0 {
		parts = append(parts, "no failing tests")
	}
	fmt.Fprintln(w, strings.Join(parts, " | "))
}

// checkCIThreshold returns an error when more lines than allowed are
// highly suspicious.
func checkCIThreshold(rpt *sbfl.Report, maxHigh int) error {
	if maxHigh < 0 {
		return nil
	}
	if high := countHigh(rpt); high > maxHigh {
		return fmt.Errorf("%d high-suspicion lines exceed maximum %d", high, maxHigh)
	}
	return nil
}

func newScoreCmd(g *globalFlags) *cobra.Command {
	var (
		format  string
		maxHigh int
	)

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Trace the test corpus and rank lines by suspiciousness",
		Long: `Trace every test case of the corpus, count how many failing and
passing tests executed each source line, and rank the lines by
Tarantula suspiciousness. The ranking is written to the score log
and printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sp, err := g.params(cmd)
			if err != nil {
				return err
			}
			return runScore(cmd.Context(), scoreParams{
				stageParams: sp,
				format:      format,
				maxHigh:     maxHigh,
			})
		},
	}

	cmd.Flags().StringVar(&format, "format", "text",
		"output format: text or json")
	cmd.Flags().IntVar(&maxHigh, "max-high", -1,
		"fail if more lines than this score High (-1 = no limit)")
	addTracerFlags(cmd, g)
	return cmd
}

// ---------------------------------------------------------------------------
// resolve, annotate, pdg
// ---------------------------------------------------------------------------

// runResolve is the extracted, testable body of the resolve command.
func runResolve(ctx context.Context, p stageParams) error {
	doc, warnings, err := pipeline.Resolve(ctx, p.cfg, p.deps)
	if err != nil {
		return err
	}
	fmt.Fprintf(p.stdout, "Resolved %d entries (%d warnings) -> %s\n",
		len(doc.Entries), len(warnings), p.cfg.ResolvedGraph)
	return nil
}

func newResolveCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve",
		Short: "Annotate the instruction listing with source lines",
		Long: `Map every instruction of the IR dump that carries a !dbg
reference to its DILocation line, then annotate the matching
instructions of the graph listing as "<instruction> (Line <n>)".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := g.params(cmd)
			if err != nil {
				return err
			}
			return runResolve(cmd.Context(), p)
		},
	}
}

// annotateParams holds the parsed flags for the annotate command.
type annotateParams struct {
	stageParams
	export bool
}

// runAnnotate is the extracted, testable body of the annotate command.
func runAnnotate(ctx context.Context, p annotateParams) error {
	gr, _, err := pipeline.Annotate(ctx, p.cfg, p.deps)
	if err != nil {
		return err
	}
	counts := gr.Counts()
	fmt.Fprintf(p.stdout, "Annotated %d nodes (%d high, %d medium, %d low) -> %s\n",
		len(gr.Nodes), counts[sbfl.High], counts[sbfl.Medium], counts[sbfl.Low], p.cfg.DOT)
	if p.export {
		return pipeline.Export(ctx, p.cfg, p.deps, gr)
	}
	return nil
}

func newAnnotateCmd(g *globalFlags) *cobra.Command {
	var export bool
	cmd := &cobra.Command{
		Use:   "annotate",
		Short: "Write the suspiciousness-highlighted graph",
		Long: `Join the score log with the resolved graph listing and write a
DOT graph whose nodes are colored and labeled by suspiciousness.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sp, err := g.params(cmd)
			if err != nil {
				return err
			}
			return runAnnotate(cmd.Context(), annotateParams{stageParams: sp, export: export})
		},
	}
	cmd.Flags().BoolVar(&export, "export", false,
		"also export the annotated graph to the configured Neo4j database")
	return cmd
}

func newPDGCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "pdg",
		Short: "Write the unannotated dependency graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := g.params(cmd)
			if err != nil {
				return err
			}
			return pipeline.PlainGraph(p.cfg, p.deps)
		},
	}
}

// ---------------------------------------------------------------------------
// addrmap, export, schema
// ---------------------------------------------------------------------------

// runAddrmap is the extracted, testable body of the addrmap command.
func runAddrmap(p stageParams) error {
	m, err := pipeline.AddressMap(p.cfg)
	if err != nil {
		return err
	}
	logger.Info("address map loaded", "binary", p.cfg.Binary, "addresses", len(m))
	return m.Write(p.stdout)
}

func newAddrmapCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "addrmap",
		Short: "Print the binary's address to source line table",
		Long: `Read the DWARF line table of the binary and print one
"0x<address> line <n>" row per instruction address.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := g.params(cmd)
			if err != nil {
				return err
			}
			return runAddrmap(p)
		},
	}
}

// runExport is the extracted, testable body of the export command.
func runExport(ctx context.Context, p stageParams) error {
	gr, warnings, err := pipeline.LoadAnnotated(p.cfg)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		logger.Warn(w.Detail, "kind", w.Kind)
	}
	return pipeline.Export(ctx, p.cfg, p.deps, gr)
}

func newExportCmd(g *globalFlags) *cobra.Command {
	var uri, user, password string
	var clean bool
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the annotated graph to Neo4j",
		Long: `Load the annotated graph (score log plus resolved listing) into
Neo4j as :PDGNode nodes joined by :CONTROLS relationships.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := g.params(cmd)
			if err != nil {
				return err
			}
			if uri != "" {
				p.cfg.Neo4j.URI = uri
			}
			if user != "" {
				p.cfg.Neo4j.User = user
			}
			if password != "" {
				p.cfg.Neo4j.Password = password
			}
			if clean {
				p.cfg.Neo4j.Clean = true
			}
			return runExport(cmd.Context(), p)
		},
	}
	cmd.Flags().StringVar(&uri, "neo4j-uri", "", "Neo4j bolt URI")
	cmd.Flags().StringVar(&user, "neo4j-user", "", "Neo4j username")
	cmd.Flags().StringVar(&password, "neo4j-pass", "", "Neo4j password")
	cmd.Flags().BoolVar(&clean, "clean", false, "remove the previously exported graph first")
	return cmd
}

func newSchemaCmd() *cobra.Command {
	var graph bool
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema for faultloc output",
		Long: `Print the JSON Schema (Draft 2020-12) that documents the
structure of faultloc score --format=json output. With --graph, print
the schema the structured graph input must satisfy.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			schema := sbfl.Schema
			if graph {
				schema = pdg.GraphSchema
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), schema)
			return err
		},
	}
	cmd.Flags().BoolVar(&graph, "graph", false, "print the graph input schema instead")
	return cmd
}
