// Package config loads the .faultloc.yaml pipeline configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the configuration file looked up in the working
// directory when no path is given.
const DefaultFile = ".faultloc.yaml"

// Tracer backend kinds.
const (
	TracerGDB   = "gdb"
	TracerDelve = "delve"
	TracerCover = "cover"
)

// Config holds the artifact paths and collaborator settings for a
// pipeline run. Relative paths resolve against the working directory.
type Config struct {
	Source        string `yaml:"source"`
	Binary        string `yaml:"binary"`
	Corpus        string `yaml:"corpus"`
	ScoreLog      string `yaml:"score_log"`
	IRDump        string `yaml:"ir_dump"`
	Graph         string `yaml:"graph"`
	ResolvedGraph string `yaml:"resolved_graph"`
	DOT           string `yaml:"dot"`
	PlainDOT      string `yaml:"plain_dot"`

	// TraceDir, when set, receives the raw and filtered trace of every
	// test case.
	TraceDir string `yaml:"trace_dir"`

	Compiler CompilerConfig `yaml:"compiler"`
	Tracer   TracerConfig   `yaml:"tracer"`
	Neo4j    Neo4jConfig    `yaml:"neo4j"`
}

// CompilerConfig configures the compiler collaborator.
type CompilerConfig struct {
	Command string   `yaml:"command"`
	Flags   []string `yaml:"flags"`

	// EmitIR also writes the textual IR dump to Config.IRDump with
	// clang.
	EmitIR bool `yaml:"emit_ir"`
}

// TracerConfig selects and tunes the execution tracer.
type TracerConfig struct {
	Kind string `yaml:"kind"`

	// Timeout bounds a single test case. Zero means no limit.
	Timeout time.Duration `yaml:"timeout"`

	// MaxSteps bounds the number of steps the delve backend takes.
	MaxSteps int `yaml:"max_steps"`

	// Workers is the number of test cases traced concurrently.
	Workers int `yaml:"workers"`

	// CoverFile restricts the cover backend to one source file. Empty
	// means Config.Source.
	CoverFile string `yaml:"cover_file"`
}

// Neo4jConfig configures the optional graph export. Export is disabled
// when URI is empty.
type Neo4jConfig struct {
	URI      string `yaml:"uri"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Clean    bool   `yaml:"clean"`
}

// DefaultConfig returns the artifact names and tool settings used
// for the minmax example.
func DefaultConfig() *Config {
	return &Config{
		Source:        "minmax.c",
		Binary:        "./minmax",
		Corpus:        "testcase",
		ScoreLog:      "score.log",
		IRDump:        "minmax.ll",
		Graph:         "minmax.json",
		ResolvedGraph: "updated_minmax.json",
		DOT:           "highlighted_pdg.dot",
		PlainDOT:      "PDG_Original.dot",
		Compiler: CompilerConfig{
			Command: "gcc",
			Flags:   []string{"-g"},
		},
		Tracer: TracerConfig{
			Kind:     TracerGDB,
			MaxSteps: 100000,
			Workers:  1,
		},
		Neo4j: Neo4jConfig{
			User: "neo4j",
		},
	}
}

// Load reads the YAML file at path on top of DefaultConfig. An empty
// path loads DefaultFile if it exists and the defaults otherwise.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks settings that cannot be corrected silently.
func (c *Config) Validate() error {
	switch c.Tracer.Kind {
	case TracerGDB, TracerDelve, TracerCover:
	default:
		return fmt.Errorf("invalid tracer kind %q (want gdb, delve or cover)", c.Tracer.Kind)
	}
	if c.Tracer.Workers < 1 {
		return fmt.Errorf("tracer workers must be at least 1, got %d", c.Tracer.Workers)
	}
	if c.Tracer.Timeout < 0 {
		return fmt.Errorf("tracer timeout must not be negative, got %s", c.Tracer.Timeout)
	}
	if c.Tracer.Kind == TracerDelve && c.Tracer.MaxSteps < 1 {
		return fmt.Errorf("tracer max_steps must be positive, got %d", c.Tracer.MaxSteps)
	}
	if c.Binary == "" {
		return fmt.Errorf("binary must be set")
	}
	return nil
}

// CoverSource returns the source file the cover backend filters on.
func (c *Config) CoverSource() string {
	if c.Tracer.CoverFile != "" {
		return c.Tracer.CoverFile
	}
	return c.Source
}
