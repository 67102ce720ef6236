// Package graphstore exports annotated dependency graphs to Neo4j so
// suspicious regions can be explored with Cypher.
package graphstore

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/unbound-force/faultloc/internal/pdg"
)

// runFunc executes one Cypher statement.
type runFunc func(ctx context.Context, cypher string, params map[string]any) error

// Neo4jStore loads annotated graphs into a Neo4j database using batch
// UNWIND queries. Nodes are keyed by graph name and instruction index,
// so several programs can share one database.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
	run    runFunc
	logger *log.Logger
}

// NewNeo4jStore connects to Neo4j and verifies connectivity.
func NewNeo4jStore(ctx context.Context, uri, user, password string, logger *log.Logger) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("connecting to %s: %w", uri, err)
	}
	s := &Neo4jStore{driver: driver, logger: logger}
	s.run = func(ctx context.Context, cypher string, params map[string]any) error {
		_, err := neo4j.ExecuteQuery(ctx, driver, cypher, params, neo4j.EagerResultTransformer)
		return err
	}
	return s, nil
}

// Close releases the driver.
func (s *Neo4jStore) Close(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Close(ctx)
}

func (s *Neo4jStore) debugf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Debugf(format, args...)
	}
}

func (s *Neo4jStore) runAll(ctx context.Context, queries []string) error {
	for _, q := range queries {
		if err := s.run(ctx, q, nil); err != nil {
			return fmt.Errorf("running %q: %w", q, err)
		}
	}
	return nil
}

// Clean removes every previously exported node of the named graph.
func (s *Neo4jStore) Clean(ctx context.Context, graph string) error {
	s.debugf("cleaning graph %q", graph)
	return s.run(ctx,
		`MATCH (n:PDGNode {graph: $graph}) DETACH DELETE n`,
		map[string]any{"graph": graph},
	)
}

// CreateIndexes ensures the lookup indexes exist.
func (s *Neo4jStore) CreateIndexes(ctx context.Context) error {
	return s.runAll(ctx, []string{
		"CREATE INDEX pdg_node_key IF NOT EXISTS FOR (n:PDGNode) ON (n.graph, n.index)",
		"CREATE INDEX pdg_node_line IF NOT EXISTS FOR (n:PDGNode) ON (n.line)",
		"CREATE INDEX pdg_node_category IF NOT EXISTS FOR (n:PDGNode) ON (n.category)",
	})
}

const nodeQuery = `UNWIND $batch AS row
 MERGE (n:PDGNode {graph: $graph, index: row.index})
 SET n.line = row.line, n.score = row.score, n.category = row.category,
     n.color = row.color, n.label = row.label`

const edgeQuery = `UNWIND $batch AS row
 MATCH (a:PDGNode {graph: $graph, index: row.from}),
       (b:PDGNode {graph: $graph, index: row.to})
 MERGE (a)-[:CONTROLS]->(b)`

// LoadGraph upserts the graph's nodes and CONTROLS relationships.
func (s *Neo4jStore) LoadGraph(ctx context.Context, graph string, g *pdg.Graph) error {
	s.debugf("loading %d nodes into graph %q", len(g.Nodes), graph)
	if err := s.run(ctx, nodeQuery, map[string]any{
		"graph": graph,
		"batch": NodeBatch(g),
	}); err != nil {
		return fmt.Errorf("loading nodes: %w", err)
	}
	if len(g.Edges) == 0 {
		return nil
	}
	s.debugf("loading %d edges into graph %q", len(g.Edges), graph)
	if err := s.run(ctx, edgeQuery, map[string]any{
		"graph": graph,
		"batch": EdgeBatch(g),
	}); err != nil {
		return fmt.Errorf("loading edges: %w", err)
	}
	return nil
}

// NodeBatch converts the graph's nodes into UNWIND rows.
func NodeBatch(g *pdg.Graph) []map[string]any {
	batch := make([]map[string]any, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		batch = append(batch, map[string]any{
			"index":    n.Index,
			"line":     n.Line,
			"score":    n.Score,
			"category": string(n.Category),
			"color":    n.Color(),
			"label":    n.Label(),
		})
	}
	return batch
}

// EdgeBatch converts the graph's edges into UNWIND rows.
func EdgeBatch(g *pdg.Graph) []map[string]any {
	batch := make([]map[string]any, 0, len(g.Edges))
	for _, e := range g.Edges {
		batch = append(batch, map[string]any{"from": e.From, "to": e.To})
	}
	return batch
}

// Export cleans the named graph when clean is set, ensures indexes, and
// loads g.
func (s *Neo4jStore) Export(ctx context.Context, graph string, g *pdg.Graph, clean bool) error {
	if clean {
		if err := s.Clean(ctx, graph); err != nil {
			return fmt.Errorf("cleaning graph: %w", err)
		}
	}
	if err := s.CreateIndexes(ctx); err != nil {
		return fmt.Errorf("creating indexes: %w", err)
	}
	return s.LoadGraph(ctx, graph, g)
}
