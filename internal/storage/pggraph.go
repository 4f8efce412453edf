package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"catalograph/internal/loader"
	"catalograph/internal/table"

	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// PGGraph stores the property graph in two PostgreSQL tables keyed by
// (label, node_id) and by the full edge tuple.
type PGGraph struct {
	db *DB

	schemaMu       sync.Mutex
	schemaPrepared bool
}

func NewPGGraph(db *DB) *PGGraph {
	return &PGGraph{db: db}
}

var _ loader.Store = (*PGGraph)(nil)

const pgGraphTables = `
CREATE TABLE IF NOT EXISTS graph_nodes (
  label TEXT NOT NULL,
  node_id TEXT NOT NULL,
  properties JSONB NOT NULL DEFAULT '{}'::jsonb,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (label, node_id)
);
CREATE TABLE IF NOT EXISTS graph_edges (
  rel_type TEXT NOT NULL,
  start_label TEXT NOT NULL,
  start_id TEXT NOT NULL,
  end_label TEXT NOT NULL,
  end_id TEXT NOT NULL,
  properties JSONB NOT NULL DEFAULT '{}'::jsonb,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (rel_type, start_label, start_id, end_label, end_id)
);
CREATE INDEX IF NOT EXISTS idx_graph_edges_end ON graph_edges(end_label, end_id);`

func (g *PGGraph) ensureTables(ctx context.Context) error {
	g.schemaMu.Lock()
	defer g.schemaMu.Unlock()
	if g.schemaPrepared {
		return nil
	}
	if _, err := g.db.Pool.Exec(ctx, pgGraphTables); err != nil {
		return fmt.Errorf("prepare graph tables: %w", err)
	}
	g.schemaPrepared = true
	return nil
}

// ApplySchema creates a partial index over one label's property.
func (g *PGGraph) ApplySchema(ctx context.Context, stmt loader.SchemaStatement) error {
	if err := g.ensureTables(ctx); err != nil {
		return err
	}
	q, err := pgSchemaSQL(stmt)
	if err != nil {
		return err
	}
	if _, err := g.db.Pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("apply schema %s %s.%s: %w", stmt.Kind, stmt.Label, stmt.Property, err)
	}
	return nil
}

func pgSchemaSQL(stmt loader.SchemaStatement) (string, error) {
	if !loader.ValidIdentifier(stmt.Label) || !loader.ValidIdentifier(stmt.Property) {
		return "", fmt.Errorf("invalid schema identifier %s.%s", stmt.Label, stmt.Property)
	}
	name := strings.ToLower("graph_nodes_" + stmt.Label + "_" + stmt.Property)
	switch stmt.Kind {
	case loader.SchemaUnique:
		return fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s_uq ON graph_nodes ((properties->>'%s')) WHERE label = '%s'`,
			name, stmt.Property, stmt.Label), nil
	case loader.SchemaIndex:
		return fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_idx ON graph_nodes ((properties->>'%s')) WHERE label = '%s'`,
			name, stmt.Property, stmt.Label), nil
	default:
		return "", fmt.Errorf("unknown schema kind %q", stmt.Kind)
	}
}

const pgMergeNodes = `
INSERT INTO graph_nodes (label, node_id, properties)
SELECT $1, e->>'id', jsonb_strip_nulls(e)
FROM jsonb_array_elements($2::jsonb) AS e
WHERE e->>'id' IS NOT NULL
ON CONFLICT (label, node_id)
DO UPDATE SET properties = graph_nodes.properties || EXCLUDED.properties, updated_at = now()`

func (g *PGGraph) MergeEntities(ctx context.Context, label string, rows []table.Row) (int, error) {
	if err := g.ensureTables(ctx); err != nil {
		return 0, err
	}
	payload, err := jsonAPI.MarshalToString(rows)
	if err != nil {
		return 0, fmt.Errorf("encode %s batch: %w", label, err)
	}
	tag, err := g.db.Pool.Exec(ctx, pgMergeNodes, label, payload)
	if err != nil {
		return 0, fmt.Errorf("merge %s nodes: %w", label, err)
	}
	return int(tag.RowsAffected()), nil
}

// Rows whose endpoints are missing drop out of the joins and are not counted.
// Duplicate pairs within a batch keep the last row.
const pgMergeEdges = `
WITH input AS (
  SELECT DISTINCT ON (e->>'start_id', e->>'end_id')
    e->>'start_id' AS start_id, e->>'end_id' AS end_id,
    jsonb_strip_nulls(e - 'start_id' - 'end_id') AS props
  FROM jsonb_array_elements($4::jsonb) WITH ORDINALITY AS x(e, ord)
  ORDER BY e->>'start_id', e->>'end_id', ord DESC
)
INSERT INTO graph_edges (rel_type, start_label, start_id, end_label, end_id, properties)
SELECT $1, $2, i.start_id, $3, i.end_id, i.props
FROM input i
JOIN graph_nodes s ON s.label = $2 AND s.node_id = i.start_id
JOIN graph_nodes t ON t.label = $3 AND t.node_id = i.end_id
ON CONFLICT (rel_type, start_label, start_id, end_label, end_id)
DO UPDATE SET properties = graph_edges.properties || EXCLUDED.properties, updated_at = now()`

func (g *PGGraph) MergeRelationships(ctx context.Context, edge loader.EdgeSpec, rows []table.Row) (int, error) {
	if err := g.ensureTables(ctx); err != nil {
		return 0, err
	}
	payload, err := jsonAPI.MarshalToString(rows)
	if err != nil {
		return 0, fmt.Errorf("encode %s batch: %w", edge.Type, err)
	}
	tag, err := g.db.Pool.Exec(ctx, pgMergeEdges, edge.Type, edge.StartLabel, edge.EndLabel, payload)
	if err != nil {
		return 0, fmt.Errorf("merge %s edges: %w", edge.Type, err)
	}
	return int(tag.RowsAffected()), nil
}

func (g *PGGraph) LinkByProperty(ctx context.Context, rel loader.PropertyRelationship) (int, error) {
	if err := g.ensureTables(ctx); err != nil {
		return 0, err
	}
	q, args, err := pgPropertySQL(rel)
	if err != nil {
		return 0, err
	}
	tag, err := g.db.Pool.Exec(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("link %s: %w", rel.Name(), err)
	}
	return int(tag.RowsAffected()), nil
}

func pgPropertySQL(rel loader.PropertyRelationship) (string, []any, error) {
	if !loader.ValidIdentifier(rel.StartProperty) || (rel.EndProperty != "" && !loader.ValidIdentifier(rel.EndProperty)) {
		return "", nil, fmt.Errorf("invalid property in %s", rel.Name())
	}
	args := []any{rel.Type, rel.StartLabel, rel.EndLabel}
	var cond string
	switch {
	case rel.Policy == loader.PolicyExact && rel.Value != nil:
		cond = fmt.Sprintf(`s.properties->>'%s' = $4`, rel.StartProperty)
		args = append(args, table.String(rel.Value))
	case rel.Policy == loader.PolicyExact:
		cond = fmt.Sprintf(`s.properties->>'%s' = t.properties->>'%s'`, rel.StartProperty, rel.EndProperty)
	case rel.Policy == loader.PolicyMembership:
		cond = fmt.Sprintf(`jsonb_typeof(t.properties->'%[2]s') = 'array' AND t.properties->'%[2]s' ? (s.properties->>'%[1]s')`,
			rel.StartProperty, rel.EndProperty)
	default:
		return "", nil, fmt.Errorf("unknown policy %q", rel.Policy)
	}
	q := `
INSERT INTO graph_edges (rel_type, start_label, start_id, end_label, end_id, properties)
SELECT $1, $2, s.node_id, $3, t.node_id, '{}'::jsonb
FROM graph_nodes s
JOIN graph_nodes t ON t.label = $3
WHERE s.label = $2 AND ` + cond + `
ON CONFLICT (rel_type, start_label, start_id, end_label, end_id)
DO UPDATE SET updated_at = now()`
	return q, args, nil
}

// Counts returns node and edge totals per label and type.
func (g *PGGraph) Counts(ctx context.Context) (map[string]int, map[string]int, error) {
	nodes, err := g.countBy(ctx, `SELECT label, count(*) FROM graph_nodes GROUP BY label`)
	if err != nil {
		return nil, nil, fmt.Errorf("count graph nodes: %w", err)
	}
	edges, err := g.countBy(ctx, `SELECT rel_type, count(*) FROM graph_edges GROUP BY rel_type`)
	if err != nil {
		return nil, nil, fmt.Errorf("count graph edges: %w", err)
	}
	return nodes, edges, nil
}

func (g *PGGraph) countBy(ctx context.Context, q string) (map[string]int, error) {
	rows, err := g.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var k string
		var n int64
		if err := rows.Scan(&k, &n); err != nil {
			return nil, err
		}
		out[k] = int(n)
	}
	return out, rows.Err()
}
