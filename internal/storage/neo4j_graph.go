package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"catalograph/internal/loader"
	"catalograph/internal/table"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jGraph writes batches with UNWIND/MERGE statements, one write
// transaction per batch.
type Neo4jGraph struct {
	client *Neo4jClient
}

func NewNeo4jGraph(client *Neo4jClient) *Neo4jGraph {
	return &Neo4jGraph{client: client}
}

var _ loader.Store = (*Neo4jGraph)(nil)

func (g *Neo4jGraph) session(ctx context.Context) neo4j.SessionWithContext {
	return g.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: g.client.Database,
	})
}

func (g *Neo4jGraph) ApplySchema(ctx context.Context, stmt loader.SchemaStatement) error {
	cypher, err := schemaCypher(stmt)
	if err != nil {
		return err
	}
	session := g.session(ctx)
	defer session.Close(ctx)
	res, err := session.Run(ctx, cypher, nil)
	if err == nil {
		_, err = res.Consume(ctx)
	}
	if err != nil && !schemaExists(err) {
		return fmt.Errorf("neo4j schema %s: %w", stmt.Label, err)
	}
	return nil
}

// schemaExists reports equivalent constraints or indexes created under
// another name, which IF NOT EXISTS does not cover.
func schemaExists(err error) bool {
	var nerr *neo4j.Neo4jError
	return errors.As(err, &nerr) && strings.Contains(nerr.Code, "AlreadyExists")
}

func (g *Neo4jGraph) MergeEntities(ctx context.Context, label string, rows []table.Row) (int, error) {
	cypher, err := nodeCypher(label)
	if err != nil {
		return 0, err
	}
	params := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		params = append(params, neo4jProps(r))
	}
	return g.write(ctx, cypher, map[string]any{"rows": params})
}

func (g *Neo4jGraph) MergeRelationships(ctx context.Context, edge loader.EdgeSpec, rows []table.Row) (int, error) {
	cypher, err := edgeCypher(edge)
	if err != nil {
		return 0, err
	}
	params := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		params = append(params, map[string]any{
			"start_id": table.String(r[table.ColStartID]),
			"end_id":   table.String(r[table.ColEndID]),
			"props":    neo4jProps(table.Properties(r)),
		})
	}
	return g.write(ctx, cypher, map[string]any{"rows": params})
}

func (g *Neo4jGraph) LinkByProperty(ctx context.Context, rel loader.PropertyRelationship) (int, error) {
	cypher, params, err := propertyCypher(rel)
	if err != nil {
		return 0, err
	}
	return g.write(ctx, cypher, params)
}

func (g *Neo4jGraph) write(ctx context.Context, cypher string, params map[string]any) (int, error) {
	session := g.session(ctx)
	defer session.Close(ctx)
	out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		n, _ := rec.Get("n")
		return n, nil
	})
	if err != nil {
		return 0, err
	}
	n, _ := out.(int64)
	return int(n), nil
}

func schemaCypher(stmt loader.SchemaStatement) (string, error) {
	if !loader.ValidIdentifier(stmt.Label) || !loader.ValidIdentifier(stmt.Property) {
		return "", fmt.Errorf("invalid schema identifier %s.%s", stmt.Label, stmt.Property)
	}
	name := strings.ToLower(stmt.Label + "_" + stmt.Property)
	switch stmt.Kind {
	case loader.SchemaUnique:
		return fmt.Sprintf("CREATE CONSTRAINT %s_unique IF NOT EXISTS FOR (n:%s) REQUIRE n.%s IS UNIQUE", name, stmt.Label, stmt.Property), nil
	case loader.SchemaIndex:
		return fmt.Sprintf("CREATE INDEX %s_idx IF NOT EXISTS FOR (n:%s) ON (n.%s)", name, stmt.Label, stmt.Property), nil
	default:
		return "", fmt.Errorf("unknown schema kind %q", stmt.Kind)
	}
}

func nodeCypher(label string) (string, error) {
	if !loader.ValidIdentifier(label) {
		return "", fmt.Errorf("invalid label %q", label)
	}
	return "UNWIND $rows AS row\n" +
		"MERGE (n:" + label + " {id: row.id})\n" +
		"SET n += row\n" +
		"RETURN count(n) AS n", nil
}

func edgeCypher(edge loader.EdgeSpec) (string, error) {
	for _, s := range []string{edge.StartLabel, edge.EndLabel, edge.Type} {
		if !loader.ValidIdentifier(s) {
			return "", fmt.Errorf("invalid identifier %q", s)
		}
	}
	return "UNWIND $rows AS row\n" +
		"MATCH (a:" + edge.StartLabel + " {id: row.start_id})\n" +
		"MATCH (b:" + edge.EndLabel + " {id: row.end_id})\n" +
		"MERGE (a)-[r:" + edge.Type + "]->(b)\n" +
		"ON CREATE SET r = row.props\n" +
		"ON MATCH SET r += row.props\n" +
		"RETURN count(r) AS n", nil
}

// propertyCypher builds the statement for one property-matched
// relationship. Membership unwinds the end collection and matches the start
// node through its indexed property.
func propertyCypher(rel loader.PropertyRelationship) (string, map[string]any, error) {
	for _, s := range []string{rel.StartLabel, rel.EndLabel, rel.Type, rel.StartProperty} {
		if !loader.ValidIdentifier(s) {
			return "", nil, fmt.Errorf("invalid identifier %q in %s", s, rel.Name())
		}
	}
	if rel.EndProperty != "" && !loader.ValidIdentifier(rel.EndProperty) {
		return "", nil, fmt.Errorf("invalid identifier %q in %s", rel.EndProperty, rel.Name())
	}
	merge := "MERGE (a)-[r:" + rel.Type + "]->(b)\nRETURN count(r) AS n"
	switch {
	case rel.Policy == loader.PolicyExact && rel.Value != nil:
		return "MATCH (a:" + rel.StartLabel + " {" + rel.StartProperty + ": $value})\n" +
			"MATCH (b:" + rel.EndLabel + ")\n" + merge, map[string]any{"value": neo4jValue(rel.Value)}, nil
	case rel.Policy == loader.PolicyExact:
		return "MATCH (a:" + rel.StartLabel + ")\n" +
			"WHERE a." + rel.StartProperty + " IS NOT NULL\n" +
			"MATCH (b:" + rel.EndLabel + " {" + rel.EndProperty + ": a." + rel.StartProperty + "})\n" + merge, nil, nil
	case rel.Policy == loader.PolicyMembership:
		return "MATCH (b:" + rel.EndLabel + ")\n" +
			"WHERE b." + rel.EndProperty + " IS NOT NULL\n" +
			"UNWIND b." + rel.EndProperty + " AS member\n" +
			"MATCH (a:" + rel.StartLabel + " {" + rel.StartProperty + ": member})\n" + merge, nil, nil
	default:
		return "", nil, fmt.Errorf("unknown policy %q", rel.Policy)
	}
}

// neo4jProps drops nulls and flattens values Neo4j cannot store as
// properties.
func neo4jProps(r map[string]any) map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		if v == nil {
			continue
		}
		out[k] = neo4jValue(v)
	}
	return out
}

func neo4jValue(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case map[string]any, table.Row:
		return jsonText(x)
	case []any:
		if homogeneousScalars(x) {
			return x
		}
		return jsonText(x)
	default:
		return v
	}
}

func homogeneousScalars(items []any) bool {
	var kind string
	for _, item := range items {
		var k string
		switch item.(type) {
		case string:
			k = "string"
		case int64, int:
			k = "int"
		case float64:
			k = "float"
		case bool:
			k = "bool"
		default:
			return false
		}
		if kind != "" && k != kind {
			return false
		}
		kind = k
	}
	return true
}

func jsonText(v any) string {
	s, err := jsonAPI.MarshalToString(v)
	if err != nil {
		return ""
	}
	return s
}
