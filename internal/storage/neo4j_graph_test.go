package storage

import (
	"errors"
	"fmt"
	"testing"

	"catalograph/internal/graph"
	"catalograph/internal/loader"
	"catalograph/internal/table"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaCypher(t *testing.T) {
	q, err := schemaCypher(loader.SchemaStatement{Kind: loader.SchemaUnique, Label: "AffiliatedInstitution", Property: "id"})
	require.NoError(t, err)
	assert.Equal(t, "CREATE CONSTRAINT affiliatedinstitution_id_unique IF NOT EXISTS FOR (n:AffiliatedInstitution) REQUIRE n.id IS UNIQUE", q)

	q, err = schemaCypher(loader.SchemaStatement{Kind: loader.SchemaIndex, Label: "Work", Property: "id"})
	require.NoError(t, err)
	assert.Equal(t, "CREATE INDEX work_id_idx IF NOT EXISTS FOR (n:Work) ON (n.id)", q)

	_, err = schemaCypher(loader.SchemaStatement{Kind: loader.SchemaIndex, Label: "Work) DETACH DELETE n //", Property: "id"})
	require.Error(t, err)
}

func TestNodeAndEdgeCypher(t *testing.T) {
	q, err := nodeCypher("Work")
	require.NoError(t, err)
	assert.Equal(t, "UNWIND $rows AS row\nMERGE (n:Work {id: row.id})\nSET n += row\nRETURN count(n) AS n", q)

	q, err = edgeCypher(loader.EdgeSpec{StartLabel: "Author", EndLabel: "Authorship", Type: graph.RelHasAuthorship})
	require.NoError(t, err)
	assert.Contains(t, q, "MATCH (a:Author {id: row.start_id})")
	assert.Contains(t, q, "MERGE (a)-[r:HAS_AUTHORSHIP]->(b)")
	assert.Contains(t, q, "ON CREATE SET r = row.props\nON MATCH SET r += row.props")

	_, err = edgeCypher(loader.EdgeSpec{StartLabel: "Author", EndLabel: "Work", Type: "HAS-WORK"})
	require.Error(t, err)
}

func TestPropertyCypher(t *testing.T) {
	reg := graph.Default()
	rels, err := loader.DefaultPropertyRelationships(reg, "I1")
	require.NoError(t, err)
	byName := map[string]loader.PropertyRelationship{}
	for _, r := range rels {
		byName[r.Name()] = r
	}

	q, params, err := propertyCypher(byName["institution__author__AFFILIATED_WITH__exact"])
	require.NoError(t, err)
	assert.Contains(t, q, "MATCH (a:Institution {id: $value})")
	assert.Equal(t, map[string]any{"value": "I1"}, params)

	q, params, err = propertyCypher(byName["publisher__source__HOSTS__exact"])
	require.NoError(t, err)
	assert.Contains(t, q, "MATCH (b:Source {host_organization: a.id})")
	assert.Nil(t, params)

	q, _, err = propertyCypher(byName["institution__funder__CAN_ALSO_BE__membership"])
	require.NoError(t, err)
	assert.Contains(t, q, "UNWIND b.role_ids AS member\nMATCH (a:Institution {id: member})")
	assert.Contains(t, q, "MERGE (a)-[r:CAN_ALSO_BE]->(b)")
}

func TestNeo4jProps(t *testing.T) {
	got := neo4jProps(table.Row{
		"id":       "W1",
		"missing":  nil,
		"count":    3,
		"ids":      []any{"a", "b"},
		"mixed":    []any{"a", int64(1)},
		"location": map[string]any{"country": "FR"},
	})
	assert.Equal(t, map[string]any{
		"id":       "W1",
		"count":    int64(3),
		"ids":      []any{"a", "b"},
		"mixed":    `["a",1]`,
		"location": `{"country":"FR"}`,
	}, got)
}

func TestSchemaExists(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &neo4j.Neo4jError{Code: "Neo.ClientError.Schema.EquivalentSchemaRuleAlreadyExists"})
	assert.True(t, schemaExists(err))
	assert.False(t, schemaExists(&neo4j.Neo4jError{Code: "Neo.ClientError.Security.Forbidden"}))
	assert.False(t, schemaExists(errors.New("io timeout")))
}
