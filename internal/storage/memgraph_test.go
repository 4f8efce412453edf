package storage

import (
	"context"
	"testing"

	"catalograph/internal/graph"
	"catalograph/internal/loader"
	"catalograph/internal/table"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemGraphMergeIsIdempotent(t *testing.T) {
	g := NewMemGraph()
	ctx := context.Background()
	rows := []table.Row{{"id": "W1", "title": "first"}, {"id": "W2"}}

	for i := 0; i < 2; i++ {
		n, err := g.MergeEntities(ctx, "Work", rows)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	}
	assert.Equal(t, 1, len(g.Labels()))
	assert.Equal(t, 2, g.NodeCount("Work"))

	_, err := g.MergeEntities(ctx, "Work", []table.Row{{"id": "W1", "cited_by_count": int64(3)}})
	require.NoError(t, err)
	node, ok := g.Node("Work", "W1")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"id": "W1", "title": "first", "cited_by_count": int64(3)}, node)
}

func TestMemGraphRelationshipsMatchEndpoints(t *testing.T) {
	g := NewMemGraph()
	ctx := context.Background()
	_, _ = g.MergeEntities(ctx, "Work", []table.Row{{"id": "W1"}, {"id": "W2"}})
	_, _ = g.MergeEntities(ctx, "Topic", []table.Row{{"id": "T1"}})

	edge := loader.EdgeSpec{StartLabel: "Work", EndLabel: "Topic", Type: graph.RelHasTopic}
	n, err := g.MergeRelationships(ctx, edge, []table.Row{
		{"start_id": "W1", "end_id": "T1", "score": 0.5},
		{"start_id": "W2", "end_id": "T9"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// on match the properties are merged, last write wins
	_, err = g.MergeRelationships(ctx, edge, []table.Row{{"start_id": "W1", "end_id": "T1", "score": 0.9, "rank": int64(1)}})
	require.NoError(t, err)
	props, ok := g.Edge(EdgeKey{Type: graph.RelHasTopic, StartLabel: "Work", StartID: "W1", EndLabel: "Topic", EndID: "T1"})
	require.True(t, ok)
	assert.Equal(t, map[string]any{"score": 0.9, "rank": int64(1)}, props)
	assert.Equal(t, 1, g.EdgeCount(""))
}

func TestMemGraphLinkByProperty(t *testing.T) {
	g := NewMemGraph()
	ctx := context.Background()
	reg := graph.Default()
	_, _ = g.MergeEntities(ctx, "Institution", []table.Row{{"id": "I1"}, {"id": "I2"}})
	_, _ = g.MergeEntities(ctx, "Funder", []table.Row{{"id": "F1", "role_ids": []any{"I1", "P7"}}})
	_, _ = g.MergeEntities(ctx, "Author", []table.Row{{"id": "A1"}, {"id": "A2"}})
	_, _ = g.MergeEntities(ctx, "Publisher", []table.Row{{"id": "P7"}})
	_, _ = g.MergeEntities(ctx, "Source", []table.Row{{"id": "S1", "host_organization": "P7"}, {"id": "S2"}})

	rels, err := loader.DefaultPropertyRelationships(reg, "I2")
	require.NoError(t, err)
	got := map[string]int{}
	for _, rel := range rels {
		n, err := g.LinkByProperty(ctx, rel)
		require.NoError(t, err)
		got[rel.Name()] = n
	}

	assert.Equal(t, 2, got["institution__author__AFFILIATED_WITH__exact"])
	assert.Equal(t, 1, got["institution__funder__CAN_ALSO_BE__membership"])
	assert.Equal(t, 0, got["funder__institution__IS_A_ROLE_OF__membership"])
	assert.Equal(t, 1, got["publisher__source__HOSTS__exact"])

	_, ok := g.Edge(EdgeKey{Type: graph.RelAffiliatedWith, StartLabel: "Institution", StartID: "I2", EndLabel: "Author", EndID: "A1"})
	assert.True(t, ok)
	_, ok = g.Edge(EdgeKey{Type: graph.RelAffiliatedWith, StartLabel: "Institution", StartID: "I1", EndLabel: "Author", EndID: "A1"})
	assert.False(t, ok)

	before := g.EdgeCount("")
	for _, rel := range rels {
		_, err := g.LinkByProperty(ctx, rel)
		require.NoError(t, err)
	}
	assert.Equal(t, before, g.EdgeCount(""))
}

func TestMemGraphSchema(t *testing.T) {
	g := NewMemGraph()
	stmt := loader.SchemaStatement{Kind: loader.SchemaUnique, Label: "Work", Property: "id"}
	require.NoError(t, g.ApplySchema(context.Background(), stmt))
	require.NoError(t, g.ApplySchema(context.Background(), stmt))
	assert.True(t, g.HasSchema(stmt))
}

func TestMemGraphHonoursCancellation(t *testing.T) {
	g := NewMemGraph()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.MergeEntities(ctx, "Work", []table.Row{{"id": "W1"}})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, g.NodeCount("Work"))
}
