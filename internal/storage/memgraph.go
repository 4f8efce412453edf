package storage

import (
	"context"
	"sort"
	"sync"

	"catalograph/internal/loader"
	"catalograph/internal/table"
)

// EdgeKey identifies one relationship in MemGraph.
type EdgeKey struct {
	Type       string
	StartLabel string
	StartID    string
	EndLabel   string
	EndID      string
}

// MemGraph is an in-process loader.Store with the same merge semantics as
// the database backends. It backs dry runs and tests.
type MemGraph struct {
	mu     sync.RWMutex
	schema map[loader.SchemaStatement]struct{}
	nodes  map[string]map[string]map[string]any
	edges  map[EdgeKey]map[string]any
}

func NewMemGraph() *MemGraph {
	return &MemGraph{
		schema: map[loader.SchemaStatement]struct{}{},
		nodes:  map[string]map[string]map[string]any{},
		edges:  map[EdgeKey]map[string]any{},
	}
}

var _ loader.Store = (*MemGraph)(nil)

func (g *MemGraph) ApplySchema(_ context.Context, stmt loader.SchemaStatement) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.schema[stmt] = struct{}{}
	return nil
}

func (g *MemGraph) MergeEntities(ctx context.Context, label string, rows []table.Row) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	byID := g.nodes[label]
	if byID == nil {
		byID = map[string]map[string]any{}
		g.nodes[label] = byID
	}
	n := 0
	for _, r := range rows {
		id := r.ID()
		if id == "" {
			continue
		}
		node := byID[id]
		if node == nil {
			node = map[string]any{}
			byID[id] = node
		}
		setProps(node, r)
		n++
	}
	return n, nil
}

func (g *MemGraph) MergeRelationships(ctx context.Context, edge loader.EdgeSpec, rows []table.Row) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, r := range rows {
		startID, endID := table.String(r[table.ColStartID]), table.String(r[table.ColEndID])
		if !g.hasNode(edge.StartLabel, startID) || !g.hasNode(edge.EndLabel, endID) {
			continue
		}
		g.mergeEdge(EdgeKey{Type: edge.Type, StartLabel: edge.StartLabel, StartID: startID, EndLabel: edge.EndLabel, EndID: endID}, table.Properties(r))
		n++
	}
	return n, nil
}

func (g *MemGraph) LinkByProperty(ctx context.Context, rel loader.PropertyRelationship) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for startID, a := range g.nodes[rel.StartLabel] {
		for endID, b := range g.nodes[rel.EndLabel] {
			if !propertyMatch(rel, a, b) {
				continue
			}
			g.mergeEdge(EdgeKey{Type: rel.Type, StartLabel: rel.StartLabel, StartID: startID, EndLabel: rel.EndLabel, EndID: endID}, nil)
			n++
		}
	}
	return n, nil
}

func propertyMatch(rel loader.PropertyRelationship, a, b map[string]any) bool {
	av, ok := a[rel.StartProperty]
	if !ok {
		return false
	}
	key := table.String(av)
	switch rel.Policy {
	case loader.PolicyExact:
		if rel.Value != nil {
			return key == table.String(rel.Value)
		}
		bv, ok := b[rel.EndProperty]
		return ok && key == table.String(bv)
	case loader.PolicyMembership:
		for _, item := range table.List(b[rel.EndProperty]) {
			if table.String(item) == key {
				return true
			}
		}
	}
	return false
}

func (g *MemGraph) hasNode(label, id string) bool {
	_, ok := g.nodes[label][id]
	return ok
}

func (g *MemGraph) mergeEdge(k EdgeKey, props map[string]any) {
	cur, ok := g.edges[k]
	if !ok {
		cur = map[string]any{}
		g.edges[k] = cur
	}
	for key, v := range props {
		cur[key] = v
	}
}

func setProps(dst map[string]any, src map[string]any) {
	for k, v := range src {
		if v == nil {
			delete(dst, k)
			continue
		}
		dst[k] = v
	}
}

// Node returns a copy of the node's properties.
func (g *MemGraph) Node(label, id string) (map[string]any, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[label][id]
	if !ok {
		return nil, false
	}
	out := make(map[string]any, len(n))
	for k, v := range n {
		out[k] = v
	}
	return out, true
}

func (g *MemGraph) Edge(k EdgeKey) (map[string]any, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.edges[k]
	if !ok {
		return nil, false
	}
	out := make(map[string]any, len(e))
	for key, v := range e {
		out[key] = v
	}
	return out, true
}

func (g *MemGraph) NodeCount(label string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes[label])
}

// EdgeCount counts relationships of one type. An empty type counts all.
func (g *MemGraph) EdgeCount(typ string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if typ == "" {
		return len(g.edges)
	}
	n := 0
	for k := range g.edges {
		if k.Type == typ {
			n++
		}
	}
	return n
}

func (g *MemGraph) Edges() []EdgeKey {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]EdgeKey, 0, len(g.edges))
	for k := range g.edges {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.StartLabel != b.StartLabel {
			return a.StartLabel < b.StartLabel
		}
		if a.StartID != b.StartID {
			return a.StartID < b.StartID
		}
		if a.EndLabel != b.EndLabel {
			return a.EndLabel < b.EndLabel
		}
		return a.EndID < b.EndID
	})
	return out
}

func (g *MemGraph) Labels() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.nodes))
	for l := range g.nodes {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

func (g *MemGraph) HasSchema(stmt loader.SchemaStatement) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.schema[stmt]
	return ok
}
