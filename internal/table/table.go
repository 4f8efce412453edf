package table

import (
	"sort"

	"catalograph/internal/graph"
)

const (
	ColID      = "id"
	ColStartID = "start_id"
	ColEndID   = "end_id"
)

// Row is one record of a table. Values form a tree of scalars
// (string, int64, float64, bool), lists ([]any) and records (map[string]any).
type Row map[string]any

func (r Row) ID() string {
	s, _ := r[ColID].(string)
	return s
}

func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// EntityTable holds rows of a single kind, unique by id.
type EntityTable struct {
	Name string
	Kind graph.Kind
	Rows []Row
}

func NewEntityTable(name string, kind graph.Kind, rows []Row) *EntityTable {
	return &EntityTable{Name: name, Kind: kind, Rows: rows}
}

func (t *EntityTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// HasColumn reports whether any row carries the column, even with a nil value.
func (t *EntityTable) HasColumn(col string) bool {
	for _, r := range t.Rows {
		if _, ok := r[col]; ok {
			return true
		}
	}
	return false
}

// Columns returns the sorted union of row keys.
func (t *EntityTable) Columns() []string {
	return columns(t.Rows)
}

func (t *EntityTable) IDs() map[string]struct{} {
	out := make(map[string]struct{}, len(t.Rows))
	for _, r := range t.Rows {
		if id := r.ID(); id != "" {
			out[id] = struct{}{}
		}
	}
	return out
}

// Drop removes columns from every row in place.
func (t *EntityTable) Drop(cols ...string) {
	for _, r := range t.Rows {
		for _, c := range cols {
			delete(r, c)
		}
	}
}

// RelationshipTable holds edges between two kinds. Label is resolved from the
// registry when the table is built.
type RelationshipTable struct {
	Name  string
	Start graph.Kind
	End   graph.Kind
	Label string
	Rows  []Row
}

func NewRelationshipTable(reg *graph.Registry, start, end graph.Kind, rows []Row) (*RelationshipTable, error) {
	label, err := reg.Resolve(start, end)
	if err != nil {
		return nil, err
	}
	return &RelationshipTable{
		Name:  RelationshipName(start, end, label),
		Start: start,
		End:   end,
		Label: label,
		Rows:  rows,
	}, nil
}

func (t *RelationshipTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

func (t *RelationshipTable) Columns() []string {
	return columns(t.Rows)
}

// Properties returns the edge property columns of a row.
func Properties(r Row) map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		if k == ColStartID || k == ColEndID || v == nil {
			continue
		}
		out[k] = v
	}
	return out
}

func RelationshipName(start, end graph.Kind, label string) string {
	return string(start) + "__" + string(end) + "__" + label
}

// DerivedCollection is the output of one derivation pass.
type DerivedCollection struct {
	Entities      []*EntityTable
	Relationships []*RelationshipTable
}

func (c *DerivedCollection) Empty() bool {
	return len(c.Entities) == 0 && len(c.Relationships) == 0
}

func columns(rows []Row) []string {
	seen := map[string]struct{}{}
	for _, r := range rows {
		for k := range r {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
