package table

import (
	"fmt"

	"catalograph/internal/graph"
)

// DanglingError reports an edge endpoint that no entity table of the declared
// kind contains.
type DanglingError struct {
	Table string
	Kind  graph.Kind
	ID    string
	Side  string
	Count int
}

func (e *DanglingError) Error() string {
	return fmt.Sprintf("relationship table %s: %d dangling %s endpoint(s) of kind %s (first: %q)", e.Table, e.Count, e.Side, e.Kind, e.ID)
}

// IDIndex collects entity ids per kind.
type IDIndex map[graph.Kind]map[string]struct{}

func (x IDIndex) Add(kind graph.Kind, id string) {
	set, ok := x[kind]
	if !ok {
		set = map[string]struct{}{}
		x[kind] = set
	}
	set[id] = struct{}{}
}

func (x IDIndex) AddTable(t *EntityTable) {
	for _, r := range t.Rows {
		if id := r.ID(); id != "" {
			x.Add(t.Kind, id)
		}
	}
}

func (x IDIndex) Has(kind graph.Kind, id string) bool {
	_, ok := x[kind][id]
	return ok
}

// CheckEdges returns a DanglingError for the first endpoint side that
// references an id missing from the index.
func (x IDIndex) CheckEdges(t *RelationshipTable) error {
	if err := x.checkSide(t, ColStartID, t.Start, "start"); err != nil {
		return err
	}
	return x.checkSide(t, ColEndID, t.End, "end")
}

func (x IDIndex) checkSide(t *RelationshipTable, col string, kind graph.Kind, side string) error {
	var first string
	n := 0
	for _, r := range t.Rows {
		id := String(r[col])
		if x.Has(kind, id) {
			continue
		}
		if n == 0 {
			first = id
		}
		n++
	}
	if n > 0 {
		return &DanglingError{Table: t.Name, Kind: kind, ID: first, Side: side, Count: n}
	}
	return nil
}
