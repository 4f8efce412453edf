package derive

import (
	"sort"

	"catalograph/internal/graph"
	"catalograph/internal/table"
)

// Builder accumulates the rows of one derivation pass.
type Builder struct {
	reg    *graph.Registry
	origin graph.Kind
	srcIDs map[string]struct{}

	ents     map[graph.Kind][]table.Row
	entOrder []graph.Kind
	stubs    map[graph.Kind][]string

	rels     map[graph.Pair][]table.Row
	relOrder []graph.Pair

	notes map[string]int
}

func newBuilder(reg *graph.Registry, origin graph.Kind, srcIDs map[string]struct{}) *Builder {
	return &Builder{
		reg:    reg,
		origin: origin,
		srcIDs: srcIDs,
		ents:   map[graph.Kind][]table.Row{},
		stubs:  map[graph.Kind][]string{},
		rels:   map[graph.Pair][]table.Row{},
	}
}

// Entity adds a row of kind. Rows without an id are counted and ignored.
func (b *Builder) Entity(kind graph.Kind, row table.Row) {
	if row.ID() == "" {
		b.Note("entities_missing_id", 1)
		return
	}
	if _, ok := b.ents[kind]; !ok {
		b.entOrder = append(b.entOrder, kind)
	}
	b.ents[kind] = append(b.ents[kind], row)
}

// Stub registers an id-only entity, emitted only when no full row for the id
// is produced in the pass and the id is not already in the source table.
func (b *Builder) Stub(kind graph.Kind, id string) {
	if id == "" {
		return
	}
	b.stubs[kind] = append(b.stubs[kind], id)
}

// Edge adds a relationship row in registered direction start -> end.
func (b *Builder) Edge(start, end graph.Kind, startID, endID string, props table.Row) {
	if startID == "" || endID == "" {
		b.Note("edges_missing_id", 1)
		return
	}
	row := make(table.Row, len(props)+2)
	for k, v := range props {
		if v != nil {
			row[k] = v
		}
	}
	row[table.ColStartID] = startID
	row[table.ColEndID] = endID
	p := graph.Pair{Start: start, End: end}
	if _, ok := b.rels[p]; !ok {
		b.relOrder = append(b.relOrder, p)
	}
	b.rels[p] = append(b.rels[p], row)
}

// IsSource reports whether id belongs to the table being derived.
func (b *Builder) IsSource(id string) bool {
	_, ok := b.srcIDs[id]
	return ok
}

func (b *Builder) Note(key string, n int) {
	if b.notes == nil {
		b.notes = map[string]int{}
	}
	b.notes[key] += n
}

func (b *Builder) collection() (*table.DerivedCollection, error) {
	out := &table.DerivedCollection{}
	extra := make([]graph.Kind, 0, len(b.stubs))
	for k := range b.stubs {
		if _, ok := b.ents[k]; !ok {
			extra = append(extra, k)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	b.entOrder = append(b.entOrder, extra...)
	for _, k := range b.entOrder {
		rows := foldByID(b.ents[k])
		have := make(map[string]struct{}, len(rows))
		for _, r := range rows {
			have[r.ID()] = struct{}{}
		}
		for _, id := range b.stubs[k] {
			if _, ok := have[id]; ok {
				continue
			}
			if k == b.origin && b.IsSource(id) {
				continue
			}
			have[id] = struct{}{}
			rows = append(rows, table.Row{table.ColID: id})
		}
		if len(rows) == 0 {
			continue
		}
		out.Entities = append(out.Entities, table.NewEntityTable(entityTableName(k, b.origin), k, rows))
	}
	for _, p := range b.relOrder {
		rt, err := table.NewRelationshipTable(b.reg, p.Start, p.End, b.rels[p])
		if err != nil {
			return nil, err
		}
		out.Relationships = append(out.Relationships, rt)
	}
	return out, nil
}
