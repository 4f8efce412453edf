package derive

import (
	"context"
	"fmt"
	"sort"

	"catalograph/internal/graph"
	"catalograph/internal/logger"
	"catalograph/internal/table"
)

type Status string

const (
	StatusProcessed Status = "processed"
	StatusSkipped   Status = "skipped"
)

// Outcome records what one derivation did to one source table. A skipped
// outcome means the expected column was missing, which is different from a
// processed outcome with zero rows.
type Outcome struct {
	Source        graph.Kind     `json:"source"`
	Child         graph.Kind     `json:"child"`
	Status        Status         `json:"status"`
	Reason        string         `json:"reason,omitempty"`
	Entities      int            `json:"entities"`
	Relationships int            `json:"relationships"`
	Notes         map[string]int `json:"notes,omitempty"`
}

// GapError describes a derivation that could not run because its input
// column is absent.
type GapError struct {
	Source graph.Kind
	Child  graph.Kind
	Column string
}

func (e *GapError) Error() string {
	return fmt.Sprintf("derivation gap: %s -> %s needs column %q", e.Source, e.Child, e.Column)
}

// Derivation decomposes nested columns of a source table into one child
// kind (plus whatever that child drags along). Requires gates execution;
// Consumes is dropped from the source table afterwards.
type Derivation struct {
	Child    graph.Kind
	Requires []string
	Consumes []string
	Run      func(src *table.EntityTable, b *Builder) error
}

// Deriver is implemented once per source kind.
type Deriver interface {
	Source() graph.Kind
	Derivations() []Derivation
}

type Engine struct {
	reg      *graph.Registry
	derivers map[graph.Kind]Deriver
	log      *logger.Logger
}

func NewEngine(reg *graph.Registry, log *logger.Logger, derivers ...Deriver) *Engine {
	if log == nil {
		log = logger.Nop()
	}
	e := &Engine{reg: reg, derivers: make(map[graph.Kind]Deriver, len(derivers)), log: log}
	for _, d := range derivers {
		e.derivers[d.Source()] = d
	}
	return e
}

// Result is the shrunk source table, the merged derived tables and one
// outcome per declared derivation.
type Result struct {
	Source     *table.EntityTable
	Collection *table.DerivedCollection
	Outcomes   []Outcome

	gaps []*GapError
}

// Gaps returns one *GapError per skipped derivation.
func (r *Result) Gaps() []error {
	out := make([]error, len(r.gaps))
	for i, g := range r.gaps {
		out[i] = g
	}
	return out
}

// Derive runs every derivation registered for src.Kind in declared order.
// src is modified in place: consumed columns are dropped.
func (e *Engine) Derive(ctx context.Context, src *table.EntityTable) (*Result, error) {
	res := &Result{Source: src, Collection: &table.DerivedCollection{}}
	d, ok := e.derivers[src.Kind]
	if !ok {
		return res, nil
	}
	srcIDs := src.IDs()
	merged := newMerger()
	log := e.log.With("source", src.Kind, "table", src.Name)

	for _, dv := range d.Derivations() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out := Outcome{Source: src.Kind, Child: dv.Child}
		if col, missing := firstMissing(src, dv.Requires); missing {
			gap := &GapError{Source: src.Kind, Child: dv.Child, Column: col}
			out.Status = StatusSkipped
			out.Reason = gap.Error()
			res.Outcomes = append(res.Outcomes, out)
			res.gaps = append(res.gaps, gap)
			log.Warn("derivation skipped", "child", dv.Child, "column", col)
			continue
		}

		b := newBuilder(e.reg, src.Kind, srcIDs)
		if err := dv.Run(src, b); err != nil {
			return nil, fmt.Errorf("derive %s -> %s: %w", src.Kind, dv.Child, err)
		}
		coll, err := b.collection()
		if err != nil {
			return nil, fmt.Errorf("derive %s -> %s: %w", src.Kind, dv.Child, err)
		}
		if err := checkCollection(src, coll); err != nil {
			return nil, fmt.Errorf("derive %s -> %s: %w", src.Kind, dv.Child, err)
		}
		src.Drop(dv.Consumes...)

		out.Status = StatusProcessed
		for _, t := range coll.Entities {
			out.Entities += t.Len()
		}
		for _, t := range coll.Relationships {
			out.Relationships += t.Len()
		}
		if len(b.notes) > 0 {
			out.Notes = b.notes
		}
		res.Outcomes = append(res.Outcomes, out)
		merged.add(coll)
		log.Debug("derivation processed", "child", dv.Child, "entities", out.Entities, "relationships", out.Relationships)
	}
	res.Collection = merged.collection(src.Kind)
	return res, nil
}

func firstMissing(src *table.EntityTable, cols []string) (string, bool) {
	for _, c := range cols {
		if !src.HasColumn(c) {
			return c, true
		}
	}
	return "", false
}

// checkCollection verifies every edge endpoint exists in the source table
// or among the entities produced in the same pass.
func checkCollection(src *table.EntityTable, coll *table.DerivedCollection) error {
	idx := table.IDIndex{}
	idx.AddTable(src)
	for _, t := range coll.Entities {
		idx.AddTable(t)
	}
	for _, t := range coll.Relationships {
		if err := idx.CheckEdges(t); err != nil {
			return err
		}
	}
	return nil
}

// merger folds the collections of one source into a single collection with
// one entity table per kind and one relationship table per label.
type merger struct {
	ents     map[graph.Kind][]table.Row
	rels     map[string]*table.RelationshipTable
	entOrder []graph.Kind
	relOrder []string
}

func newMerger() *merger {
	return &merger{ents: map[graph.Kind][]table.Row{}, rels: map[string]*table.RelationshipTable{}}
}

func (m *merger) add(c *table.DerivedCollection) {
	for _, t := range c.Entities {
		if _, ok := m.ents[t.Kind]; !ok {
			m.entOrder = append(m.entOrder, t.Kind)
		}
		m.ents[t.Kind] = append(m.ents[t.Kind], t.Rows...)
	}
	for _, t := range c.Relationships {
		cur, ok := m.rels[t.Name]
		if !ok {
			cp := *t
			cp.Rows = append([]table.Row(nil), t.Rows...)
			m.rels[t.Name] = &cp
			m.relOrder = append(m.relOrder, t.Name)
			continue
		}
		cur.Rows = append(cur.Rows, t.Rows...)
	}
}

func (m *merger) collection(origin graph.Kind) *table.DerivedCollection {
	out := &table.DerivedCollection{}
	for _, k := range m.entOrder {
		rows := foldByID(m.ents[k])
		out.Entities = append(out.Entities, table.NewEntityTable(entityTableName(k, origin), k, rows))
	}
	for _, name := range m.relOrder {
		out.Relationships = append(out.Relationships, m.rels[name])
	}
	return out
}

// foldByID keeps the first row per id, filling keys it lacks from later
// duplicates.
func foldByID(rows []table.Row) []table.Row {
	pos := make(map[string]int, len(rows))
	out := make([]table.Row, 0, len(rows))
	for _, r := range rows {
		id := r.ID()
		if id == "" {
			continue
		}
		i, ok := pos[id]
		if !ok {
			pos[id] = len(out)
			out = append(out, r.Clone())
			continue
		}
		for k, v := range r {
			if _, has := out[i][k]; !has && v != nil {
				out[i][k] = v
			}
		}
	}
	return out
}

func entityTableName(kind, origin graph.Kind) string {
	return string(kind) + "__" + string(origin)
}

// Kinds lists the source kinds with a registered deriver.
func (e *Engine) Kinds() []graph.Kind {
	out := make([]graph.Kind, 0, len(e.derivers))
	for k := range e.derivers {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
