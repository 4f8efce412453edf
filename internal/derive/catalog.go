package derive

import (
	"catalograph/internal/graph"
	"catalograph/internal/logger"
	"catalograph/internal/table"
)

type sourceDeriver struct{}

func (sourceDeriver) Source() graph.Kind { return graph.KindSource }

func (sourceDeriver) Derivations() []Derivation {
	return []Derivation{
		{Child: graph.KindISSN, Requires: []string{"issn"}, Consumes: []string{"issn"}, Run: deriveSourceISSNs},
		{Child: graph.KindTopic, Requires: []string{"topics"}, Consumes: []string{"topics"}, Run: func(src *table.EntityTable, b *Builder) error {
			return addTopics(src, b, "count")
		}},
		{Child: graph.KindYear, Requires: []string{"counts_by_year"}, Consumes: []string{"counts_by_year"}, Run: addYears},
	}
}

// deriveSourceISSNs keeps the list on the node as issns.
func deriveSourceISSNs(src *table.EntityTable, b *Builder) error {
	for _, r := range src.Rows {
		if v, ok := r["issn"]; ok {
			r["issns"] = v
		}
	}
	for _, ex := range table.Explode(src.Rows, "issn") {
		issn := table.String(ex.Value)
		if issn == "" {
			continue
		}
		b.Entity(graph.KindISSN, table.Row{"id": issn})
		b.Edge(graph.KindSource, graph.KindISSN, ex.Parent.ID(), issn, nil)
	}
	return nil
}

// yearsOnly covers kinds whose only nested payload is counts_by_year.
type yearsOnly graph.Kind

func (y yearsOnly) Source() graph.Kind { return graph.Kind(y) }

func (yearsOnly) Derivations() []Derivation {
	return []Derivation{
		{Child: graph.KindYear, Requires: []string{"counts_by_year"}, Consumes: []string{"counts_by_year"}, Run: addYears},
	}
}

type topicDeriver struct{}

func (topicDeriver) Source() graph.Kind { return graph.KindTopic }

func (topicDeriver) Derivations() []Derivation {
	return []Derivation{
		{
			Child:    graph.KindSubfield,
			Requires: []string{"subfield", "field", "domain"},
			Consumes: []string{"subfield", "field", "domain"},
			Run: func(src *table.EntityTable, b *Builder) error {
				recs := make([]map[string]any, len(src.Rows))
				for i, r := range src.Rows {
					recs[i] = r
				}
				return addHierarchy(b, recs, false)
			},
		},
	}
}

// Derivers is the static registration table, one entry per source kind.
var Derivers = []Deriver{
	workDeriver{},
	authorDeriver{},
	institutionDeriver{},
	sourceDeriver{},
	yearsOnly(graph.KindFunder),
	yearsOnly(graph.KindPublisher),
	topicDeriver{},
}

// Default returns an engine with every built-in deriver registered.
func Default(reg *graph.Registry, log *logger.Logger) *Engine {
	return NewEngine(reg, log, Derivers...)
}
