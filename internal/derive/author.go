package derive

import (
	"catalograph/internal/graph"
	"catalograph/internal/table"
)

type authorDeriver struct{}

func (authorDeriver) Source() graph.Kind { return graph.KindAuthor }

func (authorDeriver) Derivations() []Derivation {
	return []Derivation{
		{Child: graph.KindAffiliatedInstitution, Requires: []string{"affiliations"}, Consumes: []string{"affiliations"}, Run: deriveAffiliations},
		{Child: graph.KindLastInstitution, Requires: []string{"last_known_institutions"}, Consumes: []string{"last_known_institutions"}, Run: deriveLastInstitutions},
		{Child: graph.KindTopic, Requires: []string{"topics"}, Consumes: []string{"topics"}, Run: func(src *table.EntityTable, b *Builder) error {
			return addTopics(src, b, "count")
		}},
		{Child: graph.KindYear, Requires: []string{"counts_by_year"}, Consumes: []string{"counts_by_year"}, Run: addYears},
	}
}

func deriveAffiliations(src *table.EntityTable, b *Builder) error {
	for _, ex := range table.Explode(src.Rows, "affiliations") {
		aff := table.Record(ex.Value)
		instID := addInstitution(b, graph.KindAffiliatedInstitution, table.Record(aff["institution"]))
		if instID == "" {
			continue
		}
		b.Edge(graph.KindAuthor, graph.KindAffiliatedInstitution, ex.Parent.ID(), instID, table.Pick(aff, "years"))
	}
	return nil
}

func deriveLastInstitutions(src *table.EntityTable, b *Builder) error {
	for _, ex := range table.Explode(src.Rows, "last_known_institutions") {
		instID := addInstitution(b, graph.KindLastInstitution, table.Record(ex.Value))
		if instID == "" {
			continue
		}
		b.Edge(graph.KindAuthor, graph.KindLastInstitution, ex.Parent.ID(), instID, nil)
	}
	return nil
}
