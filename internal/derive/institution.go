package derive

import (
	"strings"

	"catalograph/internal/graph"
	"catalograph/internal/table"
)

type institutionDeriver struct{}

func (institutionDeriver) Source() graph.Kind { return graph.KindInstitution }

func (institutionDeriver) Derivations() []Derivation {
	return []Derivation{
		{Child: graph.KindTopic, Requires: []string{"topics"}, Consumes: []string{"topics"}, Run: func(src *table.EntityTable, b *Builder) error {
			return addTopics(src, b, "count")
		}},
		{Child: graph.KindInstitution, Requires: []string{"lineage"}, Consumes: []string{"lineage"}, Run: deriveLineage},
		{Child: graph.KindAffiliatedInstitution, Requires: []string{"associated_institutions"}, Consumes: []string{"associated_institutions"}, Run: deriveAssociated},
		{Child: graph.KindSource, Requires: []string{"repositories"}, Consumes: []string{"repositories"}, Run: deriveRepositories},
		{Child: graph.KindGeographic, Requires: []string{"geo_country_code"}, Consumes: []string{"geo_country_code"}, Run: deriveInstitutionGeo},
		{Child: graph.KindYear, Requires: []string{"counts_by_year"}, Consumes: []string{"counts_by_year"}, Run: addYears},
	}
}

func deriveLineage(src *table.EntityTable, b *Builder) error {
	for _, ex := range table.Explode(src.Rows, "lineage") {
		id := ex.Parent.ID()
		parent := table.String(ex.Value)
		if parent == "" || parent == id {
			continue
		}
		b.Stub(graph.KindInstitution, parent)
		b.Edge(graph.KindInstitution, graph.KindInstitution, id, parent, nil)
	}
	return nil
}

func deriveAssociated(src *table.EntityTable, b *Builder) error {
	for _, ex := range table.Explode(src.Rows, "associated_institutions") {
		rec := table.Record(ex.Value)
		instID := addInstitution(b, graph.KindAffiliatedInstitution, rec)
		if instID == "" {
			continue
		}
		b.Edge(graph.KindInstitution, graph.KindAffiliatedInstitution, ex.Parent.ID(), instID, table.Pick(rec, "relationship"))
	}
	return nil
}

func deriveRepositories(src *table.EntityTable, b *Builder) error {
	for _, ex := range table.Explode(src.Rows, "repositories") {
		rec := table.Record(ex.Value)
		row := table.Pick(rec, "id", "display_name", "host_organization", "host_organization_name")
		if row.ID() == "" {
			b.Note("repositories_missing_id", 1)
			continue
		}
		b.Entity(graph.KindSource, row)
		b.Edge(graph.KindInstitution, graph.KindSource, ex.Parent.ID(), row.ID(), nil)
	}
	return nil
}

func deriveInstitutionGeo(src *table.EntityTable, b *Builder) error {
	for _, r := range src.Rows {
		cc := strings.ToUpper(table.String(r["geo_country_code"]))
		if cc == "" {
			continue
		}
		r["country_code"] = cc
		row := table.Row{"id": cc, "country_code": cc}
		if name := table.String(r["geo_country"]); name != "" {
			row["country"] = name
		}
		b.Entity(graph.KindGeographic, row)
		b.Edge(graph.KindInstitution, graph.KindGeographic, r.ID(), cc, nil)
	}
	return nil
}
