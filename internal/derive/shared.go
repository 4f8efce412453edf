package derive

import (
	"strings"

	"catalograph/internal/graph"
	"catalograph/internal/table"
)

var institutionFields = []string{"id", "display_name", "ror", "country_code", "type"}

// addInstitution emits an institution-like entity of kind with its lineage
// and country. Lineage parents become stubs so the edges always resolve.
func addInstitution(b *Builder, kind graph.Kind, rec map[string]any) string {
	row := table.Pick(rec, institutionFields...)
	id := row.ID()
	if id == "" {
		b.Note("institutions_missing_id", 1)
		return ""
	}
	b.Entity(kind, row)
	if kind != graph.KindAffiliatedInstitution {
		return id
	}
	for _, v := range table.List(rec["lineage"]) {
		parent := table.String(v)
		if parent == "" || parent == id {
			continue
		}
		b.Stub(kind, parent)
		b.Edge(kind, kind, id, parent, nil)
	}
	if cc := strings.ToUpper(table.String(rec["country_code"])); cc != "" {
		b.Entity(graph.KindGeographic, table.Row{"id": cc, "country_code": cc})
		b.Edge(kind, graph.KindGeographic, id, cc, nil)
	}
	return id
}

// addYears links every row to the years listed in its counts_by_year.
func addYears(src *table.EntityTable, b *Builder) error {
	for _, ex := range table.Explode(src.Rows, "counts_by_year") {
		rec := table.Record(ex.Value)
		year, ok := table.Int(rec["year"])
		if !ok {
			b.Note("years_missing_year", 1)
			continue
		}
		yid := table.String(year)
		b.Entity(graph.KindYear, table.Row{"id": yid, "year": year})
		props := table.Pick(rec, "works_count", "cited_by_count", "oa_works_count")
		b.Edge(src.Kind, graph.KindYear, ex.Parent.ID(), yid, props)
	}
	return nil
}
