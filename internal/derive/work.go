package derive

import (
	"catalograph/internal/graph"
	"catalograph/internal/table"
)

type workDeriver struct{}

func (workDeriver) Source() graph.Kind { return graph.KindWork }

func (workDeriver) Derivations() []Derivation {
	return []Derivation{
		{Child: graph.KindAuthorship, Requires: []string{"authorships"}, Consumes: []string{"authorships"}, Run: deriveAuthorships},
		{Child: graph.KindTopic, Requires: []string{"topics"}, Consumes: []string{"topics"}, Run: func(src *table.EntityTable, b *Builder) error {
			return addTopics(src, b, "score")
		}},
		{Child: graph.KindISSN, Requires: []string{"source_issn"}, Consumes: []string{"source_issn"}, Run: deriveWorkISSNs},
		{Child: graph.KindYear, Requires: []string{"counts_by_year"}, Consumes: []string{"counts_by_year"}, Run: addYears},
		{Child: graph.KindWork, Requires: []string{"referenced_works"}, Consumes: []string{"referenced_works"}, Run: deriveReferences},
		{Child: graph.KindFunder, Requires: []string{"grants"}, Consumes: []string{"grants"}, Run: deriveGrants},
	}
}

// AuthorshipID is the synthetic key of an authorship. It assumes an author
// appears at most once in a work's authorship list.
func AuthorshipID(workID, authorID string) string {
	return workID + "_" + authorID
}

func deriveAuthorships(src *table.EntityTable, b *Builder) error {
	seen := map[string]struct{}{}
	for _, ex := range table.Explode(src.Rows, "authorships") {
		a := table.Record(ex.Value)
		author := table.Record(a["author"])
		authorID := table.String(author["id"])
		if authorID == "" {
			b.Note("authorships_missing_author", 1)
			continue
		}
		workID := ex.Parent.ID()
		id := AuthorshipID(workID, authorID)
		if _, dup := seen[id]; dup {
			b.Note("duplicate_authorships", 1)
			continue
		}
		seen[id] = struct{}{}

		row := table.Pick(a, "author_position", "is_corresponding", "raw_author_name", "countries")
		row["id"] = id
		row["work_id"] = workID
		row["author_id"] = authorID
		b.Entity(graph.KindAuthorship, row)
		b.Entity(graph.KindAuthor, table.Pick(author, "id", "display_name", "orcid"))
		b.Edge(graph.KindAuthor, graph.KindAuthorship, authorID, id, nil)
		b.Edge(graph.KindAuthorship, graph.KindWork, id, workID, nil)

		for _, inst := range table.List(a["institutions"]) {
			instID := addInstitution(b, graph.KindAffiliatedInstitution, table.Record(inst))
			if instID == "" {
				continue
			}
			b.Edge(graph.KindAuthorship, graph.KindAffiliatedInstitution, id, instID, nil)
		}
	}
	return nil
}

func deriveWorkISSNs(src *table.EntityTable, b *Builder) error {
	for _, ex := range table.Explode(src.Rows, "source_issn") {
		issn := table.String(ex.Value)
		if issn == "" {
			continue
		}
		b.Entity(graph.KindISSN, table.Row{"id": issn})
		b.Edge(graph.KindWork, graph.KindISSN, ex.Parent.ID(), issn, nil)
	}
	return nil
}

// deriveReferences keeps citations between works of the same corpus. Other
// targets are counted rather than materialized.
func deriveReferences(src *table.EntityTable, b *Builder) error {
	for _, ex := range table.Explode(src.Rows, "referenced_works") {
		target := table.String(ex.Value)
		if !b.IsSource(target) {
			b.Note("external_references", 1)
			continue
		}
		b.Edge(graph.KindWork, graph.KindWork, ex.Parent.ID(), target, nil)
	}
	return nil
}

func deriveGrants(src *table.EntityTable, b *Builder) error {
	for _, ex := range table.Explode(src.Rows, "grants") {
		g := table.Record(ex.Value)
		funderID := table.String(g["funder"])
		if funderID == "" {
			b.Note("grants_missing_funder", 1)
			continue
		}
		row := table.Row{"id": funderID}
		if name := table.String(g["funder_display_name"]); name != "" {
			row["display_name"] = name
		}
		b.Entity(graph.KindFunder, row)
		b.Edge(graph.KindFunder, graph.KindWork, funderID, ex.Parent.ID(), table.Pick(g, "award_id"))
	}
	return nil
}
