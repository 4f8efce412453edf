package normalize

import "catalograph/internal/graph"

// projections lists the fields kept per source kind, in output order.
var projections = map[graph.Kind][]string{
	graph.KindInstitution: {
		"id", "ror", "display_name", "type", "country_code", "homepage_url",
		"lineage", "repositories", "associated_institutions", "roles",
		"works_count", "cited_by_count", "summary_stats", "geo",
		"counts_by_year", "topics",
	},
	graph.KindAuthor: {
		"id", "orcid", "display_name", "works_count", "cited_by_count",
		"summary_stats", "affiliations", "last_known_institutions",
		"topics", "counts_by_year",
	},
	graph.KindWork: {
		"id", "doi", "title", "display_name", "publication_year",
		"publication_date", "type", "language", "cited_by_count",
		"is_retracted", "primary_location", "open_access", "authorships",
		"topics", "referenced_works", "grants", "counts_by_year",
	},
	graph.KindSource: {
		"id", "issn_l", "issn", "display_name", "type", "host_organization",
		"host_organization_name", "country_code", "homepage_url", "is_oa",
		"is_in_doaj", "works_count", "cited_by_count", "summary_stats",
		"topics", "counts_by_year",
	},
	graph.KindFunder: {
		"id", "display_name", "country_code", "description", "homepage_url",
		"grants_count", "works_count", "cited_by_count", "summary_stats",
		"roles", "counts_by_year",
	},
	graph.KindPublisher: {
		"id", "display_name", "hierarchy_level", "country_codes",
		"works_count", "cited_by_count", "summary_stats", "roles",
		"counts_by_year",
	},
	graph.KindTopic: {
		"id", "display_name", "description", "keywords", "subfield", "field",
		"domain", "works_count", "cited_by_count",
	},
}

// lift moves a value nested under a wrapper column to a top-level column.
// With each set, the wrapper is a list and the path is collected from every
// element into a list column.
type lift struct {
	wrapper string
	path    []string
	column  string
	each    bool
}

var summaryStats = []lift{
	{wrapper: "summary_stats", path: []string{"2yr_mean_citedness"}, column: "two_year_mean_citedness"},
	{wrapper: "summary_stats", path: []string{"h_index"}, column: "h_index"},
	{wrapper: "summary_stats", path: []string{"i10_index"}, column: "i10_index"},
}

var roleIDs = lift{wrapper: "roles", path: []string{"id"}, column: "role_ids", each: true}

var unwraps = map[graph.Kind][]lift{
	graph.KindInstitution: append([]lift{
		{wrapper: "geo", path: []string{"city"}, column: "geo_city"},
		{wrapper: "geo", path: []string{"region"}, column: "geo_region"},
		{wrapper: "geo", path: []string{"country"}, column: "geo_country"},
		{wrapper: "geo", path: []string{"country_code"}, column: "geo_country_code"},
		{wrapper: "geo", path: []string{"latitude"}, column: "geo_latitude"},
		{wrapper: "geo", path: []string{"longitude"}, column: "geo_longitude"},
		roleIDs,
	}, summaryStats...),
	graph.KindAuthor: summaryStats,
	graph.KindWork: {
		{wrapper: "primary_location", path: []string{"source", "id"}, column: "source_id"},
		{wrapper: "primary_location", path: []string{"source", "display_name"}, column: "source_display_name"},
		{wrapper: "primary_location", path: []string{"source", "issn"}, column: "source_issn"},
		{wrapper: "primary_location", path: []string{"source", "issn_l"}, column: "source_issn_l"},
		{wrapper: "open_access", path: []string{"is_oa"}, column: "is_oa"},
		{wrapper: "open_access", path: []string{"oa_status"}, column: "oa_status"},
	},
	graph.KindSource:    summaryStats,
	graph.KindFunder:    append([]lift{roleIDs}, summaryStats...),
	graph.KindPublisher: append([]lift{roleIDs}, summaryStats...),
}

// Projection returns the allow-list for kind.
func Projection(kind graph.Kind) []string {
	return projections[kind]
}
