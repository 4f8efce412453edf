package normalize

import (
	"encoding/json"
	"testing"

	"catalograph/internal/graph"
	"catalograph/internal/table"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func newNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	n, err := New(Options{}, nil)
	require.NoError(t, err)
	return n
}

func TestCleanerRewritesNestedURIs(t *testing.T) {
	c, err := NewCleaner("")
	require.NoError(t, err)

	in := map[string]any{
		"id": "https://openalex.org/W1",
		"authorships": []any{
			map[string]any{
				"author": map[string]any{"id": "https://openalex.org/A9", "orcid": "https://orcid.org/0000-0001"},
				"institutions": []any{
					map[string]any{"lineage": []any{"https://openalex.org/I5", "https://openalex.org/institutions/I7"}},
				},
			},
		},
		"count": int64(3),
	}
	want := map[string]any{
		"id": "W1",
		"authorships": []any{
			map[string]any{
				"author": map[string]any{"id": "A9", "orcid": "https://orcid.org/0000-0001"},
				"institutions": []any{
					map[string]any{"lineage": []any{"I5", "I7"}},
				},
			},
		},
		"count": int64(3),
	}
	if diff := cmp.Diff(want, c.Clean(in)); diff != "" {
		t.Fatalf("clean mismatch (-want +got):\n%s", diff)
	}
}

func TestCleanerLeavesNonMatchingStrings(t *testing.T) {
	c, err := NewCleaner("")
	require.NoError(t, err)
	require.Equal(t, "https://ror.org/0213rcc28", c.Clean("https://ror.org/0213rcc28"))
	require.Equal(t, "https://openalex.org/", c.Clean("https://openalex.org/"))
	require.Equal(t, "plain", c.Clean("plain"))
	require.Equal(t, true, c.Clean(true))
}

func TestNormalizeInstitution(t *testing.T) {
	n := newNormalizer(t)
	records := []map[string]any{
		{
			"id":            "https://openalex.org/I1",
			"display_name":  "Simon Fraser University",
			"ror":           "https://ror.org/0213rcc28",
			"lineage":       []any{"https://openalex.org/I1"},
			"works_count":   json.Number("120"),
			"summary_stats": map[string]any{"h_index": json.Number("50"), "2yr_mean_citedness": json.Number("2.5"), "i10_index": json.Number("9")},
			"geo":           map[string]any{"city": "Burnaby", "country_code": "CA", "country": "Canada", "latitude": json.Number("49.27")},
			"roles":         []any{map[string]any{"role": "funder", "id": "https://openalex.org/F4"}, map[string]any{"role": "institution", "id": "https://openalex.org/I1"}},
			"x_concepts":    []any{"dropped by projection"},
		},
		{
			"id":           "https://openalex.org/I2",
			"display_name": nil,
			"lineage":      []any{"https://openalex.org/I2", "https://openalex.org/I1"},
		},
		{"id": "https://openalex.org/I1", "display_name": "duplicate"},
		{"display_name": "no id"},
	}

	res, err := n.Normalize(graph.KindInstitution, "institutions", records)
	require.NoError(t, err)
	require.Equal(t, 1, res.Duplicates)
	require.Equal(t, 1, res.MissingID)
	require.Len(t, res.Table.Rows, 2)

	first := res.Table.Rows[0]
	require.Equal(t, "I1", first.ID())
	require.Equal(t, "Simon Fraser University", first["display_name"])
	require.Equal(t, "https://ror.org/0213rcc28", first["ror"])
	require.Equal(t, int64(120), first["works_count"])
	require.Equal(t, int64(50), first["h_index"])
	require.Equal(t, 2.5, first["two_year_mean_citedness"])
	require.Equal(t, "Burnaby", first["geo_city"])
	require.Equal(t, "CA", first["geo_country_code"])
	require.Equal(t, []any{"F4", "I1"}, first["role_ids"])
	require.Equal(t, true, first["lineage_root"])
	require.NotContains(t, first, "summary_stats")
	require.NotContains(t, first, "geo")
	require.NotContains(t, first, "roles")
	require.NotContains(t, first, "x_concepts")

	second := res.Table.Rows[1]
	require.Equal(t, "", second["display_name"])
	require.Equal(t, int64(0), second["works_count"])
	require.Equal(t, int64(0), second["h_index"])
	require.Equal(t, "", second["geo_city"])
	require.Equal(t, false, second["lineage_root"])
	require.NoError(t, table.CheckUnique(res.Table))
}

func TestNormalizeWorkUnwrapsPrimaryLocation(t *testing.T) {
	n := newNormalizer(t)
	res, err := n.Normalize(graph.KindWork, "works", []map[string]any{{
		"id": "https://openalex.org/W1",
		"primary_location": map[string]any{
			"source": map[string]any{
				"id":     "https://openalex.org/S3",
				"issn":   []any{"1234-5678", "8765-4321"},
				"issn_l": "1234-5678",
			},
		},
		"open_access": map[string]any{"is_oa": true, "oa_status": "gold"},
	}})
	require.NoError(t, err)
	row := res.Table.Rows[0]
	require.Equal(t, "S3", row["source_id"])
	require.Equal(t, []any{"1234-5678", "8765-4321"}, row["source_issn"])
	require.Equal(t, true, row["is_oa"])
	require.Equal(t, "gold", row["oa_status"])
	require.NotContains(t, row, "primary_location")
}

func TestNormalizeMissingIDColumn(t *testing.T) {
	n := newNormalizer(t)
	_, err := n.Normalize(graph.KindAuthor, "authors", []map[string]any{{"display_name": "x"}})
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	require.Equal(t, graph.KindAuthor, schemaErr.Kind)
}

func TestNormalizeUnknownKind(t *testing.T) {
	n := newNormalizer(t)
	_, err := n.Normalize(graph.KindYear, "years", nil)
	var cfgErr *graph.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}
