package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"catalograph/internal/artifact"
	"catalograph/internal/graph"
	"catalograph/internal/loader"
	"catalograph/internal/logger"
	"catalograph/internal/normalize"
	"catalograph/internal/storage"
	"catalograph/internal/table"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const worksPage = `{"meta": {"count": 2}, "results": [
 {"id": "https://openalex.org/W1", "title": "Graphs", "publication_year": 2020,
  "primary_location": {"source": {"id": "https://openalex.org/S1", "issn": ["1234-5678"]}},
  "authorships": [
   {"author_position": "first", "author": {"id": "https://openalex.org/A1", "display_name": "Ada"},
    "institutions": [{"id": "https://openalex.org/I1", "display_name": "SFU", "lineage": ["https://openalex.org/I1"]}]},
   {"author_position": "last", "author": {"id": "https://openalex.org/A2", "display_name": "Grace"},
    "institutions": [{"id": "https://openalex.org/I1", "display_name": "SFU", "lineage": ["https://openalex.org/I1"]}]}
  ],
  "referenced_works": ["https://openalex.org/W2", "https://openalex.org/W999"],
  "counts_by_year": [{"year": 2021, "cited_by_count": 3}]},
 {"id": "https://openalex.org/W2", "title": "Trees", "publication_year": 2019}
]}`

const institutions = `{"id": "https://openalex.org/I1", "display_name": "SFU", "lineage": ["https://openalex.org/I1"],
 "geo": {"country_code": "CA", "city": "Burnaby"},
 "roles": [{"role": "funder", "id": "https://openalex.org/F1"}, {"role": "institution", "id": "https://openalex.org/I1"}]}
`

const funders = `{"id": "https://openalex.org/F1", "display_name": "SFU Fund",
 "roles": [{"role": "institution", "id": "https://openalex.org/I1"}, {"role": "funder", "id": "https://openalex.org/F1"}]}
`

const authors = `{"id": "https://openalex.org/A1", "display_name": "Ada",
 "last_known_institutions": [{"id": "https://openalex.org/I1", "display_name": "SFU", "lineage": ["https://openalex.org/I1"]}]}
`

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func writeZstd(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	enc, err := zstd.NewWriter(f)
	require.NoError(t, err)
	_, err = enc.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, enc.Close())
}

func rawCorpus(t *testing.T) string {
	in := t.TempDir()
	writeFile(t, filepath.Join(in, "works", "page_0001.json"), worksPage)
	writeFile(t, filepath.Join(in, "institutions", "part.jsonl"), institutions)
	writeFile(t, filepath.Join(in, "funders", "part.jsonl"), funders)
	writeZstd(t, filepath.Join(in, "authors", "part.jsonl.zst"), authors)
	return in
}

func newPipeline(t *testing.T, in, out string) *Pipeline {
	p, err := New(graph.Default(), Options{InputDir: in, OutputDir: out, Concurrency: 2}, logger.FromZap(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return p
}

func TestTransformVerifyLoadEndToEnd(t *testing.T) {
	ctx := context.Background()
	out := t.TempDir()
	p := newPipeline(t, rawCorpus(t), out)

	m, report, err := p.Transform(ctx)
	require.NoError(t, err)
	require.Empty(t, report.Failed())
	require.Len(t, report.Kinds, 4)
	assert.FileExists(t, filepath.Join(out, artifact.ManifestFile))
	assert.FileExists(t, filepath.Join(out, OutcomesFile))
	assert.FileExists(t, filepath.Join(out, "work", artifact.NodesDir, "authorship__work.parquet"))
	assert.FileExists(t, filepath.Join(out, "work", artifact.RelationshipsDir, "authorship__work__AUTHORSHIP_ON_WORK.parquet"))

	vr, err := Verify(ctx, p.Registry(), m)
	require.NoError(t, err)
	assert.Positive(t, vr.Relationships)

	g := storage.NewMemGraph()
	props, err := loader.DefaultPropertyRelationships(p.Registry(), "")
	require.NoError(t, err)
	l := loader.New(g, loader.Options{BatchSize: 2, Retries: 1}, nil)

	stats, err := Load(ctx, l, m, props)
	require.NoError(t, err)
	assert.Zero(t, stats.Totals().FailedBatches)

	assert.Equal(t, 2, g.NodeCount("Work"))
	assert.Equal(t, 2, g.NodeCount("Authorship"))
	assert.Equal(t, 2, g.NodeCount("Author"))
	assert.Equal(t, 2, g.EdgeCount(graph.RelAuthorshipOnWork))
	assert.Equal(t, 2, g.EdgeCount(graph.RelHasAuthorship))
	assert.Equal(t, 2, g.EdgeCount(graph.RelAuthorshipHasAffiliation))
	assert.Equal(t, 1, g.EdgeCount(graph.RelReferencesWork))
	assert.Equal(t, 1, g.EdgeCount(graph.RelLastAffiliatedWith))

	_, ok := g.Edge(storage.EdgeKey{Type: graph.RelReferencesWork, StartLabel: "Work", StartID: "W1", EndLabel: "Work", EndID: "W2"})
	assert.True(t, ok)
	_, ok = g.Edge(storage.EdgeKey{Type: graph.RelInstitutionIsTheSameAs, StartLabel: "AffiliatedInstitution", StartID: "I1", EndLabel: "Institution", EndID: "I1"})
	assert.True(t, ok, "affiliated institution is linked to its full record")
	_, ok = g.Edge(storage.EdgeKey{Type: graph.RelCanAlsoBe, StartLabel: "Institution", StartID: "I1", EndLabel: "Funder", EndID: "F1"})
	assert.True(t, ok)
	_, ok = g.Edge(storage.EdgeKey{Type: graph.RelIsARoleOf, StartLabel: "Funder", StartID: "F1", EndLabel: "Institution", EndID: "I1"})
	assert.True(t, ok)

	work, ok := g.Node("Work", "W1")
	require.True(t, ok)
	assert.Equal(t, "Graphs", work["title"])
	assert.Equal(t, "S1", work["source_id"])

	// a second load over the same artifacts changes nothing
	nodes := map[string]int{}
	for _, label := range g.Labels() {
		nodes[label] = g.NodeCount(label)
	}
	edges := g.Edges()
	_, err = Load(ctx, l, m, props)
	require.NoError(t, err)
	for label, n := range nodes {
		assert.Equal(t, n, g.NodeCount(label), label)
	}
	assert.Equal(t, edges, g.Edges())
}

func TestTransformSchemaErrorFailsOnlyThatKind(t *testing.T) {
	in := rawCorpus(t)
	writeFile(t, filepath.Join(in, "publishers", "part.jsonl"), `{"display_name": "no id here"}`+"\n")
	p := newPipeline(t, in, t.TempDir())

	m, report, err := p.Transform(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []graph.Kind{graph.KindPublisher}, report.Failed())
	for _, k := range report.Kinds {
		if k.Kind == graph.KindPublisher {
			assert.Contains(t, k.Error, "id")
		}
	}
	for _, e := range m.Entities {
		assert.NotEqual(t, graph.KindPublisher, e.Origin)
	}
}

func TestTransformUnknownDirectoryAborts(t *testing.T) {
	in := rawCorpus(t)
	writeFile(t, filepath.Join(in, "patents", "part.json"), `{"id": "P1"}`)
	p := newPipeline(t, in, t.TempDir())

	_, _, err := p.Transform(context.Background())
	var cfgErr *graph.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestTransformKindFilterAndGapOutcomes(t *testing.T) {
	out := t.TempDir()
	p, err := New(graph.Default(), Options{InputDir: rawCorpus(t), OutputDir: out, Kinds: []graph.Kind{graph.KindFunder}}, nil)
	require.NoError(t, err)

	_, report, err := p.Transform(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Kinds, 1)
	require.Len(t, report.Kinds[0].Outcomes, 1)
	assert.Equal(t, "skipped", string(report.Kinds[0].Outcomes[0].Status), "funders without counts_by_year skip the year derivation")
	assert.NoDirExists(t, filepath.Join(out, "work"))
}

func TestVerifyReportsDanglingEdges(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	reg := graph.Default()
	src := table.NewEntityTable("work", graph.KindWork, []table.Row{{"id": "W1"}})
	rel, err := table.NewRelationshipTable(reg, graph.KindWork, graph.KindTopic, []table.Row{{"start_id": "W1", "end_id": "T404"}})
	require.NoError(t, err)
	m, err := artifact.WriteCollection(root, src, &table.DerivedCollection{Relationships: []*table.RelationshipTable{rel}})
	require.NoError(t, err)

	_, err = Verify(ctx, reg, m)
	var dangling *table.DanglingError
	require.ErrorAs(t, err, &dangling)
	assert.Equal(t, "T404", dangling.ID)
	assert.Equal(t, "end", dangling.Side)
}

func TestReadManifestFallsBackToScan(t *testing.T) {
	root := t.TempDir()
	reg := graph.Default()
	src := table.NewEntityTable("work", graph.KindWork, []table.Row{{"id": "W1"}})
	_, err := artifact.WriteCollection(root, src, &table.DerivedCollection{})
	require.NoError(t, err)

	m, err := ReadManifest(reg, root)
	require.NoError(t, err)
	require.Len(t, m.Entities, 1)
	assert.Equal(t, graph.KindWork, m.Entities[0].Kind)

	_, err = Load(context.Background(), loader.New(storage.NewMemGraph(), loader.Options{}, nil), artifact.Manifest{Root: root}, nil)
	require.Error(t, err)
}

func TestRecoverable(t *testing.T) {
	assert.True(t, Recoverable(&normalize.SchemaError{Kind: graph.KindWork, Column: "id"}))
	assert.False(t, Recoverable(&graph.ConfigurationError{Reason: "x"}))
	assert.False(t, Recoverable(errors.New("disk full")))
}
