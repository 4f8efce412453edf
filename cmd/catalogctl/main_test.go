package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"catalograph/internal/artifact"
	"catalograph/internal/graph"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const worksPage = `{"results": [
 {"id": "https://openalex.org/W1", "title": "Graphs", "publication_year": 2020,
  "authorships": [{"author_position": "first", "author": {"id": "https://openalex.org/A1", "display_name": "Ada"}}]}
]}`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTransformVerifyLoadCommands(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(in, "works"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(in, "works", "page.json"), []byte(worksPage), 0o644))
	flags := []string{"--in", in, "--out", out, "--backend", "memory"}

	stdout, err := execute(t, append([]string{"transform"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, stdout, `"status": "transformed"`)
	assert.FileExists(t, filepath.Join(out, artifact.ManifestFile))

	stdout, err = execute(t, append([]string{"verify"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, stdout, `"entity_artifacts"`)

	stdout, err = execute(t, append([]string{"load"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, stdout, `"failed_batches": 0`)
}

func TestRunCommandRejectsUnknownKind(t *testing.T) {
	_, err := execute(t, "run", "--in", t.TempDir(), "--out", t.TempDir(), "--backend", "memory", "--kinds", "patents")
	var cfgErr *graph.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestInferCommand(t *testing.T) {
	stdout, err := execute(t, "infer",
		"/out/work/nodes/authorship__work.parquet",
		"/out/work/relationships/authorship__work__AUTHORSHIP_ON_WORK.parquet",
		"/in/institutions",
	)
	require.NoError(t, err)
	assert.Contains(t, stdout, `"kind": "authorship"`)
	assert.Contains(t, stdout, `"label": "AUTHORSHIP_ON_WORK"`)
	assert.Contains(t, stdout, `"kind": "institution"`)

	_, err = execute(t, "infer", "/out/work/relationships/work__work__FUNDS.parquet")
	require.Error(t, err)
}
