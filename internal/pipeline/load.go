package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"catalograph/internal/artifact"
	"catalograph/internal/graph"
	"catalograph/internal/loader"
	"catalograph/internal/table"
	"catalograph/internal/util"
)

func artifactName(origin, path string) string {
	return origin + "/" + strings.TrimSuffix(filepath.Base(path), artifact.Ext)
}

func rowsFrom(path string) loader.RowSource {
	return func(ctx context.Context) ([]table.Row, error) {
		return artifact.ReadRows(ctx, path)
	}
}

func EntityJob(e artifact.EntityArtifact) loader.EntityJob {
	return loader.EntityJob{Name: artifactName(string(e.Origin), e.Path), Kind: e.Kind, Rows: rowsFrom(e.Path)}
}

func RelationshipJob(r artifact.RelationshipArtifact) loader.RelationshipJob {
	return loader.RelationshipJob{
		Name:  artifactName(string(r.Origin), r.Path),
		Start: r.Start,
		End:   r.End,
		Label: r.Label,
		Rows:  rowsFrom(r.Path),
	}
}

// PlanFromManifest turns artifacts into loader jobs. Rows are read lazily
// when each table's load starts.
func PlanFromManifest(m artifact.Manifest, props []loader.PropertyRelationship) loader.Plan {
	plan := loader.Plan{Properties: props}
	for _, e := range m.Entities {
		plan.Entities = append(plan.Entities, EntityJob(e))
	}
	for _, r := range m.Relationships {
		plan.Relationships = append(plan.Relationships, RelationshipJob(r))
	}
	return plan
}

// Load runs the full load protocol over the manifest's artifacts.
func Load(ctx context.Context, l *loader.Loader, m artifact.Manifest, props []loader.PropertyRelationship) (*loader.Stats, error) {
	if len(m.Entities) == 0 {
		return &loader.Stats{}, fmt.Errorf("%s: %w", m.Root, util.ErrNoArtifacts)
	}
	return l.Run(ctx, PlanFromManifest(m, props))
}

// ReadManifest loads root/manifest.json, falling back to scanning the
// artifact tree when it is absent.
func ReadManifest(reg *graph.Registry, root string) (artifact.Manifest, error) {
	m, err := artifact.ReadManifest(root)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return m, err
	}
	return artifact.Scan(root, reg)
}
