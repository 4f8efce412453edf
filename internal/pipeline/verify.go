package pipeline

import (
	"context"
	"errors"
	"fmt"

	"catalograph/internal/artifact"
	"catalograph/internal/graph"
	"catalograph/internal/table"
	"catalograph/internal/util"
)

// VerifyReport counts what Verify checked.
type VerifyReport struct {
	EntityArtifacts       int `json:"entity_artifacts"`
	RelationshipArtifacts int `json:"relationship_artifacts"`
	Entities              int `json:"entities"`
	Relationships         int `json:"relationships"`
}

// Verify re-reads the artifacts and checks that every entity artifact is
// unique by id and that every edge points at an entity of its declared kind.
func Verify(ctx context.Context, reg *graph.Registry, m artifact.Manifest) (VerifyReport, error) {
	var rep VerifyReport
	if len(m.Entities) == 0 {
		return rep, fmt.Errorf("%s: %w", m.Root, util.ErrNoArtifacts)
	}
	idx := table.IDIndex{}
	var errs []error
	for _, e := range m.Entities {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rows, err := artifact.ReadRows(ctx, e.Path)
		if err != nil {
			return rep, err
		}
		t := table.NewEntityTable(e.Path, e.Kind, rows)
		if err := table.CheckUnique(t); err != nil {
			errs = append(errs, err)
		}
		idx.AddTable(t)
		rep.EntityArtifacts++
		rep.Entities += len(rows)
	}
	for _, r := range m.Relationships {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rows, err := artifact.ReadRows(ctx, r.Path)
		if err != nil {
			return rep, err
		}
		t, err := table.NewRelationshipTable(reg, r.Start, r.End, rows)
		if err != nil {
			return rep, err
		}
		if t.Label != r.Label {
			errs = append(errs, &graph.ConfigurationError{Artifact: r.Path, Reason: fmt.Sprintf("label %s does not match registry label %s", r.Label, t.Label)})
			continue
		}
		t.Name = r.Path
		if err := idx.CheckEdges(t); err != nil {
			errs = append(errs, err)
		}
		rep.RelationshipArtifacts++
		rep.Relationships += len(rows)
	}
	return rep, errors.Join(errs...)
}
