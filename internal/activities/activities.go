package activities

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"catalograph/internal/artifact"
	"catalograph/internal/config"
	"catalograph/internal/graph"
	"catalograph/internal/loader"
	"catalograph/internal/logger"
	"catalograph/internal/models"
	"catalograph/internal/pipeline"
	"catalograph/internal/table"
	"catalograph/internal/util"

	"go.temporal.io/sdk/temporal"
)

// RunRecorder persists run ledger rows. The PostgreSQL RunRepo implements it.
type RunRecorder interface {
	Upsert(ctx context.Context, run models.LoadRun) error
}

type Activities struct {
	cfg    config.Config
	reg    *graph.Registry
	loader *loader.Loader
	runs   RunRecorder
	log    *logger.Logger
}

// New wires the activities to a graph store. runs may be nil, in which case
// run records are only written next to the artifacts.
func New(cfg config.Config, store loader.Store, runs RunRecorder, log *logger.Logger) *Activities {
	if log == nil {
		log = logger.Nop()
	}
	return &Activities{
		cfg:    cfg,
		reg:    graph.Default(),
		loader: loader.New(store, cfg.LoaderOptions(), log),
		runs:   runs,
		log:    log,
	}
}

func (a *Activities) pipeline(inputDir, outputDir string, kinds []graph.Kind) (*pipeline.Pipeline, error) {
	if inputDir == "" {
		inputDir = a.cfg.Data.In
	}
	if outputDir == "" {
		outputDir = a.cfg.Data.Out
	}
	return pipeline.New(a.reg, pipeline.Options{
		InputDir:          inputDir,
		OutputDir:         outputDir,
		Concurrency:       a.cfg.Transform.Concurrency,
		IdentifierPattern: a.cfg.Catalog.IdentifierPattern,
		Kinds:             kinds,
	}, a.log)
}

// classify turns fatal domain errors into non-retryable application errors.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var cfgErr *graph.ConfigurationError
	var dangling *table.DanglingError
	switch {
	case errors.As(err, &cfgErr):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeConfiguration, err)
	case errors.As(err, &dangling), errors.Is(err, table.ErrDuplicateID), errors.Is(err, util.ErrNoArtifacts):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeIntegrity, err)
	case errors.Is(err, loader.ErrEntityPhaseIncomplete):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypePhaseIncomplete, err)
	default:
		return err
	}
}

func (a *Activities) ListSourcesActivity(_ context.Context, in ListSourcesInput) (ListSourcesOutput, error) {
	p, err := a.pipeline(in.InputDir, "", in.Kinds)
	if err != nil {
		return ListSourcesOutput{}, classify(err)
	}
	srcs, err := p.Sources()
	if err != nil {
		return ListSourcesOutput{}, classify(err)
	}
	return ListSourcesOutput{Sources: srcs}, nil
}

// TransformKindActivity transforms one source directory. A schema error is
// reported in the output so the other kinds can continue.
func (a *Activities) TransformKindActivity(ctx context.Context, in TransformKindInput) (TransformKindOutput, error) {
	p, err := a.pipeline(in.InputDir, in.OutputDir, nil)
	if err != nil {
		return TransformKindOutput{}, classify(err)
	}
	m, rep, err := p.TransformSource(ctx, in.Source)
	if err != nil {
		if pipeline.Recoverable(err) {
			return TransformKindOutput{Report: rep}, nil
		}
		return TransformKindOutput{}, classify(err)
	}
	return TransformKindOutput{Manifest: m, Report: rep}, nil
}

// VerifyActivity writes the manifest and derivation report, then checks the
// artifacts for dangling edges and duplicate ids.
func (a *Activities) VerifyActivity(ctx context.Context, in VerifyInput) (VerifyOutput, error) {
	m := in.Manifest
	if m.Root == "" {
		m.Root = in.OutputDir
	}
	if m.Root == "" {
		m.Root = a.cfg.Data.Out
	}
	m.Sort()
	if err := pipeline.WriteReports(m, &pipeline.Report{Kinds: in.Reports}); err != nil {
		return VerifyOutput{}, err
	}
	rep, err := pipeline.Verify(ctx, a.reg, m)
	if err != nil {
		return VerifyOutput{Report: rep}, classify(err)
	}
	return VerifyOutput{Report: rep}, nil
}

func (a *Activities) SetupSchemaActivity(ctx context.Context, in SetupSchemaInput) error {
	return a.loader.SetupSchema(ctx, in.Kinds)
}

// LoadEntityKindActivity loads every entity artifact of one kind in order.
// Batch rejections are reported in the output; read failures are retried.
func (a *Activities) LoadEntityKindActivity(ctx context.Context, in LoadEntityKindInput) (LoadOutput, error) {
	var out LoadOutput
	for _, e := range in.Artifacts {
		if e.Kind != in.Kind {
			return out, classify(&graph.ConfigurationError{Kinds: []string{string(e.Kind), string(in.Kind)}, Artifact: e.Path, Reason: "artifact kind does not match the requested kind"})
		}
		st, err := a.loader.LoadEntities(ctx, pipeline.EntityJob(e))
		out.Tables = append(out.Tables, st)
		if err == nil {
			continue
		}
		var be *loader.BatchError
		if !errors.As(err, &be) {
			return out, err
		}
		out.Failed = true
		if out.Error == "" {
			out.Error = err.Error()
		}
	}
	return out, nil
}

func (a *Activities) LoadRelationshipsActivity(ctx context.Context, in LoadRelationshipsInput) (LoadOutput, error) {
	var out LoadOutput
	st, err := a.loader.LoadRelationships(ctx, loader.Committed(in.Committed...), pipeline.RelationshipJob(in.Artifact))
	out.Tables = append(out.Tables, st)
	if err == nil {
		return out, nil
	}
	var be *loader.BatchError
	if errors.As(err, &be) {
		out.Failed = true
		out.Error = err.Error()
		return out, nil
	}
	return out, classify(err)
}

func (a *Activities) LinkPropertyRelationshipsActivity(ctx context.Context, in LinkPropertyRelationshipsInput) (LoadOutput, error) {
	var out LoadOutput
	seed := in.SeedInstitutionID
	if seed == "" {
		seed = a.cfg.Catalog.SeedInstitutionID
	}
	rels, err := loader.DefaultPropertyRelationships(a.reg, seed)
	if err != nil {
		return out, classify(err)
	}
	barrier := loader.Committed(in.Committed...)
	for _, k := range in.Failed {
		barrier.Fail(k, errors.New("entity load failed"))
	}
	out.Tables, err = a.loader.LinkProperties(ctx, barrier, rels)
	if err != nil {
		out.Failed = true
		out.Error = err.Error()
	}
	return out, nil
}

// RecordRunActivity writes the run to the ledger, when one is configured,
// and to runs/<id>.json under the output directory.
func (a *Activities) RecordRunActivity(ctx context.Context, run models.LoadRun) error {
	if run.RunID == "" {
		return temporal.NewNonRetryableApplicationError("run id required", ErrTypeConfiguration, nil)
	}
	if a.runs != nil {
		if err := a.runs.Upsert(ctx, run); err != nil {
			return fmt.Errorf("record run %s: %w", run.RunID, err)
		}
	}
	out := run.OutputDir
	if out == "" {
		out = a.cfg.Data.Out
	}
	return util.WriteJSONAtomic(filepath.Join(out, "runs", run.RunID+".json"), run)
}

// ManifestFor filters a manifest down to one kind's entity artifacts.
func ManifestFor(m artifact.Manifest, kind graph.Kind) []artifact.EntityArtifact {
	var out []artifact.EntityArtifact
	for _, e := range m.Entities {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
