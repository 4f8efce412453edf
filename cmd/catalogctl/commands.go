package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"catalograph/internal/artifact"
	"catalograph/internal/backend"
	"catalograph/internal/graph"
	"catalograph/internal/loader"
	"catalograph/internal/models"
	"catalograph/internal/pipeline"
	"catalograph/internal/workflows"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	tclient "go.temporal.io/sdk/client"
)

func (a *app) pipeline() (*pipeline.Pipeline, error) {
	kinds, err := a.sourceKinds()
	if err != nil {
		return nil, err
	}
	return pipeline.New(a.reg, pipeline.Options{
		InputDir:          a.cfg.Data.In,
		OutputDir:         a.cfg.Data.Out,
		Concurrency:       a.cfg.Transform.Concurrency,
		IdentifierPattern: a.cfg.Catalog.IdentifierPattern,
		Kinds:             kinds,
	}, a.log)
}

func newTransformCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "transform",
		Short: "Normalize and derive the raw dump into parquet artifacts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.pipeline()
			if err != nil {
				return err
			}
			_, report, err := p.Transform(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check artifacts for duplicate ids and dangling relationships",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := pipeline.ReadManifest(a.reg, a.cfg.Data.Out)
			if err != nil {
				return err
			}
			rep, err := pipeline.Verify(cmd.Context(), a.reg, m)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rep)
		},
	}
}

func newLoadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "load",
		Short: "Bulk load existing artifacts into the graph store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := pipeline.ReadManifest(a.reg, a.cfg.Data.Out)
			if err != nil {
				return err
			}
			return a.load(cmd, m)
		},
	}
}

func (a *app) load(cmd *cobra.Command, m artifact.Manifest) error {
	ctx := cmd.Context()
	b, err := backend.Open(ctx, a.cfg, a.log)
	if err != nil {
		return err
	}
	defer b.Close(ctx)

	props, err := loader.DefaultPropertyRelationships(a.reg, a.cfg.Catalog.SeedInstitutionID)
	if err != nil {
		return err
	}
	started := time.Now()
	stats, loadErr := pipeline.Load(ctx, loader.New(b.Store, a.cfg.LoaderOptions(), a.log), m, props)
	totals := stats.Totals()
	if b.Runs != nil {
		if err := b.Runs.Upsert(ctx, a.ledgerRow(totals, loadErr, started)); err != nil {
			a.log.Warn("record run failed", "error", err)
		}
	}
	if err := printJSON(cmd.OutOrStdout(), map[string]any{"totals": totals, "tables": stats.Snapshot()}); err != nil {
		return err
	}
	return loadErr
}

func (a *app) ledgerRow(t loader.Totals, loadErr error, started time.Time) models.LoadRun {
	run := models.LoadRun{
		RunID:         "cli-" + uuid.NewString(),
		InputDir:      a.cfg.Data.In,
		OutputDir:     a.cfg.Data.Out,
		Backend:       a.cfg.Store.Backend,
		Status:        models.RunSucceeded,
		Phase:         models.PhaseDone,
		Tables:        t.Tables,
		Rows:          t.Rows,
		Applied:       t.Applied,
		FailedBatches: t.FailedBatches,
		Unmatched:     t.Unmatched,
		Skipped:       t.Skipped,
		CreatedAt:     started,
		UpdatedAt:     time.Now(),
	}
	if t.FailedBatches > 0 || t.Skipped > 0 {
		run.Status = models.RunPartial
	}
	if loadErr != nil {
		run.LastError = loadErr.Error()
	}
	return run
}

func newRunCmd(a *app) *cobra.Command {
	var remote, wait bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Transform, verify and load in one go",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if remote {
				return a.runRemote(cmd, wait)
			}
			p, err := a.pipeline()
			if err != nil {
				return err
			}
			m, report, err := p.Transform(cmd.Context())
			if err != nil {
				return err
			}
			if failed := report.Failed(); len(failed) > 0 {
				a.log.Warn("kinds failed to transform", "kinds", failed)
			}
			if _, err := pipeline.Verify(cmd.Context(), a.reg, m); err != nil {
				return err
			}
			return a.load(cmd, m)
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "start the run on the Temporal worker instead of in-process")
	cmd.Flags().BoolVar(&wait, "wait", false, "with --remote, block until the workflow completes")
	return cmd
}

func (a *app) runRemote(cmd *cobra.Command, wait bool) error {
	kinds, err := a.sourceKinds()
	if err != nil {
		return err
	}
	c, err := tclient.Dial(tclient.Options{HostPort: a.cfg.Temporal.Address})
	if err != nil {
		return fmt.Errorf("dial temporal: %w", err)
	}
	defer c.Close()

	input := workflows.CatalogLoadInput{
		RunID:                   uuid.NewString(),
		InputDir:                a.cfg.Data.In,
		OutputDir:               a.cfg.Data.Out,
		Backend:                 a.cfg.Store.Backend,
		Kinds:                   kinds,
		SeedInstitutionID:       a.cfg.Catalog.SeedInstitutionID,
		TransformConcurrency:    a.cfg.Transform.Concurrency,
		EntityConcurrency:       a.cfg.Load.EntityConcurrency,
		RelationshipConcurrency: a.cfg.Load.RelationshipConcurrency,
	}
	we, err := c.ExecuteWorkflow(cmd.Context(), tclient.StartWorkflowOptions{
		ID:        "catalog-load-" + input.RunID,
		TaskQueue: a.cfg.Temporal.TaskQueue,
	}, workflows.CatalogLoadWorkflow, input)
	if err != nil {
		return fmt.Errorf("start workflow: %w", err)
	}
	if !wait {
		return printJSON(cmd.OutOrStdout(), map[string]string{"run_id": input.RunID, "workflow_id": we.GetID()})
	}
	var run models.LoadRun
	if err := we.Get(cmd.Context(), &run); err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), run)
}

type inference struct {
	Path  string     `json:"path"`
	Type  string     `json:"type"`
	Kind  graph.Kind `json:"kind,omitempty"`
	Start graph.Kind `json:"start,omitempty"`
	End   graph.Kind `json:"end,omitempty"`
	Label string     `json:"label,omitempty"`
}

func newInferCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "infer PATH...",
		Short: "Print the kind a source directory or artifact file maps to",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := make([]inference, 0, len(args))
			for _, path := range args {
				inf, err := a.infer(path)
				if err != nil {
					return err
				}
				out = append(out, inf)
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func (a *app) infer(path string) (inference, error) {
	inf := inference{Path: path}
	switch filepath.Base(filepath.Dir(path)) {
	case artifact.RelationshipsDir:
		start, end, label, err := artifact.InferRelationship(a.reg, path)
		if err != nil {
			return inf, err
		}
		inf.Type, inf.Start, inf.End, inf.Label = "relationship", start, end, label
		return inf, nil
	case artifact.NodesDir:
		k, err := artifact.InferEntityKind(path)
		if err != nil {
			return inf, err
		}
		inf.Type, inf.Kind = "entity", k
		return inf, nil
	}
	if st, err := os.Stat(path); err == nil && !st.IsDir() {
		path = filepath.Dir(path)
	}
	k, err := artifact.InferSourceDir(path)
	if err != nil {
		return inf, err
	}
	inf.Type, inf.Kind = "source", k
	return inf, nil
}
