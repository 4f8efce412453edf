package workflows

import (
	"errors"
	"path/filepath"
	"strings"
	"time"

	"catalograph/internal/activities"
	"catalograph/internal/artifact"
	"catalograph/internal/graph"
	"catalograph/internal/loader"
	"catalograph/internal/models"
	"catalograph/internal/pipeline"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const QueryGetLoadProgress = "GetLoadProgress"

const (
	RelPending = "pending"
	RelLoaded  = "loaded"
	RelFailed  = "failed"
	RelSkipped = "skipped"
)

// CatalogLoadWorkflow transforms a raw catalog dump, verifies the artifacts
// and bulk loads them. Entity kinds load in parallel; a relationship table
// loads only once both of its endpoint kinds have committed.
func CatalogLoadWorkflow(ctx workflow.Context, input CatalogLoadInput) (models.LoadRun, error) {
	info := workflow.GetInfo(ctx)
	if input.RunID == "" {
		input.RunID = info.WorkflowExecution.ID
	}
	progress := LoadProgress{
		RunID:         input.RunID,
		Phase:         models.PhaseTransform,
		Status:        models.RunRunning,
		Sources:       map[string]models.KindStatus{},
		Kinds:         map[string]models.KindStatus{},
		Relationships: map[string]string{},
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetLoadProgress, func() (LoadProgress, error) {
		return progress, nil
	}); err != nil {
		return models.LoadRun{}, err
	}

	retry := &temporal.RetryPolicy{
		InitialInterval:    2 * time.Second,
		BackoffCoefficient: 2,
		MaximumInterval:    20 * time.Second,
		MaximumAttempts:    3,
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy:         retry,
	})
	longCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		RetryPolicy:         retry,
	})
	log := workflow.GetLogger(ctx)

	now := workflow.Now(ctx)
	run := models.LoadRun{
		RunID:      input.RunID,
		WorkflowID: info.WorkflowExecution.ID,
		InputDir:   input.InputDir,
		OutputDir:  input.OutputDir,
		Backend:    input.Backend,
		CreatedAt:  now,
	}
	record := func(status string) {
		run.Status = status
		run.Phase = progress.Phase
		run.Tables, run.Rows, run.Applied = progress.Tables, progress.Rows, progress.Applied
		run.FailedBatches, run.Unmatched, run.Skipped = progress.FailedBatches, progress.Unmatched, progress.Skipped
		run.LastError = progress.LastError
		run.UpdatedAt = workflow.Now(ctx)
		if err := workflow.ExecuteActivity(ctx, "RecordRunActivity", run).Get(ctx, nil); err != nil {
			log.Warn("record run failed", "run_id", run.RunID, "error", err)
		}
	}
	fail := func(err error) (models.LoadRun, error) {
		progress.Status = models.RunFailed
		progress.LastError = err.Error()
		record(models.RunFailed)
		return run, err
	}
	record(models.RunRunning)
	degraded := false

	var list activities.ListSourcesOutput
	if err := workflow.ExecuteActivity(ctx, "ListSourcesActivity", activities.ListSourcesInput{
		InputDir: input.InputDir,
		Kinds:    input.Kinds,
	}).Get(ctx, &list); err != nil {
		return fail(err)
	}
	if len(list.Sources) == 0 {
		return fail(temporal.NewNonRetryableApplicationError("no input files found", activities.ErrTypeConfiguration, nil))
	}
	for _, src := range list.Sources {
		progress.Sources[string(src.Kind)] = models.KindStatus{Kind: string(src.Kind), Status: models.KindPending}
	}

	manifest := artifact.Manifest{Root: input.OutputDir}
	var reports []pipeline.KindReport
	limit := limitOrDefault(input.TransformConcurrency, len(list.Sources))
	for i := 0; i < len(list.Sources); i += limit {
		end := min(i+limit, len(list.Sources))
		futures := make([]workflow.Future, 0, end-i)
		for _, src := range list.Sources[i:end] {
			futures = append(futures, workflow.ExecuteActivity(longCtx, "TransformKindActivity", activities.TransformKindInput{
				InputDir:  input.InputDir,
				OutputDir: input.OutputDir,
				Source:    src,
			}))
		}
		for idx, f := range futures {
			kind := string(list.Sources[i+idx].Kind)
			var out activities.TransformKindOutput
			if err := f.Get(ctx, &out); err != nil {
				progress.Sources[kind] = models.KindStatus{Kind: kind, Status: models.KindFailed, Error: err.Error()}
				return fail(err)
			}
			reports = append(reports, out.Report)
			if out.Report.Status == pipeline.KindFailed {
				degraded = true
				progress.Sources[kind] = models.KindStatus{Kind: kind, Status: models.KindFailed, Error: out.Report.Error}
				continue
			}
			progress.Sources[kind] = models.KindStatus{Kind: kind, Status: models.KindTransformed}
			if manifest.Root == "" {
				manifest.Root = out.Manifest.Root
			}
			manifest.Merge(out.Manifest)
		}
	}
	manifest.Sort()

	progress.Phase = models.PhaseVerify
	if len(manifest.Entities) == 0 {
		return fail(temporal.NewNonRetryableApplicationError("no entity artifacts produced", activities.ErrTypeIntegrity, nil))
	}
	if err := workflow.ExecuteActivity(longCtx, "VerifyActivity", activities.VerifyInput{
		OutputDir: manifest.Root,
		Manifest:  manifest,
		Reports:   reports,
	}).Get(ctx, nil); err != nil {
		return fail(err)
	}

	kinds := manifest.EntityKinds()
	for _, k := range kinds {
		progress.Kinds[string(k)] = models.KindStatus{Kind: string(k), Status: models.KindPending}
	}
	progress.Phase = models.PhaseSchema
	if err := workflow.ExecuteActivity(ctx, "SetupSchemaActivity", activities.SetupSchemaInput{Kinds: kinds}).Get(ctx, nil); err != nil {
		return fail(err)
	}

	progress.Phase = models.PhaseEntities
	committed := map[graph.Kind]bool{}
	var committedKinds, failedKinds []graph.Kind
	limit = limitOrDefault(input.EntityConcurrency, len(kinds))
	for i := 0; i < len(kinds); i += limit {
		end := min(i+limit, len(kinds))
		futures := make([]workflow.Future, 0, end-i)
		for _, k := range kinds[i:end] {
			futures = append(futures, workflow.ExecuteActivity(longCtx, "LoadEntityKindActivity", activities.LoadEntityKindInput{
				Kind:      k,
				Artifacts: activities.ManifestFor(manifest, k),
			}))
		}
		for idx, f := range futures {
			k := kinds[i+idx]
			var out activities.LoadOutput
			err := f.Get(ctx, &out)
			progress.add(out.Tables)
			switch {
			case err != nil && isFatal(err):
				progress.Kinds[string(k)] = models.KindStatus{Kind: string(k), Status: models.KindFailed, Error: err.Error()}
				return fail(err)
			case err != nil:
				failedKinds = append(failedKinds, k)
				progress.Kinds[string(k)] = models.KindStatus{Kind: string(k), Status: models.KindFailed, Error: err.Error()}
				progress.LastError = err.Error()
			case out.Failed:
				failedKinds = append(failedKinds, k)
				progress.Kinds[string(k)] = models.KindStatus{Kind: string(k), Status: models.KindFailed, Error: out.Error}
				progress.LastError = out.Error
			default:
				committed[k] = true
				committedKinds = append(committedKinds, k)
				progress.Kinds[string(k)] = models.KindStatus{Kind: string(k), Status: models.KindCommitted}
			}
		}
	}
	if len(failedKinds) > 0 {
		degraded = true
		log.Warn("entity kinds failed", "kinds", failedKinds)
	}

	progress.Phase = models.PhaseRelationships
	var runnable []artifact.RelationshipArtifact
	for _, r := range manifest.Relationships {
		name := relationshipName(r)
		if committed[r.Start] && committed[r.End] {
			runnable = append(runnable, r)
			progress.Relationships[name] = RelPending
			continue
		}
		progress.Relationships[name] = RelSkipped
		progress.Skipped++
		degraded = true
	}
	limit = limitOrDefault(input.RelationshipConcurrency, 1)
	for i := 0; i < len(runnable); i += limit {
		end := min(i+limit, len(runnable))
		futures := make([]workflow.Future, 0, end-i)
		for _, r := range runnable[i:end] {
			futures = append(futures, workflow.ExecuteActivity(longCtx, "LoadRelationshipsActivity", activities.LoadRelationshipsInput{
				Artifact:  r,
				Committed: committedKinds,
			}))
		}
		for idx, f := range futures {
			name := relationshipName(runnable[i+idx])
			var out activities.LoadOutput
			err := f.Get(ctx, &out)
			progress.add(out.Tables)
			switch {
			case err != nil:
				degraded = true
				progress.Relationships[name] = RelFailed
				progress.LastError = err.Error()
			case out.Failed:
				degraded = true
				progress.Relationships[name] = RelFailed
				progress.LastError = out.Error
			default:
				progress.Relationships[name] = RelLoaded
			}
		}
	}

	progress.Phase = models.PhaseProperties
	var props activities.LoadOutput
	err := workflow.ExecuteActivity(longCtx, "LinkPropertyRelationshipsActivity", activities.LinkPropertyRelationshipsInput{
		SeedInstitutionID: input.SeedInstitutionID,
		Committed:         committedKinds,
		Failed:            failedKinds,
	}).Get(ctx, &props)
	progress.add(props.Tables)
	switch {
	case err != nil:
		degraded = true
		progress.LastError = err.Error()
	case props.Failed:
		degraded = true
		progress.LastError = props.Error
	}

	progress.Phase = models.PhaseDone
	progress.Status = models.RunSucceeded
	if degraded {
		progress.Status = models.RunPartial
	}
	record(progress.Status)
	return run, nil
}

func (p *LoadProgress) add(tables []loader.TableStats) {
	for _, st := range tables {
		p.Tables++
		p.Rows += st.Rows
		p.Applied += st.Applied
		p.FailedBatches += st.FailedBatches
		p.Unmatched += st.Unmatched
		if st.Skipped {
			p.Skipped++
		}
	}
}

// isFatal reports activity errors that must abort the run.
func isFatal(err error) bool {
	var appErr *temporal.ApplicationError
	if !errors.As(err, &appErr) {
		return false
	}
	switch appErr.Type() {
	case activities.ErrTypeConfiguration, activities.ErrTypeIntegrity:
		return true
	}
	return false
}

func relationshipName(r artifact.RelationshipArtifact) string {
	return string(r.Origin) + "/" + strings.TrimSuffix(filepath.Base(r.Path), artifact.Ext)
}

func limitOrDefault(n, fallback int) int {
	if n > 0 {
		return n
	}
	if fallback > 0 {
		return fallback
	}
	return 1
}
