package workflows

import (
	"context"
	"testing"

	"catalograph/internal/activities"
	"catalograph/internal/artifact"
	"catalograph/internal/graph"
	"catalograph/internal/loader"
	"catalograph/internal/models"
	"catalograph/internal/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
)

func registerActivityName[T any](env *testsuite.TestWorkflowEnvironment, name string, fn T) {
	env.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
}

func registerCatalogActivities(env *testsuite.TestWorkflowEnvironment) {
	registerActivityName(env, "ListSourcesActivity", func(context.Context, activities.ListSourcesInput) (activities.ListSourcesOutput, error) {
		return activities.ListSourcesOutput{}, nil
	})
	registerActivityName(env, "TransformKindActivity", func(context.Context, activities.TransformKindInput) (activities.TransformKindOutput, error) {
		return activities.TransformKindOutput{}, nil
	})
	registerActivityName(env, "VerifyActivity", func(context.Context, activities.VerifyInput) (activities.VerifyOutput, error) {
		return activities.VerifyOutput{}, nil
	})
	registerActivityName(env, "SetupSchemaActivity", func(context.Context, activities.SetupSchemaInput) error { return nil })
	registerActivityName(env, "LoadEntityKindActivity", func(context.Context, activities.LoadEntityKindInput) (activities.LoadOutput, error) {
		return activities.LoadOutput{}, nil
	})
	registerActivityName(env, "LoadRelationshipsActivity", func(context.Context, activities.LoadRelationshipsInput) (activities.LoadOutput, error) {
		return activities.LoadOutput{}, nil
	})
	registerActivityName(env, "LinkPropertyRelationshipsActivity", func(context.Context, activities.LinkPropertyRelationshipsInput) (activities.LoadOutput, error) {
		return activities.LoadOutput{}, nil
	})
	registerActivityName(env, "RecordRunActivity", func(context.Context, models.LoadRun) error { return nil })
}

var worksSource = artifact.Source{Kind: graph.KindWork, Dir: "/in/works"}

func worksManifest() artifact.Manifest {
	return artifact.Manifest{
		Root: "/out",
		Entities: []artifact.EntityArtifact{
			{Path: "/out/work/nodes/author__work.parquet", Origin: graph.KindWork, Kind: graph.KindAuthor, Rows: 2},
			{Path: "/out/work/nodes/authorship__work.parquet", Origin: graph.KindWork, Kind: graph.KindAuthorship, Rows: 2},
			{Path: "/out/work/nodes/work.parquet", Origin: graph.KindWork, Kind: graph.KindWork, Rows: 1},
		},
		Relationships: []artifact.RelationshipArtifact{
			{Path: "/out/work/relationships/author__authorship__HAS_AUTHORSHIP.parquet", Origin: graph.KindWork,
				Start: graph.KindAuthor, End: graph.KindAuthorship, Label: graph.RelHasAuthorship, Rows: 2},
			{Path: "/out/work/relationships/authorship__work__AUTHORSHIP_ON_WORK.parquet", Origin: graph.KindWork,
				Start: graph.KindAuthorship, End: graph.KindWork, Label: graph.RelAuthorshipOnWork, Rows: 2},
		},
	}
}

func mockTransform(env *testsuite.TestWorkflowEnvironment) {
	env.OnActivity("ListSourcesActivity", mock.Anything, mock.Anything).Return(activities.ListSourcesOutput{Sources: []artifact.Source{worksSource}}, nil)
	env.OnActivity("TransformKindActivity", mock.Anything, mock.Anything).Return(activities.TransformKindOutput{
		Manifest: worksManifest(),
		Report:   pipeline.KindReport{Kind: graph.KindWork, Status: pipeline.KindTransformed},
	}, nil)
	env.OnActivity("VerifyActivity", mock.Anything, mock.Anything).Return(activities.VerifyOutput{}, nil)
	env.OnActivity("SetupSchemaActivity", mock.Anything, activities.SetupSchemaInput{
		Kinds: []graph.Kind{graph.KindAuthor, graph.KindAuthorship, graph.KindWork},
	}).Return(nil)
}

func progressOf(t *testing.T, env *testsuite.TestWorkflowEnvironment) LoadProgress {
	t.Helper()
	res, err := env.QueryWorkflow(QueryGetLoadProgress)
	require.NoError(t, err)
	var p LoadProgress
	require.NoError(t, res.Get(&p))
	return p
}

func TestCatalogLoadWorkflowSuccess(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(CatalogLoadWorkflow)
	registerCatalogActivities(env)
	mockTransform(env)

	env.OnActivity("LoadEntityKindActivity", mock.Anything, mock.Anything).Return(
		func(_ context.Context, in activities.LoadEntityKindInput) (activities.LoadOutput, error) {
			return activities.LoadOutput{Tables: []loader.TableStats{{Name: string(in.Kind), Rows: in.Artifacts[0].Rows, Applied: in.Artifacts[0].Rows}}}, nil
		})
	env.OnActivity("LoadRelationshipsActivity", mock.Anything, mock.Anything).Return(activities.LoadOutput{
		Tables: []loader.TableStats{{Rows: 2, Applied: 2}},
	}, nil)
	env.OnActivity("LinkPropertyRelationshipsActivity", mock.Anything, mock.Anything).Return(activities.LoadOutput{}, nil)
	var recorded []models.LoadRun
	env.OnActivity("RecordRunActivity", mock.Anything, mock.Anything).Return(func(_ context.Context, run models.LoadRun) error {
		recorded = append(recorded, run)
		return nil
	})

	env.ExecuteWorkflow(CatalogLoadWorkflow, CatalogLoadInput{RunID: "run-1", InputDir: "/in", OutputDir: "/out", Backend: "memory"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var run models.LoadRun
	require.NoError(t, env.GetWorkflowResult(&run))
	assert.Equal(t, models.RunSucceeded, run.Status)
	assert.Equal(t, models.PhaseDone, run.Phase)
	assert.Equal(t, 5, run.Tables)
	assert.Equal(t, 9, run.Applied)
	assert.Zero(t, run.Skipped)

	require.Len(t, recorded, 2)
	assert.Equal(t, models.RunRunning, recorded[0].Status)
	assert.Equal(t, models.RunSucceeded, recorded[1].Status)

	p := progressOf(t, env)
	assert.Equal(t, models.KindCommitted, p.Kinds["author"].Status)
	assert.Equal(t, RelLoaded, p.Relationships["work/author__authorship__HAS_AUTHORSHIP"])
	assert.Equal(t, RelLoaded, p.Relationships["work/authorship__work__AUTHORSHIP_ON_WORK"])
}

func TestCatalogLoadWorkflowSkipsRelationshipsOfFailedKind(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(CatalogLoadWorkflow)
	registerCatalogActivities(env)
	mockTransform(env)

	env.OnActivity("LoadEntityKindActivity", mock.Anything, mock.Anything).Return(
		func(_ context.Context, in activities.LoadEntityKindInput) (activities.LoadOutput, error) {
			if in.Kind == graph.KindAuthor {
				return activities.LoadOutput{
					Tables: []loader.TableStats{{Name: "work/author__work", Rows: 2, Batches: 1, FailedBatches: 1}},
					Failed: true,
					Error:  "batch rejected",
				}, nil
			}
			return activities.LoadOutput{}, nil
		})
	relCalls := 0
	env.OnActivity("LoadRelationshipsActivity", mock.Anything, mock.Anything).Return(
		func(_ context.Context, in activities.LoadRelationshipsInput) (activities.LoadOutput, error) {
			relCalls++
			assert.Equal(t, graph.RelAuthorshipOnWork, in.Artifact.Label)
			assert.Equal(t, []graph.Kind{graph.KindAuthorship, graph.KindWork}, in.Committed)
			return activities.LoadOutput{}, nil
		})
	env.OnActivity("LinkPropertyRelationshipsActivity", mock.Anything, mock.Anything).Return(
		func(_ context.Context, in activities.LinkPropertyRelationshipsInput) (activities.LoadOutput, error) {
			assert.Equal(t, []graph.Kind{graph.KindAuthor}, in.Failed)
			return activities.LoadOutput{}, nil
		})
	env.OnActivity("RecordRunActivity", mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(CatalogLoadWorkflow, CatalogLoadInput{RunID: "run-2", EntityConcurrency: 2})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var run models.LoadRun
	require.NoError(t, env.GetWorkflowResult(&run))
	assert.Equal(t, models.RunPartial, run.Status)
	assert.Equal(t, 1, run.FailedBatches)
	assert.Equal(t, 1, run.Skipped)
	assert.Equal(t, "batch rejected", run.LastError)
	assert.Equal(t, 1, relCalls)

	p := progressOf(t, env)
	assert.Equal(t, models.KindFailed, p.Kinds["author"].Status)
	assert.Equal(t, models.KindCommitted, p.Kinds["work"].Status)
	assert.Equal(t, RelSkipped, p.Relationships["work/author__authorship__HAS_AUTHORSHIP"])
}

func TestCatalogLoadWorkflowConfigurationErrorFails(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(CatalogLoadWorkflow)
	registerCatalogActivities(env)

	env.OnActivity("ListSourcesActivity", mock.Anything, mock.Anything).Return(activities.ListSourcesOutput{Sources: []artifact.Source{worksSource}}, nil)
	env.OnActivity("TransformKindActivity", mock.Anything, mock.Anything).Return(activities.TransformKindOutput{},
		temporal.NewNonRetryableApplicationError("configuration error: unregistered kind pair", activities.ErrTypeConfiguration, nil))
	var last models.LoadRun
	env.OnActivity("RecordRunActivity", mock.Anything, mock.Anything).Return(func(_ context.Context, run models.LoadRun) error {
		last = run
		return nil
	})

	env.ExecuteWorkflow(CatalogLoadWorkflow, CatalogLoadInput{RunID: "run-3"})
	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
	assert.Equal(t, models.RunFailed, last.Status)
	assert.Equal(t, models.PhaseTransform, last.Phase)
	assert.Contains(t, last.LastError, "unregistered kind pair")
}

func TestCatalogLoadWorkflowFailedSourceIsPartial(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(CatalogLoadWorkflow)
	registerCatalogActivities(env)

	publishers := artifact.Source{Kind: graph.KindPublisher, Dir: "/in/publishers"}
	env.OnActivity("ListSourcesActivity", mock.Anything, mock.Anything).Return(activities.ListSourcesOutput{Sources: []artifact.Source{publishers, worksSource}}, nil)
	env.OnActivity("TransformKindActivity", mock.Anything, mock.Anything).Return(
		func(_ context.Context, in activities.TransformKindInput) (activities.TransformKindOutput, error) {
			if in.Source.Kind == graph.KindPublisher {
				return activities.TransformKindOutput{Report: pipeline.KindReport{Kind: graph.KindPublisher, Status: pipeline.KindFailed, Error: "missing id column"}}, nil
			}
			return activities.TransformKindOutput{Manifest: worksManifest(), Report: pipeline.KindReport{Kind: graph.KindWork, Status: pipeline.KindTransformed}}, nil
		})
	env.OnActivity("VerifyActivity", mock.Anything, mock.Anything).Return(
		func(_ context.Context, in activities.VerifyInput) (activities.VerifyOutput, error) {
			assert.Len(t, in.Reports, 2)
			assert.Equal(t, "/out", in.OutputDir)
			return activities.VerifyOutput{}, nil
		})
	env.OnActivity("SetupSchemaActivity", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("LoadEntityKindActivity", mock.Anything, mock.Anything).Return(activities.LoadOutput{}, nil)
	env.OnActivity("LoadRelationshipsActivity", mock.Anything, mock.Anything).Return(activities.LoadOutput{}, nil)
	env.OnActivity("LinkPropertyRelationshipsActivity", mock.Anything, mock.Anything).Return(activities.LoadOutput{}, nil)
	env.OnActivity("RecordRunActivity", mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(CatalogLoadWorkflow, CatalogLoadInput{RunID: "run-4"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var run models.LoadRun
	require.NoError(t, env.GetWorkflowResult(&run))
	assert.Equal(t, models.RunPartial, run.Status)

	p := progressOf(t, env)
	assert.Equal(t, models.KindFailed, p.Sources["publisher"].Status)
	assert.Equal(t, "missing id column", p.Sources["publisher"].Error)
	assert.Equal(t, models.KindTransformed, p.Sources["work"].Status)
}

func TestIsFatal(t *testing.T) {
	assert.True(t, isFatal(temporal.NewNonRetryableApplicationError("x", activities.ErrTypeIntegrity, nil)))
	assert.False(t, isFatal(temporal.NewNonRetryableApplicationError("x", activities.ErrTypePhaseIncomplete, nil)))
	assert.False(t, isFatal(assert.AnError))
	assert.Equal(t, 3, limitOrDefault(0, 3))
	assert.Equal(t, 1, limitOrDefault(0, 0))
}
