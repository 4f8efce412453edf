package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"catalograph/internal/config"
	"catalograph/internal/graph"
	"catalograph/internal/models"
	"catalograph/internal/storage"
	"catalograph/internal/workflows"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"
)

type fakeRun struct {
	tclient.WorkflowRun
	id string
}

func (r fakeRun) GetID() string    { return r.id }
func (r fakeRun) GetRunID() string { return "temporal-run" }

type progressValue struct{ p workflows.LoadProgress }

func (v progressValue) HasValue() bool { return true }
func (v progressValue) Get(ptr interface{}) error {
	*(ptr.(*workflows.LoadProgress)) = v.p
	return nil
}

type fakeTemporal struct {
	started  []tclient.StartWorkflowOptions
	inputs   []workflows.CatalogLoadInput
	startErr error
	progress map[string]workflows.LoadProgress
}

func (f *fakeTemporal) ExecuteWorkflow(_ context.Context, opts tclient.StartWorkflowOptions, _ interface{}, args ...interface{}) (tclient.WorkflowRun, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started = append(f.started, opts)
	f.inputs = append(f.inputs, args[0].(workflows.CatalogLoadInput))
	return fakeRun{id: opts.ID}, nil
}

func (f *fakeTemporal) QueryWorkflow(_ context.Context, workflowID, _, _ string, _ ...interface{}) (converter.EncodedValue, error) {
	p, ok := f.progress[workflowID]
	if !ok {
		return nil, errors.New("workflow not found")
	}
	return progressValue{p: p}, nil
}

type fakeRuns struct {
	runs map[string]models.LoadRun
}

func (f *fakeRuns) Get(_ context.Context, id string) (models.LoadRun, error) {
	r, ok := f.runs[id]
	if !ok {
		return models.LoadRun{}, storage.ErrRunNotFound
	}
	return r, nil
}

func (f *fakeRuns) List(context.Context, int) ([]models.LoadRun, error) {
	out := []models.LoadRun{}
	for _, r := range f.runs {
		out = append(out, r)
	}
	return out, nil
}

func testConfig() config.Config {
	var cfg config.Config
	cfg.Data.In, cfg.Data.Out = "/data/in", "/data/out"
	cfg.Store.Backend = config.BackendMemory
	cfg.Temporal.TaskQueue = "catalograph"
	cfg.Load.EntityConcurrency = 4
	return cfg
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStartRun(t *testing.T) {
	tc := &fakeTemporal{}
	h := NewServer(testConfig(), tc, nil, nil, nil).Routes()

	rec := do(h, http.MethodPost, "/runs", `{"kinds": ["works", "Author"]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "CG-API-4001")
	assert.Contains(t, rec.Body.String(), "Unknown entity kind")

	rec = do(h, http.MethodPost, "/runs", `{"kinds": ["work", "Author"], "entity_concurrency": 2}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, tc.inputs, 1)
	in := tc.inputs[0]
	assert.Equal(t, []graph.Kind{graph.KindWork, graph.KindAuthor}, in.Kinds)
	assert.Equal(t, "/data/in", in.InputDir)
	assert.Equal(t, "/data/out", in.OutputDir)
	assert.Equal(t, config.BackendMemory, in.Backend)
	assert.Equal(t, 2, in.EntityConcurrency)
	assert.Equal(t, "catalog-load-"+in.RunID, tc.started[0].ID)
	assert.Equal(t, "catalograph", tc.started[0].TaskQueue)

	var out map[string]string
	require.NoError(t, jsonAPI.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, in.RunID, out["run_id"])
	assert.Equal(t, "temporal-run", out["temporal_run_id"])
}

func TestStartRunConflict(t *testing.T) {
	tc := &fakeTemporal{startErr: errors.New("workflow execution already started")}
	rec := do(NewServer(testConfig(), tc, nil, nil, nil).Routes(), http.MethodPost, "/runs", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already in progress")
}

func TestGetRunPrefersWorkflowQuery(t *testing.T) {
	tc := &fakeTemporal{progress: map[string]workflows.LoadProgress{
		"catalog-load-r1": {RunID: "r1", Phase: models.PhaseEntities, Status: models.RunRunning},
	}}
	runs := &fakeRuns{runs: map[string]models.LoadRun{
		"r2": {RunID: "r2", Status: models.RunPartial, Skipped: 3},
	}}
	h := NewServer(testConfig(), tc, runs, nil, nil).Routes()

	rec := do(h, http.MethodGet, "/runs/r1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var prog workflows.LoadProgress
	require.NoError(t, jsonAPI.Unmarshal(rec.Body.Bytes(), &prog))
	assert.Equal(t, models.PhaseEntities, prog.Phase)

	rec = do(h, http.MethodGet, "/runs/r2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var run models.LoadRun
	require.NoError(t, jsonAPI.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, models.RunPartial, run.Status)
	assert.Equal(t, 3, run.Skipped)

	rec = do(h, http.MethodGet, "/runs/r3", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(h, http.MethodGet, "/runs", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"r2"`)

	rec = do(h, http.MethodDelete, "/runs/r1", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

type fakeCounter struct{}

func (fakeCounter) Counts(context.Context) (map[string]int, map[string]int, error) {
	return map[string]int{"Work": 2}, map[string]int{graph.RelReferencesWork: 1}, nil
}

func TestGraphCounts(t *testing.T) {
	rec := do(NewServer(testConfig(), &fakeTemporal{}, nil, nil, nil).Routes(), http.MethodGet, "/graph/counts", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(NewServer(testConfig(), &fakeTemporal{}, nil, fakeCounter{}, nil).Routes(), http.MethodGet, "/graph/counts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"Work":2`)
}

func TestCORSAndHealth(t *testing.T) {
	h := NewServer(testConfig(), &fakeTemporal{}, nil, nil, nil).Routes()
	rec := do(h, http.MethodOptions, "/runs", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestToAPIError(t *testing.T) {
	assert.Equal(t, "CG-DB-5002", toAPIError(500, errors.New("dial tcp 127.0.0.1:5432: connection refused")).Code)
	assert.Equal(t, "CG-DB-5001", toAPIError(500, errors.New(`relation "load_runs" does not exist`)).Code)
	assert.Equal(t, "CG-API-5000", toAPIError(500, errors.New("boom")).Code)
	assert.Equal(t, "Malformed JSON request body.", toAPIError(400, errors.New("invalid json: eof")).Message)
}
