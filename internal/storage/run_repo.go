package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"catalograph/internal/models"

	"github.com/jackc/pgx/v5"
)

var ErrRunNotFound = errors.New("run not found")

// RunRepo is the load_runs ledger.
type RunRepo struct {
	db *DB

	schemaMu       sync.Mutex
	schemaPrepared bool
}

func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

const loadRunsTable = `
CREATE TABLE IF NOT EXISTS load_runs (
  run_id TEXT PRIMARY KEY,
  workflow_id TEXT NOT NULL DEFAULT '',
  input_dir TEXT NOT NULL,
  output_dir TEXT NOT NULL,
  backend TEXT NOT NULL,
  status TEXT NOT NULL,
  phase TEXT NOT NULL,
  tables INT NOT NULL DEFAULT 0,
  rows BIGINT NOT NULL DEFAULT 0,
  applied BIGINT NOT NULL DEFAULT 0,
  failed_batches INT NOT NULL DEFAULT 0,
  unmatched BIGINT NOT NULL DEFAULT 0,
  skipped INT NOT NULL DEFAULT 0,
  last_error TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_load_runs_created ON load_runs(created_at DESC);`

func (r *RunRepo) ensureSchema(ctx context.Context) error {
	r.schemaMu.Lock()
	defer r.schemaMu.Unlock()
	if r.schemaPrepared {
		return nil
	}
	if _, err := r.db.Pool.Exec(ctx, loadRunsTable); err != nil {
		return fmt.Errorf("prepare load_runs: %w", err)
	}
	r.schemaPrepared = true
	return nil
}

func (r *RunRepo) Create(ctx context.Context, run models.LoadRun) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO load_runs (run_id, workflow_id, input_dir, output_dir, backend, status, phase)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.RunID, run.WorkflowID, run.InputDir, run.OutputDir, run.Backend, run.Status, run.Phase)
	if err != nil {
		return fmt.Errorf("insert load run: %w", err)
	}
	return nil
}

// Upsert records the latest status and counters of a run.
func (r *RunRepo) Upsert(ctx context.Context, run models.LoadRun) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO load_runs (run_id, workflow_id, input_dir, output_dir, backend, status, phase,
  tables, rows, applied, failed_batches, unmatched, skipped, last_error)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (run_id) DO UPDATE SET
  workflow_id = CASE WHEN EXCLUDED.workflow_id = '' THEN load_runs.workflow_id ELSE EXCLUDED.workflow_id END,
  status = EXCLUDED.status, phase = EXCLUDED.phase,
  tables = EXCLUDED.tables, rows = EXCLUDED.rows, applied = EXCLUDED.applied,
  failed_batches = EXCLUDED.failed_batches, unmatched = EXCLUDED.unmatched,
  skipped = EXCLUDED.skipped, last_error = EXCLUDED.last_error, updated_at = now()`,
		run.RunID, run.WorkflowID, run.InputDir, run.OutputDir, run.Backend, run.Status, run.Phase,
		run.Tables, run.Rows, run.Applied, run.FailedBatches, run.Unmatched, run.Skipped, run.LastError)
	if err != nil {
		return fmt.Errorf("upsert load run: %w", err)
	}
	return nil
}

const selectRun = `SELECT run_id, workflow_id, input_dir, output_dir, backend, status, phase,
  tables, rows, applied, failed_batches, unmatched, skipped, last_error, created_at, updated_at
FROM load_runs`

func (r *RunRepo) Get(ctx context.Context, runID string) (models.LoadRun, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return models.LoadRun{}, err
	}
	run, err := scanRun(r.db.Pool.QueryRow(ctx, selectRun+` WHERE run_id = $1`, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.LoadRun{}, ErrRunNotFound
	}
	if err != nil {
		return models.LoadRun{}, fmt.Errorf("get load run: %w", err)
	}
	return run, nil
}

func (r *RunRepo) List(ctx context.Context, limit int) ([]models.LoadRun, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Pool.Query(ctx, selectRun+` ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list load runs: %w", err)
	}
	defer rows.Close()
	out := make([]models.LoadRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan load run: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate load runs: %w", err)
	}
	return out, nil
}

func scanRun(row pgx.Row) (models.LoadRun, error) {
	var run models.LoadRun
	var rowsN, applied, unmatched int64
	err := row.Scan(&run.RunID, &run.WorkflowID, &run.InputDir, &run.OutputDir, &run.Backend, &run.Status, &run.Phase,
		&run.Tables, &rowsN, &applied, &run.FailedBatches, &unmatched, &run.Skipped, &run.LastError,
		&run.CreatedAt, &run.UpdatedAt)
	run.Rows, run.Applied, run.Unmatched = int(rowsN), int(applied), int(unmatched)
	return run, err
}
