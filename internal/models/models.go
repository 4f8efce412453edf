package models

import "time"

const (
	RunQueued    = "queued"
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunPartial   = "partial"
	RunFailed    = "failed"
)

const (
	PhaseTransform     = "transform"
	PhaseVerify        = "verify"
	PhaseSchema        = "schema"
	PhaseEntities      = "entities"
	PhaseRelationships = "relationships"
	PhaseProperties    = "properties"
	PhaseDone          = "done"
)

// LoadRun is one row of the run ledger.
type LoadRun struct {
	RunID         string    `json:"run_id"`
	WorkflowID    string    `json:"workflow_id,omitempty"`
	InputDir      string    `json:"input_dir"`
	OutputDir     string    `json:"output_dir"`
	Backend       string    `json:"backend"`
	Status        string    `json:"status"`
	Phase         string    `json:"phase"`
	Tables        int       `json:"tables"`
	Rows          int       `json:"rows"`
	Applied       int       `json:"applied"`
	FailedBatches int       `json:"failed_batches"`
	Unmatched     int       `json:"unmatched"`
	Skipped       int       `json:"skipped"`
	LastError     string    `json:"last_error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// KindStatus is the per-kind progress of a run.
type KindStatus struct {
	Kind   string `json:"kind"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

const (
	KindPending     = "pending"
	KindTransformed = "transformed"
	KindCommitted   = "committed"
	KindFailed      = "failed"
)
