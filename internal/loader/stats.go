package loader

import (
	"fmt"
	"sync"
)

const (
	PhaseEntities      = "entities"
	PhaseRelationships = "relationships"
	PhaseProperties    = "properties"
)

// BatchError is a batch the store rejected after every retry.
type BatchError struct {
	Table    string
	Phase    string
	Batch    int
	Offset   int
	Rows     int
	Attempts int
	Err      error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("load %s batch %d of %s (offset %d, %d rows) failed after %d attempt(s): %v",
		e.Phase, e.Batch, e.Table, e.Offset, e.Rows, e.Attempts, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

type TableStats struct {
	Name          string `json:"name"`
	Phase         string `json:"phase"`
	Rows          int    `json:"rows"`
	Batches       int    `json:"batches"`
	FailedBatches int    `json:"failed_batches"`
	Applied       int    `json:"applied"`
	Unmatched     int    `json:"unmatched"`
	Skipped       bool   `json:"skipped,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Stats collects per-table counters from concurrent phases.
type Stats struct {
	mu     sync.Mutex
	Tables []TableStats `json:"tables"`
}

func (s *Stats) add(t TableStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Tables = append(s.Tables, t)
}

type Totals struct {
	Tables        int `json:"tables"`
	Rows          int `json:"rows"`
	Batches       int `json:"batches"`
	FailedBatches int `json:"failed_batches"`
	Applied       int `json:"applied"`
	Unmatched     int `json:"unmatched"`
	Skipped       int `json:"skipped"`
}

func (s *Stats) Totals() Totals {
	s.mu.Lock()
	defer s.mu.Unlock()
	var t Totals
	for _, x := range s.Tables {
		t.Tables++
		t.Rows += x.Rows
		t.Batches += x.Batches
		t.FailedBatches += x.FailedBatches
		t.Applied += x.Applied
		t.Unmatched += x.Unmatched
		if x.Skipped {
			t.Skipped++
		}
	}
	return t
}

// Snapshot returns a copy safe to serialize while loads are running.
func (s *Stats) Snapshot() []TableStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TableStats, len(s.Tables))
	copy(out, s.Tables)
	return out
}
