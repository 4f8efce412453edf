package workflows

import (
	"catalograph/internal/graph"
	"catalograph/internal/models"
)

type CatalogLoadInput struct {
	RunID                   string       `json:"run_id"`
	InputDir                string       `json:"input_dir"`
	OutputDir               string       `json:"output_dir"`
	Backend                 string       `json:"backend"`
	Kinds                   []graph.Kind `json:"kinds,omitempty"`
	SeedInstitutionID       string       `json:"seed_institution_id,omitempty"`
	TransformConcurrency    int          `json:"transform_concurrency"`
	EntityConcurrency       int          `json:"entity_concurrency"`
	RelationshipConcurrency int          `json:"relationship_concurrency"`
}

// LoadProgress is returned by the GetLoadProgress query.
type LoadProgress struct {
	RunID         string                       `json:"run_id"`
	Phase         string                       `json:"phase"`
	Status        string                       `json:"status"`
	Sources       map[string]models.KindStatus `json:"sources"`
	Kinds         map[string]models.KindStatus `json:"kinds"`
	Relationships map[string]string            `json:"relationships"`
	Tables        int                          `json:"tables"`
	Rows          int                          `json:"rows"`
	Applied       int                          `json:"applied"`
	FailedBatches int                          `json:"failed_batches"`
	Unmatched     int                          `json:"unmatched"`
	Skipped       int                          `json:"skipped"`
	LastError     string                       `json:"last_error,omitempty"`
}
