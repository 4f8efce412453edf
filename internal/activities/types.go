package activities

import (
	"catalograph/internal/artifact"
	"catalograph/internal/graph"
	"catalograph/internal/loader"
	"catalograph/internal/pipeline"
)

// Error types surfaced as non-retryable application errors.
const (
	ErrTypeConfiguration   = "ConfigurationError"
	ErrTypeIntegrity       = "IntegrityError"
	ErrTypePhaseIncomplete = "EntityPhaseIncomplete"
)

type ListSourcesInput struct {
	InputDir string       `json:"input_dir"`
	Kinds    []graph.Kind `json:"kinds,omitempty"`
}

type ListSourcesOutput struct {
	Sources []artifact.Source `json:"sources"`
}

type TransformKindInput struct {
	InputDir  string          `json:"input_dir"`
	OutputDir string          `json:"output_dir"`
	Source    artifact.Source `json:"source"`
}

type TransformKindOutput struct {
	Manifest artifact.Manifest   `json:"manifest"`
	Report   pipeline.KindReport `json:"report"`
}

type VerifyInput struct {
	OutputDir string                `json:"output_dir"`
	Manifest  artifact.Manifest     `json:"manifest"`
	Reports   []pipeline.KindReport `json:"reports"`
}

type VerifyOutput struct {
	Report pipeline.VerifyReport `json:"report"`
}

type SetupSchemaInput struct {
	Kinds []graph.Kind `json:"kinds"`
}

type LoadEntityKindInput struct {
	Kind      graph.Kind                `json:"kind"`
	Artifacts []artifact.EntityArtifact `json:"artifacts"`
}

// LoadOutput carries table stats back to the workflow. Failed is set when a
// batch was rejected after every retry.
type LoadOutput struct {
	Tables []loader.TableStats `json:"tables"`
	Failed bool                `json:"failed"`
	Error  string              `json:"error,omitempty"`
}

type LoadRelationshipsInput struct {
	Artifact  artifact.RelationshipArtifact `json:"artifact"`
	Committed []graph.Kind                  `json:"committed"`
}

type LinkPropertyRelationshipsInput struct {
	SeedInstitutionID string       `json:"seed_institution_id,omitempty"`
	Committed         []graph.Kind `json:"committed"`
	Failed            []graph.Kind `json:"failed,omitempty"`
}
