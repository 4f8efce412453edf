package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"catalograph/internal/config"
	"catalograph/internal/graph"
	"catalograph/internal/logger"
	"catalograph/internal/models"
	"catalograph/internal/storage"
	"catalograph/internal/workflows"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	enumspb "go.temporal.io/api/enums/v1"
	tclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// WorkflowClient is the part of the Temporal client the server uses.
type WorkflowClient interface {
	ExecuteWorkflow(ctx context.Context, options tclient.StartWorkflowOptions, workflow interface{}, args ...interface{}) (tclient.WorkflowRun, error)
	QueryWorkflow(ctx context.Context, workflowID string, runID string, queryType string, args ...interface{}) (converter.EncodedValue, error)
}

type RunStore interface {
	Get(ctx context.Context, runID string) (models.LoadRun, error)
	List(ctx context.Context, limit int) ([]models.LoadRun, error)
}

// GraphCounter reports node and edge counts per label and type.
type GraphCounter interface {
	Counts(ctx context.Context) (map[string]int, map[string]int, error)
}

type Server struct {
	cfg      config.Config
	temporal WorkflowClient
	runs     RunStore
	graph    GraphCounter
	log      *logger.Logger
}

// NewServer builds the HTTP API. runs and counter may be nil when no
// PostgreSQL database is configured.
func NewServer(cfg config.Config, tc WorkflowClient, runs RunStore, counter GraphCounter, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{cfg: cfg, temporal: tc, runs: runs, graph: counter, log: log}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/runs", s.handleRuns)
	mux.HandleFunc("/runs/", s.handleRunScoped)
	mux.HandleFunc("/graph/counts", s.handleGraphCounts)
	return withCORS(mux)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type startRunRequest struct {
	InputDir                string   `json:"input_dir"`
	OutputDir               string   `json:"output_dir"`
	Kinds                   []string `json:"kinds"`
	SeedInstitutionID       string   `json:"seed_institution_id"`
	TransformConcurrency    int      `json:"transform_concurrency"`
	EntityConcurrency       int      `json:"entity_concurrency"`
	RelationshipConcurrency int      `json:"relationship_concurrency"`
}

func workflowID(runID string) string {
	return "catalog-load-" + runID
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if s.runs == nil {
			writeJSON(w, http.StatusOK, map[string]any{"runs": []models.LoadRun{}})
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		runs, err := s.runs.List(r.Context(), limit)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
	case http.MethodPost:
		var req startRunRequest
		if r.ContentLength != 0 {
			if err := jsonAPI.NewDecoder(r.Body).Decode(&req); err != nil {
				writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
				return
			}
		}
		input, err := s.loadInput(req)
		if err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		we, err := s.temporal.ExecuteWorkflow(r.Context(), tclient.StartWorkflowOptions{
			ID:                                       workflowID(input.RunID),
			TaskQueue:                                s.cfg.Temporal.TaskQueue,
			WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
			WorkflowExecutionErrorWhenAlreadyStarted: true,
		}, workflows.CatalogLoadWorkflow, input)
		if err != nil {
			writeErr(w, http.StatusConflict, err)
			return
		}
		s.log.Info("run started", "run_id", input.RunID, "workflow_id", we.GetID())
		writeJSON(w, http.StatusAccepted, map[string]any{
			"run_id":          input.RunID,
			"workflow_id":     we.GetID(),
			"temporal_run_id": we.GetRunID(),
		})
	default:
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
	}
}

func (s *Server) loadInput(req startRunRequest) (workflows.CatalogLoadInput, error) {
	in := workflows.CatalogLoadInput{
		RunID:                   uuid.NewString(),
		InputDir:                strings.TrimSpace(req.InputDir),
		OutputDir:               strings.TrimSpace(req.OutputDir),
		Backend:                 s.cfg.Store.Backend,
		SeedInstitutionID:       strings.TrimSpace(req.SeedInstitutionID),
		TransformConcurrency:    req.TransformConcurrency,
		EntityConcurrency:       req.EntityConcurrency,
		RelationshipConcurrency: req.RelationshipConcurrency,
	}
	if in.InputDir == "" {
		in.InputDir = s.cfg.Data.In
	}
	if in.OutputDir == "" {
		in.OutputDir = s.cfg.Data.Out
	}
	if in.SeedInstitutionID == "" {
		in.SeedInstitutionID = s.cfg.Catalog.SeedInstitutionID
	}
	if in.TransformConcurrency <= 0 {
		in.TransformConcurrency = s.cfg.Transform.Concurrency
	}
	if in.EntityConcurrency <= 0 {
		in.EntityConcurrency = s.cfg.Load.EntityConcurrency
	}
	if in.RelationshipConcurrency <= 0 {
		in.RelationshipConcurrency = s.cfg.Load.RelationshipConcurrency
	}
	for _, raw := range req.Kinds {
		k, err := graph.ParseKind(raw)
		if err != nil {
			return in, fmt.Errorf("invalid kind: %w", err)
		}
		in.Kinds = append(in.Kinds, k)
	}
	return in, nil
}

func (s *Server) handleRunScoped(w http.ResponseWriter, r *http.Request) {
	runID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/runs/"), "/")
	if runID == "" || strings.Contains(runID, "/") {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}

	resp, err := s.temporal.QueryWorkflow(r.Context(), workflowID(runID), "", workflows.QueryGetLoadProgress)
	if err == nil {
		var prog workflows.LoadProgress
		if err := resp.Get(&prog); err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, prog)
		return
	}
	// Fall back to the run ledger once the workflow is no longer queryable.
	if s.runs == nil {
		writeErr(w, http.StatusNotFound, fmt.Errorf("run %s not found: %w", runID, err))
		return
	}
	run, rErr := s.runs.Get(r.Context(), runID)
	if errors.Is(rErr, storage.ErrRunNotFound) {
		writeErr(w, http.StatusNotFound, rErr)
		return
	}
	if rErr != nil {
		writeErr(w, http.StatusInternalServerError, rErr)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleGraphCounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	if s.graph == nil {
		writeErr(w, http.StatusNotFound, fmt.Errorf("graph counts not available for backend %s", s.cfg.Store.Backend))
		return
	}
	nodes, edges, err := s.graph.Counts(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes, "edges": edges})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = jsonAPI.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	apiErr := toAPIError(code, err)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	})
}

type apiError struct {
	Code    string
	Message string
}

func toAPIError(status int, err error) apiError {
	msg := "Request failed."
	code := "CG-API-4000"
	raw := ""
	if err != nil {
		raw = strings.ToLower(err.Error())
	}

	switch {
	case status >= 500:
		switch {
		case strings.Contains(raw, "relation") && strings.Contains(raw, "does not exist"):
			return apiError{
				Code:    "CG-DB-5001",
				Message: "Database schema is not initialized. Start the worker once and retry.",
			}
		case strings.Contains(raw, "connect"), strings.Contains(raw, "dial tcp"), strings.Contains(raw, "connection refused"):
			return apiError{
				Code:    "CG-DB-5002",
				Message: "Database connection is unavailable. Check local services and retry.",
			}
		default:
			return apiError{
				Code:    "CG-API-5000",
				Message: "Internal server error. Please retry or check service logs.",
			}
		}
	case status == http.StatusBadRequest:
		code = "CG-API-4001"
		msg = "Invalid request. Check inputs and retry."
	case status == http.StatusNotFound:
		code = "CG-API-4004"
		msg = "Requested resource was not found."
	case status == http.StatusConflict:
		code = "CG-API-4009"
		msg = "Operation conflicts with current state. Retry after checking status."
	case status == http.StatusMethodNotAllowed:
		code = "CG-API-4005"
		msg = "This endpoint does not support the requested method."
	}

	// For 4xx, keep user-safe validation context only.
	if status >= 400 && status < 500 && err != nil {
		switch {
		case strings.Contains(raw, "unknown entity kind"):
			msg = "Unknown entity kind in kinds."
		case strings.Contains(raw, "invalid json"):
			msg = "Malformed JSON request body."
		case strings.Contains(raw, "already started"):
			msg = "A run with this id is already in progress."
		}
	}

	return apiError{Code: code, Message: msg}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
