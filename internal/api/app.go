// Package api exposes recommendations, ingestion and lineage over HTTP and MCP.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/hybridrec/internal/ingest"
	"github.com/kalambet/hybridrec/internal/lineage"
	"github.com/kalambet/hybridrec/internal/retrieval"
	"github.com/kalambet/hybridrec/internal/telemetry"
)

const maxIngestBodySize = 10 << 20 // 10MB

const (
	defaultRunsLimit = 10
	maxRunsLimit     = 100
)

// Recommender is the retrieval surface the API serves.
type Recommender interface {
	Recommend(ctx context.Context, userID string, top int) ([]retrieval.Recommendation, error)
}

// RunReporter summarizes recent pipeline runs.
type RunReporter interface {
	Report(ctx context.Context, limit int) (lineage.Report, error)
}

// Deps holds dependencies shared by the HTTP and MCP surfaces.
type Deps struct {
	Jobs        ingest.JobStore
	Recommender Recommender
	Runs        RunReporter
	Telemetry   *telemetry.Recorder
	Token       string
	Metrics     http.Handler // optional; /metrics is not mounted when nil
}

// RecommendationsResponse is the body of GET /recommendations/{user_id}.
type RecommendationsResponse struct {
	UserID          string                     `json:"user_id"`
	Recommendations []retrieval.Recommendation `json:"recommendations"`
}

// IngestResponse is the body of POST /ingest.
type IngestResponse struct {
	RunID  string `json:"run_id"`
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// NewHandler returns the service router. /health and /metrics are public;
// everything else requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Get("/recommendations/{user_id}", handleRecommendations(deps))
		r.Post("/ingest", handleIngest(deps))
		r.Get("/runs", handleRuns(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// recommend calls the recommender and degrades store failures to an empty
// list plus a retrieval_failed anomaly. Only a blank user id is an error.
func recommend(ctx context.Context, deps Deps, userID string, top int) ([]retrieval.Recommendation, error) {
	recs, err := deps.Recommender.Recommend(ctx, userID, top)
	if errors.Is(err, retrieval.ErrInvalidUserID) {
		return nil, err
	}
	if err != nil {
		tel := deps.Telemetry
		if tel == nil {
			tel = telemetry.New()
		}
		tel.Anomaly("retrieval_failed", err.Error(), "user_id", userID)
		return []retrieval.Recommendation{}, nil
	}
	if recs == nil {
		recs = []retrieval.Recommendation{}
	}
	return recs, nil
}

func handleRecommendations(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "user_id")
		top := parseIntParam(r, "top", retrieval.DefaultTop, retrieval.MaxTop)

		recs, err := recommend(r.Context(), deps, userID, top)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, RecommendationsResponse{UserID: userID, Recommendations: recs})
	}
}

func handleIngest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodySize)
		defer r.Body.Close()

		body, err := io.ReadAll(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading request body: %v", err)
			return
		}

		runID, jobID, err := ingest.Enqueue(deps.Jobs, body, r.URL.Query().Get("run_id"), "http")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusAccepted, IngestResponse{RunID: runID, JobID: jobID, Status: "queued"})
	}
}

func handleRuns(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", defaultRunsLimit, maxRunsLimit)
		if limit == 0 {
			limit = defaultRunsLimit
		}

		report, err := deps.Runs.Report(r.Context(), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load runs: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
