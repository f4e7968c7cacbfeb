// Reelab - Movie Recommendation Serving and Online A/B Evaluation
// Copyright 2026 Reelab Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelab/reelab

// Package api provides the HTTP surface: recommendation serving,
// on-demand evaluation, report and telemetry queries, and health checks.
// All endpoints under /api/v1 respond with the standard JSON envelope.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/reelab/reelab/internal/eval"
	"github.com/reelab/reelab/internal/models"
	"github.com/reelab/reelab/internal/recommender"
)

// ReportStore is the query surface the read endpoints need.
type ReportStore interface {
	RecentComparisonReports(ctx context.Context, limit int) ([]models.ComparisonReport, error)
	RecentTelemetrySnapshots(ctx context.Context, limit int) ([]models.TelemetrySnapshot, error)
	Ping(ctx context.Context) error
}

// HandlerConfig holds paging bounds for list endpoints.
type HandlerConfig struct {
	DefaultPageSize int
	MaxPageSize     int
}

// Handler holds the endpoint implementations and their dependencies.
type Handler struct {
	recommender *recommender.Service
	evaluator   *eval.Evaluator
	store       ReportStore
	config      HandlerConfig
	logger      zerolog.Logger
}

// NewHandler creates the API handler set.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewHandler(rec *recommender.Service, ev *eval.Evaluator, store ReportStore, cfg HandlerConfig, logger zerolog.Logger) *Handler {
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 20
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 100
	}
	return &Handler{
		recommender: rec,
		evaluator:   ev,
		store:       store,
		config:      cfg,
		logger:      logger.With().Str("component", "api").Logger(),
	}
}

// Health reports overall service status including the current model.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{
		"status": "ok",
	}
	if model, ok := h.recommender.Model(); ok {
		data["model"] = map[string]any{
			"variant":      model.Variant(),
			"version":      model.Version(),
			"data_version": model.DataVersion(),
			"trained_at":   model.TrainedAt(),
			"accuracy":     model.Accuracy(),
		}
	} else {
		data["model"] = nil
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status:   "success",
		Data:     data,
		Metadata: models.Metadata{Timestamp: time.Now().UTC()},
	})
}

// HealthLive is the liveness probe. It succeeds while the process runs.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status:   "success",
		Data:     map[string]any{"status": "alive"},
		Metadata: models.Metadata{Timestamp: time.Now().UTC()},
	})
}

// HealthReady is the readiness probe. It fails while the database is
// unreachable.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "NOT_READY", "database unreachable", err)
		return
	}
	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status:   "success",
		Data:     map[string]any{"status": "ready"},
		Metadata: models.Metadata{Timestamp: time.Now().UTC()},
	})
}

// recommendResponse is the body the gateway and external callers consume.
// This is the variant-backend contract, not the envelope: the front door
// reads accuracy and recommendation_results directly.
type recommendResponse struct {
	Accuracy              float64  `json:"accuracy"`
	RecommendationResults []string `json:"recommendation_results"`
}

// Recommend serves a top-N list for the user from the local model.
func (h *Handler) Recommend(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "userID is required", nil)
		return
	}

	recs, _, err := h.recommender.Recommend(r.Context(), userID)
	switch {
	case errors.Is(err, recommender.ErrNotTrained):
		respondError(w, http.StatusServiceUnavailable, "MODEL_NOT_READY", "no trained model available yet", nil)
		return
	case errors.Is(err, recommender.ErrInsufficientData):
		respondError(w, http.StatusNotFound, "NO_RECOMMENDATIONS", "no recommendations available for this user", nil)
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "recommendation failed", err)
		return
	}

	accuracy := 0.0
	if model, ok := h.recommender.Model(); ok {
		accuracy = model.Accuracy()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // response write errors are not recoverable
	json.NewEncoder(w).Encode(recommendResponse{
		Accuracy:              accuracy,
		RecommendationResults: recs,
	})
}

// Evaluate runs one comparison over the recent batches and returns the
// persisted report.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	report, err := h.evaluator.Compare(r.Context())
	if err != nil {
		status, code := evaluationError(err)
		respondError(w, status, code, err.Error(), err)
		return
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data:   report,
		Metadata: models.Metadata{
			Timestamp:   time.Now().UTC(),
			QueryTimeMS: time.Since(started).Milliseconds(),
		},
	})
}

// evaluationError maps evaluation failures to HTTP statuses: data-shape
// problems are 422, everything else is a server error.
func evaluationError(err error) (int, string) {
	switch {
	case errors.Is(err, eval.ErrVariantCount):
		return http.StatusUnprocessableEntity, "VARIANT_COUNT"
	case errors.Is(err, eval.ErrInsufficientSamples):
		return http.StatusUnprocessableEntity, "INSUFFICIENT_SAMPLES"
	case errors.Is(err, eval.ErrZeroVariance):
		return http.StatusUnprocessableEntity, "ZERO_VARIANCE"
	case errors.Is(err, eval.ErrDegenerateTable):
		return http.StatusUnprocessableEntity, "DEGENERATE_TABLE"
	default:
		return http.StatusInternalServerError, "EVALUATION_ERROR"
	}
}

// listRequest bounds the limit parameter of the list endpoints.
type listRequest struct {
	Limit int `validate:"min=1,max=1000"`
}

// Reports returns recent comparison reports, newest first.
func (h *Handler) Reports(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	req := listRequest{Limit: getIntParam(r, "limit", h.config.DefaultPageSize)}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}
	if req.Limit > h.config.MaxPageSize {
		req.Limit = h.config.MaxPageSize
	}

	reports, err := h.store.RecentComparisonReports(r.Context(), req.Limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "failed to load reports", err)
		return
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data:   map[string]any{"reports": reports, "count": len(reports)},
		Metadata: models.Metadata{
			Timestamp:   time.Now().UTC(),
			QueryTimeMS: time.Since(started).Milliseconds(),
		},
	})
}

// Telemetry returns recent telemetry snapshots, newest first.
func (h *Handler) Telemetry(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	req := listRequest{Limit: getIntParam(r, "limit", h.config.DefaultPageSize)}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}
	if req.Limit > h.config.MaxPageSize {
		req.Limit = h.config.MaxPageSize
	}

	snapshots, err := h.store.RecentTelemetrySnapshots(r.Context(), req.Limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "failed to load telemetry", err)
		return
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data:   map[string]any{"snapshots": snapshots, "count": len(snapshots)},
		Metadata: models.Metadata{
			Timestamp:   time.Now().UTC(),
			QueryTimeMS: time.Since(started).Milliseconds(),
		},
	})
}
