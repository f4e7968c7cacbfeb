// Reelab - Movie Recommendation Serving and Online A/B Evaluation
// Copyright 2026 Reelab Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelab/reelab

package recommender

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/reelab/reelab/internal/metrics"
	"github.com/reelab/reelab/internal/models"
)

// Service serves recommendations from the current model snapshot and
// records provenance for every successful response.
type Service struct {
	handle   *Handle
	recorder *Recorder
	topN     int
	logger   zerolog.Logger
}

// NewService creates a serving facade over the model handle.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewService(handle *Handle, recorder *Recorder, topN int, logger zerolog.Logger) *Service {
	return &Service{
		handle:   handle,
		recorder: recorder,
		topN:     topN,
		logger:   logger.With().Str("component", "recommender").Logger(),
	}
}

// Recommend serves the top-N list for a user from the current model
// snapshot. The provenance record is written before returning; if the
// write fails the response is still served, since losing one provenance
// row must not fail a user request.
func (s *Service) Recommend(ctx context.Context, userID string) ([]string, *models.ProvenanceRecord, error) {
	started := time.Now()

	model, ok := s.handle.Load()
	if !ok {
		metrics.RecommendationsServed.WithLabelValues("none", "error").Inc()
		return nil, nil, ErrNotTrained
	}

	recs := model.Recommend(userID, s.topN)
	if len(recs) == 0 {
		metrics.RecommendationsServed.WithLabelValues(model.Variant(), "error").Inc()
		return nil, nil, ErrInsufficientData
	}

	record := &models.ProvenanceRecord{
		Timestamp:       time.Now().UTC(),
		UserID:          userID,
		Variant:         model.Variant(),
		ModelVersion:    model.Version(),
		DataVersion:     model.DataVersion(),
		Recommendations: recs,
		StatusCode:      200,
		LatencyMS:       time.Since(started).Milliseconds(),
	}
	if err := s.recorder.Record(ctx, record); err != nil {
		s.logger.Warn().Err(err).
			Str("user_id", record.UserID).
			Msg("provenance write failed, serving response anyway")
	}

	metrics.RecommendationsServed.WithLabelValues(model.Variant(), "ok").Inc()
	return recs, record, nil
}

// Model exposes the current model snapshot for health reporting.
func (s *Service) Model() (Model, bool) {
	return s.handle.Load()
}
