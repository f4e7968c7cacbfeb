// Reelab - Movie Recommendation Serving and Online A/B Evaluation
// Copyright 2026 Reelab Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelab/reelab

package recommender

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/reelab/reelab/internal/models"
)

// ErrNotRecordable indicates a provenance record that must not be
// persisted, such as a failed response.
var ErrNotRecordable = errors.New("record not eligible for provenance log")

// ProvenanceStore is the persistence surface the recorder needs.
type ProvenanceStore interface {
	InsertProvenance(ctx context.Context, p *models.ProvenanceRecord) error
}

// Recorder writes provenance records for served recommendations. It is
// the single write path into the provenance log and refuses anything but
// successful responses, which keeps failed requests out of evaluation.
type Recorder struct {
	store  ProvenanceStore
	topN   int
	logger zerolog.Logger
}

// NewRecorder creates a provenance recorder capping stored lists at topN.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewRecorder(store ProvenanceStore, topN int, logger zerolog.Logger) *Recorder {
	return &Recorder{
		store:  store,
		topN:   topN,
		logger: logger.With().Str("component", "provenance").Logger(),
	}
}

// Record validates and persists one provenance record. The user id is
// normalized, the recommendation list is capped at topN, and missing ID
// or Timestamp fields are stamped.
func (r *Recorder) Record(ctx context.Context, p *models.ProvenanceRecord) error {
	if p.StatusCode != 200 {
		return fmt.Errorf("%w: status %d", ErrNotRecordable, p.StatusCode)
	}
	if len(p.Recommendations) == 0 {
		return fmt.Errorf("%w: empty recommendation list", ErrNotRecordable)
	}
	if p.Variant == "" {
		return fmt.Errorf("%w: missing variant", ErrNotRecordable)
	}

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	} else {
		p.Timestamp = p.Timestamp.UTC()
	}
	p.UserID = models.NormalizeUserID(p.UserID)
	if len(p.Recommendations) > r.topN {
		p.Recommendations = p.Recommendations[:r.topN]
	}

	if err := r.store.InsertProvenance(ctx, p); err != nil {
		return fmt.Errorf("insert provenance: %w", err)
	}

	r.logger.Debug().
		Str("request_id", p.ID).
		Str("user_id", p.UserID).
		Str("variant", p.Variant).
		Str("model_version", p.ModelVersion).
		Int("recommendations", len(p.Recommendations)).
		Msg("provenance recorded")

	return nil
}
