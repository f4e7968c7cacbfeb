// Reelab - Movie Recommendation Serving and Online A/B Evaluation
// Copyright 2026 Reelab Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelab/reelab

package eval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/reelab/reelab/internal/metrics"
	"github.com/reelab/reelab/internal/models"
)

// ErrVariantCount indicates the loaded provenance batch did not contain
// exactly two variants, so a pairwise comparison is undefined.
var ErrVariantCount = errors.New("comparison requires exactly two variants")

// DataStore is the persistence surface the evaluator needs. Implemented by
// *store.Store; narrowed to an interface so tests can substitute fakes.
type DataStore interface {
	RecentProvenance(ctx context.Context, limit int) ([]models.ProvenanceRecord, error)
	RecentWatchEvents(ctx context.Context, limit int) ([]models.WatchEvent, error)
	InsertComparisonReport(ctx context.Context, r *models.ComparisonReport) error
}

// Evaluator runs offline A/B comparisons over recent provenance and watch
// batches. It holds no mutable state between runs; concurrent Compare
// calls are safe and independent.
type Evaluator struct {
	store      DataStore
	batchLimit int
	logger     zerolog.Logger
}

// NewEvaluator creates an evaluator loading up to batchLimit recent rows
// per collection on each run.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewEvaluator(store DataStore, batchLimit int, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		store:      store,
		batchLimit: batchLimit,
		logger:     logger.With().Str("component", "eval").Logger(),
	}
}

// Compare runs one full comparison: load, correlate, aggregate, test,
// persist. The returned report is the same one appended to the comparison
// log. Statistics are rounded to 4 decimals.
func (e *Evaluator) Compare(ctx context.Context) (*models.ComparisonReport, error) {
	report, err := e.compare(ctx)
	if err != nil {
		metrics.EvaluationRuns.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.EvaluationRuns.WithLabelValues("ok").Inc()
	return report, nil
}

func (e *Evaluator) compare(ctx context.Context) (*models.ComparisonReport, error) {
	started := time.Now()

	records, err := e.store.RecentProvenance(ctx, e.batchLimit)
	if err != nil {
		return nil, fmt.Errorf("load provenance batch: %w", err)
	}
	watches, err := e.store.RecentWatchEvents(ctx, e.batchLimit)
	if err != nil {
		return nil, fmt.Errorf("load watch batch: %w", err)
	}

	samples := Correlate(records, watches)
	summary := Aggregate(samples)

	if len(summary) != 2 {
		return nil, fmt.Errorf("%w: got %d", ErrVariantCount, len(summary))
	}

	// Sorted variant order keeps the t statistic's sign and the
	// contingency row order deterministic across runs.
	variants := make([]string, 0, 2)
	for v := range summary {
		variants = append(variants, v)
	}
	sort.Strings(variants)

	watchTimes := map[string][]float64{}
	for _, s := range samples {
		watchTimes[s.Variant] = append(watchTimes[s.Variant], s.WatchSeconds)
	}

	tTest, err := WelchTTest(watchTimes[variants[0]], watchTimes[variants[1]])
	if err != nil {
		return nil, fmt.Errorf("t-test %s vs %s: %w", variants[0], variants[1], err)
	}

	observed := make([][]float64, 2)
	for i, v := range variants {
		vs := summary[v]
		observed[i] = []float64{
			float64(vs.Conversions),
			float64(vs.TotalEvents - vs.Conversions),
		}
	}
	chiSquare, err := ChiSquareTest(observed)
	if err != nil {
		return nil, fmt.Errorf("chi-square test: %w", err)
	}

	rounded := make(map[string]models.VariantSummary, len(summary))
	for v, vs := range summary {
		vs.ConversionRate = round4(vs.ConversionRate)
		vs.AvgWatchTime = round4(vs.AvgWatchTime)
		rounded[v] = vs
	}

	report := &models.ComparisonReport{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Summary:   rounded,
		TTest: models.TestResult{
			Statistic: round4(tTest.Statistic),
			PValue:    round4(tTest.PValue),
		},
		ChiSquare: models.TestResult{
			Statistic: round4(chiSquare.Statistic),
			PValue:    round4(chiSquare.PValue),
		},
	}

	if err := e.store.InsertComparisonReport(ctx, report); err != nil {
		return nil, fmt.Errorf("persist comparison report: %w", err)
	}

	e.logger.Info().
		Str("report_id", report.ID).
		Int("records", len(records)).
		Int("watches", len(watches)).
		Int("samples", len(samples)).
		Float64("t_p_value", report.TTest.PValue).
		Float64("chi2_p_value", report.ChiSquare.PValue).
		Dur("duration", time.Since(started)).
		Msg("comparison complete")

	return report, nil
}
