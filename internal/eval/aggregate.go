// Reelab - Movie Recommendation Serving and Online A/B Evaluation
// Copyright 2026 Reelab Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelab/reelab

package eval

import (
	"github.com/reelab/reelab/internal/models"
)

// Aggregate reduces correlation samples to per-variant summaries.
//
// The conversion rate is conversions over total samples, and the average
// watch time is the mean over all samples including the zero rows from
// non-converted recommendations. Empty denominators yield 0 rather than
// NaN. Variants with no samples are absent from the result.
func Aggregate(samples []Sample) map[string]models.VariantSummary {
	type acc struct {
		total       int
		conversions int
		watchSum    float64
	}

	accs := make(map[string]*acc)
	for _, s := range samples {
		a := accs[s.Variant]
		if a == nil {
			a = &acc{}
			accs[s.Variant] = a
		}
		a.total++
		if s.Converted {
			a.conversions++
		}
		a.watchSum += s.WatchSeconds
	}

	summary := make(map[string]models.VariantSummary, len(accs))
	for variant, a := range accs {
		vs := models.VariantSummary{
			TotalEvents: a.total,
			Conversions: a.conversions,
		}
		if a.total > 0 {
			vs.ConversionRate = float64(a.conversions) / float64(a.total)
			vs.AvgWatchTime = a.watchSum / float64(a.total)
		}
		summary[variant] = vs
	}

	return summary
}
