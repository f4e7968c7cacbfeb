// Reelab - Movie Recommendation Serving and Online A/B Evaluation
// Copyright 2026 Reelab Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelab/reelab

// Package eval implements the A/B evaluation engine: correlating served
// recommendations with subsequent watch behavior, aggregating per-variant
// engagement, and testing the difference for statistical significance.
package eval

import (
	"github.com/reelab/reelab/internal/models"
)

// Sample is one correlated engagement observation attributed to a variant.
//
// A recommendation that converted emits one Sample per qualifying watch
// row, each carrying that row's watch position. A recommendation with no
// qualifying watch emits exactly one non-converted Sample with
// WatchSeconds 0.
type Sample struct {
	Variant      string
	UserID       string
	Converted    bool
	WatchSeconds float64
}

// Correlate joins provenance records against watch events.
//
// A watch event qualifies for a record when all of:
//   - both normalize to the same user id,
//   - the watched movie appears in the served recommendation list,
//   - the watch time is at or after the recommendation time.
//
// Records with a zero timestamp or a non-200 status are skipped entirely;
// they represent responses that never reached a user. The join is built on
// a user-keyed index so the cost is linear in records plus watch events.
func Correlate(records []models.ProvenanceRecord, watches []models.WatchEvent) []Sample {
	byUser := make(map[string][]models.WatchEvent, len(watches))
	for _, w := range watches {
		key := models.NormalizeUserID(w.UserID)
		byUser[key] = append(byUser[key], w)
	}

	samples := make([]Sample, 0, len(records))
	for i := range records {
		rec := &records[i]
		if rec.Timestamp.IsZero() || rec.StatusCode != 200 {
			continue
		}

		user := models.NormalizeUserID(rec.UserID)
		converted := false
		for _, w := range byUser[user] {
			if !rec.Recommends(w.MovieID) {
				continue
			}
			if w.Time.Before(rec.Timestamp) {
				continue
			}
			converted = true
			samples = append(samples, Sample{
				Variant:      rec.Variant,
				UserID:       user,
				Converted:    true,
				WatchSeconds: w.WatchSeconds,
			})
		}

		if !converted {
			samples = append(samples, Sample{
				Variant:      rec.Variant,
				UserID:       user,
				Converted:    false,
				WatchSeconds: 0,
			})
		}
	}

	return samples
}
