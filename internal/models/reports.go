// Reelab - Movie Recommendation Serving and Online A/B Evaluation
// Copyright 2026 Reelab Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelab/reelab

package models

import "time"

// VariantSummary aggregates correlated engagement samples for one model
// variant.
//
// TotalEvents counts correlation samples, not distinct users: a converted
// recommendation contributes one sample per qualifying watch row, a
// non-converted one contributes a single zero sample. Conversion and
// watch-time rates are computed over that same sample population.
type VariantSummary struct {
	TotalEvents    int     `json:"total_events"`
	Conversions    int     `json:"conversions"`
	ConversionRate float64 `json:"conversion_rate"`
	AvgWatchTime   float64 `json:"avg_watch_time"`
}

// TestResult holds one significance test outcome, rounded to 4 decimals
// for reporting.
type TestResult struct {
	Statistic float64 `json:"statistic"`
	PValue    float64 `json:"p_value"`
}

// ComparisonReport is one persisted A/B comparison run. Reports are
// append-only; a new run always produces a new report.
type ComparisonReport struct {
	ID        string                    `json:"id"`
	Timestamp time.Time                 `json:"timestamp"`
	Summary   map[string]VariantSummary `json:"summary"`

	// TTest compares per-sample watch times between the two variants
	// (Welch's unequal-variance t-test).
	TTest TestResult `json:"t_test"`

	// ChiSquare tests independence of variant and conversion over the
	// 2x2 contingency table.
	ChiSquare TestResult `json:"chi_square"`
}

// TelemetrySnapshot is one scheduled online health measurement across all
// variants. Unlike ComparisonReport, its conversion rate deduplicates
// users: each converted user counts once regardless of watch volume.
type TelemetrySnapshot struct {
	ID                    string    `json:"id"`
	Timestamp             time.Time `json:"timestamp"`
	AverageWatchTimeSec   float64   `json:"average_watch_time_sec"`
	ConversionRatePercent float64   `json:"conversion_rate_percent"`

	// SampleSize is the number of provenance records the snapshot saw.
	SampleSize int `json:"sample_size"`

	// DistinctConvertedUsers is the dedup numerator behind
	// ConversionRatePercent.
	DistinctConvertedUsers int `json:"distinct_converted_users"`
}
