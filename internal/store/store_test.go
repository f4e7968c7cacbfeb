// Reelab - Movie Recommendation Serving and Online A/B Evaluation
// Copyright 2026 Reelab Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelab/reelab

package store

import (
	"context"
	"testing"
	"time"

	"github.com/reelab/reelab/internal/config"
	"github.com/reelab/reelab/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := New(&config.DatabaseConfig{Path: ":memory:", MaxMemory: "512MB"})
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return s
}

func TestWatchEventRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		e := &models.WatchEvent{
			UserID:       "204078",
			MovieID:      "how+to+train+your+dragon+2+2014",
			Time:         base.Add(time.Duration(i) * time.Minute),
			MinuteFile:   "42.mpg",
			WatchSeconds: 2520,
		}
		if err := s.InsertWatchEvent(ctx, e); err != nil {
			t.Fatalf("insert watch event %d: %v", i, err)
		}
	}

	events, err := s.RecentWatchEvents(ctx, 2)
	if err != nil {
		t.Fatalf("recent watch events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (limit)", len(events))
	}
	// Newest first.
	if !events[0].Time.After(events[1].Time) {
		t.Errorf("events not ordered newest first: %v, %v", events[0].Time, events[1].Time)
	}
	if events[0].WatchSeconds != 2520 {
		t.Errorf("WatchSeconds = %g, want 2520", events[0].WatchSeconds)
	}
	if events[0].Time.Location() != time.UTC {
		t.Errorf("event time not UTC: %v", events[0].Time.Location())
	}
}

func TestProvenanceRoundTripPreservesRankOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	recs := []string{"m3", "m1", "m2"}
	p := &models.ProvenanceRecord{
		ID:              "req-1",
		Timestamp:       time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		UserID:          "42",
		Variant:         "usercf",
		ModelVersion:    "usercf-20260830T120000Z",
		DataVersion:     "ratings-1000",
		Recommendations: recs,
		StatusCode:      200,
		LatencyMS:       120,
	}
	if err := s.InsertProvenance(ctx, p); err != nil {
		t.Fatalf("insert provenance: %v", err)
	}

	got, err := s.RecentProvenance(ctx, 10)
	if err != nil {
		t.Fatalf("recent provenance: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}
	for i, m := range recs {
		if got[0].Recommendations[i] != m {
			t.Errorf("rank %d = %q, want %q", i, got[0].Recommendations[i], m)
		}
	}
	if got[0].Variant != "usercf" || got[0].StatusCode != 200 {
		t.Errorf("unexpected record: %+v", got[0])
	}
}

func TestComparisonReportRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := &models.ComparisonReport{
		ID:        "cmp-1",
		Timestamp: time.Date(2026, 8, 30, 13, 0, 0, 0, time.UTC),
		Summary: map[string]models.VariantSummary{
			"usercf": {TotalEvents: 3, Conversions: 2, ConversionRate: 0.6667, AvgWatchTime: 60},
			"itemcf": {TotalEvents: 3, Conversions: 1, ConversionRate: 0.3333, AvgWatchTime: 10},
		},
		TTest:     models.TestResult{Statistic: 1.2345, PValue: 0.2468},
		ChiSquare: models.TestResult{Statistic: 0.1234, PValue: 0.7253},
	}
	if err := s.InsertComparisonReport(ctx, r); err != nil {
		t.Fatalf("insert report: %v", err)
	}

	got, err := s.RecentComparisonReports(ctx, 5)
	if err != nil {
		t.Fatalf("recent reports: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d reports, want 1", len(got))
	}
	if got[0].Summary["usercf"].Conversions != 2 {
		t.Errorf("usercf conversions = %d, want 2", got[0].Summary["usercf"].Conversions)
	}
	if got[0].TTest.PValue != 0.2468 {
		t.Errorf("t-test p-value = %g, want 0.2468", got[0].TTest.PValue)
	}
}

func TestTelemetrySnapshotRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snap := &models.TelemetrySnapshot{
		ID:                     "tel-1",
		Timestamp:              time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC),
		AverageWatchTimeSec:    1234.5,
		ConversionRatePercent:  12.5,
		SampleSize:             800,
		DistinctConvertedUsers: 100,
	}
	if err := s.InsertTelemetrySnapshot(ctx, snap); err != nil {
		t.Fatalf("insert snapshot: %v", err)
	}

	got, err := s.RecentTelemetrySnapshots(ctx, 1)
	if err != nil {
		t.Fatalf("recent snapshots: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d snapshots, want 1", len(got))
	}
	if got[0].ConversionRatePercent != 12.5 || got[0].DistinctConvertedUsers != 100 {
		t.Errorf("unexpected snapshot: %+v", got[0])
	}
}

func TestRecentOnEmptyTablesReturnsNoRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	events, err := s.RecentWatchEvents(ctx, 10)
	if err != nil {
		t.Fatalf("recent watch events: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("got %d events from empty table", len(events))
	}

	records, err := s.RecentProvenance(ctx, 10)
	if err != nil {
		t.Fatalf("recent provenance: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("got %d records from empty table", len(records))
	}
}
