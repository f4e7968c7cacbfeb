// Reelab - Movie Recommendation Serving and Online A/B Evaluation
// Copyright 2026 Reelab Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelab/reelab

package eval

import (
	"math"
	"testing"
)

func TestAggregateTwoVariants(t *testing.T) {
	samples := []Sample{
		{Variant: "usercf", Converted: true, WatchSeconds: 60},
		{Variant: "usercf", Converted: true, WatchSeconds: 120},
		{Variant: "usercf", Converted: false, WatchSeconds: 0},
		{Variant: "itemcf", Converted: true, WatchSeconds: 30},
		{Variant: "itemcf", Converted: false, WatchSeconds: 0},
		{Variant: "itemcf", Converted: false, WatchSeconds: 0},
	}

	summary := Aggregate(samples)
	if len(summary) != 2 {
		t.Fatalf("got %d variants, want 2", len(summary))
	}

	u := summary["usercf"]
	if u.TotalEvents != 3 || u.Conversions != 2 {
		t.Errorf("usercf counts = %+v", u)
	}
	if math.Abs(u.ConversionRate-2.0/3.0) > 1e-12 {
		t.Errorf("usercf ConversionRate = %g, want 2/3", u.ConversionRate)
	}
	// Mean over all samples including the zero row.
	if u.AvgWatchTime != 60 {
		t.Errorf("usercf AvgWatchTime = %g, want 60", u.AvgWatchTime)
	}

	i := summary["itemcf"]
	if i.TotalEvents != 3 || i.Conversions != 1 {
		t.Errorf("itemcf counts = %+v", i)
	}
	if i.AvgWatchTime != 10 {
		t.Errorf("itemcf AvgWatchTime = %g, want 10", i.AvgWatchTime)
	}
}

func TestAggregateEmptyInput(t *testing.T) {
	summary := Aggregate(nil)
	if len(summary) != 0 {
		t.Errorf("got %d variants from no samples", len(summary))
	}
}

func TestAggregateNeverProducesNaN(t *testing.T) {
	samples := []Sample{
		{Variant: "usercf", Converted: false, WatchSeconds: 0},
	}

	summary := Aggregate(samples)
	u := summary["usercf"]
	if math.IsNaN(u.ConversionRate) || math.IsNaN(u.AvgWatchTime) {
		t.Errorf("NaN in summary: %+v", u)
	}
	if u.ConversionRate != 0 || u.AvgWatchTime != 0 {
		t.Errorf("all-zero samples should aggregate to zeros: %+v", u)
	}
}

func TestAggregateIsDeterministic(t *testing.T) {
	samples := []Sample{
		{Variant: "a", Converted: true, WatchSeconds: 10},
		{Variant: "b", Converted: false, WatchSeconds: 0},
		{Variant: "a", Converted: false, WatchSeconds: 0},
	}

	first := Aggregate(samples)
	for i := 0; i < 10; i++ {
		again := Aggregate(samples)
		for v, s := range first {
			if again[v] != s {
				t.Fatalf("run %d: summary[%q] = %+v, want %+v", i, v, again[v], s)
			}
		}
	}
}
