// Reelab - Movie Recommendation Serving and Online A/B Evaluation
// Copyright 2026 Reelab Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelab/reelab

package recommender

import (
	"math"
	"testing"
	"time"

	"github.com/reelab/reelab/internal/models"
)

func rating(user, movie string, score float64) models.RatingEvent {
	return models.RatingEvent{
		UserID:  user,
		MovieID: movie,
		Score:   score,
		Time:    time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRatingMatrixNormalizesUserIDs(t *testing.T) {
	matrix := newRatingMatrix([]models.RatingEvent{
		rating("007", "goldfinger", 5),
		rating(" 7 ", "skyfall", 4),
	})

	vec, ok := matrix.byUser["7"]
	if !ok {
		t.Fatalf("expected single normalized user %q, got %v", "7", matrix.byUser)
	}
	if len(vec) != 2 {
		t.Fatalf("expected both ratings under one user, got %v", vec)
	}
	if got := matrix.byItem["goldfinger"]["7"]; got != 5 {
		t.Errorf("byItem score = %v, want 5", got)
	}
}

func TestRatingMatrixSkipsBlankIDs(t *testing.T) {
	matrix := newRatingMatrix([]models.RatingEvent{
		rating("", "orphan", 3),
		rating("1", "", 3),
		rating("1", "kept", 3),
	})
	if len(matrix.byUser) != 1 || len(matrix.byItem) != 1 {
		t.Fatalf("expected only the complete rating kept, got users=%v items=%v",
			matrix.byUser, matrix.byItem)
	}
}

func TestPopularityRankingOrdersByCountThenID(t *testing.T) {
	matrix := newRatingMatrix([]models.RatingEvent{
		rating("1", "beta", 4),
		rating("2", "beta", 3),
		rating("1", "alpha", 5),
		rating("2", "alpha", 5),
		rating("3", "zeta", 2),
	})

	got := matrix.popularityRanking()
	want := []string{"alpha", "beta", "zeta"}
	if len(got) != len(want) {
		t.Fatalf("ranking = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ranking = %v, want %v", got, want)
		}
	}
}

func TestCosine(t *testing.T) {
	a := map[string]float64{"x": 1, "y": 2}
	b := map[string]float64{"x": 2, "y": 4}
	c := map[string]float64{"z": 3}

	if got := cosine(a, b, vectorNorm(a), vectorNorm(b)); math.Abs(got-1) > 1e-12 {
		t.Errorf("parallel vectors cosine = %v, want 1", got)
	}
	if got := cosine(a, c, vectorNorm(a), vectorNorm(c)); got != 0 {
		t.Errorf("disjoint vectors cosine = %v, want 0", got)
	}
	if got := cosine(a, nil, vectorNorm(a), 0); got != 0 {
		t.Errorf("zero norm cosine = %v, want 0", got)
	}
}

func TestRankScoresDeterministic(t *testing.T) {
	scores := map[string]float64{"b": 2, "a": 2, "c": 5}
	ranked := rankScores(scores)
	want := []string{"c", "a", "b"}
	for i, s := range ranked {
		if s.id != want[i] {
			t.Fatalf("rank %d = %q, want %q (full: %v)", i, s.id, want[i], ranked)
		}
	}
}

func TestHoldoutSplit(t *testing.T) {
	ratings := make([]models.RatingEvent, 20)
	for i := range ratings {
		ratings[i] = rating("1", "m", float64(i))
	}

	train, holdout := holdoutSplit(ratings, 0.2)
	if len(train)+len(holdout) != len(ratings) {
		t.Fatalf("split loses ratings: %d train + %d holdout", len(train), len(holdout))
	}
	if len(holdout) != 4 {
		t.Errorf("holdout size = %d, want 4 for fraction 0.2 of 20", len(holdout))
	}

	// Small batches are never split.
	train, holdout = holdoutSplit(ratings[:5], 0.2)
	if len(holdout) != 0 || len(train) != 5 {
		t.Errorf("small batch should not split, got %d/%d", len(train), len(holdout))
	}

	// Zero fraction disables the holdout.
	_, holdout = holdoutSplit(ratings, 0)
	if len(holdout) != 0 {
		t.Errorf("fraction 0 should not split, got %d holdout", len(holdout))
	}
}

func TestAccuracyFromRMSE(t *testing.T) {
	tests := []struct {
		rmse float64
		want float64
	}{
		{0, 1},
		{2, 0.5},
		{4, 0},
		{8, 0},
	}
	for _, tc := range tests {
		if got := accuracyFromRMSE(tc.rmse); math.Abs(got-tc.want) > 1e-12 {
			t.Errorf("accuracyFromRMSE(%v) = %v, want %v", tc.rmse, got, tc.want)
		}
	}
}

func TestHandleLoadBeforeStore(t *testing.T) {
	h := NewHandle()
	if _, ok := h.Load(); ok {
		t.Fatal("empty handle should report no model")
	}
}

func TestHandleSwapsSnapshots(t *testing.T) {
	h := NewHandle()

	first := &userCFModel{modelInfo: newModelInfo("usercf", 10, 0.9)}
	h.Store(first)

	got, ok := h.Load()
	if !ok || got.Version() != first.Version() {
		t.Fatalf("Load returned %v, %v", got, ok)
	}

	second := &itemCFModel{modelInfo: newModelInfo("itemcf", 20, 0.8)}
	h.Store(second)

	got, ok = h.Load()
	if !ok || got.Variant() != "itemcf" {
		t.Fatalf("Load after swap returned variant %q", got.Variant())
	}
}

func TestModelInfoLineage(t *testing.T) {
	info := newModelInfo("usercf", 42, 0.75)
	if info.Variant() != "usercf" {
		t.Errorf("variant = %q", info.Variant())
	}
	if info.DataVersion() != "ratings-42" {
		t.Errorf("data version = %q, want ratings-42", info.DataVersion())
	}
	if info.Accuracy() != 0.75 {
		t.Errorf("accuracy = %v", info.Accuracy())
	}
	if info.TrainedAt().Location() != time.UTC {
		t.Errorf("trained at not UTC: %v", info.TrainedAt())
	}
	if info.Version() == "" {
		t.Error("version is empty")
	}
}
