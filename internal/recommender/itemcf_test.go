// Reelab - Movie Recommendation Serving and Online A/B Evaluation
// Copyright 2026 Reelab Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelab/reelab

package recommender

import (
	"context"
	"errors"
	"testing"

	"github.com/reelab/reelab/internal/models"
)

func TestItemCFTrainRejectsEmptyBatch(t *testing.T) {
	algo := &ItemCF{Neighbors: 10}
	if _, err := algo.Train(context.Background(), nil); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("Train(empty) error = %v, want ErrInsufficientData", err)
	}
}

func TestItemCFRecommendsSimilarItems(t *testing.T) {
	// "liked" and "similar" are co-rated highly by users 2 and 3, so a
	// user who rated only "liked" should be pointed at "similar".
	ratings := []models.RatingEvent{
		rating("1", "liked", 5),
		rating("2", "liked", 5),
		rating("2", "similar", 5),
		rating("3", "liked", 4),
		rating("3", "similar", 4),
		rating("4", "unrelated", 5),
	}

	algo := &ItemCF{Neighbors: 10}
	model, err := algo.Train(context.Background(), ratings)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	recs := model.Recommend("1", 1)
	if len(recs) != 1 || recs[0] != "similar" {
		t.Fatalf("Recommend(1) = %v, want [similar]", recs)
	}
}

func TestItemCFExcludesRatedMovies(t *testing.T) {
	ratings := []models.RatingEvent{
		rating("1", "a", 5),
		rating("1", "b", 4),
		rating("2", "a", 5),
		rating("2", "b", 4),
		rating("2", "c", 3),
	}

	algo := &ItemCF{Neighbors: 10}
	model, err := algo.Train(context.Background(), ratings)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	for _, movie := range model.Recommend("1", 10) {
		if movie == "a" || movie == "b" {
			t.Fatalf("Recommend returned already-rated movie %q", movie)
		}
	}
}

func TestItemCFUnknownUserGetsPopularity(t *testing.T) {
	ratings := []models.RatingEvent{
		rating("1", "top", 5),
		rating("2", "top", 4),
		rating("3", "top", 3),
		rating("1", "mid", 5),
		rating("2", "mid", 4),
		rating("3", "tail", 2),
	}

	algo := &ItemCF{Neighbors: 10}
	model, err := algo.Train(context.Background(), ratings)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	recs := model.Recommend("nobody", 3)
	want := []string{"top", "mid", "tail"}
	if len(recs) != len(want) {
		t.Fatalf("Recommend(unknown) = %v, want %v", recs, want)
	}
	for i := range want {
		if recs[i] != want[i] {
			t.Fatalf("Recommend(unknown) = %v, want %v", recs, want)
		}
	}
}

func TestItemCFFillsFromPopularityWhenNeighborhoodThin(t *testing.T) {
	// User 1's only rated movie shares no raters, so scoring finds
	// nothing and the list must come from the popularity fallback.
	ratings := []models.RatingEvent{
		rating("1", "lonely", 5),
		rating("2", "pop_a", 5),
		rating("3", "pop_a", 4),
		rating("2", "pop_b", 3),
	}

	algo := &ItemCF{Neighbors: 10}
	model, err := algo.Train(context.Background(), ratings)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	recs := model.Recommend("1", 2)
	if len(recs) != 2 || recs[0] != "pop_a" || recs[1] != "pop_b" {
		t.Fatalf("Recommend(1) = %v, want [pop_a pop_b]", recs)
	}
}

func TestItemCFVariantLabel(t *testing.T) {
	algo := &ItemCF{Neighbors: 5}
	model, err := algo.Train(context.Background(), []models.RatingEvent{
		rating("1", "a", 5),
	})
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if model.Variant() != "itemcf" {
		t.Fatalf("variant = %q, want itemcf", model.Variant())
	}
}
