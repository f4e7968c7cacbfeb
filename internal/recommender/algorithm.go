// Reelab - Movie Recommendation Serving and Online A/B Evaluation
// Copyright 2026 Reelab Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelab/reelab

// Package recommender implements the collaborative-filtering model
// variants, their training lifecycle, and provenance recording for every
// served response.
//
// Models are immutable snapshots. Training builds a complete new Model and
// publishes it through a Handle with a single atomic swap, so serving
// never blocks on retraining and readers always see a consistent model.
package recommender

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/reelab/reelab/internal/models"
)

// ErrNotTrained indicates no model has been published yet.
var ErrNotTrained = errors.New("model not trained")

// ErrInsufficientData indicates training was attempted with fewer ratings
// than the configured minimum.
var ErrInsufficientData = errors.New("insufficient rating data for training")

// Model is an immutable trained model snapshot. All methods are safe for
// concurrent use; a Model is never mutated after Train returns it.
type Model interface {
	// Variant is the algorithm label, e.g. "usercf".
	Variant() string

	// Version identifies this trained snapshot.
	Version() string

	// DataVersion identifies the rating batch the snapshot was built from.
	DataVersion() string

	// TrainedAt is when training completed.
	TrainedAt() time.Time

	// Accuracy is the holdout accuracy estimate in [0, 1].
	Accuracy() float64

	// Recommend returns up to k movie ids in rank order for the given
	// normalized user id. Unknown users fall back to popularity ranking.
	Recommend(userID string, k int) []string
}

// Algorithm builds Models from rating batches.
type Algorithm interface {
	Name() string
	Train(ctx context.Context, ratings []models.RatingEvent) (Model, error)
}

// Handle publishes the current Model to concurrent readers. Store is a
// single atomic pointer swap; Load never blocks. The pointer wraps the
// interface value so swapping between model implementations is safe.
type Handle struct {
	current atomic.Pointer[Model]
}

// NewHandle creates an empty model handle.
func NewHandle() *Handle {
	return &Handle{}
}

// Load returns the current model, or false if none has been published.
func (h *Handle) Load() (Model, bool) {
	p := h.current.Load()
	if p == nil || *p == nil {
		return nil, false
	}
	return *p, true
}

// Store publishes a new model. In-flight readers keep the snapshot they
// already loaded.
func (h *Handle) Store(m Model) {
	h.current.Store(&m)
}

// modelInfo carries the lineage shared by all model implementations.
type modelInfo struct {
	variant     string
	version     string
	dataVersion string
	trainedAt   time.Time
	accuracy    float64
}

func (m *modelInfo) Variant() string      { return m.variant }
func (m *modelInfo) Version() string      { return m.version }
func (m *modelInfo) DataVersion() string  { return m.dataVersion }
func (m *modelInfo) TrainedAt() time.Time { return m.trainedAt }
func (m *modelInfo) Accuracy() float64    { return m.accuracy }

// newModelInfo stamps lineage for a freshly trained model.
func newModelInfo(variant string, ratingCount int, accuracy float64) modelInfo {
	now := time.Now().UTC()
	return modelInfo{
		variant:     variant,
		version:     fmt.Sprintf("%s-%s", variant, now.Format("20060102T150405Z")),
		dataVersion: fmt.Sprintf("ratings-%d", ratingCount),
		trainedAt:   now,
		accuracy:    accuracy,
	}
}

// ratingMatrix is the sparse user-by-movie rating view shared by both
// variants. User ids are normalized at construction.
type ratingMatrix struct {
	byUser map[string]map[string]float64
	byItem map[string]map[string]float64
}

func newRatingMatrix(ratings []models.RatingEvent) *ratingMatrix {
	m := &ratingMatrix{
		byUser: make(map[string]map[string]float64),
		byItem: make(map[string]map[string]float64),
	}
	for _, r := range ratings {
		user := models.NormalizeUserID(r.UserID)
		if user == "" || r.MovieID == "" {
			continue
		}
		if m.byUser[user] == nil {
			m.byUser[user] = make(map[string]float64)
		}
		m.byUser[user][r.MovieID] = r.Score
		if m.byItem[r.MovieID] == nil {
			m.byItem[r.MovieID] = make(map[string]float64)
		}
		m.byItem[r.MovieID][user] = r.Score
	}
	return m
}

// popularityRanking orders movies by rating count descending, ties broken
// by movie id for determinism.
func (m *ratingMatrix) popularityRanking() []string {
	ranked := make([]string, 0, len(m.byItem))
	for movie := range m.byItem {
		ranked = append(ranked, movie)
	}
	sort.Slice(ranked, func(i, j int) bool {
		ci, cj := len(m.byItem[ranked[i]]), len(m.byItem[ranked[j]])
		if ci != cj {
			return ci > cj
		}
		return ranked[i] < ranked[j]
	})
	return ranked
}

// globalMean is the mean of all ratings, 0 for an empty matrix.
func (m *ratingMatrix) globalMean() float64 {
	var sum float64
	var n int
	for _, items := range m.byUser {
		for _, score := range items {
			sum += score
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// cosine computes the cosine similarity of two sparse vectors given their
// precomputed norms. Returns 0 when either norm is zero.
func cosine(a, b map[string]float64, normA, normB float64) float64 {
	if normA == 0 || normB == 0 {
		return 0
	}
	// Iterate the smaller vector.
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot float64
	for k, av := range a {
		if bv, ok := b[k]; ok {
			dot += av * bv
		}
	}
	return dot / (normA * normB)
}

func vectorNorm(v map[string]float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// scored supports deterministic score ranking.
type scored struct {
	id    string
	score float64
}

// rankScores orders candidates by score descending, ties by id ascending.
func rankScores(scores map[string]float64) []scored {
	ranked := make([]scored, 0, len(scores))
	for id, score := range scores {
		ranked = append(ranked, scored{id: id, score: score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].id < ranked[j].id
	})
	return ranked
}

// fillFromPopular appends popularity-ranked movies to recs until it
// reaches k entries, skipping excluded ids.
func fillFromPopular(recs []string, popular []string, exclude map[string]bool, k int) []string {
	for _, movie := range popular {
		if len(recs) >= k {
			break
		}
		if exclude[movie] {
			continue
		}
		exclude[movie] = true
		recs = append(recs, movie)
	}
	return recs
}

// holdoutSplit deterministically reserves roughly fraction of the ratings
// for accuracy estimation. Every nth event goes to the holdout set, so
// the split is stable for a given batch.
func holdoutSplit(ratings []models.RatingEvent, fraction float64) (train, holdout []models.RatingEvent) {
	if fraction <= 0 || len(ratings) < 10 {
		return ratings, nil
	}
	every := int(math.Round(1 / fraction))
	if every < 2 {
		every = 2
	}
	for i, r := range ratings {
		if i%every == 0 {
			holdout = append(holdout, r)
		} else {
			train = append(train, r)
		}
	}
	return train, holdout
}

// accuracyFromRMSE maps a rating RMSE onto [0, 1]. Ratings are on a 1-5
// scale, so 4 is the worst possible error.
func accuracyFromRMSE(rmse float64) float64 {
	acc := 1 - rmse/4
	if acc < 0 {
		return 0
	}
	if acc > 1 {
		return 1
	}
	return acc
}
