// Reelab - Movie Recommendation Serving and Online A/B Evaluation
// Copyright 2026 Reelab Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelab/reelab

package recommender

import (
	"context"
	"fmt"
	"math"

	"github.com/reelab/reelab/internal/models"
)

// ItemCF is item-based collaborative filtering: movies are similar when
// rated alike by the same users (cosine over item rating vectors), and a
// user's candidates are scored by similarity to the movies they rated.
type ItemCF struct {
	// Neighbors caps how many similar items contribute per rated movie.
	Neighbors int

	// HoldoutFraction is the share of ratings reserved for the
	// accuracy estimate.
	HoldoutFraction float64
}

// Name returns the variant label.
func (a *ItemCF) Name() string { return "itemcf" }

// Train builds an immutable item-CF model from the rating batch.
func (a *ItemCF) Train(ctx context.Context, ratings []models.RatingEvent) (Model, error) {
	if len(ratings) == 0 {
		return nil, fmt.Errorf("%w: empty rating batch", ErrInsufficientData)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trainSet, holdout := holdoutSplit(ratings, a.HoldoutFraction)

	matrix := newRatingMatrix(trainSet)
	norms := make(map[string]float64, len(matrix.byItem))
	for movie, vec := range matrix.byItem {
		norms[movie] = vectorNorm(vec)
	}

	m := &itemCFModel{
		matrix:    matrix,
		itemNorms: norms,
		popular:   matrix.popularityRanking(),
		neighbors: a.Neighbors,
	}

	rmse := m.holdoutRMSE(ctx, holdout)
	m.modelInfo = newModelInfo(a.Name(), len(ratings), accuracyFromRMSE(rmse))

	return m, nil
}

type itemCFModel struct {
	modelInfo
	matrix    *ratingMatrix
	itemNorms map[string]float64
	popular   []string
	neighbors int
}

// Recommend returns up to k movies the user has not rated, scored by
// item-item similarity to the user's rated movies. Unknown users get the
// popularity ranking.
func (m *itemCFModel) Recommend(userID string, k int) []string {
	if k <= 0 {
		return nil
	}
	user := models.NormalizeUserID(userID)
	rated := m.matrix.byUser[user]
	if len(rated) == 0 {
		return fillFromPopular(nil, m.popular, make(map[string]bool, k), k)
	}

	scores := make(map[string]float64)
	for ratedMovie, rating := range rated {
		for _, nb := range m.similarItems(ratedMovie, rated) {
			scores[nb.id] += nb.score * rating
		}
	}

	recs := make([]string, 0, k)
	exclude := make(map[string]bool, len(rated)+k)
	for movie := range rated {
		exclude[movie] = true
	}
	for _, c := range rankScores(scores) {
		if len(recs) >= k {
			break
		}
		exclude[c.id] = true
		recs = append(recs, c.id)
	}

	return fillFromPopular(recs, m.popular, exclude, k)
}

// similarItems returns the top-N unrated movies most similar to the given
// movie, restricted to candidates sharing at least one rater.
func (m *itemCFModel) similarItems(movie string, rated map[string]float64) []scored {
	vec := m.matrix.byItem[movie]
	if len(vec) == 0 {
		return nil
	}

	sims := make(map[string]float64)
	for rater := range vec {
		for candidate := range m.matrix.byUser[rater] {
			if candidate == movie {
				continue
			}
			if _, seen := rated[candidate]; seen {
				continue
			}
			if _, done := sims[candidate]; done {
				continue
			}
			sim := cosine(vec, m.matrix.byItem[candidate], m.itemNorms[movie], m.itemNorms[candidate])
			if sim > 0 {
				sims[candidate] = sim
			}
		}
	}

	ranked := rankScores(sims)
	if len(ranked) > m.neighbors {
		ranked = ranked[:m.neighbors]
	}
	return ranked
}

// holdoutRMSE predicts each held-out rating from item similarities and
// returns the root mean squared error. 0 with no holdout set.
func (m *itemCFModel) holdoutRMSE(ctx context.Context, holdout []models.RatingEvent) float64 {
	if len(holdout) == 0 {
		return 0
	}

	globalMean := m.matrix.globalMean()
	var sqSum float64
	var n int
	for _, h := range holdout {
		if ctx.Err() != nil {
			break
		}
		predicted := m.predictRating(models.NormalizeUserID(h.UserID), h.MovieID, globalMean)
		diff := predicted - h.Score
		sqSum += diff * diff
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sqSum / float64(n))
}

// predictRating estimates a user's rating as the similarity-weighted mean
// of their ratings on items similar to the target, falling back to the
// movie mean and then the global mean.
func (m *itemCFModel) predictRating(user, movie string, globalMean float64) float64 {
	rated := m.matrix.byUser[user]
	if len(rated) > 0 {
		var weighted, simSum float64
		for ratedMovie, rating := range rated {
			sim := cosine(m.matrix.byItem[movie], m.matrix.byItem[ratedMovie],
				m.itemNorms[movie], m.itemNorms[ratedMovie])
			if sim > 0 {
				weighted += sim * rating
				simSum += sim
			}
		}
		if simSum > 0 {
			return weighted / simSum
		}
	}

	if raters := m.matrix.byItem[movie]; len(raters) > 0 {
		var sum float64
		for _, score := range raters {
			sum += score
		}
		return sum / float64(len(raters))
	}

	return globalMean
}
