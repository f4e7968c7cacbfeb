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

// UserCF is user-based collaborative filtering: neighbors are users with
// similar rating vectors (cosine similarity), and candidate movies are
// scored by the similarity-weighted ratings of those neighbors.
type UserCF struct {
	// Neighbors is the number of nearest users considered per request.
	Neighbors int

	// HoldoutFraction is the share of ratings reserved for the
	// accuracy estimate.
	HoldoutFraction float64
}

// Name returns the variant label.
func (a *UserCF) Name() string { return "usercf" }

// Train builds an immutable user-CF model from the rating batch.
func (a *UserCF) Train(ctx context.Context, ratings []models.RatingEvent) (Model, error) {
	if len(ratings) == 0 {
		return nil, fmt.Errorf("%w: empty rating batch", ErrInsufficientData)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trainSet, holdout := holdoutSplit(ratings, a.HoldoutFraction)

	matrix := newRatingMatrix(trainSet)
	norms := make(map[string]float64, len(matrix.byUser))
	for user, vec := range matrix.byUser {
		norms[user] = vectorNorm(vec)
	}

	m := &userCFModel{
		matrix:    matrix,
		norms:     norms,
		popular:   matrix.popularityRanking(),
		neighbors: a.Neighbors,
	}

	rmse := m.holdoutRMSE(ctx, holdout)
	m.modelInfo = newModelInfo(a.Name(), len(ratings), accuracyFromRMSE(rmse))

	return m, nil
}

type userCFModel struct {
	modelInfo
	matrix    *ratingMatrix
	norms     map[string]float64
	popular   []string
	neighbors int
}

// Recommend returns up to k movies the user has not rated, scored by the
// nearest neighbors' ratings. Unknown users get the popularity ranking.
func (m *userCFModel) Recommend(userID string, k int) []string {
	if k <= 0 {
		return nil
	}
	user := models.NormalizeUserID(userID)
	rated := m.matrix.byUser[user]
	if len(rated) == 0 {
		return fillFromPopular(nil, m.popular, make(map[string]bool, k), k)
	}

	neighbors := m.nearestNeighbors(user, rated)

	scores := make(map[string]float64)
	for _, nb := range neighbors {
		for movie, score := range m.matrix.byUser[nb.id] {
			if _, seen := rated[movie]; seen {
				continue
			}
			scores[movie] += nb.score * score
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

	// Thin neighborhoods may not produce k candidates.
	return fillFromPopular(recs, m.popular, exclude, k)
}

// nearestNeighbors returns the top-N most similar users with positive
// similarity, ordered by similarity descending.
func (m *userCFModel) nearestNeighbors(user string, vec map[string]float64) []scored {
	sims := make(map[string]float64)
	for other, otherVec := range m.matrix.byUser {
		if other == user {
			continue
		}
		if sim := cosine(vec, otherVec, m.norms[user], m.norms[other]); sim > 0 {
			sims[other] = sim
		}
	}

	ranked := rankScores(sims)
	if len(ranked) > m.neighbors {
		ranked = ranked[:m.neighbors]
	}
	return ranked
}

// holdoutRMSE predicts each held-out rating from the training neighbors
// and returns the root mean squared error. 0 with no holdout set.
func (m *userCFModel) holdoutRMSE(ctx context.Context, holdout []models.RatingEvent) float64 {
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

// predictRating estimates a user's rating of a movie as the
// similarity-weighted mean of neighbor ratings, falling back to the movie
// mean and then the global mean.
func (m *userCFModel) predictRating(user, movie string, globalMean float64) float64 {
	vec := m.matrix.byUser[user]
	if len(vec) > 0 {
		var weighted, simSum float64
		for _, nb := range m.nearestNeighbors(user, vec) {
			if score, ok := m.matrix.byUser[nb.id][movie]; ok {
				weighted += nb.score * score
				simSum += nb.score
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
