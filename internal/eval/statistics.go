// Reelab - Movie Recommendation Serving and Online A/B Evaluation
// Copyright 2026 Reelab Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelab/reelab

package eval

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/reelab/reelab/internal/models"
)

var (
	// ErrInsufficientSamples indicates a test needs more observations
	// than it was given.
	ErrInsufficientSamples = errors.New("insufficient samples for significance test")

	// ErrZeroVariance indicates both groups are constant, so the t
	// statistic is undefined.
	ErrZeroVariance = errors.New("zero variance in both sample groups")

	// ErrDegenerateTable indicates a contingency table with an empty
	// row or column, for which expected frequencies are undefined.
	ErrDegenerateTable = errors.New("degenerate contingency table")
)

// WelchTTest runs Welch's unequal-variance two-sample t-test.
//
// Degrees of freedom follow the Welch-Satterthwaite approximation and the
// two-sided p-value comes from the Student's t distribution. Each group
// needs at least two observations, and at least one group must vary.
func WelchTTest(a, b []float64) (models.TestResult, error) {
	if len(a) < 2 || len(b) < 2 {
		return models.TestResult{}, ErrInsufficientSamples
	}

	meanA, varA := stat.MeanVariance(a, nil)
	meanB, varB := stat.MeanVariance(b, nil)

	seA := varA / float64(len(a))
	seB := varB / float64(len(b))
	pooled := seA + seB
	if pooled == 0 {
		return models.TestResult{}, ErrZeroVariance
	}

	t := (meanA - meanB) / math.Sqrt(pooled)

	// Welch-Satterthwaite degrees of freedom.
	df := pooled * pooled /
		(seA*seA/float64(len(a)-1) + seB*seB/float64(len(b)-1))

	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	p := 2 * dist.CDF(-math.Abs(t))

	return models.TestResult{Statistic: t, PValue: p}, nil
}

// ChiSquareTest runs Pearson's chi-squared test of independence on a
// contingency table of observed counts.
//
// The p-value comes from the chi-squared distribution with
// (rows-1)*(cols-1) degrees of freedom. A table with an all-zero row or
// column returns ErrDegenerateTable.
func ChiSquareTest(observed [][]float64) (models.TestResult, error) {
	rows := len(observed)
	if rows < 2 {
		return models.TestResult{}, ErrInsufficientSamples
	}
	cols := len(observed[0])
	if cols < 2 {
		return models.TestResult{}, ErrInsufficientSamples
	}

	rowTotals := make([]float64, rows)
	colTotals := make([]float64, cols)
	var grand float64
	for i, row := range observed {
		if len(row) != cols {
			return models.TestResult{}, ErrDegenerateTable
		}
		for j, v := range row {
			rowTotals[i] += v
			colTotals[j] += v
			grand += v
		}
	}
	if grand == 0 {
		return models.TestResult{}, ErrDegenerateTable
	}
	for _, rt := range rowTotals {
		if rt == 0 {
			return models.TestResult{}, ErrDegenerateTable
		}
	}
	for _, ct := range colTotals {
		if ct == 0 {
			return models.TestResult{}, ErrDegenerateTable
		}
	}

	var stat float64
	for i := range observed {
		for j := range observed[i] {
			expected := rowTotals[i] * colTotals[j] / grand
			diff := observed[i][j] - expected
			stat += diff * diff / expected
		}
	}

	df := float64((rows - 1) * (cols - 1))
	dist := distuv.ChiSquared{K: df}
	p := dist.Survival(stat)

	return models.TestResult{Statistic: stat, PValue: p}, nil
}

// round4 rounds a statistic to 4 decimal places for reporting.
func round4(x float64) float64 {
	return math.Round(x*10000) / 10000
}
