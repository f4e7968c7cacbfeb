// Reelab - Movie Recommendation Serving and Online A/B Evaluation
// Copyright 2026 Reelab Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelab/reelab

package recommender

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/reelab/reelab/internal/metrics"
	"github.com/reelab/reelab/internal/models"
)

// RatingSource provides the training data. Implemented by *store.Store.
type RatingSource interface {
	RecentRatingEvents(ctx context.Context, limit int) ([]models.RatingEvent, error)
}

// TrainerConfig holds training lifecycle settings.
type TrainerConfig struct {
	// TrainOnStartup triggers a training run when the service starts.
	TrainOnStartup bool

	// TrainInterval is how often to retrain.
	TrainInterval time.Duration

	// TrainTimeout bounds a single training run.
	TrainTimeout time.Duration

	// MinRatings is the minimum batch size before training runs.
	MinRatings int

	// RatingLimit bounds how many recent ratings a run loads.
	RatingLimit int
}

// Trainer periodically rebuilds the model and publishes it through the
// handle. Serving keeps reading the previous snapshot until the swap.
type Trainer struct {
	algorithm Algorithm
	source    RatingSource
	handle    *Handle
	config    TrainerConfig
	logger    zerolog.Logger
	name      string
}

// NewTrainer creates a training service for one algorithm variant.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewTrainer(algorithm Algorithm, source RatingSource, handle *Handle, cfg TrainerConfig, logger zerolog.Logger) *Trainer {
	if cfg.TrainInterval <= 0 {
		cfg.TrainInterval = 24 * time.Hour
	}
	if cfg.TrainTimeout <= 0 {
		cfg.TrainTimeout = 30 * time.Minute
	}
	return &Trainer{
		algorithm: algorithm,
		source:    source,
		handle:    handle,
		config:    cfg,
		logger:    logger.With().Str("service", "trainer").Str("variant", algorithm.Name()).Logger(),
		name:      fmt.Sprintf("trainer-%s", algorithm.Name()),
	}
}

// Serve implements the suture.Service interface. It manages the training
// loop for the model variant.
func (t *Trainer) Serve(ctx context.Context) error {
	t.logger.Info().
		Bool("train_on_startup", t.config.TrainOnStartup).
		Dur("train_interval", t.config.TrainInterval).
		Msg("trainer starting")

	if t.config.TrainOnStartup {
		if err := t.TrainOnce(ctx); err != nil {
			t.logger.Warn().Err(err).Msg("initial training failed (will retry on schedule)")
		}
	}

	ticker := time.NewTicker(t.config.TrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info().Msg("trainer shutting down")
			return ctx.Err()

		case <-ticker.C:
			if err := t.TrainOnce(ctx); err != nil {
				t.logger.Warn().Err(err).Msg("scheduled training failed")
			}
		}
	}
}

// TrainOnce performs a single training cycle: load the rating batch,
// build a new model, publish it atomically.
func (t *Trainer) TrainOnce(ctx context.Context) error {
	trainCtx, cancel := context.WithTimeout(ctx, t.config.TrainTimeout)
	defer cancel()

	start := time.Now()

	ratings, err := t.source.RecentRatingEvents(trainCtx, t.config.RatingLimit)
	if err != nil {
		return fmt.Errorf("load rating batch: %w", err)
	}
	if len(ratings) < t.config.MinRatings {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, len(ratings), t.config.MinRatings)
	}

	model, err := t.algorithm.Train(trainCtx, ratings)
	if err != nil {
		return fmt.Errorf("train %s: %w", t.algorithm.Name(), err)
	}

	t.handle.Store(model)
	metrics.ModelAccuracy.WithLabelValues(model.Variant()).Set(model.Accuracy())
	metrics.ModelTrainDuration.WithLabelValues(model.Variant()).Observe(time.Since(start).Seconds())

	t.logger.Info().
		Str("model_version", model.Version()).
		Str("data_version", model.DataVersion()).
		Float64("accuracy", model.Accuracy()).
		Int("ratings", len(ratings)).
		Dur("duration", time.Since(start)).
		Msg("model training complete")

	return nil
}

// String returns the service name for logging.
func (t *Trainer) String() string {
	return t.name
}
