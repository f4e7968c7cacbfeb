// Reelab - Movie Recommendation Serving and Online A/B Evaluation
// Copyright 2026 Reelab Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelab/reelab

// Package telemetry periodically measures live engagement across all
// serving variants and appends the result to the telemetry log.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/reelab/reelab/internal/eval"
	"github.com/reelab/reelab/internal/metrics"
	"github.com/reelab/reelab/internal/models"
)

// Store is the persistence surface the scheduler needs.
type Store interface {
	RecentProvenance(ctx context.Context, limit int) ([]models.ProvenanceRecord, error)
	RecentWatchEvents(ctx context.Context, limit int) ([]models.WatchEvent, error)
	InsertTelemetrySnapshot(ctx context.Context, t *models.TelemetrySnapshot) error
}

// Config holds scheduler settings.
type Config struct {
	// Interval between snapshot runs.
	Interval time.Duration

	// BatchLimit bounds how many recent rows each run loads.
	BatchLimit int
}

// Scheduler takes periodic telemetry snapshots. Runs execute on a single
// goroutine inside Serve, so two runs never overlap; a tick that fires
// while a run is still in progress is coalesced by the ticker.
type Scheduler struct {
	store  Store
	config Config
	logger zerolog.Logger
	name   string
}

// NewScheduler creates a telemetry scheduler.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewScheduler(store Store, cfg Config, logger zerolog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 1000
	}
	return &Scheduler{
		store:  store,
		config: cfg,
		logger: logger.With().Str("service", "telemetry").Logger(),
		name:   "telemetry-scheduler",
	}
}

// Serve implements the suture.Service interface. It takes one snapshot
// immediately, then one per interval until the context is canceled.
func (s *Scheduler) Serve(ctx context.Context) error {
	s.logger.Info().
		Dur("interval", s.config.Interval).
		Int("batch_limit", s.config.BatchLimit).
		Msg("telemetry scheduler starting")

	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("initial telemetry snapshot failed (will retry on schedule)")
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("telemetry scheduler shutting down")
			return ctx.Err()

		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("scheduled telemetry snapshot failed")
			}
		}
	}
}

// RunOnce takes a single snapshot and persists it. The returned snapshot
// is the one appended to the telemetry log.
//
// Unlike the offline comparison, the conversion rate here deduplicates
// users: the numerator counts distinct users with at least one qualifying
// watch, the denominator counts recommendation responses. The average
// watch time is taken over qualifying watch rows only.
func (s *Scheduler) RunOnce(ctx context.Context) (*models.TelemetrySnapshot, error) {
	snapshot, err := s.runOnce(ctx)
	if err != nil {
		metrics.TelemetryRuns.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.TelemetryRuns.WithLabelValues("ok").Inc()
	return snapshot, nil
}

func (s *Scheduler) runOnce(ctx context.Context) (*models.TelemetrySnapshot, error) {
	started := time.Now()

	records, err := s.store.RecentProvenance(ctx, s.config.BatchLimit)
	if err != nil {
		return nil, fmt.Errorf("load provenance batch: %w", err)
	}
	watches, err := s.store.RecentWatchEvents(ctx, s.config.BatchLimit)
	if err != nil {
		return nil, fmt.Errorf("load watch batch: %w", err)
	}

	samples := eval.Correlate(records, watches)

	convertedUsers := make(map[string]struct{})
	var watchSum float64
	var watchRows int
	for _, sm := range samples {
		if sm.Converted {
			convertedUsers[sm.UserID] = struct{}{}
			watchSum += sm.WatchSeconds
			watchRows++
		}
	}

	snapshot := &models.TelemetrySnapshot{
		ID:                     uuid.NewString(),
		Timestamp:              time.Now().UTC(),
		SampleSize:             len(records),
		DistinctConvertedUsers: len(convertedUsers),
	}
	if watchRows > 0 {
		snapshot.AverageWatchTimeSec = watchSum / float64(watchRows)
	}
	if len(records) > 0 {
		snapshot.ConversionRatePercent = float64(len(convertedUsers)) / float64(len(records)) * 100
	}

	if err := s.store.InsertTelemetrySnapshot(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("persist telemetry snapshot: %w", err)
	}

	s.logger.Info().
		Str("snapshot_id", snapshot.ID).
		Int("sample_size", snapshot.SampleSize).
		Float64("avg_watch_time_sec", snapshot.AverageWatchTimeSec).
		Float64("conversion_rate_percent", snapshot.ConversionRatePercent).
		Dur("duration", time.Since(started)).
		Msg("telemetry snapshot complete")

	return snapshot, nil
}

// String returns the service name for logging.
func (s *Scheduler) String() string {
	return s.name
}
