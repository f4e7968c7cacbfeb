// Reelab - Movie Recommendation Serving and Online A/B Evaluation
// Copyright 2026 Reelab Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelab/reelab

package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/reelab/reelab/internal/logging"
	"github.com/reelab/reelab/internal/models"
)

type fakeStore struct {
	mu        sync.Mutex
	records   []models.ProvenanceRecord
	watches   []models.WatchEvent
	snapshots []models.TelemetrySnapshot
	insertErr error
}

func (f *fakeStore) RecentProvenance(_ context.Context, limit int) ([]models.ProvenanceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.records) > limit {
		return f.records[:limit], nil
	}
	return f.records, nil
}

func (f *fakeStore) RecentWatchEvents(_ context.Context, limit int) ([]models.WatchEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.watches) > limit {
		return f.watches[:limit], nil
	}
	return f.watches, nil
}

func (f *fakeStore) InsertTelemetrySnapshot(_ context.Context, t *models.TelemetrySnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.snapshots = append(f.snapshots, *t)
	return nil
}

func (f *fakeStore) snapshotCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.snapshots)
}

var t0 = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func record(user string, recs ...string) models.ProvenanceRecord {
	return models.ProvenanceRecord{
		ID:              "req-" + user,
		Timestamp:       t0,
		UserID:          user,
		Variant:         "usercf",
		Recommendations: recs,
		StatusCode:      200,
	}
}

func TestRunOnceComputesSnapshot(t *testing.T) {
	fs := &fakeStore{
		records: []models.ProvenanceRecord{
			record("1", "m1"),
			record("2", "m2"),
			record("3", "m3"),
			record("4", "m4"),
		},
		watches: []models.WatchEvent{
			// User 1 converts twice, user 2 once; users 3 and 4 never watch.
			{UserID: "1", MovieID: "m1", Time: t0.Add(time.Minute), WatchSeconds: 60},
			{UserID: "1", MovieID: "m1", Time: t0.Add(2 * time.Minute), WatchSeconds: 120},
			{UserID: "2", MovieID: "m2", Time: t0.Add(time.Minute), WatchSeconds: 180},
		},
	}

	sched := NewScheduler(fs, Config{Interval: time.Hour, BatchLimit: 1000}, logging.Logger())
	snap, err := sched.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if snap.SampleSize != 4 {
		t.Errorf("SampleSize = %d, want 4", snap.SampleSize)
	}
	// Users deduplicate: user 1 counts once despite two watches.
	if snap.DistinctConvertedUsers != 2 {
		t.Errorf("DistinctConvertedUsers = %d, want 2", snap.DistinctConvertedUsers)
	}
	if snap.ConversionRatePercent != 50 {
		t.Errorf("ConversionRatePercent = %g, want 50", snap.ConversionRatePercent)
	}
	// Mean over qualifying watch rows: (60+120+180)/3.
	if snap.AverageWatchTimeSec != 120 {
		t.Errorf("AverageWatchTimeSec = %g, want 120", snap.AverageWatchTimeSec)
	}
	if fs.snapshotCount() != 1 {
		t.Errorf("persisted %d snapshots, want 1", fs.snapshotCount())
	}
}

func TestRunOnceEmptyBatchYieldsZeros(t *testing.T) {
	fs := &fakeStore{}
	sched := NewScheduler(fs, Config{}, logging.Logger())

	snap, err := sched.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if snap.SampleSize != 0 || snap.ConversionRatePercent != 0 || snap.AverageWatchTimeSec != 0 {
		t.Errorf("empty batch snapshot not zeroed: %+v", snap)
	}
}

func TestRunOncePropagatesInsertError(t *testing.T) {
	wantErr := errors.New("disk full")
	fs := &fakeStore{insertErr: wantErr}
	sched := NewScheduler(fs, Config{}, logging.Logger())

	if _, err := sched.RunOnce(context.Background()); !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}

func TestServeStopsOnContextCancel(t *testing.T) {
	fs := &fakeStore{}
	sched := NewScheduler(fs, Config{Interval: 10 * time.Millisecond}, logging.Logger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- sched.Serve(ctx)
	}()

	// Let the initial run and at least one tick happen.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not stop after context cancellation")
	}

	if fs.snapshotCount() < 2 {
		t.Errorf("took %d snapshots, want at least 2 (startup plus tick)", fs.snapshotCount())
	}
}

func TestSchedulerDefaults(t *testing.T) {
	sched := NewScheduler(&fakeStore{}, Config{}, logging.Logger())
	if sched.config.Interval != time.Hour {
		t.Errorf("default interval = %s, want 1h", sched.config.Interval)
	}
	if sched.config.BatchLimit != 1000 {
		t.Errorf("default batch limit = %d, want 1000", sched.config.BatchLimit)
	}
	if sched.String() != "telemetry-scheduler" {
		t.Errorf("String() = %q", sched.String())
	}
}
