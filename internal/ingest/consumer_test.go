// Reelab - Movie Recommendation Serving and Online A/B Evaluation
// Copyright 2026 Reelab Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelab/reelab

package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/reelab/reelab/internal/models"
)

type fakeStore struct {
	mu         sync.Mutex
	watches    []*models.WatchEvent
	ratings    []*models.RatingEvent
	provenance []*models.ProvenanceRecord
	insertErr  error
}

func (f *fakeStore) InsertWatchEvent(_ context.Context, e *models.WatchEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.watches = append(f.watches, e)
	return nil
}

func (f *fakeStore) InsertRatingEvent(_ context.Context, e *models.RatingEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.ratings = append(f.ratings, e)
	return nil
}

func (f *fakeStore) InsertProvenance(_ context.Context, p *models.ProvenanceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.provenance = append(f.provenance, p)
	return nil
}

func newTestConsumer(store Store, hostVariants map[string]string) *Consumer {
	return &Consumer{
		store: store,
		config: ConsumerConfig{
			Topic:        "movielog.raw",
			HostVariants: hostVariants,
		},
		logger: zerolog.Nop(),
	}
}

func TestHandleLineWatch(t *testing.T) {
	store := &fakeStore{}
	c := newTestConsumer(store, nil)

	line := "2026-08-30T10:15:42,204078,GET /data/m/the+dragon+prince/42.mpg"
	if err := c.HandleLine(context.Background(), line); err != nil {
		t.Fatalf("HandleLine: %v", err)
	}
	if len(store.watches) != 1 {
		t.Fatalf("stored %d watch events, want 1", len(store.watches))
	}
	if store.watches[0].WatchSeconds != 2520 {
		t.Errorf("watch seconds = %v, want 2520", store.watches[0].WatchSeconds)
	}
}

func TestHandleLineRate(t *testing.T) {
	store := &fakeStore{}
	c := newTestConsumer(store, nil)

	if err := c.HandleLine(context.Background(), "2026-08-30T10:15:42,7,GET /rate/heat=5"); err != nil {
		t.Fatalf("HandleLine: %v", err)
	}
	if len(store.ratings) != 1 || store.ratings[0].Score != 5 {
		t.Fatalf("ratings = %+v, want one with score 5", store.ratings)
	}
}

func TestHandleLineRecommendation(t *testing.T) {
	store := &fakeStore{}
	c := newTestConsumer(store, map[string]string{"host-a": "usercf"})

	line := "2026-08-30T10:15:42, 007, recommendation request host-a, status 200, result: heat, alien, 35 ms"
	if err := c.HandleLine(context.Background(), line); err != nil {
		t.Fatalf("HandleLine: %v", err)
	}
	if len(store.provenance) != 1 {
		t.Fatalf("stored %d provenance records, want 1", len(store.provenance))
	}

	p := store.provenance[0]
	if p.ID == "" {
		t.Error("provenance id not stamped")
	}
	if p.UserID != "7" {
		t.Errorf("user id = %q, want normalized 7", p.UserID)
	}
	if p.Variant != "usercf" {
		t.Errorf("variant = %q, want usercf (mapped from host)", p.Variant)
	}
	if p.LatencyMS != 35 {
		t.Errorf("latency = %d, want 35", p.LatencyMS)
	}
	if len(p.Recommendations) != 2 {
		t.Errorf("recommendations = %v", p.Recommendations)
	}
}

func TestHandleLineUnmappedHostKeepsHostname(t *testing.T) {
	store := &fakeStore{}
	c := newTestConsumer(store, nil)

	line := "2026-08-30T10:15:42, 7, recommendation request backend-x, status 200, result: heat, 10 ms"
	if err := c.HandleLine(context.Background(), line); err != nil {
		t.Fatalf("HandleLine: %v", err)
	}
	if store.provenance[0].Variant != "backend-x" {
		t.Errorf("variant = %q, want backend-x", store.provenance[0].Variant)
	}
}

func TestHandleLineSkipsFailedRecommendation(t *testing.T) {
	store := &fakeStore{}
	c := newTestConsumer(store, nil)

	line := "2026-08-30T10:15:42, 7, recommendation request host-a, status 500, result: , 3000 ms"
	if err := c.HandleLine(context.Background(), line); err != nil {
		t.Fatalf("HandleLine should ack failed responses, got %v", err)
	}
	if len(store.provenance) != 0 {
		t.Fatalf("failed response was persisted: %+v", store.provenance)
	}
}

func TestHandleLineMalformedIsAcked(t *testing.T) {
	store := &fakeStore{}
	c := newTestConsumer(store, nil)

	lines := []string{
		"total garbage",
		"2026-08-30T10:15:42,GET /data/m/heat/3.mpg",
		"2026-08-30T10:15:42,7,GET /rate/heat=five",
		"xx, 7, recommendation request h, status abc, result: m, 10 ms",
	}
	for _, line := range lines {
		if err := c.HandleLine(context.Background(), line); err != nil {
			t.Fatalf("HandleLine(%q) = %v, want nil for malformed input", line, err)
		}
	}
	if len(store.watches)+len(store.ratings)+len(store.provenance) != 0 {
		t.Fatal("malformed lines were persisted")
	}
}

func TestHandleLineStoreFailureIsRetryable(t *testing.T) {
	wantErr := errors.New("db unavailable")
	store := &fakeStore{insertErr: wantErr}
	c := newTestConsumer(store, nil)

	line := "2026-08-30T10:15:42,7,GET /data/m/heat/3.mpg"
	if err := c.HandleLine(context.Background(), line); !errors.Is(err, wantErr) {
		t.Fatalf("HandleLine error = %v, want wrapped %v for redelivery", err, wantErr)
	}
}
