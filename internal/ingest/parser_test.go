// Reelab - Movie Recommendation Serving and Online A/B Evaluation
// Copyright 2026 Reelab Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelab/reelab

package ingest

import (
	"errors"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		line string
		want Kind
	}{
		{"2026-08-30T10:15:42,204078,GET /data/m/the+dragon+prince/42.mpg", KindWatch},
		{"2026-08-30T10:15:42,204078,GET /rate/the+dragon+prince=4", KindRate},
		{"2026-08-30T10:15:42, 204078, recommendation request host, status 200, result: a, 120 ms", KindRecommendation},
		{"not an event line", KindUnknown},
		{"", KindUnknown},
	}
	for _, tc := range tests {
		if got := Classify(tc.line); got != tc.want {
			t.Errorf("Classify(%q) = %v, want %v", tc.line, got, tc.want)
		}
	}
}

func TestParseWatch(t *testing.T) {
	line := "2026-08-30T10:15:42,204078,GET /data/m/the+dragon+prince+2019/42.mpg"
	event, err := ParseWatch(line)
	if err != nil {
		t.Fatalf("ParseWatch: %v", err)
	}

	wantTime := time.Date(2026, 8, 30, 10, 15, 42, 0, time.UTC)
	if !event.Time.Equal(wantTime) {
		t.Errorf("time = %v, want %v", event.Time, wantTime)
	}
	if event.UserID != "204078" {
		t.Errorf("user id = %q", event.UserID)
	}
	if event.MovieID != "the+dragon+prince+2019" {
		t.Errorf("movie id = %q", event.MovieID)
	}
	if event.MinuteFile != "42.mpg" {
		t.Errorf("minute file = %q", event.MinuteFile)
	}
	if event.WatchSeconds != 2520 {
		t.Errorf("watch seconds = %v, want 2520", event.WatchSeconds)
	}
}

func TestParseWatchMinutePrecisionTimestamp(t *testing.T) {
	event, err := ParseWatch("2026-08-30T10:15,7,GET /data/m/heat/3.mpg")
	if err != nil {
		t.Fatalf("ParseWatch: %v", err)
	}
	want := time.Date(2026, 8, 30, 10, 15, 0, 0, time.UTC)
	if !event.Time.Equal(want) {
		t.Errorf("time = %v, want %v (seconds appended)", event.Time, want)
	}
}

func TestParseWatchNormalizesUserID(t *testing.T) {
	event, err := ParseWatch("2026-08-30T10:15:42,007,GET /data/m/goldfinger/1.mpg")
	if err != nil {
		t.Fatalf("ParseWatch: %v", err)
	}
	if event.UserID != "7" {
		t.Errorf("user id = %q, want normalized 7", event.UserID)
	}
}

func TestParseWatchErrors(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantErr error
	}{
		{"missing fields", "2026-08-30T10:15:42,GET /data/m/heat/3.mpg", ErrFieldCount},
		{"extra commas", "a,b,c,GET /data/m/heat/3.mpg", ErrFieldCount},
		{"bad path", "2026-08-30T10:15:42,7,GET /data/m/heat", ErrFieldCount},
		{"nested path", "2026-08-30T10:15:42,7,GET /data/m/heat/extra/3.mpg", ErrFieldCount},
		{"bad timestamp", "garbage,7,GET /data/m/heat/3.mpg", ErrBadTimestamp},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseWatch(tc.line); !errors.Is(err, tc.wantErr) {
				t.Fatalf("ParseWatch(%q) error = %v, want %v", tc.line, err, tc.wantErr)
			}
		})
	}
}

func TestParseRate(t *testing.T) {
	event, err := ParseRate("2026-08-30T10:15:42,204078,GET /rate/the+dragon+prince=4")
	if err != nil {
		t.Fatalf("ParseRate: %v", err)
	}
	if event.UserID != "204078" || event.MovieID != "the+dragon+prince" {
		t.Errorf("parsed %q / %q", event.UserID, event.MovieID)
	}
	if event.Score != 4 {
		t.Errorf("score = %v, want 4", event.Score)
	}
	if event.Time.Location() != time.UTC {
		t.Errorf("time not UTC: %v", event.Time)
	}
}

func TestParseRateErrors(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantErr error
	}{
		{"missing score", "2026-08-30T10:15:42,7,GET /rate/heat", ErrFieldCount},
		{"non-numeric score", "2026-08-30T10:15:42,7,GET /rate/heat=five", ErrBadScore},
		{"bad timestamp", "nope,7,GET /rate/heat=4", ErrBadTimestamp},
		{"missing fields", "2026-08-30T10:15:42,GET /rate/heat=4", ErrFieldCount},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseRate(tc.line); !errors.Is(err, tc.wantErr) {
				t.Fatalf("ParseRate(%q) error = %v, want %v", tc.line, err, tc.wantErr)
			}
		})
	}
}

func TestParseRecommendation(t *testing.T) {
	line := "2026-08-30T10:15:42.123, 204078, recommendation request 17645-team08.isri.cmu.edu, status 200, " +
		"result: heat, blade+runner, alien, 120 ms"
	rec, err := ParseRecommendation(line)
	if err != nil {
		t.Fatalf("ParseRecommendation: %v", err)
	}

	wantTime := time.Date(2026, 8, 30, 10, 15, 42, 0, time.UTC)
	if !rec.Time.Equal(wantTime) {
		t.Errorf("time = %v, want %v (sub-second truncated)", rec.Time, wantTime)
	}
	if rec.UserID != "204078" {
		t.Errorf("user id = %q", rec.UserID)
	}
	if rec.Host != "17645-team08.isri.cmu.edu" {
		t.Errorf("host = %q", rec.Host)
	}
	if rec.StatusCode != 200 {
		t.Errorf("status = %d", rec.StatusCode)
	}
	if rec.LatencyMS != 120 {
		t.Errorf("latency = %d, want 120", rec.LatencyMS)
	}

	want := []string{"heat", "blade+runner", "alien"}
	if len(rec.Results) != len(want) {
		t.Fatalf("results = %v, want %v", rec.Results, want)
	}
	for i := range want {
		if rec.Results[i] != want[i] {
			t.Fatalf("results = %v, want %v", rec.Results, want)
		}
	}
}

func TestParseRecommendationNon200(t *testing.T) {
	line := "2026-08-30T10:15:42, 42, recommendation request host-a, status 503, result: , 3000 ms"
	rec, err := ParseRecommendation(line)
	if err != nil {
		t.Fatalf("ParseRecommendation: %v", err)
	}
	if rec.StatusCode != 503 {
		t.Errorf("status = %d, want 503", rec.StatusCode)
	}
	if len(rec.Results) != 0 {
		t.Errorf("results = %v, want empty", rec.Results)
	}
}

func TestParseRecommendationCapsResults(t *testing.T) {
	line := "2026-08-30T10:15:42, 42, recommendation request host-a, status 200, result: m0"
	for i := 1; i < 30; i++ {
		line += ", m" + string(rune('0'+i%10))
	}
	line += ", 55 ms"

	rec, err := ParseRecommendation(line)
	if err != nil {
		t.Fatalf("ParseRecommendation: %v", err)
	}
	if len(rec.Results) > maxResultFields {
		t.Fatalf("results = %d entries, want at most %d", len(rec.Results), maxResultFields)
	}
}

func TestParseRecommendationErrors(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantErr error
	}{
		{"too few fields", "2026-08-30T10:15:42, 42, recommendation request h, status 200", ErrFieldCount},
		{"bad status", "2026-08-30T10:15:42, 42, recommendation request h, status abc, result: m, 10 ms", ErrBadStatus},
		{"bad latency", "2026-08-30T10:15:42, 42, recommendation request h, status 200, result: m, fast", ErrBadLatency},
		{"bad timestamp", "xx, 42, recommendation request h, status 200, result: m, 10 ms", ErrBadTimestamp},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseRecommendation(tc.line); !errors.Is(err, tc.wantErr) {
				t.Fatalf("error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestParseEventTimeStripsStrayCharacters(t *testing.T) {
	got, err := parseEventTime(" 2026-08-30T10:15:42Z ")
	if err != nil {
		t.Fatalf("parseEventTime: %v", err)
	}
	want := time.Date(2026, 8, 30, 10, 15, 42, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("parseEventTime = %v, want %v", got, want)
	}
}
