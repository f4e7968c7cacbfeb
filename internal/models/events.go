// Reelab - Movie Recommendation Serving and Online A/B Evaluation
// Copyright 2026 Reelab Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelab/reelab

// Package models defines the shared data records that flow between the
// ingest pipeline, the stores, the model servers, and the evaluation engine.
package models

import (
	"strconv"
	"strings"
	"time"
)

// WatchEvent is one minute-file request from the upstream playback log.
// A user watching a movie emits one event per streamed minute.
type WatchEvent struct {
	UserID  string    `json:"user_id"`
	MovieID string    `json:"movie_id"`
	Time    time.Time `json:"time"`

	// MinuteFile is the raw requested file name, e.g. "42.mpg".
	MinuteFile string `json:"minute_file"`

	// WatchSeconds is the watch position derived from MinuteFile
	// (minute index times 60). 0 when the file name does not parse.
	WatchSeconds float64 `json:"watch_seconds"`
}

// RatingEvent is one explicit rating from the upstream log.
type RatingEvent struct {
	UserID  string    `json:"user_id"`
	MovieID string    `json:"movie_id"`
	Score   float64   `json:"score"`
	Time    time.Time `json:"time"`
}

// ProvenanceRecord captures one served recommendation response together
// with the model lineage needed to attribute later engagement to it.
// Only successful (status 200) responses are ever recorded.
type ProvenanceRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id"`

	// Variant is the serving model label, e.g. "usercf" or "itemcf".
	Variant      string `json:"variant"`
	ModelVersion string `json:"model_version"`
	DataVersion  string `json:"data_version"`

	// Recommendations is the served movie list in rank order.
	Recommendations []string `json:"recommendations"`

	StatusCode int   `json:"status_code"`
	LatencyMS  int64 `json:"latency_ms,omitempty"`
}

// Recommends reports whether the record's served list contains movieID.
func (p *ProvenanceRecord) Recommends(movieID string) bool {
	for _, m := range p.Recommendations {
		if m == movieID {
			return true
		}
	}
	return false
}

// NormalizeUserID canonicalizes a user identifier for joining across
// event sources. Upstream systems emit user ids both as raw integers and
// as strings; integer-valued ids collapse to their base-10 text form so
// "007", " 7" and 7 all join as "7".
func NormalizeUserID(raw string) string {
	s := strings.TrimSpace(raw)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return strconv.FormatInt(n, 10)
	}
	return s
}

// ParseWatchSeconds derives the watch position in seconds from a minute
// file name such as "42.mpg". Malformed names yield 0 rather than an
// error; the raw name is preserved on the event for inspection.
func ParseWatchSeconds(minuteFile string) float64 {
	name := strings.TrimSuffix(minuteFile, ".mpg")
	minute, err := strconv.Atoi(strings.TrimSpace(name))
	if err != nil || minute < 0 {
		return 0
	}
	return float64(minute) * 60
}
