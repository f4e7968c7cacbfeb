// Reelab - Movie Recommendation Serving and Online A/B Evaluation
// Copyright 2026 Reelab Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelab/reelab

// Package ingest consumes the raw movie event stream, parses the three
// upstream line formats, and persists the typed events. Malformed lines
// are counted and dropped so one bad record never stalls the pipeline.
package ingest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/reelab/reelab/internal/models"
)

// Parse errors. Callers distinguish malformed input (drop and count) from
// infrastructure failures (retry) by matching against these sentinels.
var (
	ErrUnknownFormat = errors.New("line matches no known format")
	ErrFieldCount    = errors.New("unexpected field count")
	ErrBadTimestamp  = errors.New("invalid timestamp")
	ErrBadScore      = errors.New("invalid rating score")
	ErrBadStatus     = errors.New("invalid status code")
	ErrBadLatency    = errors.New("invalid latency")
)

// Line markers in the raw stream.
const (
	watchMarker     = "GET /data/m/"
	rateMarker      = "GET /rate/"
	recommendMarker = "recommendation request"
)

// maxResultFields caps how many movie ids a recommendation line carries.
const maxResultFields = 20

// Kind identifies which of the three upstream formats a line matched.
type Kind int

const (
	KindUnknown Kind = iota
	KindWatch
	KindRate
	KindRecommendation
)

// String returns the metric label for the kind.
func (k Kind) String() string {
	switch k {
	case KindWatch:
		return "watch"
	case KindRate:
		return "rate"
	case KindRecommendation:
		return "recommendation"
	default:
		return "unknown"
	}
}

// RecommendationLine is one recommendation response observed in the
// stream: the serving host, status, result list, and reported latency.
type RecommendationLine struct {
	Time       time.Time
	UserID     string
	Host       string
	StatusCode int
	Results    []string
	LatencyMS  int
}

// Classify reports which format a raw line matches without parsing it.
func Classify(line string) Kind {
	switch {
	case strings.Contains(line, watchMarker):
		return KindWatch
	case strings.Contains(line, rateMarker):
		return KindRate
	case strings.Contains(line, recommendMarker):
		return KindRecommendation
	default:
		return KindUnknown
	}
}

// ParseWatch parses a watch line:
//
//	<time>,<user>,GET /data/m/<movie>/<minute>.mpg
func ParseWatch(line string) (*models.WatchEvent, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 3 {
		return nil, fmt.Errorf("%w: watch line has %d fields, want 3", ErrFieldCount, len(fields))
	}

	ts, err := parseEventTime(fields[0])
	if err != nil {
		return nil, err
	}

	idx := strings.Index(fields[2], watchMarker)
	if idx < 0 {
		return nil, fmt.Errorf("%w: missing %q", ErrUnknownFormat, watchMarker)
	}
	path := fields[2][idx+len(watchMarker):]
	parts := strings.Split(path, "/")
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: watch path %q", ErrFieldCount, path)
	}

	return &models.WatchEvent{
		Time:         ts,
		UserID:       models.NormalizeUserID(fields[1]),
		MovieID:      strings.TrimSpace(parts[0]),
		MinuteFile:   strings.TrimSpace(parts[1]),
		WatchSeconds: models.ParseWatchSeconds(parts[1]),
	}, nil
}

// ParseRate parses a rating line:
//
//	<time>,<user>,GET /rate/<movie>=<score>
func ParseRate(line string) (*models.RatingEvent, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 3 {
		return nil, fmt.Errorf("%w: rate line has %d fields, want 3", ErrFieldCount, len(fields))
	}

	ts, err := parseEventTime(fields[0])
	if err != nil {
		return nil, err
	}

	idx := strings.Index(fields[2], rateMarker)
	if idx < 0 {
		return nil, fmt.Errorf("%w: missing %q", ErrUnknownFormat, rateMarker)
	}
	pair := fields[2][idx+len(rateMarker):]
	parts := strings.Split(pair, "=")
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: rate pair %q", ErrFieldCount, pair)
	}

	score, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrBadScore, parts[1])
	}

	return &models.RatingEvent{
		Time:    ts,
		UserID:  models.NormalizeUserID(fields[1]),
		MovieID: strings.TrimSpace(parts[0]),
		Score:   score,
	}, nil
}

// ParseRecommendation parses a recommendation response line:
//
//	<time>, <user>, recommendation request <host>, status <code>, result: <m1>, ..., <latency> ms
func ParseRecommendation(line string) (*RecommendationLine, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 6 {
		return nil, fmt.Errorf("%w: recommendation line has %d fields, want at least 6", ErrFieldCount, len(fields))
	}

	ts, err := parseEventTime(fields[0])
	if err != nil {
		return nil, err
	}

	reqField := strings.TrimSpace(fields[2])
	host := strings.TrimSpace(strings.TrimPrefix(reqField, recommendMarker))
	if host == reqField {
		return nil, fmt.Errorf("%w: missing %q", ErrUnknownFormat, recommendMarker)
	}

	statusField := strings.TrimSpace(strings.ReplaceAll(fields[3], "status", ""))
	status, err := strconv.Atoi(statusField)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrBadStatus, fields[3])
	}

	latencyField := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(fields[len(fields)-1]), "ms"))
	latency, err := strconv.Atoi(latencyField)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrBadLatency, fields[len(fields)-1])
	}

	resultFields := fields[4 : len(fields)-1]
	if len(resultFields) > maxResultFields {
		resultFields = resultFields[:maxResultFields]
	}
	results := make([]string, 0, len(resultFields))
	for i, f := range resultFields {
		if i == 0 {
			f = strings.ReplaceAll(f, "result:", "")
		}
		if movie := strings.TrimSpace(f); movie != "" {
			results = append(results, movie)
		}
	}

	return &RecommendationLine{
		Time:       ts,
		UserID:     models.NormalizeUserID(fields[1]),
		Host:       host,
		StatusCode: status,
		Results:    results,
		LatencyMS:  latency,
	}, nil
}

// parseEventTime normalizes and parses a stream timestamp. The upstream
// emits ISO stamps with occasional stray characters and sometimes only
// minute precision, so non-timestamp characters are stripped, minute
// stamps get ":00" appended, and anything past seconds is truncated.
func parseEventTime(raw string) (time.Time, error) {
	var b strings.Builder
	for _, c := range raw {
		if (c >= '0' && c <= '9') || c == '-' || c == 'T' || c == ':' {
			b.WriteRune(c)
		}
	}
	cleaned := b.String()

	switch {
	case len(cleaned) == 16: // minute precision
		cleaned += ":00"
	case len(cleaned) > 19:
		cleaned = cleaned[:19]
	}

	ts, err := time.Parse("2006-01-02T15:04:05", cleaned)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadTimestamp, raw)
	}
	return ts.UTC(), nil
}
