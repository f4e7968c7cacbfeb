// Reelab - Movie Recommendation Serving and Online A/B Evaluation
// Copyright 2026 Reelab Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelab/reelab

// Package store provides DuckDB-backed persistence for Reelab's append-only
// collections: watch events, rating events, the request provenance log,
// comparison reports, and telemetry snapshots.
//
// All writes are single-row inserts; a row is either fully visible to later
// reads or absent. Reads are bounded recent-batch queries ordered newest
// first.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/goccy/go-json"

	"github.com/reelab/reelab/internal/config"
	"github.com/reelab/reelab/internal/metrics"
	"github.com/reelab/reelab/internal/models"
)

// Store wraps the DuckDB connection and provides data access methods.
type Store struct {
	conn *sql.DB
	cfg  *config.DatabaseConfig
}

// New opens the database and initializes the schema.
func New(cfg *config.DatabaseConfig) (*Store, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	// Ensure the parent directory exists for file-backed databases.
	if cfg.Path != ":memory:" {
		dbDir := filepath.Dir(cfg.Path)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0o750); err != nil {
				return nil, fmt.Errorf("create database directory %s: %w", dbDir, err)
			}
		}
	}

	maxMemory := cfg.MaxMemory
	if maxMemory == "" {
		maxMemory = "2GB"
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s",
		cfg.Path, numThreads, maxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// DuckDB serializes writes internally; a small pool avoids
	// write-write contention without starving readers.
	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(0)

	s := &Store{conn: conn, cfg: cfg}
	if err := s.createTables(); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Ping checks if the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if s.conn == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.conn.PingContext(ctx)
}

// Conn returns the underlying SQL connection for advanced queries.
func (s *Store) Conn() *sql.DB {
	return s.conn
}

func closeQuietly(conn *sql.DB) {
	_ = conn.Close()
}

// createTables creates the schema if it does not exist.
func (s *Store) createTables() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS watch_events (
			user_id       VARCHAR NOT NULL,
			movie_id      VARCHAR NOT NULL,
			event_time    TIMESTAMP NOT NULL,
			minute_file   VARCHAR,
			watch_seconds DOUBLE NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rating_events (
			user_id    VARCHAR NOT NULL,
			movie_id   VARCHAR NOT NULL,
			score      DOUBLE NOT NULL,
			event_time TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS request_provenance_log (
			id              VARCHAR PRIMARY KEY,
			ts              TIMESTAMP NOT NULL,
			user_id         VARCHAR NOT NULL,
			variant         VARCHAR NOT NULL,
			model_version   VARCHAR,
			data_version    VARCHAR,
			recommendations VARCHAR NOT NULL,
			status_code     INTEGER NOT NULL,
			latency_ms      BIGINT
		)`,
		`CREATE TABLE IF NOT EXISTS model_comparison_log (
			id         VARCHAR PRIMARY KEY,
			ts         TIMESTAMP NOT NULL,
			summary    VARCHAR NOT NULL,
			t_test     VARCHAR NOT NULL,
			chi_square VARCHAR NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS telemetry_log (
			id                       VARCHAR PRIMARY KEY,
			ts                       TIMESTAMP NOT NULL,
			average_watch_time_sec   DOUBLE NOT NULL,
			conversion_rate_percent  DOUBLE NOT NULL,
			sample_size              INTEGER NOT NULL,
			distinct_converted_users INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_watch_events_time ON watch_events (event_time)`,
		`CREATE INDEX IF NOT EXISTS idx_rating_events_time ON rating_events (event_time)`,
		`CREATE INDEX IF NOT EXISTS idx_provenance_ts ON request_provenance_log (ts)`,
	}

	for _, stmt := range stmts {
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}
	return nil
}

// InsertWatchEvent appends one watch event.
func (s *Store) InsertWatchEvent(ctx context.Context, e *models.WatchEvent) error {
	start := time.Now()
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO watch_events (user_id, movie_id, event_time, minute_file, watch_seconds)
		 VALUES (?, ?, ?, ?, ?)`,
		e.UserID, e.MovieID, e.Time.UTC(), e.MinuteFile, e.WatchSeconds)
	metrics.ObserveDBQuery("insert", "watch_events", start, err)
	if err != nil {
		return fmt.Errorf("insert watch event: %w", err)
	}
	return nil
}

// InsertRatingEvent appends one rating event.
func (s *Store) InsertRatingEvent(ctx context.Context, e *models.RatingEvent) error {
	start := time.Now()
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO rating_events (user_id, movie_id, score, event_time)
		 VALUES (?, ?, ?, ?)`,
		e.UserID, e.MovieID, e.Score, e.Time.UTC())
	metrics.ObserveDBQuery("insert", "rating_events", start, err)
	if err != nil {
		return fmt.Errorf("insert rating event: %w", err)
	}
	return nil
}

// InsertProvenance appends one provenance record. The served movie list
// is stored as a JSON array to keep rank order intact.
func (s *Store) InsertProvenance(ctx context.Context, p *models.ProvenanceRecord) error {
	recs, err := json.Marshal(p.Recommendations)
	if err != nil {
		return fmt.Errorf("marshal recommendations: %w", err)
	}

	start := time.Now()
	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO request_provenance_log
		 (id, ts, user_id, variant, model_version, data_version, recommendations, status_code, latency_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Timestamp.UTC(), p.UserID, p.Variant, p.ModelVersion, p.DataVersion,
		string(recs), p.StatusCode, p.LatencyMS)
	metrics.ObserveDBQuery("insert", "request_provenance_log", start, err)
	if err != nil {
		return fmt.Errorf("insert provenance record: %w", err)
	}
	return nil
}

// RecentWatchEvents returns up to limit watch events, newest first.
func (s *Store) RecentWatchEvents(ctx context.Context, limit int) ([]models.WatchEvent, error) {
	start := time.Now()
	rows, err := s.conn.QueryContext(ctx,
		`SELECT user_id, movie_id, event_time, minute_file, watch_seconds
		 FROM watch_events ORDER BY event_time DESC LIMIT ?`, limit)
	metrics.ObserveDBQuery("select", "watch_events", start, err)
	if err != nil {
		return nil, fmt.Errorf("query watch events: %w", err)
	}
	defer rows.Close()

	var events []models.WatchEvent
	for rows.Next() {
		var e models.WatchEvent
		var minuteFile sql.NullString
		if err := rows.Scan(&e.UserID, &e.MovieID, &e.Time, &minuteFile, &e.WatchSeconds); err != nil {
			return nil, fmt.Errorf("scan watch event: %w", err)
		}
		e.MinuteFile = minuteFile.String
		e.Time = e.Time.UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// RecentRatingEvents returns up to limit rating events, newest first.
func (s *Store) RecentRatingEvents(ctx context.Context, limit int) ([]models.RatingEvent, error) {
	start := time.Now()
	rows, err := s.conn.QueryContext(ctx,
		`SELECT user_id, movie_id, score, event_time
		 FROM rating_events ORDER BY event_time DESC LIMIT ?`, limit)
	metrics.ObserveDBQuery("select", "rating_events", start, err)
	if err != nil {
		return nil, fmt.Errorf("query rating events: %w", err)
	}
	defer rows.Close()

	var events []models.RatingEvent
	for rows.Next() {
		var e models.RatingEvent
		if err := rows.Scan(&e.UserID, &e.MovieID, &e.Score, &e.Time); err != nil {
			return nil, fmt.Errorf("scan rating event: %w", err)
		}
		e.Time = e.Time.UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// RecentProvenance returns up to limit provenance records, newest first.
func (s *Store) RecentProvenance(ctx context.Context, limit int) ([]models.ProvenanceRecord, error) {
	start := time.Now()
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, ts, user_id, variant, model_version, data_version, recommendations, status_code, latency_ms
		 FROM request_provenance_log ORDER BY ts DESC LIMIT ?`, limit)
	metrics.ObserveDBQuery("select", "request_provenance_log", start, err)
	if err != nil {
		return nil, fmt.Errorf("query provenance log: %w", err)
	}
	defer rows.Close()

	var records []models.ProvenanceRecord
	for rows.Next() {
		var p models.ProvenanceRecord
		var modelVersion, dataVersion sql.NullString
		var recs string
		var latency sql.NullInt64
		if err := rows.Scan(&p.ID, &p.Timestamp, &p.UserID, &p.Variant,
			&modelVersion, &dataVersion, &recs, &p.StatusCode, &latency); err != nil {
			return nil, fmt.Errorf("scan provenance record: %w", err)
		}
		p.ModelVersion = modelVersion.String
		p.DataVersion = dataVersion.String
		p.LatencyMS = latency.Int64
		p.Timestamp = p.Timestamp.UTC()
		if err := json.Unmarshal([]byte(recs), &p.Recommendations); err != nil {
			return nil, fmt.Errorf("unmarshal recommendations for %s: %w", p.ID, err)
		}
		records = append(records, p)
	}
	return records, rows.Err()
}

// InsertComparisonReport appends one comparison report. The structured
// fields are stored as JSON documents.
func (s *Store) InsertComparisonReport(ctx context.Context, r *models.ComparisonReport) error {
	summary, err := json.Marshal(r.Summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	tTest, err := json.Marshal(r.TTest)
	if err != nil {
		return fmt.Errorf("marshal t-test: %w", err)
	}
	chiSquare, err := json.Marshal(r.ChiSquare)
	if err != nil {
		return fmt.Errorf("marshal chi-square: %w", err)
	}

	start := time.Now()
	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO model_comparison_log (id, ts, summary, t_test, chi_square)
		 VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.Timestamp.UTC(), string(summary), string(tTest), string(chiSquare))
	metrics.ObserveDBQuery("insert", "model_comparison_log", start, err)
	if err != nil {
		return fmt.Errorf("insert comparison report: %w", err)
	}
	return nil
}

// RecentComparisonReports returns up to limit reports, newest first.
func (s *Store) RecentComparisonReports(ctx context.Context, limit int) ([]models.ComparisonReport, error) {
	start := time.Now()
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, ts, summary, t_test, chi_square
		 FROM model_comparison_log ORDER BY ts DESC LIMIT ?`, limit)
	metrics.ObserveDBQuery("select", "model_comparison_log", start, err)
	if err != nil {
		return nil, fmt.Errorf("query comparison log: %w", err)
	}
	defer rows.Close()

	var reports []models.ComparisonReport
	for rows.Next() {
		var r models.ComparisonReport
		var summary, tTest, chiSquare string
		if err := rows.Scan(&r.ID, &r.Timestamp, &summary, &tTest, &chiSquare); err != nil {
			return nil, fmt.Errorf("scan comparison report: %w", err)
		}
		r.Timestamp = r.Timestamp.UTC()
		if err := json.Unmarshal([]byte(summary), &r.Summary); err != nil {
			return nil, fmt.Errorf("unmarshal summary for %s: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(tTest), &r.TTest); err != nil {
			return nil, fmt.Errorf("unmarshal t-test for %s: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(chiSquare), &r.ChiSquare); err != nil {
			return nil, fmt.Errorf("unmarshal chi-square for %s: %w", r.ID, err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// InsertTelemetrySnapshot appends one telemetry snapshot.
func (s *Store) InsertTelemetrySnapshot(ctx context.Context, t *models.TelemetrySnapshot) error {
	start := time.Now()
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO telemetry_log
		 (id, ts, average_watch_time_sec, conversion_rate_percent, sample_size, distinct_converted_users)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.Timestamp.UTC(), t.AverageWatchTimeSec, t.ConversionRatePercent,
		t.SampleSize, t.DistinctConvertedUsers)
	metrics.ObserveDBQuery("insert", "telemetry_log", start, err)
	if err != nil {
		return fmt.Errorf("insert telemetry snapshot: %w", err)
	}
	return nil
}

// RecentTelemetrySnapshots returns up to limit snapshots, newest first.
func (s *Store) RecentTelemetrySnapshots(ctx context.Context, limit int) ([]models.TelemetrySnapshot, error) {
	start := time.Now()
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, ts, average_watch_time_sec, conversion_rate_percent, sample_size, distinct_converted_users
		 FROM telemetry_log ORDER BY ts DESC LIMIT ?`, limit)
	metrics.ObserveDBQuery("select", "telemetry_log", start, err)
	if err != nil {
		return nil, fmt.Errorf("query telemetry log: %w", err)
	}
	defer rows.Close()

	var snapshots []models.TelemetrySnapshot
	for rows.Next() {
		var t models.TelemetrySnapshot
		if err := rows.Scan(&t.ID, &t.Timestamp, &t.AverageWatchTimeSec,
			&t.ConversionRatePercent, &t.SampleSize, &t.DistinctConvertedUsers); err != nil {
			return nil, fmt.Errorf("scan telemetry snapshot: %w", err)
		}
		t.Timestamp = t.Timestamp.UTC()
		snapshots = append(snapshots, t)
	}
	return snapshots, rows.Err()
}
