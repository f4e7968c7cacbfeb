// Reelab - Movie Recommendation Serving and Online A/B Evaluation
// Copyright 2026 Reelab Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelab/reelab

// Package metrics provides Prometheus instrumentation for Reelab:
// ingest throughput, recommendation request outcomes, model accuracy,
// evaluation runs, and API latency.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingest metrics
	IngestEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelab_ingest_events_total",
			Help: "Total log lines consumed from the event stream",
		},
		[]string{"type", "outcome"}, // type: watch|rate|recommendation, outcome: ok|malformed|dropped
	)

	// RequestCount mirrors the upstream recommendation service counter:
	// every recommendation log line increments it by HTTP status.
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "request_count",
			Help: "Recommendation requests observed in the event stream by HTTP status",
		},
		[]string{"http_status"},
	)

	// RequestLatency observes the serving latency reported in
	// recommendation log lines.
	RequestLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "request_latency_seconds",
			Help:    "Recommendation request latency reported by the event stream",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Model metrics
	ModelAccuracy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "model_accuracy",
			Help: "Holdout accuracy estimate of the most recently trained model",
		},
		[]string{"variant"},
	)

	ModelTrainDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reelab_model_train_duration_seconds",
			Help:    "Duration of model training runs",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"variant"},
	)

	RecommendationsServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelab_recommendations_served_total",
			Help: "Recommendation responses served locally by outcome",
		},
		[]string{"variant", "outcome"}, // outcome: ok|cold_start|error
	)

	// Evaluation metrics
	EvaluationRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelab_evaluation_runs_total",
			Help: "Offline comparison runs by outcome",
		},
		[]string{"outcome"}, // ok|error
	)

	TelemetryRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelab_telemetry_runs_total",
			Help: "Online telemetry snapshot runs by outcome",
		},
		[]string{"outcome"},
	)

	// Gateway metrics
	GatewayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelab_gateway_requests_total",
			Help: "Gateway forwards by backend and status code",
		},
		[]string{"backend", "status_code"},
	)

	// API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelab_api_requests_total",
			Help: "Total API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reelab_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// Database metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reelab_db_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelab_db_query_errors_total",
			Help: "Total DuckDB query errors",
		},
		[]string{"operation", "table"},
	)
)

// RecordIngest increments the ingest counter for an event type and outcome.
func RecordIngest(eventType, outcome string) {
	IngestEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

// RecordStreamRequest records one recommendation log line's status and
// reported latency.
func RecordStreamRequest(statusCode int, latency time.Duration) {
	RequestCount.WithLabelValues(strconv.Itoa(statusCode)).Inc()
	if latency > 0 {
		RequestLatency.Observe(latency.Seconds())
	}
}

// RecordAPIRequest records one handled API request.
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// ObserveDBQuery records the duration of one database operation.
func ObserveDBQuery(operation, table string, start time.Time, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}
