// Reelab - Movie Recommendation Serving and Online A/B Evaluation
// Copyright 2026 Reelab Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelab/reelab

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/reelab/config.yaml",
	"/etc/reelab/config.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all built-in defaults. These are
// applied first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8082,
			Timeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path:      "/data/reelab.duckdb",
			MaxMemory: "2GB",
			Threads:   0, // 0 = use runtime.NumCPU()
		},
		NATS: NATSConfig{
			Enabled:        false,
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: true,
			StoreDir:       "/data/nats/jetstream",
			MaxMemory:      1 << 30,  // 1GB
			MaxStore:       10 << 30, // 10GB
			StreamName:     "MOVIELOG",
			Subject:        "movielog.raw",
			DurableName:    "event-ingest",
			QueueGroup:     "ingesters",
			Subscribers:    4,
			MaxReconnects:  10,
			ReconnectWait:  2 * time.Second,
			AckWait:        30 * time.Second,
			MaxDeliver:     5,
			MaxAckPending:  1000,
			CloseTimeout:   30 * time.Second,
		},
		Ingest: IngestConfig{
			Enabled: false,
		},
		Recommend: RecommendConfig{
			Variant:         "usercf",
			TopN:            20,
			Neighbors:       50,
			TrainOnStartup:  true,
			TrainInterval:   24 * time.Hour,
			TrainTimeout:    30 * time.Minute,
			MinRatings:      100,
			RatingLimit:     100000,
			HoldoutFraction: 0.1,
		},
		Eval: EvalConfig{
			BatchLimit: 3000,
		},
		Telemetry: TelemetryConfig{
			Enabled:    true,
			Interval:   time.Hour,
			BatchLimit: 1000,
		},
		Gateway: GatewayConfig{
			Enabled:            false,
			Backends:           nil,
			Timeout:            50 * time.Second,
			BreakerMaxFailures: 5,
			BreakerOpenFor:     30 * time.Second,
		},
		API: APIConfig{
			DefaultPageSize: 20,
			MaxPageSize:     100,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration with layered sources:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. Environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	}

	// Env var names map to koanf paths via an explicit table so random
	// environment variables cannot pollute the config.
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the first path found, or empty string if none exists.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables are skipped.
//
// Examples:
//   - HTTP_PORT -> server.port
//   - DUCKDB_PATH -> database.path
//   - RECOMMEND_VARIANT -> recommend.variant
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Server mappings
		"http_host":    "server.host",
		"http_port":    "server.port",
		"http_timeout": "server.timeout",

		// Database mappings
		"duckdb_path":       "database.path",
		"duckdb_max_memory": "database.max_memory",
		"duckdb_threads":    "database.threads",

		// NATS mappings
		"nats_enabled":         "nats.enabled",
		"nats_url":             "nats.url",
		"nats_embedded":        "nats.embedded_server",
		"nats_store_dir":       "nats.store_dir",
		"nats_max_memory":      "nats.max_memory",
		"nats_max_store":       "nats.max_store",
		"nats_stream_name":     "nats.stream_name",
		"nats_subject":         "nats.subject",
		"nats_durable_name":    "nats.durable_name",
		"nats_queue_group":     "nats.queue_group",
		"nats_subscribers":     "nats.subscribers_count",
		"nats_max_reconnects":  "nats.max_reconnects",
		"nats_reconnect_wait":  "nats.reconnect_wait",
		"nats_ack_wait":        "nats.ack_wait",
		"nats_max_deliver":     "nats.max_deliver",
		"nats_max_ack_pending": "nats.max_ack_pending",
		"nats_close_timeout":   "nats.close_timeout",

		// Ingest mappings
		"ingest_enabled": "ingest.enabled",

		// Recommendation mappings
		"recommend_variant":          "recommend.variant",
		"recommend_top_n":            "recommend.top_n",
		"recommend_neighbors":        "recommend.neighbors",
		"recommend_train_on_startup": "recommend.train_on_startup",
		"recommend_train_interval":   "recommend.train_interval",
		"recommend_train_timeout":    "recommend.train_timeout",
		"recommend_min_ratings":      "recommend.min_ratings",
		"recommend_rating_limit":     "recommend.rating_limit",
		"recommend_holdout_fraction": "recommend.holdout_fraction",

		// Evaluation mappings
		"eval_batch_limit": "eval.batch_limit",

		// Telemetry mappings
		"telemetry_enabled":     "telemetry.enabled",
		"telemetry_interval":    "telemetry.interval",
		"telemetry_batch_limit": "telemetry.batch_limit",

		// Gateway mappings
		"gateway_enabled":              "gateway.enabled",
		"gateway_backends":             "gateway.backends",
		"gateway_timeout":              "gateway.timeout",
		"gateway_breaker_max_failures": "gateway.breaker_max_failures",
		"gateway_breaker_open_for":     "gateway.breaker_open_for",

		// API mappings
		"api_default_page_size": "api.default_page_size",
		"api_max_page_size":     "api.max_page_size",
		"rate_limit_requests":   "api.rate_limit_reqs",
		"rate_limit_window":     "api.rate_limit_window",
		"disable_rate_limit":    "api.rate_limit_disabled",
		"cors_origins":          "api.cors_origins",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}

// sliceConfigPaths lists config paths parsed as comma-separated slices
// when they arrive as plain strings from the environment.
var sliceConfigPaths = []string{
	"api.cors_origins",
	"gateway.backends",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields. Env vars come in as strings; YAML lists pass through.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}

		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("set %s: %w", path, err)
			}
		}
	}
	return nil
}
