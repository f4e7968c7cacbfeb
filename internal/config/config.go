// Reelab - Movie Recommendation Serving and Online A/B Evaluation
// Copyright 2026 Reelab Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelab/reelab

// Package config provides layered configuration loading for Reelab.
//
// Configuration is resolved in precedence order: environment variables over
// an optional YAML config file over built-in defaults. The resulting Config
// is validated once at startup and treated as immutable afterwards; every
// component receives the values it needs explicitly instead of reading
// process-global state.
package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config is the root configuration for all Reelab components.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	NATS      NATSConfig      `koanf:"nats"`
	Ingest    IngestConfig    `koanf:"ingest"`
	Recommend RecommendConfig `koanf:"recommend"`
	Eval      EvalConfig      `koanf:"eval"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Gateway   GatewayConfig   `koanf:"gateway"`
	API       APIConfig       `koanf:"api"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	// Path is the database file path. ":memory:" opens an in-memory database.
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	// Threads is the DuckDB thread count. 0 uses runtime.NumCPU().
	Threads int `koanf:"threads"`
}

// NATSConfig holds broker connection and embedded-server settings.
type NATSConfig struct {
	Enabled        bool   `koanf:"enabled"`
	URL            string `koanf:"url"`
	EmbeddedServer bool   `koanf:"embedded_server"`
	StoreDir       string `koanf:"store_dir"`
	MaxMemory      int64  `koanf:"max_memory"`
	MaxStore       int64  `koanf:"max_store"`

	StreamName    string        `koanf:"stream_name"`
	Subject       string        `koanf:"subject"`
	DurableName   string        `koanf:"durable_name"`
	QueueGroup    string        `koanf:"queue_group"`
	Subscribers   int           `koanf:"subscribers_count"`
	MaxReconnects int           `koanf:"max_reconnects"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`
	AckWait       time.Duration `koanf:"ack_wait"`
	MaxDeliver    int           `koanf:"max_deliver"`
	MaxAckPending int           `koanf:"max_ack_pending"`
	CloseTimeout  time.Duration `koanf:"close_timeout"`
}

// IngestConfig holds event pipeline settings.
type IngestConfig struct {
	Enabled bool `koanf:"enabled"`
	// HostVariants maps serving hostnames seen in recommendation log
	// lines to variant labels. Unmapped hosts keep the hostname as the
	// variant.
	HostVariants map[string]string `koanf:"host_variants"`
}

// RecommendConfig holds model serving and training settings.
type RecommendConfig struct {
	// Variant selects the serving algorithm for this instance:
	// "usercf" or "itemcf".
	Variant        string        `koanf:"variant"`
	TopN           int           `koanf:"top_n"`
	Neighbors      int           `koanf:"neighbors"`
	TrainOnStartup bool          `koanf:"train_on_startup"`
	TrainInterval  time.Duration `koanf:"train_interval"`
	TrainTimeout   time.Duration `koanf:"train_timeout"`
	// MinRatings is the minimum number of rating events required
	// before a training run is attempted.
	MinRatings int `koanf:"min_ratings"`
	// RatingLimit bounds how many recent ratings a training run loads.
	RatingLimit int `koanf:"rating_limit"`
	// HoldoutFraction is the share of ratings reserved for the
	// accuracy estimate, in (0, 0.5].
	HoldoutFraction float64 `koanf:"holdout_fraction"`
}

// EvalConfig holds offline comparison settings.
type EvalConfig struct {
	// BatchLimit bounds how many recent provenance records and watch
	// events a comparison run loads.
	BatchLimit int `koanf:"batch_limit"`
}

// TelemetryConfig holds online snapshot scheduler settings.
type TelemetryConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval"`
	// BatchLimit bounds how many recent records a snapshot run loads.
	BatchLimit int `koanf:"batch_limit"`
}

// GatewayConfig holds round-robin front-door settings.
type GatewayConfig struct {
	Enabled bool `koanf:"enabled"`
	// Backends are the variant server base URLs rotated over per request.
	Backends []string      `koanf:"backends"`
	Timeout  time.Duration `koanf:"timeout"`
	// BreakerMaxFailures trips the per-backend circuit breaker.
	BreakerMaxFailures uint32        `koanf:"breaker_max_failures"`
	BreakerOpenFor     time.Duration `koanf:"breaker_open_for"`
}

// APIConfig holds HTTP API behavior settings.
type APIConfig struct {
	DefaultPageSize   int           `koanf:"default_page_size"`
	MaxPageSize       int           `koanf:"max_page_size"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for invalid or inconsistent values.
// It is called once by Load; components may assume a validated Config.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive, got %s", c.Server.Timeout)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}

	switch c.Recommend.Variant {
	case "usercf", "itemcf":
	default:
		return fmt.Errorf("recommend.variant must be usercf or itemcf, got %q", c.Recommend.Variant)
	}
	if c.Recommend.TopN < 1 {
		return fmt.Errorf("recommend.top_n must be positive, got %d", c.Recommend.TopN)
	}
	if c.Recommend.Neighbors < 1 {
		return fmt.Errorf("recommend.neighbors must be positive, got %d", c.Recommend.Neighbors)
	}
	if c.Recommend.HoldoutFraction <= 0 || c.Recommend.HoldoutFraction > 0.5 {
		return fmt.Errorf("recommend.holdout_fraction must be in (0, 0.5], got %g", c.Recommend.HoldoutFraction)
	}
	if c.Recommend.RatingLimit < 1 {
		return fmt.Errorf("recommend.rating_limit must be positive, got %d", c.Recommend.RatingLimit)
	}

	if c.Eval.BatchLimit < 1 {
		return fmt.Errorf("eval.batch_limit must be positive, got %d", c.Eval.BatchLimit)
	}
	if c.Telemetry.Interval <= 0 {
		return fmt.Errorf("telemetry.interval must be positive, got %s", c.Telemetry.Interval)
	}
	if c.Telemetry.BatchLimit < 1 {
		return fmt.Errorf("telemetry.batch_limit must be positive, got %d", c.Telemetry.BatchLimit)
	}

	if c.Gateway.Enabled {
		if len(c.Gateway.Backends) == 0 {
			return fmt.Errorf("gateway.backends must not be empty when gateway is enabled")
		}
		for _, b := range c.Gateway.Backends {
			u, err := url.Parse(b)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return fmt.Errorf("gateway.backends entry %q is not an absolute URL", b)
			}
		}
		if c.Gateway.Timeout <= 0 {
			return fmt.Errorf("gateway.timeout must be positive, got %s", c.Gateway.Timeout)
		}
	}

	if c.Ingest.Enabled && !c.NATS.Enabled {
		return fmt.Errorf("ingest.enabled requires nats.enabled")
	}
	if c.NATS.Enabled {
		if c.NATS.URL == "" && !c.NATS.EmbeddedServer {
			return fmt.Errorf("nats.url must be set when the embedded server is disabled")
		}
		if c.NATS.StreamName == "" {
			return fmt.Errorf("nats.stream_name must not be empty")
		}
		if c.NATS.Subject == "" {
			return fmt.Errorf("nats.subject must not be empty")
		}
	}

	return nil
}
