// Reelab - Movie Recommendation Serving and Online A/B Evaluation
// Copyright 2026 Reelab Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelab/reelab

// Package main is the entry point for the Reelab server.
//
// Reelab serves movie recommendations from interchangeable collaborative
// filtering variants and evaluates them against each other online. One
// binary covers every role: variant model server, round-robin gateway,
// stream ingester, and evaluation/telemetry host, selected by config.
//
// # Startup order
//
//  1. Configuration: Koanf v2 layered load (env > config.yaml > defaults)
//  2. Logging: zerolog, structured, level from config
//  3. Store: DuckDB collections for events, provenance, reports
//  4. Recommender: algorithm variant, model handle, trainer
//  5. Evaluation: on-demand comparator and the telemetry scheduler
//  6. Ingest (optional): embedded NATS JetStream plus the consumer
//  7. Gateway (optional): round-robin front door over variant backends
//  8. HTTP server: chi router under suture supervision
//
// # Signal handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the supervisor tree
// cancels every service, the HTTP server drains in-flight requests, and
// unstopped services are reported before exit.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/reelab/reelab/internal/api"
	"github.com/reelab/reelab/internal/config"
	"github.com/reelab/reelab/internal/eval"
	"github.com/reelab/reelab/internal/gateway"
	"github.com/reelab/reelab/internal/ingest"
	"github.com/reelab/reelab/internal/logging"
	"github.com/reelab/reelab/internal/recommender"
	"github.com/reelab/reelab/internal/store"
	"github.com/reelab/reelab/internal/supervisor"
	"github.com/reelab/reelab/internal/supervisor/services"
	"github.com/reelab/reelab/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("server exited with error")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logger := logging.Logger()

	logger.Info().
		Str("variant", cfg.Recommend.Variant).
		Bool("ingest", cfg.Ingest.Enabled).
		Msg("starting reelab")

	db, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn().Err(err).Msg("store close failed")
		}
	}()

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	// Recommender: model handle, trainer, serving facade.
	var algorithm recommender.Algorithm
	switch cfg.Recommend.Variant {
	case "itemcf":
		algorithm = &recommender.ItemCF{
			Neighbors:       cfg.Recommend.Neighbors,
			HoldoutFraction: cfg.Recommend.HoldoutFraction,
		}
	default:
		algorithm = &recommender.UserCF{
			Neighbors:       cfg.Recommend.Neighbors,
			HoldoutFraction: cfg.Recommend.HoldoutFraction,
		}
	}

	handle := recommender.NewHandle()
	trainer := recommender.NewTrainer(algorithm, db, handle, recommender.TrainerConfig{
		TrainOnStartup: cfg.Recommend.TrainOnStartup,
		TrainInterval:  cfg.Recommend.TrainInterval,
		TrainTimeout:   cfg.Recommend.TrainTimeout,
		MinRatings:     cfg.Recommend.MinRatings,
		RatingLimit:    cfg.Recommend.RatingLimit,
	}, logging.WithComponent("trainer"))
	tree.AddDataService(trainer)

	recLogger := logging.WithComponent("recommender")
	recorder := recommender.NewRecorder(db, cfg.Recommend.TopN, recLogger)
	recService := recommender.NewService(handle, recorder, cfg.Recommend.TopN, recLogger)

	// Evaluation and telemetry.
	evaluator := eval.NewEvaluator(db, cfg.Eval.BatchLimit, logging.WithComponent("eval"))
	if cfg.Telemetry.Enabled {
		scheduler := telemetry.NewScheduler(db, telemetry.Config{
			Interval:   cfg.Telemetry.Interval,
			BatchLimit: cfg.Telemetry.BatchLimit,
		}, logging.WithComponent("telemetry"))
		tree.AddDataService(scheduler)
	}

	// Ingest pipeline.
	if cfg.Ingest.Enabled {
		natsURL := cfg.NATS.URL
		if cfg.NATS.EmbeddedServer {
			embedded, err := ingest.NewEmbeddedServer(&ingest.ServerConfig{
				Host:              cfg.Server.Host,
				Port:              -1, // random available port
				StoreDir:          cfg.NATS.StoreDir,
				JetStreamMaxMem:   cfg.NATS.MaxMemory,
				JetStreamMaxStore: cfg.NATS.MaxStore,
			})
			if err != nil {
				return fmt.Errorf("start embedded NATS: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := embedded.Shutdown(shutdownCtx); err != nil {
					logger.Warn().Err(err).Msg("embedded NATS shutdown failed")
				}
			}()
			natsURL = embedded.ClientURL()
		}

		// Provision the stream before the consumer binds to it.
		nc, err := nats.Connect(natsURL,
			nats.MaxReconnects(cfg.NATS.MaxReconnects),
			nats.ReconnectWait(cfg.NATS.ReconnectWait),
		)
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		defer nc.Close()

		js, err := jetstream.New(nc)
		if err != nil {
			return fmt.Errorf("create JetStream context: %w", err)
		}
		streamInit, err := ingest.NewStreamInitializer(js, &ingest.StreamConfig{
			Name:            cfg.NATS.StreamName,
			Subjects:        []string{cfg.NATS.Subject},
			MaxAge:          7 * 24 * time.Hour,
			DuplicateWindow: 2 * time.Minute,
			Replicas:        1,
		})
		if err != nil {
			return fmt.Errorf("create stream initializer: %w", err)
		}
		streamCtx, cancelStream := context.WithTimeout(context.Background(), 30*time.Second)
		_, err = streamInit.EnsureStream(streamCtx)
		cancelStream()
		if err != nil {
			return fmt.Errorf("ensure event stream: %w", err)
		}

		consumer, err := ingest.NewConsumer(ingest.ConsumerConfig{
			URL:           natsURL,
			Topic:         cfg.NATS.Subject,
			StreamName:    cfg.NATS.StreamName,
			QueueGroup:    cfg.NATS.QueueGroup,
			DurableName:   cfg.NATS.DurableName,
			Subscribers:   cfg.NATS.Subscribers,
			AckWait:       cfg.NATS.AckWait,
			CloseTimeout:  cfg.NATS.CloseTimeout,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
			MaxDeliver:    cfg.NATS.MaxDeliver,
			MaxAckPending: cfg.NATS.MaxAckPending,
			HostVariants:  cfg.Ingest.HostVariants,
		}, db, logging.WithComponent("ingest"))
		if err != nil {
			return fmt.Errorf("create ingest consumer: %w", err)
		}
		defer func() {
			if err := consumer.Close(); err != nil {
				logger.Warn().Err(err).Msg("consumer close failed")
			}
		}()
		tree.AddMessagingService(consumer)
	}

	// HTTP surface.
	handler := api.NewHandler(recService, evaluator, db, api.HandlerConfig{
		DefaultPageSize: cfg.API.DefaultPageSize,
		MaxPageSize:     cfg.API.MaxPageSize,
	}, logging.WithComponent("api"))
	router := api.NewRouter(handler, api.RouterConfig{
		CORSOrigins:       cfg.API.CORSOrigins,
		RateLimitReqs:     cfg.API.RateLimitReqs,
		RateLimitWindow:   cfg.API.RateLimitWindow,
		RateLimitDisabled: cfg.API.RateLimitDisabled,
	})

	if cfg.Gateway.Enabled {
		gw, err := gateway.New(gateway.Config{
			Backends:           cfg.Gateway.Backends,
			Timeout:            cfg.Gateway.Timeout,
			BreakerMaxFailures: cfg.Gateway.BreakerMaxFailures,
			BreakerOpenFor:     cfg.Gateway.BreakerOpenFor,
		}, logging.WithComponent("gateway"))
		if err != nil {
			return fmt.Errorf("create gateway: %w", err)
		}
		router.GatewayHandler = gw.Handler()
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.Setup(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       120 * time.Second,
	}
	tree.AddAPIService(services.NewHTTPServerService(httpServer, 10*time.Second))

	// Serve until signal.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("addr", httpServer.Addr).
		Bool("gateway", cfg.Gateway.Enabled).
		Msg("supervisor tree starting")

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor tree: %w", err)
	}

	if unstopped, reportErr := tree.UnstoppedServiceReport(); reportErr == nil && len(unstopped) > 0 {
		for _, svc := range unstopped {
			logger.Warn().Str("service", svc.Name).Msg("service did not stop before timeout")
		}
	}

	logger.Info().Msg("shutdown complete")
	return nil
}
