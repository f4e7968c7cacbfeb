// Reelab - Movie Recommendation Serving and Online A/B Evaluation
// Copyright 2026 Reelab Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelab/reelab

package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/reelab/reelab/internal/metrics"
	"github.com/reelab/reelab/internal/models"
)

// Store is the persistence surface the consumer writes to.
type Store interface {
	InsertWatchEvent(ctx context.Context, e *models.WatchEvent) error
	InsertRatingEvent(ctx context.Context, e *models.RatingEvent) error
	InsertProvenance(ctx context.Context, p *models.ProvenanceRecord) error
}

// ConsumerConfig holds the JetStream subscription settings.
type ConsumerConfig struct {
	URL         string
	Topic       string
	StreamName  string
	QueueGroup  string
	DurableName string
	Subscribers int

	AckWait       time.Duration
	CloseTimeout  time.Duration
	MaxReconnects int
	ReconnectWait time.Duration
	MaxDeliver    int
	MaxAckPending int

	// HostVariants maps recommendation-line hostnames to variant labels.
	HostVariants map[string]string
}

// Consumer is a durable queue-group subscriber that parses raw log lines
// and persists the typed events. Malformed lines are acked and counted;
// store failures are nacked for redelivery.
type Consumer struct {
	subscriber message.Subscriber
	store      Store
	config     ConsumerConfig
	logger     zerolog.Logger
}

// NewConsumer creates a durable JetStream consumer bound to the
// configured stream. The queue group balances load across instances.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewConsumer(cfg ConsumerConfig, store Store, logger zerolog.Logger) (*Consumer, error) {
	wmLogger := newWatermillLogger(logger)

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				wmLogger.Error("consumer disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			wmLogger.Info("consumer reconnected", watermill.LogFields{
				"url": nc.ConnectedUrl(),
			})
		}),
	}

	subOpts := []natsgo.SubOpt{
		natsgo.MaxDeliver(cfg.MaxDeliver),
		natsgo.MaxAckPending(cfg.MaxAckPending),
		natsgo.AckWait(cfg.AckWait),
		// New messages only. Replay is a stream-level concern.
		natsgo.DeliverNew(),
	}

	// Bind to the pre-created stream so the subject can stay a wildcard.
	autoProvision := true
	if cfg.StreamName != "" {
		subOpts = append(subOpts, natsgo.BindStream(cfg.StreamName))
		autoProvision = false
	}

	wmConfig := wmNats.SubscriberConfig{
		URL:              cfg.URL,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: cfg.Subscribers,
		AckWaitTimeout:   cfg.AckWait,
		CloseTimeout:     cfg.CloseTimeout,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:         false,
			AutoProvision:    autoProvision,
			AckAsync:         false,
			SubscribeOptions: subOpts,
			DurablePrefix:    cfg.DurableName,
		},
	}

	sub, err := wmNats.NewSubscriber(wmConfig, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("create watermill subscriber: %w", err)
	}

	return &Consumer{
		subscriber: sub,
		store:      store,
		config:     cfg,
		logger:     logger.With().Str("service", "ingest-consumer").Logger(),
	}, nil
}

// Serve implements the suture.Service interface. It consumes messages
// until context cancellation. A closed message channel means the broker
// connection is gone for good, which is fatal for the pipeline.
func (c *Consumer) Serve(ctx context.Context) error {
	messages, err := c.subscriber.Subscribe(ctx, c.config.Topic)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", c.config.Topic, err)
	}

	c.logger.Info().
		Str("topic", c.config.Topic).
		Str("stream", c.config.StreamName).
		Str("queue_group", c.config.QueueGroup).
		Msg("ingest consumer started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("message channel closed for topic %s", c.config.Topic)
			}
			if err := c.HandleLine(ctx, string(msg.Payload)); err != nil {
				msg.Nack()
				c.logger.Warn().Err(err).
					Str("message_uuid", msg.UUID).
					Msg("event persist failed, nacked for redelivery")
				continue
			}
			msg.Ack()
		}
	}
}

// HandleLine parses and persists one raw log line. A nil return means the
// message can be acked: either it was stored, or it is malformed or
// ineligible and will never succeed. A non-nil return is a store failure
// worth redelivering.
func (c *Consumer) HandleLine(ctx context.Context, line string) error {
	kind := Classify(line)
	switch kind {
	case KindWatch:
		event, err := ParseWatch(line)
		if err != nil {
			c.dropMalformed(kind, line, err)
			return nil
		}
		if err := c.store.InsertWatchEvent(ctx, event); err != nil {
			return fmt.Errorf("insert watch event: %w", err)
		}
		metrics.RecordIngest(kind.String(), "ok")
		return nil

	case KindRate:
		event, err := ParseRate(line)
		if err != nil {
			c.dropMalformed(kind, line, err)
			return nil
		}
		if err := c.store.InsertRatingEvent(ctx, event); err != nil {
			return fmt.Errorf("insert rating event: %w", err)
		}
		metrics.RecordIngest(kind.String(), "ok")
		return nil

	case KindRecommendation:
		rec, err := ParseRecommendation(line)
		if err != nil {
			c.dropMalformed(kind, line, err)
			return nil
		}
		metrics.RecordStreamRequest(rec.StatusCode, time.Duration(rec.LatencyMS)*time.Millisecond)
		if rec.StatusCode != 200 {
			metrics.RecordIngest(kind.String(), "dropped")
			c.logger.Debug().
				Int("status", rec.StatusCode).
				Str("user_id", rec.UserID).
				Msg("failed recommendation response, not persisted")
			return nil
		}
		record := &models.ProvenanceRecord{
			ID:              uuid.NewString(),
			Timestamp:       rec.Time,
			UserID:          rec.UserID,
			Variant:         c.variantFor(rec.Host),
			Recommendations: rec.Results,
			StatusCode:      rec.StatusCode,
			LatencyMS:       int64(rec.LatencyMS),
		}
		if err := c.store.InsertProvenance(ctx, record); err != nil {
			return fmt.Errorf("insert provenance: %w", err)
		}
		metrics.RecordIngest(kind.String(), "ok")
		return nil

	default:
		metrics.RecordIngest(kind.String(), "malformed")
		return nil
	}
}

// Close gracefully shuts down the subscriber.
func (c *Consumer) Close() error {
	return c.subscriber.Close()
}

// String returns the service name for logging.
func (c *Consumer) String() string {
	return "ingest-consumer"
}

func (c *Consumer) variantFor(host string) string {
	if variant, ok := c.config.HostVariants[host]; ok {
		return variant
	}
	return host
}

func (c *Consumer) dropMalformed(kind Kind, line string, err error) {
	metrics.RecordIngest(kind.String(), "malformed")
	c.logger.Debug().Err(err).
		Str("type", kind.String()).
		Str("line", truncate(line, 160)).
		Msg("malformed line dropped")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
