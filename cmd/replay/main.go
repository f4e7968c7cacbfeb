// Reelab - Movie Recommendation Serving and Online A/B Evaluation
// Copyright 2026 Reelab Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelab/reelab

// Command replay publishes movielog lines from a file (or stdin) to the
// event stream, one message per line. It is the producer counterpart of the
// server's ingest consumer, used to backfill historical logs or drive load
// tests. The stream itself is provisioned by the server; replay assumes it
// exists.
//
//	replay -url nats://localhost:4222 -topic movielog.raw -file movielog.txt
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/reelab/reelab/internal/ingest"
	"github.com/reelab/reelab/internal/logging"
)

func main() {
	var (
		url   = flag.String("url", "nats://localhost:4222", "NATS server URL")
		topic = flag.String("topic", "movielog.raw", "subject to publish to")
		file  = flag.String("file", "", "log file to replay; stdin when empty")
		rate  = flag.Int("rate", 0, "max lines per second; 0 is unthrottled")
		level = flag.String("level", "info", "log level")
	)
	flag.Parse()

	logging.Init(logging.Config{Level: *level, Format: "console"})

	if err := run(*url, *topic, *file, *rate); err != nil {
		logging.Fatal().Err(err).Msg("replay failed")
	}
}

func run(url, topic, file string, rate int) error {
	input := os.Stdin
	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		input = f
	}

	publisher, err := ingest.NewPublisher(ingest.PublisherConfig{
		URL:           url,
		MaxReconnects: 10,
		ReconnectWait: 2 * time.Second,
		TrackMsgID:    true,
	}, logging.WithComponent("replay"))
	if err != nil {
		return fmt.Errorf("create publisher: %w", err)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logging.Warn().Err(err).Msg("publisher close failed")
		}
	}()

	var throttle <-chan time.Time
	if rate > 0 {
		ticker := time.NewTicker(time.Second / time.Duration(rate))
		defer ticker.Stop()
		throttle = ticker.C
	}

	ctx := context.Background()
	published, skipped := 0, 0
	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			skipped++
			continue
		}
		if throttle != nil {
			<-throttle
		}
		if err := publisher.PublishLine(ctx, topic, line); err != nil {
			return fmt.Errorf("publish line %d: %w", published+skipped+1, err)
		}
		published++
		if published%10000 == 0 {
			logging.Info().Int("published", published).Msg("replay progress")
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	logging.Info().
		Int("published", published).
		Int("skipped", skipped).
		Msg("replay complete")
	return nil
}
