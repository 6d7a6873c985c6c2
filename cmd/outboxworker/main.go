// Command outboxworker runs the outbox delivery loop standalone, so
// operators can scale publish throughput independently of the request
// path. SKIP LOCKED claiming (internal/store.ClaimUnpublished) makes it
// safe to run any number of these alongside the in-process worker
// cmd/api also starts.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/punchamoorthee/ledgerops/internal/config"
	"github.com/punchamoorthee/ledgerops/internal/outbox"
	"github.com/punchamoorthee/ledgerops/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "outboxworker").Logger()
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.New(ctx, cfg.StorageURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect_storage_failed")
	}
	defer db.Close()

	broker := outbox.NewKafkaBroker(cfg.BrokerAddrs)
	defer broker.Close()

	worker := outbox.New(db, broker, outbox.Config{
		TopicPrefix:            cfg.TopicPrefix,
		BatchSize:              cfg.OutboxBatchSize,
		PollInterval:           cfg.OutboxPollInterval,
		MaxRetries:             cfg.OutboxMaxRetries,
		BaseDelay:              cfg.OutboxBaseDelay,
		MaxDelay:               cfg.OutboxMaxDelay,
		MaxConsecutiveFailures: cfg.OutboxMaxConsecutiveFailures,
	}, log)

	if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("outbox_worker_exited")
	}
}
