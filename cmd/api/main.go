// Command api runs the payment authorization service: an HTTP/JSON
// surface backed by Postgres, an optional Redis-backed rate limiter, and
// a Kafka-compatible outbox worker running in-process. A standalone
// worker binary (cmd/outboxworker) exists for operators who want to
// scale delivery independently of request handling; running it here too
// is safe
// because SKIP LOCKED claiming coordinates the two.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/punchamoorthee/ledgerops/internal/api"
	"github.com/punchamoorthee/ledgerops/internal/config"
	"github.com/punchamoorthee/ledgerops/internal/engine"
	"github.com/punchamoorthee/ledgerops/internal/ids"
	"github.com/punchamoorthee/ledgerops/internal/outbox"
	"github.com/punchamoorthee/ledgerops/internal/ratelimit"
	"github.com/punchamoorthee/ledgerops/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.New(ctx, cfg.StorageURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect_storage_failed")
	}
	defer db.Close()

	idGen := ids.NewGenerator()
	eng := engine.New(db, idGen, cfg.IdempotencyTTL, log)

	var limiter api.RateLimiter
	if cfg.KVURL != "" {
		opts, err := redis.ParseURL(cfg.KVURL)
		if err != nil {
			log.Fatal().Err(err).Msg("parse_kv_url_failed")
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("kv_store_unreachable_rate_limiting_fails_open")
		}
		limiter = ratelimit.New(rdb, log)
	}

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

	go func() {
		if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("outbox_worker_exited")
		}
	}()

	go runIdempotencySweep(ctx, db, log)

	srv := api.New(eng, db, limiter, cfg, log)
	if err := srv.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("server_exited")
	}
}

// runIdempotencySweep periodically deletes expired idempotency_keys
// rows, mirroring the outbox worker's own poll-loop shape at a much
// coarser interval.
func runIdempotencySweep(ctx context.Context, db *store.Store, log zerolog.Logger) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := db.DeleteExpiredIdempotencyKeys(ctx)
			if err != nil {
				log.Error().Err(err).Msg("idempotency_sweep_failed")
				continue
			}
			if n > 0 {
				log.Info().Int64("deleted", n).Msg("idempotency_sweep_completed")
			}
		}
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFormat == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
