// Package ratelimit implements the sliding-window admission check
// against a shared Redis store, using a per-key sorted set as the
// event log.
package ratelimit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/punchamoorthee/ledgerops/internal/metrics"
)

const keyPrefix = "ratelimit:"

// Limiter is a sliding-window admission check backed by a Redis sorted
// set per key. All steps run inside one atomic pipeline; a naive
// check-then-insert would race under concurrent callers.
type Limiter struct {
	rdb *redis.Client
	log zerolog.Logger
}

// New wraps a connected Redis client.
func New(rdb *redis.Client, log zerolog.Logger) *Limiter {
	return &Limiter{rdb: rdb, log: log.With().Str("component", "rate_limiter").Logger()}
}

// Allow reports whether the caller identified by key may proceed, given
// limit events per window. On Redis unavailability it fails open: rate
// limiting is an admission optimisation, not a correctness boundary.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) bool {
	fullKey := keyPrefix + key
	now := time.Now()
	windowStart := now.Add(-window)
	member, err := nonce(now)
	if err != nil {
		l.log.Warn().Err(err).Msg("rate_limit_nonce_failed_open")
		return true
	}

	pipe := l.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, fullKey, "0", fmt.Sprintf("%d", windowStart.UnixMilli()))
	card := pipe.ZCard(ctx, fullKey)
	pipe.ZAdd(ctx, fullKey, redis.Z{Score: float64(now.UnixMilli()), Member: member})
	pipe.Expire(ctx, fullKey, window)

	if _, err := pipe.Exec(ctx); err != nil {
		l.log.Warn().Err(err).Str("key", key).Msg("rate_limit_store_unavailable_failed_open")
		return true
	}

	count := card.Val()
	allowed := count < int64(limit)
	if !allowed {
		metrics.RateLimitRejections.WithLabelValues(category(key)).Inc()
		l.log.Warn().Str("key", key).Int64("current_count", count).Int("limit", limit).Msg("rate_limit_exceeded")
	}
	return allowed
}

// nonce is the unique member appended to the sorted set alongside the
// score, so two events landing on the same millisecond never collide.
func nonce(now time.Time) (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d:%s", now.UnixNano(), hex.EncodeToString(buf)), nil
}

// category buckets a key for the rejection-counter label without
// leaking raw client identifiers into metric cardinality.
func category(key string) string {
	switch {
	case len(key) == 0:
		return "unknown"
	case strings.HasPrefix(key, "method:"):
		return "method"
	default:
		return "client"
	}
}
