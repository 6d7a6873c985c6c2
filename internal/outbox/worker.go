package outbox

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/punchamoorthee/ledgerops/internal/domain"
	"github.com/punchamoorthee/ledgerops/internal/metrics"
	"github.com/punchamoorthee/ledgerops/internal/store"
)

// Config tunes the delivery worker's loop; every field is sourced from
// config.Config so operators can adjust it without a redeploy of code.
type Config struct {
	TopicPrefix            string
	BatchSize              int
	PollInterval           time.Duration
	MaxRetries             int
	BaseDelay              time.Duration
	MaxDelay               time.Duration
	MaxConsecutiveFailures int
}

// outboxStore is the subset of *store.Store the delivery loop needs.
// Depending on this interface rather than the concrete store lets cycle
// run against a fake claim in tests, without a database.
type outboxStore interface {
	ClaimUnpublished(ctx context.Context, limit int) (store.OutboxClaim, error)
	CountUnpublished(ctx context.Context) (int64, error)
}

// Worker drains store.Store's outbox table into a Broker. Multiple
// Workers (across processes) may run Run concurrently against the same
// table: SKIP LOCKED claiming makes that safe.
type Worker struct {
	db     outboxStore
	broker Broker
	cfg    Config
	log    zerolog.Logger
}

// New builds a delivery Worker.
func New(db *store.Store, broker Broker, cfg Config, log zerolog.Logger) *Worker {
	return &Worker{db: db, broker: broker, cfg: cfg, log: log.With().Str("component", "outbox_worker").Logger()}
}

// envelope is the on-the-wire event shape.
type envelope struct {
	EventID       string          `json:"event_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Timestamp     string          `json:"timestamp"`
}

// dlqEnvelope wraps an envelope with the fields the original's
// _send_to_dlq attaches on retry exhaustion.
type dlqEnvelope struct {
	envelope
	RetryCount int    `json:"retry_count"`
	FailedAt   string `json:"failed_at"`
	Error      string `json:"error"`
}

// Run polls until ctx is cancelled or the circuit breaker latches open
// after MaxConsecutiveFailures consecutive cycles that either returned an
// error or had a non-empty batch and zero successful publishes.
func (w *Worker) Run(ctx context.Context) error {
	consecutiveFailures := 0

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("outbox_worker_stopped")
			return ctx.Err()
		default:
		}

		full, claimed, published, err := w.cycle(ctx)
		if err != nil {
			w.log.Error().Err(err).Msg("outbox_cycle_error")
			consecutiveFailures++
		} else if claimed > 0 && published == 0 {
			consecutiveFailures++
		} else {
			consecutiveFailures = 0
		}

		if consecutiveFailures >= w.cfg.MaxConsecutiveFailures {
			w.log.Error().Int("consecutive_failures", consecutiveFailures).Msg("outbox_circuit_breaker_open")
			return errCircuitOpen
		}

		if full {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

// errCircuitOpen is returned by Run when the breaker latches; the
// process supervisor is expected to restart the worker.
var errCircuitOpen = &circuitOpenError{}

type circuitOpenError struct{}

func (*circuitOpenError) Error() string { return "outbox worker circuit breaker open" }

// cycle runs one claim/publish/mark round. It reports whether a full
// batch was claimed (caller should not sleep before the next cycle),
// how many records were claimed, and how many were successfully
// published or dead-lettered. claimed is 0 whenever there was nothing
// pending; that case must never count against the circuit breaker.
func (w *Worker) cycle(ctx context.Context) (full bool, claimed int, published int, err error) {
	claim, err := w.db.ClaimUnpublished(ctx, w.cfg.BatchSize)
	if err != nil {
		return false, 0, 0, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = claim.Rollback(ctx)
		}
	}()

	if pending, err := w.db.CountUnpublished(ctx); err != nil {
		w.log.Warn().Err(err).Msg("outbox_pending_depth_query_failed")
	} else {
		metrics.OutboxPendingDepth.Set(float64(pending))
	}

	records := claim.Records()
	if len(records) == 0 {
		return false, 0, 0, nil
	}
	claimed = len(records)

	var toPublish, toDeadLetter []domain.OutboxRecord
	for _, r := range records {
		if r.RetryCount >= w.cfg.MaxRetries {
			toDeadLetter = append(toDeadLetter, r)
		} else {
			toPublish = append(toPublish, r)
		}
	}

	var publishedIDs []string

	for _, r := range toPublish {
		env := envelope{
			EventID:       r.ID,
			AggregateType: r.AggregateType,
			AggregateID:   r.AggregateID,
			EventType:     r.EventType,
			Payload:       json.RawMessage(r.Payload),
			Timestamp:     r.CreatedAt.Format(time.RFC3339),
		}
		body, err := json.Marshal(env)
		if err != nil {
			w.log.Error().Str("event_id", r.ID).Err(err).Msg("outbox_marshal_failed")
			if err := claim.IncrementRetryCount(ctx, r.ID); err != nil {
				return false, claimed, published, err
			}
			metrics.OutboxFailuresTotal.WithLabelValues(r.EventType).Inc()
			continue
		}

		topic := TopicFor(w.cfg.TopicPrefix, r.EventType)
		if pubErr := w.broker.Publish(ctx, topic, []byte(r.AggregateID), body); pubErr != nil {
			delay := w.backoffDelay(r.RetryCount)
			w.log.Error().Str("event_id", r.ID).Int("retry_count", r.RetryCount).
				Dur("next_retry_delay", delay).Err(pubErr).Msg("outbox_publish_failed")
			if err := claim.IncrementRetryCount(ctx, r.ID); err != nil {
				return false, claimed, published, err
			}
			metrics.OutboxFailuresTotal.WithLabelValues(r.EventType).Inc()
			continue
		}

		publishedIDs = append(publishedIDs, r.ID)
		metrics.OutboxPublishesTotal.WithLabelValues(r.EventType).Inc()
		published++
	}

	for _, r := range toDeadLetter {
		dlq := dlqEnvelope{
			envelope: envelope{
				EventID:       r.ID,
				AggregateType: r.AggregateType,
				AggregateID:   r.AggregateID,
				EventType:     r.EventType,
				Payload:       json.RawMessage(r.Payload),
				Timestamp:     r.CreatedAt.Format(time.RFC3339),
			},
			RetryCount: r.RetryCount,
			FailedAt:   time.Now().UTC().Format(time.RFC3339),
			Error:      "max_retries_exceeded",
		}
		body, err := json.Marshal(dlq)
		if err != nil {
			w.log.Error().Str("event_id", r.ID).Err(err).Msg("outbox_dlq_marshal_failed")
			continue
		}

		topic := DLQTopic(w.cfg.TopicPrefix)
		if pubErr := w.broker.Publish(ctx, topic, []byte(r.AggregateID), body); pubErr != nil {
			w.log.Error().Str("event_id", r.ID).Err(pubErr).Msg("outbox_dlq_publish_failed")
			continue
		}

		publishedIDs = append(publishedIDs, r.ID)
		metrics.OutboxDLQTotal.WithLabelValues(r.EventType).Inc()
		published++
	}

	if err := claim.MarkPublished(ctx, publishedIDs); err != nil {
		return false, claimed, published, err
	}
	if err := claim.Commit(ctx); err != nil {
		return false, claimed, published, err
	}
	committed = true

	full = len(records) == w.cfg.BatchSize
	return full, claimed, published, nil
}

// backoffDelay computes the advisory retry delay for a record that has
// already failed retryCount times: min(base*2^retryCount, max) plus up
// to 10% jitter. This is logged, not enforced: the poll loop's own
// cadence bounds actual retry pacing.
func (w *Worker) backoffDelay(retryCount int) time.Duration {
	delay := w.cfg.BaseDelay
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= w.cfg.MaxDelay {
			delay = w.cfg.MaxDelay
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/10 + 1))
	return delay + jitter
}
