package outbox

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/ledgerops/internal/domain"
	"github.com/punchamoorthee/ledgerops/internal/store"
)

// fakeClaim is an in-memory stand-in for store's pgx-backed OutboxClaim.
type fakeClaim struct {
	records    []domain.OutboxRecord
	marked     []string
	retried    []string
	committed  bool
	rolledBack bool
}

func (c *fakeClaim) Records() []domain.OutboxRecord { return c.records }

func (c *fakeClaim) MarkPublished(ctx context.Context, ids []string) error {
	c.marked = append(c.marked, ids...)
	return nil
}

func (c *fakeClaim) IncrementRetryCount(ctx context.Context, id string) error {
	c.retried = append(c.retried, id)
	return nil
}

func (c *fakeClaim) Commit(ctx context.Context) error {
	c.committed = true
	return nil
}

func (c *fakeClaim) Rollback(ctx context.Context) error {
	c.rolledBack = true
	return nil
}

// fakeOutboxStore hands out claims from a fixed queue; once exhausted it
// keeps returning empty claims, mimicking a quiet table.
type fakeOutboxStore struct {
	claims   []*fakeClaim
	idx      int
	pending  int64
	countErr error
}

func (s *fakeOutboxStore) ClaimUnpublished(ctx context.Context, limit int) (store.OutboxClaim, error) {
	if s.idx >= len(s.claims) {
		return &fakeClaim{}, nil
	}
	c := s.claims[s.idx]
	s.idx++
	return c, nil
}

func (s *fakeOutboxStore) CountUnpublished(ctx context.Context) (int64, error) {
	return s.pending, s.countErr
}

// fakeBroker records every publish and can be told to fail specific
// topics.
type fakeBroker struct {
	published  []publishedMsg
	failTopics map[string]bool
}

type publishedMsg struct {
	topic string
	key   []byte
	value []byte
}

func (b *fakeBroker) Publish(ctx context.Context, topic string, key, value []byte) error {
	if b.failTopics[topic] {
		return errors.New("publish failed")
	}
	b.published = append(b.published, publishedMsg{topic: topic, key: key, value: value})
	return nil
}

func (b *fakeBroker) Close() error { return nil }

func newTestRecord(id, eventType, aggregateID string, retryCount int) domain.OutboxRecord {
	return domain.OutboxRecord{
		ID:            id,
		AggregateType: "Payment",
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       []byte(`{}`),
		CreatedAt:     time.Now().UTC(),
		RetryCount:    retryCount,
	}
}

func TestCycle_PartitionsPublishAndDeadLetter(t *testing.T) {
	ok := newTestRecord("ok-1", domain.EventPaymentAuthorized, "acct-1", 0)
	exhausted := newTestRecord("dlq-1", domain.EventPaymentDeclined, "acct-2", 5)

	claim := &fakeClaim{records: []domain.OutboxRecord{ok, exhausted}}
	db := &fakeOutboxStore{claims: []*fakeClaim{claim}}
	broker := &fakeBroker{}

	w := &Worker{db: db, broker: broker, cfg: Config{TopicPrefix: "payments", BatchSize: 10, MaxRetries: 5}, log: zerolog.Nop()}

	full, claimed, published, err := w.cycle(context.Background())
	require.NoError(t, err)
	assert.False(t, full)
	assert.Equal(t, 2, claimed)
	assert.Equal(t, 2, published)
	assert.True(t, claim.committed)
	assert.False(t, claim.rolledBack)
	assert.ElementsMatch(t, []string{"ok-1", "dlq-1"}, claim.marked)

	require.Len(t, broker.published, 2)
	var sawMain, sawDLQ bool
	for _, m := range broker.published {
		switch m.topic {
		case "payments.paymentauthorized":
			sawMain = true
		case "payments.dlq":
			sawDLQ = true
		}
	}
	assert.True(t, sawMain, "authorized event should publish to its own topic")
	assert.True(t, sawDLQ, "retry-exhausted event should publish to the dead-letter topic")
}

func TestCycle_PublishFailureIncrementsRetryWithoutMarking(t *testing.T) {
	rec := newTestRecord("fail-1", domain.EventPaymentAuthorized, "acct-1", 0)
	claim := &fakeClaim{records: []domain.OutboxRecord{rec}}
	db := &fakeOutboxStore{claims: []*fakeClaim{claim}}
	broker := &fakeBroker{failTopics: map[string]bool{"payments.paymentauthorized": true}}

	w := &Worker{db: db, broker: broker, cfg: Config{TopicPrefix: "payments", BatchSize: 10, MaxRetries: 5, BaseDelay: time.Millisecond, MaxDelay: time.Second}, log: zerolog.Nop()}

	_, claimed, published, err := w.cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, claimed)
	assert.Equal(t, 0, published)
	assert.Equal(t, []string{"fail-1"}, claim.retried)
	assert.Empty(t, claim.marked)
	assert.True(t, claim.committed, "a failed publish still commits the claim, it just leaves the row unmarked")
}

func TestCycle_EmptyClaimReportsZeroClaimed(t *testing.T) {
	claim := &fakeClaim{}
	db := &fakeOutboxStore{claims: []*fakeClaim{claim}}
	w := &Worker{db: db, broker: &fakeBroker{}, cfg: Config{BatchSize: 10}, log: zerolog.Nop()}

	full, claimed, published, err := w.cycle(context.Background())
	require.NoError(t, err)
	assert.False(t, full)
	assert.Equal(t, 0, claimed)
	assert.Equal(t, 0, published)
	assert.True(t, claim.rolledBack)
}

func TestCycle_PendingDepthQueryFailureDoesNotAbortCycle(t *testing.T) {
	claim := &fakeClaim{}
	db := &fakeOutboxStore{claims: []*fakeClaim{claim}, countErr: errors.New("boom")}
	w := &Worker{db: db, broker: &fakeBroker{}, cfg: Config{BatchSize: 10}, log: zerolog.Nop()}

	_, _, _, err := w.cycle(context.Background())
	assert.NoError(t, err)
}

func TestRun_QuietTrafficNeverTripsBreaker(t *testing.T) {
	db := &fakeOutboxStore{}
	w := &Worker{db: db, broker: &fakeBroker{}, cfg: Config{BatchSize: 10, PollInterval: time.Millisecond, MaxConsecutiveFailures: 3}, log: zerolog.Nop()}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// many empty-batch cycles run in this window, far more than
	// MaxConsecutiveFailures; none of them may count against the
	// breaker, or a quiet deployment would be killed for no reason.
	err := w.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRun_TripsBreakerOnRepeatedFailedPublishes(t *testing.T) {
	var claims []*fakeClaim
	for i := 0; i < 10; i++ {
		claims = append(claims, &fakeClaim{records: []domain.OutboxRecord{
			newTestRecord(fmt.Sprintf("rec-%d", i), domain.EventPaymentAuthorized, "acct-1", 0),
		}})
	}
	db := &fakeOutboxStore{claims: claims}
	broker := &fakeBroker{failTopics: map[string]bool{"payments.paymentauthorized": true}}
	w := &Worker{
		db:     db,
		broker: broker,
		cfg: Config{
			TopicPrefix:            "payments",
			BatchSize:              10,
			MaxRetries:             100,
			BaseDelay:              time.Millisecond,
			MaxDelay:               time.Second,
			PollInterval:           time.Millisecond,
			MaxConsecutiveFailures: 3,
		},
		log: zerolog.Nop(),
	}

	err := w.Run(context.Background())
	assert.ErrorIs(t, err, errCircuitOpen)
}

func TestBackoffDelay_CapsAtMaxDelay(t *testing.T) {
	w := &Worker{cfg: Config{BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second}, log: zerolog.Nop()}

	// enough retries that base*2^retry would blow past MaxDelay many
	// times over; the result (minus jitter) must never exceed it.
	for retry := 0; retry < 10; retry++ {
		delay := w.backoffDelay(retry)
		assert.LessOrEqual(t, delay, w.cfg.MaxDelay+w.cfg.MaxDelay/10)
	}
}

func TestBackoffDelay_GrowsExponentiallyBeforeCap(t *testing.T) {
	w := &Worker{cfg: Config{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Minute}, log: zerolog.Nop()}

	d0 := w.backoffDelay(0)
	d1 := w.backoffDelay(1)

	// d1's base (before jitter) is double d0's base; jitter only adds to
	// the base, so d0 is at least 100ms and d1 at least 200ms.
	assert.GreaterOrEqual(t, d0, 100*time.Millisecond)
	assert.GreaterOrEqual(t, d1, 200*time.Millisecond)
}

func TestTopicFor_LowercasesEventType(t *testing.T) {
	assert.Equal(t, "payments.paymentauthorized", TopicFor("payments", "PaymentAuthorized"))
	assert.Equal(t, "payments.paymentdeclined", TopicFor("payments", "PaymentDeclined"))
}

func TestDLQTopic(t *testing.T) {
	assert.Equal(t, "payments.dlq", DLQTopic("payments"))
}
