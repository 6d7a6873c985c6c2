package domain

import "time"

// Outbox event types, carried on the wire as-is in the outbox worker's
// event envelope and lowercased into topic names (see outbox.TopicFor).
const (
	EventPaymentAuthorized = "PaymentAuthorized"
	EventPaymentDeclined   = "PaymentDeclined"
)

// OutboxRecord is inserted inside the authorization transaction and is
// terminal once PublishedAt is non-nil. A non-nil PublishedAt must never
// be overwritten.
type OutboxRecord struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte // structured JSON
	CreatedAt     time.Time
	PublishedAt   *time.Time
	RetryCount    int
}

// NewOutboxRecord constructs a pending record with a fresh id.
func NewOutboxRecord(id, aggregateType, aggregateID, eventType string, payload []byte) OutboxRecord {
	return OutboxRecord{
		ID:            id,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
		CreatedAt:     time.Now().UTC(),
	}
}
