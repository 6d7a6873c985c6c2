package domain

import "time"

// IdempotencyStatus tracks an in-flight or concluded attempt at a given
// key. The zero value (no row) plus these three states form the state
// machine: ∅ → PENDING → {COMPLETED, FAILED}.
type IdempotencyStatus string

const (
	IdempotencyPending   IdempotencyStatus = "PENDING"
	IdempotencyCompleted IdempotencyStatus = "COMPLETED"
	IdempotencyFailed    IdempotencyStatus = "FAILED"
)

// IdempotencyRecord is keyed by the client-supplied key and expires 24h
// after creation. An expired record is equivalent to no record at all
// for a fresh attempt with the same key.
type IdempotencyRecord struct {
	Key             string
	PaymentID       string
	ResponseSnapshot []byte
	Status          IdempotencyStatus
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// Expired reports whether this record may be replaced in place by a new
// attempt with the same key.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
