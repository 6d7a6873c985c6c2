package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/punchamoorthee/ledgerops/internal/domain"
)

// IdempotencyWriter implements the insert-if-absent claim, terminal
// transitions, and lookup used by the authorization engine's
// idempotency protocol.
type IdempotencyWriter interface {
	// ClaimIdempotencyKey inserts a PENDING row for key if none exists.
	// It reports whether the row it now sees is the one this call just
	// inserted (claimed=true) or a pre-existing, non-expired row
	// (claimed=false, existing populated). An expired pre-existing row
	// is replaced in place and reported as claimed=true.
	ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (claimed bool, existing *domain.IdempotencyRecord, err error)
	MarkIdempotencyCompleted(ctx context.Context, key, paymentID string, responseSnapshot []byte) error
	MarkIdempotencyFailed(ctx context.Context, key, paymentID string, responseSnapshot []byte) error
}

func (u *txUnitOfWork) ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, *domain.IdempotencyRecord, error) {
	now := time.Now().UTC()

	tag, err := u.tx.Exec(ctx, `
		INSERT INTO idempotency_keys (key, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO NOTHING
	`, key, domain.IdempotencyPending, now, now.Add(ttl))
	if err != nil {
		return false, nil, fmt.Errorf("%w: claim idempotency key: %v", ErrTransient, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil, nil
	}

	rec, err := u.getIdempotencyRecord(ctx, key)
	if err != nil {
		return false, nil, err
	}

	if rec.Expired(now) {
		if _, err := u.tx.Exec(ctx, `
			UPDATE idempotency_keys
			SET status = $1, payment_id = NULL, response_data = NULL, created_at = $2, expires_at = $3
			WHERE key = $4
		`, domain.IdempotencyPending, now, now.Add(ttl), key); err != nil {
			return false, nil, fmt.Errorf("%w: replace expired idempotency key: %v", ErrTransient, err)
		}
		return true, nil, nil
	}

	return false, rec, nil
}

func (u *txUnitOfWork) getIdempotencyRecord(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	var rec domain.IdempotencyRecord
	var paymentID *string
	var responseData []byte
	err := u.tx.QueryRow(ctx, `
		SELECT key, payment_id, response_data, status, created_at, expires_at
		FROM idempotency_keys WHERE key = $1
	`, key).Scan(&rec.Key, &paymentID, &responseData, &rec.Status, &rec.CreatedAt, &rec.ExpiresAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("%w: idempotency key %s vanished after conflict", ErrTransient, key)
		}
		return nil, fmt.Errorf("%w: get idempotency key: %v", ErrTransient, err)
	}
	if paymentID != nil {
		rec.PaymentID = *paymentID
	}
	rec.ResponseSnapshot = responseData
	return &rec, nil
}

func (u *txUnitOfWork) MarkIdempotencyCompleted(ctx context.Context, key, paymentID string, responseSnapshot []byte) error {
	_, err := u.tx.Exec(ctx, `
		UPDATE idempotency_keys
		SET status = $1, payment_id = $2, response_data = $3
		WHERE key = $4
	`, domain.IdempotencyCompleted, paymentID, string(responseSnapshot), key)
	if err != nil {
		return fmt.Errorf("%w: mark idempotency completed: %v", ErrTransient, err)
	}
	return nil
}

func (u *txUnitOfWork) MarkIdempotencyFailed(ctx context.Context, key, paymentID string, responseSnapshot []byte) error {
	_, err := u.tx.Exec(ctx, `
		UPDATE idempotency_keys
		SET status = $1, payment_id = $2, response_data = $3
		WHERE key = $4
	`, domain.IdempotencyFailed, paymentID, string(responseSnapshot), key)
	if err != nil {
		return fmt.Errorf("%w: mark idempotency failed: %v", ErrTransient, err)
	}
	return nil
}

// DeleteExpiredIdempotencyKeys sweeps rows past their TTL. This is the
// Go equivalent of the original's IdempotencyRepository.delete_expired,
// invoked periodically from cmd/api rather than as part of any single
// request.
func (s *Store) DeleteExpiredIdempotencyKeys(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("%w: delete expired idempotency keys: %v", ErrTransient, err)
	}
	return tag.RowsAffected(), nil
}
