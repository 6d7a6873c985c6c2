package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/punchamoorthee/ledgerops/internal/domain"
)

// OutboxWriter inserts events inside the authorization transaction. The
// claim/publish/retry primitives used by the delivery worker live on
// *Store (ClaimUnpublished, below) and the OutboxClaim it returns, since
// the worker runs its own, separate transactions outside the
// authorization engine's unit of work.
type OutboxWriter interface {
	InsertOutboxRecord(ctx context.Context, r domain.OutboxRecord) error
}

func (u *txUnitOfWork) InsertOutboxRecord(ctx context.Context, r domain.OutboxRecord) error {
	_, err := u.tx.Exec(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.ID, r.AggregateType, r.AggregateID, r.EventType, string(r.Payload), r.CreatedAt, r.RetryCount)
	if err != nil {
		return fmt.Errorf("%w: insert outbox record: %v", ErrTransient, err)
	}
	return nil
}

// ClaimUnpublished opens its own transaction, claims up to limit
// unpublished rows with FOR UPDATE SKIP LOCKED so concurrent workers
// never contend on the same row, and returns them still under lock in
// the returned OutboxClaim. The caller must call exactly one of its
// Commit or Rollback methods, once.
//
// Unlike the authorization engine's WithTx, this transaction is held
// open across the caller's publish attempts (which touch the network,
// not the database) because SKIP LOCKED is what makes that safe: a
// second worker simply skips these rows instead of blocking on them.
func (s *Store) ClaimUnpublished(ctx context.Context, limit int) (OutboxClaim, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin outbox claim: %v", ErrTransient, err)
	}

	rows, err := tx.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at, published_at, retry_count
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("%w: query unpublished outbox rows: %v", ErrTransient, err)
	}

	var records []domain.OutboxRecord
	for rows.Next() {
		var r domain.OutboxRecord
		if err := rows.Scan(&r.ID, &r.AggregateType, &r.AggregateID, &r.EventType, &r.Payload, &r.CreatedAt, &r.PublishedAt, &r.RetryCount); err != nil {
			rows.Close()
			_ = tx.Rollback(ctx)
			return nil, fmt.Errorf("%w: scan outbox row: %v", ErrTransient, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("%w: iterate outbox rows: %v", ErrTransient, err)
	}
	rows.Close()

	return &pgxOutboxClaim{tx: tx, records: records}, nil
}

// OutboxClaim is a batch of locked, unpublished outbox rows plus the
// means to finalize or abandon the claim that locked them. The delivery
// worker depends only on this interface, never on the concrete pgx
// transaction, so its claim/publish/mark loop can run against a fake in
// tests.
type OutboxClaim interface {
	Records() []domain.OutboxRecord
	MarkPublished(ctx context.Context, ids []string) error
	IncrementRetryCount(ctx context.Context, id string) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// pgxOutboxClaim is a batch of locked, unpublished outbox rows plus the
// open transaction holding their locks.
type pgxOutboxClaim struct {
	tx      pgx.Tx
	records []domain.OutboxRecord
}

func (c *pgxOutboxClaim) Records() []domain.OutboxRecord {
	return c.records
}

// MarkPublished sets published_at = now() for the given ids. A non-null
// published_at is final and this call never targets a row twice for the
// same claim.
func (c *pgxOutboxClaim) MarkPublished(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := c.tx.Exec(ctx, `UPDATE outbox SET published_at = now() WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("%w: mark outbox published: %v", ErrTransient, err)
	}
	return nil
}

// IncrementRetryCount bumps retry_count for a record whose send failed.
func (c *pgxOutboxClaim) IncrementRetryCount(ctx context.Context, id string) error {
	_, err := c.tx.Exec(ctx, `UPDATE outbox SET retry_count = retry_count + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: increment outbox retry count: %v", ErrTransient, err)
	}
	return nil
}

// Commit finalizes every mutation made against this claim and releases
// the row locks.
func (c *pgxOutboxClaim) Commit(ctx context.Context) error {
	if err := c.tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit outbox claim: %v", ErrTransient, err)
	}
	return nil
}

// Rollback abandons the claim, releasing locks without persisting any
// mark-published or retry-count changes made against it.
func (c *pgxOutboxClaim) Rollback(ctx context.Context) error {
	return c.tx.Rollback(ctx)
}

// CountUnpublished reports the current backlog depth: rows with
// published_at IS NULL, regardless of whether they are locked by an
// in-flight claim. Used to feed the outbox pending-depth gauge.
func (s *Store) CountUnpublished(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM outbox WHERE published_at IS NULL`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: count unpublished outbox rows: %v", ErrTransient, err)
	}
	return count, nil
}
