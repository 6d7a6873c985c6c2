// Package store is the transactional storage adapter for the ledger: a
// thin layer over pgx that exposes row-level locking, optimistic
// updates and insert-if-absent as capability-set interfaces, so the
// authorization engine never depends on a concrete database client.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrTransient wraps infrastructure failures (connection loss, deadline
// exceeded, unexpected constraint violations) that the caller should
// retry with the same idempotency key. Domain outcomes never produce
// this error.
var ErrTransient = errors.New("transient storage failure")

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = errors.New("not found")

// Store owns the connection pool and hands out transaction-scoped units
// of work.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to Postgres and verifies connectivity.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("parse/create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Pool exposes the underlying pool for read-only queries that don't need
// a transaction (GetPayment, GetAccountBalance).
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// UnitOfWork is a single transaction's worth of repository access. The
// authorization engine depends only on this interface, never on *Store
// or *pgxpool.Pool directly.
type UnitOfWork interface {
	AccountsReader
	BalancesWriter
	PaymentWriter
	LedgerWriter
	IdempotencyWriter
	OutboxWriter
}

// WithTx begins a transaction, calls fn with a UnitOfWork bound to it,
// and commits on success or rolls back on error/panic. Every suspension
// point inside fn must be a database round-trip: no broker calls, no
// rate-limit store calls.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", ErrTransient, err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	uow := &txUnitOfWork{tx: tx}
	if err := fn(ctx, uow); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit tx: %v", ErrTransient, err)
	}
	return nil
}

// txUnitOfWork implements UnitOfWork against a single pgx.Tx.
type txUnitOfWork struct {
	tx pgx.Tx
}
