package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/punchamoorthee/ledgerops/internal/domain"
)

// AccountsReader is read-only: accounts are created out-of-band and are
// never mutated by the authorization engine.
type AccountsReader interface {
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
}

func (u *txUnitOfWork) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	var a domain.Account
	err := u.tx.QueryRow(ctx, `
		SELECT id, owner_id, currency, status, created_at, updated_at
		FROM accounts WHERE id = $1
	`, id).Scan(&a.ID, &a.OwnerID, &a.Currency, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: get account: %v", ErrTransient, err)
	}
	return &a, nil
}

// GetAccount is the pool-level (non-transactional) account lookup, for
// reads that don't need a transaction.
func (s *Store) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	var a domain.Account
	err := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, currency, status, created_at, updated_at
		FROM accounts WHERE id = $1
	`, id).Scan(&a.ID, &a.OwnerID, &a.Currency, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: get account: %v", ErrTransient, err)
	}
	return &a, nil
}
