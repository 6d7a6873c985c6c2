package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/punchamoorthee/ledgerops/internal/domain"
)

// BalancesWriter is the only capability set allowed to mutate
// AccountBalance rows, and only under a lock acquired in canonical
// min-id-first order (enforced by the caller in internal/engine; this
// interface just exposes the primitives).
type BalancesWriter interface {
	GetBalance(ctx context.Context, accountID string) (*domain.AccountBalance, error)
	GetBalanceForUpdate(ctx context.Context, accountID string) (*domain.AccountBalance, error)
	UpdateBalance(ctx context.Context, accountID string, newAvailableMinor int64, expectedVersion int64) error
}

func (u *txUnitOfWork) GetBalance(ctx context.Context, accountID string) (*domain.AccountBalance, error) {
	return scanBalance(u.tx.QueryRow(ctx, `
		SELECT account_id, available_minor, pending_minor, currency, version, updated_at
		FROM account_balances WHERE account_id = $1
	`, accountID))
}

func (u *txUnitOfWork) GetBalanceForUpdate(ctx context.Context, accountID string) (*domain.AccountBalance, error) {
	return scanBalance(u.tx.QueryRow(ctx, `
		SELECT account_id, available_minor, pending_minor, currency, version, updated_at
		FROM account_balances WHERE account_id = $1
		FOR UPDATE
	`, accountID))
}

func scanBalance(row pgx.Row) (*domain.AccountBalance, error) {
	var b domain.AccountBalance
	err := row.Scan(&b.AccountID, &b.AvailableMinor, &b.PendingMinor, &b.Currency, &b.Version, &b.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: get balance: %v", ErrTransient, err)
	}
	return &b, nil
}

// UpdateBalance performs a single-statement optimistic update: SET
// available = new, version = version + 1 WHERE account_id = ? AND
// version = expected_version. If the WHERE clause matches zero rows,
// because another writer already advanced the version or the row
// vanished, the caller must abort the whole transaction with a
// transient failure.
func (u *txUnitOfWork) UpdateBalance(ctx context.Context, accountID string, newAvailableMinor int64, expectedVersion int64) error {
	tag, err := u.tx.Exec(ctx, `
		UPDATE account_balances
		SET available_minor = $1, version = version + 1, updated_at = now()
		WHERE account_id = $2 AND version = $3
	`, newAvailableMinor, accountID, expectedVersion)
	if err != nil {
		return fmt.Errorf("%w: update balance: %v", ErrTransient, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: balance version conflict for account %s", ErrTransient, accountID)
	}
	return nil
}

// GetBalance is the pool-level lookup backing GetAccountBalance.
func (s *Store) GetBalance(ctx context.Context, accountID string) (*domain.AccountBalance, error) {
	return scanBalance(s.pool.QueryRow(ctx, `
		SELECT account_id, available_minor, pending_minor, currency, version, updated_at
		FROM account_balances WHERE account_id = $1
	`, accountID))
}
