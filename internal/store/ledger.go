package store

import (
	"context"
	"fmt"

	"github.com/punchamoorthee/ledgerops/internal/domain"
)

// LedgerWriter appends immutable ledger entries.
type LedgerWriter interface {
	InsertLedgerEntry(ctx context.Context, e domain.LedgerEntry) error
}

func (u *txUnitOfWork) InsertLedgerEntry(ctx context.Context, e domain.LedgerEntry) error {
	_, err := u.tx.Exec(ctx, `
		INSERT INTO ledger_entries
			(id, payment_id, account_id, entry_type, amount_minor, currency, balance_after_minor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.PaymentID, e.AccountID, e.EntryType, e.AmountMinor, e.Currency, e.BalanceAfterMinor, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: insert ledger entry: %v", ErrTransient, err)
	}
	return nil
}

// GetLedgerEntriesByPayment returns a payment's ledger entries, ordered by
// created_at then id: the rows needed to check the double-entry
// invariants (exactly one DEBIT and one CREDIT per payment, balanced
// amounts).
func (s *Store) GetLedgerEntriesByPayment(ctx context.Context, paymentID string) ([]domain.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, payment_id, account_id, entry_type, amount_minor, currency, balance_after_minor, created_at
		FROM ledger_entries WHERE payment_id = $1 ORDER BY created_at, id
	`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("%w: query ledger entries: %v", ErrTransient, err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.ID, &e.PaymentID, &e.AccountID, &e.EntryType, &e.AmountMinor, &e.Currency, &e.BalanceAfterMinor, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan ledger entry: %v", ErrTransient, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
