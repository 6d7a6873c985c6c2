package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/punchamoorthee/ledgerops/internal/domain"
)

// PaymentWriter inserts Payment rows within a transaction.
type PaymentWriter interface {
	InsertPayment(ctx context.Context, p domain.Payment) error
}

func (u *txUnitOfWork) InsertPayment(ctx context.Context, p domain.Payment) error {
	_, err := u.tx.Exec(ctx, `
		INSERT INTO payments
			(id, idempotency_key, payer_account_id, payee_account_id, amount_minor,
			 currency, status, description, error_code, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, p.ID, p.IdempotencyKey, p.PayerAccountID, p.PayeeAccountID, p.AmountMinor,
		p.Currency, p.Status, nullableString(p.Description), nullableString(p.ErrorCode),
		nullableString(p.ErrorMessage), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: insert payment: %v", ErrTransient, err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// GetPayment is the pool-level lookup backing the GetPayment RPC.
func (s *Store) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	return scanPayment(s.pool.QueryRow(ctx, paymentSelectByID, id))
}

const paymentSelectByID = `
	SELECT id, idempotency_key, payer_account_id, payee_account_id, amount_minor,
	       currency, status, coalesce(description, ''), coalesce(error_code, ''),
	       coalesce(error_message, ''), created_at, updated_at
	FROM payments WHERE id = $1
`

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(&p.ID, &p.IdempotencyKey, &p.PayerAccountID, &p.PayeeAccountID, &p.AmountMinor,
		&p.Currency, &p.Status, &p.Description, &p.ErrorCode, &p.ErrorMessage, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: get payment: %v", ErrTransient, err)
	}
	return &p, nil
}
