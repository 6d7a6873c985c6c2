package domain

import "time"

// EntryType distinguishes the two legs of a double-entry posting.
type EntryType string

const (
	EntryDebit  EntryType = "DEBIT"
	EntryCredit EntryType = "CREDIT"
)

// LedgerEntry is one leg of a double-entry posting. Entries are written
// once, in the same transaction as their Payment, and never mutated.
type LedgerEntry struct {
	ID                string
	PaymentID         string
	AccountID         string
	EntryType         EntryType
	AmountMinor       int64
	Currency          string
	BalanceAfterMinor int64
	CreatedAt         time.Time
}

// NewLedgerEntry builds a single leg. The caller is responsible for
// inserting DEBIT before CREDIT so that per-account ordering by id
// reflects insertion order.
func NewLedgerEntry(id, paymentID, accountID string, entryType EntryType, amountMinor int64, currency string, balanceAfterMinor int64) LedgerEntry {
	return LedgerEntry{
		ID:                id,
		PaymentID:         paymentID,
		AccountID:         accountID,
		EntryType:         entryType,
		AmountMinor:       amountMinor,
		Currency:          currency,
		BalanceAfterMinor: balanceAfterMinor,
		CreatedAt:         time.Now().UTC(),
	}
}
