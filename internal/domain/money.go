// Package domain holds the entities and value objects of the ledger:
// accounts, balances, payments, ledger entries, idempotency records and
// outbox events. Nothing in this package talks to storage or the network.
package domain

import "fmt"

// Money is a minor-unit amount tied to an ISO 4217 currency code. Amounts
// are never represented as floating point.
type Money struct {
	AmountMinor int64
	Currency    string
}

// NewMoney validates and constructs a Money value. AmountMinor may be
// zero or negative here; callers that require a strictly positive amount
// (e.g. authorization requests) check that separately so the right
// domain error code can be attached.
func NewMoney(amountMinor int64, currency string) (Money, error) {
	if !isValidCurrency(currency) {
		return Money{}, fmt.Errorf("currency must be a 3-letter uppercase ISO code, got %q", currency)
	}
	return Money{AmountMinor: amountMinor, Currency: currency}, nil
}

// isValidCurrency checks the byte-for-byte uppercase 3-letter format
// required by spec: no normalisation beyond this check.
func isValidCurrency(currency string) bool {
	if len(currency) != 3 {
		return false
	}
	for i := 0; i < 3; i++ {
		c := currency[i]
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}
