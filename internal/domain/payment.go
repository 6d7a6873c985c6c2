package domain

import "time"

// PaymentStatus is the outcome of an authorization attempt. DUPLICATE is
// never persisted; it is only ever synthesized on an idempotent replay.
type PaymentStatus string

const (
	PaymentAuthorized PaymentStatus = "AUTHORIZED"
	PaymentDeclined   PaymentStatus = "DECLINED"
	PaymentDuplicate  PaymentStatus = "DUPLICATE"
)

// Domain decline codes, in the order the authorization engine evaluates
// them.
const (
	ErrCodeInvalidAmount     = "INVALID_AMOUNT"
	ErrCodeSameAccount       = "SAME_ACCOUNT"
	ErrCodeAccountNotFound   = "ACCOUNT_NOT_FOUND"
	ErrCodeCurrencyMismatch  = "CURRENCY_MISMATCH"
	ErrCodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	ErrCodeRateLimited       = "RATE_LIMITED"
)

// Payment is created exactly once per accepted-or-declined authorization
// attempt, immediately after a fresh idempotency claim.
type Payment struct {
	ID              string
	IdempotencyKey  string
	PayerAccountID  string
	PayeeAccountID  string
	AmountMinor     int64
	Currency        string
	Status          PaymentStatus
	Description     string
	ErrorCode       string
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewPayment constructs an AUTHORIZED payment. Declined payments are
// built the same way and then have their status/error fields overwritten
// by the caller; see engine.Authorize.
func NewPayment(id, idempotencyKey, payerID, payeeID string, amount Money, description string) Payment {
	now := time.Now().UTC()
	return Payment{
		ID:             id,
		IdempotencyKey: idempotencyKey,
		PayerAccountID: payerID,
		PayeeAccountID: payeeID,
		AmountMinor:    amount.AmountMinor,
		Currency:       amount.Currency,
		Status:         PaymentAuthorized,
		Description:    description,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
