package api

import "time"

// authorizeRequest mirrors AuthorizePayment's request fields.
type authorizeRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	PayerAccountID string `json:"payer_account_id"`
	PayeeAccountID string `json:"payee_account_id"`
	AmountMinor    int64  `json:"amount_cents"`
	Currency       string `json:"currency"`
	Description    string `json:"description,omitempty"`
}

// authorizeResponse mirrors AuthorizePayment's response fields.
type authorizeResponse struct {
	PaymentID    string     `json:"payment_id"`
	Status       string     `json:"status"`
	Error        *errorBody `json:"error,omitempty"`
	ProcessedAt  string     `json:"processed_at"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// paymentResponse backs GetPayment.
type paymentResponse struct {
	ID             string  `json:"id"`
	IdempotencyKey string  `json:"idempotency_key"`
	PayerAccountID string  `json:"payer_account_id"`
	PayeeAccountID string  `json:"payee_account_id"`
	AmountMinor    int64   `json:"amount_minor"`
	Currency       string  `json:"currency"`
	Status         string  `json:"status"`
	Description    string  `json:"description,omitempty"`
	ErrorCode      string  `json:"error_code,omitempty"`
	ErrorMessage   string  `json:"error_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// balanceResponse backs GetAccountBalance.
type balanceResponse struct {
	AccountID      string `json:"account_id"`
	AvailableMinor int64  `json:"available_cents"`
	PendingMinor   int64  `json:"pending_cents"`
	Currency       string `json:"currency"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
