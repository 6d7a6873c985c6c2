// Package engine implements the authorization engine: idempotent command
// processing, balance checking under concurrency, double-entry ledger
// posting and transactional outbox enqueue, all inside a single atomic
// transaction.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/punchamoorthee/ledgerops/internal/domain"
	"github.com/punchamoorthee/ledgerops/internal/ids"
	"github.com/punchamoorthee/ledgerops/internal/store"
)

// Command is the caller's request to move funds from payer to payee.
type Command struct {
	IdempotencyKey string
	PayerAccountID string
	PayeeAccountID string
	AmountMinor    int64
	Currency       string
	Description    string
}

// Result is the outward-facing outcome of Authorize. Never carries a raw
// storage error; infrastructure failures are surfaced separately as
// ErrRetryTransient / ErrConcurrentRequest / ErrInvalidArgument.
type Result struct {
	PaymentID    string
	Status       domain.PaymentStatus
	ErrorCode    string
	ErrorMessage string
	ProcessedAt  time.Time
}

// Sentinel errors for outcomes that are not domain declines: these never
// touch the database (ErrInvalidArgument) or map to a transport status the
// caller must special-case. ErrConcurrentRequest and ErrRetryTransient both
// surface as UNAVAILABLE: neither names a distinct error kind, and a caller
// should retry either one with the same idempotency key.
var (
	// ErrInvalidArgument means request-level validation failed before
	// any transaction was opened. Distinct from a DECLINED outcome.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConcurrentRequest means an idempotency key is currently PENDING
	// in another attempt; the caller should not block or double-process.
	ErrConcurrentRequest = errors.New("request with this idempotency key is already in progress")
	// ErrRetryTransient wraps infrastructure failures the caller should
	// retry with the same idempotency key.
	ErrRetryTransient = store.ErrTransient
)

// txRunner is the one capability the engine needs from storage: a way to
// run a function inside a transaction-scoped UnitOfWork. *store.Store
// satisfies this; tests supply a fake that never touches a database.
type txRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, uow store.UnitOfWork) error) error
}

// Engine orchestrates validate -> lock -> post ledger -> enqueue event ->
// commit under idempotency. It depends only on store.UnitOfWork and
// txRunner, never on a concrete database client.
type Engine struct {
	db             txRunner
	ids            *ids.Generator
	idempotencyTTL time.Duration
	log            zerolog.Logger
}

// New builds an Engine.
func New(db txRunner, idGen *ids.Generator, idempotencyTTL time.Duration, log zerolog.Logger) *Engine {
	return &Engine{db: db, ids: idGen, idempotencyTTL: idempotencyTTL, log: log}
}

// Authorize is the engine's single public operation.
func (e *Engine) Authorize(ctx context.Context, cmd Command) (Result, error) {
	if err := validateRequest(cmd); err != nil {
		return Result{}, err
	}

	log := e.log.With().
		Str("idempotency_key", cmd.IdempotencyKey).
		Str("payer_id", cmd.PayerAccountID).
		Str("payee_id", cmd.PayeeAccountID).
		Int64("amount_minor", cmd.AmountMinor).
		Logger()

	var result Result
	var concurrent bool

	err := e.db.WithTx(ctx, func(ctx context.Context, uow store.UnitOfWork) error {
		claimed, existing, err := uow.ClaimIdempotencyKey(ctx, cmd.IdempotencyKey, e.idempotencyTTL)
		if err != nil {
			return err
		}

		if !claimed {
			switch existing.Status {
			case domain.IdempotencyCompleted:
				log.Info().Str("payment_id", existing.PaymentID).Msg("idempotent_replay")
				result = Result{
					PaymentID:   existing.PaymentID,
					Status:      domain.PaymentDuplicate,
					ProcessedAt: existing.CreatedAt,
				}
				return nil
			case domain.IdempotencyFailed:
				result = decodeSnapshot(existing)
				return nil
			default: // PENDING
				concurrent = true
				return nil
			}
		}

		result, err = e.authorizeNew(ctx, uow, cmd, log)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	if concurrent {
		return Result{}, ErrConcurrentRequest
	}
	return result, nil
}

// authorizeNew runs the full validate -> lock -> post -> enqueue
// sequence for a freshly claimed idempotency key.
func (e *Engine) authorizeNew(ctx context.Context, uow store.UnitOfWork, cmd Command, log zerolog.Logger) (Result, error) {
	now := time.Now().UTC()

	decline, err := e.validateDomain(ctx, uow, cmd, log)
	if err != nil {
		return Result{}, err
	}
	if decline != nil {
		return e.commitDecline(ctx, uow, cmd, *decline, now)
	}

	payment, err := e.executeTransfer(ctx, uow, cmd, now, log)
	if err != nil {
		var declineErr *declineOutcome
		if errors.As(err, &declineErr) {
			return e.commitDecline(ctx, uow, cmd, *declineErr, now)
		}
		return Result{}, err
	}

	if err := e.enqueueOutbox(ctx, uow, payment, domain.EventPaymentAuthorized, nil); err != nil {
		return Result{}, err
	}

	result := Result{PaymentID: payment.ID, Status: domain.PaymentAuthorized, ProcessedAt: payment.CreatedAt}
	snapshot, err := json.Marshal(result)
	if err != nil {
		return Result{}, fmt.Errorf("%w: marshal response snapshot: %v", store.ErrTransient, err)
	}
	if err := uow.MarkIdempotencyCompleted(ctx, cmd.IdempotencyKey, payment.ID, snapshot); err != nil {
		return Result{}, err
	}

	log.Info().Str("payment_id", payment.ID).Str("status", "AUTHORIZED").Msg("payment_completed")
	return result, nil
}

// declineOutcome carries a domain decline code/message discovered inside
// executeTransfer's second, under-lock validation (the mandatory
// re-check after acquiring row locks). It is a recognized type the
// engine converts into a commit, not an abort, and never treated as a
// transient failure.
type declineOutcome struct {
	code    string
	message string
}

func (d *declineOutcome) Error() string { return d.message }

// validateDomain runs validations 1-6 with plain (unlocked) reads.
// Returns a non-nil declineOutcome if a domain rule failed, or a
// non-nil error if storage itself failed transiently.
func (e *Engine) validateDomain(ctx context.Context, uow store.UnitOfWork, cmd Command, log zerolog.Logger) (*declineOutcome, error) {
	if cmd.AmountMinor <= 0 {
		return &declineOutcome{domain.ErrCodeInvalidAmount, "amount must be positive"}, nil
	}
	if cmd.PayerAccountID == cmd.PayeeAccountID {
		return &declineOutcome{domain.ErrCodeSameAccount, "cannot transfer to same account"}, nil
	}

	payer, err := uow.GetAccount(ctx, cmd.PayerAccountID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if payer == nil || !payer.IsActive() {
		return &declineOutcome{domain.ErrCodeAccountNotFound, fmt.Sprintf("payer account %s not found or inactive", cmd.PayerAccountID)}, nil
	}

	payee, err := uow.GetAccount(ctx, cmd.PayeeAccountID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if payee == nil || !payee.IsActive() {
		return &declineOutcome{domain.ErrCodeAccountNotFound, fmt.Sprintf("payee account %s not found or inactive", cmd.PayeeAccountID)}, nil
	}

	if payer.Currency != payee.Currency || payer.Currency != cmd.Currency {
		return &declineOutcome{domain.ErrCodeCurrencyMismatch, "payer, payee and request currencies must match"}, nil
	}

	payerBalance, err := uow.GetBalance(ctx, cmd.PayerAccountID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if payerBalance == nil || payerBalance.AvailableMinor < cmd.AmountMinor {
		available := int64(0)
		if payerBalance != nil {
			available = payerBalance.AvailableMinor
		}
		log.Info().Str("reason", domain.ErrCodeInsufficientFunds).Int64("available", available).Int64("required", cmd.AmountMinor).Msg("payment_declined")
		return &declineOutcome{domain.ErrCodeInsufficientFunds, "insufficient funds"}, nil
	}

	log.Info().Msg("payment_validated")
	return nil, nil
}

// executeTransfer performs the deterministic-lock-order balance lock,
// the mandatory re-check under lock, ledger posting and optimistic
// balance updates.
func (e *Engine) executeTransfer(ctx context.Context, uow store.UnitOfWork, cmd Command, now time.Time, log zerolog.Logger) (domain.Payment, error) {
	firstID, secondID := cmd.PayerAccountID, cmd.PayeeAccountID
	if secondID < firstID {
		firstID, secondID = secondID, firstID
	}

	if _, err := uow.GetBalanceForUpdate(ctx, firstID); err != nil {
		return domain.Payment{}, err
	}
	if _, err := uow.GetBalanceForUpdate(ctx, secondID); err != nil {
		return domain.Payment{}, err
	}

	payerBalance, err := uow.GetBalance(ctx, cmd.PayerAccountID)
	if err != nil {
		return domain.Payment{}, err
	}
	payeeBalance, err := uow.GetBalance(ctx, cmd.PayeeAccountID)
	if err != nil {
		return domain.Payment{}, err
	}

	if payerBalance.AvailableMinor < cmd.AmountMinor {
		return domain.Payment{}, &declineOutcome{domain.ErrCodeInsufficientFunds, "insufficient funds"}
	}

	newPayerBalance := payerBalance.AvailableMinor - cmd.AmountMinor
	newPayeeBalance := payeeBalance.AvailableMinor + cmd.AmountMinor

	log.Info().
		Int64("payer_balance_before", payerBalance.AvailableMinor).
		Int64("payee_balance_before", payeeBalance.AvailableMinor).
		Msg("payment_transferring")

	money, err := domain.NewMoney(cmd.AmountMinor, cmd.Currency)
	if err != nil {
		return domain.Payment{}, &declineOutcome{domain.ErrCodeCurrencyMismatch, err.Error()}
	}
	payment := domain.NewPayment(e.ids.New(), cmd.IdempotencyKey, cmd.PayerAccountID, cmd.PayeeAccountID, money, cmd.Description)
	payment.CreatedAt, payment.UpdatedAt = now, now

	if err := uow.InsertPayment(ctx, payment); err != nil {
		return domain.Payment{}, err
	}

	debit := domain.NewLedgerEntry(e.ids.New(), payment.ID, payment.PayerAccountID, domain.EntryDebit, payment.AmountMinor, payment.Currency, newPayerBalance)
	credit := domain.NewLedgerEntry(e.ids.New(), payment.ID, payment.PayeeAccountID, domain.EntryCredit, payment.AmountMinor, payment.Currency, newPayeeBalance)
	if err := uow.InsertLedgerEntry(ctx, debit); err != nil {
		return domain.Payment{}, err
	}
	if err := uow.InsertLedgerEntry(ctx, credit); err != nil {
		return domain.Payment{}, err
	}

	if err := uow.UpdateBalance(ctx, payment.PayerAccountID, newPayerBalance, payerBalance.Version); err != nil {
		return domain.Payment{}, err
	}
	if err := uow.UpdateBalance(ctx, payment.PayeeAccountID, newPayeeBalance, payeeBalance.Version); err != nil {
		return domain.Payment{}, err
	}

	log.Info().
		Int64("payer_balance_after", newPayerBalance).
		Int64("payee_balance_after", newPayeeBalance).
		Msg("payment_ledger_created")

	return payment, nil
}

// commitDecline records a DECLINED payment, enqueues a PaymentDeclined
// event and marks the idempotency record FAILED. The decline path IS
// the commit path, not a rollback.
func (e *Engine) commitDecline(ctx context.Context, uow store.UnitOfWork, cmd Command, d declineOutcome, now time.Time) (Result, error) {
	currency := cmd.Currency
	if currency == "" {
		currency = "XXX"
	}
	money := domain.Money{AmountMinor: cmd.AmountMinor, Currency: normalizedCurrency(currency)}

	payment := domain.NewPayment(e.ids.New(), cmd.IdempotencyKey, cmd.PayerAccountID, cmd.PayeeAccountID, money, cmd.Description)
	payment.Status = domain.PaymentDeclined
	payment.ErrorCode = d.code
	payment.ErrorMessage = d.message
	payment.CreatedAt, payment.UpdatedAt = now, now

	if err := uow.InsertPayment(ctx, payment); err != nil {
		return Result{}, err
	}

	if err := e.enqueueOutbox(ctx, uow, payment, domain.EventPaymentDeclined, map[string]any{
		"error_code":    d.code,
		"error_message": d.message,
	}); err != nil {
		return Result{}, err
	}

	result := Result{
		PaymentID:    payment.ID,
		Status:       domain.PaymentDeclined,
		ErrorCode:    d.code,
		ErrorMessage: d.message,
		ProcessedAt:  now,
	}
	snapshot, err := json.Marshal(result)
	if err != nil {
		return Result{}, fmt.Errorf("%w: marshal decline snapshot: %v", store.ErrTransient, err)
	}
	if err := uow.MarkIdempotencyFailed(ctx, cmd.IdempotencyKey, payment.ID, snapshot); err != nil {
		return Result{}, err
	}

	return result, nil
}

// normalizedCurrency uppercases c and returns it if the result is three
// letters A-Z; any other value becomes "XXX". This keeps a decline
// payment's currency a well-formed 3-letter code even when the decline
// itself is INVALID_AMOUNT or SAME_ACCOUNT and the caller never supplied
// a well-formed currency.
func normalizedCurrency(c string) string {
	c = strings.ToUpper(c)
	if len(c) == 3 {
		valid := true
		for i := 0; i < 3; i++ {
			if c[i] < 'A' || c[i] > 'Z' {
				valid = false
				break
			}
		}
		if valid {
			return c
		}
	}
	return "XXX"
}

func (e *Engine) enqueueOutbox(ctx context.Context, uow store.UnitOfWork, payment domain.Payment, eventType string, extra map[string]any) error {
	payload := map[string]any{
		"payment_id":        payment.ID,
		"payer_account_id":  payment.PayerAccountID,
		"payee_account_id":  payment.PayeeAccountID,
		"amount_minor":      payment.AmountMinor,
		"currency":          payment.Currency,
	}
	for k, v := range extra {
		payload[k] = v
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: marshal outbox payload: %v", store.ErrTransient, err)
	}

	record := domain.NewOutboxRecord(e.ids.New(), "Payment", payment.ID, eventType, payloadJSON)
	return uow.InsertOutboxRecord(ctx, record)
}

// decodeSnapshot rebuilds a Result from a FAILED idempotency record's
// stored response snapshot, so a replayed decline returns the exact
// original decline instead of re-running validation.
func decodeSnapshot(rec *domain.IdempotencyRecord) Result {
	var r Result
	if len(rec.ResponseSnapshot) > 0 {
		_ = json.Unmarshal(rec.ResponseSnapshot, &r)
	}
	if r.Status == "" {
		r.Status = domain.PaymentDeclined
	}
	return r
}

// validateRequest checks the caller-facing, pre-transaction fields: if
// any are missing, this fails with ErrInvalidArgument and never touches
// storage.
func validateRequest(cmd Command) error {
	if cmd.IdempotencyKey == "" || cmd.PayerAccountID == "" || cmd.PayeeAccountID == "" || cmd.Currency == "" {
		return fmt.Errorf("%w: idempotency_key, payer_account_id, payee_account_id and currency are required", ErrInvalidArgument)
	}
	if len(cmd.Description) > 1024 {
		return fmt.Errorf("%w: description must be at most 1024 bytes", ErrInvalidArgument)
	}
	return nil
}
