package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/punchamoorthee/ledgerops/internal/engine"
	"github.com/punchamoorthee/ledgerops/internal/metrics"
	"github.com/punchamoorthee/ledgerops/internal/store"
)

// handleAuthorize is AuthorizePayment: OK for any domain outcome
// (AUTHORIZED/DECLINED/DUPLICATE all return 200 with status in the
// body), INVALID_ARGUMENT for missing required fields, transient
// failures and in-flight idempotency-key collisions both as 503
// UNAVAILABLE.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, apiError{Code: "INVALID_ARGUMENT", Message: "malformed request body"})
		return
	}

	cmd := engine.Command{
		IdempotencyKey: req.IdempotencyKey,
		PayerAccountID: req.PayerAccountID,
		PayeeAccountID: req.PayeeAccountID,
		AmountMinor:    req.AmountMinor,
		Currency:       req.Currency,
		Description:    req.Description,
	}

	start := time.Now()
	result, err := s.engine.Authorize(r.Context(), cmd)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrInvalidArgument):
			metrics.PaymentDuration.WithLabelValues("invalid_argument").Observe(time.Since(start).Seconds())
			writeError(w, http.StatusBadRequest, apiError{Code: "INVALID_ARGUMENT", Message: err.Error()})
		case errors.Is(err, engine.ErrConcurrentRequest), errors.Is(err, store.ErrTransient):
			metrics.PaymentDuration.WithLabelValues("transient").Observe(time.Since(start).Seconds())
			writeError(w, http.StatusServiceUnavailable, apiError{Code: "UNAVAILABLE", Message: "transient failure, retry with the same idempotency key"})
		default:
			metrics.PaymentDuration.WithLabelValues("internal").Observe(time.Since(start).Seconds())
			s.log.Error().Err(err).Msg("authorize_internal_error")
			writeError(w, http.StatusInternalServerError, apiError{Code: "INTERNAL", Message: "internal error"})
		}
		return
	}
	metrics.PaymentDuration.WithLabelValues(string(result.Status)).Observe(time.Since(start).Seconds())

	resp := authorizeResponse{
		PaymentID:   result.PaymentID,
		Status:      string(result.Status),
		ProcessedAt: result.ProcessedAt.Format(time.RFC3339),
	}
	if result.ErrorCode != "" {
		resp.Error = &errorBody{Code: result.ErrorCode, Message: result.ErrorMessage}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetPayment is GetPayment: plain lookup, NOT_FOUND mapped to 404.
func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	p, err := s.db.GetPayment(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, apiError{Code: "NOT_FOUND", Message: "payment not found"})
			return
		}
		s.log.Error().Err(err).Str("payment_id", id).Msg("get_payment_failed")
		writeError(w, http.StatusServiceUnavailable, apiError{Code: "UNAVAILABLE", Message: "transient failure"})
		return
	}

	writeJSON(w, http.StatusOK, paymentResponse{
		ID:             p.ID,
		IdempotencyKey: p.IdempotencyKey,
		PayerAccountID: p.PayerAccountID,
		PayeeAccountID: p.PayeeAccountID,
		AmountMinor:    p.AmountMinor,
		Currency:       p.Currency,
		Status:         string(p.Status),
		Description:    p.Description,
		ErrorCode:      p.ErrorCode,
		ErrorMessage:   p.ErrorMessage,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	})
}

// handleGetBalance is GetAccountBalance: plain lookup, NOT_FOUND mapped
// to 404.
func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	b, err := s.db.GetBalance(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, apiError{Code: "NOT_FOUND", Message: "account not found"})
			return
		}
		s.log.Error().Err(err).Str("account_id", id).Msg("get_balance_failed")
		writeError(w, http.StatusServiceUnavailable, apiError{Code: "UNAVAILABLE", Message: "transient failure"})
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{
		AccountID:      b.AccountID,
		AvailableMinor: b.AvailableMinor,
		PendingMinor:   b.PendingMinor,
		Currency:       b.Currency,
	})
}
