/**
 * @description
 * This file contains the admin-only handlers: deposit refunds, cancelling
 * stale pending transactions, and the manual reconciliation queue of
 * unmatched webhooks. All routes here sit behind AdminAuthMiddleware.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/DatDio/backend-sub001/internal/store"
)

type refundRequest struct {
	Reason string `json:"reason"`
}

// RefundDepositHandler reverses a successful deposit. This is the only path
// that may move a transaction out of SUCCESS, and it is never reachable from
// the webhook pipeline.
func (h *Handlers) RefundDepositHandler(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	var req refundRequest
	if r.Body != nil {
		// Body is optional; a bare refund uses the default reason.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	refund, err := h.service.RefundDeposit(r.Context(), code, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrTransactionNotFound):
			writeErrorCode(w, http.StatusNotFound, codeNotFound, "Transaction not found.")
		case errors.Is(err, store.ErrNotRefundable):
			writeErrorCode(w, http.StatusConflict, codeConflict, "Only successful deposits can be refunded.")
		case errors.Is(err, store.ErrInsufficientFunds):
			writeErrorCode(w, http.StatusConflict, codeConflict, "Wallet no longer holds the credited amount.")
		default:
			log.Printf("level=error component=api msg=\"refund failed\" code=%s err=%v", code, err)
			writeErrorCode(w, http.StatusInternalServerError, codeInternal, "Refund failed.")
		}
		return
	}
	writeJSON(w, http.StatusOK, refund)
}

// CancelTransactionHandler cancels a PENDING transaction before processing.
func (h *Handlers) CancelTransactionHandler(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if err := h.service.CancelPendingTransaction(r.Context(), code); err != nil {
		switch {
		case errors.Is(err, store.ErrTransactionNotFound):
			writeErrorCode(w, http.StatusNotFound, codeNotFound, "Transaction not found.")
		case errors.Is(err, store.ErrNotCancellable):
			writeErrorCode(w, http.StatusConflict, codeConflict, "Only pending transactions can be cancelled.")
		default:
			log.Printf("level=error component=api msg=\"cancel failed\" code=%s err=%v", code, err)
			writeErrorCode(w, http.StatusInternalServerError, codeInternal, "Cancel failed.")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// ListUnmatchedWebhooksHandler exposes the manual reconciliation queue.
func (h *Handlers) ListUnmatchedWebhooksHandler(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	records, err := h.service.ListUnmatchedWebhooks(r.Context(), limit, offset)
	if err != nil {
		log.Printf("level=error component=api msg=\"unmatched webhook list failed\" err=%v", err)
		writeErrorCode(w, http.StatusInternalServerError, codeInternal, "Unable to load reconciliation queue.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"unmatched_webhooks": records})
}
