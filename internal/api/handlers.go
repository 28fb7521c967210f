/**
 * @description
 * This file contains the HTTP handlers for the authenticated wallet API and
 * API key self-service, plus the shared response helpers and the stable
 * machine-readable error codes used across the service.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: Service logic, models, errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/DatDio/backend-sub001/internal/app"
	"github.com/DatDio/backend-sub001/internal/store"
)

// Stable error codes. Clients dispatch on these, so they are wire-frozen.
const (
	codeRateLimited    = "RATE_LIMITED"
	codeUnauthorized   = "UNAUTHORIZED"
	codeForbidden      = "FORBIDDEN"
	codeInvalidPayload = "INVALID_PAYLOAD"
	codeNotFound       = "NOT_FOUND"
	codeConflict       = "CONFLICT"
	codeInternal       = "INTERNAL_ERROR"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Code: code, Message: message})
}

// Handlers holds the application service the HTTP layer delegates to.
type Handlers struct {
	service *app.Service
}

// NewHandlers creates the handler set.
func NewHandlers(service *app.Service) *Handlers {
	return &Handlers{service: service}
}

// GetWalletHandler returns the authenticated user's wallet.
func (h *Handlers) GetWalletHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeErrorCode(w, http.StatusUnauthorized, codeUnauthorized, "Authentication required.")
		return
	}
	wallet, err := h.service.GetWallet(r.Context(), principal.UserID)
	if err != nil {
		if errors.Is(err, store.ErrWalletNotFound) {
			writeErrorCode(w, http.StatusNotFound, codeNotFound, "Wallet not found.")
			return
		}
		log.Printf("level=error component=api msg=\"wallet lookup failed\" user_id=%d err=%v", principal.UserID, err)
		writeErrorCode(w, http.StatusInternalServerError, codeInternal, "Unable to load wallet.")
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// ListTransactionsHandler returns the authenticated user's ledger history.
func (h *Handlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeErrorCode(w, http.StatusUnauthorized, codeUnauthorized, "Authentication required.")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	txns, err := h.service.ListTransactions(r.Context(), principal.UserID, limit, offset)
	if err != nil {
		if errors.Is(err, store.ErrWalletNotFound) {
			writeErrorCode(w, http.StatusNotFound, codeNotFound, "Wallet not found.")
			return
		}
		log.Printf("level=error component=api msg=\"transaction list failed\" user_id=%d err=%v", principal.UserID, err)
		writeErrorCode(w, http.StatusInternalServerError, codeInternal, "Unable to load transactions.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": txns})
}

// GetDepositCodeHandler returns the deposit code the user must put into a
// bank transfer description.
func (h *Handlers) GetDepositCodeHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeErrorCode(w, http.StatusUnauthorized, codeUnauthorized, "Authentication required.")
		return
	}
	code, err := h.service.Codec().Encode(principal.UserID)
	if err != nil {
		log.Printf("level=error component=api msg=\"deposit code encode failed\" user_id=%d err=%v", principal.UserID, err)
		writeErrorCode(w, http.StatusInternalServerError, codeInternal, "Unable to build deposit code.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deposit_code": code})
}

type createAPIKeyRequest struct {
	Label     string     `json:"label"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type createAPIKeyResponse struct {
	// Key is the plaintext secret, returned exactly once. It is not
	// retrievable afterwards; only its digest is stored.
	Key       string     `json:"key"`
	ID        string     `json:"id"`
	Label     string     `json:"label"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// CreateAPIKeyHandler issues a fresh key for the authenticated user.
func (h *Handlers) CreateAPIKeyHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeErrorCode(w, http.StatusUnauthorized, codeUnauthorized, "Authentication required.")
		return
	}
	var req createAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, codeInvalidPayload, "Invalid request body.")
		return
	}

	plaintext, key, err := h.service.CreateAPIKey(r.Context(), principal.UserID, req.Label, req.ExpiresAt)
	if err != nil {
		log.Printf("level=error component=api msg=\"api key creation failed\" user_id=%d err=%v", principal.UserID, err)
		writeErrorCode(w, http.StatusInternalServerError, codeInternal, "Unable to create API key.")
		return
	}
	writeJSON(w, http.StatusCreated, createAPIKeyResponse{
		Key:       plaintext,
		ID:        key.ID.String(),
		Label:     key.Label,
		ExpiresAt: key.ExpiresAt,
	})
}

// ListAPIKeysHandler lists the authenticated user's key records.
func (h *Handlers) ListAPIKeysHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeErrorCode(w, http.StatusUnauthorized, codeUnauthorized, "Authentication required.")
		return
	}
	keys, err := h.service.ListAPIKeys(r.Context(), principal.UserID)
	if err != nil {
		log.Printf("level=error component=api msg=\"api key list failed\" user_id=%d err=%v", principal.UserID, err)
		writeErrorCode(w, http.StatusInternalServerError, codeInternal, "Unable to list API keys.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"api_keys": keys})
}

// RevokeAPIKeyHandler deactivates one of the authenticated user's keys.
func (h *Handlers) RevokeAPIKeyHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeErrorCode(w, http.StatusUnauthorized, codeUnauthorized, "Authentication required.")
		return
	}
	keyID, err := uuid.Parse(chi.URLParam(r, "keyID"))
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, codeInvalidPayload, "Invalid key id.")
		return
	}
	if err := h.service.RevokeAPIKey(r.Context(), principal.UserID, keyID); err != nil {
		if errors.Is(err, store.ErrAPIKeyNotFound) {
			writeErrorCode(w, http.StatusNotFound, codeNotFound, "API key not found.")
			return
		}
		log.Printf("level=error component=api msg=\"api key revoke failed\" user_id=%d key_id=%s err=%v", principal.UserID, keyID, err)
		writeErrorCode(w, http.StatusInternalServerError, codeInternal, "Unable to revoke API key.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
