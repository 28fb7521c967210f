/**
 * @description
 * This file contains the webhook ingress handler, the entry point for all
 * payment provider notifications. The acknowledgment contract is deliberate:
 * HTTP 200 for credited, duplicate, and unmatched outcomes alike, so a
 * provider's retry loop terminates; non-200 only for payloads that cannot be
 * parsed at all.
 */

package api

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/DatDio/backend-sub001/internal/app"
	"github.com/DatDio/backend-sub001/internal/provider"
)

// maxWebhookBodyBytes bounds what an untrusted provider endpoint will read.
const maxWebhookBodyBytes = 1 << 20

type webhookAck struct {
	Success bool               `json:"success"`
	Summary app.WebhookSummary `json:"summary"`
}

// WebhookHandler processes one provider delivery end to end.
func (h *Handlers) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "provider")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, codeInvalidPayload, "Cannot read request body.")
		return
	}

	summary, err := h.service.ProcessWebhook(r.Context(), providerID, body)
	if err != nil {
		if errors.Is(err, provider.ErrUnknownProvider) {
			writeErrorCode(w, http.StatusNotFound, codeNotFound, "Unknown provider.")
			return
		}
		// Structurally unparseable payload: the one case where the provider
		// is told to stop and look at what it sent.
		log.Printf("level=warn component=webhook msg=\"payload rejected\" provider=%s err=%v", providerID, err)
		writeErrorCode(w, http.StatusBadRequest, codeInvalidPayload, "Payload could not be parsed.")
		return
	}

	log.Printf("level=info component=webhook msg=\"delivery processed\" provider=%s received=%d credited=%d duplicates=%d unmatched=%d failed=%d",
		providerID, summary.Received, summary.Credited, summary.Duplicates, summary.Unmatched, summary.Failed)
	writeJSON(w, http.StatusOK, webhookAck{Success: true, Summary: summary})
}
