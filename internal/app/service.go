/**
 * @description
 * This file contains the core application service for deposit reconciliation.
 * It orchestrates the full webhook pipeline: provider normalization, deposit
 * code matching, the atomic ledger commit, and post-commit notification
 * dispatch. It also exposes the wallet read operations, the refund/cancel
 * paths, and API key management used by the HTTP layer.
 *
 * @dependencies
 * - internal/depositcode: Deposit code validation.
 * - internal/provider: Per-provider payload normalization.
 * - internal/store: The repository interface and its sentinel errors.
 * - github.com/oklog/ulid/v2: Internal transaction code generation.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/DatDio/backend-sub001/internal/apikey"
	"github.com/DatDio/backend-sub001/internal/depositcode"
	"github.com/DatDio/backend-sub001/internal/domain"
	"github.com/DatDio/backend-sub001/internal/provider"
	"github.com/DatDio/backend-sub001/internal/store"
)

// ErrWalletLocked is re-exported so the API layer does not reach into store
// for commit outcomes it has to translate.
var ErrWalletLocked = store.ErrWalletLocked

// NotificationDispatcher is the consumed interface for pushing deposit
// completion events to live clients. Publishing happens strictly after the
// ledger commit; a publish failure never affects the credit.
type NotificationDispatcher interface {
	PublishDepositSuccess(ctx context.Context, event domain.DepositSuccessEvent) error
}

// WebhookSummary reports what happened to each transaction in one delivery.
// Every outcome except a normalization failure of the whole payload is
// acknowledged with HTTP 200 so providers stop retrying.
type WebhookSummary struct {
	Received   int `json:"received"`
	Credited   int `json:"credited"`
	Duplicates int `json:"duplicates"`
	Unmatched  int `json:"unmatched"`
	Failed     int `json:"failed"`
}

// Service implements the deposit reconciliation and wallet ledger core.
type Service struct {
	repo       store.Repository
	codec      *depositcode.Codec
	codeRe     *regexp.Regexp
	dispatcher NotificationDispatcher
}

// NewService creates the application service with its dependencies.
func NewService(repo store.Repository, codec *depositcode.Codec, dispatcher NotificationDispatcher) *Service {
	return &Service{
		repo:       repo,
		codec:      codec,
		codeRe:     compileCandidatePattern(codec.Prefix()),
		dispatcher: dispatcher,
	}
}

// Codec exposes the deposit code codec, e.g. for the encode API endpoint.
func (s *Service) Codec() *depositcode.Codec {
	return s.codec
}

// ProcessWebhook runs one provider delivery through the full pipeline. It
// returns an error only when the payload as a whole is unparseable; per-item
// failures are isolated and reflected in the summary.
func (s *Service) ProcessWebhook(ctx context.Context, providerID string, payload []byte) (WebhookSummary, error) {
	normalizer, err := provider.ForProvider(providerID)
	if err != nil {
		return WebhookSummary{}, err
	}
	txns, err := normalizer.Normalize(payload)
	if err != nil {
		return WebhookSummary{}, err
	}

	summary := WebhookSummary{Received: len(txns)}
	for _, tx := range txns {
		outcome := s.processCanonical(ctx, tx)
		switch outcome {
		case outcomeCredited:
			summary.Credited++
		case outcomeDuplicate:
			summary.Duplicates++
		case outcomeUnmatched:
			summary.Unmatched++
		case outcomeFailed:
			summary.Failed++
		}
	}
	return summary, nil
}

type commitOutcome int

const (
	outcomeCredited commitOutcome = iota
	outcomeDuplicate
	outcomeUnmatched
	outcomeFailed
)

func (s *Service) processCanonical(ctx context.Context, tx domain.CanonicalTransaction) commitOutcome {
	if tx.AmountUnparseable {
		s.recordUnmatched(ctx, tx, "amount not parseable")
		return outcomeUnmatched
	}
	if tx.Amount <= 0 {
		s.recordUnmatched(ctx, tx, "non-positive amount")
		return outcomeUnmatched
	}

	match, reason := s.Match(ctx, tx)
	if match == nil {
		s.recordUnmatched(ctx, tx, reason)
		return outcomeUnmatched
	}

	result, err := s.repo.CommitDeposit(ctx, store.CommitDepositParams{
		Provider:      tx.Provider,
		ExternalID:    tx.ExternalID,
		WalletID:      match.WalletID,
		Amount:        tx.Amount,
		Code:          newTransactionCode(),
		PaymentMethod: tx.Provider,
		Description:   tx.RawDescription,
		OccurredAt:    tx.OccurredAt,
	})
	if err != nil {
		if errors.Is(err, store.ErrWalletLocked) {
			s.recordUnmatched(ctx, tx, "wallet is locked")
			return outcomeUnmatched
		}
		// Rolled back in full; the provider's retry will land on a clean
		// slate because the dedup key insert rolled back too.
		log.Printf("level=error component=ledger msg=\"deposit commit failed\" provider=%s external_id=%s err=%v",
			tx.Provider, tx.ExternalID, err)
		return outcomeFailed
	}
	if result.Duplicate {
		// Best-effort: the first-receipt timestamp helps operators correlate
		// provider retry storms. A lookup failure changes nothing.
		if event, lookupErr := s.repo.FindExternalEvent(ctx, tx.Provider, tx.ExternalID); lookupErr == nil {
			log.Printf("level=info component=ledger msg=\"duplicate delivery ignored\" provider=%s external_id=%s first_received_at=%s",
				tx.Provider, tx.ExternalID, event.ReceivedAt.Format(time.RFC3339))
		} else {
			log.Printf("level=info component=ledger msg=\"duplicate delivery ignored\" provider=%s external_id=%s",
				tx.Provider, tx.ExternalID)
		}
		return outcomeDuplicate
	}

	s.publishDepositSuccess(ctx, result)
	return outcomeCredited
}

func (s *Service) publishDepositSuccess(ctx context.Context, result *store.CommitDepositResult) {
	if s.dispatcher == nil {
		return
	}
	ledgerTx := result.Transaction
	event := domain.DepositSuccessEvent{
		UserID:          result.UserID,
		TransactionCode: ledgerTx.Code,
		Amount:          ledgerTx.Amount,
		BonusAmount:     ledgerTx.BonusAmount,
		TotalAmount:     ledgerTx.Amount + ledgerTx.BonusAmount,
		NewBalance:      ledgerTx.BalanceAfter,
		Timestamp:       time.Now().UTC(),
	}
	if err := s.dispatcher.PublishDepositSuccess(ctx, event); err != nil {
		// After-effect only: the credit is already committed.
		log.Printf("level=warn component=ledger msg=\"deposit event publish failed\" code=%s err=%v",
			ledgerTx.Code, err)
	}
}

func (s *Service) recordUnmatched(ctx context.Context, tx domain.CanonicalTransaction, reason string) {
	log.Printf("level=warn component=matcher msg=\"webhook left unmatched\" provider=%s external_id=%s reason=%q",
		tx.Provider, tx.ExternalID, reason)
	record := domain.UnmatchedWebhook{
		Provider:    tx.Provider,
		ExternalID:  tx.ExternalID,
		Amount:      tx.Amount,
		Description: tx.RawDescription,
		Reason:      reason,
	}
	if err := s.repo.RecordUnmatchedWebhook(ctx, record); err != nil {
		log.Printf("level=error component=matcher msg=\"unmatched webhook record failed\" provider=%s external_id=%s err=%v",
			tx.Provider, tx.ExternalID, err)
	}
}

// newTransactionCode generates the unique internal ledger transaction code.
func newTransactionCode() string {
	return "TXN" + ulid.Make().String()
}

// GetWallet returns the wallet owned by a user.
func (s *Service) GetWallet(ctx context.Context, userID int64) (*domain.Wallet, error) {
	return s.repo.FindWalletByUserID(ctx, userID)
}

// ListTransactions returns a user's ledger history, newest first.
func (s *Service) ListTransactions(ctx context.Context, userID int64, limit, offset int) ([]domain.LedgerTransaction, error) {
	wallet, err := s.repo.FindWalletByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListTransactionsByWallet(ctx, wallet.ID, limit, offset)
}

// ListUnmatchedWebhooks exposes the manual reconciliation queue to operators.
func (s *Service) ListUnmatchedWebhooks(ctx context.Context, limit, offset int) ([]domain.UnmatchedWebhook, error) {
	return s.repo.ListUnmatchedWebhooks(ctx, limit, offset)
}

// RefundDeposit reverses a successful deposit. It is only reachable through
// the explicitly authorized admin path, never the webhook pipeline.
func (s *Service) RefundDeposit(ctx context.Context, code string, reason string) (*domain.LedgerTransaction, error) {
	if reason == "" {
		reason = "admin refund"
	}
	return s.repo.RefundDeposit(ctx, code, newTransactionCode(), reason)
}

// CancelPendingTransaction cancels a transaction that never started
// processing.
func (s *Service) CancelPendingTransaction(ctx context.Context, code string) error {
	return s.repo.CancelPendingTransaction(ctx, code)
}

// CreateAPIKey generates and persists a fresh key for a user. The returned
// plaintext is shown to the caller exactly once and is unrecoverable after.
func (s *Service) CreateAPIKey(ctx context.Context, userID int64, label string, expiresAt *time.Time) (string, *domain.APIKey, error) {
	plaintext, digest, err := apikey.Generate()
	if err != nil {
		return "", nil, err
	}
	if expiresAt != nil && !expiresAt.After(time.Now()) {
		return "", nil, fmt.Errorf("api key expiry must be in the future")
	}
	key := &domain.APIKey{
		ID:        uuid.New(),
		UserID:    userID,
		Label:     label,
		KeyDigest: digest,
		Status:    domain.APIKeyStatusActive,
		ExpiresAt: expiresAt,
	}
	if err := s.repo.CreateAPIKey(ctx, key); err != nil {
		return "", nil, err
	}
	return plaintext, key, nil
}

// RevokeAPIKey deactivates one of the user's keys.
func (s *Service) RevokeAPIKey(ctx context.Context, userID int64, keyID uuid.UUID) error {
	return s.repo.RevokeAPIKey(ctx, keyID, userID)
}

// ListAPIKeys returns the user's key records (digests only, never plaintext).
func (s *Service) ListAPIKeys(ctx context.Context, userID int64) ([]domain.APIKey, error) {
	return s.repo.ListAPIKeysByUserID(ctx, userID)
}
