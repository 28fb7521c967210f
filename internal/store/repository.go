/**
 * @description
 * This file defines the `Repository` interface, the contract for all data
 * access the service needs. The interface decouples the ledger and matching
 * logic from PostgreSQL so the business rules can be tested against fake
 * repositories.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/DatDio/backend-sub001/internal/domain"
)

var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrWalletLocked        = errors.New("wallet is locked")
	ErrTransactionNotFound = errors.New("ledger transaction not found")
	ErrNotRefundable       = errors.New("transaction is not refundable")
	ErrNotCancellable      = errors.New("transaction is not cancellable")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrAPIKeyNotFound      = errors.New("api key not found")
	ErrEventNotFound       = errors.New("external event not found")
)

// CommitDepositParams carries everything the atomic deposit unit of work
// needs. The bonus is computed inside the unit from the wallet's rank bonus
// percent, under the row lock.
type CommitDepositParams struct {
	Provider      string
	ExternalID    string
	WalletID      uuid.UUID
	Amount        int64
	Code          string // internal transaction code, generated by the caller
	PaymentMethod string
	Description   string
	OccurredAt    time.Time
}

// CommitDepositResult reports the outcome of the atomic deposit unit.
// Duplicate means the (provider, externalID) dedup key already existed and
// nothing was written; Transaction is nil in that case.
type CommitDepositResult struct {
	Duplicate   bool
	UserID      int64
	Transaction *domain.LedgerTransaction
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Wallet methods
	FindWalletByUserID(ctx context.Context, userID int64) (*domain.Wallet, error)
	FindWalletByID(ctx context.Context, walletID uuid.UUID) (*domain.Wallet, error)

	// Ledger methods. CommitDeposit is the single atomic unit of work for a
	// webhook credit: dedup-key insert, wallet row lock, bonus computation,
	// balance mutation, and the PENDING -> PROCESSING -> SUCCESS transition
	// all commit or roll back together.
	CommitDeposit(ctx context.Context, params CommitDepositParams) (*CommitDepositResult, error)
	FindExternalEvent(ctx context.Context, provider, externalID string) (*domain.ExternalEventRecord, error)
	RefundDeposit(ctx context.Context, code string, refundCode string, reason string) (*domain.LedgerTransaction, error)
	CancelPendingTransaction(ctx context.Context, code string) error
	FindTransactionByCode(ctx context.Context, code string) (*domain.LedgerTransaction, error)
	ListTransactionsByWallet(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]domain.LedgerTransaction, error)

	// Reconciliation methods
	RecordUnmatchedWebhook(ctx context.Context, record domain.UnmatchedWebhook) error
	ListUnmatchedWebhooks(ctx context.Context, limit, offset int) ([]domain.UnmatchedWebhook, error)

	// API key methods
	CreateAPIKey(ctx context.Context, key *domain.APIKey) error
	FindAPIKeyByDigest(ctx context.Context, digest string) (*domain.APIKey, error)
	TouchAPIKeyLastUsed(ctx context.Context, keyID uuid.UUID, usedAt time.Time) error
	RevokeAPIKey(ctx context.Context, keyID uuid.UUID, userID int64) error
	ListAPIKeysByUserID(ctx context.Context, userID int64) ([]domain.APIKey, error)
}
