/**
 * @description
 * This file defines the core domain models for the deposit reconciliation and
 * wallet ledger service. These structs represent the main entities used by the
 * business logic, database interactions, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (VND has no
 *   minor unit, so 1 == 1 dong), which avoids floating-point inaccuracies
 *   with financial data.
 * - LedgerTransaction rows are immutable once they reach a terminal status;
 *   the only sanctioned post-terminal move is SUCCESS -> REFUNDED.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Transaction types recorded in the ledger.
const (
	TxTypeDeposit     = "DEPOSIT"
	TxTypePurchase    = "PURCHASE"
	TxTypeRefund      = "REFUND"
	TxTypeAdminAdjust = "ADMIN_ADJUST"
)

// Transaction statuses. PENDING -> PROCESSING -> {SUCCESS | FAILED | CANCELLED},
// and SUCCESS -> REFUNDED via the explicitly authorized refund path only.
const (
	TxStatusPending    = "PENDING"
	TxStatusProcessing = "PROCESSING"
	TxStatusSuccess    = "SUCCESS"
	TxStatusFailed     = "FAILED"
	TxStatusCancelled  = "CANCELLED"
	TxStatusRefunded   = "REFUNDED"
)

// Wallet represents a user's single-currency balance store.
// This struct maps directly to the `wallets` table in the database.
type Wallet struct {
	ID               uuid.UUID `json:"id"`
	UserID           int64     `json:"user_id"`
	Balance          int64     `json:"balance"`
	TotalDeposited   int64     `json:"total_deposited"`
	TotalSpent       int64     `json:"total_spent"`
	RankBonusPercent int64     `json:"rank_bonus_percent"`
	Locked           bool      `json:"locked"`
	LockReason       *string   `json:"lock_reason,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// LedgerTransaction is the central ledger record for any balance movement.
// This struct maps directly to the `ledger_transactions` table.
type LedgerTransaction struct {
	ID            uuid.UUID  `json:"id"`
	Code          string     `json:"code"` // internal transaction code, unique, generated at creation
	WalletID      uuid.UUID  `json:"wallet_id"`
	Type          string     `json:"type"`
	Status        string     `json:"status"`
	Amount        int64      `json:"amount"`
	BonusAmount   int64      `json:"bonus_amount"`
	BalanceBefore int64      `json:"balance_before"`
	BalanceAfter  int64      `json:"balance_after"`
	PaymentMethod string     `json:"payment_method"`
	Provider      *string    `json:"provider,omitempty"`
	ExternalRef   *string    `json:"external_ref,omitempty"`
	Description   string     `json:"description"`
	// OccurredAt is the provider-reported time of the underlying payment,
	// distinct from CreatedAt (when this row was written).
	OccurredAt    *time.Time `json:"occurred_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// ExternalEventRecord is the dedup key for an external payment notification.
// At most one ledger transaction may ever be created per (provider, external_id).
type ExternalEventRecord struct {
	Provider   string    `json:"provider"`
	ExternalID string    `json:"external_id"`
	ReceivedAt time.Time `json:"received_at"`
}

// UnmatchedWebhook records a normalized payment that could not be matched to a
// wallet, so operators can reconcile it manually. Matching failures are never
// surfaced as errors to the provider.
type UnmatchedWebhook struct {
	ID          uuid.UUID `json:"id"`
	Provider    string    `json:"provider"`
	ExternalID  string    `json:"external_id"`
	Amount      int64     `json:"amount"`
	Description string    `json:"description"`
	Reason      string    `json:"reason"`
	ReceivedAt  time.Time `json:"received_at"`
}
