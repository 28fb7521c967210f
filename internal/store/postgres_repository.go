/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all SQL for wallets, ledger transactions, external
 * event dedup records, unmatched webhooks, and API keys.
 *
 * The deposit commit is a single database transaction: the dedup-key insert
 * uses ON CONFLICT DO NOTHING as the atomic check-and-insert, and the wallet
 * row is locked with SELECT ... FOR UPDATE so same-wallet deposits serialize
 * while distinct wallets proceed in parallel.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DatDio/backend-sub001/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const walletColumns = `id, user_id, balance, total_deposited, total_spent, rank_bonus_percent, locked, lock_reason, created_at, updated_at`

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	var w domain.Wallet
	err := row.Scan(
		&w.ID, &w.UserID, &w.Balance, &w.TotalDeposited, &w.TotalSpent,
		&w.RankBonusPercent, &w.Locked, &w.LockReason, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

// FindWalletByUserID retrieves a wallet by its owning user id.
func (r *PostgresRepository) FindWalletByUserID(ctx context.Context, userID int64) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1`
	return scanWallet(r.db.QueryRow(ctx, query, userID))
}

// FindWalletByID retrieves a wallet by its primary key.
func (r *PostgresRepository) FindWalletByID(ctx context.Context, walletID uuid.UUID) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1`
	return scanWallet(r.db.QueryRow(ctx, query, walletID))
}

// CommitDeposit executes the whole deposit credit as one database transaction.
//
// Step order matters: the dedup insert runs first so concurrent duplicate
// deliveries race on the unique constraint rather than on application state,
// and a rollback of any later step also rolls the dedup key back, keeping the
// external event safe for the provider to retry.
func (r *PostgresRepository) CommitDeposit(ctx context.Context, params CommitDepositParams) (*CommitDepositResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// 1. Atomic check-and-insert of the (provider, external_id) dedup key.
	tag, err := tx.Exec(ctx,
		`INSERT INTO external_events (provider, external_id, received_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (provider, external_id) DO NOTHING`,
		params.Provider, params.ExternalID,
	)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return &CommitDepositResult{Duplicate: true}, nil
	}

	// 2. Lock the wallet row; same-wallet deposits serialize here.
	var (
		userID        int64
		balanceBefore int64
		bonusPercent  int64
		locked        bool
	)
	err = tx.QueryRow(ctx,
		`SELECT user_id, balance, rank_bonus_percent, locked FROM wallets WHERE id = $1 FOR UPDATE`,
		params.WalletID,
	).Scan(&userID, &balanceBefore, &bonusPercent, &locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	if locked {
		return nil, ErrWalletLocked
	}

	// 3. Bonus is integer math on minor units, floored by division.
	bonus := params.Amount * bonusPercent / 100
	totalCredited := params.Amount + bonus
	balanceAfter := balanceBefore + totalCredited

	// 4. Record the transaction and walk it PENDING -> PROCESSING -> SUCCESS
	// inside the same unit of work. balance_after is written exactly once, by
	// the transition into SUCCESS.
	var occurredAt *time.Time
	if !params.OccurredAt.IsZero() {
		occurredAt = &params.OccurredAt
	}
	ledgerTx := &domain.LedgerTransaction{
		ID:            uuid.New(),
		Code:          params.Code,
		WalletID:      params.WalletID,
		Type:          domain.TxTypeDeposit,
		Status:        domain.TxStatusPending,
		Amount:        params.Amount,
		BonusAmount:   bonus,
		PaymentMethod: params.PaymentMethod,
		Description:   params.Description,
		OccurredAt:    occurredAt,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO ledger_transactions
			(id, code, wallet_id, type, status, amount, bonus_amount, payment_method, provider, external_ref, description, occurred_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		 RETURNING created_at`,
		ledgerTx.ID, ledgerTx.Code, ledgerTx.WalletID, ledgerTx.Type, ledgerTx.Status,
		ledgerTx.Amount, ledgerTx.BonusAmount, ledgerTx.PaymentMethod,
		params.Provider, params.ExternalID, ledgerTx.Description, occurredAt,
	).Scan(&ledgerTx.CreatedAt)
	if err != nil {
		return nil, err
	}

	if _, err = tx.Exec(ctx,
		`UPDATE ledger_transactions SET status = $1 WHERE id = $2`,
		domain.TxStatusProcessing, ledgerTx.ID,
	); err != nil {
		return nil, err
	}

	var completedAt time.Time
	err = tx.QueryRow(ctx,
		`UPDATE ledger_transactions
		 SET status = $1, balance_before = $2, balance_after = $3, completed_at = NOW()
		 WHERE id = $4
		 RETURNING completed_at`,
		domain.TxStatusSuccess, balanceBefore, balanceAfter, ledgerTx.ID,
	).Scan(&completedAt)
	if err != nil {
		return nil, err
	}

	if _, err = tx.Exec(ctx,
		`UPDATE wallets
		 SET balance = balance + $1, total_deposited = total_deposited + $1, updated_at = NOW()
		 WHERE id = $2`,
		totalCredited, params.WalletID,
	); err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}

	ledgerTx.Status = domain.TxStatusSuccess
	ledgerTx.BalanceBefore = balanceBefore
	ledgerTx.BalanceAfter = balanceAfter
	ledgerTx.Provider = &params.Provider
	ledgerTx.ExternalRef = &params.ExternalID
	ledgerTx.CompletedAt = &completedAt
	return &CommitDepositResult{UserID: userID, Transaction: ledgerTx}, nil
}

// FindExternalEvent looks up the dedup record for a (provider, external_id)
// pair, reporting when the event was first received.
func (r *PostgresRepository) FindExternalEvent(ctx context.Context, provider, externalID string) (*domain.ExternalEventRecord, error) {
	var record domain.ExternalEventRecord
	err := r.db.QueryRow(ctx,
		`SELECT provider, external_id, received_at FROM external_events WHERE provider = $1 AND external_id = $2`,
		provider, externalID,
	).Scan(&record.Provider, &record.ExternalID, &record.ReceivedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return &record, nil
}

// RefundDeposit reverses a successful deposit: the original row moves
// SUCCESS -> REFUNDED and a dedicated REFUND transaction records the debit.
// The wallet must still hold the credited total; the balance never goes
// negative at a committed state.
func (r *PostgresRepository) RefundDeposit(ctx context.Context, code string, refundCode string, reason string) (*domain.LedgerTransaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var (
		originalID uuid.UUID
		walletID   uuid.UUID
		txType     string
		status     string
		amount     int64
		bonus      int64
	)
	err = tx.QueryRow(ctx,
		`SELECT id, wallet_id, type, status, amount, bonus_amount
		 FROM ledger_transactions WHERE code = $1 FOR UPDATE`,
		code,
	).Scan(&originalID, &walletID, &txType, &status, &amount, &bonus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	if txType != domain.TxTypeDeposit || status != domain.TxStatusSuccess {
		return nil, ErrNotRefundable
	}

	var balanceBefore int64
	err = tx.QueryRow(ctx, `SELECT balance FROM wallets WHERE id = $1 FOR UPDATE`, walletID).Scan(&balanceBefore)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}

	total := amount + bonus
	if balanceBefore < total {
		return nil, ErrInsufficientFunds
	}
	balanceAfter := balanceBefore - total

	refund := &domain.LedgerTransaction{
		ID:            uuid.New(),
		Code:          refundCode,
		WalletID:      walletID,
		Type:          domain.TxTypeRefund,
		Status:        domain.TxStatusSuccess,
		Amount:        -total,
		BalanceBefore: balanceBefore,
		BalanceAfter:  balanceAfter,
		PaymentMethod: "refund",
		Description:   fmt.Sprintf("refund of %s: %s", code, reason),
	}
	var completedAt time.Time
	err = tx.QueryRow(ctx,
		`INSERT INTO ledger_transactions
			(id, code, wallet_id, type, status, amount, bonus_amount, balance_before, balance_after, payment_method, description, created_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9, $10, NOW(), NOW())
		 RETURNING completed_at`,
		refund.ID, refund.Code, refund.WalletID, refund.Type, refund.Status,
		refund.Amount, refund.BalanceBefore, refund.BalanceAfter,
		refund.PaymentMethod, refund.Description,
	).Scan(&completedAt)
	if err != nil {
		return nil, err
	}
	refund.CompletedAt = &completedAt

	if _, err = tx.Exec(ctx,
		`UPDATE ledger_transactions SET status = $1 WHERE id = $2`,
		domain.TxStatusRefunded, originalID,
	); err != nil {
		return nil, err
	}

	if _, err = tx.Exec(ctx,
		`UPDATE wallets SET balance = balance - $1, updated_at = NOW() WHERE id = $2`,
		total, walletID,
	); err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	return refund, nil
}

// CancelPendingTransaction moves a PENDING transaction to CANCELLED. Any
// other source status is rejected: terminal statuses never regress.
func (r *PostgresRepository) CancelPendingTransaction(ctx context.Context, code string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE ledger_transactions SET status = $1 WHERE code = $2 AND status = $3`,
		domain.TxStatusCancelled, code, domain.TxStatusPending,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM ledger_transactions WHERE code = $1)`, code,
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrTransactionNotFound
		}
		return ErrNotCancellable
	}
	return nil
}

const ledgerColumns = `id, code, wallet_id, type, status, amount, bonus_amount, balance_before, balance_after, payment_method, provider, external_ref, description, occurred_at, created_at, completed_at`

func scanLedgerTransaction(row pgx.Row) (*domain.LedgerTransaction, error) {
	var t domain.LedgerTransaction
	err := row.Scan(
		&t.ID, &t.Code, &t.WalletID, &t.Type, &t.Status, &t.Amount, &t.BonusAmount,
		&t.BalanceBefore, &t.BalanceAfter, &t.PaymentMethod, &t.Provider,
		&t.ExternalRef, &t.Description, &t.OccurredAt, &t.CreatedAt, &t.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &t, nil
}

// FindTransactionByCode retrieves a ledger transaction by its internal code.
func (r *PostgresRepository) FindTransactionByCode(ctx context.Context, code string) (*domain.LedgerTransaction, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_transactions WHERE code = $1`
	return scanLedgerTransaction(r.db.QueryRow(ctx, query, code))
}

// ListTransactionsByWallet returns a wallet's ledger history, newest first.
func (r *PostgresRepository) ListTransactionsByWallet(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]domain.LedgerTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + ledgerColumns + `
		FROM ledger_transactions WHERE wallet_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.db.Query(ctx, query, walletID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []domain.LedgerTransaction
	for rows.Next() {
		t, err := scanLedgerTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *t)
	}
	return txns, rows.Err()
}

// RecordUnmatchedWebhook stores a normalized payment that found no wallet,
// for manual reconciliation.
func (r *PostgresRepository) RecordUnmatchedWebhook(ctx context.Context, record domain.UnmatchedWebhook) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO unmatched_webhooks (id, provider, external_id, amount, description, reason, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())
		 ON CONFLICT (provider, external_id) DO NOTHING`,
		uuid.New(), record.Provider, record.ExternalID, record.Amount, record.Description, record.Reason,
	)
	return err
}

// ListUnmatchedWebhooks returns the manual reconciliation queue, oldest first.
func (r *PostgresRepository) ListUnmatchedWebhooks(ctx context.Context, limit, offset int) ([]domain.UnmatchedWebhook, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, provider, external_id, amount, description, reason, received_at
		 FROM unmatched_webhooks ORDER BY received_at ASC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.UnmatchedWebhook
	for rows.Next() {
		var u domain.UnmatchedWebhook
		if err := rows.Scan(&u.ID, &u.Provider, &u.ExternalID, &u.Amount, &u.Description, &u.Reason, &u.ReceivedAt); err != nil {
			return nil, err
		}
		records = append(records, u)
	}
	return records, rows.Err()
}

// CreateAPIKey persists a freshly generated key record. Only the digest is
// stored; the plaintext never reaches this layer.
func (r *PostgresRepository) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	return r.db.QueryRow(ctx,
		`INSERT INTO api_keys (id, user_id, label, key_digest, status, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())
		 RETURNING created_at`,
		key.ID, key.UserID, key.Label, key.KeyDigest, key.Status, key.ExpiresAt,
	).Scan(&key.CreatedAt)
}

// FindAPIKeyByDigest looks up a key record by the digest of a presented key.
func (r *PostgresRepository) FindAPIKeyByDigest(ctx context.Context, digest string) (*domain.APIKey, error) {
	var k domain.APIKey
	err := r.db.QueryRow(ctx,
		`SELECT id, user_id, label, key_digest, status, expires_at, last_used_at, created_at
		 FROM api_keys WHERE key_digest = $1`,
		digest,
	).Scan(&k.ID, &k.UserID, &k.Label, &k.KeyDigest, &k.Status, &k.ExpiresAt, &k.LastUsedAt, &k.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAPIKeyNotFound
		}
		return nil, err
	}
	return &k, nil
}

// TouchAPIKeyLastUsed updates the last-used timestamp. Callers treat failures
// as best-effort.
func (r *PostgresRepository) TouchAPIKeyLastUsed(ctx context.Context, keyID uuid.UUID, usedAt time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, usedAt, keyID)
	return err
}

// RevokeAPIKey flips a key to INACTIVE. Keys are never hard-deleted while the
// audit trail references them.
func (r *PostgresRepository) RevokeAPIKey(ctx context.Context, keyID uuid.UUID, userID int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE api_keys SET status = $1 WHERE id = $2 AND user_id = $3`,
		domain.APIKeyStatusInactive, keyID, userID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}

// ListAPIKeysByUserID returns a user's key records, newest first.
func (r *PostgresRepository) ListAPIKeysByUserID(ctx context.Context, userID int64) ([]domain.APIKey, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, label, key_digest, status, expires_at, last_used_at, created_at
		 FROM api_keys WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []domain.APIKey
	for rows.Next() {
		var k domain.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Label, &k.KeyDigest, &k.Status, &k.ExpiresAt, &k.LastUsedAt, &k.CreatedAt); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
