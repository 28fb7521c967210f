/**
 * @description
 * This file defines the provider-agnostic canonical transaction shape. Every
 * webhook payload, regardless of which aggregator or gateway delivered it, is
 * normalized into this form before matching and ledger commit.
 */

package domain

import "time"

// CanonicalTransaction is the normalized representation of one incoming
// payment notification.
type CanonicalTransaction struct {
	Provider         string    `json:"provider"`
	ExternalID       string    `json:"external_id"`
	Amount           int64     `json:"amount"` // minor units
	RawDescription   string    `json:"raw_description"`
	OccurredAt       time.Time `json:"occurred_at"`
	CounterpartyName string    `json:"counterparty_name,omitempty"`

	// AmountUnparseable marks a payload whose amount field could not be
	// coerced to an integer. The amount is forced to zero and downstream
	// matching must treat the transaction as non-matchable.
	AmountUnparseable bool `json:"amount_unparseable,omitempty"`
}

// DepositSuccessEvent is published to the notification dispatcher after a
// deposit has been committed. Emission happens strictly after the database
// commit; a publish failure never rolls back the credit.
type DepositSuccessEvent struct {
	UserID          int64     `json:"user_id"`
	TransactionCode string    `json:"transaction_code"`
	Amount          int64     `json:"amount"`
	BonusAmount     int64     `json:"bonus_amount"`
	TotalAmount     int64     `json:"total_amount"`
	NewBalance      int64     `json:"new_balance"`
	Timestamp       time.Time `json:"timestamp"`
}
