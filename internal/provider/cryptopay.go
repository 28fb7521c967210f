/**
 * @description
 * Crypto payment gateway adapter. The gateway settles in crypto but reports
 * the converted fiat amount, which is what gets credited. Only finalized
 * statuses produce a canonical transaction; pending and failed callbacks are
 * acknowledged and dropped.
 */

package provider

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/DatDio/backend-sub001/internal/domain"
)

type cryptoPayPayload struct {
	UUID        string     `json:"uuid"`
	OrderID     string     `json:"order_id"`
	Status      string     `json:"status"`
	FiatAmount  flexAmount `json:"fiat_amount"`
	Currency    string     `json:"currency"`
	TxID        string     `json:"txid"`
	Network     string     `json:"network"`
	Description string     `json:"order_description"`
	PayerName   string     `json:"payer_name"`
	CreatedAt   string     `json:"created_at"`
}

type cryptoPayNormalizer struct{}

func (cryptoPayNormalizer) Provider() string { return CryptoPay }

func (cryptoPayNormalizer) Normalize(payload []byte) ([]domain.CanonicalTransaction, error) {
	var p cryptoPayPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("cryptopay payload decode failed: %w", err)
	}
	if p.UUID == "" && p.TxID == "" {
		return nil, fmt.Errorf("cryptopay payload carries no transaction identifier")
	}

	switch p.Status {
	case "paid", "paid_over":
	default:
		// Intermediate and failed callbacks carry nothing creditable.
		return nil, nil
	}

	externalID := p.UUID
	if externalID == "" {
		externalID = p.TxID
	}
	occurredAt := time.Now().UTC()
	if t, err := time.Parse(time.RFC3339, p.CreatedAt); err == nil {
		occurredAt = t
	}

	return []domain.CanonicalTransaction{{
		Provider:          CryptoPay,
		ExternalID:        externalID,
		Amount:            p.FiatAmount.value,
		AmountUnparseable: !p.FiatAmount.ok,
		RawDescription:    p.Description,
		OccurredAt:        occurredAt,
		CounterpartyName:  p.PayerName,
	}}, nil
}
