/**
 * @description
 * SePay bank-transfer aggregator adapter. SePay delivers one transaction per
 * webhook as a flat JSON object. Outgoing transfers ("out") are delivered on
 * the same hook and are skipped here, since only inbound money can ever match
 * a deposit.
 */

package provider

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/DatDio/backend-sub001/internal/domain"
)

type sepayPayload struct {
	ID              int64      `json:"id"`
	Gateway         string     `json:"gateway"`
	TransactionDate string     `json:"transactionDate"`
	AccountNumber   string     `json:"accountNumber"`
	Content         string     `json:"content"`
	TransferType    string     `json:"transferType"`
	TransferAmount  flexAmount `json:"transferAmount"`
	ReferenceCode   string     `json:"referenceCode"`
	Description     string     `json:"description"`
}

type sepayNormalizer struct{}

func (sepayNormalizer) Provider() string { return SePay }

func (sepayNormalizer) Normalize(payload []byte) ([]domain.CanonicalTransaction, error) {
	var p sepayPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("sepay payload decode failed: %w", err)
	}
	if p.ID == 0 && p.ReferenceCode == "" {
		return nil, fmt.Errorf("sepay payload carries no transaction identifier")
	}
	if p.TransferType == "out" {
		return nil, nil
	}

	externalID := p.ReferenceCode
	if externalID == "" {
		externalID = strconv.FormatInt(p.ID, 10)
	}
	description := p.Content
	if description == "" {
		description = p.Description
	}

	return []domain.CanonicalTransaction{{
		Provider:          SePay,
		ExternalID:        externalID,
		Amount:            p.TransferAmount.value,
		AmountUnparseable: !p.TransferAmount.ok,
		RawDescription:    description,
		OccurredAt:        parseProviderTime(p.TransactionDate),
		CounterpartyName:  p.Gateway,
	}}, nil
}

// parseProviderTime handles the "2006-01-02 15:04:05" stamp both bank
// aggregators emit. A missing or unparseable stamp falls back to receipt time.
func parseProviderTime(s string) time.Time {
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Now().UTC()
}
