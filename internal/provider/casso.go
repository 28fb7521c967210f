/**
 * @description
 * Casso bank-transfer aggregator adapter. Casso batches transactions: one
 * delivery carries a `data` array, and each element is normalized in
 * isolation so a malformed item never aborts its siblings.
 */

package provider

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"

	"github.com/DatDio/backend-sub001/internal/domain"
)

type cassoEnvelope struct {
	Error int               `json:"error"`
	Data  []json.RawMessage `json:"data"`
}

type cassoItem struct {
	ID          int64      `json:"id"`
	TID         string     `json:"tid"`
	Description string     `json:"description"`
	Amount      flexAmount `json:"amount"`
	When        string     `json:"when"`
	BankName    string     `json:"bank_name"`
}

type cassoNormalizer struct{}

func (cassoNormalizer) Provider() string { return Casso }

func (cassoNormalizer) Normalize(payload []byte) ([]domain.CanonicalTransaction, error) {
	var env cassoEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("casso payload decode failed: %w", err)
	}

	txns := make([]domain.CanonicalTransaction, 0, len(env.Data))
	for i, raw := range env.Data {
		var item cassoItem
		if err := json.Unmarshal(raw, &item); err != nil {
			log.Printf("level=warn component=provider provider=casso msg=\"skipping undecodable item\" index=%d err=%v", i, err)
			continue
		}
		externalID := item.TID
		if externalID == "" {
			if item.ID == 0 {
				log.Printf("level=warn component=provider provider=casso msg=\"skipping item without identifier\" index=%d", i)
				continue
			}
			externalID = strconv.FormatInt(item.ID, 10)
		}
		txns = append(txns, domain.CanonicalTransaction{
			Provider:          Casso,
			ExternalID:        externalID,
			Amount:            item.Amount.value,
			AmountUnparseable: !item.Amount.ok,
			RawDescription:    item.Description,
			OccurredAt:        parseProviderTime(item.When),
			CounterpartyName:  item.BankName,
		})
	}
	return txns, nil
}
