/**
 * @description
 * This package normalizes heterogeneous payment-provider webhook payloads
 * into the canonical transaction shape consumed by the matcher and ledger.
 * The provider set is a closed enum: each provider has exactly one adapter,
 * selected by explicit dispatch, never open-ended runtime registration.
 *
 * @notes
 * - Adapters must tolerate unknown extra fields (providers add fields without
 *   notice) and never fail a whole delivery because one item is bad.
 * - Amounts arrive as numbers or as numeric strings with separator noise
 *   ("1.500.000 VND"). A non-parseable amount normalizes to zero with the
 *   AmountUnparseable flag set so matching treats it as non-matchable.
 */

package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/DatDio/backend-sub001/internal/domain"
)

// Provider identifiers. These are wire-stable: they appear in dedup keys and
// ledger rows, so renaming one would orphan historical records.
const (
	SePay     = "sepay"
	Casso     = "casso"
	CryptoPay = "cryptopay"
)

// ErrUnknownProvider is returned for a provider id outside the closed set.
var ErrUnknownProvider = fmt.Errorf("unknown payment provider")

// Normalizer parses one provider's raw webhook body into canonical
// transactions. A single delivery may carry several transactions; each is
// normalized independently.
type Normalizer interface {
	Provider() string
	Normalize(payload []byte) ([]domain.CanonicalTransaction, error)
}

// ForProvider selects the adapter for a provider id.
func ForProvider(id string) (Normalizer, error) {
	switch id {
	case SePay:
		return sepayNormalizer{}, nil
	case Casso:
		return cassoNormalizer{}, nil
	case CryptoPay:
		return cryptoPayNormalizer{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, id)
	}
}

// All returns the closed provider set, in webhook-route order.
func All() []string {
	return []string{SePay, Casso, CryptoPay}
}

// flexAmount accepts a JSON number or a numeric string with separator noise.
type flexAmount struct {
	value int64
	ok    bool
}

func (f *flexAmount) UnmarshalJSON(data []byte) error {
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		if v, err := n.Int64(); err == nil {
			*f = flexAmount{value: v, ok: true}
			return nil
		}
		// Fractional number: truncate toward zero via the string path below.
		data = []byte(`"` + n.String() + `"`)
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*f = flexAmount{}
		return nil // tolerate any shape; flag instead of failing
	}
	v, ok := coerceAmountString(s)
	*f = flexAmount{value: v, ok: ok}
	return nil
}

// coerceAmountString extracts an integer amount from a noisy numeric string.
// "1.500.000" and "1,500,000 VND" both yield 1500000. A fractional part after
// a final '.' or ',' of one or two digits is treated as decimals and
// truncated. A string with no digits at all is not coercible.
func coerceAmountString(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	negative := strings.HasPrefix(s, "-")

	digits := make([]byte, 0, len(s))
	sawDigit := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= '0' && c <= '9' {
			digits = append(digits, c)
			sawDigit = true
			continue
		}
		// Stop at a decimal point: "120000.00" must not become 12000000.
		if (c == '.' || c == ',') && sawDigit && isDecimalTail(s[i+1:]) {
			break
		}
	}
	if !sawDigit {
		return 0, false
	}

	var v int64
	for _, c := range digits {
		d := int64(c - '0')
		if v > (1<<63-1-d)/10 {
			return 0, false
		}
		v = v*10 + d
	}
	if negative {
		v = -v
	}
	return v, true
}

// isDecimalTail reports whether the remainder of an amount string looks like
// a 1-2 digit fractional part rather than a thousands group.
func isDecimalTail(rest string) bool {
	n := 0
	for n < len(rest) && rest[n] >= '0' && rest[n] <= '9' {
		n++
	}
	if n == 0 || n >= 3 {
		return false
	}
	rest = strings.TrimSpace(rest[n:])
	return rest == "" || !strings.ContainsAny(rest[:1], "0123456789")
}
