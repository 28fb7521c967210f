/**
 * @description
 * This package implements the deposit code codec: the short, human-typable,
 * tamper-evident token that binds a wallet owner to a bank transfer. A user
 * puts the code into the free-text description of a bank transfer, and the
 * reconciliation pipeline later extracts it to resolve the owning wallet.
 *
 * Code layout: PREFIX-<base62 user id>-<checksum>. The checksum is the first
 * character of the unpadded base64url encoding of an HMAC-SHA256 over the
 * encoded id segment, keyed by a server-held secret.
 *
 * @notes
 * - A 1-character checksum only defends against typos and casual tampering,
 *   not a motivated forger. The length is kept deliberately short because
 *   bank transfer description fields are length-constrained; widening it
 *   would require changing how codes are communicated to end users.
 * - userID zero encodes as the single symbol "0" rather than an empty
 *   segment; an empty id segment is always rejected as malformed.
 */

package depositcode

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const base = int64(len(alphabet))

// Delimiter separates the prefix, id, and checksum segments of a code.
const Delimiter = "-"

// ErrInvalidCode is returned when a presented code is structurally malformed,
// contains out-of-alphabet characters, or fails the checksum. Callers treat
// all three identically: no code found.
var ErrInvalidCode = errors.New("invalid deposit code")

// Codec encodes and validates deposit codes with a fixed prefix and a
// server-held HMAC secret.
type Codec struct {
	secret []byte
	prefix string
}

// New creates a Codec. The prefix must not contain the delimiter.
func New(secret, prefix string) (*Codec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("deposit code secret must not be empty")
	}
	if prefix == "" || strings.Contains(prefix, Delimiter) {
		return nil, fmt.Errorf("invalid deposit code prefix %q", prefix)
	}
	return &Codec{secret: []byte(secret), prefix: prefix}, nil
}

// Prefix returns the fixed code prefix, e.g. "DIO".
func (c *Codec) Prefix() string {
	return c.prefix
}

// Encode produces the deposit code for a non-negative user id.
func (c *Codec) Encode(userID int64) (string, error) {
	if userID < 0 {
		return "", fmt.Errorf("user id must be non-negative, got %d", userID)
	}
	id := encodeBase62(userID)
	return c.prefix + Delimiter + id + Delimiter + c.checksum(id), nil
}

// Decode validates a full code and returns the embedded user id. Any
// structural violation or checksum mismatch yields ErrInvalidCode.
//
// Parsing is positional, not delimiter-split: the checksum character comes
// from the base64url alphabet, which itself contains '-', so the final
// delimiter must be located by position rather than by searching for it.
func (c *Codec) Decode(code string) (int64, error) {
	rest, ok := strings.CutPrefix(code, c.prefix+Delimiter)
	if !ok {
		return 0, ErrInvalidCode
	}
	// <id (>=1 char)> <delimiter> <checksum (exactly 1 char)>
	if len(rest) < 3 || rest[len(rest)-2:len(rest)-1] != Delimiter {
		return 0, ErrInvalidCode
	}
	id, sum := rest[:len(rest)-2], rest[len(rest)-1:]
	for _, r := range id {
		if !strings.ContainsRune(alphabet, r) {
			return 0, ErrInvalidCode
		}
	}
	// Byte-for-byte comparison; the checksum is not secret so constant time
	// is not required here.
	if sum != c.checksum(id) {
		return 0, ErrInvalidCode
	}
	return decodeBase62(id)
}

func (c *Codec) checksum(encodedID string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(encodedID))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))[:1]
}

func encodeBase62(n int64) string {
	if n == 0 {
		return "0"
	}
	var buf [11]byte // ceil(63 / log2(62)) digits cover all of int64
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = alphabet[n%base]
		n /= base
	}
	return string(buf[i:])
}

func decodeBase62(s string) (int64, error) {
	var n int64
	for i := 0; i < len(s); i++ {
		d := int64(strings.IndexByte(alphabet, s[i]))
		if d < 0 {
			return 0, ErrInvalidCode
		}
		if n > (1<<63-1-d)/base {
			return 0, ErrInvalidCode
		}
		n = n*base + d
	}
	return n, nil
}
