/**
 * @description
 * This file defines the API key domain models. Only a one-way digest of a key
 * secret is ever persisted; the plaintext is shown exactly once at creation.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// API key statuses.
const (
	APIKeyStatusActive   = "ACTIVE"
	APIKeyStatusInactive = "INACTIVE"
)

// APIKey represents a stored API key record. The secret itself is never
// persisted, only its SHA-256 digest.
type APIKey struct {
	ID         uuid.UUID  `json:"id"`
	UserID     int64      `json:"user_id"`
	Label      string     `json:"label"`
	KeyDigest  string     `json:"-"`
	Status     string     `json:"status"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Principal is the resolved caller identity after a successful API key or
// admin token authentication.
type Principal struct {
	UserID   int64    `json:"user_id"`
	APIKeyID *string  `json:"api_key_id,omitempty"`
	Roles    []string `json:"roles"`
}

// HasRole reports whether the principal carries the given role.
func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}
