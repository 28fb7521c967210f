/**
 * @description
 * This package implements API key generation and authentication for automated
 * (non-webhook) clients. Keys are random 256-bit secrets, URL-safe base64
 * encoded, carrying a fixed `diok_` prefix. Only a SHA-256 digest of the full
 * key is persisted; the plaintext is returned exactly once at creation.
 *
 * Presented keys go through a cheap structural pre-check before any storage
 * lookup, so malformed garbage never touches the database.
 */

package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/DatDio/backend-sub001/internal/domain"
)

const (
	// KeyPrefix tags every issued key so leaked secrets are recognizable.
	KeyPrefix = "diok_"
	// HeaderName takes precedence over the query parameter.
	HeaderName = "X-Api-Key"
	// QueryParam is the fallback credential carrier.
	QueryParam = "api_key"

	secretBytes    = 32 // 256 bits of entropy
	minSecretBytes = 32
)

// ErrNoCredential means no API key was presented at all; callers fall through
// to other auth mechanisms rather than failing the request.
var ErrNoCredential = errors.New("no api key presented")

// ErrInvalidKey covers malformed, unknown, revoked, and expired keys.
var ErrInvalidKey = errors.New("invalid api key")

// Store is the persistence surface the authenticator needs.
type Store interface {
	FindAPIKeyByDigest(ctx context.Context, digest string) (*domain.APIKey, error)
	TouchAPIKeyLastUsed(ctx context.Context, keyID uuid.UUID, usedAt time.Time) error
}

// Authenticator resolves presented API keys to principals.
type Authenticator struct {
	store Store
	now   func() time.Time
}

// NewAuthenticator creates an Authenticator backed by the given store.
func NewAuthenticator(store Store) *Authenticator {
	return &Authenticator{store: store, now: time.Now}
}

// FromRequest extracts the presented key from the request, header first, then
// query parameter. An empty string means no credential was presented.
func FromRequest(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(HeaderName)); v != "" {
		return v
	}
	return strings.TrimSpace(r.URL.Query().Get(QueryParam))
}

// Authenticate validates a presented key and resolves the owning principal.
// It returns ErrNoCredential for an empty presentation and ErrInvalidKey for
// anything that fails the format pre-check, lookup, status, or expiry checks.
func (a *Authenticator) Authenticate(ctx context.Context, presented string) (*domain.Principal, error) {
	presented = strings.TrimSpace(presented)
	if presented == "" {
		return nil, ErrNoCredential
	}
	if !wellFormed(presented) {
		return nil, ErrInvalidKey
	}

	key, err := a.store.FindAPIKeyByDigest(ctx, Digest(presented))
	if err != nil {
		return nil, ErrInvalidKey
	}
	if key.Status != domain.APIKeyStatusActive {
		return nil, ErrInvalidKey
	}
	if key.ExpiresAt != nil && !a.now().Before(*key.ExpiresAt) {
		return nil, ErrInvalidKey
	}

	// Last-used is best-effort bookkeeping; a write failure must not fail
	// the request.
	if err := a.store.TouchAPIKeyLastUsed(ctx, key.ID, a.now()); err != nil {
		log.Printf("level=warn component=apikey msg=\"last-used update failed\" key_id=%s err=%v", key.ID, err)
	}

	keyID := key.ID.String()
	return &domain.Principal{
		UserID:   key.UserID,
		APIKeyID: &keyID,
		Roles:    []string{"api"},
	}, nil
}

// Generate produces a fresh plaintext key and its storable digest. The
// plaintext must be handed to the caller once and discarded.
func Generate() (plaintext, digest string, err error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("api key entropy source failed: %w", err)
	}
	plaintext = KeyPrefix + base64.RawURLEncoding.EncodeToString(buf)
	return plaintext, Digest(plaintext), nil
}

// Digest returns the hex SHA-256 digest stored (and later matched) in place
// of the plaintext.
func Digest(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// wellFormed is the cheap structural pre-check applied before any lookup.
func wellFormed(presented string) bool {
	if !strings.HasPrefix(presented, KeyPrefix) {
		return false
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(presented, KeyPrefix))
	if err != nil {
		return false
	}
	return len(raw) >= minSecretBytes
}
