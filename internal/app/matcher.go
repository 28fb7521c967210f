/**
 * @description
 * This file implements the deposit matcher: it scans the free-text transfer
 * description of a canonical transaction for deposit code candidates,
 * validates each against the codec, and resolves the owning wallet.
 *
 * @notes
 * - Bank transfer descriptions carry arbitrary surrounding noise ("chuyen
 *   tien DIO-7P2-K ok"), so candidates are located structurally and tried in
 *   order of appearance; the first that decodes and checksums wins.
 * - Any amount text inside the description is informational only. The
 *   authoritative amount is always the canonical transaction's amount field.
 */

package app

import (
	"context"
	"errors"
	"log"
	"regexp"

	"github.com/google/uuid"

	"github.com/DatDio/backend-sub001/internal/domain"
	"github.com/DatDio/backend-sub001/internal/store"
)

// MatchResult identifies the wallet a canonical transaction belongs to.
type MatchResult struct {
	UserID   int64
	WalletID uuid.UUID
}

// compileCandidatePattern matches substrings shaped like a deposit code: the
// fixed prefix, a base62 id segment, and a single base64url checksum
// character.
func compileCandidatePattern(prefix string) *regexp.Regexp {
	return regexp.MustCompile(regexp.QuoteMeta(prefix) + `-[0-9A-Za-z]+-[A-Za-z0-9_-]`)
}

// Match resolves the wallet for a canonical transaction, or returns nil with
// a reason suitable for the reconciliation queue.
func (s *Service) Match(ctx context.Context, tx domain.CanonicalTransaction) (*MatchResult, string) {
	candidates := s.codeRe.FindAllString(tx.RawDescription, -1)
	if len(candidates) == 0 {
		return nil, "no deposit code candidate in description"
	}

	for _, candidate := range candidates {
		userID, err := s.codec.Decode(candidate)
		if err != nil {
			continue
		}
		wallet, err := s.repo.FindWalletByUserID(ctx, userID)
		if err != nil {
			if errors.Is(err, store.ErrWalletNotFound) {
				// Valid checksum for a user with no wallet; keep trying
				// later candidates before giving up.
				continue
			}
			log.Printf("level=error component=matcher msg=\"wallet lookup failed\" user_id=%d err=%v", userID, err)
			return nil, "wallet lookup failed"
		}
		return &MatchResult{UserID: userID, WalletID: wallet.ID}, ""
	}
	return nil, "no candidate passed checksum and wallet resolution"
}
