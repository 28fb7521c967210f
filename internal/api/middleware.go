/**
 * @description
 * This file contains custom middleware for the HTTP router: the in-process
 * token-bucket rate limit gate, API key authentication, the optional Redis
 * distributed quota for authenticated clients, and admin bearer-token
 * authentication for the refund/reconciliation surface.
 *
 * Rate-limit rejections use a stable machine-readable code distinct from
 * business errors so clients can tell throttling from failure.
 *
 * @dependencies
 * - net/http, context, strings: Standard Go libraries.
 * - github.com/golang-jwt/jwt/v5: Admin bearer token validation.
 */

package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/DatDio/backend-sub001/internal/apikey"
	"github.com/DatDio/backend-sub001/internal/app"
	"github.com/DatDio/backend-sub001/internal/domain"
	"github.com/DatDio/backend-sub001/internal/ratelimit"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const principalContextKey contextKey = "principal"

// PrincipalFromContext returns the authenticated principal, if any.
func PrincipalFromContext(ctx context.Context) (*domain.Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*domain.Principal)
	return p, ok
}

// RateLimitMiddleware gates every request through the in-process token
// bucket, keyed by API key id when authenticated and client IP otherwise.
// Exempt paths bypass the limiter before any bucket lookup.
func RateLimitMiddleware(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter.IsExempt(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			key := clientKey(r)
			if !limiter.Allow(key) {
				log.Printf("level=warn component=ratelimit msg=\"request rejected\" client=%s path=%s", key, r.URL.Path)
				writeErrorCode(w, http.StatusTooManyRequests, codeRateLimited, "Too many requests. Slow down and retry later.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientKey prefers the authenticated key id, then proxy headers, then the
// socket peer address.
func clientKey(r *http.Request) string {
	if p, ok := PrincipalFromContext(r.Context()); ok && p.APIKeyID != nil {
		return "key:" + *p.APIKeyID
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, found := strings.Cut(fwd, ","); found || first != "" {
			return "ip:" + strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}

// APIKeyAuthMiddleware authenticates the presented API key and stores the
// principal on the request context. Requests without any credential are
// rejected here because every route behind this middleware requires one.
func APIKeyAuthMiddleware(auth *apikey.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := auth.Authenticate(r.Context(), apikey.FromRequest(r))
			if err != nil {
				if errors.Is(err, apikey.ErrNoCredential) {
					writeErrorCode(w, http.StatusUnauthorized, codeUnauthorized, "API key required.")
					return
				}
				writeErrorCode(w, http.StatusUnauthorized, codeUnauthorized, "Invalid API key.")
				return
			}
			ctx := context.WithValue(r.Context(), principalContextKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RedisQuotaMiddleware applies the distributed fixed-window quota on top of
// the local bucket for authenticated clients. A nil quota disables it, and
// Redis outages fail open: throttling is protection, not correctness.
func RedisQuotaMiddleware(quota *app.RedisQuota, scope string, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision, err := quota.Allow(r.Context(), scope, clientKey(r), limit, window)
			if err != nil {
				log.Printf("level=warn component=ratelimit msg=\"redis quota unavailable; failing open\" scope=%s err=%v", scope, err)
				next.ServeHTTP(w, r)
				return
			}
			if !decision.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(decision.RetryAfter/time.Second)))
				writeErrorCode(w, http.StatusTooManyRequests, codeRateLimited, "Request quota exceeded. Retry later.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AdminAuthMiddleware validates an HS256 bearer token carrying role=admin.
// Refunds and reconciliation views are only reachable through it.
func AdminAuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if authHeader == "" || tokenString == authHeader {
				writeErrorCode(w, http.StatusUnauthorized, codeUnauthorized, "Bearer token required.")
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				writeErrorCode(w, http.StatusUnauthorized, codeUnauthorized, "Invalid token.")
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				writeErrorCode(w, http.StatusUnauthorized, codeUnauthorized, "Invalid token claims.")
				return
			}
			role, _ := claims["role"].(string)
			if role != "admin" {
				writeErrorCode(w, http.StatusForbidden, codeForbidden, "Admin role required.")
				return
			}

			principal := &domain.Principal{Roles: []string{"admin"}}
			if sub, ok := claims["sub"].(string); ok {
				if id, err := strconv.ParseInt(sub, 10, 64); err == nil {
					principal.UserID = id
				}
			}
			ctx := context.WithValue(r.Context(), principalContextKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
