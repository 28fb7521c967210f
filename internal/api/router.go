/**
 * @description
 * This file sets up the HTTP router. It defines the webhook ingress, the
 * authenticated wallet API, API key self-service, and the admin surface, and
 * applies the middleware chain in the order the pipeline requires: metrics,
 * rate limit, then authentication.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: HTTP routing.
 * - github.com/prometheus/client_golang, github.com/slok/go-http-metrics:
 *   Prometheus HTTP metrics endpoint and middleware.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpmetrics "github.com/slok/go-http-metrics/middleware"
	metricsstd "github.com/slok/go-http-metrics/middleware/std"

	metricsprometheus "github.com/slok/go-http-metrics/metrics/prometheus"

	"github.com/DatDio/backend-sub001/internal/apikey"
	"github.com/DatDio/backend-sub001/internal/app"
	"github.com/DatDio/backend-sub001/internal/ratelimit"
)

// RouterConfig carries the dependencies and policy knobs for the HTTP layer.
type RouterConfig struct {
	Handlers      *Handlers
	Limiter       *ratelimit.Limiter
	Authenticator *apikey.Authenticator
	Quota         *app.RedisQuota // nil disables the distributed quota
	AdminSecret   string

	// APIQuota / APIQuotaWindow bound authenticated API usage per key across
	// replicas. Zero disables.
	APIQuota       int
	APIQuotaWindow time.Duration

	// WebhookAuthRequired forces provider deliveries to present an API key.
	WebhookAuthRequired bool

	// MetricsRegistry receives the HTTP metrics collectors. Nil falls back to
	// the default Prometheus registerer.
	MetricsRegistry prometheus.Registerer
}

// Routes builds the service router.
func Routes(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	mw := httpmetrics.New(httpmetrics.Config{
		Recorder: metricsprometheus.NewRecorder(metricsprometheus.Config{Registry: cfg.MetricsRegistry}),
	})
	r.Use(func(next http.Handler) http.Handler {
		return metricsstd.Handler("", mw, next)
	})

	// Every ingress path goes through the token bucket; /health and /metrics
	// are exempt by static path match inside the limiter.
	r.Use(RateLimitMiddleware(cfg.Limiter))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Webhook ingress. Providers retry aggressively, so everything except an
	// unparseable payload is acknowledged with 200.
	r.Group(func(r chi.Router) {
		if cfg.WebhookAuthRequired {
			r.Use(APIKeyAuthMiddleware(cfg.Authenticator))
		}
		r.Post("/webhooks/{provider}", cfg.Handlers.WebhookHandler)
	})

	// Authenticated wallet API and key self-service.
	r.Group(func(r chi.Router) {
		r.Use(APIKeyAuthMiddleware(cfg.Authenticator))
		r.Use(RedisQuotaMiddleware(cfg.Quota, "api", cfg.APIQuota, cfg.APIQuotaWindow))

		r.Get("/wallet", cfg.Handlers.GetWalletHandler)
		r.Get("/wallet/transactions", cfg.Handlers.ListTransactionsHandler)
		r.Get("/wallet/deposit-code", cfg.Handlers.GetDepositCodeHandler)

		r.Get("/keys", cfg.Handlers.ListAPIKeysHandler)
		r.Post("/keys", cfg.Handlers.CreateAPIKeyHandler)
		r.Delete("/keys/{keyID}", cfg.Handlers.RevokeAPIKeyHandler)
	})

	// Admin surface: refunds, cancellations, reconciliation queue.
	r.Group(func(r chi.Router) {
		r.Use(AdminAuthMiddleware(cfg.AdminSecret))

		r.Post("/admin/transactions/{code}/refund", cfg.Handlers.RefundDepositHandler)
		r.Post("/admin/transactions/{code}/cancel", cfg.Handlers.CancelTransactionHandler)
		r.Get("/admin/unmatched-webhooks", cfg.Handlers.ListUnmatchedWebhooksHandler)
	})

	return r
}
