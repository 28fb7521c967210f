/**
 * @description
 * This is the main entry point for the deposit reconciliation service. It is
 * responsible for initializing all components: configuration, the database
 * connection pool, the deposit code codec, the rate limiters, the RabbitMQ
 * notification producer, the repository, the core application service, and
 * the HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Distributed API quota backend.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages.
 * - pkg/rabbitmq: Notification dispatcher transport.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/DatDio/backend-sub001/internal/api"
	"github.com/DatDio/backend-sub001/internal/apikey"
	"github.com/DatDio/backend-sub001/internal/app"
	"github.com/DatDio/backend-sub001/internal/config"
	"github.com/DatDio/backend-sub001/internal/depositcode"
	"github.com/DatDio/backend-sub001/internal/ratelimit"
	"github.com/DatDio/backend-sub001/internal/store"
	"github.com/DatDio/backend-sub001/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.DepositCodeSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"deposit code secret must be configured\" env=DEPOSIT_CODE_SECRET")
	}
	if strings.TrimSpace(cfg.AdminJWTSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"admin jwt secret must be configured\" env=ADMIN_JWT_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting deposit reconciliation service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	// The ledger commit holds a wallet row lock; keep the pool generous so
	// unrelated wallets never queue behind connection starvation.
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer behind the notification dispatcher.
	// A broker outage must not block deposits, so fall back to a no-op.
	var dispatcher app.NotificationDispatcher
	rabbitProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, cfg.NotificationExchange)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		dispatcher = &rabbitmq.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		dispatcher = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Optional Redis client for the distributed API quota.
	var quota *app.RedisQuota
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; distributed api quota disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; distributed api quota disabled\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; distributed api quota disabled\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				quota = app.NewRedisQuota(redisClient, cfg.RedisRateLimitPrefix)
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Deposit code codec, shared by the matcher and the encode endpoint.
	codec, err := depositcode.New(cfg.DepositCodeSecret, cfg.DepositCodePrefix)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"deposit code codec init failed\" err=%v", err)
	}

	// In-process token bucket guarding all ingress.
	limiter := ratelimit.New(ratelimit.Config{
		Capacity:    cfg.RateLimitCapacity,
		Interval:    time.Duration(cfg.RateLimitIntervalSeconds) * time.Second,
		MaxKeys:     cfg.RateLimitMaxKeys,
		ExemptPaths: []string{"/health", "/metrics"},
	})

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	service := app.NewService(repository, codec, dispatcher)
	authenticator := apikey.NewAuthenticator(repository)
	handlers := api.NewHandlers(service)

	router := api.Routes(api.RouterConfig{
		Handlers:            handlers,
		Limiter:             limiter,
		Authenticator:       authenticator,
		Quota:               quota,
		AdminSecret:         cfg.AdminJWTSecret,
		APIQuota:            cfg.APIQuotaPerMinute,
		APIQuotaWindow:      time.Minute,
		WebhookAuthRequired: cfg.WebhookAuthRequired,
	})

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
