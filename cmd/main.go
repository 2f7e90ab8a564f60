/**
 * @description
 * This is the main entry point for the claims-service. It initializes and
 * wires together all the components of the application: configuration, the
 * database pool, the RabbitMQ consumer and producer, the Redis rate limiter,
 * the browser runtime client with its provider adapters, the email client,
 * the cron scheduler for the pipeline workers, and the HTTP router. Finally,
 * it starts the HTTP server and waits for a shutdown signal.
 *
 * @dependencies
 * - pgxpool for the database connection, godotenv for local config, rabbitmq
 *   for messaging, go-redis for rate limiting.
 */
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/fareguard/claims-service/internal/api"
	"github.com/fareguard/claims-service/internal/app"
	"github.com/fareguard/claims-service/internal/config"
	"github.com/fareguard/claims-service/internal/store"
	"github.com/fareguard/claims-service/pkg/browser"
	"github.com/fareguard/claims-service/pkg/emailclient"
	"github.com/fareguard/claims-service/pkg/providers"
	"github.com/fareguard/claims-service/pkg/rabbitmq"
)

func main() {
	// Load .env file for local development. In production, env vars are set directly.
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load application configuration from environment variables
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Establish connection to the PostgreSQL database with connection pool configuration
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Use simple protocol so the pool works behind PgBouncer transaction pooling
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	repository := store.NewPostgresRepository(dbpool)

	// RabbitMQ producer for claim audit events. Fall back to a no-op publisher
	// when the broker is unavailable so the pipeline keeps running.
	var publisher rabbitmq.Publisher = &rabbitmq.EventProducerFallback{}
	if cfg.RabbitMQURL != "" {
		if producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL); err != nil {
			logger.Warn("rabbitmq producer unavailable, audit events disabled", "error", err)
		} else {
			publisher = producer
			defer producer.Close()
		}
	}

	// Redis client for claim-creation rate limiting. Optional; a missing or
	// unreachable Redis disables limiting rather than blocking startup.
	var redisClient *redis.Client
	if cfg.RedisURL == "" {
		logger.Warn("redis url missing, claim rate limiting disabled")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			logger.Warn("redis url parse failed, claim rate limiting disabled", "error", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				logger.Warn("redis ping failed, claim rate limiting disabled", "error", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
			}
			pingCancel()
		}
	}
	var limiter *app.RedisClaimRateLimiter
	if redisClient != nil {
		limiter = app.NewRedisClaimRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
	}

	// Browser runtime client and the provider adapters built on it.
	browserClient := browser.NewClient(
		cfg.BrowserRuntimeURL,
		cfg.BrowserRuntimeAPIKey,
		time.Duration(cfg.BrowserActionTimeoutSeconds)*time.Second,
		cfg.BrowserHeadless,
	)
	registry := providers.NewRegistry(
		providers.NewNationalRailAdapter(browserClient, cfg.LiveSubmit, logger),
	)

	emailClient := emailclient.NewClient(cfg.EmailAPIBaseURL, cfg.EmailAPIKey)

	// Application layer
	claimService := app.NewClaimService(repository, logger, cfg.FeePercent)
	eligibilityEngine := app.NewEligibilityEngine(repository, logger, app.EligibilityConfig{
		Lookback:         time.Duration(cfg.EligibilityLookbackHours) * time.Hour,
		Lookahead:        time.Duration(cfg.EligibilityLookaheadHours) * time.Hour,
		Grace:            time.Duration(cfg.ArrivalGraceMinutes) * time.Minute,
		EventMatchWindow: time.Duration(cfg.EventMatchWindowMinutes) * time.Minute,
		MinDelayMinutes:  cfg.MinDelayMinutes,
	})
	linker := app.NewLinker(repository, logger, app.LinkerConfig{
		WindowDays: cfg.LinkWindowDays,
		MaxScore:   float64(cfg.LinkMaxScoreSeconds),
		MinMargin:  float64(cfg.LinkMinMarginSeconds),
		BatchSize:  cfg.LinkBatchSize,
	})
	dispatcher := app.NewDispatcher(repository, registry, publisher, logger, app.DispatcherConfig{
		LiveSubmit:        cfg.LiveSubmit,
		AutomationEnabled: cfg.AutomationEnabled,
		MaxAttempts:       cfg.MaxSubmitAttempts,
		CheckDelay:        time.Duration(cfg.CheckDelayHours) * time.Hour,
		ReadyRecheckDelay: time.Duration(cfg.ReadyRecheckHours) * time.Hour,
		EventsExchange:    cfg.ClaimEventsExchange,
	})
	notifier := app.NewNotifier(repository, emailClient, publisher, logger, app.NotifierConfig{
		FromAddress:    cfg.EmailFromAddress,
		MaxAttempts:    cfg.MaxNotifyAttempts,
		EventsExchange: cfg.ClaimEventsExchange,
	})
	purger := app.NewPurger(repository, logger, time.Duration(cfg.EventRetentionDays)*24*time.Hour)

	// Delay-feed consumer. Binds both the per-station movement events and the
	// journey schedule announcements on the feed exchange.
	feedConsumer := app.NewFeedConsumer(repository, logger)
	if cfg.RabbitMQURL != "" {
		consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Warn("rabbitmq consumer unavailable, feed ingestion disabled", "error", err)
		} else {
			defer consumer.Close()
			bindings := []string{"delay.event.*", "feed.journey.schedule"}
			err = consumer.ConsumeWithBindings(cfg.DelayFeedExchange, cfg.DelayFeedQueue, bindings, func(routingKey string, body []byte) bool {
				if routingKey == "feed.journey.schedule" {
					return feedConsumer.HandleJourneySchedule(body)
				}
				if strings.HasPrefix(routingKey, "delay.event.") {
					return feedConsumer.HandleDelayEvent(body)
				}
				logger.Warn("unexpected routing key, dropping message", "routing_key", routingKey)
				return true
			})
			if err != nil {
				logger.Error("failed to start feed consumer", "error", err)
				os.Exit(1)
			}
		}
	}

	// Cron scheduler for the pipeline workers
	scheduler := app.NewScheduler(eligibilityEngine, linker, dispatcher, notifier, purger, logger, app.SchedulerConfig{
		EligibilitySchedule: cfg.EligibilitySchedule,
		LinkerSchedule:      cfg.LinkerSchedule,
		DispatchSchedule:    cfg.DispatchSchedule,
		NotifySchedule:      cfg.NotifySchedule,
		PurgeSchedule:       cfg.PurgeSchedule,
	})
	scheduler.Start()

	// HTTP layer
	claimHandlers := api.NewClaimHandlers(claimService, limiter, logger, cfg.ClaimRateLimitPerMinute)
	adminHandlers := api.NewAdminHandlers(eligibilityEngine, linker, dispatcher, notifier, purger, logger)
	allowedOrigins := strings.Split(cfg.CORSAllowedOrigins, ",")
	for i := range allowedOrigins {
		allowedOrigins[i] = strings.TrimSpace(allowedOrigins[i])
	}
	router := api.ClaimRoutes(claimHandlers, adminHandlers, cfg.JWTSecret, cfg.AdminAPIKey, allowedOrigins)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	go func() {
		logger.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for an OS signal
	<-sigCh
	logger.Info("shutdown signal received, gracefully shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	// Let an in-flight cron job finish before exiting
	<-scheduler.Stop().Done()

	logger.Info("server stopped")
}
