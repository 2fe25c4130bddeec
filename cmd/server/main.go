package main

import (
	"context"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dukepan/splitrooms/internal/api"
	"github.com/dukepan/splitrooms/internal/auth"
	"github.com/dukepan/splitrooms/internal/config"
	"github.com/dukepan/splitrooms/internal/middleware"
	"github.com/dukepan/splitrooms/internal/observability"
	"github.com/dukepan/splitrooms/internal/pubsub"
	"github.com/dukepan/splitrooms/internal/realtime"
	"github.com/dukepan/splitrooms/internal/repository"
	"github.com/dukepan/splitrooms/internal/roomservice"
	"github.com/dukepan/splitrooms/internal/utils"
)

func main() {
	cfg := config.Load()

	otelCleanup, err := observability.InitOpenTelemetry("splitrooms", "1.0.0")
	if err != nil {
		log.Fatalf("failed to initialize OpenTelemetry: %v", err)
	}
	defer func() {
		if err := otelCleanup(context.Background()); err != nil {
			log.Printf("error shutting down OpenTelemetry: %v", err)
		}
	}()

	logger := utils.NewLogger(cfg.LogLevel)
	ctx := context.Background()

	repo, err := repository.New(ctx, cfg.DBConnection)
	if err != nil {
		logger.Fatal(ctx, "failed to initialize repository: %v", err)
	}

	publisher, err := pubsub.NewRedisPublisher(cfg.PublisherKey, logger)
	if err != nil {
		logger.Fatal(ctx, "failed to initialize publisher: %v", err)
	}

	tokenTTL := cfg.TokenTTL
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	tokenMgr, err := auth.NewTokenManager(cfg.TokenSecret, tokenTTL)
	if err != nil {
		logger.Fatal(ctx, "failed to initialize token manager: %v", err)
	}
	provider := auth.NewDevProvider(repo)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	rooms := roomservice.New(repo, publisher, logger, rng, true)

	hub := realtime.NewHub(publisher, logger.WithContext(ctx))
	go hub.Start(ctx)

	rateLimitOpt, err := redis.ParseURL(cfg.PublisherKey)
	if err != nil {
		logger.Fatal(ctx, "failed to parse publisher url for rate limiter: %v", err)
	}
	rateLimiter := middleware.NewRateLimiter(redis.NewClient(rateLimitOpt), int64(cfg.RateLimitMax), 1.0)

	router := api.NewRouter(rooms, tokenMgr, provider, hub, rateLimiter, logger)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info(ctx, "starting server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	gracefulShutdown(ctx, logger, server, hub, repo, otelCleanup)
	logger.Info(ctx, "application stopped.")
}

func gracefulShutdown(ctx context.Context, logger *utils.Logger, server *http.Server, hub *realtime.Hub, repo *repository.PostgresRepository, otelCleanup func(context.Context) error) {
	logger.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "http server shutdown error: %v", err)
	} else {
		logger.Info(ctx, "http server stopped.")
	}

	hub.Stop()
	logger.Info(ctx, "realtime hub stopped.")

	repo.Close()
	logger.Info(ctx, "repository connection closed.")

	if otelCleanup != nil {
		if err := otelCleanup(shutdownCtx); err != nil {
			logger.Error(ctx, "OpenTelemetry shutdown error: %v", err)
		} else {
			logger.Info(ctx, "OpenTelemetry shut down.")
		}
	}

	logger.Info(ctx, "graceful shutdown complete.")
}
