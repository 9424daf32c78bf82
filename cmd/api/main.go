package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/charforge/internal/api"
	"github.com/dunamismax/charforge/internal/bootstrap"
	"github.com/dunamismax/charforge/internal/config"
	"github.com/dunamismax/charforge/internal/logging"
	"github.com/dunamismax/charforge/internal/queue"
	"github.com/dunamismax/charforge/internal/ratelimit"
	"github.com/dunamismax/charforge/internal/telemetry"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := logging.New(cfg.Log.Level, cfg.Log.Format).With().Str("service", "api").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("tracing setup failed")
	}

	if !cfg.API.SyncEnabled && !cfg.Queue.Enabled {
		logger.Fatal().Msg("API_SYNC_ENABLED=false requires QUEUE_ENABLED=true")
	}

	opts := api.Options{RateLimitHeader: cfg.API.RateLimitHeader}

	if cfg.Queue.Enabled {
		queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name, cfg.Queue.TaskTimeout)
		defer func() {
			if err := queueClient.Close(); err != nil {
				logger.Warn().Err(err).Msg("queue client close")
			}
		}()
		opts.Queue = queueClient
	}

	if cfg.API.RateLimit > 0 {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer rdb.Close()
		limiter, err := ratelimit.NewFixedWindow(rdb, cfg.API.RateLimit, cfg.API.RateLimitWindow, "")
		if err != nil {
			logger.Fatal().Err(err).Msg("rate limiter setup failed")
		}
		opts.RateLimiter = limiter
	}

	// Enqueue-only hosts leave the engine to cmd/worker.
	if cfg.API.SyncEnabled {
		rt, err := bootstrap.Build(ctx, cfg, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("build runtime")
		}
		if err := rt.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("engine startup failed")
		}
		defer rt.Stop()
		opts.Generator = rt.Handler
		opts.Engine = rt.Supervisor
		opts.Registry = rt.Registry
	} else {
		opts.Registry = bootstrap.NewRegistry()
	}

	app := api.NewServer(logger, opts)
	httpServer := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.Engine.JobTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.API.Addr).Bool("queue", cfg.Queue.Enabled).Bool("sync", cfg.API.SyncEnabled).Int("rate_limit", cfg.API.RateLimit).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown failed")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("flush traces")
	}
}
