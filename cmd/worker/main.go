package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dunamismax/charforge/internal/bootstrap"
	"github.com/dunamismax/charforge/internal/config"
	"github.com/dunamismax/charforge/internal/logging"
	"github.com/dunamismax/charforge/internal/telemetry"
	"github.com/dunamismax/charforge/internal/webhook"
	"github.com/dunamismax/charforge/internal/worker"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := logging.New(cfg.Log.Level, cfg.Log.Format).With().Str("service", "worker").Logger()
	ctx := context.Background()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("tracing setup failed")
	}

	rt, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("build runtime")
	}
	if err := rt.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("engine startup failed")
	}
	defer rt.Stop()

	hooks := webhook.NewClient(webhook.Config{
		SigningSecret: cfg.Webhook.SigningSecret,
		Timeout:       cfg.Webhook.Timeout,
		MaxAttempts:   cfg.Webhook.MaxAttempts,
	})
	srv := worker.NewServer(logger, cfg.Queue, rt.Handler, hooks, rt.Registry)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(rt.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !rt.Supervisor.Ready() {
			http.Error(w, rt.Supervisor.State().String(), http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.Worker.MetricsAddr).Msg("metrics listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	logger.Info().
		Str("queue", cfg.Queue.Name).
		Str("redis", cfg.Queue.RedisAddr).
		Msg("starting worker")

	// Run returns once asynq has handled SIGTERM or SIGINT.
	if err := srv.Run(); err != nil {
		logger.Error().Err(err).Msg("worker failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("metrics server shutdown")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("flush traces")
	}
}
