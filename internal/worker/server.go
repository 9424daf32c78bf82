// Package worker consumes queued generation events one at a time and reports
// each result to the event's webhook.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/dunamismax/charforge/internal/config"
	"github.com/dunamismax/charforge/internal/domain"
	"github.com/dunamismax/charforge/internal/queue"
	"github.com/dunamismax/charforge/internal/webhook"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type generator interface {
	Handle(ctx context.Context, event domain.Event) domain.Response
}

type deliverer interface {
	Deliver(ctx context.Context, endpoint string, d webhook.Delivery) error
}

type Server struct {
	logger    zerolog.Logger
	server    *asynq.Server
	generator generator
	webhooks  deliverer
	metrics   *metrics
	tracer    trace.Tracer
	now       func() time.Time
}

func NewServer(logger zerolog.Logger, queueCfg config.QueueConfig, gen generator, webhooks deliverer, reg prometheus.Registerer) *Server {
	logger = logger.With().Str("component", "worker").Logger()
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				// One generation at a time.
				Concurrency: 1,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				Logger:   asynqLogger{logger: logger.With().Str("component", "asynq").Logger()},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					id, _ := asynq.GetTaskID(ctx)
					logger.Warn().Str("type", task.Type()).Str("task_id", id).Err(err).Msg("task failed")
				}),
			},
		),
		generator: gen,
		webhooks:  webhooks,
		metrics:   newMetrics(reg),
		tracer:    otel.Tracer("charforge/worker"),
		now:       time.Now,
	}
}

// Run blocks until the server receives a termination signal.
func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.Handle(queue.TypeGenerateCharacter, s)
	return s.server.Run(mux)
}

// ProcessTask handles one generation event. Failed generations are reported
// and never retried.
func (s *Server) ProcessTask(ctx context.Context, task *asynq.Task) error {
	startedAt := s.now()
	status := webhook.StatusFailed

	payload, err := queue.ParseGeneratePayload(task)
	if err != nil {
		s.metrics.tasksTotal.WithLabelValues("invalid").Inc()
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.generate", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("event.id", payload.ID),
		attribute.Bool("event.webhook", payload.WebhookURL != ""),
	)
	defer span.End()

	if !payload.RequestedAt.IsZero() {
		s.metrics.queueWaitSeconds.Observe(startedAt.Sub(payload.RequestedAt).Seconds())
	}
	s.metrics.activeTasks.Inc()
	defer func() {
		s.metrics.activeTasks.Dec()
		s.metrics.tasksTotal.WithLabelValues(status).Inc()
		s.metrics.taskDuration.WithLabelValues(status).Observe(s.now().Sub(startedAt).Seconds())
	}()

	s.logger.Info().Str("id", payload.ID).Msg("handling generation event")
	resp := s.generator.Handle(ctx, payload.Event)
	delivery := webhook.NewDelivery(payload.ID, resp)
	status = delivery.Status

	deliverErr := s.deliver(ctx, payload, delivery)

	if resp.Failed() {
		span.SetStatus(codes.Error, resp.Error)
		return fmt.Errorf("generation %s failed: %s: %w", payload.ID, resp.Error, asynq.SkipRetry)
	}
	if deliverErr != nil {
		span.RecordError(deliverErr)
		span.SetStatus(codes.Error, "webhook delivery failed")
		return fmt.Errorf("deliver %s: %v: %w", payload.ID, deliverErr, asynq.SkipRetry)
	}

	span.SetStatus(codes.Ok, "generated")
	s.logger.Info().Str("id", payload.ID).Str("prompt_id", resp.PromptID).Int("images", len(resp.Images)).Msg("generation event complete")
	return nil
}

func (s *Server) deliver(ctx context.Context, payload queue.GeneratePayload, d webhook.Delivery) error {
	if payload.WebhookURL == "" || s.webhooks == nil {
		return nil
	}
	if err := s.webhooks.Deliver(ctx, payload.WebhookURL, d); err != nil {
		s.metrics.webhookFailures.Inc()
		s.logger.Error().Err(err).Str("id", payload.ID).Str("status", d.Status).Msg("webhook delivery failed")
		return err
	}
	return nil
}
