// Package api is the HTTP host in front of the generation handler.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/charforge/internal/domain"
	"github.com/dunamismax/charforge/internal/engine"
	"github.com/dunamismax/charforge/internal/handler"
	"github.com/dunamismax/charforge/internal/queue"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const StatusInQueue = "IN_QUEUE"

type generator interface {
	Handle(ctx context.Context, event domain.Event) domain.Response
}

type queueEnqueuer interface {
	EnqueueGenerate(ctx context.Context, payload queue.GeneratePayload) (*asynq.TaskInfo, error)
}

type engineStatus interface {
	State() engine.State
}

// Options wires the server. Queue and RateLimiter are optional. Without a
// Generator the server only enqueues: /runsync is not routed and /healthz
// reports the engine as external.
type Options struct {
	Generator       generator
	Engine          engineStatus
	Queue           queueEnqueuer
	RateLimiter     RateLimiter
	RateLimitHeader string
	Registry        *prometheus.Registry
}

type Server struct {
	logger          zerolog.Logger
	generator       generator
	engine          engineStatus
	queueClient     queueEnqueuer
	rateLimiter     RateLimiter
	rateLimitHeader string
	metrics         *metrics
	registry        *prometheus.Registry
	tracer          trace.Tracer
	router          chi.Router
	newID           func() string
}

func NewServer(logger zerolog.Logger, opts Options) *Server {
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if strings.TrimSpace(opts.RateLimitHeader) == "" {
		opts.RateLimitHeader = "X-User-ID"
	}

	s := &Server{
		logger:          logger.With().Str("component", "api").Logger(),
		generator:       opts.Generator,
		engine:          opts.Engine,
		queueClient:     opts.Queue,
		rateLimiter:     opts.RateLimiter,
		rateLimitHeader: opts.RateLimitHeader,
		metrics:         newMetrics(opts.Registry),
		registry:        opts.Registry,
		tracer:          otel.Tracer("charforge/api"),
		router:          chi.NewRouter(),
		newID:           uuid.NewString,
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID, middleware.RealIP, s.accessLog, middleware.Recoverer)
	r.Use(s.metrics.withHTTPMetrics, s.withTracing)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(s.withRateLimit)
		if s.generator != nil {
			r.Post("/runsync", s.handleRunSync)
		}
		r.Post("/run", s.handleRun)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	if s.engine == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "engine": "external"})
		return
	}
	state := s.engine.State()
	if state != engine.StateReady {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "engine": state.String()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "engine": state.String()})
}

func (s *Server) handleRunSync(w http.ResponseWriter, r *http.Request) {
	var event domain.Event
	if err := decodeJSON(r, &event); err != nil {
		writeJSON(w, http.StatusBadRequest, domain.Response{Error: err.Error()})
		return
	}

	resp := s.generator.Handle(r.Context(), event)
	writeJSON(w, statusFor(resp), resp)
}

type runRequest struct {
	Input   domain.Input `json:"input"`
	Webhook string       `json:"webhook,omitempty"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.queueClient == nil {
		writeJSON(w, http.StatusServiceUnavailable, domain.Response{Error: "queue is not configured"})
		return
	}

	var req runRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, domain.Response{Error: err.Error()})
		return
	}
	if err := req.Input.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, domain.Response{Error: handler.ValidationMessage(err)})
		return
	}

	payload := queue.GeneratePayload{
		ID:          s.newID(),
		Event:       domain.Event{Input: req.Input},
		WebhookURL:  strings.TrimSpace(req.Webhook),
		RequestedAt: time.Now().UTC(),
	}
	info, err := s.queueClient.EnqueueGenerate(r.Context(), payload)
	if err != nil {
		s.logger.Error().Err(err).Str("id", payload.ID).Msg("enqueue failed")
		writeJSON(w, http.StatusInternalServerError, domain.Response{Error: "failed to enqueue request"})
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(info.Queue).Inc()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     payload.ID,
		"status": StatusInQueue,
	})
}

func statusFor(resp domain.Response) int {
	if !resp.Failed() {
		return http.StatusOK
	}
	switch resp.Kind {
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindTimeout:
		return http.StatusGatewayTimeout
	case domain.KindSubmission:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a single JSON value. Unknown keys are ignored: hosting
// envelopes carry fields such as id alongside input.
func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
