// Package handler is the single entry point invoked by the hosting layer. It
// turns an event into a compiled graph, drives it through the engine and
// shapes the response. No failure escapes Handle.
package handler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/dunamismax/charforge/internal/domain"
	"github.com/dunamismax/charforge/internal/engine"
	"github.com/dunamismax/charforge/internal/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	MsgNoPrompt = "No prompt provided"
	MsgNoImages = "No images generated"
)

type graphCompiler interface {
	Compile(req domain.JobRequest, preset domain.Preset) workflow.Graph
}

type jobDriver interface {
	Submit(ctx context.Context, graph workflow.Graph) (string, error)
	AwaitCompletion(ctx context.Context, promptID string, budget time.Duration) (domain.JobRecord, error)
}

type artifactExtractor interface {
	Extract(record domain.JobRecord) []domain.ImageArtifact
}

type artifactMirror interface {
	MirrorArtifact(ctx context.Context, promptID string, a domain.ImageArtifact) (string, error)
}

type readiness interface {
	Ready() bool
}

// Deps wires the pipeline stages. Mirror and Readiness are optional.
type Deps struct {
	Compiler   graphCompiler
	Driver     jobDriver
	Extractor  artifactExtractor
	Mirror     artifactMirror
	Readiness  readiness
	JobTimeout time.Duration
}

type Handler struct {
	deps    Deps
	logger  zerolog.Logger
	metrics *metrics
	tracer  trace.Tracer
}

func New(deps Deps, logger zerolog.Logger, reg prometheus.Registerer) *Handler {
	if deps.JobTimeout <= 0 {
		deps.JobTimeout = 120 * time.Second
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Handler{
		deps:    deps,
		logger:  logger.With().Str("component", "handler").Logger(),
		metrics: newMetrics(reg),
		tracer:  otel.Tracer("charforge/handler"),
	}
}

func (h *Handler) Handle(ctx context.Context, event domain.Event) (resp domain.Response) {
	startedAt := time.Now()
	modeLabel := domain.ResolveMode(event.Input.Mode)

	ctx, span := h.tracer.Start(ctx, "handler.generate", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.String("generation.mode", modeLabel))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().Interface("panic", r).Msg("generation panicked")
			resp = failure(startedAt, domain.KindInternal, fmt.Sprintf("panic: %v", r), string(debug.Stack()))
		}

		outcome := "success"
		if resp.Failed() {
			outcome = string(resp.Kind)
			span.SetStatus(codes.Error, resp.Error)
		} else {
			span.SetStatus(codes.Ok, "generated")
		}
		h.metrics.requestsTotal.WithLabelValues(modeLabel, outcome).Inc()
		h.metrics.requestDuration.WithLabelValues(modeLabel, outcome).Observe(time.Since(startedAt).Seconds())
	}()

	input := event.Input
	if err := input.Validate(); err != nil {
		return domain.Response{Error: ValidationMessage(err), Kind: domain.KindInvalidInput}
	}
	if h.deps.Readiness != nil && !h.deps.Readiness.Ready() {
		return failureFromErr(startedAt, engine.ErrNotReady)
	}

	req := input.JobRequest()
	preset := domain.PresetFor(req.Mode)
	userPrompt := req.Prompt
	req.Prompt = StylePrompt(userPrompt)

	graph := h.deps.Compiler.Compile(req, preset)
	seed := graph.SamplerSeed()
	span.SetAttributes(attribute.Int64("generation.seed", seed), attribute.Int("generation.steps", preset.Steps))

	h.logger.Info().
		Str("mode", req.Mode).
		Int("steps", preset.Steps).
		Int64("seed", seed).
		Str("prompt", truncate(userPrompt, 60)).
		Msg("generating")

	promptID, err := h.deps.Driver.Submit(ctx, graph)
	if err != nil {
		h.logger.Error().Err(err).Msg("submit failed")
		return failureFromErr(startedAt, err)
	}

	record, err := h.deps.Driver.AwaitCompletion(ctx, promptID, h.deps.JobTimeout)
	if err != nil {
		h.logger.Error().Err(err).Str("prompt_id", promptID).Msg("await failed")
		return failureFromErr(startedAt, err)
	}

	images := h.deps.Extractor.Extract(record)
	if len(images) == 0 {
		entry := h.logger.Warn().Str("prompt_id", promptID).Int("refs", record.ImageCount())
		if record.Status != nil {
			entry = entry.Str("engine_status", record.Status.StatusStr)
		}
		entry.Msg("job completed without retrievable images")
		return domain.Response{Error: MsgNoImages, Kind: domain.KindNoImages}
	}

	h.mirror(ctx, promptID, images)
	h.recordImages(images)

	elapsed := time.Since(startedAt).Seconds()
	h.logger.Info().Str("prompt_id", promptID).Int("images", len(images)).Float64("seconds", elapsed).Msg("generated")

	return domain.Response{
		Status:         domain.StatusSuccess,
		PromptID:       promptID,
		Images:         images,
		GenerationTime: &elapsed,
		Metadata: &domain.Metadata{
			Prompt: userPrompt,
			Width:  req.Width,
			Height: req.Height,
			Seed:   seed,
			Steps:  preset.Steps,
			CFG:    preset.CFG,
			Mode:   req.Mode,
		},
	}
}

// mirror uploads images when a mirror is configured. Failures are logged and
// leave the response untouched.
func (h *Handler) mirror(ctx context.Context, promptID string, images []domain.ImageArtifact) {
	if h.deps.Mirror == nil {
		return
	}
	for i := range images {
		key, err := h.deps.Mirror.MirrorArtifact(ctx, promptID, images[i])
		if err != nil {
			h.metrics.mirrorFailures.Inc()
			h.logger.Warn().Err(err).Str("prompt_id", promptID).Str("filename", images[i].Filename).Msg("mirror upload failed")
			continue
		}
		images[i].ObjectKey = key
	}
}

func (h *Handler) recordImages(images []domain.ImageArtifact) {
	h.metrics.imagesTotal.Add(float64(len(images)))
	var pixels int
	for _, img := range images {
		pixels += img.Width * img.Height
	}
	h.metrics.pixelsTotal.Add(float64(pixels))
}

// ValidationMessage is the caller-facing text for an input validation error.
func ValidationMessage(err error) string {
	if errors.Is(err, domain.ErrNoPrompt) {
		return MsgNoPrompt
	}
	return err.Error()
}

func failureFromErr(startedAt time.Time, err error) domain.Response {
	return failure(startedAt, classify(err), err.Error(), Traceback(err))
}

func failure(startedAt time.Time, kind domain.ErrorKind, msg, traceback string) domain.Response {
	elapsed := time.Since(startedAt).Seconds()
	return domain.Response{
		Error:          msg,
		Traceback:      traceback,
		GenerationTime: &elapsed,
		Kind:           kind,
	}
}

func classify(err error) domain.ErrorKind {
	var (
		subErr     *engine.SubmissionError
		timeoutErr *engine.PollTimeoutError
	)
	switch {
	case errors.As(err, &subErr):
		return domain.KindSubmission
	case errors.As(err, &timeoutErr):
		return domain.KindTimeout
	default:
		return domain.KindInternal
	}
}

// Traceback renders the wrap chain of err, outermost first, one cause per line.
func Traceback(err error) string {
	var b strings.Builder
	for depth := 0; err != nil; depth++ {
		if depth > 0 {
			b.WriteString("\n")
			b.WriteString(strings.Repeat("  ", depth))
			b.WriteString("caused by: ")
		}
		fmt.Fprintf(&b, "%T: %v", err, err)
		err = errors.Unwrap(err)
	}
	return b.String()
}
