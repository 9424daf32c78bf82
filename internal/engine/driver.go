package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/dunamismax/charforge/internal/domain"
	"github.com/dunamismax/charforge/internal/retry"
	"github.com/dunamismax/charforge/internal/workflow"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type promptAPI interface {
	QueuePrompt(ctx context.Context, graph workflow.Graph, clientID string) (QueueResponse, error)
	History(ctx context.Context, promptID string) (domain.JobRecord, bool, error)
}

// Driver submits graphs and waits for their history records. It never
// resubmits: the engine is treated as at-most-once per submission.
type Driver struct {
	api          promptAPI
	clientID     string
	pollInterval time.Duration
	logger       zerolog.Logger
	tracer       trace.Tracer
}

func NewDriver(api promptAPI, pollInterval time.Duration, logger zerolog.Logger) *Driver {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Driver{
		api:          api,
		clientID:     uuid.NewString(),
		pollInterval: pollInterval,
		logger:       logger.With().Str("component", "driver").Logger(),
		tracer:       otel.Tracer("charforge/engine"),
	}
}

func (d *Driver) Submit(ctx context.Context, graph workflow.Graph) (string, error) {
	ctx, span := d.tracer.Start(ctx, "engine.submit", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	if err := graph.Validate(); err != nil {
		err = &SubmissionError{Err: fmt.Errorf("invalid graph: %w", err)}
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid graph")
		return "", err
	}

	resp, err := d.api.QueuePrompt(ctx, graph, d.clientID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
		return "", err
	}

	span.SetAttributes(attribute.String("engine.prompt_id", resp.PromptID))
	d.logger.Debug().Str("prompt_id", resp.PromptID).Int("queue_number", resp.Number).Msg("prompt queued")
	return resp.PromptID, nil
}

// AwaitCompletion polls history until promptID shows up or budget elapses.
func (d *Driver) AwaitCompletion(ctx context.Context, promptID string, budget time.Duration) (domain.JobRecord, error) {
	ctx, span := d.tracer.Start(ctx, "engine.await", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("engine.prompt_id", promptID),
		attribute.Float64("engine.budget_seconds", budget.Seconds()),
	)
	defer span.End()

	var record domain.JobRecord
	res, err := retry.Until(ctx, retry.Policy{Interval: d.pollInterval, Budget: budget}, func(ctx context.Context, _ int) (bool, error) {
		rec, found, err := d.api.History(ctx, promptID)
		if err != nil {
			return false, err
		}
		if found {
			record = rec
		}
		return found, nil
	})
	span.SetAttributes(attribute.Int("engine.polls", res.Attempts))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "history poll failed")
		return domain.JobRecord{}, fmt.Errorf("await %s: %w", promptID, err)
	}
	if res.Outcome == retry.TimedOut {
		err := &PollTimeoutError{PromptID: promptID, Budget: budget, Attempts: res.Attempts}
		span.RecordError(err)
		span.SetStatus(codes.Error, "timed out")
		d.logger.Warn().Str("prompt_id", promptID).Dur("budget", budget).Int("polls", res.Attempts).Msg("job not complete within budget")
		return domain.JobRecord{}, err
	}

	d.logger.Debug().
		Str("prompt_id", promptID).
		Int("polls", res.Attempts).
		Dur("elapsed", res.Elapsed).
		Int("images", record.ImageCount()).
		Msg("job complete")
	return record, nil
}
