package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dunamismax/charforge/internal/domain"
	"github.com/dunamismax/charforge/internal/queue"
	"github.com/dunamismax/charforge/internal/webhook"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

type scriptedGenerator struct {
	resp   domain.Response
	events []domain.Event
}

func (g *scriptedGenerator) Handle(_ context.Context, event domain.Event) domain.Response {
	g.events = append(g.events, event)
	return g.resp
}

type recordingDeliverer struct {
	err        error
	endpoints  []string
	deliveries []webhook.Delivery
}

func (d *recordingDeliverer) Deliver(_ context.Context, endpoint string, delivery webhook.Delivery) error {
	d.endpoints = append(d.endpoints, endpoint)
	d.deliveries = append(d.deliveries, delivery)
	return d.err
}

func newTestServer(gen generator, hooks deliverer) *Server {
	return &Server{
		logger:    zerolog.Nop(),
		generator: gen,
		webhooks:  hooks,
		metrics:   newMetrics(prometheus.NewRegistry()),
		tracer:    otel.Tracer("test"),
		now:       time.Now,
	}
}

func generateTask(t *testing.T, payload queue.GeneratePayload) *asynq.Task {
	t.Helper()
	task, err := queue.NewGenerateTask(payload)
	require.NoError(t, err)
	return task
}

func TestProcessTaskDeliversSuccess(t *testing.T) {
	gen := &scriptedGenerator{resp: domain.Response{Status: domain.StatusSuccess, PromptID: "p-1"}}
	hooks := &recordingDeliverer{}
	s := newTestServer(gen, hooks)

	err := s.ProcessTask(context.Background(), generateTask(t, queue.GeneratePayload{
		ID:          "evt-1",
		Event:       domain.Event{Input: domain.Input{Prompt: "a wizard"}},
		WebhookURL:  "https://hooks.example.test/x",
		RequestedAt: time.Now().Add(-time.Second),
	}))
	require.NoError(t, err)

	require.Len(t, gen.events, 1)
	assert.Equal(t, "a wizard", gen.events[0].Input.Prompt)
	require.Len(t, hooks.deliveries, 1)
	assert.Equal(t, "https://hooks.example.test/x", hooks.endpoints[0])
	assert.Equal(t, webhook.StatusCompleted, hooks.deliveries[0].Status)
	assert.Equal(t, "evt-1", hooks.deliveries[0].ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.tasksTotal.WithLabelValues(webhook.StatusCompleted)))
	assert.Equal(t, 0.0, testutil.ToFloat64(s.metrics.activeTasks))
}

func TestProcessTaskFailedGenerationSkipsRetry(t *testing.T) {
	gen := &scriptedGenerator{resp: domain.Response{Error: "No images generated", Kind: domain.KindNoImages}}
	hooks := &recordingDeliverer{}
	s := newTestServer(gen, hooks)

	err := s.ProcessTask(context.Background(), generateTask(t, queue.GeneratePayload{
		ID:         "evt-2",
		Event:      domain.Event{Input: domain.Input{Prompt: "a wizard"}},
		WebhookURL: "https://hooks.example.test/x",
	}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	require.Len(t, hooks.deliveries, 1)
	assert.Equal(t, webhook.StatusFailed, hooks.deliveries[0].Status)
	assert.Equal(t, "No images generated", hooks.deliveries[0].Output.Error)
}

func TestProcessTaskWithoutWebhook(t *testing.T) {
	gen := &scriptedGenerator{resp: domain.Response{Status: domain.StatusSuccess}}
	hooks := &recordingDeliverer{}
	s := newTestServer(gen, hooks)

	require.NoError(t, s.ProcessTask(context.Background(), generateTask(t, queue.GeneratePayload{ID: "evt-3"})))
	assert.Empty(t, hooks.deliveries)
}

func TestProcessTaskWebhookFailure(t *testing.T) {
	gen := &scriptedGenerator{resp: domain.Response{Status: domain.StatusSuccess}}
	hooks := &recordingDeliverer{err: errors.New("connection refused")}
	s := newTestServer(gen, hooks)

	err := s.ProcessTask(context.Background(), generateTask(t, queue.GeneratePayload{ID: "evt-4", WebhookURL: "http://127.0.0.1:1/"}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.webhookFailures))
}

func TestProcessTaskRejectsMalformedPayload(t *testing.T) {
	gen := &scriptedGenerator{}
	s := newTestServer(gen, nil)

	err := s.ProcessTask(context.Background(), asynq.NewTask(queue.TypeGenerateCharacter, []byte("not json")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	assert.Empty(t, gen.events)
}
