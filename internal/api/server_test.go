package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dunamismax/charforge/internal/domain"
	"github.com/dunamismax/charforge/internal/engine"
	"github.com/dunamismax/charforge/internal/queue"
	"github.com/dunamismax/charforge/internal/ratelimit"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGenerator struct {
	resp   domain.Response
	events []domain.Event
}

func (g *stubGenerator) Handle(_ context.Context, event domain.Event) domain.Response {
	g.events = append(g.events, event)
	return g.resp
}

type stubEngine engine.State

func (e stubEngine) State() engine.State { return engine.State(e) }

type stubQueue struct {
	err      error
	payloads []queue.GeneratePayload
}

func (q *stubQueue) EnqueueGenerate(_ context.Context, payload queue.GeneratePayload) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.payloads = append(q.payloads, payload)
	return &asynq.TaskInfo{ID: payload.ID, Queue: "generate"}, nil
}

type stubLimiter struct {
	decision ratelimit.Decision
	err      error
	subjects []string
}

func (l *stubLimiter) Allow(_ context.Context, subject string) (ratelimit.Decision, error) {
	l.subjects = append(l.subjects, subject)
	return l.decision, l.err
}

func do(t *testing.T, h http.Handler, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestRunSyncStatusMapping(t *testing.T) {
	elapsed := 1.5
	cases := []struct {
		name string
		resp domain.Response
		want int
	}{
		{"success", domain.Response{Status: domain.StatusSuccess, PromptID: "p", GenerationTime: &elapsed}, http.StatusOK},
		{"invalid", domain.Response{Error: "No prompt provided", Kind: domain.KindInvalidInput}, http.StatusBadRequest},
		{"timeout", domain.Response{Error: "Timeout: p", Kind: domain.KindTimeout, GenerationTime: &elapsed}, http.StatusGatewayTimeout},
		{"submission", domain.Response{Error: "submit prompt: refused", Kind: domain.KindSubmission}, http.StatusBadGateway},
		{"no images", domain.Response{Error: "No images generated", Kind: domain.KindNoImages}, http.StatusInternalServerError},
		{"internal", domain.Response{Error: "boom", Kind: domain.KindInternal}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gen := &stubGenerator{resp: tc.resp}
			srv := NewServer(zerolog.Nop(), Options{Generator: gen})

			rec := do(t, srv.Handler(), http.MethodPost, "/runsync", `{"input":{"prompt":"a knight","mode":"fast"}}`, nil)
			assert.Equal(t, tc.want, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			require.Len(t, gen.events, 1)
			assert.Equal(t, "a knight", gen.events[0].Input.Prompt)
			assert.Equal(t, domain.ModeFast, gen.events[0].Input.Mode)
		})
	}
}

func TestRunSyncBodyIsHandlerResponse(t *testing.T) {
	gen := &stubGenerator{resp: domain.Response{Error: "No prompt provided", Kind: domain.KindInvalidInput}}
	srv := NewServer(zerolog.Nop(), Options{Generator: gen})

	rec := do(t, srv.Handler(), http.MethodPost, "/runsync", `{"input":{}}`, nil)
	assert.JSONEq(t, `{"error":"No prompt provided"}`, rec.Body.String())
}

func TestRunSyncRejectsMalformedJSON(t *testing.T) {
	gen := &stubGenerator{}
	srv := NewServer(zerolog.Nop(), Options{Generator: gen})

	for _, body := range []string{`{`, `{"input":{"prompt":"x"}} {}`, `{"input":"x"}`} {
		rec := do(t, srv.Handler(), http.MethodPost, "/runsync", body, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Empty(t, gen.events)
}

func TestRunSyncIgnoresEnvelopeKeys(t *testing.T) {
	gen := &stubGenerator{resp: domain.Response{Status: domain.StatusSuccess, PromptID: "p"}}
	srv := NewServer(zerolog.Nop(), Options{Generator: gen})

	rec := do(t, srv.Handler(), http.MethodPost, "/runsync", `{"id":"job-1","delayTime":12,"input":{"prompt":"a knight","steps":30,"extra":1}}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, gen.events, 1)
	assert.Equal(t, "a knight", gen.events[0].Input.Prompt)
}

func TestRunEnqueues(t *testing.T) {
	q := &stubQueue{}
	reg := prometheus.NewRegistry()
	srv := NewServer(zerolog.Nop(), Options{Generator: &stubGenerator{}, Queue: q, Registry: reg})
	srv.newID = func() string { return "evt-fixed" }

	rec := do(t, srv.Handler(), http.MethodPost, "/run", `{"input":{"prompt":"an orc"},"webhook":" https://hooks.example.test/x "}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"id":"evt-fixed","status":"IN_QUEUE"}`, rec.Body.String())

	require.Len(t, q.payloads, 1)
	p := q.payloads[0]
	assert.Equal(t, "evt-fixed", p.ID)
	assert.Equal(t, "an orc", p.Event.Input.Prompt)
	assert.Equal(t, "https://hooks.example.test/x", p.WebhookURL)
	assert.WithinDuration(t, time.Now(), p.RequestedAt, time.Minute)
	assert.Equal(t, 1.0, testutil.ToFloat64(srv.metrics.queueEnqueued.WithLabelValues("generate")))
}

func TestRunIgnoresEnvelopeKeys(t *testing.T) {
	q := &stubQueue{}
	srv := NewServer(zerolog.Nop(), Options{Generator: &stubGenerator{}, Queue: q})

	rec := do(t, srv.Handler(), http.MethodPost, "/run", `{"id":"client-7","input":{"prompt":"an orc","extra":1},"policy":{}}`, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, q.payloads, 1)
	assert.Equal(t, "an orc", q.payloads[0].Event.Input.Prompt)
}

func TestRunValidatesBeforeEnqueue(t *testing.T) {
	q := &stubQueue{}
	srv := NewServer(zerolog.Nop(), Options{Generator: &stubGenerator{}, Queue: q})

	rec := do(t, srv.Handler(), http.MethodPost, "/run", `{"input":{"prompt":"   "}}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No prompt provided", decodeBody(t, rec)["error"])
	assert.Empty(t, q.payloads)
}

func TestRunWithoutQueue(t *testing.T) {
	srv := NewServer(zerolog.Nop(), Options{Generator: &stubGenerator{}})

	rec := do(t, srv.Handler(), http.MethodPost, "/run", `{"input":{"prompt":"an orc"}}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRunEnqueueFailure(t *testing.T) {
	srv := NewServer(zerolog.Nop(), Options{Generator: &stubGenerator{}, Queue: &stubQueue{err: errors.New("redis down")}})

	rec := do(t, srv.Handler(), http.MethodPost, "/run", `{"input":{"prompt":"an orc"}}`, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealthzReflectsEngineState(t *testing.T) {
	ready := NewServer(zerolog.Nop(), Options{Generator: &stubGenerator{}, Engine: stubEngine(engine.StateReady)})
	rec := do(t, ready.Handler(), http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","engine":"ready"}`, rec.Body.String())

	failed := NewServer(zerolog.Nop(), Options{Generator: &stubGenerator{}, Engine: stubEngine(engine.StateFailed)})
	rec = do(t, failed.Handler(), http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "failed", decodeBody(t, rec)["engine"])
}

func TestEnqueueOnlyServer(t *testing.T) {
	q := &stubQueue{}
	srv := NewServer(zerolog.Nop(), Options{Queue: q})

	rec := do(t, srv.Handler(), http.MethodPost, "/runsync", `{"input":{"prompt":"a knight"}}`, nil)
	assert.Contains(t, []int{http.StatusNotFound, http.StatusMethodNotAllowed}, rec.Code)

	rec = do(t, srv.Handler(), http.MethodPost, "/run", `{"input":{"prompt":"a knight"}}`, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, q.payloads, 1)

	rec = do(t, srv.Handler(), http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","engine":"external"}`, rec.Body.String())
}

func TestRateLimitRejects(t *testing.T) {
	limiter := &stubLimiter{decision: ratelimit.Decision{Allowed: false, RetryAfter: 2400 * time.Millisecond}}
	gen := &stubGenerator{}
	srv := NewServer(zerolog.Nop(), Options{Generator: gen, RateLimiter: limiter, RateLimitHeader: "X-User-ID"})

	rec := do(t, srv.Handler(), http.MethodPost, "/runsync", `{"input":{"prompt":"x"}}`, http.Header{"X-User-Id": {"alice"}})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Equal(t, []string{"alice"}, limiter.subjects)
	assert.Empty(t, gen.events)

	// Health checks bypass the limiter.
	rec = do(t, srv.Handler(), http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, limiter.subjects, 1)
}

func TestRateLimitFailsOpen(t *testing.T) {
	limiter := &stubLimiter{err: errors.New("redis down")}
	gen := &stubGenerator{resp: domain.Response{Status: domain.StatusSuccess}}
	srv := NewServer(zerolog.Nop(), Options{Generator: gen, RateLimiter: limiter})

	rec := do(t, srv.Handler(), http.MethodPost, "/runsync", `{"input":{"prompt":"x"}}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"anonymous"}, limiter.subjects)
}

func TestMetricsEndpointUsesRoutePatterns(t *testing.T) {
	srv := NewServer(zerolog.Nop(), Options{Generator: &stubGenerator{resp: domain.Response{Status: domain.StatusSuccess}}})
	do(t, srv.Handler(), http.MethodPost, "/runsync", `{"input":{"prompt":"x"}}`, nil)

	rec := do(t, srv.Handler(), http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `charforge_api_requests_total{method="POST",route="/runsync",status="200"} 1`)
}
