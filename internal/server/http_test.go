package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"genrouter/internal/cache"
	"genrouter/internal/core"
	"genrouter/internal/metrics"
	"genrouter/internal/providers"
	"genrouter/internal/router"
	"genrouter/internal/usage"
)

// echoAdapter answers every call with a canned completion.
type echoAdapter struct {
	name   string
	models []string
	tasks  []core.TaskType
	calls  atomic.Int32
}

func newEchoAdapter(name string, models []string, tasks ...core.TaskType) *echoAdapter {
	return &echoAdapter{name: name, models: models, tasks: tasks}
}

func (a *echoAdapter) Name() string     { return a.name }
func (a *echoAdapter) Models() []string { return a.models }

func (a *echoAdapter) Supports(task core.TaskType) bool {
	if len(a.tasks) == 0 {
		return true
	}
	for _, t := range a.tasks {
		if t == task {
			return true
		}
	}
	return false
}

func (a *echoAdapter) Priority(core.TaskType) int { return 1 }

func (a *echoAdapter) Pricing(string) core.Pricing {
	return core.Pricing{InputPerToken: 0.00001, OutputPerToken: 0.00003}
}

func (a *echoAdapter) Timeout() time.Duration { return time.Second }

func (a *echoAdapter) Call(_ context.Context, req *core.ProviderRequest) (*core.ProviderResult, error) {
	n := a.calls.Add(1)
	return &core.ProviderResult{
		Content:      fmt.Sprintf("haiku #%d for %q", n, req.Prompt),
		ModelUsed:    req.Model,
		TokensInput:  10,
		TokensOutput: 20,
	}, nil
}

type testServer struct {
	srv     *Server
	adapter *echoAdapter
	tracker *usage.Tracker
}

func newTestServer(t *testing.T, cfg *Config) *testServer {
	t.Helper()
	adapter := newEchoAdapter("primary", []string{"primary-1"})
	registry, err := providers.NewRegistry(adapter)
	require.NoError(t, err)

	tracker := usage.NewTracker(0)
	rt := router.New(registry, router.Config{}, router.Options{
		Cache:   cache.NewMemoryCache(cache.MemoryConfig{TTL: time.Minute}),
		Tracker: tracker,
	})
	return &testServer{
		srv:     New(rt, registry, tracker, cfg),
		adapter: adapter,
		tracker: tracker,
	}
}

func (ts *testServer) do(t *testing.T, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[http.CanonicalHeaderKey(k)] = v
	}
	rec := httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, req)
	return rec
}

func TestServer_HaikuIsCachedOnSecondRequest(t *testing.T) {
	ts := newTestServer(t, nil)
	payload := `{"prompt":"Write a haiku","type":"creative"}`

	first := ts.do(t, http.MethodPost, "/generate", payload, nil)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	var r1 generateResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &r1))
	assert.True(t, r1.Success)
	assert.False(t, r1.Metadata.Cached)
	assert.Equal(t, "primary", r1.Metadata.Provider)
	assert.Equal(t, "creative", r1.Metadata.TaskType)
	assert.Equal(t, 30, r1.Metadata.Usage.TotalTokens)
	assert.InDelta(t, 0.0007, r1.Metadata.Cost, 1e-9)

	second := ts.do(t, http.MethodPost, "/generate", payload, nil)
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())
	var r2 generateResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &r2))
	assert.True(t, r2.Success)
	assert.True(t, r2.Metadata.Cached)
	assert.Equal(t, r1.Result, r2.Result)

	assert.Equal(t, int32(1), ts.adapter.calls.Load())
	snap := ts.tracker.Snapshot()
	assert.Equal(t, int64(1), snap.Total.Requests)
	assert.Equal(t, int64(1), snap.Total.CachedHits)
}

func TestServer_ValidationErrors(t *testing.T) {
	ts := newTestServer(t, nil)
	tests := []struct {
		name string
		body string
	}{
		{"missing prompt", `{"type":"text"}`},
		{"unknown type", `{"prompt":"hi","type":"video"}`},
		{"prompt too long", fmt.Sprintf(`{"prompt":%q,"type":"text"}`, strings.Repeat("a", 10001))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/generate", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, false, body["success"])
			assert.NotEmpty(t, body["error"])
		})
	}
	assert.Zero(t, ts.adapter.calls.Load())
}

func TestServer_RequestID(t *testing.T) {
	ts := newTestServer(t, nil)

	t.Run("generated when absent", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/generate", `{"prompt":"a","type":"text"}`, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		id := rec.Header().Get("X-Request-ID")
		assert.Len(t, id, 36)

		var resp generateResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, id, resp.Metadata.RequestID)
	})

	t.Run("propagated when present", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/generate", `{"prompt":"b","type":"text"}`,
			http.Header{"X-Request-Id": {"req-123"}})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))

		var resp generateResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "req-123", resp.Metadata.RequestID)
	})
}

func TestServer_MasterKey(t *testing.T) {
	ts := newTestServer(t, &Config{MasterKey: "sekret", MetricsEnabled: true, MetricsHandler: http.NotFoundHandler()})

	rec := ts.do(t, http.MethodPost, "/generate", `{"prompt":"a","type":"text"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodPost, "/generate", `{"prompt":"a","type":"text"}`,
		http.Header{"Authorization": {"Bearer sekret"}})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// The metrics path skips auth; the stub handler answers 404.
	rec = ts.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_BodyLimit(t *testing.T) {
	ts := newTestServer(t, &Config{BodySizeLimit: 1024})
	body := fmt.Sprintf(`{"prompt":%q,"type":"text"}`, strings.Repeat("a", 2048))

	rec := ts.do(t, http.MethodPost, "/generate", body, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Zero(t, ts.adapter.calls.Load())

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, false, envelope["success"])
	assert.Equal(t, string(core.ErrorTypeInvalidRequest), envelope["type"])
	assert.NotEmpty(t, envelope["error"])
}

func TestServer_FrameworkErrorsUseEnvelope(t *testing.T) {
	ts := newTestServer(t, nil)
	tests := []struct {
		name     string
		method   string
		target   string
		wantCode int
		wantType core.ErrorType
	}{
		{"unknown route", http.MethodGet, "/nope", http.StatusNotFound, core.ErrorTypeNotFound},
		{"wrong method", http.MethodDelete, "/generate", http.StatusMethodNotAllowed, core.ErrorTypeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, tt.method, tt.target, "", nil)
			assert.Equal(t, tt.wantCode, rec.Code)

			var envelope map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
			assert.Equal(t, false, envelope["success"])
			assert.Equal(t, string(tt.wantType), envelope["type"])
		})
	}
}

type panickingRouter struct{}

func (panickingRouter) Route(context.Context, *core.GenerationRequest) (*core.Completion, error) {
	panic("router bug")
}

func TestServer_RecoveredPanicUsesEnvelope(t *testing.T) {
	ts := &testServer{srv: New(panickingRouter{}, nil, nil, nil)}

	rec := ts.do(t, http.MethodPost, "/generate", `{"prompt":"a","type":"text"}`, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, false, envelope["success"])
	assert.Equal(t, string(core.ErrorTypeInternal), envelope["type"])
	assert.NotContains(t, rec.Body.String(), "router bug")
}

func TestServer_CallerHeader(t *testing.T) {
	stub := &stubRouter{completion: &core.Completion{Content: "ok"}}
	ts := &testServer{srv: New(stub, nil, nil, nil)}

	rec := ts.do(t, http.MethodPost, "/generate", `{"prompt":"a","type":"text"}`,
		http.Header{HeaderCallerID: {"team-7"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "team-7", stub.callerID)
	assert.Empty(t, stub.last.CallerID, "the body field stays authoritative")
}

func TestServer_CallerHeaderBillsUsage(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/generate", `{"prompt":"bill me","type":"text"}`,
		http.Header{HeaderCallerID: {"team-7"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"team-7"}, ts.tracker.Snapshot().TopCallers(10))
}

func TestServer_RequestLogCarriesTraceID(t *testing.T) {
	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	stub := &stubRouter{completion: &core.Completion{Content: "ok"}}
	ts := &testServer{srv: New(stub, nil, nil, &Config{TracerProvider: tp})}

	rec := ts.do(t, http.MethodPost, "/generate", `{"prompt":"a","type":"text"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, stub.traceID, 32, "the router runs inside the request span")

	var found bool
	for _, line := range strings.Split(strings.TrimSpace(logs.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["msg"] == "request" {
			found = true
			assert.Equal(t, stub.traceID, entry["trace_id"])
		}
	}
	assert.True(t, found, "request log line missing")
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	adapter := newEchoAdapter("primary", []string{"primary-1"})
	registry, err := providers.NewRegistry(adapter)
	require.NoError(t, err)
	rt := router.New(registry, router.Config{}, router.Options{Metrics: m})
	srv := New(rt, registry, nil, &Config{
		MetricsEnabled:  true,
		MetricsEndpoint: "/internal/../metrics",
		MetricsHandler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
	ts := &testServer{srv: srv, adapter: adapter}

	rec := ts.do(t, http.MethodPost, "/generate", `{"prompt":"a","type":"code"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `genrouter_requests_total{outcome="served",task_type="coding"} 1`)
}

func TestServer_MetricsDisabled(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_CapabilitiesAndStats(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/generate", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var caps capabilitiesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &caps))
	assert.Equal(t, []string{"primary-1"}, caps.Models)
	require.Len(t, caps.Providers, 1)
	assert.Equal(t, "primary", caps.Providers[0].Name)

	rec = ts.do(t, http.MethodGet, "/stats", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, ts.adapter.calls.Load())
}
