package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genrouter/internal/core"
)

func fastConfig(url string) Config {
	config := DefaultConfig("test", url)
	config.InitialBackoff = time.Millisecond
	config.MaxBackoff = 5 * time.Millisecond
	return config
}

func TestClient_DoRaw_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Test") != "value" {
			t.Errorf("expected X-Test header, got %q", r.Header.Get("X-Test"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"hello"}`))
	}))
	defer server.Close()

	client := New(
		DefaultConfig("test", server.URL),
		func(req *http.Request) {
			req.Header.Set("X-Test", "value")
		},
	)

	resp, err := client.DoRaw(context.Background(), Request{
		Method:   http.MethodGet,
		Endpoint: "/test",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"message":"hello"}`, string(resp.Body))
}

func TestClient_DoRaw_WithRequestBody(t *testing.T) {
	var receivedBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected Content-Type 'application/json', got '%s'", r.Header.Get("Content-Type"))
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &receivedBody)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := New(DefaultConfig("test", server.URL), nil)

	_, err := client.DoRaw(context.Background(), Request{
		Method:   http.MethodPost,
		Endpoint: "/test",
		Body:     map[string]string{"input": "test"},
		Headers:  map[string]string{"X-Extra": "1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "test", receivedBody["input"])
}

func TestClient_DoRaw_ErrorParsing(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		wantType   core.ErrorType
		transient  bool
	}{
		{"rate limit", http.StatusTooManyRequests, `{"error":{"message":"Rate limited"}}`, core.ErrorTypeRateLimit, true},
		{"authentication", http.StatusUnauthorized, `{"error":{"message":"Invalid API key"}}`, core.ErrorTypeAuthentication, true},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"Invalid model"}}`, core.ErrorTypeRejected, false},
		{"server error", http.StatusInternalServerError, `{"error":{"message":"Server error"}}`, core.ErrorTypeProvider, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			config := DefaultConfig("test", server.URL)
			config.MaxRetries = 0
			client := New(config, nil)

			_, err := client.DoRaw(context.Background(), Request{Method: http.MethodGet, Endpoint: "/test"})
			require.Error(t, err)

			var gatewayErr *core.GatewayError
			require.ErrorAs(t, err, &gatewayErr)
			assert.Equal(t, tt.wantType, gatewayErr.Type)
			assert.Equal(t, "test", gatewayErr.Provider)
			assert.Equal(t, tt.transient, core.IsTransient(err))
		})
	}
}

func TestClient_DoRaw_RetriesServerErrors(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	config := fastConfig(server.URL)
	config.MaxRetries = 3
	client := New(config, nil)

	resp, err := client.DoRaw(context.Background(), Request{Method: http.MethodGet, Endpoint: "/test"})
	require.NoError(t, err)
	assert.Contains(t, string(resp.Body), "success")
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestClient_DoRaw_RetriesExhausted(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream down"}}`))
	}))
	defer server.Close()

	config := fastConfig(server.URL)
	config.MaxRetries = 2
	client := New(config, nil)

	_, err := client.DoRaw(context.Background(), Request{Method: http.MethodGet, Endpoint: "/test"})
	require.Error(t, err)

	var gatewayErr *core.GatewayError
	require.ErrorAs(t, err, &gatewayErr)
	assert.Equal(t, core.ErrorTypeProvider, gatewayErr.Type)
	// 1 initial + 2 retries = 3 attempts
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestClient_DoRaw_RateLimitNotRetried(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	config := fastConfig(server.URL)
	config.MaxRetries = 3
	client := New(config, nil)

	_, err := client.DoRaw(context.Background(), Request{Method: http.MethodGet, Endpoint: "/test"})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestClient_NonRetryableErrors(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Bad request"}}`))
	}))
	defer server.Close()

	config := fastConfig(server.URL)
	config.MaxRetries = 3
	client := New(config, nil)

	_, err := client.DoRaw(context.Background(), Request{Method: http.MethodGet, Endpoint: "/test"})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts), "400 must not be retried")
}

func TestClient_EncodeFailureIsTransient(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
	}))
	defer server.Close()

	client := New(fastConfig(server.URL), nil)

	_, err := client.DoRaw(context.Background(), Request{
		Method:   http.MethodPost,
		Endpoint: "/test",
		Body:     map[string]any{"bad": make(chan int)},
	})
	require.Error(t, err)

	var gwErr *core.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, core.ErrorTypeProvider, gwErr.Type)
	assert.Equal(t, "test", gwErr.Provider)
	assert.True(t, core.IsTransient(err), "the next candidate should still be tried")
	assert.Zero(t, atomic.LoadInt32(&attempts))
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"Server error"}}`))
	}))
	defer server.Close()

	config := DefaultConfig("test", server.URL)
	config.MaxRetries = 0
	config.CircuitBreaker = &CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          time.Second,
	}
	client := New(config, nil)

	for i := 0; i < 5; i++ {
		_, _ = client.DoRaw(context.Background(), Request{Method: http.MethodGet, Endpoint: "/test"})
	}

	_, err := client.DoRaw(context.Background(), Request{Method: http.MethodGet, Endpoint: "/test"})
	require.Error(t, err)

	var gatewayErr *core.GatewayError
	require.ErrorAs(t, err, &gatewayErr)
	assert.Equal(t, http.StatusServiceUnavailable, gatewayErr.StatusCode)
	assert.True(t, strings.Contains(gatewayErr.Message, "circuit breaker"))
	assert.ErrorIs(t, err, core.ErrCircuitOpen)
	assert.True(t, core.IsTransient(err), "open circuit lets the dispatcher move on")
	assert.Equal(t, "open", client.CircuitState())

	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts), "requests stop once the circuit opens")
}

func TestCircuitBreaker_ClosesAfterTimeout(t *testing.T) {
	var attempts int32
	var shouldSucceed atomic.Bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		if shouldSucceed.Load() {
			_, _ = w.Write([]byte(`{"success":true}`))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	config := DefaultConfig("test", server.URL)
	config.MaxRetries = 0
	config.CircuitBreaker = &CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          50 * time.Millisecond,
	}
	client := New(config, nil)

	for i := 0; i < 2; i++ {
		_, _ = client.DoRaw(context.Background(), Request{Method: http.MethodGet, Endpoint: "/test"})
	}

	_, err := client.DoRaw(context.Background(), Request{Method: http.MethodGet, Endpoint: "/test"})
	require.Error(t, err, "circuit should be open")

	time.Sleep(100 * time.Millisecond)
	shouldSucceed.Store(true)

	_, err = client.DoRaw(context.Background(), Request{Method: http.MethodGet, Endpoint: "/test"})
	require.NoError(t, err)
	assert.Equal(t, "closed", client.CircuitState())
}

func TestCircuitBreaker_State(t *testing.T) {
	cb := newCircuitBreaker("test", CircuitBreakerConfig{FailureThreshold: 3, SuccessThreshold: 2, Timeout: time.Minute})
	assert.Equal(t, "closed", cb.State())

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	assert.Equal(t, "open", cb.State())
	allowed, _ := cb.Allow()
	assert.False(t, allowed)
}

func TestCircuitBreaker_HalfOpenAdmitsOneTrial(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := newCircuitBreaker("test", CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Minute})
	cb.now = func() time.Time { return clock }

	cb.RecordFailure()
	allowed, _ := cb.Allow()
	require.False(t, allowed)

	clock = clock.Add(time.Minute)
	assert.Equal(t, "half-open", cb.State())
	allowed, trial := cb.Allow()
	require.True(t, allowed, "first call after the cool-down is the trial")
	require.True(t, trial)
	allowed, _ = cb.Allow()
	assert.False(t, allowed, "only one trial at a time")

	cb.RecordFailure()
	cb.endTrial()
	assert.Equal(t, "open", cb.State(), "a failed trial reopens the circuit")
	allowed, _ = cb.Allow()
	assert.False(t, allowed)

	clock = clock.Add(time.Minute)
	for i := 0; i < 2; i++ {
		allowed, trial = cb.Allow()
		require.True(t, allowed, "trial %d", i)
		require.True(t, trial)
		cb.RecordSuccess()
		cb.endTrial()
	}
	assert.Equal(t, "closed", cb.State())
	allowed, trial = cb.Allow()
	assert.True(t, allowed)
	assert.False(t, trial, "a closed circuit admits calls freely")
}

func TestCircuitBreaker_NeutralTrialFreesSlot(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := newCircuitBreaker("test", CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Second})
	cb.now = func() time.Time { return clock }

	cb.RecordFailure()
	clock = clock.Add(time.Second)
	allowed, _ := cb.Allow()
	require.True(t, allowed)
	cb.endTrial()

	assert.Equal(t, "half-open", cb.State())
	allowed, _ = cb.Allow()
	assert.True(t, allowed, "a trial that recorded nothing must not wedge the breaker")
}

func TestClient_DeadlineBecomesTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := New(DefaultConfig("test", server.URL), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.DoRaw(ctx, Request{Method: http.MethodGet, Endpoint: "/test"})
	require.Error(t, err)

	var gatewayErr *core.GatewayError
	require.ErrorAs(t, err, &gatewayErr)
	assert.Equal(t, core.ErrorTypeTimeout, gatewayErr.Type)
	assert.True(t, core.IsTransient(err))
}

func TestClient_CancellationPropagates(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := New(DefaultConfig("test", server.URL), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := client.DoRaw(ctx, Request{Method: http.MethodGet, Endpoint: "/test"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig("test-provider", "https://api.test.com")

	assert.Equal(t, "test-provider", config.ProviderName)
	assert.Equal(t, "https://api.test.com", config.BaseURL)
	assert.Equal(t, 1, config.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, config.InitialBackoff)
	require.NotNil(t, config.CircuitBreaker)
}

func TestClient_SetBaseURL(t *testing.T) {
	client := New(DefaultConfig("test", "https://original.com"), nil)
	assert.Equal(t, "https://original.com", client.BaseURL())

	client.SetBaseURL("https://new.com")
	assert.Equal(t, "https://new.com", client.BaseURL())
}
