package providers

import (
	"net/http"

	"genrouter/internal/core"
	"genrouter/internal/llmclient"
)

// NewClient builds the llmclient for a provider. Zero resilience settings keep
// the llmclient defaults; a zero failure threshold disables the circuit breaker
// only when the whole circuit breaker block is left empty.
func NewClient(opts ProviderOptions, defaultBaseURL string, headers llmclient.HeaderSetter) *llmclient.Client {
	cfg := llmclient.DefaultConfig(opts.Name, firstNonEmpty(opts.BaseURL, defaultBaseURL))

	r := opts.Resilience
	if r.MaxRetries > 0 {
		cfg.MaxRetries = r.MaxRetries
	}
	if r.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if r.InitialBackoff > 0 {
		cfg.InitialBackoff = r.InitialBackoff
	}
	if r.MaxBackoff > 0 {
		cfg.MaxBackoff = r.MaxBackoff
	}
	if cb := r.CircuitBreaker; cb.FailureThreshold > 0 {
		cfg.CircuitBreaker = &llmclient.CircuitBreakerConfig{
			FailureThreshold: cb.FailureThreshold,
			SuccessThreshold: max(cb.SuccessThreshold, 1),
			Timeout:          cb.Timeout,
		}
		if cfg.CircuitBreaker.Timeout <= 0 {
			cfg.CircuitBreaker.Timeout = llmclient.DefaultConfig("", "").CircuitBreaker.Timeout
		}
	}

	if opts.HTTPClient != nil {
		return llmclient.NewWithHTTPClient(opts.HTTPClient, cfg, headers)
	}
	return llmclient.New(cfg, headers)
}

// ForwardRequestID copies the request id from ctx onto an outbound request.
func ForwardRequestID(req *http.Request, header string) {
	if requestID := core.GetRequestID(req.Context()); requestID != "" && isASCII(requestID) && len(requestID) <= 512 {
		req.Header.Set(header, requestID)
	}
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return false
		}
	}
	return true
}
