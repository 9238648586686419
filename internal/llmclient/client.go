// Package llmclient provides the HTTP client shared by provider adapters:
// request marshaling, bounded retries with capped exponential backoff,
// upstream error parsing and a per-provider circuit breaker.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"genrouter/internal/core"
	"genrouter/internal/httpclient"
)

// Config holds configuration for the LLM client
type Config struct {
	// ProviderName identifies the provider for error messages
	ProviderName string

	// BaseURL is the API base URL
	BaseURL string

	// Retry configuration. Retries only cover network failures and 502/503/504;
	// rate limits are left to the dispatcher's fallback.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Circuit breaker configuration
	CircuitBreaker *CircuitBreakerConfig
}

// CircuitBreakerConfig holds circuit breaker settings
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of failures before opening the circuit
	FailureThreshold int
	// SuccessThreshold is the number of successes needed to close an open circuit
	SuccessThreshold int
	// Timeout is how long to wait before attempting to close an open circuit
	Timeout time.Duration
}

// DefaultConfig returns default client configuration
func DefaultConfig(providerName, baseURL string) Config {
	return Config{
		ProviderName:   providerName,
		BaseURL:        baseURL,
		MaxRetries:     1,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		CircuitBreaker: &CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          30 * time.Second,
		},
	}
}

// HeaderSetter is a function that sets headers on an HTTP request
type HeaderSetter func(req *http.Request)

// Client is a base HTTP client for LLM providers
type Client struct {
	httpClient     *http.Client
	config         Config
	headerSetter   HeaderSetter
	circuitBreaker *circuitBreaker
}

// New creates a new LLM client with the given configuration
func New(config Config, headerSetter HeaderSetter) *Client {
	return NewWithHTTPClient(httpclient.Default(), config, headerSetter)
}

// NewWithHTTPClient creates a new LLM client with a custom HTTP client
func NewWithHTTPClient(httpClient *http.Client, config Config, headerSetter HeaderSetter) *Client {
	c := &Client{
		httpClient:   httpClient,
		config:       config,
		headerSetter: headerSetter,
	}

	if config.CircuitBreaker != nil {
		c.circuitBreaker = newCircuitBreaker(config.ProviderName, *config.CircuitBreaker)
	}

	return c
}

// SetBaseURL updates the base URL
func (c *Client) SetBaseURL(url string) {
	c.config.BaseURL = url
}

// BaseURL returns the current base URL
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// ProviderName returns the provider name used in errors.
func (c *Client) ProviderName() string {
	return c.config.ProviderName
}

// CircuitState reports the breaker state: "closed", "open", "half-open" or
// "disabled" when no breaker is configured.
func (c *Client) CircuitState() string {
	if c.circuitBreaker == nil {
		return "disabled"
	}
	return c.circuitBreaker.State()
}

// Request represents an HTTP request to be made
type Request struct {
	Method   string
	Endpoint string
	Body     any // Will be JSON marshaled if not nil
	Headers  map[string]string
}

// Response represents an HTTP response
type Response struct {
	StatusCode int
	Body       []byte
}

// DoRaw executes a request with retries and circuit breaking and returns the
// raw 200 response. Non-200 responses come back as *core.GatewayError.
// A deadline on ctx surfaces as a provider timeout; cancellation is returned as is.
func (c *Client) DoRaw(ctx context.Context, req Request) (*Response, error) {
	if c.circuitBreaker != nil {
		allowed, trial := c.circuitBreaker.Allow()
		if !allowed {
			return nil, &core.GatewayError{
				Type:       core.ErrorTypeProvider,
				Message:    "circuit breaker is open - provider temporarily unavailable",
				StatusCode: http.StatusServiceUnavailable,
				Provider:   c.config.ProviderName,
				Err:        core.ErrCircuitOpen,
			}
		}
		if trial {
			defer c.circuitBreaker.endTrial()
		}
	}

	var resp *Response
	err := retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		r, err := c.doRequest(ctx, req)
		if err != nil {
			var gwErr *core.GatewayError
			if errors.As(err, &gwErr) {
				return err
			}
			if ctx.Err() != nil {
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					c.recordFailure()
				}
				return ctx.Err()
			}
			c.recordFailure()
			if isTimeout(err) {
				return core.NewTimeoutError(c.config.ProviderName, err)
			}
			return retry.RetryableError(core.NewProviderError(c.config.ProviderName, http.StatusBadGateway,
				"failed to send request: "+err.Error(), err))
		}

		switch {
		case r.StatusCode == http.StatusOK:
			c.recordSuccess()
			resp = r
			return nil
		case isRetryable(r.StatusCode):
			c.recordFailure()
			return retry.RetryableError(core.ParseProviderError(c.config.ProviderName, r.StatusCode, r.Body, nil))
		default:
			if r.StatusCode >= 500 {
				c.recordFailure()
			}
			return core.ParseProviderError(c.config.ProviderName, r.StatusCode, r.Body, nil)
		}
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			var gwErr *core.GatewayError
			if !errors.As(err, &gwErr) {
				return nil, core.NewTimeoutError(c.config.ProviderName, err)
			}
		}
		return nil, err
	}
	return resp, nil
}

func (c *Client) backoff() retry.Backoff {
	initial := c.config.InitialBackoff
	if initial <= 0 {
		initial = 250 * time.Millisecond
	}
	b := retry.NewExponential(initial)
	if c.config.MaxBackoff > 0 {
		b = retry.WithCappedDuration(c.config.MaxBackoff, b)
	}
	b = retry.WithJitterPercent(10, b)
	return retry.WithMaxRetries(uint64(max(c.config.MaxRetries, 0)), b)
}

func (c *Client) recordFailure() {
	if c.circuitBreaker != nil {
		c.circuitBreaker.RecordFailure()
	}
}

func (c *Client) recordSuccess() {
	if c.circuitBreaker != nil {
		c.circuitBreaker.RecordSuccess()
	}
}

// doRequest executes a single HTTP request without retries
func (c *Client) doRequest(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
	}, nil
}

// buildRequest creates an HTTP request from a Request
func (c *Client) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	url := c.config.BaseURL + req.Endpoint

	var bodyReader io.Reader
	if req.Body != nil {
		bodyBytes, err := json.Marshal(req.Body)
		if err != nil {
			// Another provider may accept the same request, so this is not fatal to dispatch.
			return nil, core.NewProviderError(c.config.ProviderName, http.StatusBadGateway, "failed to encode provider request", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, bodyReader)
	if err != nil {
		return nil, core.NewProviderError(c.config.ProviderName, http.StatusBadGateway, "failed to create provider request", err)
	}

	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	if c.headerSetter != nil {
		c.headerSetter(httpReq)
	}

	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	return httpReq, nil
}

// isRetryable reports whether a status is worth repeating against the same provider.
func isRetryable(statusCode int) bool {
	return statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusBadGateway ||
		statusCode == http.StatusGatewayTimeout
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
