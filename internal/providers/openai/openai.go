// Package openai provides OpenAI API integration for the router.
package openai

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"genrouter/internal/core"
	"genrouter/internal/llmclient"
	"genrouter/internal/providers"
	"genrouter/internal/usage"
)

// Registration provides factory registration for the OpenAI provider.
var Registration = providers.Registration{
	Type: "openai",
	New:  New,
	Profile: providers.Profile{
		BaseURL: defaultBaseURL,
		Models:  []string{"gpt-4o-mini", "gpt-4o"},
		Priority: map[core.TaskType]int{
			core.TaskCreative:    1,
			core.TaskCoding:      1,
			core.TaskOperational: 2,
			core.TaskAnalysis:    2,
		},
		Pricing: map[string]core.Pricing{
			"gpt-4o-mini": {InputPerToken: usage.PerMillion(0.15), OutputPerToken: usage.PerMillion(0.60)},
			"gpt-4o":      {InputPerToken: usage.PerMillion(2.50), OutputPerToken: usage.PerMillion(10)},
		},
		Timeout: 20 * time.Second,
	},
}

const (
	defaultBaseURL = "https://api.openai.com/v1"
)

// Provider implements core.Provider for OpenAI and any API speaking its chat
// completions dialect.
type Provider struct {
	client *llmclient.Client
	apiKey string
	// requestIDHeader carries the inbound request id upstream. Empty disables forwarding.
	requestIDHeader string
}

// New creates a new OpenAI provider.
func New(apiKey string, opts providers.ProviderOptions) core.Provider {
	if opts.Name == "" {
		opts.Name = "openai"
	}
	return NewCompatible(apiKey, opts, defaultBaseURL, "X-Client-Request-Id")
}

// NewCompatible creates a provider for an OpenAI-compatible API rooted at
// defaultBaseURL unless opts overrides it.
func NewCompatible(apiKey string, opts providers.ProviderOptions, defaultBaseURL, requestIDHeader string) *Provider {
	p := &Provider{apiKey: apiKey, requestIDHeader: requestIDHeader}
	p.client = providers.NewClient(opts, defaultBaseURL, p.setHeaders)
	return p
}

// SetBaseURL allows configuring a custom base URL for the provider
func (p *Provider) SetBaseURL(url string) {
	p.client.SetBaseURL(url)
}

// CircuitState reports the client's circuit breaker state.
func (p *Provider) CircuitState() string {
	return p.client.CircuitState()
}

// Client exposes the underlying HTTP client for OpenAI-compatible wrappers.
func (p *Provider) Client() *llmclient.Client {
	return p.client
}

func (p *Provider) setHeaders(req *http.Request) {
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	if p.requestIDHeader != "" {
		providers.ForwardRequestID(req, p.requestIDHeader)
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model               string    `json:"model"`
	Messages            []message `json:"messages"`
	MaxTokens           int       `json:"max_tokens,omitempty"`
	MaxCompletionTokens int       `json:"max_completion_tokens,omitempty"`
	Temperature         *float64  `json:"temperature,omitempty"`
}

// isOSeriesModel reports whether the model is an o-series reasoning model
// (o1, o3, o4), which takes max_completion_tokens and rejects temperature.
func isOSeriesModel(model string) bool {
	m := strings.ToLower(model)
	return len(m) >= 2 && m[0] == 'o' && m[1] >= '0' && m[1] <= '9'
}

func buildChatRequest(req *core.ProviderRequest) *chatRequest {
	messages := make([]message, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, message{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, message{Role: "user", Content: req.Prompt})

	body := &chatRequest{Model: req.Model, Messages: messages}
	if isOSeriesModel(req.Model) {
		body.MaxCompletionTokens = req.MaxTokens
		return body
	}
	temperature := req.Temperature
	body.MaxTokens = req.MaxTokens
	body.Temperature = &temperature
	return body
}

// Generate sends one chat completion request.
func (p *Provider) Generate(ctx context.Context, req *core.ProviderRequest) (*core.ProviderResult, error) {
	resp, err := p.client.DoRaw(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/chat/completions",
		Body:     buildChatRequest(req),
	})
	if err != nil {
		return nil, err
	}
	return ParseChatResponse(p.client.ProviderName(), resp.Body)
}

// ParseChatResponse extracts the first choice and token usage from a chat
// completions response body.
func ParseChatResponse(provider string, body []byte) (*core.ProviderResult, error) {
	if !gjson.ValidBytes(body) {
		return nil, core.NewProviderError(provider, http.StatusBadGateway, "invalid JSON in chat completion response", nil)
	}
	parsed := gjson.ParseBytes(body)
	content := parsed.Get("choices.0.message.content")
	if !content.Exists() {
		return nil, core.NewProviderError(provider, http.StatusBadGateway, "chat completion response has no choices", nil)
	}
	return &core.ProviderResult{
		Content:      content.String(),
		ModelUsed:    parsed.Get("model").String(),
		TokensInput:  int(parsed.Get("usage.prompt_tokens").Int()),
		TokensOutput: int(parsed.Get("usage.completion_tokens").Int()),
	}, nil
}
