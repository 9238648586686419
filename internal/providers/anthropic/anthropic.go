// Package anthropic provides Anthropic API integration for the router.
package anthropic

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

// Registration provides factory registration for the Anthropic provider.
var Registration = providers.Registration{
	Type: "anthropic",
	New:  New,
	Profile: providers.Profile{
		BaseURL: defaultBaseURL,
		Models:  []string{"claude-3-5-sonnet-latest", "claude-3-5-haiku-latest"},
		Priority: map[core.TaskType]int{
			core.TaskAnalysis:    1,
			core.TaskCreative:    2,
			core.TaskCoding:      2,
			core.TaskOperational: 3,
		},
		Pricing: map[string]core.Pricing{
			"claude-3-5-sonnet-latest": {InputPerToken: usage.PerMillion(3), OutputPerToken: usage.PerMillion(15)},
			"claude-3-5-haiku-latest":  {InputPerToken: usage.PerMillion(0.80), OutputPerToken: usage.PerMillion(4)},
		},
		Timeout: 20 * time.Second,
	},
}

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"
	// maxTemperature is the top of Anthropic's accepted range.
	maxTemperature = 1.0
)

// Provider implements core.Provider for Anthropic's Messages API.
type Provider struct {
	client *llmclient.Client
	apiKey string
}

// New creates a new Anthropic provider.
func New(apiKey string, opts providers.ProviderOptions) core.Provider {
	if opts.Name == "" {
		opts.Name = "anthropic"
	}
	p := &Provider{apiKey: apiKey}
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

// setHeaders sets the required headers for Anthropic API requests
func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	providers.ForwardRequestID(req, "X-Request-Id")
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

func buildMessagesRequest(req *core.ProviderRequest) *messagesRequest {
	return &messagesRequest{
		Model:       req.Model,
		System:      req.SystemPrompt,
		Messages:    []message{{Role: "user", Content: req.Prompt}},
		MaxTokens:   req.MaxTokens,
		Temperature: min(req.Temperature, maxTemperature),
	}
}

// Generate sends one Messages API request.
func (p *Provider) Generate(ctx context.Context, req *core.ProviderRequest) (*core.ProviderResult, error) {
	resp, err := p.client.DoRaw(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/messages",
		Body:     buildMessagesRequest(req),
	})
	if err != nil {
		return nil, err
	}
	return parseMessagesResponse(p.client.ProviderName(), resp.Body)
}

// parseMessagesResponse joins every text block of the response.
func parseMessagesResponse(provider string, body []byte) (*core.ProviderResult, error) {
	if !gjson.ValidBytes(body) {
		return nil, core.NewProviderError(provider, http.StatusBadGateway, "invalid JSON in messages response", nil)
	}
	parsed := gjson.ParseBytes(body)

	blocks := parsed.Get(`content.#(type=="text")#.text`).Array()
	if len(blocks) == 0 {
		return nil, core.NewProviderError(provider, http.StatusBadGateway, "messages response has no text content", nil)
	}
	var sb strings.Builder
	for _, b := range blocks {
		sb.WriteString(b.String())
	}

	return &core.ProviderResult{
		Content:      sb.String(),
		ModelUsed:    parsed.Get("model").String(),
		TokensInput:  int(parsed.Get("usage.input_tokens").Int()),
		TokensOutput: int(parsed.Get("usage.output_tokens").Int()),
	}, nil
}
