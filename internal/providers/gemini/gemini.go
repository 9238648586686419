// Package gemini provides Google Gemini API integration for the router.
package gemini

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"genrouter/internal/core"
	"genrouter/internal/llmclient"
	"genrouter/internal/providers"
	"genrouter/internal/usage"
)

// Registration provides factory registration for the Gemini provider.
var Registration = providers.Registration{
	Type: "gemini",
	New:  New,
	Profile: providers.Profile{
		BaseURL: defaultBaseURL,
		Models:  []string{"gemini-1.5-flash", "gemini-1.5-pro"},
		Priority: map[core.TaskType]int{
			core.TaskOperational: 1,
			core.TaskAnalysis:    3,
			core.TaskCreative:    3,
			core.TaskCoding:      3,
		},
		Pricing: map[string]core.Pricing{
			"gemini-1.5-flash": {InputPerToken: usage.PerMillion(0.075), OutputPerToken: usage.PerMillion(0.30)},
			"gemini-1.5-pro":   {InputPerToken: usage.PerMillion(1.25), OutputPerToken: usage.PerMillion(5)},
		},
		Timeout: 15 * time.Second,
	},
}

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
)

// Provider implements core.Provider for the Gemini generateContent API.
type Provider struct {
	client *llmclient.Client
	apiKey string
}

// New creates a new Gemini provider.
func New(apiKey string, opts providers.ProviderOptions) core.Provider {
	if opts.Name == "" {
		opts.Name = "gemini"
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

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("x-goog-api-key", p.apiKey)
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature"`
}

type generateRequest struct {
	Contents          []content        `json:"contents"`
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

func buildGenerateRequest(req *core.ProviderRequest) *generateRequest {
	body := &generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: req.Prompt}}}},
		GenerationConfig: generationConfig{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
		},
	}
	if req.SystemPrompt != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: req.SystemPrompt}}}
	}
	return body
}

// Generate sends one generateContent request.
func (p *Provider) Generate(ctx context.Context, req *core.ProviderRequest) (*core.ProviderResult, error) {
	resp, err := p.client.DoRaw(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/models/" + url.PathEscape(req.Model) + ":generateContent",
		Body:     buildGenerateRequest(req),
	})
	if err != nil {
		return nil, err
	}
	result, err := parseGenerateResponse(p.client.ProviderName(), resp.Body)
	if err != nil {
		return nil, err
	}
	if result.ModelUsed == "" {
		result.ModelUsed = req.Model
	}
	return result, nil
}

func parseGenerateResponse(provider string, body []byte) (*core.ProviderResult, error) {
	if !gjson.ValidBytes(body) {
		return nil, core.NewProviderError(provider, http.StatusBadGateway, "invalid JSON in generateContent response", nil)
	}
	parsed := gjson.ParseBytes(body)

	if reason := parsed.Get("promptFeedback.blockReason"); reason.Exists() {
		return nil, core.NewRejectedRequestError(provider, http.StatusBadRequest, "prompt blocked: "+reason.String())
	}

	parts := parsed.Get("candidates.0.content.parts.#.text").Array()
	if len(parts) == 0 {
		return nil, core.NewProviderError(provider, http.StatusBadGateway, "generateContent response has no candidates", nil)
	}
	var sb strings.Builder
	for _, t := range parts {
		sb.WriteString(t.String())
	}

	return &core.ProviderResult{
		Content:      sb.String(),
		ModelUsed:    parsed.Get("modelVersion").String(),
		TokensInput:  int(parsed.Get("usageMetadata.promptTokenCount").Int()),
		TokensOutput: int(parsed.Get("usageMetadata.candidatesTokenCount").Int()),
	}, nil
}
