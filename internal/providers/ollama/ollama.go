// Package ollama provides integration with a local Ollama server through its
// OpenAI-compatible endpoint.
package ollama

import (
	"context"
	"net/http"
	"time"

	"genrouter/internal/core"
	"genrouter/internal/llmclient"
	"genrouter/internal/providers"
	"genrouter/internal/providers/openai"
)

// Registration provides factory registration for the Ollama provider.
// Local models cost nothing, so the profile carries no pricing.
var Registration = providers.Registration{
	Type: "ollama",
	New:  New,
	Profile: providers.Profile{
		BaseURL:   defaultBaseURL,
		Models:    []string{"llama3.2"},
		TaskTypes: []core.TaskType{core.TaskOperational, core.TaskCoding},
		Priority: map[core.TaskType]int{
			core.TaskOperational: 5,
			core.TaskCoding:      5,
		},
		Timeout: 30 * time.Second,
	},
}

const (
	defaultBaseURL = "http://localhost:11434/v1"
	// availabilityTimeout bounds the startup probe.
	availabilityTimeout = 5 * time.Second
)

// Provider wraps the OpenAI-compatible client with an availability probe.
type Provider struct {
	*openai.Provider
}

// New creates a new Ollama provider. The API key is optional.
func New(apiKey string, opts providers.ProviderOptions) core.Provider {
	if opts.Name == "" {
		opts.Name = "ollama"
	}
	return &Provider{Provider: openai.NewCompatible(apiKey, opts, defaultBaseURL, "X-Request-ID")}
}

// CheckAvailability verifies that Ollama is running and accessible.
// Makes a lightweight request to the models endpoint.
func (p *Provider) CheckAvailability(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, availabilityTimeout)
	defer cancel()

	_, err := p.Client().DoRaw(ctx, llmclient.Request{
		Method:   http.MethodGet,
		Endpoint: "/models",
	})
	return err
}

