// Package groq provides Groq API integration for the router.
// Groq speaks the OpenAI chat completions dialect.
package groq

import (
	"time"

	"genrouter/internal/core"
	"genrouter/internal/providers"
	"genrouter/internal/providers/openai"
	"genrouter/internal/usage"
)

// Registration provides factory registration for the Groq provider.
var Registration = providers.Registration{
	Type: "groq",
	New:  New,
	Profile: providers.Profile{
		BaseURL:   defaultBaseURL,
		Models:    []string{"llama-3.1-8b-instant", "llama-3.3-70b-versatile"},
		TaskTypes: []core.TaskType{core.TaskOperational, core.TaskCoding},
		Priority: map[core.TaskType]int{
			core.TaskOperational: 2,
			core.TaskCoding:      3,
		},
		Pricing: map[string]core.Pricing{
			"llama-3.1-8b-instant":    {InputPerToken: usage.PerMillion(0.05), OutputPerToken: usage.PerMillion(0.08)},
			"llama-3.3-70b-versatile": {InputPerToken: usage.PerMillion(0.59), OutputPerToken: usage.PerMillion(0.79)},
		},
		Timeout: 10 * time.Second,
	},
}

const (
	defaultBaseURL = "https://api.groq.com/openai/v1"
)

// New creates a new Groq provider.
func New(apiKey string, opts providers.ProviderOptions) core.Provider {
	if opts.Name == "" {
		opts.Name = "groq"
	}
	return openai.NewCompatible(apiKey, opts, defaultBaseURL, "X-Request-ID")
}
