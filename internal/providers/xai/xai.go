// Package xai provides xAI (Grok) API integration for the router.
package xai

import (
	"genrouter/internal/core"
	"genrouter/internal/providers"
	"genrouter/internal/providers/openai"
	"genrouter/internal/usage"
)

// Registration provides factory registration for the xAI provider.
var Registration = providers.Registration{
	Type: "xai",
	New:  New,
	Profile: providers.Profile{
		BaseURL:   defaultBaseURL,
		Models:    []string{"grok-2-latest"},
		TaskTypes: []core.TaskType{core.TaskCreative, core.TaskAnalysis},
		Priority: map[core.TaskType]int{
			core.TaskCreative: 3,
			core.TaskAnalysis: 3,
		},
		Pricing: map[string]core.Pricing{
			"": {InputPerToken: usage.PerMillion(2), OutputPerToken: usage.PerMillion(10)},
		},
	},
}

const (
	defaultBaseURL = "https://api.x.ai/v1"
)

// New creates a new xAI provider.
func New(apiKey string, opts providers.ProviderOptions) core.Provider {
	if opts.Name == "" {
		opts.Name = "xai"
	}
	return openai.NewCompatible(apiKey, opts, defaultBaseURL, "X-Request-ID")
}
