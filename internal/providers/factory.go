// Package providers holds the provider registry the router dispatches over,
// and the factory that builds registry entries from configuration.
package providers

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"genrouter/config"
	"genrouter/internal/core"
)

// Profile describes what a provider type assumes when its configuration
// leaves a field empty.
type Profile struct {
	BaseURL   string
	Models    []string
	TaskTypes []core.TaskType
	Priority  map[core.TaskType]int
	// Pricing is keyed by model id. The entry under "" applies to models
	// without their own price.
	Pricing map[string]core.Pricing
	Timeout time.Duration
}

// ProviderOptions is passed to a Registration's constructor.
type ProviderOptions struct {
	// Name is the registry name, used in errors and logs.
	Name       string
	BaseURL    string
	HTTPClient *http.Client
	Resilience config.ResilienceConfig
}

// Registration binds a provider type to its constructor and defaults.
type Registration struct {
	Type    string
	New     func(apiKey string, opts ProviderOptions) core.Provider
	Profile Profile
}

// ProviderFactory builds adapters for the provider types registered on it.
type ProviderFactory struct {
	mu            sync.RWMutex
	registrations map[string]Registration
	httpClient    *http.Client
}

// NewProviderFactory creates an empty factory.
func NewProviderFactory() *ProviderFactory {
	return &ProviderFactory{registrations: make(map[string]Registration)}
}

// Add registers a provider type. A later registration for the same type replaces the earlier one.
func (f *ProviderFactory) Add(reg Registration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registrations[reg.Type] = reg
}

// SetHTTPClient sets the HTTP client shared by every provider the factory creates.
func (f *ProviderFactory) SetHTTPClient(c *http.Client) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.httpClient = c
}

// ListRegistered returns the registered provider types in sorted order.
func (f *ProviderFactory) ListRegistered() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	types := make([]string, 0, len(f.registrations))
	for t := range f.registrations {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Create builds the adapter for the named provider entry.
func (f *ProviderFactory) Create(name string, cfg config.ProviderConfig) (core.Adapter, error) {
	f.mu.RLock()
	reg, ok := f.registrations[cfg.Type]
	httpClient := f.httpClient
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider type: %s (registered: %s)",
			cfg.Type, strings.Join(f.ListRegistered(), ", "))
	}
	if reg.New == nil {
		return nil, fmt.Errorf("provider type %s has no constructor", cfg.Type)
	}

	spec, err := resolveAdapterSpec(name, cfg, reg.Profile)
	if err != nil {
		return nil, err
	}

	provider := reg.New(cfg.APIKey, ProviderOptions{
		Name:       name,
		BaseURL:    spec.baseURL,
		HTTPClient: httpClient,
		Resilience: cfg.Resilience,
	})
	return newConfiguredAdapter(provider, spec), nil
}
