package providers

import (
	"context"
	"net/http"
	"time"

	"genrouter/config"
	"genrouter/internal/core"
)

// configuredAdapter wraps a core.Provider with the registry metadata resolved
// from configuration. It holds no per-request state.
type configuredAdapter struct {
	inner core.Provider
	spec  adapterSpec
}

func newConfiguredAdapter(p core.Provider, spec adapterSpec) core.Adapter {
	return &configuredAdapter{inner: p, spec: spec}
}

// NewAdapter builds an adapter around p directly, bypassing the factory.
func NewAdapter(name string, p core.Provider, profile Profile) (core.Adapter, error) {
	return NewAdapterWithConfig(name, p, profile, config.ProviderConfig{})
}

// NewAdapterWithConfig is NewAdapter with config overrides applied over profile.
func NewAdapterWithConfig(name string, p core.Provider, profile Profile, cfg config.ProviderConfig) (core.Adapter, error) {
	spec, err := resolveAdapterSpec(name, cfg, profile)
	if err != nil {
		return nil, err
	}
	return newConfiguredAdapter(p, spec), nil
}

func (a *configuredAdapter) Name() string { return a.spec.name }

func (a *configuredAdapter) Models() []string {
	return append([]string(nil), a.spec.models...)
}

func (a *configuredAdapter) Supports(task core.TaskType) bool {
	return a.spec.taskTypes[task]
}

func (a *configuredAdapter) Priority(task core.TaskType) int {
	if p, ok := a.spec.priority[task]; ok {
		return p
	}
	return a.spec.defaultPriority
}

// Pricing returns the price of model, falling back to the provider-wide price.
func (a *configuredAdapter) Pricing(model string) core.Pricing {
	if p, ok := a.spec.pricing[model]; ok {
		return p
	}
	return a.spec.pricing[""]
}

func (a *configuredAdapter) Timeout() time.Duration { return a.spec.timeout }

// CheckAvailability delegates to the wrapped provider when it can probe its backend.
func (a *configuredAdapter) CheckAvailability(ctx context.Context) error {
	if checker, ok := a.inner.(core.AvailabilityChecker); ok {
		return checker.CheckAvailability(ctx)
	}
	return nil
}

// CircuitState reports the wrapped provider's breaker, or "" when it has none.
func (a *configuredAdapter) CircuitState() string {
	if reporter, ok := a.inner.(core.CircuitReporter); ok {
		return reporter.CircuitState()
	}
	return ""
}

// Call runs one generation. A call refused by the local limiter, either the
// provider-wide budget or the caller's share of it, fails fast with a rate
// limit error and never reaches the provider.
func (a *configuredAdapter) Call(ctx context.Context, req *core.ProviderRequest) (*core.ProviderResult, error) {
	release, ok := a.spec.limiter.TryAcquire(req.CallerID)
	if !ok {
		return nil, &core.GatewayError{
			Type:       core.ErrorTypeRateLimit,
			Message:    "local rate limit reached",
			StatusCode: http.StatusTooManyRequests,
			Provider:   a.spec.name,
			Err:        core.ErrLocalRateLimit,
		}
	}
	defer release()

	if req.Model == "" {
		r := *req
		r.Model = a.spec.models[0]
		req = &r
	}

	start := time.Now()
	result, err := a.inner.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if result.ModelUsed == "" {
		result.ModelUsed = req.Model
	}
	if result.DurationMs == 0 {
		result.DurationMs = time.Since(start).Milliseconds()
	}
	return result, nil
}
