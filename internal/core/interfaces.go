// Package core defines the core interfaces and types for the generation router.
package core

import (
	"context"
	"time"
)

// Provider is a single generation backend speaking one vendor's API.
type Provider interface {
	// Generate executes one non-streaming generation call.
	Generate(ctx context.Context, req *ProviderRequest) (*ProviderResult, error)
}

// Adapter is a registry entry: a Provider plus the metadata the router uses to
// select and price it. Implementations hold no per-request mutable state.
type Adapter interface {
	Name() string
	// Models lists the model ids this adapter owns. The first is the default.
	Models() []string
	Supports(task TaskType) bool
	// Priority orders candidates for a task; lower is preferred.
	Priority(task TaskType) int
	// Pricing returns the price table for the model that served a call.
	Pricing(model string) Pricing
	Timeout() time.Duration
	Call(ctx context.Context, req *ProviderRequest) (*ProviderResult, error)
}

// AvailabilityChecker is an optional interface for providers that need
// to verify service availability before registration.
type AvailabilityChecker interface {
	CheckAvailability(ctx context.Context) error
}

// CircuitReporter is implemented by providers and adapters that guard their
// backend with a circuit breaker.
type CircuitReporter interface {
	// CircuitState is "closed", "open", "half-open" or "disabled".
	CircuitState() string
}
