package providers

import (
	"context"
	"errors"
	"log/slog"

	"genrouter/config"
	"genrouter/internal/core"
	"genrouter/internal/httpclient"
)

// ErrNoProviders is returned by Init when no configured provider could be built.
var ErrNoProviders = errors.New("no providers were successfully initialized")

// Init builds the registry from configuration.
//
// Providers are created in sorted name order, which is also the registry's
// tie-break order. A provider that fails to build or fails its availability
// probe is logged and skipped.
func Init(ctx context.Context, cfg *config.Config, factory *ProviderFactory) (*Registry, error) {
	if factory == nil {
		return nil, errors.New("provider factory is required")
	}

	factory.SetHTTPClient(httpclient.New(cfg.HTTP))

	adapters := make([]core.Adapter, 0, len(cfg.Providers))
	for _, name := range cfg.ProviderNames() {
		pCfg := cfg.Providers[name]
		adapter, err := factory.Create(name, pCfg)
		if err != nil {
			slog.Error("failed to initialize provider",
				"name", name,
				"type", pCfg.Type,
				"error", err)
			continue
		}
		if checker, ok := adapter.(core.AvailabilityChecker); ok {
			if err := checker.CheckAvailability(ctx); err != nil {
				slog.Warn("provider unavailable, skipping",
					"name", name,
					"type", pCfg.Type,
					"error", err)
				continue
			}
		}
		adapters = append(adapters, adapter)
		slog.Info("provider initialized",
			"name", name,
			"type", pCfg.Type,
			"models", adapter.Models(),
			"timeout", adapter.Timeout(),
		)
	}

	if len(adapters) == 0 {
		return nil, ErrNoProviders
	}
	return NewRegistry(adapters...)
}
