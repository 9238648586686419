// Package app provides the main application struct for centralized dependency management
// and lifecycle control of the genrouter server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"genrouter/config"
	"genrouter/internal/cache"
	"genrouter/internal/metrics"
	"genrouter/internal/providers"
	"genrouter/internal/router"
	"genrouter/internal/server"
	"genrouter/internal/telemetry"
	"genrouter/internal/usage"
	"genrouter/internal/version"
)

// App represents the main application with all its dependencies.
// It provides centralized lifecycle management for all components.
type App struct {
	config    *config.Config
	telemetry *telemetry.Provider
	registry  *providers.Registry
	cache     cache.ResponseCache
	usage     *usage.Result
	tracker   *usage.Tracker
	router    *router.Router
	server    *server.Server

	shutdownMu sync.Mutex
	shutdown   bool
}

// Config holds the configuration options for creating an App.
type Config struct {
	// AppConfig holds the loaded application configuration produced by config.Load.
	AppConfig *config.LoadResult

	// Factory provides the ProviderFactory used to construct provider instances.
	Factory *providers.ProviderFactory

	// MetricsRegistry receives the router's collectors and backs the metrics
	// endpoint. Nil uses the Prometheus default registry.
	MetricsRegistry *prometheus.Registry
}

// New creates a new App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("app config is required")
	}

	if cfg.AppConfig.Config == nil {
		return nil, fmt.Errorf("app config contains nil Config")
	}

	if cfg.Factory == nil {
		return nil, fmt.Errorf("factory is required")
	}

	appCfg := cfg.AppConfig.Config
	app := &App{config: appCfg}

	tp, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:     "genrouter",
		ServiceVersion:  version.Version,
		Environment:     appCfg.Tracing.Environment,
		OTLPEndpoint:    appCfg.Tracing.Endpoint,
		TracingEnabled:  appCfg.Tracing.Enabled,
		TracingSampling: appCfg.Tracing.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	app.telemetry = tp

	registry, err := providers.Init(ctx, appCfg, cfg.Factory)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to initialize providers: %w", err), app.closeAll(ctx))
	}
	app.registry = registry

	responseCache, err := cache.New(cache.Config{
		Type:       appCfg.Cache.Type,
		TTL:        appCfg.Cache.TTL,
		MaxEntries: appCfg.Cache.MaxEntries,
		RedisURL:   appCfg.Cache.Redis.URL,
		RedisKey:   appCfg.Cache.Redis.Key,
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to initialize response cache: %w", err), app.closeAll(ctx))
	}
	app.cache = responseCache

	usageResult, err := usage.New(ctx, appCfg)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to initialize usage tracking: %w", err), app.closeAll(ctx))
	}
	app.usage = usageResult
	app.tracker = usage.NewTracker(appCfg.Usage.MonthlyBudgetUSD)

	var bodySizeLimit int64
	if strings.TrimSpace(appCfg.Server.BodySizeLimit) != "" {
		bodySizeLimit, err = config.ParseBodySizeLimit(appCfg.Server.BodySizeLimit)
		if err != nil {
			return nil, errors.Join(err, app.closeAll(ctx))
		}
	}

	serverCfg := &server.Config{
		MasterKey:       appCfg.Server.MasterKey,
		MetricsEnabled:  appCfg.Metrics.Enabled,
		MetricsEndpoint: appCfg.Metrics.Endpoint,
		BodySizeLimit:   bodySizeLimit,
	}

	var m *metrics.Metrics
	if appCfg.Metrics.Enabled {
		if cfg.MetricsRegistry != nil {
			m = metrics.New(cfg.MetricsRegistry)
			serverCfg.MetricsHandler = promhttp.HandlerFor(cfg.MetricsRegistry, promhttp.HandlerOpts{})
		} else {
			m = metrics.New(prometheus.DefaultRegisterer)
		}
	}

	app.router = router.New(registry, router.Config{
		Deadline:            appCfg.Router.Deadline,
		CandidateBackoff:    appCfg.Router.CandidateBackoff,
		MaxCandidateBackoff: appCfg.Router.MaxCandidateBackoff,
		CacheTTL:            appCfg.Cache.TTL,
	}, router.Options{
		Cache:   app.cache,
		Usage:   usageResult.Logger,
		Tracker: app.tracker,
		Metrics: m,
	})

	app.logStartupInfo()

	app.server = server.New(app.router, registry, app.tracker, serverCfg)
	return app, nil
}

// Router returns the dispatcher for in-process routing.
func (a *App) Router() *router.Router {
	return a.router
}

// Registry returns the provider registry.
func (a *App) Registry() *providers.Registry {
	return a.registry
}

// Tracker returns the in-memory spend tracker.
func (a *App) Tracker() *usage.Tracker {
	return a.tracker
}

// Handler returns the HTTP handler, for tests and embedding.
func (a *App) Handler() http.Handler {
	return a.server
}

// Start starts the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	slog.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully tears down app components in dependency order:
// the HTTP server first, then the usage logger (flushing pending entries),
// the response cache and finally the trace exporter.
//
// Shutdown is idempotent. It attempts every step and returns the joined errors.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	slog.Info("shutting down application...")

	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}
	if err := a.closeAll(ctx); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	slog.Info("application shutdown complete")
	return nil
}

// closeAll releases everything but the HTTP server. It is also used to unwind
// a partially built App.
func (a *App) closeAll(ctx context.Context) error {
	var errs []error
	if a.usage != nil {
		if err := a.usage.Close(); err != nil {
			slog.Error("usage logger close error", "error", err)
			errs = append(errs, fmt.Errorf("usage close: %w", err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			slog.Error("cache close error", "error", err)
			errs = append(errs, fmt.Errorf("cache close: %w", err))
		}
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		slog.Error("telemetry shutdown error", "error", err)
		errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
	}
	return errors.Join(errs...)
}

// logStartupInfo logs the application configuration on startup.
func (a *App) logStartupInfo() {
	cfg := a.config

	// Security warnings
	if cfg.Server.MasterKey == "" {
		slog.Warn("SECURITY WARNING: GENROUTER_MASTER_KEY not set - server running in UNSAFE MODE",
			"security_risk", "unauthenticated access allowed",
			"recommendation", "set GENROUTER_MASTER_KEY environment variable to secure the router")
	} else {
		slog.Info("authentication enabled", "mode", "master_key")
	}

	slog.Info("router configured",
		"providers", a.registry.Len(),
		"models", len(a.registry.Models()),
		"deadline", a.router.Config().Deadline,
		"candidate_backoff", a.router.Config().CandidateBackoff,
	)

	if a.cache != nil {
		slog.Info("response cache enabled", "type", cfg.Cache.Type, "ttl", cfg.Cache.TTL)
	} else {
		slog.Info("response cache disabled")
	}

	if cfg.Metrics.Enabled {
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		slog.Info("prometheus metrics disabled")
	}

	if cfg.Tracing.Enabled {
		slog.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint, "sample_ratio", cfg.Tracing.SampleRatio)
	}

	if cfg.Usage.Enabled {
		slog.Info("usage tracking enabled",
			"storage_type", cfg.Storage.Type,
			"buffer_size", cfg.Usage.BufferSize,
			"flush_interval", cfg.Usage.FlushInterval,
			"retention_days", cfg.Usage.RetentionDays,
		)
	} else {
		slog.Info("usage tracking disabled")
	}
	if cfg.Usage.MonthlyBudgetUSD > 0 {
		slog.Info("monthly budget set", "budget_usd", cfg.Usage.MonthlyBudgetUSD)
	}
}
