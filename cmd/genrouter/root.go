package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"genrouter/config"
	"genrouter/internal/app"
	"genrouter/internal/logging"
	"genrouter/internal/providers"
	"genrouter/internal/providers/anthropic"
	"genrouter/internal/providers/gemini"
	"genrouter/internal/providers/groq"
	"genrouter/internal/providers/ollama"
	"genrouter/internal/providers/openai"
	"genrouter/internal/providers/xai"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "genrouter",
		Short: "genrouter - route generation requests across LLM providers",
		Long: `genrouter classifies generation requests, picks the best provider for
the task and falls back to the next one when a provider fails. Identical
requests are served from a short-lived response cache.

Examples:
  # Run the HTTP server
  genrouter serve

  # Route a single request from the shell
  genrouter generate --type creative "Write a haiku about autumn"
`,
		SilenceUsage: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newGenerateCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// newFactory registers every built-in provider type.
func newFactory() *providers.ProviderFactory {
	factory := providers.NewProviderFactory()
	factory.Add(openai.Registration)
	factory.Add(anthropic.Registration)
	factory.Add(gemini.Registration)
	factory.Add(groq.Registration)
	factory.Add(xai.Registration)
	factory.Add(ollama.Registration)
	return factory
}

// loadApp loads configuration, installs the logger on logOut and builds the app.
func loadApp(ctx context.Context, logOut io.Writer, metricsRegistry *prometheus.Registry) (*app.App, *config.Config, error) {
	result, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg := result.Config

	slog.SetDefault(slog.New(logging.NewHandler(logOut, logging.Options{
		Format: cfg.Logging.Format,
		Level:  cfg.Logging.Level,
	})))
	if result.Path != "" {
		slog.Info("config loaded", "path", result.Path)
	}

	if len(cfg.Providers) == 0 {
		return nil, nil, fmt.Errorf("at least one provider must be configured")
	}

	a, err := app.New(ctx, app.Config{
		AppConfig:       result,
		Factory:         newFactory(),
		MetricsRegistry: metricsRegistry,
	})
	if err != nil {
		return nil, nil, err
	}
	return a, cfg, nil
}
