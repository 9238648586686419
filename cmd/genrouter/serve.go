package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"genrouter/internal/version"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, cfg, err := loadApp(ctx, os.Stdout, nil)
			if err != nil {
				return err
			}

			slog.Info("starting genrouter",
				"version", version.Version,
				"commit", version.Commit,
				"build_date", version.Date,
			)

			if port == "" {
				port = cfg.Server.Port
			}
			errCh := make(chan error, 1)
			go func() {
				errCh <- a.Start(":" + port)
			}()

			var serveErr error
			select {
			case serveErr = <-errCh:
			case <-ctx.Done():
				slog.Info("shutdown signal received")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := a.Shutdown(shutdownCtx); err != nil {
				slog.Error("shutdown error", "error", err)
			}
			return serveErr
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "Listen port (overrides PORT and server.port)")
	return cmd
}
