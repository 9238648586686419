// Package server exposes the router over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"path"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"genrouter/config"
	"genrouter/internal/core"
	"genrouter/internal/telemetry"
	"genrouter/internal/usage"
)

// Router routes one generation request. *router.Router satisfies it.
type Router interface {
	Route(ctx context.Context, req *core.GenerationRequest) (*core.Completion, error)
}

// Catalog lists what the router can serve. *providers.Registry satisfies it.
type Catalog interface {
	Models() []string
	Adapters() []core.Adapter
}

// Server wraps the Echo server
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// Config holds server configuration options
type Config struct {
	MasterKey       string // Optional: Master key for authentication
	MetricsEnabled  bool   // Whether to expose Prometheus metrics endpoint
	MetricsEndpoint string // HTTP path for metrics endpoint (default: /metrics)
	BodySizeLimit   int64  // Max request body size in bytes (default: 1MB)
	// MetricsHandler serves the metrics path. Nil uses the default Prometheus registry.
	MetricsHandler http.Handler
	// TracerProvider records the inbound request span. Nil uses the global provider.
	TracerProvider trace.TracerProvider
}

// HeaderCallerID names the caller a request is billed to when the body has no userId.
const HeaderCallerID = "X-Caller-ID"

// New creates a new HTTP server
func New(router Router, catalog Catalog, tracker *usage.Tracker, cfg *Config) *Server {
	if cfg == nil {
		cfg = &Config{}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = httpErrorHandler

	handler := NewHandler(router, catalog, tracker)

	authSkipPaths := []string{"/health"}

	metricsPath := "/metrics"
	if cfg.MetricsEnabled {
		if cfg.MetricsEndpoint != "" {
			// Normalize path to prevent traversal attacks
			metricsPath = path.Clean(cfg.MetricsEndpoint)
		}
		authSkipPaths = append(authSkipPaths, metricsPath)
	}

	var otelOpts []otelhttp.Option
	if cfg.TracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(cfg.TracerProvider))
	}

	// Global middleware stack (order matters)
	e.Use(echo.WrapMiddleware(otelhttp.NewMiddleware("genrouter.http", otelOpts...)))
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
		RequestIDHandler: func(c echo.Context, id string) {
			req := c.Request()
			c.SetRequest(req.WithContext(core.WithRequestID(req.Context(), id)))
		},
	}))
	e.Use(requestLogger())
	e.Use(middleware.Recover())
	e.Use(callerID())

	bodySizeLimit := int64(config.DefaultBodySizeLimit)
	if cfg.BodySizeLimit > 0 {
		bodySizeLimit = cfg.BodySizeLimit
	}
	e.Use(middleware.BodyLimit(strconv.FormatInt(bodySizeLimit, 10)))

	if cfg.MasterKey != "" {
		e.Use(AuthMiddleware(cfg.MasterKey, authSkipPaths))
	}

	// Public routes
	e.GET("/health", handler.Health)
	if cfg.MetricsEnabled {
		metricsHandler := cfg.MetricsHandler
		if metricsHandler == nil {
			metricsHandler = promhttp.Handler()
		}
		e.GET(metricsPath, echo.WrapHandler(metricsHandler))
	}

	// API routes
	e.POST("/generate", handler.Generate)
	e.GET("/generate", handler.Capabilities)
	e.GET("/stats", handler.Stats)

	return &Server{
		echo:    e,
		handler: handler,
	}
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID,
			}
			if traceID := telemetry.TraceIDFromContext(c.Request().Context()); traceID != "" {
				attrs = append(attrs, "trace_id", traceID)
			}
			level := slog.LevelInfo
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
				level = slog.LevelWarn
			}
			slog.Log(c.Request().Context(), level, "request", attrs...)
			return nil
		},
	})
}

// callerID tags the request context with the X-Caller-ID header, if any.
func callerID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if id := c.Request().Header.Get(HeaderCallerID); id != "" {
				req := c.Request()
				c.SetRequest(req.WithContext(core.WithCallerID(req.Context(), id)))
			}
			return next(c)
		}
	}
}

// Start starts the HTTP server on the given address
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements the http.Handler interface, allowing Server to be used with httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
