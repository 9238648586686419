package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"genrouter/internal/core"
	"genrouter/internal/tasks"
	"genrouter/internal/usage"
	"genrouter/internal/validation"
	"genrouter/internal/version"
)

// statusClientClosedRequest is the nginx convention for a caller that hung up.
const statusClientClosedRequest = 499

// topCallersLimit caps the caller list returned by /stats.
const topCallersLimit = 10

// Handler holds the HTTP handlers
type Handler struct {
	router  Router
	catalog Catalog
	tracker *usage.Tracker
}

// NewHandler creates a new handler with the given router
func NewHandler(router Router, catalog Catalog, tracker *usage.Tracker) *Handler {
	return &Handler{
		router:  router,
		catalog: catalog,
		tracker: tracker,
	}
}

// generateRequest is the POST /generate body.
type generateRequest struct {
	Prompt       string   `json:"prompt"`
	Type         string   `json:"type"`
	Model        string   `json:"model,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	MaxTokens    *int     `json:"maxTokens,omitempty"`
	SystemPrompt string   `json:"systemPrompt,omitempty"`
	UserID       string   `json:"userId,omitempty"`
	UseCache     *bool    `json:"useCache,omitempty"`
	// CacheTTL is in seconds.
	CacheTTL int `json:"cacheTtl,omitempty"`
}

func (r *generateRequest) toCore() *core.GenerationRequest {
	return &core.GenerationRequest{
		Prompt:        r.Prompt,
		ContentType:   core.ContentType(r.Type),
		SystemPrompt:  r.SystemPrompt,
		ModelOverride: r.Model,
		MaxTokens:     r.MaxTokens,
		Temperature:   r.Temperature,
		CallerID:      r.UserID,
		UseCache:      r.UseCache,
		CacheTTL:      validation.CacheTTLFromSeconds(r.CacheTTL),
	}
}

type usageBody struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type generateMetadata struct {
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Type      string    `json:"type"`
	TaskType  string    `json:"taskType"`
	Usage     usageBody `json:"usage"`
	Cost      float64   `json:"cost"`
	Duration  int64     `json:"duration"`
	Cached    bool      `json:"cached"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"requestId,omitempty"`
}

type generateResponse struct {
	Success  bool             `json:"success"`
	Result   string           `json:"result"`
	Metadata generateMetadata `json:"metadata"`
}

func newGenerateResponse(c *core.Completion, requestID string) generateResponse {
	return generateResponse{
		Success: true,
		Result:  c.Content,
		Metadata: generateMetadata{
			Provider: c.Provider,
			Model:    c.Model,
			Type:     string(c.ContentType),
			TaskType: string(c.TaskType),
			Usage: usageBody{
				PromptTokens:     c.TokensInput,
				CompletionTokens: c.TokensOutput,
				TotalTokens:      c.TokensTotal,
			},
			Cost:      c.CostUSD,
			Duration:  c.DurationMs,
			Cached:    c.Cached,
			Timestamp: c.Timestamp,
			RequestID: requestID,
		},
	}
}

// handleError converts gateway errors to the JSON envelope.
func handleError(c echo.Context, err error) error {
	var gwErr *core.GatewayError
	if errors.As(err, &gwErr) {
		return c.JSON(gwErr.HTTPStatusCode(), gwErr.ToJSON())
	}
	if errors.Is(err, context.Canceled) {
		return c.NoContent(statusClientClosedRequest)
	}

	slog.Error("unexpected error handling request",
		"request_id", core.GetRequestID(c.Request().Context()),
		"error", err,
	)
	return c.JSON(http.StatusInternalServerError, core.NewInternalError("an unexpected error occurred", err).ToJSON())
}

// httpErrorHandler renders errors that escape handlers and middleware (unknown
// routes, body limit, recovered panics) in the same envelope as handleError.
func httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		err = gatewayErrorFromHTTP(he)
	}
	if werr := handleError(c, err); werr != nil {
		slog.Warn("failed to write error response", "error", werr)
	}
}

func gatewayErrorFromHTTP(he *echo.HTTPError) *core.GatewayError {
	msg, ok := he.Message.(string)
	if !ok || msg == "" {
		msg = http.StatusText(he.Code)
	}
	switch {
	case he.Code == http.StatusNotFound:
		return core.NewNotFoundError(msg)
	case he.Code == http.StatusUnauthorized:
		return core.NewAuthenticationError("", msg)
	case he.Code >= 400 && he.Code < 500:
		return core.NewInvalidRequestErrorWithStatus(he.Code, msg, he)
	}
	return &core.GatewayError{
		Type:       core.ErrorTypeInternal,
		Message:    msg,
		StatusCode: he.Code,
		Err:        he,
	}
}

// Generate handles POST /generate
func (h *Handler) Generate(c echo.Context) error {
	var body generateRequest
	if err := c.Bind(&body); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body", err))
	}

	ctx := c.Request().Context()
	completion, err := h.router.Route(ctx, body.toCore())
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, newGenerateResponse(completion, core.GetRequestID(ctx)))
}

type providerInfo struct {
	Name      string          `json:"name"`
	Models    []string        `json:"models"`
	TaskTypes []core.TaskType `json:"taskTypes"`
}

type capabilitiesResponse struct {
	Success   bool               `json:"success"`
	Version   string             `json:"version"`
	Types     []core.ContentType `json:"types"`
	TaskTypes []core.TaskType    `json:"taskTypes"`
	Models    []string           `json:"models"`
	Providers []providerInfo     `json:"providers"`
}

// Capabilities handles GET /generate
func (h *Handler) Capabilities(c echo.Context) error {
	resp := capabilitiesResponse{
		Success:   true,
		Version:   version.Version,
		Types:     tasks.ContentTypes(),
		TaskTypes: core.AllTaskTypes,
		Models:    []string{},
		Providers: []providerInfo{},
	}
	if h.catalog != nil {
		resp.Models = h.catalog.Models()
		for _, a := range h.catalog.Adapters() {
			info := providerInfo{Name: a.Name(), Models: a.Models(), TaskTypes: []core.TaskType{}}
			for _, t := range core.AllTaskTypes {
				if a.Supports(t) {
					info.TaskTypes = append(info.TaskTypes, t)
				}
			}
			resp.Providers = append(resp.Providers, info)
		}
	}
	return c.JSON(http.StatusOK, resp)
}

type providerStatus struct {
	Name           string `json:"name"`
	CircuitBreaker string `json:"circuitBreaker"`
}

type statsResponse struct {
	Success    bool             `json:"success"`
	Usage      usage.Snapshot   `json:"usage"`
	TopCallers []string         `json:"topCallers"`
	Providers  []providerStatus `json:"providers"`
}

// Stats handles GET /stats
func (h *Handler) Stats(c echo.Context) error {
	if h.tracker == nil {
		return handleError(c, core.NewNotFoundError("usage tracking is disabled"))
	}
	snap := h.tracker.Snapshot()
	return c.JSON(http.StatusOK, statsResponse{
		Success:    true,
		Usage:      snap,
		TopCallers: snap.TopCallers(topCallersLimit),
		Providers:  h.providerStatuses(),
	})
}

// providerStatuses lists the breaker state of every adapter that has one.
func (h *Handler) providerStatuses() []providerStatus {
	statuses := []providerStatus{}
	if h.catalog == nil {
		return statuses
	}
	for _, a := range h.catalog.Adapters() {
		reporter, ok := a.(core.CircuitReporter)
		if !ok {
			continue
		}
		if state := reporter.CircuitState(); state != "" {
			statuses = append(statuses, providerStatus{Name: a.Name(), CircuitBreaker: state})
		}
	}
	return statuses
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}
