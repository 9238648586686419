// Package core provides the core types and interfaces for the generation router.
package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType represents the type of error that occurred
type ErrorType string

const (
	// ErrorTypeProvider indicates an upstream provider error (5xx)
	ErrorTypeProvider ErrorType = "provider_error"
	// ErrorTypeRateLimit indicates a rate limit error (429), upstream or local
	ErrorTypeRateLimit ErrorType = "rate_limit_error"
	// ErrorTypeTimeout indicates a provider call did not finish within its timeout
	ErrorTypeTimeout ErrorType = "provider_timeout"
	// ErrorTypeInvalidRequest indicates a client error (4xx) detected before dispatch
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	// ErrorTypeRejected indicates the provider itself refused the request as malformed
	ErrorTypeRejected ErrorType = "provider_rejected_request"
	// ErrorTypeAuthentication indicates an authentication error (401)
	ErrorTypeAuthentication ErrorType = "authentication_error"
	// ErrorTypeNotFound indicates a not found error (404)
	ErrorTypeNotFound ErrorType = "not_found_error"
	// ErrorTypeExhausted indicates every candidate provider failed transiently
	ErrorTypeExhausted ErrorType = "all_providers_exhausted"
	// ErrorTypeDeadline indicates the overall dispatch deadline elapsed
	ErrorTypeDeadline ErrorType = "deadline_exceeded"
	// ErrorTypeInternal indicates an unexpected fault inside the router
	ErrorTypeInternal ErrorType = "internal_error"
)

// Sentinel causes carried in GatewayError.Err so callers can use errors.Is.
var (
	ErrPromptRequired        = errors.New("prompt is required")
	ErrPromptTooLong         = errors.New("prompt too long")
	ErrUnknownTaskType       = errors.New("unknown content type")
	ErrInvalidParameter      = errors.New("invalid parameter")
	ErrUnknownModel          = errors.New("unknown model")
	ErrAllProvidersExhausted = errors.New("all providers exhausted")
	ErrDeadlineExceeded      = errors.New("dispatch deadline exceeded")
	ErrCircuitOpen           = errors.New("circuit breaker is open")
	ErrLocalRateLimit        = errors.New("local rate limit reached")
)

// GatewayError is the base error type for all router errors
type GatewayError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code"`
	Provider   string    `json:"provider,omitempty"`
	// Details holds provider-facing diagnostics. Never used as the headline message.
	Details string `json:"details,omitempty"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface
func (e *GatewayError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *GatewayError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeInvalidRequest, ErrorTypeRejected:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeProvider, ErrorTypeExhausted:
		return http.StatusBadGateway
	case ErrorTypeTimeout, ErrorTypeDeadline:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to the response envelope used by the HTTP layer.
func (e *GatewayError) ToJSON() map[string]interface{} {
	body := map[string]interface{}{
		"success": false,
		"error":   e.Message,
		"type":    e.Type,
	}
	if e.Details != "" {
		body["details"] = e.Details
	}
	return body
}

// Transient reports whether the dispatcher may advance to the next candidate
// after this error. Request-shaped failures are terminal.
func (e *GatewayError) Transient() bool {
	switch e.Type {
	case ErrorTypeProvider, ErrorTypeRateLimit, ErrorTypeTimeout, ErrorTypeAuthentication:
		return true
	default:
		return false
	}
}

// ProviderFailure records why one candidate did not serve a dispatch.
type ProviderFailure struct {
	Provider string    `json:"provider"`
	Kind     ErrorType `json:"kind"`
	Message  string    `json:"message"`
}

// ExhaustedError carries the per-provider failure list of a failed dispatch.
type ExhaustedError struct {
	Failures []ProviderFailure
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%d provider(s) failed: %s", len(e.Failures), summarizeFailures(e.Failures))
}

func (e *ExhaustedError) Unwrap() error {
	return ErrAllProvidersExhausted
}

func summarizeFailures(failures []ProviderFailure) string {
	parts := make([]string, 0, len(failures))
	for _, f := range failures {
		parts = append(parts, fmt.Sprintf("%s: %s (%s)", f.Provider, f.Kind, f.Message))
	}
	return strings.Join(parts, "; ")
}

// NewProviderError creates a new provider error (upstream 5xx)
func NewProviderError(provider string, statusCode int, message string, err error) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeProvider,
		Message:    message,
		StatusCode: statusCode,
		Provider:   provider,
		Err:        err,
	}
}

// NewRateLimitError creates a new rate limit error (429)
func NewRateLimitError(provider string, message string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeRateLimit,
		Message:    message,
		StatusCode: http.StatusTooManyRequests,
		Provider:   provider,
	}
}

// NewTimeoutError creates an error for a provider call that ran past its timeout.
func NewTimeoutError(provider string, err error) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeTimeout,
		Message:    "provider did not respond in time",
		StatusCode: http.StatusGatewayTimeout,
		Provider:   provider,
		Err:        err,
	}
}

// NewInvalidRequestError creates a new invalid request error (400)
func NewInvalidRequestError(message string, err error) *GatewayError {
	return NewInvalidRequestErrorWithStatus(http.StatusBadRequest, message, err)
}

// NewInvalidRequestErrorWithStatus creates a new invalid request error with a specific status code
func NewInvalidRequestErrorWithStatus(statusCode int, message string, err error) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeInvalidRequest,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// NewRejectedRequestError creates an error for a request the provider refused (4xx).
func NewRejectedRequestError(provider string, statusCode int, message string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeRejected,
		Message:    "provider rejected the request",
		StatusCode: statusCode,
		Provider:   provider,
		Details:    message,
	}
}

// NewAuthenticationError creates a new authentication error (401)
func NewAuthenticationError(provider string, message string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeAuthentication,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
		Provider:   provider,
	}
}

// NewNotFoundError creates a new not found error (404)
func NewNotFoundError(message string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

// NewExhaustedError creates the terminal error for a dispatch in which every
// candidate failed transiently.
func NewExhaustedError(failures []ProviderFailure) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeExhausted,
		Message:    "all providers failed to generate content",
		StatusCode: http.StatusBadGateway,
		Details:    summarizeFailures(failures),
		Err:        &ExhaustedError{Failures: failures},
	}
}

// NewDeadlineError creates the terminal error for a dispatch that ran out of time.
func NewDeadlineError(failures []ProviderFailure) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeDeadline,
		Message:    "generation timed out",
		StatusCode: http.StatusGatewayTimeout,
		Details:    summarizeFailures(failures),
		Err:        ErrDeadlineExceeded,
	}
}

// NewInternalError wraps an unexpected fault.
func NewInternalError(message string, err error) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsTransient reports whether err allows the dispatcher to try the next candidate.
// Errors that are not GatewayErrors are treated as transient provider faults.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Transient()
	}
	return true
}

// ParseProviderError parses an error response from a provider and returns an appropriate GatewayError
func ParseProviderError(provider string, statusCode int, body []byte, originalErr error) *GatewayError {
	var errorResponse struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}

	message := string(body)
	if err := json.Unmarshal(body, &errorResponse); err == nil && errorResponse.Error.Message != "" {
		message = errorResponse.Error.Message
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return NewAuthenticationError(provider, message)
	case statusCode == http.StatusTooManyRequests:
		return NewRateLimitError(provider, message)
	case statusCode == http.StatusRequestTimeout:
		return NewTimeoutError(provider, originalErr)
	case statusCode >= 400 && statusCode < 500:
		return NewRejectedRequestError(provider, statusCode, message)
	default:
		return NewProviderError(provider, http.StatusBadGateway, message, originalErr)
	}
}
