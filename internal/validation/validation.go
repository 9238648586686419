// Package validation rejects malformed generation requests before any
// provider is contacted and fills in defaults for optional fields.
package validation

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"genrouter/internal/core"
	"genrouter/internal/tasks"
)

const (
	// MaxPromptLength is measured in characters, not bytes.
	MaxPromptLength = 10000

	DefaultMaxTokens   = 2000
	DefaultTemperature = 0.7
)

// validate is the shared validator instance; validator.Validate caches struct
// metadata and is safe for concurrent use.
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	if err := validate.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(err)
	}
	if err := validate.RegisterValidation("contenttype", func(fl validator.FieldLevel) bool {
		return tasks.Known(core.ContentType(fl.Field().String()))
	}); err != nil {
		panic(err)
	}
}

// Validate checks req and returns a request with defaults applied and its
// task type classified. Checks run in a fixed order: prompt presence, prompt
// length, content type, then numeric ranges. Only the first failure is reported.
func Validate(req *core.GenerationRequest) (*core.ValidatedRequest, error) {
	if req == nil {
		return nil, core.NewInvalidRequestError("prompt is required", core.ErrPromptRequired)
	}
	if err := validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return nil, toGatewayError(fieldErrs[0])
		}
		return nil, core.NewInvalidRequestError("invalid request", err)
	}

	task, _, _ := tasks.Classify(req.ContentType)

	out := &core.ValidatedRequest{
		Prompt:        req.Prompt,
		ContentType:   req.ContentType,
		TaskType:      task,
		SystemPrompt:  tasks.SystemPrompt(req.ContentType, req.SystemPrompt),
		ModelOverride: req.ModelOverride,
		MaxTokens:     DefaultMaxTokens,
		Temperature:   DefaultTemperature,
		CallerID:      req.CallerID,
		UseCache:      req.UseCache == nil || *req.UseCache,
	}
	if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		out.Temperature = *req.Temperature
	}
	if req.CacheTTL > 0 {
		out.CacheTTL = req.CacheTTL
	} else if req.CacheTTL < 0 {
		return nil, core.NewInvalidRequestError("cache ttl must not be negative", core.ErrInvalidParameter)
	}
	return out, nil
}

func toGatewayError(fe validator.FieldError) *core.GatewayError {
	switch fe.Field() {
	case "Prompt":
		if fe.Tag() == "max" {
			return core.NewInvalidRequestError(
				fmt.Sprintf("prompt too long (max %d characters)", MaxPromptLength), core.ErrPromptTooLong)
		}
		return core.NewInvalidRequestError("prompt is required", core.ErrPromptRequired)
	case "ContentType":
		return core.NewInvalidRequestError(
			fmt.Sprintf("invalid type %q", fe.Value()), core.ErrUnknownTaskType)
	case "MaxTokens":
		return core.NewInvalidRequestError("maxTokens must be between 1 and 100000", core.ErrInvalidParameter)
	case "Temperature":
		return core.NewInvalidRequestError("temperature must be between 0 and 2", core.ErrInvalidParameter)
	default:
		return core.NewInvalidRequestError(
			fmt.Sprintf("%s validation failed on '%s' tag", fe.Field(), fe.Tag()), core.ErrInvalidParameter)
	}
}

// CacheTTLFromSeconds converts a caller-supplied TTL in seconds.
func CacheTTLFromSeconds(seconds int) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
