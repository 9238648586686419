package core

import "time"

// ContentType is the caller-facing kind of content requested.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentImage    ContentType = "image"
	ContentCode     ContentType = "code"
	ContentEmail    ContentType = "email"
	ContentCreative ContentType = "creative"
	ContentAnalysis ContentType = "analysis"
)

// TaskType is the internal classification used to pick eligible providers.
type TaskType string

const (
	TaskCreative    TaskType = "creative"
	TaskCoding      TaskType = "coding"
	TaskOperational TaskType = "operational"
	TaskAnalysis    TaskType = "analysis"
)

// AllTaskTypes lists task types in a stable order.
var AllTaskTypes = []TaskType{TaskCreative, TaskCoding, TaskOperational, TaskAnalysis}

// Valid reports whether t is a known task type.
func (t TaskType) Valid() bool {
	for _, known := range AllTaskTypes {
		if t == known {
			return true
		}
	}
	return false
}

// GenerationRequest is an inbound request as received from a caller.
// Optional numeric fields are nil when absent.
type GenerationRequest struct {
	Prompt        string      `json:"prompt" validate:"notblank,max=10000"`
	ContentType   ContentType `json:"type" validate:"contenttype"`
	SystemPrompt  string      `json:"systemPrompt,omitempty"`
	ModelOverride string      `json:"model,omitempty"`
	MaxTokens     *int        `json:"maxTokens,omitempty" validate:"omitempty,min=1,max=100000"`
	Temperature   *float64    `json:"temperature,omitempty" validate:"omitempty,min=0,max=2"`
	CallerID      string      `json:"userId,omitempty"`

	// UseCache disables the response cache for this request when false.
	UseCache *bool `json:"useCache,omitempty"`
	// CacheTTL overrides the router default when positive.
	CacheTTL time.Duration `json:"-"`
}

// ValidatedRequest is a GenerationRequest with defaults applied and the
// task classified. It is never mutated after validation.
type ValidatedRequest struct {
	Prompt        string
	ContentType   ContentType
	TaskType      TaskType
	SystemPrompt  string
	ModelOverride string
	MaxTokens     int
	Temperature   float64
	CallerID      string
	UseCache      bool
	CacheTTL      time.Duration
}

// ProviderRequest is what an adapter receives for a single call.
type ProviderRequest struct {
	Model        string
	TaskType     TaskType
	SystemPrompt string
	Prompt       string
	MaxTokens    int
	Temperature  float64
	// CallerID is who the call is billed to; adapters use it for per-caller limits.
	CallerID string
}

// ProviderResult is the successful outcome of a single provider call.
type ProviderResult struct {
	Content      string
	ModelUsed    string
	TokensInput  int
	TokensOutput int
	DurationMs   int64
}

// Pricing holds per-token USD prices.
type Pricing struct {
	InputPerToken  float64 `json:"input_per_token" yaml:"input_per_token"`
	OutputPerToken float64 `json:"output_per_token" yaml:"output_per_token"`
}

// Completion is the final, priced result of a dispatch.
type Completion struct {
	Content      string      `json:"content"`
	Provider     string      `json:"provider"`
	Model        string      `json:"model"`
	ContentType  ContentType `json:"content_type"`
	TaskType     TaskType    `json:"task_type"`
	TokensInput  int         `json:"tokens_input"`
	TokensOutput int         `json:"tokens_output"`
	TokensTotal  int         `json:"tokens_total"`
	CostUSD      float64     `json:"cost_usd"`
	DurationMs   int64       `json:"duration_ms"`
	Cached       bool        `json:"cached"`
	Timestamp    time.Time   `json:"timestamp"`
}

// Clone returns an independent copy of c.
func (c *Completion) Clone() *Completion {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}
