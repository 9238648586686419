// Package usage prices completions and records who spent what.
// Served completions are buffered and written to storage asynchronously.
package usage

import (
	"context"
	"time"
)

// UsageStore persists usage entries. The Logger is its only writer, but
// retention pruning may run alongside it.
type UsageStore interface {
	// WriteBatch inserts entries. Replayed IDs are ignored.
	WriteBatch(ctx context.Context, entries []*UsageEntry) error
	Flush(ctx context.Context) error
	Close() error
}

// UsageEntry is one served completion. Cache hits are not recorded: they
// cost nothing and never reached a provider.
type UsageEntry struct {
	// ID is a unique identifier for this usage entry (UUID)
	ID string `json:"id" bson:"_id"`

	// RequestID comes from the X-Request-ID header or is generated per request
	RequestID string `json:"request_id" bson:"request_id"`

	Timestamp time.Time `json:"timestamp" bson:"timestamp"`

	Provider    string `json:"provider" bson:"provider"`
	Model       string `json:"model" bson:"model"`
	TaskType    string `json:"task_type" bson:"task_type"`
	ContentType string `json:"content_type" bson:"content_type"`
	CallerID    string `json:"caller_id,omitempty" bson:"caller_id,omitempty"`
	Fingerprint string `json:"fingerprint" bson:"fingerprint"`

	InputTokens  int     `json:"input_tokens" bson:"input_tokens"`
	OutputTokens int     `json:"output_tokens" bson:"output_tokens"`
	TotalTokens  int     `json:"total_tokens" bson:"total_tokens"`
	CostUSD      float64 `json:"cost_usd" bson:"cost_usd"`
	DurationMs   int64   `json:"duration_ms" bson:"duration_ms"`

	// Attempts is how many candidates were tried, including the one that served.
	Attempts int `json:"attempts" bson:"attempts"`
}

// Config tunes the Logger.
type Config struct {
	Enabled bool
	// BufferSize bounds queued entries; Write drops beyond it.
	BufferSize    int
	FlushInterval time.Duration
	// RetentionDays of zero keeps rows forever.
	RetentionDays int
}

// DefaultConfig is used for any zero field in the configured values.
func DefaultConfig() Config {
	return Config{
		Enabled:       false,
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
		RetentionDays: 90,
	}
}
