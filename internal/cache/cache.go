// Package cache provides a TTL-bound response cache keyed by request fingerprint.
// Supports an in-process backend and Redis for multi-instance deployments.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"genrouter/internal/core"
)

// DefaultTTL is short: completions are sampled with temperature and should
// not be replayed for long.
const DefaultTTL = 5 * time.Minute

// Entry is the stored form of a cached completion. Entries are immutable:
// a put replaces the whole encoded value.
type Entry struct {
	Fingerprint string           `json:"fingerprint"`
	Completion  *core.Completion `json:"completion"`
	ExpiresAt   time.Time        `json:"expires_at"`
}

// ResponseCache defines the interface for completion storage.
// Implementations must be safe for concurrent use and linearizable per key.
type ResponseCache interface {
	// Get returns a private copy of the cached completion with Cached set.
	// A missing or expired entry returns nil, false, nil.
	Get(ctx context.Context, fingerprint string) (*core.Completion, bool, error)

	// Set stores completion under fingerprint. ttl <= 0 uses the backend default.
	Set(ctx context.Context, fingerprint string, completion *core.Completion, ttl time.Duration) error

	// Close releases any resources held by the cache.
	Close() error
}

func encodeEntry(fingerprint string, completion *core.Completion, ttl time.Duration, now time.Time) ([]byte, error) {
	stored := completion.Clone()
	stored.Cached = false
	data, err := json.Marshal(Entry{
		Fingerprint: fingerprint,
		Completion:  stored,
		ExpiresAt:   now.Add(ttl),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	return data, nil
}

// decodeEntry always yields a fresh Completion so callers never share memory
// with the stored value.
func decodeEntry(data []byte, now time.Time) (*core.Completion, bool, error) {
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, fmt.Errorf("failed to parse cache entry: %w", err)
	}
	if entry.Completion == nil || !now.Before(entry.ExpiresAt) {
		return nil, false, nil
	}
	entry.Completion.Cached = true
	return entry.Completion, true, nil
}
