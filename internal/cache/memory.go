package cache

import (
	"container/heap"
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"genrouter/internal/core"
)

// DefaultMaxEntries bounds the in-process cache when no limit is configured.
const DefaultMaxEntries = 10000

// MemoryConfig configures the in-process cache.
type MemoryConfig struct {
	// TTL applies when Set is called without one (defaults to DefaultTTL)
	TTL time.Duration
	// MaxEntries bounds the number of stored completions (defaults to DefaultMaxEntries)
	MaxEntries int
	// CleanupInterval is how often expired entries are purged in the background.
	// Defaults to TTL. Expired entries are also dropped lazily on read.
	CleanupInterval time.Duration
}

// MemoryCache implements ResponseCache with an in-process store.
// This is suitable for single-instance deployments.
type MemoryCache struct {
	// writeMu serializes capacity checks with inserts; reads go straight to store.
	writeMu    sync.Mutex
	store      *gocache.Cache
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	// expiries orders keys by expiration for eviction; guarded by writeMu.
	expiries expiryHeap
}

// NewMemoryCache creates a bounded in-process cache.
func NewMemoryCache(cfg MemoryConfig) *MemoryCache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	cleanup := cfg.CleanupInterval
	if cleanup <= 0 {
		cleanup = ttl
	}
	return &MemoryCache{
		store:      gocache.New(ttl, cleanup),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get retrieves a completion by fingerprint.
func (c *MemoryCache) Get(_ context.Context, fingerprint string) (*core.Completion, bool, error) {
	raw, ok := c.store.Get(fingerprint)
	if !ok {
		return nil, false, nil
	}
	data, ok := raw.([]byte)
	if !ok {
		c.store.Delete(fingerprint)
		return nil, false, nil
	}
	completion, hit, err := decodeEntry(data, c.now())
	if err != nil || !hit {
		// Expired between the store's own check and ours, or corrupt.
		c.store.Delete(fingerprint)
	}
	return completion, hit, err
}

// Set stores a completion, evicting the entry closest to expiry when full.
func (c *MemoryCache) Set(_ context.Context, fingerprint string, completion *core.Completion, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	data, err := encodeEntry(fingerprint, completion, ttl, c.now())
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, exists := c.store.Get(fingerprint); !exists {
		for c.store.ItemCount() >= c.maxEntries {
			if !c.evictOne() {
				break
			}
		}
	}
	c.store.Set(fingerprint, data, ttl)
	if _, exp, ok := c.store.GetWithExpiration(fingerprint); ok {
		heap.Push(&c.expiries, expiry{key: fingerprint, at: exp.UnixNano()})
	}
	if len(c.expiries) > 2*c.maxEntries {
		c.reindex()
	}
	return nil
}

// evictOne removes the entry closest to expiry. Expired entries sort first,
// so they are reclaimed before any live one. Heap entries whose key was
// overwritten or already purged are skipped.
func (c *MemoryCache) evictOne() bool {
	for len(c.expiries) > 0 {
		e := heap.Pop(&c.expiries).(expiry)
		_, exp, ok := c.store.GetWithExpiration(e.key)
		if !ok {
			// Gone, or expired but not yet purged. The caller rechecks the count.
			c.store.Delete(e.key)
			return true
		}
		if exp.UnixNano() != e.at {
			continue
		}
		c.store.Delete(e.key)
		return true
	}
	return false
}

// reindex rebuilds the expiry heap from the live store, dropping stale entries.
func (c *MemoryCache) reindex() {
	items := c.store.Items()
	c.expiries = make(expiryHeap, 0, len(items))
	for key, item := range items {
		c.expiries = append(c.expiries, expiry{key: key, at: item.Expiration})
	}
	heap.Init(&c.expiries)
}

type expiry struct {
	key string
	at  int64
}

// expiryHeap is a min-heap on expiration time.
type expiryHeap []expiry

func (h expiryHeap) Len() int           { return len(h) }
func (h expiryHeap) Less(i, j int) bool { return h[i].at < h[j].at }
func (h expiryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x any)        { *h = append(*h, x.(expiry)) }

func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Len returns the number of stored entries, including ones not yet purged.
func (c *MemoryCache) Len() int {
	return c.store.ItemCount()
}

// Close drops all entries.
func (c *MemoryCache) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.store.Flush()
	c.expiries = nil
	return nil
}
