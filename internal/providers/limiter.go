package providers

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"genrouter/config"
)

const (
	// callerShare divides the provider rate into the rate one caller may use.
	callerShare = 3
	// callerIdle is how long an unused per-caller bucket is kept.
	callerIdle = 10 * time.Minute
)

// Limiter bounds how hard the router may push one provider: a token bucket for
// request rate, a semaphore for in-flight calls, and a smaller bucket per
// caller so one caller cannot drain the provider rate alone. It never blocks;
// a refused call is reported to the caller so the dispatcher can move on.
type Limiter struct {
	bucket *rate.Limiter
	slots  *semaphore.Weighted

	callerMu    sync.Mutex
	callers     *gocache.Cache
	callerRate  rate.Limit
	callerBurst int
}

// NewLimiter builds a limiter from config. Zero values disable the matching limit;
// a nil *Limiter admits everything. Per-caller limits apply only when a request
// rate is set.
func NewLimiter(cfg config.RateLimitConfig) *Limiter {
	if cfg.RequestsPerSecond <= 0 && cfg.MaxConcurrent <= 0 {
		return nil
	}
	l := &Limiter{}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = max(1, int(cfg.RequestsPerSecond))
		}
		l.bucket = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
		l.callerRate = rate.Limit(cfg.RequestsPerSecond / callerShare)
		l.callerBurst = max(1, burst/callerShare)
		l.callers = gocache.New(callerIdle, callerIdle)
	}
	if cfg.MaxConcurrent > 0 {
		l.slots = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	return l
}

// TryAcquire admits one call for callerID if every limit allows it. An empty
// callerID skips the per-caller bucket. The returned release must be called
// when the call finishes.
func (l *Limiter) TryAcquire(callerID string) (release func(), ok bool) {
	if l == nil {
		return func() {}, true
	}
	if l.slots != nil && !l.slots.TryAcquire(1) {
		return nil, false
	}
	refuse := func() (func(), bool) {
		if l.slots != nil {
			l.slots.Release(1)
		}
		return nil, false
	}

	// The caller's share is checked before the provider bucket is spent and
	// taken after, so a provider refusal costs the caller nothing.
	var share *rate.Limiter
	if callerID != "" && l.callers != nil {
		share = l.callerBucket(callerID)
		if share.Tokens() < 1 {
			return refuse()
		}
	}
	if l.bucket != nil && !l.bucket.Allow() {
		return refuse()
	}
	if share != nil && !share.Allow() {
		// Lost a race with another call from the same caller.
		return refuse()
	}

	if l.slots == nil {
		return func() {}, true
	}
	return func() { l.slots.Release(1) }, true
}

// callerBucket returns the bucket for callerID, creating it on first use.
// Each use pushes its expiry out by callerIdle.
func (l *Limiter) callerBucket(callerID string) *rate.Limiter {
	l.callerMu.Lock()
	defer l.callerMu.Unlock()

	var bucket *rate.Limiter
	if v, ok := l.callers.Get(callerID); ok {
		bucket = v.(*rate.Limiter)
	} else {
		bucket = rate.NewLimiter(l.callerRate, l.callerBurst)
	}
	l.callers.SetDefault(callerID, bucket)
	return bucket
}
