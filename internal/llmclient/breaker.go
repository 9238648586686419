package llmclient

import (
	"log/slog"
	"sync"
	"time"
)

type breakerState uint8

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// circuitBreaker stops calls to one provider after consecutive failures.
// After the cool-down one trial call at a time is let through: a failed trial
// reopens the circuit, and enough consecutive good trials close it.
type circuitBreaker struct {
	provider  string
	threshold int
	recovery  int
	coolDown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	state    breakerState
	streak   int // failures while closed, successes while half-open
	openedAt time.Time
	trial    bool
}

func newCircuitBreaker(provider string, cfg CircuitBreakerConfig) *circuitBreaker {
	return &circuitBreaker{
		provider:  provider,
		threshold: max(cfg.FailureThreshold, 1),
		recovery:  max(cfg.SuccessThreshold, 1),
		coolDown:  cfg.Timeout,
		now:       time.Now,
	}
}

// Allow reports whether a call may go out and whether it is the half-open
// trial. A trial must be followed by endTrial once its outcome is recorded.
func (cb *circuitBreaker) Allow() (allowed, trial bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case stateOpen:
		if cb.now().Sub(cb.openedAt) < cb.coolDown {
			return false, false
		}
		cb.moveTo(stateHalfOpen)
	case stateClosed:
		return true, false
	}
	if cb.trial {
		return false, false
	}
	cb.trial = true
	return true, true
}

// endTrial frees the half-open slot. A trial that ended with neither a recorded
// success nor failure (a 4xx, a cancellation) leaves the state unchanged.
func (cb *circuitBreaker) endTrial() {
	cb.mu.Lock()
	cb.trial = false
	cb.mu.Unlock()
}

func (cb *circuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case stateClosed:
		cb.streak = 0
	case stateHalfOpen:
		cb.streak++
		if cb.streak >= cb.recovery {
			cb.moveTo(stateClosed)
		}
	}
}

func (cb *circuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case stateClosed:
		cb.streak++
		if cb.streak >= cb.threshold {
			cb.moveTo(stateOpen)
		}
	case stateHalfOpen:
		cb.moveTo(stateOpen)
	case stateOpen:
		// A retry admitted before the circuit opened.
		cb.openedAt = cb.now()
	}
}

// State is "closed", "open" or "half-open". An open circuit whose cool-down
// has passed reads as half-open even before the next call arrives.
func (cb *circuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == stateOpen && cb.now().Sub(cb.openedAt) >= cb.coolDown {
		return stateHalfOpen.String()
	}
	return cb.state.String()
}

// moveTo changes state and logs the transition. Callers hold mu.
func (cb *circuitBreaker) moveTo(next breakerState) {
	failures := cb.streak
	cb.state = next
	cb.streak = 0
	switch next {
	case stateOpen:
		cb.openedAt = cb.now()
		slog.Warn("circuit breaker opened",
			"provider", cb.provider,
			"consecutive_failures", failures,
			"cool_down", cb.coolDown,
		)
	case stateHalfOpen:
		slog.Info("circuit breaker half-open", "provider", cb.provider)
	case stateClosed:
		slog.Info("circuit breaker closed", "provider", cb.provider)
	}
}
