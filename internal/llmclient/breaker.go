package llmclient

import (
	"sync"
	"time"
)

// BreakerConfig holds circuit breaker thresholds.
type BreakerConfig struct {
	// FailureThreshold opens the circuit after this many consecutive
	// failures.
	FailureThreshold int
	// SuccessThreshold closes a half-open circuit after this many
	// consecutive successes.
	SuccessThreshold int
	// Cooldown is how long an open circuit rejects requests before
	// probing again.
	Cooldown time.Duration
}

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// breaker is a minimal three-state circuit breaker.
type breaker struct {
	mu          sync.Mutex
	cfg         BreakerConfig
	state       breakerState
	failures    int
	successes   int
	lastFailure time.Time
}

func newBreaker(cfg BreakerConfig) *breaker {
	return &breaker{cfg: cfg}
}

// Allow reports whether a request may go out. An open circuit lets one
// probe through after the cooldown.
func (b *breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerOpen:
		if time.Since(b.lastFailure) > b.cfg.Cooldown {
			b.state = breakerHalfOpen
			b.successes = 0
			return true
		}
		return false
	default:
		return true
	}
}

func (b *breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = breakerClosed
			b.failures = 0
		}
	case breakerClosed:
		b.failures = 0
	}
}

func (b *breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()

	switch b.state {
	case breakerClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.state = breakerOpen
		}
	case breakerHalfOpen:
		b.state = breakerOpen
		b.successes = 0
	}
}

// State is exposed for tests.
func (b *breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}
