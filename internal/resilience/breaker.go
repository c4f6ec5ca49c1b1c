package resilience

import (
	"sync"
	"time"
)

// BreakerState is one of the three circuit breaker states from §4.4.
type BreakerState string

const (
	Closed   BreakerState = "closed"
	Open     BreakerState = "open"
	HalfOpen BreakerState = "half_open"
)

// BreakerConfig parameterizes a single breaker instance.
type BreakerConfig struct {
	Threshold                 int
	RecoveryMs                int
	HalfOpenRequiredSuccesses int
}

// DefaultBreakerConfig matches commonly-seen defaults in the surrounding
// ecosystem: open after 5 consecutive failures, probe after 30s, one
// successful probe closes it.
var DefaultBreakerConfig = BreakerConfig{
	Threshold:                 5,
	RecoveryMs:                30000,
	HalfOpenRequiredSuccesses: 1,
}

// Breaker is a single per-action-key circuit breaker instance.
type Breaker struct {
	mu                sync.Mutex
	cfg               BreakerConfig
	state             BreakerState
	failureCount      int
	halfOpenSuccesses int
	lastFailureAt     time.Time
}

func newBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg, state: Closed}
}

// CanExecute reports whether an attempt may proceed, transitioning OPEN to
// HALF_OPEN once the recovery window has elapsed (§4.4).
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed, HalfOpen:
		return true
	case Open:
		if time.Since(b.lastFailureAt) >= time.Duration(b.cfg.RecoveryMs)*time.Millisecond {
			b.state = HalfOpen
			b.halfOpenSuccesses = 0
			return true
		}
		return false
	}
	return false
}

// RecordSuccess advances the state machine on a successful attempt.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failureCount = 0
	case HalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.HalfOpenRequiredSuccesses {
			b.state = Closed
			b.failureCount = 0
			b.halfOpenSuccesses = 0
		}
	}
}

// RecordFailure advances the state machine on a failed attempt.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failureCount++
		if b.failureCount >= b.cfg.Threshold {
			b.state = Open
			b.lastFailureAt = time.Now()
		}
	case HalfOpen:
		b.state = Open
		b.lastFailureAt = time.Now()
		b.halfOpenSuccesses = 0
	}
}

// State returns the breaker's current state, for observability/tests.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Registry holds one Breaker per action key, created on demand and kept for
// the process lifetime of the engine — shared across all runs for the same
// action key, per §5.
type Registry struct {
	mu       sync.RWMutex
	cfg      BreakerConfig
	breakers map[string]*Breaker
}

// NewRegistry builds a breaker registry using cfg for every breaker it
// creates on demand.
func NewRegistry(cfg BreakerConfig) *Registry {
	return &Registry{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// Get returns (creating if necessary) the breaker for the given action key.
func (r *Registry) Get(actionKey string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[actionKey]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[actionKey]; ok {
		return b
	}
	b = newBreaker(r.cfg)
	r.breakers[actionKey] = b
	return b
}
