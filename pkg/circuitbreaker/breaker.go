// Package circuitbreaker stops calling a bridge provider after repeated failures.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/speedrun-hq/offramp-settler/pkg/logger"
	"github.com/speedrun-hq/offramp-settler/pkg/metrics"
)

// State of a breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	// StateHalfOpen lets a single trial call through
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Stats is a point in time view of a breaker
type Stats struct {
	State     State
	Failures  int
	TrippedAt time.Time
}

// CircuitBreaker guards one bridge provider. Failures inside the window trip it
// open; after the reset timeout one trial call is allowed and its outcome closes or
// reopens the circuit.
type CircuitBreaker struct {
	provider     string
	enabled      bool
	threshold    int
	window       time.Duration
	resetTimeout time.Duration
	logger       logger.Logger
	now          func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	trippedAt   time.Time
	trialAt     time.Time
}

// NewCircuitBreaker creates a closed breaker for provider
func NewCircuitBreaker(
	provider string,
	enabled bool,
	threshold int,
	window time.Duration,
	resetTimeout time.Duration,
	log logger.Logger,
) *CircuitBreaker {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	if threshold < 1 {
		threshold = 1
	}
	return &CircuitBreaker{
		provider:     provider,
		enabled:      enabled,
		threshold:    threshold,
		window:       window,
		resetTimeout: resetTimeout,
		logger:       log,
		now:          time.Now,
	}
}

// Name returns the guarded provider
func (cb *CircuitBreaker) Name() string {
	return cb.provider
}

// Allow reports whether a call may go to the provider. In the half-open state
// only one trial call is let through per reset timeout.
func (cb *CircuitBreaker) Allow() bool {
	if !cb.enabled {
		return true
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	cb.advance(now)

	switch cb.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if !cb.trialAt.IsZero() && now.Sub(cb.trialAt) <= cb.resetTimeout {
			return false
		}
		cb.trialAt = now
		cb.logger.Debug("Circuit breaker %s: probing provider", cb.provider)
		return true
	default:
		return false
	}
}

// RecordFailure counts a failed call and reports whether the circuit is now open
func (cb *CircuitBreaker) RecordFailure() bool {
	if !cb.enabled {
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	cb.advance(now)

	switch cb.state {
	case StateOpen:
		return true
	case StateHalfOpen:
		cb.logger.Notice("Circuit breaker %s: trial call failed, reopening", cb.provider)
		cb.trip(now)
		return true
	}

	if now.Sub(cb.lastFailure) > cb.window {
		cb.failures = 0
	}
	cb.failures++
	cb.lastFailure = now

	if cb.failures >= cb.threshold {
		cb.logger.Notice("Circuit breaker %s tripped: %d failures within %s", cb.provider, cb.failures, cb.window)
		cb.trip(now)
		return true
	}
	return false
}

// RecordSuccess closes the circuit and clears the failure count
func (cb *CircuitBreaker) RecordSuccess() {
	if !cb.enabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateClosed {
		cb.logger.Info("Circuit breaker %s closed after successful call", cb.provider)
	}
	cb.close()
}

// IsOpen reports whether calls are currently refused. A half-open breaker is not open.
func (cb *CircuitBreaker) IsOpen() bool {
	if !cb.enabled {
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance(cb.now())
	return cb.state == StateOpen
}

// Reset closes the circuit regardless of its state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.logger.Info("Circuit breaker %s reset", cb.provider)
	cb.close()
}

// Stats returns the current state of the breaker
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance(cb.now())
	return Stats{State: cb.state, Failures: cb.failures, TrippedAt: cb.trippedAt}
}

// advance moves an open breaker to half-open once the reset timeout passed. cb.mu must be held.
func (cb *CircuitBreaker) advance(now time.Time) {
	if cb.state == StateOpen && now.Sub(cb.trippedAt) > cb.resetTimeout {
		cb.state = StateHalfOpen
		cb.trialAt = time.Time{}
		metrics.CircuitBreakerOpen.WithLabelValues(cb.provider).Set(0)
	}
}

func (cb *CircuitBreaker) trip(now time.Time) {
	cb.state = StateOpen
	cb.trippedAt = now
	cb.trialAt = time.Time{}
	metrics.CircuitBreakerOpen.WithLabelValues(cb.provider).Set(1)
}

func (cb *CircuitBreaker) close() {
	cb.state = StateClosed
	cb.failures = 0
	cb.trialAt = time.Time{}
	metrics.CircuitBreakerOpen.WithLabelValues(cb.provider).Set(0)
}
