// SPDX-License-Identifier: Apache-2.0
// Package resilience provides retry, timeout and circuit breaker helpers used
// around capability handlers and remote collaborators.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/jllopis/sinp/pkg/errors"
)

// CircuitBreakerState represents the state of a circuit breaker.
type CircuitBreakerState string

const (
	// StateClosed means calls flow normally.
	StateClosed CircuitBreakerState = "closed"

	// StateOpen means calls are rejected without running.
	StateOpen CircuitBreakerState = "open"

	// StateHalfOpen means a limited number of trial calls are allowed.
	StateHalfOpen CircuitBreakerState = "half-open"
)

// Availability values reported per breaker state.
const (
	AvailabilityClosed   = 1.0
	AvailabilityHalfOpen = 0.5
	AvailabilityOpen     = 0.0
)

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int

	// SuccessThreshold is the number of successes in half-open before closing.
	SuccessThreshold int

	// Timeout is how long the breaker stays open before going half-open.
	Timeout time.Duration

	// Name identifies the breaker in errors and logs, usually a capability id.
	Name string

	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// CircuitBreaker tracks consecutive failures of one dependency.
type CircuitBreaker struct {
	config       CircuitBreakerConfig
	state        CircuitBreakerState
	failures     int
	successes    int
	lastFailTime time.Time
	mu           sync.Mutex
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold < 1 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold < 1 {
		config.SuccessThreshold = 2
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Name == "" {
		config.Name = "circuit_breaker"
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &CircuitBreaker{config: config, state: StateClosed}
}

// Call runs fn when the breaker allows it and records the outcome. An open
// breaker returns CodeResourceUnavailable without running fn.
//
// The lock is not held while fn runs, so slow handlers do not serialize
// unrelated callers.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func() error) error {
	cb.mu.Lock()
	cb.advance()
	if cb.state == StateOpen {
		cb.mu.Unlock()
		return errors.New(errors.CodeResourceUnavailable, "circuit breaker open", nil).
			WithContext("breaker", cb.config.Name).
			WithRecoverable(true)
	}
	cb.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return errors.New(errors.CodeTimeout, "context done before call", err)
	}

	err := fn()
	cb.record(err)
	return err
}

// Availability maps the breaker state to A(res): closed 1, half-open 0.5,
// open 0.
func (cb *CircuitBreaker) Availability() float64 {
	switch cb.State() {
	case StateOpen:
		return AvailabilityOpen
	case StateHalfOpen:
		return AvailabilityHalfOpen
	default:
		return AvailabilityClosed
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.lastFailTime = cb.config.Now()
		switch cb.state {
		case StateHalfOpen:
			cb.trip()
		case StateClosed:
			if cb.failures >= cb.config.FailureThreshold {
				cb.trip()
			}
		}
		return
	}

	switch cb.state {
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.state = StateClosed
			cb.failures = 0
			cb.successes = 0
		}
	case StateClosed:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.failures = 0
	cb.successes = 0
}

// advance moves an open breaker to half-open once the timeout elapsed.
// Must be called under lock.
func (cb *CircuitBreaker) advance() {
	if cb.state == StateOpen && cb.config.Now().Sub(cb.lastFailTime) > cb.config.Timeout {
		cb.state = StateHalfOpen
		cb.successes = 0
		cb.failures = 0
	}
}

// State returns the current state, applying the open timeout first.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance()
	return cb.state
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
}

// Open forces the breaker open, as if it had just failed.
func (cb *CircuitBreaker) Open() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateOpen
	cb.lastFailTime = cb.config.Now()
}
