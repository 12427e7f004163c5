package paywall

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitBreakerState represents the current state of the circuit breaker.
type CircuitBreakerState string

const (
	CircuitClosed   CircuitBreakerState = "closed"
	CircuitOpen     CircuitBreakerState = "open"
	CircuitHalfOpen CircuitBreakerState = "half_open"
)

var (
	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// CircuitBreaker defines the interface for a circuit breaker.
type CircuitBreaker interface {
	// Execute executes the given function within the circuit breaker.
	Execute(ctx context.Context, fn func() error) error
	// Success records a successful execution.
	Success()
	// Failure records a failed execution.
	Failure(err error)
	// State returns the current state of the circuit breaker.
	State() CircuitBreakerState
}

// DefaultCircuitBreaker counts consecutive failures and opens after a threshold.
// After resetTimeout a single probe call is let through (half-open); concurrent
// callers keep failing fast until the probe reports back.
type DefaultCircuitBreaker struct {
	mu sync.RWMutex

	state               CircuitBreakerState
	failureThreshold    int
	resetTimeout        time.Duration
	consecutiveFailures int
	openedAt            time.Time
	probing             bool

	onStateChange func(state CircuitBreakerState)
}

// NewDefaultCircuitBreaker creates a new default circuit breaker.
func NewDefaultCircuitBreaker(failureThreshold int, resetTimeout time.Duration,
	onStateChange func(state CircuitBreakerState)) *DefaultCircuitBreaker {
	return &DefaultCircuitBreaker{
		state:            CircuitClosed,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		onStateChange:    onStateChange,
	}
}

func (cb *DefaultCircuitBreaker) State() CircuitBreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.effectiveState()
}

func (cb *DefaultCircuitBreaker) effectiveState() CircuitBreakerState {
	if cb.state == CircuitOpen && time.Since(cb.openedAt) >= cb.resetTimeout {
		return CircuitHalfOpen
	}
	return cb.state
}

func (cb *DefaultCircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	err := fn()
	switch {
	case err == nil:
		cb.Success()
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		// caller gave up; says nothing about the dependency
		cb.mu.Lock()
		cb.probing = false
		cb.mu.Unlock()
	default:
		cb.Failure(err)
	}
	return err
}

// admit reserves the half-open probe slot or rejects the call while open
func (cb *DefaultCircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.effectiveState() {
	case CircuitOpen:
		return ErrCircuitOpen
	case CircuitHalfOpen:
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
	}
	return nil
}

func (cb *DefaultCircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	cb.probing = false
	cb.transition(CircuitClosed)
}

func (cb *DefaultCircuitBreaker) Failure(_ error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.probing = false
	cb.state = cb.effectiveState()
	if cb.state == CircuitHalfOpen || (cb.state == CircuitClosed && cb.consecutiveFailures >= cb.failureThreshold) {
		cb.openedAt = time.Now()
		cb.transition(CircuitOpen)
	}
}

func (cb *DefaultCircuitBreaker) transition(next CircuitBreakerState) {
	if cb.state == next {
		return
	}
	cb.state = next
	if cb.onStateChange != nil {
		cb.onStateChange(next)
	}
}
