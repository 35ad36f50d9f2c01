package directory

import (
	"fmt"
	"sync"
	"time"
)

// BreakerState represents the current state of a circuit breaker.
type BreakerState int

const (
	// BreakerClosed allows all requests through. Failures are counted.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects all requests immediately.
	BreakerOpen
	// BreakerHalfOpen allows probe requests through.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// minErrorRateSamples is the minimum number of requests in a window before
// the error rate threshold is evaluated.
const minErrorRateSamples = 10

// CircuitBreaker guards a directory service with the usual three states:
// Closed, Open, HalfOpen. It trips on consecutive failures or on the error
// rate within a tumbling window. Safe for concurrent use.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            BreakerState
	failures         int
	successes        int
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	openedAt         time.Time

	errorRateThreshold float64
	errorRateWindow    time.Duration
	windowStart        time.Time
	windowTotal        int
	windowFailures     int
}

// NewCircuitBreaker creates a breaker. failureThreshold trips Closed to Open;
// successThreshold closes from HalfOpen; timeout is how long Open lasts before
// probing. errorRateThreshold/errorRateWindow of zero disable rate tripping.
func NewCircuitBreaker(failureThreshold, successThreshold int, timeout time.Duration,
	errorRateThreshold float64, errorRateWindow time.Duration) *CircuitBreaker {
	if failureThreshold < 1 {
		failureThreshold = 5
	}
	if successThreshold < 1 {
		successThreshold = 2
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CircuitBreaker{
		state:              BreakerClosed,
		failureThreshold:   failureThreshold,
		successThreshold:   successThreshold,
		timeout:            timeout,
		errorRateThreshold: errorRateThreshold,
		errorRateWindow:    errorRateWindow,
		windowStart:        time.Now(),
	}
}

// Allow reports whether a request should go through. It returns an error when
// the circuit is open.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == BreakerOpen {
		if time.Since(cb.openedAt) <= cb.timeout {
			return fmt.Errorf("circuit breaker is open")
		}
		cb.state = BreakerHalfOpen
		cb.successes = 0
	}
	return nil
}

// RecordSuccess records a successful request.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures = 0
		cb.recordWindowCall(false)
	case BreakerHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.state = BreakerClosed
			cb.failures = 0
			cb.successes = 0
			cb.resetWindow()
		}
	}
}

// RecordFailure records a failed request.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures++
		cb.recordWindowCall(true)
		if cb.failures >= cb.failureThreshold || cb.errorRateExceeded() {
			cb.state = BreakerOpen
			cb.openedAt = time.Now()
			cb.resetWindow()
		}
	case BreakerHalfOpen:
		// Any failure in half-open immediately reopens.
		cb.state = BreakerOpen
		cb.openedAt = time.Now()
		cb.successes = 0
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == BreakerOpen && time.Since(cb.openedAt) > cb.timeout {
		cb.state = BreakerHalfOpen
		cb.successes = 0
	}
	return cb.state
}

// Must be called with the lock held.
func (cb *CircuitBreaker) recordWindowCall(isFailure bool) {
	if cb.errorRateWindow <= 0 {
		return
	}
	if time.Since(cb.windowStart) > cb.errorRateWindow {
		cb.resetWindow()
	}
	cb.windowTotal++
	if isFailure {
		cb.windowFailures++
	}
}

// Must be called with the lock held.
func (cb *CircuitBreaker) resetWindow() {
	cb.windowStart = time.Now()
	cb.windowTotal = 0
	cb.windowFailures = 0
}

// Must be called with the lock held.
func (cb *CircuitBreaker) errorRateExceeded() bool {
	if cb.errorRateThreshold <= 0 || cb.errorRateWindow <= 0 {
		return false
	}
	if cb.windowTotal < minErrorRateSamples {
		return false
	}
	return float64(cb.windowFailures)/float64(cb.windowTotal) >= cb.errorRateThreshold
}
