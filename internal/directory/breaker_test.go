package directory

import (
	"testing"
	"time"
)

func TestBreakerTripsOnConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(3, 2, time.Minute, 0, 0)

	for i := 0; i < 3; i++ {
		if err := cb.Allow(); err != nil {
			t.Fatalf("Allow() failed while closed: %v", err)
		}
		cb.RecordFailure()
	}

	if cb.State() != BreakerOpen {
		t.Errorf("State() = %v, want open", cb.State())
	}
	if err := cb.Allow(); err == nil {
		t.Error("Allow() = nil while open")
	}
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(3, 2, time.Minute, 0, 0)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.State() != BreakerClosed {
		t.Errorf("State() = %v, want closed", cb.State())
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker(1, 2, 10*time.Millisecond, 0, 0)

	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Fatalf("State() = %v, want open", cb.State())
	}

	time.Sleep(20 * time.Millisecond)
	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() after timeout = %v, want probe allowed", err)
	}
	if cb.State() != BreakerHalfOpen {
		t.Fatalf("State() = %v, want half-open", cb.State())
	}

	cb.RecordSuccess()
	cb.RecordSuccess()
	if cb.State() != BreakerClosed {
		t.Errorf("State() = %v, want closed after probes", cb.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, 2, 10*time.Millisecond, 0, 0)

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	if err := cb.Allow(); err != nil {
		t.Fatal(err)
	}

	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Errorf("State() = %v, want open after half-open failure", cb.State())
	}
}

func TestBreakerErrorRateTrip(t *testing.T) {
	cb := NewCircuitBreaker(100, 2, time.Minute, 0.5, time.Minute)

	// 10 calls at 60% failure rate trips the breaker.
	for i := 0; i < 4; i++ {
		cb.RecordSuccess()
	}
	for i := 0; i < 6; i++ {
		cb.RecordFailure()
	}

	if cb.State() != BreakerOpen {
		t.Errorf("State() = %v, want open on error rate", cb.State())
	}
}
