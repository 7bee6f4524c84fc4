package resilience

import (
	"testing"
	"time"
)

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker(time.Second, 4, 4, 0.5, 50*time.Millisecond, 1)
	cb.adaptive = false

	for i := 0; i < 4; i++ {
		if !cb.Allow() {
			t.Fatalf("expected closed breaker to allow request %d", i)
		}
		cb.RecordResult(false)
	}
	if cb.State() != "open" {
		t.Fatalf("expected breaker to open after sustained failures, got %s", cb.State())
	}
	if cb.Allow() {
		t.Fatalf("expected open breaker to deny requests")
	}
}

func TestCircuitBreakerHalfOpenRecovers(t *testing.T) {
	cb := NewCircuitBreaker(time.Second, 4, 2, 0.5, 10*time.Millisecond, 1)
	cb.adaptive = false
	cb.RecordResult(false)
	cb.RecordResult(false)
	if cb.State() != "open" {
		t.Fatalf("expected open, got %s", cb.State())
	}

	time.Sleep(20 * time.Millisecond)
	if !cb.Allow() {
		t.Fatalf("expected half-open probe to be allowed")
	}
	cb.RecordResult(true)
	if cb.State() != "closed" {
		t.Fatalf("expected breaker to close after successful probe, got %s", cb.State())
	}
}
