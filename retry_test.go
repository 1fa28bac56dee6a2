package flowmesh

import (
	"testing"
	"time"
)

func TestRetry_Defaults(t *testing.T) {
	p := Retry(3).Policy()
	if p.MaxAttempts != 3 {
		t.Fatalf("expected MaxAttempts 3, got %d", p.MaxAttempts)
	}
}

func TestRetry_NonPositiveMaxAttemptsClampedToOne(t *testing.T) {
	p := Retry(0).Policy()
	if p.MaxAttempts != 1 {
		t.Fatalf("expected MaxAttempts clamped to 1, got %d", p.MaxAttempts)
	}

	p = Retry(-5).Policy()
	if p.MaxAttempts != 1 {
		t.Fatalf("expected MaxAttempts clamped to 1, got %d", p.MaxAttempts)
	}
}

func TestRetry_WithExponentialBackoff(t *testing.T) {
	p := Retry(5).WithExponentialBackoff(100*time.Millisecond, 3.0, 2*time.Second).Policy()
	if p.InitialBackoff != 100*time.Millisecond {
		t.Fatalf("expected InitialBackoff 100ms, got %v", p.InitialBackoff)
	}
	if p.BackoffMultiplier != 3.0 {
		t.Fatalf("expected multiplier 3.0, got %v", p.BackoffMultiplier)
	}
	if p.MaxBackoff != 2*time.Second {
		t.Fatalf("expected MaxBackoff 2s, got %v", p.MaxBackoff)
	}
}

func TestRetry_WithExponentialBackoffDefaultsMultiplier(t *testing.T) {
	p := Retry(5).WithExponentialBackoff(time.Second, 0, 0).Policy()
	if p.BackoffMultiplier != 2.0 {
		t.Fatalf("expected default multiplier 2.0, got %v", p.BackoffMultiplier)
	}
}

func TestRetry_WithConstantBackoff(t *testing.T) {
	p := Retry(3).WithConstantBackoff(500 * time.Millisecond).Policy()
	if p.InitialBackoff != 500*time.Millisecond {
		t.Fatalf("expected InitialBackoff 500ms, got %v", p.InitialBackoff)
	}
	if p.MaxBackoff != 0 {
		t.Fatalf("expected MaxBackoff 0, got %v", p.MaxBackoff)
	}
	if p.BackoffMultiplier != 1.0 {
		t.Fatalf("expected multiplier 1.0, got %v", p.BackoffMultiplier)
	}
}

func TestRetry_Immediate(t *testing.T) {
	p := Retry(3).WithExponentialBackoff(time.Second, 2, time.Minute).Immediate().Policy()
	if p.InitialBackoff != 0 || p.MaxBackoff != 0 || p.BackoffMultiplier != 0 {
		t.Fatalf("expected zeroed backoff after Immediate, got %+v", p)
	}
	if p.MaxAttempts != 3 {
		t.Fatalf("expected MaxAttempts preserved at 3, got %d", p.MaxAttempts)
	}
}
