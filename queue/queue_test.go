package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Queue values
// ---------------------------------------------------------------------------

func TestNew_Defaults(t *testing.T) {
	q := New("general")
	if q.Name != "general" {
		t.Errorf("Name = %q, want %q", q.Name, "general")
	}
	if q.HasBackend() {
		t.Error("expected no backend by default")
	}
	if q.RateLimit != 0 {
		t.Errorf("RateLimit = %v, want 0", q.RateLimit)
	}
}

func TestNew_Options(t *testing.T) {
	q := New("emails", WithBackend("pg"), WithRateLimit(5, 10))
	if !q.HasBackend() || q.Backend != "pg" {
		t.Errorf("Backend = %q, want %q", q.Backend, "pg")
	}
	if q.RateLimit != 5 || q.RateBurst != 10 {
		t.Errorf("rate = (%v, %d), want (5, 10)", q.RateLimit, q.RateBurst)
	}
}

// ---------------------------------------------------------------------------
// Throttle
// ---------------------------------------------------------------------------

func TestThrottle_Unlimited(t *testing.T) {
	th := NewThrottle(New("general"))
	if th.Limited("general") {
		t.Fatal("queue without rate limit should not be limited")
	}
	for range 100 {
		if !th.Allow("general") {
			t.Fatal("unlimited queue should always allow")
		}
	}
	if err := th.Wait(context.Background(), "unknown"); err != nil {
		t.Fatalf("Wait on unknown queue: %v", err)
	}
}

func TestThrottle_Burst(t *testing.T) {
	th := NewThrottle(New("emails", WithRateLimit(1, 2)))

	if !th.Allow("emails") || !th.Allow("emails") {
		t.Fatal("burst of 2 should be allowed")
	}
	if th.Allow("emails") {
		t.Fatal("third call should be throttled")
	}
}

func TestThrottle_DefaultBurst(t *testing.T) {
	th := NewThrottle(New("emails", WithRateLimit(1, 0)))

	if !th.Allow("emails") {
		t.Fatal("first call should be allowed")
	}
	if th.Allow("emails") {
		t.Fatal("burst defaults to 1")
	}
}

func TestThrottle_WaitHonoursContext(t *testing.T) {
	th := NewThrottle(New("slow", WithRateLimit(0.001, 1)))
	if !th.Allow("slow") {
		t.Fatal("first token should be available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := th.Wait(ctx, "slow")
	if err == nil {
		t.Fatal("expected Wait to fail once the context expires")
	}
	if errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected cancellation error: %v", err)
	}
}

func TestThrottle_SetReplacesAndRemoves(t *testing.T) {
	th := NewThrottle()
	th.Set(New("q", WithRateLimit(1, 1)))
	if !th.Limited("q") {
		t.Fatal("expected limiter after Set")
	}
	th.Set(New("q"))
	if th.Limited("q") {
		t.Fatal("expected limiter removed by zero rate")
	}
}
