package chat

import (
	"testing"
	"time"
)

func TestRateLimiterRejectsBurst(t *testing.T) {
	rl := NewRateLimiter(60, 3)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !rl.Allow("device_a") {
			t.Fatalf("request %d rejected within burst", i)
		}
	}
	if rl.Allow("device_a") {
		t.Fatal("request beyond burst allowed")
	}
	if !rl.Allow("device_b") {
		t.Fatal("other actor throttled")
	}

	now = now.Add(time.Second)
	if !rl.Allow("device_a") {
		t.Fatal("token not refilled after one second")
	}
}

func TestRateLimiterDropsIdleEntries(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }
	rl.lastCleanup = now

	rl.Allow("device_a")
	now = now.Add(20 * time.Minute)
	rl.Allow("device_b")

	if rl.Len() != 1 {
		t.Fatalf("entries = %d, want 1", rl.Len())
	}
}

func TestRateLimiterNilAndEmptyKey(t *testing.T) {
	var rl *RateLimiter
	if !rl.Allow("device_a") {
		t.Error("nil limiter must allow")
	}
	if !NewRateLimiter(1, 1).Allow("") {
		t.Error("empty key must be allowed")
	}
}
