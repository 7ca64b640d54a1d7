package handler

import (
	"testing"
	"time"
)

func TestRateLimiter_ForgetIdle(t *testing.T) {
	rl := NewRateLimiter(10, 1)
	defer rl.Close()

	clock := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return clock }

	rl.obtainLimiter("10.0.0.1")
	clock = clock.Add(4 * time.Minute)
	rl.obtainLimiter("10.0.0.2")
	clock = clock.Add(2 * time.Minute)

	rl.forgetIdle()

	rl.mu.Lock()
	_, firstKept := rl.visitors["10.0.0.1"]
	_, secondKept := rl.visitors["10.0.0.2"]
	rl.mu.Unlock()

	if firstKept {
		t.Error("client idle for 6m should be forgotten")
	}
	if !secondKept {
		t.Error("client idle for 2m should be kept")
	}
}

func TestRateLimiter_ObtainDoesNotSweep(t *testing.T) {
	rl := NewRateLimiter(10, 1)
	defer rl.Close()

	clock := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return clock }

	first := rl.obtainLimiter("10.0.0.1")
	clock = clock.Add(time.Hour)
	rl.obtainLimiter("10.0.0.2")

	if got := rl.obtainLimiter("10.0.0.1"); got != first {
		t.Error("a request must reuse the client's bucket until the sweeper runs")
	}
}

func TestRateLimiter_CloseIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(10, 1)
	rl.Close()
	rl.Close()

	select {
	case <-rl.stop:
	default:
		t.Fatal("expected the stop channel to be closed")
	}
}
