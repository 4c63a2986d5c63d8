package tools

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(max int) (*ToolRateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	rl := &ToolRateLimiter{
		windows: make(map[string][]time.Time),
		max:     max,
		window:  time.Hour,
		now:     clock.now,
		stop:    make(chan struct{}),
	}
	return rl, clock
}

func TestToolRateLimiter_Disabled(t *testing.T) {
	for _, n := range []int{0, -5} {
		rl, _ := newTestLimiter(n)
		for i := 0; i < 50; i++ {
			if err := rl.Allow("s1"); err != nil {
				t.Fatalf("limit %d: call %d blocked: %v", n, i, err)
			}
		}
		if rl.size() != 0 {
			t.Errorf("limit %d: disabled limiter should not record calls", n)
		}
	}
}

func TestToolRateLimiter_BlockOverLimit(t *testing.T) {
	rl, _ := newTestLimiter(3)
	for i := 0; i < 3; i++ {
		if err := rl.Allow("s1"); err != nil {
			t.Fatalf("call %d should be allowed: %v", i, err)
		}
	}
	err := rl.Allow("s1")
	if err == nil {
		t.Fatal("4th call should be blocked")
	}
	if !strings.Contains(err.Error(), "retry in 1h0m0s") {
		t.Errorf("error = %q, want retry hint", err)
	}
}

func TestToolRateLimiter_SeparateKeys(t *testing.T) {
	rl, _ := newTestLimiter(2)
	rl.Allow("s1")
	rl.Allow("s1")
	if err := rl.Allow("s1"); err == nil {
		t.Error("s1 should be blocked")
	}
	if err := rl.Allow("s2"); err != nil {
		t.Errorf("s2 should be allowed: %v", err)
	}
	if n := len(rl.windows["s2"]); n != 1 {
		t.Errorf("s2 entries = %d, want 1", n)
	}
}

func TestToolRateLimiter_WindowSlides(t *testing.T) {
	rl, clock := newTestLimiter(2)
	rl.Allow("s1")
	clock.advance(30 * time.Minute)
	rl.Allow("s1")

	if err := rl.Allow("s1"); err == nil {
		t.Fatal("should be blocked at limit")
	}

	// The first call leaves the window; the second is still inside it.
	clock.advance(31 * time.Minute)
	if err := rl.Allow("s1"); err != nil {
		t.Errorf("should be allowed after first entry expires: %v", err)
	}
	if err := rl.Allow("s1"); err == nil {
		t.Error("window should be full again")
	}
}

func TestToolRateLimiter_Cleanup(t *testing.T) {
	rl, clock := newTestLimiter(10)
	rl.Allow("old")
	clock.advance(50 * time.Minute)
	rl.Allow("fresh")
	clock.advance(20 * time.Minute)

	rl.Cleanup()

	if _, ok := rl.windows["old"]; ok {
		t.Error("expired key should be removed")
	}
	if n := len(rl.windows["fresh"]); n != 1 {
		t.Errorf("fresh entries = %d, want 1", n)
	}
}

func TestToolRateLimiter_CleanupLoopSweepsExpiredSessions(t *testing.T) {
	rl, clock := newTestLimiter(5)
	for i := 0; i < 100; i++ {
		rl.Allow(fmt.Sprintf("one-shot-%d", i))
	}
	clock.advance(2 * time.Hour)

	go rl.cleanupLoop(5 * time.Millisecond)
	defer rl.Close()

	deadline := time.Now().Add(2 * time.Second)
	for rl.size() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("%d sessions left after cleanup loop", rl.size())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestToolRateLimiter_CloseIsIdempotent(t *testing.T) {
	rl := NewToolRateLimiter(1)
	rl.Close()
	rl.Close()
	var nilLimiter *ToolRateLimiter
	nilLimiter.Close()
}

func TestToolRateLimiter_SetMaxKeepsWindows(t *testing.T) {
	rl, _ := newTestLimiter(2)
	rl.Allow("s1")
	rl.Allow("s1")
	if err := rl.Allow("s1"); err == nil {
		t.Fatal("should be blocked at 2")
	}

	rl.SetMax(3)
	if err := rl.Allow("s1"); err != nil {
		t.Errorf("raised limit should allow a 3rd call: %v", err)
	}
	if err := rl.Allow("s1"); err == nil {
		t.Error("earlier calls should still count after SetMax")
	}
}
