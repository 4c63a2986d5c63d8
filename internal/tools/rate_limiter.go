package tools

import (
	"fmt"
	"sync"
	"time"
)

const toolLimiterCleanupInterval = 10 * time.Minute

// ToolRateLimiter is a sliding-window limiter on tool calls per session.
// A limit <= 0 allows everything. Expired sessions are swept periodically
// until Close.
type ToolRateLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	max     int
	window  time.Duration
	now     func() time.Time

	stop chan struct{}
	once sync.Once
}

// NewToolRateLimiter allows maxPerHour tool calls per key.
func NewToolRateLimiter(maxPerHour int) *ToolRateLimiter {
	rl := &ToolRateLimiter{
		windows: make(map[string][]time.Time),
		max:     maxPerHour,
		window:  time.Hour,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go rl.cleanupLoop(toolLimiterCleanupInterval)
	return rl
}

// Allow records a call for key, or returns an error if the window is full.
func (rl *ToolRateLimiter) Allow(key string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.max <= 0 {
		return nil
	}
	now := rl.now()
	entries := prune(rl.windows[key], now.Add(-rl.window))
	if len(entries) >= rl.max {
		rl.windows[key] = entries
		retry := entries[0].Add(rl.window).Sub(now).Round(time.Second)
		return fmt.Errorf("tool rate limit exceeded: %d calls/hour for this session, retry in %s", rl.max, retry)
	}
	rl.windows[key] = append(entries, now)
	return nil
}

// SetMax changes the limit without dropping recorded calls.
func (rl *ToolRateLimiter) SetMax(maxPerHour int) {
	rl.mu.Lock()
	rl.max = maxPerHour
	rl.mu.Unlock()
}

// Cleanup drops keys whose entries have all expired.
func (rl *ToolRateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.window)
	for key, entries := range rl.windows {
		if kept := prune(entries, cutoff); len(kept) == 0 {
			delete(rl.windows, key)
		} else {
			rl.windows[key] = kept
		}
	}
}

// Close stops the cleanup loop.
func (rl *ToolRateLimiter) Close() {
	if rl == nil {
		return
	}
	rl.once.Do(func() { close(rl.stop) })
}

func (rl *ToolRateLimiter) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.Cleanup()
		case <-rl.stop:
			return
		}
	}
}

func (rl *ToolRateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.windows)
}

func prune(entries []time.Time, cutoff time.Time) []time.Time {
	start := 0
	for start < len(entries) && entries[start].Before(cutoff) {
		start++
	}
	return entries[start:]
}
