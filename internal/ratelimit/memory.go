package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	window int64
	count  int
}

// MemoryLimiter implements a fixed-window in-memory rate limiter.
type MemoryLimiter struct {
	window time.Duration

	mu       sync.Mutex
	counters map[string]*memoryEntry
}

// NewMemoryLimiter constructs a MemoryLimiter with the given window length.
func NewMemoryLimiter(window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		window:   window,
		counters: make(map[string]*memoryEntry),
	}
}

// Allow checks whether the request should be allowed in the current window.
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, now time.Time) (Result, error) {
	if limit <= 0 || key == "" {
		return Result{Allowed: true}, nil
	}
	idx, reset := windowIndex(now, l.window)

	l.mu.Lock()
	entry := l.counters[key]
	if entry == nil {
		entry = &memoryEntry{window: idx}
		l.counters[key] = entry
	}
	if entry.window != idx {
		entry.window = idx
		entry.count = 0
	}
	if entry.count >= limit {
		l.mu.Unlock()
		return Result{Allowed: false, Remaining: 0, Reset: reset}, nil
	}
	entry.count++
	remaining := limit - entry.count
	l.mu.Unlock()
	return Result{Allowed: true, Remaining: remaining, Reset: reset}, nil
}
