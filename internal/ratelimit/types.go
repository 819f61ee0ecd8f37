// Package ratelimit throttles secret-code submissions per reservation with a
// fixed-window counter, in memory by default or in Redis when configured.
package ratelimit

import (
	"context"
	"time"
)

// Result describes the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Remaining int
	Reset     time.Time
}

// Limiter provides rate limit checks.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, now time.Time) (Result, error)
}

// windowIndex buckets now into fixed windows of the given length.
func windowIndex(now time.Time, window time.Duration) (int64, time.Time) {
	seconds := int64(window / time.Second)
	if seconds <= 0 {
		seconds = 1
	}
	idx := now.Unix() / seconds
	reset := time.Unix((idx+1)*seconds, 0).UTC()
	return idx, reset
}
