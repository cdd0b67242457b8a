// Package ratelimit implements fixed-window request limiting keyed by
// client identity, in memory or in Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Result is the outcome of one Allow call.
type Result struct {
	Allowed    bool
	Remaining  int
	Limit      int
	RetryAfter time.Duration
}

// Limiter counts requests per client in fixed windows.
type Limiter interface {
	Allow(ctx context.Context, clientID string, max int, window time.Duration) (Result, error)
}

// Key returns the counter key for clientID in the window containing now.
func Key(clientID string, now time.Time, window time.Duration) string {
	return fmt.Sprintf("ratelimit:%s:%d", clientID, bucket(now, window))
}

func bucket(now time.Time, window time.Duration) int64 {
	secs := int64(window / time.Second)
	if secs <= 0 {
		secs = 1
	}
	return now.Unix() / secs
}

func result(count int64, max int, window time.Duration) Result {
	remaining := max - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:    count <= int64(max),
		Remaining:  remaining,
		Limit:      max,
		RetryAfter: window,
	}
}
