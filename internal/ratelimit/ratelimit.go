// Package ratelimit throttles import requests per client.
//
// The Redis-backed limiter applies a fixed window shared by every server
// instance. The local limiter is an in-process token bucket used when Redis
// is not configured.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	RetryAfter time.Duration // Zero when Allowed
}

// Limiter decides whether the caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Window is a fixed-window quota.
type Window struct {
	Limit  int64
	Period time.Duration
}

// PerMinute returns a window allowing n requests each minute.
func PerMinute(n int) Window {
	return Window{Limit: int64(n), Period: time.Minute}
}

// Nop allows everything.
type Nop struct{}

// Allow implements Limiter.
func (Nop) Allow(context.Context, string) (Decision, error) {
	return Decision{Allowed: true}, nil
}

// ErrLimited is reported to clients whose quota is exhausted.
var ErrLimited = errors.New("rate limit exceeded")
