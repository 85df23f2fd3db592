package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleTTL is how long an unused bucket is kept before pruning.
const idleTTL = 10 * time.Minute

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalLimiter keeps one token bucket per key in memory. The bucket holds
// window.Limit tokens and refills evenly over window.Period.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	now     func() time.Time
	pruned  time.Time
}

// NewLocalLimiter creates an in-process limiter.
func NewLocalLimiter(window Window) *LocalLimiter {
	if window.Period <= 0 {
		window.Period = time.Minute
	}
	burst := max(1, int(window.Limit))
	return &LocalLimiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Every(window.Period / time.Duration(burst)),
		burst:   burst,
		now:     time.Now,
	}
}

// Allow implements Limiter.
func (l *LocalLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(now)
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	d := Decision{Limit: int64(l.burst)}
	if b.limiter.AllowN(now, 1) {
		d.Allowed = true
	} else {
		r := b.limiter.ReserveN(now, 1)
		d.RetryAfter = r.DelayFrom(now)
		r.CancelAt(now)
	}
	d.Remaining = max(0, int64(b.limiter.TokensAt(now)))
	return d, nil
}

// prune drops buckets idle for longer than idleTTL. Caller holds mu.
func (l *LocalLimiter) prune(now time.Time) {
	if now.Sub(l.pruned) < idleTTL {
		return
	}
	l.pruned = now
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > idleTTL {
			delete(l.buckets, key)
		}
	}
}
