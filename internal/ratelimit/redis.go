package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyNamespace = "catalog"

type cmdable interface {
	Ping(context.Context) *redis.StatusCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// incrWithTTLScript increments KEYS[1] and sets its TTL (ARGV[1] ms) when the
// key is new or has lost its expiry, in one atomic step.
const incrWithTTLScript = `
local n = redis.call('INCR', KEYS[1])
if n == 1 or redis.call('PTTL', KEYS[1]) == -1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n`

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	URL          string // redis:// URL; takes precedence over Addr
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Connect opens a Redis client and verifies connectivity.
func Connect(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	ro, err := clientOptions(opts)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(ro)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func clientOptions(opts RedisOptions) (*redis.Options, error) {
	var ro *redis.Options
	if opts.URL != "" {
		parsed, err := redis.ParseURL(opts.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		ro = parsed
	} else {
		if opts.Addr == "" {
			return nil, errors.New("redis address is required")
		}
		ro = &redis.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB}
	}
	if opts.DialTimeout > 0 {
		ro.DialTimeout = opts.DialTimeout
	}
	if opts.ReadTimeout > 0 {
		ro.ReadTimeout = opts.ReadTimeout
	}
	if opts.WriteTimeout > 0 {
		ro.WriteTimeout = opts.WriteTimeout
	}
	return ro, nil
}

// RedisLimiter is a fixed-window limiter whose counters live in Redis.
// Each key gets one counter per window, expiring with the window.
type RedisLimiter struct {
	store  cmdable
	scope  string
	window Window
	now    func() time.Time
}

// NewRedisLimiter creates a limiter for scope, e.g. "imports".
func NewRedisLimiter(client *redis.Client, scope string, window Window) *RedisLimiter {
	return newRedisLimiter(client, scope, window)
}

func newRedisLimiter(store cmdable, scope string, window Window) *RedisLimiter {
	if window.Period <= 0 {
		window.Period = time.Minute
	}
	return &RedisLimiter{store: store, scope: scope, window: window, now: time.Now}
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := l.now()
	start := now.Truncate(l.window.Period)

	count, err := l.incrWithTTL(ctx, l.key(key, start), l.window.Period)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", l.scope, err)
	}

	d := Decision{
		Allowed:   count <= l.window.Limit,
		Limit:     l.window.Limit,
		Remaining: max(0, l.window.Limit-count),
	}
	if !d.Allowed {
		d.RetryAfter = start.Add(l.window.Period).Sub(now)
	}
	return d, nil
}

// incrWithTTL increments key and makes sure it expires after ttl.
func (l *RedisLimiter) incrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return l.store.Eval(ctx, incrWithTTLScript, []string{key}, ttl.Milliseconds()).Int64()
}

// Ping checks the Redis connection.
func (l *RedisLimiter) Ping(ctx context.Context) error {
	return l.store.Ping(ctx).Err()
}

func (l *RedisLimiter) key(id string, start time.Time) string {
	parts := []string{keyNamespace, "rate_limit", l.scope, id, strconv.FormatInt(start.Unix(), 10)}
	return strings.Join(parts, ":")
}
