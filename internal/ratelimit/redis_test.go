package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type evalCall struct {
	key string
	ttl time.Duration
}

// mockCmdable runs the increment script against in-memory counters.
type mockCmdable struct {
	counts  map[string]int64
	ttls    map[string]time.Duration
	evals   []evalCall
	evalErr error
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{counts: make(map[string]int64), ttls: make(map[string]time.Duration)}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Eval(_ context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	if m.evalErr != nil {
		return redis.NewCmdResult(nil, m.evalErr)
	}
	if script != incrWithTTLScript || len(keys) != 1 || len(args) != 1 {
		return redis.NewCmdResult(nil, errors.New("unexpected eval"))
	}
	key := keys[0]
	ttl := time.Duration(args[0].(int64)) * time.Millisecond
	m.evals = append(m.evals, evalCall{key: key, ttl: ttl})

	m.counts[key]++
	if _, ok := m.ttls[key]; !ok {
		m.ttls[key] = ttl
	}
	return redis.NewCmdResult(m.counts[key], nil)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestRedisLimiterFixedWindow(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	l := newRedisLimiter(mock, "imports", Window{Limit: 2, Period: time.Minute})
	l.now = fixedClock(time.Date(2026, 3, 1, 10, 0, 45, 0, time.UTC))

	d, err := l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(1), d.Remaining)
	require.Len(t, mock.evals, 1)
	assert.Equal(t, time.Minute, mock.evals[0].ttl)

	d, err = l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(0), d.Remaining)
	assert.Len(t, mock.ttls, 1)

	d, err = l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 15*time.Second, d.RetryAfter)
}

func TestRedisLimiterKeysPerClientAndWindow(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	l := newRedisLimiter(mock, "imports", Window{Limit: 1, Period: time.Minute})
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	l.now = fixedClock(now)

	d, err := l.Allow(ctx, "a")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = l.Allow(ctx, "b")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "clients have separate counters")

	l.now = fixedClock(now.Add(time.Minute))
	d, err = l.Allow(ctx, "a")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "a new window starts a new counter")

	assert.Equal(t, "catalog:rate_limit:imports:a:1772359200", l.key("a", now))
}

func TestRedisLimiterError(t *testing.T) {
	mock := newMockCmdable()
	mock.evalErr = errors.New("connection refused")
	l := newRedisLimiter(mock, "imports", PerMinute(5))

	_, err := l.Allow(context.Background(), "a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit imports")
}

func TestRedisLimiterRestoresLostTTL(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	l := newRedisLimiter(mock, "api", PerMinute(5))
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	l.now = fixedClock(now)

	_, err := l.Allow(ctx, "a")
	require.NoError(t, err)

	// A key whose expiry was never applied gets one on the next hit.
	key := l.key("a", now)
	delete(mock.ttls, key)
	_, err = l.Allow(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, mock.ttls[key])
	assert.Equal(t, int64(2), mock.counts[key])
	for _, c := range mock.evals {
		assert.Equal(t, time.Minute, c.ttl, "every hit carries the window TTL")
	}
}

func TestClientOptions(t *testing.T) {
	opts, err := clientOptions(RedisOptions{URL: "redis://:secret@localhost:6380/2", ReadTimeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, "localhost:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, time.Second, opts.ReadTimeout)

	opts, err = clientOptions(RedisOptions{Addr: "cache:6379"})
	require.NoError(t, err)
	assert.Equal(t, "cache:6379", opts.Addr)

	_, err = clientOptions(RedisOptions{})
	assert.Error(t, err)
}
