package lock

import (
	"context"
	stderrors "errors"
	"os"
	"testing"
	"time"

	"github.com/inboxpilot/usagecap/internal/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockerExclusive(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	release, err := l.Acquire(ctx, "daily-pass", time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "daily-pass", time.Minute)
	var locked *errors.ErrPassLocked
	require.True(t, stderrors.As(err, &locked))
	assert.Equal(t, "daily-pass", locked.Key)

	// Other keys are independent
	other, err := l.Acquire(ctx, "other", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	require.NoError(t, release(ctx))
	release2, err := l.Acquire(ctx, "daily-pass", time.Minute)
	require.NoError(t, err)
	require.NoError(t, release2(ctx))
}

func TestLocalLockerExpiry(t *testing.T) {
	l := NewLocalLocker()
	now := time.Date(2026, 2, 1, 6, 0, 0, 0, time.UTC)
	l.nowFn = func() time.Time { return now }
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "daily-pass", time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	fresh, err := l.Acquire(ctx, "daily-pass", time.Minute)
	require.NoError(t, err)

	// Releasing the expired holder must not drop the new holder's lock
	require.NoError(t, stale(ctx))
	_, err = l.Acquire(ctx, "daily-pass", time.Minute)
	assert.Error(t, err)

	require.NoError(t, fresh(ctx))
}

func TestRedisLockerConnectionError(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	l := NewRedisLockerWithClient(client, "")
	_, err := l.Acquire(context.Background(), "daily-pass", time.Minute)
	require.Error(t, err)

	var locked *errors.ErrPassLocked
	assert.False(t, stderrors.As(err, &locked))
}

func TestRedisLockerIntegration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	ctx := context.Background()
	l, err := NewRedisLocker(ctx, RedisConfig{Addr: addr, Prefix: "usagecap:test:"})
	require.NoError(t, err)
	defer l.Close()

	release, err := l.Acquire(ctx, "daily-pass", 10*time.Second)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "daily-pass", 10*time.Second)
	var locked *errors.ErrPassLocked
	require.True(t, stderrors.As(err, &locked))

	require.NoError(t, release(ctx))
	release2, err := l.Acquire(ctx, "daily-pass", 10*time.Second)
	require.NoError(t, err)
	require.NoError(t, release2(ctx))
}
