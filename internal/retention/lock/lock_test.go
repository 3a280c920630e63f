package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmaudit/pkg/platform/sentinel"
)

func TestRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()
	l := NewRedis(client, "")

	g, err := l.Acquire(ctx, "retention", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("pharmaudit:lock:retention"))
	assert.Equal(t, time.Minute, mr.TTL("pharmaudit:lock:retention"))

	_, err = l.Acquire(ctx, "retention", time.Minute)
	assert.ErrorIs(t, err, sentinel.ErrLocked)

	assert.ErrorIs(t, l.Release(ctx, &Guard{Key: "retention", Token: "someone-else"}), ErrNotHeld)
	require.NoError(t, l.Release(ctx, g))
	assert.False(t, mr.Exists("pharmaudit:lock:retention"))

	g, err = l.Acquire(ctx, "retention", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)
	assert.ErrorIs(t, l.Release(ctx, g), ErrNotHeld, "expired lock is no longer ours")

	_, err = l.Acquire(ctx, "retention", time.Minute)
	assert.NoError(t, err)
}

func TestRedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	_, err := NewRedis(client, "test").Acquire(context.Background(), "retention", time.Minute)
	require.Error(t, err)
	assert.NotErrorIs(t, err, sentinel.ErrLocked)
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemory()
	l.now = func() time.Time { return now }

	g, err := l.Acquire(ctx, "retention", time.Minute)
	require.NoError(t, err)
	_, err = l.Acquire(ctx, "retention", time.Minute)
	assert.ErrorIs(t, err, sentinel.ErrLocked)

	_, err = l.Acquire(ctx, "other", time.Minute)
	assert.NoError(t, err, "keys are independent")

	require.NoError(t, l.Release(ctx, g))
	assert.ErrorIs(t, l.Release(ctx, g), ErrNotHeld)

	g, err = l.Acquire(ctx, "retention", time.Minute)
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)
	_, err = l.Acquire(ctx, "retention", time.Minute)
	assert.NoError(t, err, "expired locks can be taken over")
	assert.ErrorIs(t, l.Release(ctx, g), ErrNotHeld)
}
