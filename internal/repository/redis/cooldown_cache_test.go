package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verification-service/internal/client"
)

func newTestCooldown(t *testing.T) (*CooldownCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rc := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	return NewCooldownCache(client.NewRedisClientFromExisting(rc)), mr
}

func TestCooldown_AcquireBlocksSecond(t *testing.T) {
	cache, _ := newTestCooldown(t)
	ctx := context.Background()

	ok, err := cache.TryAcquire(ctx, "user@example.com", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cache.TryAcquire(ctx, "user@example.com", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCooldown_ExpiresWithTTL(t *testing.T) {
	cache, mr := newTestCooldown(t)
	ctx := context.Background()

	ok, err := cache.TryAcquire(ctx, "user@example.com", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(time.Minute + time.Second)

	ok, err = cache.TryAcquire(ctx, "user@example.com", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCooldown_Clear(t *testing.T) {
	cache, _ := newTestCooldown(t)
	ctx := context.Background()

	ok, err := cache.TryAcquire(ctx, "user@example.com", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, cache.Clear(ctx, "user@example.com"))

	ok, err = cache.TryAcquire(ctx, "user@example.com", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCooldown_AddressesAreIndependent(t *testing.T) {
	cache, _ := newTestCooldown(t)
	ctx := context.Background()

	ok, err := cache.TryAcquire(ctx, "alice@example.com", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = cache.TryAcquire(ctx, "bob@example.com", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
