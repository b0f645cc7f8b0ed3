package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/beyanname/internal/cache"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newMemoryCache() (*cache.MemoryCache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 3, 31, 9, 0, 0, 0, time.UTC)}
	mc := cache.NewMemoryCache()
	mc.SetClock(clock.now)
	return mc, clock
}

func TestMemoryCache_SetGetExpiry(t *testing.T) {
	mc, clock := newMemoryCache()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "k", []byte("v"), time.Second))
	val, found, err := mc.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), val)

	clock.advance(time.Second)
	_, found, err = mc.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryCache_NoTTL(t *testing.T) {
	mc, clock := newMemoryCache()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "k", []byte("v"), 0))
	clock.advance(24 * time.Hour)
	_, found, err := mc.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestMemoryCache_ValuesAreCopied(t *testing.T) {
	mc, _ := newMemoryCache()
	ctx := context.Background()

	buf := []byte("abc")
	require.NoError(t, mc.Set(ctx, "k", buf, time.Minute))
	buf[0] = 'x'

	val, _, _ := mc.Get(ctx, "k")
	assert.Equal(t, "abc", string(val))
}

func TestMemoryCache_JobStatusIsOwnerScoped(t *testing.T) {
	mc, _ := newMemoryCache()
	ctx := context.Background()

	require.NoError(t, mc.SetJobStatus(ctx, "owner-a", "job-1", []byte("snap"), time.Minute))

	_, found, err := mc.GetJobStatus(ctx, "owner-b", "job-1")
	require.NoError(t, err)
	assert.False(t, found)

	snap, found, err := mc.GetJobStatus(ctx, "owner-a", "job-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "snap", string(snap))

	require.NoError(t, mc.InvalidateJobStatus(ctx, "owner-a", "job-1"))
	_, found, _ = mc.GetJobStatus(ctx, "owner-a", "job-1")
	assert.False(t, found)
}

func TestMemoryCache_IncrWithExpiry(t *testing.T) {
	mc, clock := newMemoryCache()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := mc.IncrWithExpiry(ctx, "rl", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	clock.advance(time.Minute)
	n, err := mc.IncrWithExpiry(ctx, "rl", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemoryCache_TryLock(t *testing.T) {
	mc, clock := newMemoryCache()
	ctx := context.Background()

	ok, err := mc.TryLock(ctx, "lock", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = mc.TryLock(ctx, "lock", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	clock.advance(time.Minute)
	ok, err = mc.TryLock(ctx, "lock", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
