package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCache(t *testing.T) (*miniredis.Miniredis, *StatusCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewStatusCache(rdb, 30*time.Second)
}

func TestStatusCacheRoundtrip(t *testing.T) {
	_, c := setupCache(t)
	ctx := context.Background()

	_, ok := c.Get(ctx, 5)
	assert.False(t, ok)

	until := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	c.Set(ctx, UserStatus{UserID: 5, OffenseCount: 2, IsBlocked: true, BlockedUntil: &until})

	st, ok := c.Get(ctx, 5)
	require.True(t, ok)
	assert.EqualValues(t, 5, st.UserID)
	assert.Equal(t, 2, st.OffenseCount)
	assert.True(t, st.IsBlocked)
	require.NotNil(t, st.BlockedUntil)
	assert.True(t, st.BlockedUntil.Equal(until))
}

func TestStatusCacheInvalidate(t *testing.T) {
	_, c := setupCache(t)
	ctx := context.Background()

	c.Set(ctx, UserStatus{UserID: 5, OffenseCount: 1})
	c.Invalidate(ctx, 5)

	_, ok := c.Get(ctx, 5)
	assert.False(t, ok)
}

func TestStatusCacheExpires(t *testing.T) {
	mr, c := setupCache(t)
	ctx := context.Background()

	c.Set(ctx, UserStatus{UserID: 5, OffenseCount: 1})
	mr.FastForward(time.Minute)

	_, ok := c.Get(ctx, 5)
	assert.False(t, ok)
}
