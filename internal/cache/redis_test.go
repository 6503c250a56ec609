package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/resource/config"
	"example.com/backstage/services/resource/internal/models"
)

func newMiniredisCache(t *testing.T, ttl time.Duration) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), ttl)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestDisabledCache(t *testing.T) {
	c, err := NewRedisCache(config.RedisConfig{Enabled: false})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.GetResource(ctx, 1)
	assert.ErrorIs(t, err, ErrCacheMiss)

	assert.NoError(t, c.FillResource(ctx, &models.ResourceResponse{ID: 1}))
	assert.NoError(t, c.InvalidateResource(ctx, 1, 2))
	assert.NoError(t, c.EvictResource(ctx, 1))
	assert.NoError(t, c.Close())

	_, err = c.GetResource(ctx, 1)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "resource:{42}", GetResourceCacheKey(42))
	assert.Equal(t, "resource:{42}:fence", GetResourceFenceKey(42))
}

func TestFillThenGet(t *testing.T) {
	c, mr := newMiniredisCache(t, 10*time.Minute)
	ctx := context.Background()

	_, err := c.GetResource(ctx, 7)
	require.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.FillResource(ctx, &models.ResourceResponse{ID: 7, Version: 1, CountryCode: "EE"}))

	got, err := c.GetResource(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.ID)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, "EE", got.CountryCode)
	assert.Equal(t, 10*time.Minute, mr.TTL(GetResourceCacheKey(7)))
}

func TestFillKeepsNewerVersion(t *testing.T) {
	c, _ := newMiniredisCache(t, 0)
	ctx := context.Background()

	require.NoError(t, c.FillResource(ctx, &models.ResourceResponse{ID: 7, Version: 3, CountryCode: "FI"}))
	require.NoError(t, c.FillResource(ctx, &models.ResourceResponse{ID: 7, Version: 2, CountryCode: "EE"}))

	got, err := c.GetResource(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version)
	assert.Equal(t, "FI", got.CountryCode)

	require.NoError(t, c.FillResource(ctx, &models.ResourceResponse{ID: 7, Version: 4, CountryCode: "LV"}))
	got, err = c.GetResource(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "LV", got.CountryCode)
}

func TestInvalidateFencesOlderFills(t *testing.T) {
	c, mr := newMiniredisCache(t, 0)
	ctx := context.Background()

	require.NoError(t, c.FillResource(ctx, &models.ResourceResponse{ID: 7, Version: 1}))
	require.NoError(t, c.InvalidateResource(ctx, 7, 2))

	_, err := c.GetResource(ctx, 7)
	require.ErrorIs(t, err, ErrCacheMiss)
	assert.Equal(t, minFenceTTL, mr.TTL(GetResourceFenceKey(7)))

	// A reader that loaded version 1 before the write lands late.
	require.NoError(t, c.FillResource(ctx, &models.ResourceResponse{ID: 7, Version: 1}))
	_, err = c.GetResource(ctx, 7)
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.FillResource(ctx, &models.ResourceResponse{ID: 7, Version: 2}))
	got, err := c.GetResource(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
}

func TestInvalidateNeverLowersFence(t *testing.T) {
	c, mr := newMiniredisCache(t, 0)
	ctx := context.Background()

	require.NoError(t, c.InvalidateResource(ctx, 7, 5))
	require.NoError(t, c.InvalidateResource(ctx, 7, 4))

	fence, err := mr.Get(GetResourceFenceKey(7))
	require.NoError(t, err)
	assert.Equal(t, "5", fence)
}

func TestEvictBlocksRefill(t *testing.T) {
	c, mr := newMiniredisCache(t, 5*time.Minute)
	ctx := context.Background()

	require.NoError(t, c.FillResource(ctx, &models.ResourceResponse{ID: 7, Version: 1}))
	require.NoError(t, c.EvictResource(ctx, 7))

	_, err := c.GetResource(ctx, 7)
	require.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.FillResource(ctx, &models.ResourceResponse{ID: 7, Version: 9}))
	_, err = c.GetResource(ctx, 7)
	assert.ErrorIs(t, err, ErrCacheMiss)

	// A late writer cannot lift the deletion fence.
	require.NoError(t, c.InvalidateResource(ctx, 7, 10))
	fence, err := mr.Get(GetResourceFenceKey(7))
	require.NoError(t, err)
	assert.Equal(t, deletedFence, fence)
	assert.Equal(t, 5*time.Minute, mr.TTL(GetResourceFenceKey(7)))

	mr.FastForward(6 * time.Minute)
	require.NoError(t, c.FillResource(ctx, &models.ResourceResponse{ID: 7, Version: 1}))
	_, err = c.GetResource(ctx, 7)
	assert.NoError(t, err)
}

func TestGetSurfacesConnectionErrors(t *testing.T) {
	c, mr := newMiniredisCache(t, 0)
	mr.Close()

	_, err := c.GetResource(context.Background(), 7)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}
