package service

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkodi/shortlink/internal/cache"
	"github.com/darkodi/shortlink/internal/model"
)

func setupResolver(t *testing.T, opts ...Option) (*URLService, *Resolver, *testClock) {
	t.Helper()
	clk := newTestClock()
	store := newTestStore(t)
	opts = append(opts, WithClock(clk.Now))
	return NewURLService(store, Config{}, opts...), NewResolver(store, opts...), clk
}

func TestResolve_RedirectsAndCounts(t *testing.T) {
	svc, resolver, clk := setupResolver(t)
	ctx := context.Background()

	resp, err := svc.Shorten(ctx, model.ShortenRequest{OriginalURL: "https://example.com/target"}, "h")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		clk.Advance(time.Minute)
		target, err := resolver.Resolve(ctx, resp.ShortCode)
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/target", target.URL)
		assert.Equal(t, http.StatusMovedPermanently, target.StatusCode)
	}

	stats, err := svc.Analytics(ctx, resp.ShortCode)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Clicks)
	require.NotNil(t, stats.LastClickedAt)
	assert.WithinDuration(t, clk.Now(), *stats.LastClickedAt, time.Millisecond)
}

func TestResolve_NotFound(t *testing.T) {
	_, resolver, _ := setupResolver(t)

	_, err := resolver.Resolve(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve_ExpiredIsDeleted(t *testing.T) {
	svc, resolver, clk := setupResolver(t)
	ctx := context.Background()

	resp, err := svc.Shorten(ctx, model.ShortenRequest{
		OriginalURL: "https://example.com",
		ExpiresIn:   days(1),
	}, "h")
	require.NoError(t, err)

	clk.Advance(23 * time.Hour)
	_, err = resolver.Resolve(ctx, resp.ShortCode)
	require.NoError(t, err)

	clk.Advance(2 * time.Hour)
	_, err = resolver.Resolve(ctx, resp.ShortCode)
	assert.ErrorIs(t, err, ErrExpired)

	// gone after the expired resolution
	_, err = svc.Get(ctx, resp.ShortCode)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = resolver.Resolve(ctx, resp.ShortCode)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve_TinyExpiry(t *testing.T) {
	svc, resolver, clk := setupResolver(t)
	ctx := context.Background()

	resp, err := svc.Shorten(ctx, model.ShortenRequest{
		OriginalURL: "https://example.com",
		ExpiresIn:   days(0.0000001),
	}, "h")
	require.NoError(t, err)
	require.NotNil(t, resp.ExpiresAt)

	clk.Advance(time.Second)
	_, err = resolver.Resolve(ctx, resp.ShortCode)
	assert.ErrorIs(t, err, ErrExpired)

	_, err = svc.Get(ctx, resp.ShortCode)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve_ExpiredNotCountedAsClick(t *testing.T) {
	svc, resolver, clk := setupResolver(t)
	ctx := context.Background()

	resp, err := svc.Shorten(ctx, model.ShortenRequest{
		OriginalURL: "https://example.com",
		CustomCode:  "brief",
		ExpiresIn:   days(0.001),
	}, "h")
	require.NoError(t, err)

	clk.Advance(time.Hour)
	_, err = resolver.Resolve(ctx, resp.ShortCode)
	assert.ErrorIs(t, err, ErrExpired)

	// the code is free again
	_, err = svc.Shorten(ctx, model.ShortenRequest{OriginalURL: "https://example.com", CustomCode: "brief"}, "h")
	require.NoError(t, err)
	stats, err := svc.Analytics(ctx, "brief")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Clicks)
}

func newMiniredisCache(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := cache.NewRedisCacheFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestResolve_WithCache(t *testing.T) {
	rc, _ := newMiniredisCache(t)
	svc, resolver, _ := setupResolver(t, WithCache(rc))
	ctx := context.Background()

	resp, err := svc.Shorten(ctx, model.ShortenRequest{OriginalURL: "https://example.com/cached"}, "h")
	require.NoError(t, err)

	_, err = resolver.Resolve(ctx, resp.ShortCode)
	require.NoError(t, err)

	entry, err := rc.Get(ctx, resp.ShortCode)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "https://example.com/cached", entry.OriginalURL)

	// cache hits still count clicks
	_, err = resolver.Resolve(ctx, resp.ShortCode)
	require.NoError(t, err)
	stats, err := svc.Analytics(ctx, resp.ShortCode)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Clicks)

	// delete invalidates
	require.NoError(t, svc.Delete(ctx, resp.ShortCode))
	entry, err = rc.Get(ctx, resp.ShortCode)
	require.NoError(t, err)
	assert.Nil(t, entry)

	_, err = resolver.Resolve(ctx, resp.ShortCode)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve_StaleCacheEntry(t *testing.T) {
	rc, _ := newMiniredisCache(t)
	_, resolver, _ := setupResolver(t, WithCache(rc))
	ctx := context.Background()

	require.NoError(t, rc.Set(ctx, "ghost", &model.RedirectEntry{OriginalURL: "https://example.com"}))

	_, err := resolver.Resolve(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	entry, err := rc.Get(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestResolve_CacheDownFallsBackToStore(t *testing.T) {
	rc, mr := newMiniredisCache(t)
	svc, resolver, _ := setupResolver(t, WithCache(rc))
	ctx := context.Background()

	resp, err := svc.Shorten(ctx, model.ShortenRequest{OriginalURL: "https://example.com"}, "h")
	require.NoError(t, err)

	mr.Close()

	target, err := resolver.Resolve(ctx, resp.ShortCode)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", target.URL)
}
