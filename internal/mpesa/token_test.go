package mpesa

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCache_ServesCachedTokenOutsideRefreshWindow(t *testing.T) {
	var calls int32
	cache := NewTokenCache(func(ctx context.Context) (string, time.Duration, error) {
		n := atomic.AddInt32(&calls, 1)
		return "token-" + string(rune('0'+n)), time.Hour, nil
	})
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	first, err := cache.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", first)

	now = now.Add(54 * time.Minute)
	second, err := cache.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTokenCache_RefreshesInsideWindow(t *testing.T) {
	var calls int32
	cache := NewTokenCache(func(ctx context.Context) (string, time.Duration, error) {
		atomic.AddInt32(&calls, 1)
		return "tok", time.Hour, nil
	})
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	_, err := cache.GetValidToken(context.Background())
	require.NoError(t, err)

	// 55 minutes in: exactly five minutes before expiry.
	now = now.Add(55 * time.Minute)
	_, err = cache.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestTokenCache_Invalidate(t *testing.T) {
	var calls int32
	cache := NewTokenCache(func(ctx context.Context) (string, time.Duration, error) {
		atomic.AddInt32(&calls, 1)
		return "tok", time.Hour, nil
	})

	_, _ = cache.GetValidToken(context.Background())
	cache.Invalidate()
	_, _ = cache.GetValidToken(context.Background())
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestTokenCache_FetchErrorNotCached(t *testing.T) {
	fail := true
	cache := NewTokenCache(func(ctx context.Context) (string, time.Duration, error) {
		if fail {
			return "", 0, errors.New("oauth down")
		}
		return "tok", time.Hour, nil
	})

	_, err := cache.GetValidToken(context.Background())
	assert.Error(t, err)

	fail = false
	token, err := cache.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", token)
}

func TestTokenCache_ConcurrentRefreshConverges(t *testing.T) {
	cache := NewTokenCache(func(ctx context.Context) (string, time.Duration, error) {
		return "tok", time.Hour, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := cache.GetValidToken(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "tok", token)
		}()
	}
	wg.Wait()

	token, ok := cache.cached()
	assert.True(t, ok)
	assert.Equal(t, "tok", token)
}
