package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLCacheSingleFlightCoalescesConcurrentReaders(t *testing.T) {
	var calls int64
	fetch := func(ctx context.Context) (int, error) {
		atomic.AddInt64(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return 42, nil
	}
	c := New("test", time.Minute, time.Second, fetch, zerolog.Nop())

	const n = 20
	results := make(chan int, n)
	for i := 0; i < n; i++ {
		go func() {
			v, err := c.Get(context.Background())
			require.NoError(t, err)
			results <- v
		}()
	}
	for i := 0; i < n; i++ {
		assert.Equal(t, 42, <-results)
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls), "exactly one upstream fetch should have been issued")
}

func TestTTLCacheFallsBackToLastValueOnFailure(t *testing.T) {
	attempt := 0
	fetch := func(ctx context.Context) (int, error) {
		attempt++
		if attempt == 1 {
			return 7, nil
		}
		return 0, errors.New("boom")
	}
	c := New("test", 10*time.Millisecond, 10*time.Millisecond, fetch, zerolog.Nop())

	v, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	time.Sleep(15 * time.Millisecond)

	v, err = c.Get(context.Background())
	require.NoError(t, err, "should fall back to last known value on fetch failure")
	assert.Equal(t, 7, v)
}

func TestTTLCachePropagatesErrorWithNoFallback(t *testing.T) {
	fetch := func(ctx context.Context) (int, error) {
		return 0, errors.New("boom")
	}
	c := New("test", time.Minute, time.Second, fetch, zerolog.Nop())

	_, err := c.Get(context.Background())
	require.Error(t, err)
}

type stubFXProvider struct {
	rate float64
	err  error
}

func (s stubFXProvider) FetchUSDKRW(ctx context.Context) (float64, error) {
	return s.rate, s.err
}

func TestFXCacheFallsBackToBaselineOnOutOfBandRate(t *testing.T) {
	c := NewFXCache(stubFXProvider{rate: 10000}, zerolog.Nop())
	rate, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, FXBaselineKRWPerUSD, rate)
}

func TestValidateGlobalPrices(t *testing.T) {
	assert.True(t, ValidateGlobalPrices(GlobalPriceMap{"BTC": 66000, "ETH": 3200}))
	assert.False(t, ValidateGlobalPrices(GlobalPriceMap{"BTC": 500}))
	assert.False(t, ValidateGlobalPrices(GlobalPriceMap{"BTC": 66000}))
	assert.False(t, ValidateGlobalPrices(GlobalPriceMap{"ETH": 3200}))
}
