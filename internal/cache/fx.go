package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// FXBaselineKRWPerUSD is the compiled-in fallback used when no FX rate is
// available at all — neither a fresh fetch nor any prior cached value.
const FXBaselineKRWPerUSD = 1450.0

// FXRateMinKRWPerUSD and FXRateMaxKRWPerUSD bound valid FX rates; a fetch
// returning a value outside this band is treated as a failed fetch so the
// cache falls back rather than poisoning every downstream computation.
const (
	FXRateMinKRWPerUSD = 500.0
	FXRateMaxKRWPerUSD = 5000.0
)

// FXRateProvider fetches the current USD/KRW rate from an upstream source.
type FXRateProvider interface {
	FetchUSDKRW(ctx context.Context) (float64, error)
}

// NewFXCache builds the FX-rate cache: 5-minute success TTL, 1-minute
// failure TTL, falling back to the last known value and ultimately to
// FXBaselineKRWPerUSD (spec §4.2 table, row "FX USD/KRW").
func NewFXCache(provider FXRateProvider, log zerolog.Logger) *TTLCache[float64] {
	fetch := func(ctx context.Context) (float64, error) {
		rate, err := provider.FetchUSDKRW(ctx)
		if err != nil {
			return 0, err
		}
		if rate < FXRateMinKRWPerUSD || rate > FXRateMaxKRWPerUSD {
			return 0, fmt.Errorf("fx rate %.2f out of band [%.0f, %.0f]", rate, FXRateMinKRWPerUSD, FXRateMaxKRWPerUSD)
		}
		return rate, nil
	}

	c := New("fx-rate", 5*time.Minute, 1*time.Minute, fetch, log)
	// Seed with the baseline so a cold start with no network at all still
	// returns a usable rate instead of propagating an error on first Get.
	c.Set(FXBaselineKRWPerUSD, 0)
	return c
}
