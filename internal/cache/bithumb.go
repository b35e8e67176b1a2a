package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// BithumbTicker is the per-coin row of the Bithumb "all tickers" snapshot.
type BithumbTicker struct {
	KRWPrice     float64
	Volume24hKRW float64
	Change24hPct float64
}

// BithumbTickerMap maps coin ticker (e.g. "BTC") to its BithumbTicker.
type BithumbTickerMap map[string]BithumbTicker

// BithumbProvider fetches the full Bithumb ticker snapshot in one call.
type BithumbProvider interface {
	FetchAllTickers(ctx context.Context) (BithumbTickerMap, error)
}

// NewBithumbCache builds the Bithumb-all-tickers cache: 10s success TTL,
// 2s failure TTL, falling back to the last known map; an empty map (never
// populated) propagates the error per spec §4.2.
func NewBithumbCache(provider BithumbProvider, log zerolog.Logger) *TTLCache[BithumbTickerMap] {
	fetch := func(ctx context.Context) (BithumbTickerMap, error) {
		return provider.FetchAllTickers(ctx)
	}
	return New("bithumb-tickers", 10*time.Second, 2*time.Second, fetch, log)
}
