package cache

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// GlobalPriceMap maps a tracked coin ticker to its USD price on the global
// venue (Binance in the fixture data, but the cache is provider-agnostic).
type GlobalPriceMap map[string]float64

// BatchPriceProvider is the primary price exchange endpoint: one request
// returns USD prices for many symbols. Implementations may try multiple
// base URLs internally (the geo-friendly mirror first) before failing.
type BatchPriceProvider interface {
	FetchBatch(ctx context.Context, symbols []string) (GlobalPriceMap, error)
	// FetchOne is used for the gap-fill step; issuing a per-symbol request
	// to the same primary provider for symbols the batch call missed.
	FetchOne(ctx context.Context, symbol string) (float64, error)
}

// SecondaryPriceProvider is a per-coin-to-USD multi-price provider tried
// after the primary batch endpoint fails entirely.
type SecondaryPriceProvider interface {
	FetchMulti(ctx context.Context, symbols []string) (GlobalPriceMap, error)
}

// TertiaryPriceProvider is a simple coin-id-to-USD provider tried after the
// secondary provider fails.
type TertiaryPriceProvider interface {
	FetchSimple(ctx context.Context, symbols []string) (GlobalPriceMap, error)
}

// SnapshotPriceStore is the persisted-snapshot fallback of last resort: for
// each symbol, the most recent KimchiSnapshot row within 7 days supplies
// its stored global USD price.
type SnapshotPriceStore interface {
	RecentGlobalPrices(ctx context.Context, symbols []string, within time.Duration) (GlobalPriceMap, error)
}

// ValidateGlobalPrices implements the acquisition order's pass/fail gate:
// BTC must be present, finite, and > 1000 USD, and at least one other
// tracked symbol must be present.
func ValidateGlobalPrices(prices GlobalPriceMap) bool {
	btc, ok := prices["BTC"]
	if !ok || math.IsNaN(btc) || math.IsInf(btc, 0) || btc <= 1000 {
		return false
	}
	for symbol := range prices {
		if symbol != "BTC" {
			return true
		}
	}
	return false
}

// GlobalPriceCache wraps a TTLCache[GlobalPriceMap] with the multi-provider
// acquisition order and background gap-fill described in spec §4.2.
type GlobalPriceCache struct {
	ttl *TTLCache[GlobalPriceMap]

	symbols   []string
	primary   BatchPriceProvider
	secondary SecondaryPriceProvider
	tertiary  TertiaryPriceProvider
	snapshots SnapshotPriceStore

	log zerolog.Logger
}

// NewGlobalPriceCache builds the cache with 30s success TTL / 5s failure
// TTL (spec §4.2 table, row "Global prices").
func NewGlobalPriceCache(symbols []string, primary BatchPriceProvider, secondary SecondaryPriceProvider, tertiary TertiaryPriceProvider, snapshots SnapshotPriceStore, log zerolog.Logger) *GlobalPriceCache {
	gpc := &GlobalPriceCache{
		symbols:   symbols,
		primary:   primary,
		secondary: secondary,
		tertiary:  tertiary,
		snapshots: snapshots,
		log:       log.With().Str("cache", "global-prices").Logger(),
	}
	gpc.ttl = New("global-prices", 30*time.Second, 5*time.Second, gpc.acquire, log)
	return gpc
}

// WithRedisPersistence attaches the cross-process Redis mirror to the
// underlying TTLCache. Returns gpc for chaining at construction time.
func (g *GlobalPriceCache) WithRedisPersistence(p *RedisPersist) *GlobalPriceCache {
	g.ttl.WithRedisPersistence(p)
	return g
}

// Get returns the current global price map, refreshing on expiry.
func (g *GlobalPriceCache) Get(ctx context.Context) (GlobalPriceMap, error) {
	return g.ttl.Get(ctx)
}

// acquire implements the four-step acquisition order and triggers
// background gap-fill after a successful (but incomplete) batch fetch.
func (g *GlobalPriceCache) acquire(ctx context.Context) (GlobalPriceMap, error) {
	if g.primary != nil {
		if prices, err := g.primary.FetchBatch(ctx, g.symbols); err == nil && ValidateGlobalPrices(prices) {
			g.gapFill(prices)
			return prices, nil
		} else if err != nil {
			g.log.Debug().Err(err).Msg("primary batch price provider failed")
		}
	}

	if g.secondary != nil {
		if prices, err := g.secondary.FetchMulti(ctx, g.symbols); err == nil && ValidateGlobalPrices(prices) {
			return prices, nil
		} else if err != nil {
			g.log.Debug().Err(err).Msg("secondary price provider failed")
		}
	}

	if g.tertiary != nil {
		if prices, err := g.tertiary.FetchSimple(ctx, g.symbols); err == nil && ValidateGlobalPrices(prices) {
			return prices, nil
		} else if err != nil {
			g.log.Debug().Err(err).Msg("tertiary price provider failed")
		}
	}

	if g.snapshots != nil {
		if prices, err := g.snapshots.RecentGlobalPrices(ctx, g.symbols, 7*24*time.Hour); err == nil && ValidateGlobalPrices(prices) {
			return prices, nil
		} else if err != nil {
			g.log.Debug().Err(err).Msg("snapshot price fallback failed")
		}
	}

	return nil, errAllGlobalPriceProvidersFailed
}

// gapFill issues parallel per-symbol requests to the primary provider for
// any tracked symbol the batch response missed, and merges the result into
// the cache in place once it returns. It must never block acquire's
// caller: the goroutine below runs detached with its own timeout.
func (g *GlobalPriceCache) gapFill(batch GlobalPriceMap) {
	var missing []string
	for _, symbol := range g.symbols {
		if _, ok := batch[symbol]; !ok {
			missing = append(missing, symbol)
		}
	}
	if len(missing) == 0 {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var mu sync.Mutex
		var wg sync.WaitGroup
		filled := make(GlobalPriceMap, len(missing))

		for _, symbol := range missing {
			wg.Add(1)
			go func(symbol string) {
				defer wg.Done()
				price, err := g.primary.FetchOne(ctx, symbol)
				if err != nil {
					return
				}
				mu.Lock()
				filled[symbol] = price
				mu.Unlock()
			}(symbol)
		}
		wg.Wait()

		if len(filled) == 0 {
			return
		}

		current, _ := g.ttl.Peek()
		merged := make(GlobalPriceMap, len(current)+len(filled))
		for k, v := range current {
			merged[k] = v
		}
		for k, v := range filled {
			merged[k] = v
		}
		g.ttl.Set(merged, 30*time.Second)
	}()
}

var errAllGlobalPriceProvidersFailed = globalPriceError("all global price providers exhausted")

type globalPriceError string

func (e globalPriceError) Error() string { return string(e) }
