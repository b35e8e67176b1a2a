// Package marketview adapts the Upstream Price Cache singletons and the
// live Korean-venue clients into a single routing.MarketView, so the
// Routing Engine (spec §4.5) never talks to a cache or client directly.
package marketview

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/crossfin/gateway/internal/cache"
	"github.com/crossfin/gateway/internal/decision"
	"github.com/crossfin/gateway/internal/venues"
)

// KoreanTickerReader fetches a single coin's live KRW ticker. Implemented
// by *venues.UpbitClient and *venues.CoinoneClient.
type KoreanTickerReader interface {
	FetchTicker(ctx context.Context, coin string) (venues.LiveTicker, error)
}

// OrderbookReader fetches top-of-book ask depth for a KRW pair. Implemented
// by *venues.BithumbClient.
type OrderbookReader interface {
	FetchOrderbook(ctx context.Context, pair string) ([]venues.OrderbookLevel, error)
}

// View implements routing.MarketView over the cache singletons plus the
// live Upbit/Coinone tickers and Bithumb order book.
type View struct {
	bithumb   *cache.TTLCache[cache.BithumbTickerMap]
	global    *cache.GlobalPriceCache
	fx        *cache.TTLCache[float64]
	orderbook OrderbookReader
	korean    map[venues.VenueID]KoreanTickerReader
	log       zerolog.Logger
}

// New builds a View. upbit and coinone may be nil if those venues are not
// wired; KoreanPrice then reports them unavailable rather than erroring.
func New(bithumb *cache.TTLCache[cache.BithumbTickerMap], global *cache.GlobalPriceCache, fx *cache.TTLCache[float64], orderbook OrderbookReader, upbit, coinone KoreanTickerReader, log zerolog.Logger) *View {
	korean := map[venues.VenueID]KoreanTickerReader{}
	if upbit != nil {
		korean[venues.VenueUpbit] = upbit
	}
	if coinone != nil {
		korean[venues.VenueCoinone] = coinone
	}
	return &View{
		bithumb:   bithumb,
		global:    global,
		fx:        fx,
		orderbook: orderbook,
		korean:    korean,
		log:       log.With().Str("component", "marketview").Logger(),
	}
}

// KoreanPrice returns venue's current KRW price for coin. Bithumb is read
// from the cached snapshot; Upbit and Coinone are fetched live since they
// have no dedicated cache singleton (spec §4.2 only names five caches).
// Korbit has no client and always reports unavailable.
func (v *View) KoreanPrice(ctx context.Context, venue venues.VenueID, coin string) (float64, bool) {
	if venue == venues.VenueBithumb {
		tickers, err := v.bithumb.Get(ctx)
		if err != nil {
			return 0, false
		}
		t, ok := tickers[coin]
		if !ok || t.KRWPrice <= 0 {
			return 0, false
		}
		return t.KRWPrice, true
	}

	reader, ok := v.korean[venue]
	if !ok {
		return 0, false
	}
	ticker, err := reader.FetchTicker(ctx, coin)
	if err != nil || ticker.KRWPrice <= 0 {
		return 0, false
	}
	return ticker.KRWPrice, true
}

// GlobalPrice returns coin's current USD price on the global venue.
func (v *View) GlobalPrice(ctx context.Context, coin string) (float64, bool) {
	prices, err := v.global.Get(ctx)
	if err != nil {
		return 0, false
	}
	price, ok := prices[coin]
	if !ok || price <= 0 {
		return 0, false
	}
	return price, true
}

// TopAsks returns the top-of-book ask depth for coin on venue, used by the
// Decision Layer's slippage estimator. Only Bithumb exposes an order book
// client; other venues report unavailable and callers fall back to
// decision.DefaultSlippageFallbackPct.
func (v *View) TopAsks(ctx context.Context, venue venues.VenueID, coin string) ([]decision.AskLevel, bool) {
	if venue != venues.VenueBithumb || v.orderbook == nil {
		return nil, false
	}
	levels, err := v.orderbook.FetchOrderbook(ctx, fmt.Sprintf("%s_KRW", coin))
	if err != nil || len(levels) == 0 {
		return nil, false
	}
	asks := make([]decision.AskLevel, len(levels))
	for i, l := range levels {
		asks[i] = decision.AskLevel{Price: l.Price, Quantity: l.Quantity}
	}
	return asks, true
}

// FXRate returns the current USD/KRW rate, falling back to
// cache.FXBaselineKRWPerUSD if the cache has never been populated.
func (v *View) FXRate(ctx context.Context) float64 {
	rate, err := v.fx.Get(ctx)
	if err != nil || rate <= 0 {
		return cache.FXBaselineKRWPerUSD
	}
	return rate
}
