package aggregation

import (
	"context"
	"sync"

	"github.com/crossfin/gateway/internal/cache"
	"github.com/crossfin/gateway/internal/decision"
	"github.com/crossfin/gateway/internal/venues"
)

// VenueTickerReader fetches a single coin's live ticker from a Korean
// venue (Upbit, Coinone). Implemented by venues.UpbitClient/CoinoneClient.
type VenueTickerReader interface {
	FetchTicker(ctx context.Context, coin string) (venues.LiveTicker, error)
}

// CrossExchangeRow is one coin's per-venue comparison (spec §4.3).
type CrossExchangeRow struct {
	Coin               string
	VenuePrices        map[venues.VenueID]float64 // KRW, plus "binance" in USD
	VenuePremiums      map[venues.VenueID]float64 // per-venue Kimchi premium vs global
	AvgPremiumPct      float64
	BestBuyExchange    venues.VenueID
	BestSellExchange   venues.VenueID
	SpreadPct          float64
	Action             string // ARBITRAGE, MONITOR, HOLD
}

const (
	arbitrageThresholdPct = 0.5
	monitorThresholdPct   = 0.2
)

// CrossExchange fetches live tickers for upbit and coinone (tolerant: a
// fetch failure for one venue just omits that venue from the comparison,
// per the allSettled-equivalent fan-out required by spec §5) and combines
// them with the cached Bithumb map and global price map to produce one
// CrossExchangeRow per requested coin.
func CrossExchange(ctx context.Context, coins []string, bithumb cache.BithumbTickerMap, global cache.GlobalPriceMap, fxRate float64, upbit, coinone VenueTickerReader) []CrossExchangeRow {
	if fxRate <= 0 {
		fxRate = cache.FXBaselineKRWPerUSD
	}

	type fetchResult struct {
		coin   string
		venue  venues.VenueID
		ticker venues.LiveTicker
		ok     bool
	}

	results := make(chan fetchResult, len(coins)*2)
	var wg sync.WaitGroup

	for _, coin := range coins {
		coin := coin
		if upbit != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				t, err := upbit.FetchTicker(ctx, coin)
				results <- fetchResult{coin: coin, venue: venues.VenueUpbit, ticker: t, ok: err == nil}
			}()
		}
		if coinone != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				t, err := coinone.FetchTicker(ctx, coin)
				results <- fetchResult{coin: coin, venue: venues.VenueCoinone, ticker: t, ok: err == nil}
			}()
		}
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	liveByCoin := make(map[string]map[venues.VenueID]venues.LiveTicker)
	for r := range results {
		if !r.ok {
			continue
		}
		if liveByCoin[r.coin] == nil {
			liveByCoin[r.coin] = make(map[venues.VenueID]venues.LiveTicker)
		}
		liveByCoin[r.coin][r.venue] = r.ticker
	}

	rows := make([]CrossExchangeRow, 0, len(coins))
	for _, coin := range coins {
		row := computeCrossExchangeRow(coin, bithumb, liveByCoin[coin], global, fxRate)
		rows = append(rows, row)
	}
	return rows
}

func computeCrossExchangeRow(coin string, bithumb cache.BithumbTickerMap, live map[venues.VenueID]venues.LiveTicker, global cache.GlobalPriceMap, fxRate float64) CrossExchangeRow {
	prices := make(map[venues.VenueID]float64)
	premiums := make(map[venues.VenueID]float64)

	if bt, ok := bithumb[coin]; ok && bt.KRWPrice > 0 {
		prices[venues.VenueBithumb] = bt.KRWPrice
	}
	for venue, t := range live {
		if t.KRWPrice > 0 {
			prices[venue] = t.KRWPrice
		}
	}

	globalUSD, hasGlobal := global[coin]
	if hasGlobal && globalUSD > 0 {
		prices[venues.VenueBinance] = globalUSD
		for venue, krw := range prices {
			if venue == venues.VenueBinance {
				continue
			}
			usd := krw / fxRate
			premiums[venue] = decision.Round2((usd - globalUSD) / globalUSD * 100)
		}
	}

	avg := 0.0
	if len(premiums) > 0 {
		sum := 0.0
		for _, p := range premiums {
			sum += p
		}
		avg = decision.Round2(sum / float64(len(premiums)))
	}

	var bestBuy, bestSell venues.VenueID
	var minPrice, maxPrice float64
	first := true
	for venue, price := range prices {
		if venue == venues.VenueBinance {
			continue
		}
		if first || price < minPrice {
			minPrice = price
			bestBuy = venue
		}
		if first || price > maxPrice {
			maxPrice = price
			bestSell = venue
		}
		first = false
	}

	spread := 0.0
	if minPrice > 0 {
		spread = decision.Round2((maxPrice - minPrice) / minPrice * 100)
	}

	action := "HOLD"
	if spread > arbitrageThresholdPct {
		action = "ARBITRAGE"
	} else if spread > monitorThresholdPct {
		action = "MONITOR"
	}

	return CrossExchangeRow{
		Coin:             coin,
		VenuePrices:      prices,
		VenuePremiums:    premiums,
		AvgPremiumPct:    avg,
		BestBuyExchange:  bestBuy,
		BestSellExchange: bestSell,
		SpreadPct:        spread,
		Action:           action,
	}
}
