// Package aggregation implements the Aggregation Layer (spec §4.3): pure
// functions over cached upstream data. Each aggregator tolerates any subset
// of its inputs being unavailable and never fails a whole response because
// one dependency is missing.
package aggregation

import (
	"sort"

	"github.com/crossfin/gateway/internal/cache"
	"github.com/crossfin/gateway/internal/decision"
	"github.com/crossfin/gateway/internal/venues"
)

// KimchiRow is one coin's Kimchi-Premium comparison row (spec §3).
type KimchiRow struct {
	Coin         string
	BithumbKRW   float64
	BithumbUSD   float64
	BinanceUSD   float64
	PremiumPct   float64
	Volume24hKRW float64
	Volume24hUSD float64
	Change24hPct float64
}

// KimchiRows computes the Kimchi-Premium rows for every tracked coin that
// has both a Bithumb KRW price and a paired global USD price. Coins
// missing either source are silently omitted rather than failing the whole
// aggregation (spec §4.3).
func KimchiRows(bithumb cache.BithumbTickerMap, global cache.GlobalPriceMap, fxRate float64) []KimchiRow {
	if fxRate <= 0 {
		fxRate = cache.FXBaselineKRWPerUSD
	}

	rows := make([]KimchiRow, 0, len(venues.TrackedSymbols))
	for _, sym := range venues.TrackedSymbols {
		bt, ok := bithumb[sym.Coin]
		if !ok || bt.KRWPrice <= 0 {
			continue
		}
		binanceUSD, ok := global[sym.Coin]
		if !ok || binanceUSD <= 0 {
			continue
		}

		bithumbUSD := bt.KRWPrice / fxRate
		premiumPct := (bithumbUSD - binanceUSD) / binanceUSD * 100

		rows = append(rows, KimchiRow{
			Coin:         sym.Coin,
			BithumbKRW:   decision.Round2(bt.KRWPrice),
			BithumbUSD:   decision.Round2(bithumbUSD),
			BinanceUSD:   decision.Round2(binanceUSD),
			PremiumPct:   decision.Round2(premiumPct),
			Volume24hKRW: decision.Round2(bt.Volume24hKRW),
			Volume24hUSD: decision.Round2(bt.Volume24hKRW / fxRate),
			Change24hPct: decision.Round2(bt.Change24hPct),
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return abs(rows[i].PremiumPct) > abs(rows[j].PremiumPct)
	})

	return rows
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
