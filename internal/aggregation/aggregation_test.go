package aggregation

import (
	"context"
	"errors"
	"testing"

	"github.com/crossfin/gateway/internal/cache"
	"github.com/crossfin/gateway/internal/venues"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKimchiRowsOmitsCoinsMissingEitherSource(t *testing.T) {
	bithumb := cache.BithumbTickerMap{
		"BTC": {KRWPrice: 98_500_000, Volume24hKRW: 1_000_000_000, Change24hPct: 1.2},
		"XRP": {KRWPrice: 3000, Volume24hKRW: 500_000_000, Change24hPct: -0.5},
	}
	global := cache.GlobalPriceMap{"BTC": 66500}
	rows := KimchiRows(bithumb, global, 1450)

	require.Len(t, rows, 1, "XRP has no global price and must be silently omitted")
	assert.Equal(t, "BTC", rows[0].Coin)
	assert.InDelta(t, (98_500_000.0/1450-66500)/66500*100, rows[0].PremiumPct, 0.01)
}

func TestKimchiRowsSortedByAbsolutePremiumDescending(t *testing.T) {
	bithumb := cache.BithumbTickerMap{
		"BTC": {KRWPrice: 98_500_000},
		"ETH": {KRWPrice: 4_700_000},
	}
	global := cache.GlobalPriceMap{"BTC": 66500, "ETH": 3200}
	rows := KimchiRows(bithumb, global, 1450)
	require.Len(t, rows, 2)
	assert.GreaterOrEqual(t, abs(rows[0].PremiumPct), abs(rows[1].PremiumPct))
}

func TestKimchiRowsFallsBackToBaselineFXWhenZero(t *testing.T) {
	bithumb := cache.BithumbTickerMap{"BTC": {KRWPrice: 98_500_000}}
	global := cache.GlobalPriceMap{"BTC": 66500}
	rows := KimchiRows(bithumb, global, 0)
	require.Len(t, rows, 1)
	assert.InDelta(t, 98_500_000.0/cache.FXBaselineKRWPerUSD, rows[0].BithumbUSD, 0.1)
}

type stubTickerReader struct {
	ticker venues.LiveTicker
	err    error
}

func (s stubTickerReader) FetchTicker(ctx context.Context, coin string) (venues.LiveTicker, error) {
	return s.ticker, s.err
}

func TestScenarioBCrossExchangeArbitrageSignal(t *testing.T) {
	bithumb := cache.BithumbTickerMap{"BTC": {KRWPrice: 98_500_000}}
	global := cache.GlobalPriceMap{"BTC": 66500}
	upbit := stubTickerReader{ticker: venues.LiveTicker{KRWPrice: 98_200_000}}
	coinone := stubTickerReader{ticker: venues.LiveTicker{KRWPrice: 99_100_000}}

	rows := CrossExchange(context.Background(), []string{"BTC"}, bithumb, global, 1450, upbit, coinone)
	require.Len(t, rows, 1)
	row := rows[0]

	assert.Equal(t, venues.VenueUpbit, row.BestBuyExchange)
	assert.Equal(t, venues.VenueCoinone, row.BestSellExchange)
	assert.InDelta(t, 0.92, row.SpreadPct, 0.05)
	assert.Equal(t, "ARBITRAGE", row.Action)
}

func TestCrossExchangeToleratesOneVenueFailing(t *testing.T) {
	bithumb := cache.BithumbTickerMap{"BTC": {KRWPrice: 98_500_000}}
	global := cache.GlobalPriceMap{"BTC": 66500}
	upbit := stubTickerReader{err: errors.New("timeout")}
	coinone := stubTickerReader{ticker: venues.LiveTicker{KRWPrice: 99_100_000}}

	rows := CrossExchange(context.Background(), []string{"BTC"}, bithumb, global, 1450, upbit, coinone)
	require.Len(t, rows, 1)
	_, hasUpbit := rows[0].VenuePrices[venues.VenueUpbit]
	assert.False(t, hasUpbit)
	_, hasCoinone := rows[0].VenuePrices[venues.VenueCoinone]
	assert.True(t, hasCoinone)
}

func TestBithumbVolumeAnalysisEmptyInput(t *testing.T) {
	analysis := BithumbVolumeAnalysis(nil, 1450)
	assert.Equal(t, VolumeAnalysis{}, analysis)
}

func TestBithumbVolumeAnalysisFlagsUnusualVolume(t *testing.T) {
	bithumb := cache.BithumbTickerMap{
		"BTC": {Volume24hKRW: 1000},
		"ETH": {Volume24hKRW: 1000},
		"XRP": {Volume24hKRW: 100000},
	}
	analysis := BithumbVolumeAnalysis(bithumb, 1450)
	assert.Contains(t, analysis.Unusual, "XRP")
	assert.NotContains(t, analysis.Unusual, "BTC")
}

func TestKimchiStatsEmptyRows(t *testing.T) {
	stats := KimchiStats(nil)
	assert.Equal(t, 0, stats.PairsTracked)
	assert.Nil(t, stats.TopPremium)
}
