package venues

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/crossfin/gateway/internal/httpclient"
)

// LiveTicker is a single coin's current KRW price/volume/change, the shape
// the CrossExchange aggregator needs from Upbit and Coinone.
type LiveTicker struct {
	KRWPrice     float64
	Volume24hKRW float64
	Change24hPct float64
}

// UpbitClient fetches live tickers from Upbit's public REST API.
type UpbitClient struct{ http *httpclient.Client }

func NewUpbitClient(h *httpclient.Client) *UpbitClient { return &UpbitClient{http: h} }

type upbitTickerResponse struct {
	TradePrice         float64 `json:"trade_price"`
	AccTradePrice24H   float64 `json:"acc_trade_price_24h"`
	SignedChangeRate   float64 `json:"signed_change_rate"`
}

// FetchTicker fetches the current ticker for coin on the KRW market.
func (c *UpbitClient) FetchTicker(ctx context.Context, coin string) (LiveTicker, error) {
	url := fmt.Sprintf("https://api.upbit.com/v1/ticker?markets=KRW-%s", coin)
	result, err := c.http.Get(ctx, url, httpclient.Limits{Timeout: httpclient.DefaultProxyTimeout})
	if err != nil {
		return LiveTicker{}, err
	}
	var parsed []upbitTickerResponse
	if err := json.Unmarshal(result.Body, &parsed); err != nil {
		return LiveTicker{}, fmt.Errorf("upbit: decode ticker: %w", err)
	}
	if len(parsed) == 0 {
		return LiveTicker{}, fmt.Errorf("upbit: no ticker data for %s", coin)
	}
	t := parsed[0]
	return LiveTicker{
		KRWPrice:     t.TradePrice,
		Volume24hKRW: t.AccTradePrice24H,
		Change24hPct: t.SignedChangeRate * 100,
	}, nil
}

// CoinoneClient fetches live tickers from Coinone's public REST API.
type CoinoneClient struct{ http *httpclient.Client }

func NewCoinoneClient(h *httpclient.Client) *CoinoneClient { return &CoinoneClient{http: h} }

type coinoneTickerResponse struct {
	Tickers []struct {
		Last          string `json:"last"`
		QuoteVolume   string `json:"quote_volume"`
		YesterdayLast string `json:"yesterday_last"`
	} `json:"tickers"`
}

// FetchTicker fetches the current ticker for coin on the KRW market.
func (c *CoinoneClient) FetchTicker(ctx context.Context, coin string) (LiveTicker, error) {
	url := fmt.Sprintf("https://api.coinone.co.kr/public/v2/ticker_new/KRW/%s", coin)
	result, err := c.http.Get(ctx, url, httpclient.Limits{Timeout: httpclient.DefaultProxyTimeout})
	if err != nil {
		return LiveTicker{}, err
	}
	var parsed coinoneTickerResponse
	if err := json.Unmarshal(result.Body, &parsed); err != nil {
		return LiveTicker{}, fmt.Errorf("coinone: decode ticker: %w", err)
	}
	if len(parsed.Tickers) == 0 {
		return LiveTicker{}, fmt.Errorf("coinone: no ticker data for %s", coin)
	}
	t := parsed.Tickers[0]
	last, err1 := strconv.ParseFloat(t.Last, 64)
	volume, err2 := strconv.ParseFloat(t.QuoteVolume, 64)
	yesterday, err3 := strconv.ParseFloat(t.YesterdayLast, 64)
	if err1 != nil || err2 != nil {
		return LiveTicker{}, fmt.Errorf("coinone: malformed ticker for %s", coin)
	}
	change := 0.0
	if err3 == nil && yesterday > 0 {
		change = (last - yesterday) / yesterday * 100
	}
	return LiveTicker{KRWPrice: last, Volume24hKRW: volume, Change24hPct: change}, nil
}
