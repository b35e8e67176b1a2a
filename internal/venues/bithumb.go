package venues

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/crossfin/gateway/internal/cache"
	"github.com/crossfin/gateway/internal/httpclient"
)

const bithumbAPIBase = "https://api.bithumb.com/public"

// BithumbClient implements cache.BithumbProvider and the orderbook lookup
// used by the Decision Layer's slippage estimator.
type BithumbClient struct {
	http *httpclient.Client
}

// NewBithumbClient constructs a client over the shared outbound client.
func NewBithumbClient(h *httpclient.Client) *BithumbClient {
	return &BithumbClient{http: h}
}

type bithumbAllTickerResponse struct {
	Status string                     `json:"status"`
	Data   map[string]json.RawMessage `json:"data"`
}

type bithumbTickerFields struct {
	ClosingPrice  string `json:"closing_price"`
	UnitsTraded24H string `json:"units_traded_24H"`
	FluctateRate24H string `json:"fluctate_rate_24H"`
}

// FetchAllTickers retrieves the full Bithumb "all tickers" snapshot, one
// call covering every listed coin (KRW market).
func (c *BithumbClient) FetchAllTickers(ctx context.Context) (cache.BithumbTickerMap, error) {
	url := bithumbAPIBase + "/ticker/ALL_KRW"
	result, err := c.http.Get(ctx, url, httpclient.Limits{Timeout: httpclient.DefaultProxyTimeout})
	if err != nil {
		return nil, err
	}

	var parsed bithumbAllTickerResponse
	if err := json.Unmarshal(result.Body, &parsed); err != nil {
		return nil, fmt.Errorf("bithumb: decode all-tickers: %w", err)
	}

	out := make(cache.BithumbTickerMap)
	for _, sym := range TrackedSymbols {
		raw, ok := parsed.Data[sym.Coin]
		if !ok {
			continue
		}
		var fields bithumbTickerFields
		if err := json.Unmarshal(raw, &fields); err != nil {
			continue
		}
		price, err1 := strconv.ParseFloat(fields.ClosingPrice, 64)
		volume, err2 := strconv.ParseFloat(fields.UnitsTraded24H, 64)
		change, err3 := strconv.ParseFloat(fields.FluctateRate24H, 64)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		out[sym.Coin] = cache.BithumbTicker{
			KRWPrice:     price,
			Volume24hKRW: volume * price,
			Change24hPct: change,
		}
	}
	return out, nil
}

// OrderbookLevel is one ask-side depth level.
type OrderbookLevel struct {
	Price    float64
	Quantity float64
}

type bithumbOrderbookResponse struct {
	Status string `json:"status"`
	Data   struct {
		Asks []struct {
			Price    string `json:"price"`
			Quantity string `json:"quantity"`
		} `json:"asks"`
	} `json:"data"`
}

// FetchOrderbook retrieves the top 30 ask levels for pair (e.g. "BTC_KRW").
func (c *BithumbClient) FetchOrderbook(ctx context.Context, pair string) ([]OrderbookLevel, error) {
	url := fmt.Sprintf("%s/orderbook/%s", bithumbAPIBase, pair)
	result, err := c.http.Get(ctx, url, httpclient.Limits{Timeout: httpclient.DefaultProxyTimeout})
	if err != nil {
		return nil, err
	}

	var parsed bithumbOrderbookResponse
	if err := json.Unmarshal(result.Body, &parsed); err != nil {
		return nil, fmt.Errorf("bithumb: decode orderbook: %w", err)
	}

	levels := make([]OrderbookLevel, 0, len(parsed.Data.Asks))
	for i, a := range parsed.Data.Asks {
		if i >= 30 {
			break
		}
		price, err1 := strconv.ParseFloat(a.Price, 64)
		qty, err2 := strconv.ParseFloat(a.Quantity, 64)
		if err1 != nil || err2 != nil || price < 0 || qty < 0 {
			continue
		}
		levels = append(levels, OrderbookLevel{Price: price, Quantity: qty})
	}
	return levels, nil
}
