package venues

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/crossfin/gateway/internal/cache"
	"github.com/crossfin/gateway/internal/httpclient"
)

// binanceBaseURLs are tried in order; the geo-friendly mirror (binance.us)
// is attempted first since it is reachable from more network environments,
// falling back to the primary global endpoint.
var binanceBaseURLs = []string{
	"https://api.binance.us",
	"https://api.binance.com",
}

// BinanceClient is the primary global-venue price source: a plain public
// REST client (no order-placement surface) implementing
// cache.BatchPriceProvider.
type BinanceClient struct {
	http *httpclient.Client
}

func NewBinanceClient(h *httpclient.Client) *BinanceClient { return &BinanceClient{http: h} }

type binancePriceEntry struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// FetchBatch retrieves USD prices for all tracked symbols in one call,
// trying each base URL in order until one succeeds.
func (c *BinanceClient) FetchBatch(ctx context.Context, symbols []string) (cache.GlobalPriceMap, error) {
	var lastErr error
	for _, base := range binanceBaseURLs {
		prices, err := c.fetchAllFrom(ctx, base)
		if err == nil {
			out := make(cache.GlobalPriceMap)
			for _, sym := range TrackedSymbols {
				if p, ok := prices[sym.GlobalSymbol]; ok {
					out[sym.Coin] = p
				}
			}
			return out, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *BinanceClient) fetchAllFrom(ctx context.Context, base string) (map[string]float64, error) {
	url := base + "/api/v3/ticker/price"
	result, err := c.http.Get(ctx, url, httpclient.Limits{Timeout: httpclient.DefaultProxyTimeout})
	if err != nil {
		return nil, err
	}
	var entries []binancePriceEntry
	if err := json.Unmarshal(result.Body, &entries); err != nil {
		return nil, fmt.Errorf("binance: decode ticker/price: %w", err)
	}
	out := make(map[string]float64, len(entries))
	for _, e := range entries {
		if price, err := strconv.ParseFloat(e.Price, 64); err == nil {
			out[e.Symbol] = price
		}
	}
	return out, nil
}

// FetchOne retrieves a single symbol's USD price, used for gap-fill.
func (c *BinanceClient) FetchOne(ctx context.Context, symbol string) (float64, error) {
	globalSymbol := symbol + "USDT"
	for _, s := range TrackedSymbols {
		if s.Coin == symbol {
			globalSymbol = s.GlobalSymbol
			break
		}
	}
	var lastErr error
	for _, base := range binanceBaseURLs {
		url := fmt.Sprintf("%s/api/v3/ticker/price?symbol=%s", base, globalSymbol)
		result, err := c.http.Get(ctx, url, httpclient.Limits{Timeout: httpclient.DefaultProxyTimeout})
		if err != nil {
			lastErr = err
			continue
		}
		var entry binancePriceEntry
		if err := json.Unmarshal(result.Body, &entry); err != nil {
			lastErr = err
			continue
		}
		price, err := strconv.ParseFloat(entry.Price, 64)
		if err != nil {
			lastErr = err
			continue
		}
		return price, nil
	}
	return 0, lastErr
}
