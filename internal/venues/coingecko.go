package venues

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/crossfin/gateway/internal/cache"
	"github.com/crossfin/gateway/internal/httpclient"
)

// coinGeckoIDs maps tracked coin tickers to CoinGecko coin ids.
var coinGeckoIDs = map[string]string{
	"BTC": "bitcoin", "ETH": "ethereum", "XRP": "ripple", "USDT": "tether",
	"USDC": "usd-coin", "SOL": "solana", "TRX": "tron", "DOGE": "dogecoin",
	"ADA": "cardano", "LTC": "litecoin", "XLM": "stellar",
}

// CoinGeckoClient implements cache.SecondaryPriceProvider: a per-coin-to-USD
// multi-price provider tried after the primary batch endpoint fails.
// Adapted from the REST client pattern the teacher uses for the same API.
type CoinGeckoClient struct {
	http   *httpclient.Client
	apiKey string
}

func NewCoinGeckoClient(h *httpclient.Client, apiKey string) *CoinGeckoClient {
	return &CoinGeckoClient{http: h, apiKey: apiKey}
}

// FetchMulti retrieves USD prices for symbols in one call to
// /simple/price?ids=a,b,c&vs_currencies=usd.
func (c *CoinGeckoClient) FetchMulti(ctx context.Context, symbols []string) (cache.GlobalPriceMap, error) {
	ids := make([]string, 0, len(symbols))
	idToCoin := make(map[string]string, len(symbols))
	for _, s := range symbols {
		if id, ok := coinGeckoIDs[s]; ok {
			ids = append(ids, id)
			idToCoin[id] = s
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("coingecko: no known ids for requested symbols")
	}

	params := url.Values{}
	params.Set("ids", strings.Join(ids, ","))
	params.Set("vs_currencies", "usd")
	if c.apiKey != "" {
		params.Set("x_cg_pro_api_key", c.apiKey)
	}

	reqURL := "https://api.coingecko.com/api/v3/simple/price?" + params.Encode()
	result, err := c.http.Get(ctx, reqURL, httpclient.Limits{Timeout: httpclient.DefaultProxyTimeout})
	if err != nil {
		return nil, err
	}

	var parsed map[string]map[string]float64
	if err := json.Unmarshal(result.Body, &parsed); err != nil {
		return nil, fmt.Errorf("coingecko: decode simple/price: %w", err)
	}

	out := make(cache.GlobalPriceMap)
	for id, byCurrency := range parsed {
		coin, ok := idToCoin[id]
		if !ok {
			continue
		}
		if usd, ok := byCurrency["usd"]; ok {
			out[coin] = usd
		}
	}
	return out, nil
}

// SimplePriceClient implements cache.TertiaryPriceProvider: a minimal
// coin-id-to-USD endpoint tried last, before falling back to the persisted
// snapshot store. Exchange-rate style APIs of this shape (single flat map,
// no nested currency object) are common enough upstream that this client
// is kept provider-agnostic via its baseURL.
type SimplePriceClient struct {
	http    *httpclient.Client
	baseURL string
}

func NewSimplePriceClient(h *httpclient.Client, baseURL string) *SimplePriceClient {
	return &SimplePriceClient{http: h, baseURL: baseURL}
}

// FetchSimple retrieves a flat coin-id -> USD price map from baseURL.
func (c *SimplePriceClient) FetchSimple(ctx context.Context, symbols []string) (cache.GlobalPriceMap, error) {
	result, err := c.http.Get(ctx, c.baseURL, httpclient.Limits{Timeout: httpclient.DefaultProxyTimeout})
	if err != nil {
		return nil, err
	}

	var parsed map[string]float64
	if err := json.Unmarshal(result.Body, &parsed); err != nil {
		return nil, fmt.Errorf("simple-price: decode response: %w", err)
	}

	out := make(cache.GlobalPriceMap)
	for _, sym := range symbols {
		id, ok := coinGeckoIDs[sym]
		if !ok {
			continue
		}
		if usd, ok := parsed[id]; ok {
			out[sym] = usd
		}
	}
	return out, nil
}
