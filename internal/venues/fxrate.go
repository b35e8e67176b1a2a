package venues

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/crossfin/gateway/internal/httpclient"
)

// ExchangeRateClient implements cache.FXRateProvider against a public
// exchange-rate API returning a flat currency->rate map.
type ExchangeRateClient struct {
	http    *httpclient.Client
	baseURL string
}

func NewExchangeRateClient(h *httpclient.Client, baseURL string) *ExchangeRateClient {
	if baseURL == "" {
		baseURL = "https://open.er-api.com/v6/latest/USD"
	}
	return &ExchangeRateClient{http: h, baseURL: baseURL}
}

type exchangeRateResponse struct {
	Result string             `json:"result"`
	Rates  map[string]float64 `json:"rates"`
}

// FetchUSDKRW retrieves the current USD/KRW rate.
func (c *ExchangeRateClient) FetchUSDKRW(ctx context.Context) (float64, error) {
	result, err := c.http.Get(ctx, c.baseURL, httpclient.Limits{Timeout: httpclient.DefaultRPCTimeout})
	if err != nil {
		return 0, err
	}
	var parsed exchangeRateResponse
	if err := json.Unmarshal(result.Body, &parsed); err != nil {
		return 0, fmt.Errorf("fx: decode rates: %w", err)
	}
	rate, ok := parsed.Rates["KRW"]
	if !ok {
		return 0, fmt.Errorf("fx: KRW rate missing from response")
	}
	return rate, nil
}
