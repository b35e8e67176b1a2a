package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// USDCTransfer is one decoded ERC-20 Transfer log to the configured
// receiver wallet.
type USDCTransfer struct {
	TxHash      string
	FromAddress string
	AmountUSDC  float64
	BlockNumber uint64
	Timestamp   time.Time
}

// ChainRPCProvider fetches recent USDC receive events for the configured
// receiver wallet, trying a list of public RPC endpoints in order.
type ChainRPCProvider interface {
	FetchRecentReceives(ctx context.Context) ([]USDCTransfer, error)
}

// NewOnChainReceivesCache builds the USDC-receives cache: 20s success and
// failure TTL (spec §4.2 table) — a fetch failure simply keeps serving the
// last known ordered list rather than shortening the retry window.
func NewOnChainReceivesCache(provider ChainRPCProvider, log zerolog.Logger) *TTLCache[[]USDCTransfer] {
	fetch := func(ctx context.Context) ([]USDCTransfer, error) {
		return provider.FetchRecentReceives(ctx)
	}
	return New("onchain-usdc-receives", 20*time.Second, 20*time.Second, fetch, log)
}
