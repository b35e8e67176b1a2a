// Package snapshots persists Kimchi-Premium readings to the kimchi_snapshots
// table and serves them back out as a decision.SnapshotReader, grounding
// PremiumTrend (spec §4.4) and the /api/premium/arbitrage/kimchi/history
// endpoint (spec §6) in real historical data rather than the live cache.
package snapshots

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/crossfin/gateway/internal/cache"
	"github.com/crossfin/gateway/internal/decision"
)

// Store is the kimchi_snapshots data access layer.
type Store struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewStore builds a Store over pool.
func NewStore(pool *pgxpool.Pool, log zerolog.Logger) *Store {
	return &Store{pool: pool, log: log.With().Str("component", "snapshots").Logger()}
}

// Record is one coin's Kimchi-Premium reading at a point in time.
type Record struct {
	Coin         string
	BithumbKRW   float64
	BinanceUSD   float64
	PremiumPct   float64
	KRWUSDRate   float64
	Volume24hUSD float64
}

// Insert writes one row per record. Failures are logged and returned but
// never block the caller's response: callers should fire this from a
// goroutine after serving the live aggregation.
func (s *Store) Insert(ctx context.Context, records []Record) error {
	for _, r := range records {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO kimchi_snapshots (coin, bithumb_krw, binance_usd, premium_pct, krw_usd_rate, volume_24h_usd)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, r.Coin, r.BithumbKRW, r.BinanceUSD, r.PremiumPct, r.KRWUSDRate, r.Volume24hUSD)
		if err != nil {
			return fmt.Errorf("snapshots: insert %q: %w", r.Coin, err)
		}
	}
	return nil
}

// PremiumHistory implements decision.SnapshotReader: premium_pct readings
// for coin within window, oldest first.
func (s *Store) PremiumHistory(ctx context.Context, coin string, window time.Duration) ([]decision.SnapshotPoint, error) {
	since := time.Now().Add(-window)
	rows, err := s.pool.Query(ctx, `
		SELECT created_at, premium_pct FROM kimchi_snapshots
		WHERE coin = $1 AND created_at >= $2
		ORDER BY created_at ASC
	`, coin, since)
	if err != nil {
		return nil, fmt.Errorf("snapshots: premium history %q: %w", coin, err)
	}
	defer rows.Close()

	var points []decision.SnapshotPoint
	for rows.Next() {
		var p decision.SnapshotPoint
		if err := rows.Scan(&p.CreatedAt, &p.PremiumPct); err != nil {
			return nil, fmt.Errorf("snapshots: scan history row: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// History returns the full rows (not just premium points) for a coin within
// window, oldest first, for the /history endpoint's richer response shape.
func (s *Store) History(ctx context.Context, coin string, window time.Duration) ([]Record, error) {
	since := time.Now().Add(-window)
	rows, err := s.pool.Query(ctx, `
		SELECT coin, bithumb_krw, binance_usd, premium_pct, krw_usd_rate, volume_24h_usd
		FROM kimchi_snapshots
		WHERE coin = $1 AND created_at >= $2
		ORDER BY created_at ASC
	`, coin, since)
	if err != nil {
		return nil, fmt.Errorf("snapshots: history %q: %w", coin, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Coin, &r.BithumbKRW, &r.BinanceUSD, &r.PremiumPct, &r.KRWUSDRate, &r.Volume24hUSD); err != nil {
			return nil, fmt.Errorf("snapshots: scan history row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecentGlobalPrices implements cache.SnapshotPriceStore: the global-price
// cache's fallback of last resort when every live provider has failed. For
// each requested symbol, it returns the binance_usd reading from that
// symbol's most recent kimchi_snapshots row within the lookback window.
func (s *Store) RecentGlobalPrices(ctx context.Context, symbols []string, within time.Duration) (cache.GlobalPriceMap, error) {
	since := time.Now().Add(-within)
	out := make(cache.GlobalPriceMap, len(symbols))
	for _, symbol := range symbols {
		var price float64
		err := s.pool.QueryRow(ctx, `
			SELECT binance_usd FROM kimchi_snapshots
			WHERE coin = $1 AND created_at >= $2
			ORDER BY created_at DESC LIMIT 1
		`, symbol, since).Scan(&price)
		if err != nil {
			continue
		}
		out[symbol] = price
	}
	return out, nil
}
