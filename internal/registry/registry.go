// Package registry implements the registry-seed bootstrap and the
// read/write paths backing the services table (spec §6, SPEC_FULL.md §12):
// an idempotent insert-if-absent of a static service catalog on cold start
// and on an admin-gated reseed trigger, a public search endpoint, and a
// write endpoint (API-key-gated when internal/api has an APIKeyStore) whose
// endpoint field is SSRF-checked before it is ever stored.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Service is one row of the services table.
type Service struct {
	ID          string
	Name        string
	Description string
	Endpoint    string
	PriceUSD    float64
	Category    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// EndpointValidator vets a candidate service endpoint before it is stored.
// Implemented by *httpclient.Client.ValidateURL.
type EndpointValidator interface {
	ValidateURL(ctx context.Context, rawURL string) error
}

// Store is the services-table data access layer.
type Store struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewStore builds a Store over pool.
func NewStore(pool *pgxpool.Pool, log zerolog.Logger) *Store {
	return &Store{pool: pool, log: log.With().Str("component", "registry").Logger()}
}

// Seed entry is the opaque static catalog (spec §9 Open Question: the seed
// list is treated as configuration, not a correctness invariant).
type SeedEntry struct {
	ID          string
	Name        string
	Description string
	Endpoint    string
	PriceUSD    float64
	Category    string
}

// DefaultSeed is the built-in catalog of market-data services bootstrapped
// on cold start.
var DefaultSeed = []SeedEntry{
	{ID: "kimchi-premium", Name: "Kimchi Premium", Description: "Live Bithumb/Binance premium comparison", Endpoint: "https://api.crossfin.dev/api/premium/arbitrage/kimchi", PriceUSD: 0.01, Category: "premium"},
	{ID: "cross-exchange", Name: "Cross-Exchange Snapshot", Description: "Per-venue KRW/USD comparison across Bithumb/Upbit/Coinone", Endpoint: "https://api.crossfin.dev/api/premium/market/cross-exchange", PriceUSD: 0.01, Category: "premium"},
	{ID: "route-finder", Name: "Routing Engine", Description: "Bridge-coin route finder with cost/time estimates", Endpoint: "https://api.crossfin.dev/api/premium/route/find", PriceUSD: 0.02, Category: "premium"},
	{ID: "bithumb-volume", Name: "Bithumb Volume Analysis", Description: "24h volume ranking and unusual-volume flags", Endpoint: "https://api.crossfin.dev/api/premium/bithumb/volume-analysis", PriceUSD: 0.01, Category: "premium"},
	{ID: "onchain-usdc", Name: "USDC Receives", Description: "Recent USDC transfers to the x402 receiver wallet", Endpoint: "https://api.crossfin.dev/api/onchain/usdc-transfers", PriceUSD: 0.01, Category: "onchain"},
	{ID: "route-metadata", Name: "Routing Metadata", Description: "Unpaid topology metadata: exchanges, fees, pairs, status", Endpoint: "https://api.crossfin.dev/api/route/status", PriceUSD: 0, Category: "metadata"},
}

// Seed idempotently inserts every DefaultSeed entry that isn't already
// present (by id), leaving existing rows untouched.
func (s *Store) Seed(ctx context.Context) error {
	for _, entry := range DefaultSeed {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO services (id, name, description, endpoint, price_usd, category)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING
		`, entry.ID, entry.Name, entry.Description, entry.Endpoint, entry.PriceUSD, entry.Category)
		if err != nil {
			return fmt.Errorf("registry: seed %q: %w", entry.ID, err)
		}
	}
	s.log.Info().Int("entries", len(DefaultSeed)).Msg("registry seed bootstrap complete")
	return nil
}

// CreateInput is the validated payload for Create.
type CreateInput struct {
	ID          string
	Name        string
	Description string
	Endpoint    string
	PriceUSD    float64
	Category    string
}

// Create inserts a new service row. Callers must run validator.ValidateURL
// against input.Endpoint first (see apierr.FromHTTPClient for the
// SSRF-rejection mapping); Create itself only persists.
func (s *Store) Create(ctx context.Context, input CreateInput) (*Service, error) {
	var svc Service
	err := s.pool.QueryRow(ctx, `
		INSERT INTO services (id, name, description, endpoint, price_usd, category)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, name, description, endpoint, price_usd, category, created_at, updated_at
	`, input.ID, input.Name, input.Description, input.Endpoint, input.PriceUSD, input.Category).Scan(
		&svc.ID, &svc.Name, &svc.Description, &svc.Endpoint, &svc.PriceUSD, &svc.Category, &svc.CreatedAt, &svc.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("registry: create service: %w", err)
	}
	return &svc, nil
}

// Search returns services whose name, description, or category matches
// query (case-insensitive substring), newest first, capped at limit.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Service, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, name, description, endpoint, price_usd, category, created_at, updated_at
		FROM services
		WHERE $1 = '' OR name ILIKE '%' || $1 || '%' OR description ILIKE '%' || $1 || '%' OR category ILIKE '%' || $1 || '%'
		ORDER BY created_at DESC
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("registry: search: %w", err)
	}
	defer rows.Close()

	out := make([]Service, 0, limit)
	for rows.Next() {
		var svc Service
		if err := rows.Scan(&svc.ID, &svc.Name, &svc.Description, &svc.Endpoint, &svc.PriceUSD, &svc.Category, &svc.CreatedAt, &svc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("registry: scan search row: %w", err)
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

// CountSince implements ratelimit.ServiceCallReader: the number of calls a
// given agent made against a given service since the provided instant.
func (s *Store) CountSince(ctx context.Context, agentID, serviceID string, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM service_calls
		WHERE agent_id = $1 AND service_id = $2 AND created_at >= $3
	`, agentID, serviceID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("registry: count service calls: %w", err)
	}
	return count, nil
}

// CountAgentSince implements ratelimit.ServiceCallReader: the number of
// calls a given agent made against any service since the provided instant.
func (s *Store) CountAgentSince(ctx context.Context, agentID string, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM service_calls
		WHERE agent_id = $1 AND created_at >= $2
	`, agentID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("registry: count agent calls: %w", err)
	}
	return count, nil
}

// RecordCall logs one proxied service invocation for billing and for the
// proxy rate limiter's count aggregates.
func (s *Store) RecordCall(ctx context.Context, serviceID, agentID, status string, responseTimeMS int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO service_calls (service_id, agent_id, status, response_time_ms)
		VALUES ($1, $2, $3, $4)
	`, serviceID, agentID, status, responseTimeMS)
	if err != nil {
		return fmt.Errorf("registry: record call: %w", err)
	}
	return nil
}

// ErrNotFound is returned by Get when no service matches the id.
var ErrNotFound = fmt.Errorf("registry: service not found")

// Get fetches one service by id.
func (s *Store) Get(ctx context.Context, id string) (*Service, error) {
	var svc Service
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, description, endpoint, price_usd, category, created_at, updated_at
		FROM services WHERE id = $1
	`, id).Scan(&svc.ID, &svc.Name, &svc.Description, &svc.Endpoint, &svc.PriceUSD, &svc.Category, &svc.CreatedAt, &svc.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("registry: get service: %w", err)
	}
	return &svc, nil
}
