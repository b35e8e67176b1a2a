// Package routing implements the Routing Engine (spec §4.5): it enumerates
// bridge-coin paths across the fixed five-venue topology, scores each path
// by strategy, and emits a structured plan.
package routing

import (
	"context"

	"github.com/crossfin/gateway/internal/decision"
	"github.com/crossfin/gateway/internal/venues"
)

// Strategy selects the ranking function used to pick the optimal route.
type Strategy string

const (
	StrategyCheapest Strategy = "cheapest"
	StrategyFastest  Strategy = "fastest"
	StrategyBalanced Strategy = "balanced"
)

// StepKind identifies the leg of a Route.
type StepKind string

const (
	StepBuy      StepKind = "buy"
	StepTransfer StepKind = "transfer"
	StepSell     StepKind = "sell"
)

// RouteStep is one leg of a Route (spec §3).
type RouteStep struct {
	Kind         StepKind
	FromVenue    venues.VenueID
	FromCurrency venues.Currency
	ToVenue      venues.VenueID
	ToCurrency   venues.Currency
	FeePct       float64
	FeeAbsolute  float64
	SlippagePct  float64
	TimeMinutes  float64
	PriceUsed    float64
	AmountIn     float64
	AmountOut    float64
}

// Route is a complete three-step bridge-coin plan (spec §3).
type Route struct {
	FromVenue        venues.VenueID
	FromCurrency     venues.Currency
	ToVenue          venues.VenueID
	ToCurrency       venues.Currency
	InputAmount      float64
	BridgeCoin       string
	Steps            []RouteStep
	TotalCostPct     float64
	TotalTimeMinutes float64
	EstimatedOutput  float64
	Action           decision.Action
	Confidence       float64
	Recommendation   string // GOOD_DEAL, PROCEED, EXPENSIVE, VERY_EXPENSIVE
	Summary          string
}

// Meta describes which bridge coins were evaluated vs skipped, and the
// market data consulted while building the plan.
type Meta struct {
	EvaluatedCoins []string
	SkippedCoins   map[string]string // coin -> skip reason
	FXRateUsed     float64
	VenuePrices    map[string]float64 // "venue:coin" -> price
}

// Plan is the result of FindOptimalRoute.
type Plan struct {
	Optimal      *Route
	Alternatives []Route
	Meta         Meta
}

// MarketView supplies the live/cached market data FindOptimalRoute needs.
// Implementations read from the Upstream Price Cache singletons and the
// venues clients; FindOptimalRoute itself stays a pure function over this
// interface's returned snapshots plus the SnapshotReader used for
// premiumTrend.
type MarketView interface {
	KoreanPrice(ctx context.Context, venue venues.VenueID, coin string) (float64, bool)
	GlobalPrice(ctx context.Context, coin string) (float64, bool)
	TopAsks(ctx context.Context, venue venues.VenueID, coin string) ([]decision.AskLevel, bool)
	FXRate(ctx context.Context) float64
}
