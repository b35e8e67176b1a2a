package routing

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/crossfin/gateway/internal/decision"
	"github.com/crossfin/gateway/internal/metrics"
	"github.com/crossfin/gateway/internal/venues"
)

// BadInputError signals a validation failure (spec §4.5's validation
// rules); handlers map it to the "bad-input" error kind.
type BadInputError struct{ Message string }

func (e *BadInputError) Error() string { return e.Message }

// direction classifies the venue pair.
type direction int

const (
	directionKoreaToGlobal direction = iota
	directionGlobalToKorea
	directionDomestic
)

const (
	globalVenueBuySlippagePct = 0.10
	krwTopAsksMissingSlippage = 0.15
	highCostThresholdPct      = 2.0
	oneTradeExecutionMinutes  = 1.0
)

// FindOptimalRoute is the Routing Engine's single public operation (spec
// §4.5). It enumerates every tracked bridge coin, builds a three-step
// Route for each viable one, ranks by strategy, and returns the top route
// plus up to four alternatives.
func FindOptimalRoute(ctx context.Context, view MarketView, reader decision.SnapshotReader, fromVenue, fromCurrency, toVenue, toCurrency string, amount float64, strategy Strategy) (*Plan, error) {
	start := time.Now()
	outcome := "found"
	defer func() {
		metrics.RecordRouteComputation(float64(time.Since(start).Milliseconds()), outcome)
	}()

	source, ok := venues.LookupVenue(fromVenue)
	if !ok {
		outcome = "invalid_input"
		return nil, &BadInputError{Message: fmt.Sprintf("unknown source venue %q", fromVenue)}
	}
	dest, ok := venues.LookupVenue(toVenue)
	if !ok {
		outcome = "invalid_input"
		return nil, &BadInputError{Message: fmt.Sprintf("unknown destination venue %q", toVenue)}
	}
	if strategy == "" {
		strategy = StrategyCheapest
	}
	if strategy != StrategyCheapest && strategy != StrategyFastest && strategy != StrategyBalanced {
		outcome = "invalid_input"
		return nil, &BadInputError{Message: fmt.Sprintf("unknown strategy %q", strategy)}
	}
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		outcome = "invalid_input"
		return nil, &BadInputError{Message: "amount must be a positive, finite number"}
	}

	dir, ok := classifyDirection(source, dest)
	if !ok {
		outcome = "invalid_input"
		return nil, &BadInputError{Message: "unsupported venue direction: must be Korea->Global, Global->Korea, or Domestic"}
	}

	fxRate := view.FXRate(ctx)

	meta := Meta{
		SkippedCoins: make(map[string]string),
		FXRateUsed:   fxRate,
		VenuePrices:  make(map[string]float64),
	}

	var routes []Route
	for _, sym := range venues.TrackedSymbols {
		route, skipReason, err := buildRoute(ctx, view, reader, source, dest, venues.Currency(fromCurrency), venues.Currency(toCurrency), amount, sym.Coin, dir, fxRate, meta.VenuePrices)
		if err != nil {
			meta.SkippedCoins[sym.Coin] = err.Error()
			continue
		}
		if skipReason != "" {
			meta.SkippedCoins[sym.Coin] = skipReason
			continue
		}
		meta.EvaluatedCoins = append(meta.EvaluatedCoins, sym.Coin)
		routes = append(routes, *route)
	}

	if len(routes) == 0 {
		outcome = "no_route"
		return &Plan{Optimal: nil, Alternatives: []Route{}, Meta: meta}, nil
	}

	rankRoutes(routes, strategy)

	plan := &Plan{Optimal: &routes[0], Meta: meta}
	if len(routes) > 1 {
		end := len(routes)
		if end > 5 {
			end = 5
		}
		plan.Alternatives = append([]Route{}, routes[1:end]...)
	} else {
		plan.Alternatives = []Route{}
	}
	return plan, nil
}

func classifyDirection(source, dest venues.Exchange) (direction, bool) {
	switch {
	case source.IsKorean() && !dest.IsKorean():
		return directionKoreaToGlobal, true
	case !source.IsKorean() && dest.IsKorean():
		return directionGlobalToKorea, true
	case source.IsKorean() && dest.IsKorean():
		return directionDomestic, true
	default:
		return 0, false
	}
}

// buildRoute builds one bridge coin's Route, or returns a non-empty
// skipReason / error when the coin cannot be routed (spec §4.5 step 1-8).
func buildRoute(ctx context.Context, view MarketView, reader decision.SnapshotReader, source, dest venues.Exchange, fromCurrency, toCurrency venues.Currency, amount float64, coin string, dir direction, fxRate float64, venuePrices map[string]float64) (*Route, string, error) {
	if _, ok := source.WithdrawalFees[coin]; !ok {
		return nil, "no withdrawal fee entry on source venue", nil
	}

	var steps []RouteStep
	var coinsAfterBuy, sourcePrice, buySlippage float64

	switch dir {
	case directionKoreaToGlobal, directionDomestic:
		price, ok := view.KoreanPrice(ctx, source.ID, coin)
		if !ok || price <= 0 {
			return nil, "no price feed on source venue", nil
		}
		sourcePrice = price
		venuePrices[string(source.ID)+":"+coin] = price

		buySlippage = krwTopAsksMissingSlippage
		if asks, ok := view.TopAsks(ctx, source.ID, coin); ok {
			top10 := asks
			if len(top10) > 10 {
				top10 = top10[:10]
			}
			buySlippage = decision.SlippageFromAsks(top10, amount)
		}

		netInput := amount * (1 - source.TradingFeePct/100)
		coinsAfterBuy = netInput / (sourcePrice * (1 + buySlippage/100))

		steps = append(steps, RouteStep{
			Kind: StepBuy, FromVenue: source.ID, FromCurrency: fromCurrency,
			ToVenue: source.ID, ToCurrency: "", FeePct: source.TradingFeePct,
			FeeAbsolute: amount - netInput, SlippagePct: decision.Round2(buySlippage),
			PriceUsed: sourcePrice, AmountIn: amount, AmountOut: coinsAfterBuy,
		})

	case directionGlobalToKorea:
		price, ok := view.GlobalPrice(ctx, coin)
		if !ok || price <= 0 {
			return nil, "no global price feed", nil
		}
		sourcePrice = price
		venuePrices[string(source.ID)+":"+coin] = price
		buySlippage = globalVenueBuySlippagePct

		netInput := amount * (1 - source.TradingFeePct/100)
		coinsAfterBuy = netInput / (sourcePrice * (1 + buySlippage/100))

		steps = append(steps, RouteStep{
			Kind: StepBuy, FromVenue: source.ID, FromCurrency: fromCurrency,
			ToVenue: source.ID, FeePct: source.TradingFeePct,
			FeeAbsolute: amount - netInput, SlippagePct: decision.Round2(buySlippage),
			PriceUsed: sourcePrice, AmountIn: amount, AmountOut: coinsAfterBuy,
		})
	}

	if coinsAfterBuy <= 0 {
		return nil, "buy leg produced non-positive coin amount", nil
	}

	withdrawalFee := source.WithdrawalFees[coin]
	coinsAfterTransfer := coinsAfterBuy - withdrawalFee
	if coinsAfterTransfer <= 0 {
		return nil, "withdrawal fee exceeds coins bought", nil
	}
	transferTime := float64(venues.TransferTimeMinutes(coin))

	steps = append(steps, RouteStep{
		Kind: StepTransfer, FromVenue: source.ID, ToVenue: dest.ID,
		FeeAbsolute: withdrawalFee, TimeMinutes: transferTime,
		AmountIn: coinsAfterBuy, AmountOut: coinsAfterTransfer,
	})

	var output float64
	var sellPrice float64
	var destUSDLike bool

	if dest.ID == venues.VenueBinance {
		price, ok := view.GlobalPrice(ctx, coin)
		if !ok || price <= 0 {
			return nil, "destination cannot price coin", nil
		}
		sellPrice = price
		venuePrices[string(dest.ID)+":"+coin] = price
		output = coinsAfterTransfer * sellPrice * (1 - dest.TradingFeePct/100)
		destUSDLike = true
	} else {
		price, ok := view.KoreanPrice(ctx, dest.ID, coin)
		if !ok || price <= 0 {
			return nil, "destination cannot price coin", nil
		}
		sellPrice = price
		venuePrices[string(dest.ID)+":"+coin] = price
		output = coinsAfterTransfer * sellPrice * (1 - dest.TradingFeePct/100)
		destUSDLike = toCurrency == venues.CurrencyUSD
		if destUSDLike {
			output = output / fxRate
		}
	}

	steps = append(steps, RouteStep{
		Kind: StepSell, FromVenue: dest.ID, ToVenue: dest.ID,
		ToCurrency: toCurrency, FeePct: dest.TradingFeePct,
		PriceUsed: sellPrice, AmountIn: coinsAfterTransfer, AmountOut: decision.Round2(output),
	})

	inputValueUSD := amount
	if fromCurrency == venues.CurrencyKRW {
		inputValueUSD = amount / fxRate
	}
	outputValueUSD := output
	if !destUSDLike {
		outputValueUSD = output / fxRate
	}

	totalCostPct := decision.Round2((inputValueUSD - outputValueUSD) / inputValueUSD * 100)
	totalTime := transferTime + oneTradeExecutionMinutes

	trend := decision.PremiumTrend(ctx, reader, coin, 6)
	d := decision.ComputeAction(-totalCostPct, buySlippage, transferTime, trend.VolatilityPct)
	if totalCostPct >= highCostThresholdPct {
		d = decision.Decision{Action: decision.ActionSkip, Confidence: d.Confidence, Reason: fmt.Sprintf("total cost %.2f%% exceeds the high-cost threshold", totalCostPct)}
	}

	recommendation := recommendationBucket(totalCostPct)
	summary := fmt.Sprintf("Buy %s on %s, transfer to %s, sell for %s: cost %.2f%%, time %.0f min", coin, source.DisplayName, dest.DisplayName, toCurrency, totalCostPct, totalTime)

	route := &Route{
		FromVenue: source.ID, FromCurrency: fromCurrency,
		ToVenue: dest.ID, ToCurrency: toCurrency,
		InputAmount: amount, BridgeCoin: coin, Steps: steps,
		TotalCostPct: totalCostPct, TotalTimeMinutes: totalTime,
		EstimatedOutput: decision.Round2(output), Action: d.Action,
		Confidence: d.Confidence, Recommendation: recommendation, Summary: summary,
	}
	return route, "", nil
}

func recommendationBucket(costPct float64) string {
	switch {
	case costPct < 1:
		return "GOOD_DEAL"
	case costPct < 3:
		return "PROCEED"
	case costPct < 5:
		return "EXPENSIVE"
	default:
		return "VERY_EXPENSIVE"
	}
}

func rankRoutes(routes []Route, strategy Strategy) {
	switch strategy {
	case StrategyFastest:
		sort.SliceStable(routes, func(i, j int) bool { return routes[i].TotalTimeMinutes < routes[j].TotalTimeMinutes })
	case StrategyBalanced:
		score := func(r Route) float64 { return 0.7*r.TotalCostPct + 0.3*(r.TotalTimeMinutes/30) }
		sort.SliceStable(routes, func(i, j int) bool { return score(routes[i]) < score(routes[j]) })
	default:
		sort.SliceStable(routes, func(i, j int) bool { return routes[i].TotalCostPct < routes[j].TotalCostPct })
	}
}
