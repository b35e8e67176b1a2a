package api

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/crossfin/gateway/internal/aggregation"
	"github.com/crossfin/gateway/internal/apierr"
	"github.com/crossfin/gateway/internal/cache"
	"github.com/crossfin/gateway/internal/decision"
	"github.com/crossfin/gateway/internal/registry"
	"github.com/crossfin/gateway/internal/routing"
	"github.com/crossfin/gateway/internal/snapshots"
	"github.com/crossfin/gateway/internal/venues"
)

var startTime = time.Now()

func toMB(bytes uint64) uint64 {
	return bytes / 1024 / 1024
}

// handleRoot identifies the service.
func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "CrossFin Gateway",
		"version": "1.0.0",
		"status":  "running",
		"time":    time.Now().UTC(),
	})
}

// handleGetStatus returns comprehensive system status.
func (s *Server) handleGetStatus(c *gin.Context) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	dbStatus := "healthy"
	if s.db != nil {
		if err := s.db.Ping(c.Request.Context()); err != nil {
			dbStatus = "unhealthy"
			log.Warn().Err(err).Msg("database health check failed")
		}
	} else {
		dbStatus = "not_configured"
	}

	systemStatus := "healthy"
	if dbStatus != "healthy" {
		systemStatus = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    systemStatus,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(startTime).Seconds(),
		"version":   "1.0.0",
		"components": gin.H{
			"database": gin.H{"status": dbStatus},
		},
		"system": gin.H{
			"goroutines": runtime.NumGoroutine(),
			"memory": gin.H{
				"alloc_mb":       toMB(memStats.Alloc),
				"total_alloc_mb": toMB(memStats.TotalAlloc),
				"sys_mb":         toMB(memStats.Sys),
				"num_gc":         memStats.NumGC,
			},
			"go_version": runtime.Version(),
		},
	})
}

// handleGetHealth is a fast liveness check for load balancers.
func (s *Server) handleGetHealth(c *gin.Context) {
	if s.db != nil {
		if err := s.db.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "database unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": time.Now().UTC()})
}

// loadMarketMaps fetches the three cache singletons feeding the
// aggregation layer, tolerating any one of them being unavailable.
func (s *Server) loadMarketMaps(ctx context.Context) (cache.BithumbTickerMap, cache.GlobalPriceMap, float64) {
	bithumb, err := s.bithumbCache.Get(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("bithumb cache unavailable")
	}
	global, err := s.globalCache.Get(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("global price cache unavailable")
	}
	rate, err := s.fxCache.Get(ctx)
	if err != nil || rate <= 0 {
		rate = cache.FXBaselineKRWPerUSD
	}
	return bithumb, global, rate
}

// handleKimchiPremium serves the paid Kimchi-Premium comparison (spec §6).
func (s *Server) handleKimchiPremium(c *gin.Context) {
	ctx := c.Request.Context()
	bithumb, global, fxRate := s.loadMarketMaps(ctx)

	rows := aggregation.KimchiRows(bithumb, global, fxRate)
	stats := aggregation.KimchiStats(rows)

	if s.snapshots != nil && len(rows) > 0 {
		go s.recordKimchiSnapshots(rows, fxRate)
	}

	c.JSON(http.StatusOK, gin.H{
		"paid":          true,
		"service":       "kimchi-premium",
		"krwUsdRate":    fxRate,
		"pairsTracked":  stats.PairsTracked,
		"avgPremiumPct": stats.AvgPremiumPct,
		"topPremium":    stats.TopPremium,
		"premiums":      rows,
		"at":            time.Now().UTC(),
	})
}

// recordKimchiSnapshots persists the just-served rows so the history
// endpoint and PremiumTrend have real data to read back. Runs detached
// from the request that triggered it.
func (s *Server) recordKimchiSnapshots(rows []aggregation.KimchiRow, fxRate float64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	records := make([]snapshots.Record, 0, len(rows))
	for _, r := range rows {
		records = append(records, snapshots.Record{
			Coin:         r.Coin,
			BithumbKRW:   r.BithumbKRW,
			BinanceUSD:   r.BinanceUSD,
			PremiumPct:   r.PremiumPct,
			KRWUSDRate:   fxRate,
			Volume24hUSD: r.Volume24hUSD,
		})
	}
	if err := s.snapshots.Insert(ctx, records); err != nil {
		log.Warn().Err(err).Msg("failed to record kimchi snapshots")
	}
}

// handleKimchiHistory serves persisted premium history for one coin.
func (s *Server) handleKimchiHistory(c *gin.Context) {
	coin := strings.ToUpper(c.Query("coin"))
	if coin == "" {
		apierr.Respond(c, apierr.BadInput("coin query parameter is required"))
		return
	}
	if s.snapshots == nil {
		apierr.Respond(c, apierr.New(apierr.KindUpstreamUnavailable, "snapshot history is not configured"))
		return
	}

	hours := clampInt(parseIntDefault(c.Query("hours"), 24), 1, 168)
	rows, err := s.snapshots.History(c.Request.Context(), coin, time.Duration(hours)*time.Hour)
	if err != nil {
		log.Error().Err(err).Str("coin", coin).Msg("failed to load kimchi history")
		apierr.Respond(c, apierr.New(apierr.KindInternal, "failed to load history"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"coin":    coin,
		"hours":   hours,
		"history": rows,
	})
}

// handleArbitrageOpportunities enriches each Kimchi row with slippage,
// premium trend, and an EXECUTE/WAIT/SKIP recommendation (spec §4.4).
func (s *Server) handleArbitrageOpportunities(c *gin.Context) {
	ctx := c.Request.Context()
	bithumb, global, fxRate := s.loadMarketMaps(ctx)
	rows := aggregation.KimchiRows(bithumb, global, fxRate)

	type opportunity struct {
		Coin            string         `json:"coin"`
		PremiumPct      float64        `json:"premiumPct"`
		SlippagePct     float64        `json:"slippagePct"`
		TrendDirection  string         `json:"trendDirection"`
		VolatilityPct   float64        `json:"volatilityPct"`
		Action          decision.Action `json:"action"`
		Confidence      float64        `json:"confidence"`
		Reason          string         `json:"reason"`
	}

	opportunities := make([]opportunity, 0, len(rows))
	for _, row := range rows {
		slippage := decision.DefaultSlippageFallbackPct
		if asks, ok := s.market.TopAsks(ctx, venues.VenueBithumb, row.Coin); ok {
			slippage = decision.SlippageFromAsks(asks, row.Volume24hUSD*0.01)
		}

		trend := decision.PremiumTrend(ctx, s.snapshots, row.Coin, 6)
		netProfitPct := row.PremiumPct - venues.KimchiRoundTripFeePct()
		d := decision.ComputeAction(netProfitPct, slippage, 10, trend.VolatilityPct)

		opportunities = append(opportunities, opportunity{
			Coin:           row.Coin,
			PremiumPct:     row.PremiumPct,
			SlippagePct:    decision.Round2(slippage),
			TrendDirection: string(trend.Direction),
			VolatilityPct:  decision.Round2(trend.VolatilityPct),
			Action:         d.Action,
			Confidence:     d.Confidence,
			Reason:         d.Reason,
		})
	}

	condition := "neutral"
	if len(rows) > 0 {
		condition = marketConditionFromPremium(rows[0].PremiumPct)
	}

	c.JSON(http.StatusOK, gin.H{
		"opportunities":   opportunities,
		"marketCondition": condition,
		"at":              time.Now().UTC(),
	})
}

func marketConditionFromPremium(premiumPct float64) string {
	abs := premiumPct
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs >= 2.0:
		return "volatile"
	case abs >= 0.5:
		return "favorable"
	default:
		return "unfavorable"
	}
}

// handleBithumbOrderbook serves raw ask-side order book depth for a pair.
func (s *Server) handleBithumbOrderbook(c *gin.Context) {
	pair := c.Query("pair")
	if pair == "" {
		apierr.Respond(c, apierr.BadInput("pair query parameter is required (e.g. BTC_KRW)"))
		return
	}

	levels, err := s.bithumbClient.FetchOrderbook(c.Request.Context(), pair)
	if err != nil {
		apierr.Respond(c, apierr.FromHTTPClient(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"pair":  pair,
		"asks":  levels,
		"at":    time.Now().UTC(),
	})
}

// handleBithumbVolumeAnalysis serves the 24h volume ranking.
func (s *Server) handleBithumbVolumeAnalysis(c *gin.Context) {
	ctx := c.Request.Context()
	bithumb, err := s.bithumbCache.Get(ctx)
	if err != nil {
		apierr.Respond(c, apierr.FromHTTPClient(err))
		return
	}
	fxRate := s.market.FXRate(ctx)

	analysis := aggregation.BithumbVolumeAnalysis(bithumb, fxRate)
	c.JSON(http.StatusOK, analysis)
}

// handleCrossExchange serves the per-venue KRW/USD comparison.
func (s *Server) handleCrossExchange(c *gin.Context) {
	ctx := c.Request.Context()
	coins := splitCSV(c.Query("coins"))
	if len(coins) == 0 {
		for _, sym := range venues.TrackedSymbols {
			coins = append(coins, sym.Coin)
		}
	}

	bithumb, global, fxRate := s.loadMarketMaps(ctx)
	rows := aggregation.CrossExchange(ctx, coins, bithumb, global, fxRate, s.upbitClient, s.coinoneClient)

	candidates := 0
	for _, r := range rows {
		if r.Action == "ARBITRAGE" {
			candidates++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"coins":                   rows,
		"arbitrageCandidateCount": candidates,
		"at":                      time.Now().UTC(),
	})
}

// handleRouteFind is the Routing Engine's paid entry point (spec §4.5, §6).
func (s *Server) handleRouteFind(c *gin.Context) {
	from := c.Query("from")
	to := c.Query("to")
	amountStr := c.Query("amount")
	strategy := routing.Strategy(c.DefaultQuery("strategy", string(routing.StrategyCheapest)))

	fromVenue, fromCurrency, err := splitVenueCurrency(from)
	if err != nil {
		apierr.Respond(c, apierr.BadInput("from must be formatted as venue:currency, e.g. bithumb:KRW"))
		return
	}
	toVenue, toCurrency, err := splitVenueCurrency(to)
	if err != nil {
		apierr.Respond(c, apierr.BadInput("to must be formatted as venue:currency, e.g. binance:USD"))
		return
	}
	amount, err := strconv.ParseFloat(amountStr, 64)
	if err != nil {
		apierr.Respond(c, apierr.BadInput("amount must be a number"))
		return
	}

	plan, err := routing.FindOptimalRoute(c.Request.Context(), s.market, s.snapshots, fromVenue, fromCurrency, toVenue, toCurrency, amount, strategy)
	if err != nil {
		if badInput, ok := err.(*routing.BadInputError); ok {
			apierr.Respond(c, apierr.BadInput(badInput.Error()))
			return
		}
		apierr.Respond(c, apierr.New(apierr.KindInternal, "failed to compute route"))
		return
	}

	c.JSON(http.StatusOK, plan)
}

// handleRouteExchanges serves the unpaid venue topology metadata.
func (s *Server) handleRouteExchanges(c *gin.Context) {
	exchanges := make([]venues.Exchange, 0, len(venues.Topology))
	for _, ex := range venues.Topology {
		exchanges = append(exchanges, ex)
	}
	sort.Slice(exchanges, func(i, j int) bool { return exchanges[i].ID < exchanges[j].ID })
	c.JSON(http.StatusOK, gin.H{"exchanges": exchanges})
}

// handleRouteFees serves the unpaid per-venue trading/withdrawal fee table.
func (s *Server) handleRouteFees(c *gin.Context) {
	fees := make(map[venues.VenueID]gin.H, len(venues.Topology))
	for id, ex := range venues.Topology {
		fees[id] = gin.H{
			"tradingFeePct":  ex.TradingFeePct,
			"withdrawalFees": ex.WithdrawalFees,
		}
	}
	c.JSON(http.StatusOK, gin.H{"fees": fees})
}

// handleRoutePairs serves the unpaid tracked-coin list.
func (s *Server) handleRoutePairs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pairs": venues.TrackedSymbols})
}

// handleRouteStatus serves an unpaid summary of routing readiness.
func (s *Server) handleRouteStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"exchanges": len(venues.Topology),
		"pairs":     len(venues.TrackedSymbols),
		"fxRate":    s.market.FXRate(c.Request.Context()),
		"at":        time.Now().UTC(),
	})
}

var demoCoins = []string{"BTC", "ETH", "XRP"}

type demoRow struct {
	Coin       string         `json:"coin"`
	PremiumPct float64        `json:"premiumPct"`
	Action     decision.Action `json:"action"`
	Confidence float64        `json:"confidence"`
}

// handleArbitrageDemo serves a free, unauthenticated teaser (spec §6, §9
// Scenario D): live data if both sources are populated, otherwise the most
// recent persisted snapshot within 7 days, otherwise an all-zero fallback
// recommending SKIP.
func (s *Server) handleArbitrageDemo(c *gin.Context) {
	ctx := c.Request.Context()
	bithumb, err := s.bithumbCache.Get(ctx)
	liveBithumb := err == nil && len(bithumb) > 0
	global, err := s.globalCache.Get(ctx)
	liveGlobal := err == nil && len(global) > 0

	if liveBithumb && liveGlobal {
		fxRate := s.market.FXRate(ctx)
		rows := aggregation.KimchiRows(bithumb, global, fxRate)
		demo := demoPreview(rows)
		c.JSON(http.StatusOK, gin.H{"source": "live", "demo": demo, "at": time.Now().UTC()})
		return
	}

	if s.snapshots != nil {
		if demo, ok := s.demoFromSnapshots(ctx); ok {
			c.JSON(http.StatusOK, gin.H{"source": "snapshot", "demo": demo, "at": time.Now().UTC()})
			return
		}
	}

	fallback := make([]demoRow, 0, len(demoCoins))
	for _, coin := range demoCoins {
		fallback = append(fallback, demoRow{Coin: coin, PremiumPct: 0, Action: decision.ActionSkip, Confidence: 0.10})
	}
	c.JSON(http.StatusOK, gin.H{
		"source":          "fallback",
		"demo":            fallback,
		"marketCondition": "unfavorable",
		"at":              time.Now().UTC(),
	})
}

func demoPreview(rows []aggregation.KimchiRow) []demoRow {
	byCoin := make(map[string]aggregation.KimchiRow, len(rows))
	for _, r := range rows {
		byCoin[r.Coin] = r
	}

	out := make([]demoRow, 0, len(demoCoins))
	for _, coin := range demoCoins {
		row, ok := byCoin[coin]
		if !ok {
			continue
		}
		d := decision.ComputeAction(row.PremiumPct-venues.KimchiRoundTripFeePct(), decision.DefaultSlippageFallbackPct, 10, 0)
		out = append(out, demoRow{Coin: coin, PremiumPct: row.PremiumPct, Action: d.Action, Confidence: d.Confidence})
	}
	return out
}

func (s *Server) demoFromSnapshots(ctx context.Context) ([]demoRow, bool) {
	out := make([]demoRow, 0, len(demoCoins))
	for _, coin := range demoCoins {
		history, err := s.snapshots.History(ctx, coin, 7*24*time.Hour)
		if err != nil || len(history) == 0 {
			continue
		}
		latest := history[len(history)-1]
		d := decision.ComputeAction(latest.PremiumPct-venues.KimchiRoundTripFeePct(), decision.DefaultSlippageFallbackPct, 10, 0)
		out = append(out, demoRow{Coin: coin, PremiumPct: latest.PremiumPct, Action: d.Action, Confidence: d.Confidence})
	}
	return out, len(out) > 0
}

// handleUSDCTransfers serves the cached recent USDC receive events.
func (s *Server) handleUSDCTransfers(c *gin.Context) {
	limit := clampInt(parseIntDefault(c.Query("limit"), 20), 1, 20)

	transfers, err := s.onchainCache.Get(c.Request.Context())
	if err != nil {
		apierr.Respond(c, apierr.FromHTTPClient(err))
		return
	}
	if len(transfers) > limit {
		transfers = transfers[:limit]
	}

	c.JSON(http.StatusOK, gin.H{
		"transfers": transfers,
		"count":     len(transfers),
		"at":        time.Now().UTC(),
	})
}

// handleRegistrySearch serves the public service-catalog search.
func (s *Server) handleRegistrySearch(c *gin.Context) {
	if s.registry == nil {
		apierr.Respond(c, apierr.New(apierr.KindUpstreamUnavailable, "registry is not configured"))
		return
	}
	services, err := s.registry.Search(c.Request.Context(), c.Query("q"), 20)
	if err != nil {
		log.Error().Err(err).Msg("registry search failed")
		apierr.Respond(c, apierr.New(apierr.KindInternal, "search failed"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"services": services})
}

type registryCreateRequest struct {
	ID          string  `json:"id" binding:"required"`
	Name        string  `json:"name" binding:"required"`
	Description string  `json:"description"`
	Endpoint    string  `json:"endpoint" binding:"required"`
	PriceUSD    float64 `json:"priceUsd"`
	Category    string  `json:"category"`
}

// handleRegistryCreate registers a new agent-facing service, rejecting any
// endpoint that fails the SSRF validator before it is ever persisted
// (spec §9 Scenario E).
func (s *Server) handleRegistryCreate(c *gin.Context) {
	if s.registry == nil {
		apierr.Respond(c, apierr.New(apierr.KindUpstreamUnavailable, "registry is not configured"))
		return
	}

	var req registryCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.Respond(c, apierr.BadInput(fmt.Sprintf("invalid request: %v", err)))
		return
	}

	if s.registryValidator != nil {
		if err := s.registryValidator.ValidateURL(c.Request.Context(), req.Endpoint); err != nil {
			apierr.Respond(c, apierr.FromHTTPClient(err))
			return
		}
	}

	svc, err := s.registry.Create(c.Request.Context(), registry.CreateInput{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Endpoint:    req.Endpoint,
		PriceUSD:    req.PriceUSD,
		Category:    req.Category,
	})
	if err != nil {
		log.Error().Err(err).Str("id", req.ID).Msg("failed to create registry service")
		apierr.Respond(c, apierr.New(apierr.KindInternal, "failed to create service"))
		return
	}

	c.JSON(http.StatusCreated, svc)
}

// handleAdminRegistryReseed re-runs the idempotent seed bootstrap.
func (s *Server) handleAdminRegistryReseed(c *gin.Context) {
	if s.registry == nil {
		apierr.Respond(c, apierr.New(apierr.KindUpstreamUnavailable, "registry is not configured"))
		return
	}
	if err := s.registry.Seed(c.Request.Context()); err != nil {
		log.Error().Err(err).Msg("admin reseed failed")
		apierr.Respond(c, apierr.New(apierr.KindInternal, "reseed failed"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reseeded", "entries": len(registry.DefaultSeed)})
}

// handleAdminSnapshotTrigger forces an immediate Kimchi-Premium snapshot
// write, for operators who can't wait on the background cron cadence.
func (s *Server) handleAdminSnapshotTrigger(c *gin.Context) {
	if s.snapshots == nil {
		apierr.Respond(c, apierr.New(apierr.KindUpstreamUnavailable, "snapshots are not configured"))
		return
	}

	ctx := c.Request.Context()
	bithumb, global, fxRate := s.loadMarketMaps(ctx)
	rows := aggregation.KimchiRows(bithumb, global, fxRate)
	if len(rows) == 0 {
		c.JSON(http.StatusOK, gin.H{"status": "no rows to snapshot"})
		return
	}

	s.recordKimchiSnapshots(rows, fxRate)
	c.JSON(http.StatusOK, gin.H{"status": "triggered", "coins": len(rows)})
}

func parseIntDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func clampInt(n, min, max int) int {
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitVenueCurrency(raw string) (venue, currency string, err error) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("expected venue:currency, got %q", raw)
	}
	return parts[0], strings.ToUpper(parts[1]), nil
}
