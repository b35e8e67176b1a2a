package api

// setupRoutes configures all API routes (spec §6's endpoint table).
func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleRoot)
	s.router.GET("/api/v1/health", s.handleGetHealth)
	s.router.GET("/api/v1/status", s.handleGetStatus)

	premium := s.router.Group("/api/premium")
	premium.Use(s.PublicRateLimit)
	{
		premium.GET("/arbitrage/kimchi", s.handleKimchiPremium)
		premium.GET("/arbitrage/kimchi/history", s.handleKimchiHistory)
		premium.GET("/arbitrage/opportunities", s.handleArbitrageOpportunities)
		premium.GET("/bithumb/orderbook", s.handleBithumbOrderbook)
		premium.GET("/bithumb/volume-analysis", s.handleBithumbVolumeAnalysis)
		premium.GET("/market/cross-exchange", s.handleCrossExchange)
		premium.GET("/route/find", s.handleRouteFind)
	}

	route := s.router.Group("/api/route")
	route.Use(s.PublicRateLimit)
	{
		route.GET("/exchanges", s.handleRouteExchanges)
		route.GET("/fees", s.handleRouteFees)
		route.GET("/pairs", s.handleRoutePairs)
		route.GET("/status", s.handleRouteStatus)
	}

	s.router.GET("/api/arbitrage/demo", s.PublicRateLimit, s.handleArbitrageDemo)
	s.router.GET("/api/onchain/usdc-transfers", s.PublicRateLimit, s.handleUSDCTransfers)

	registryGroup := s.router.Group("/api/registry")
	{
		registryGroup.GET("/search", s.PublicRateLimit, s.handleRegistrySearch)
		if s.apiKeys != nil {
			registryGroup.POST("", AuthMiddleware(s.apiKeys, s.authConfig), RequirePermission("registry:write"), s.handleRegistryCreate)
		} else {
			registryGroup.POST("", s.handleRegistryCreate)
		}
	}

	admin := s.router.Group("/api/admin")
	admin.Use(s.AdminOnly)
	{
		admin.POST("/registry/reseed", s.handleAdminRegistryReseed)
		admin.POST("/snapshots/trigger", s.handleAdminSnapshotTrigger)
	}
}
