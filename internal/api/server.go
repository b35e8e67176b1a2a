package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/crossfin/gateway/internal/cache"
	"github.com/crossfin/gateway/internal/db"
	"github.com/crossfin/gateway/internal/marketview"
	"github.com/crossfin/gateway/internal/metrics"
	"github.com/crossfin/gateway/internal/ratelimit"
	"github.com/crossfin/gateway/internal/registry"
	"github.com/crossfin/gateway/internal/snapshots"
	"github.com/crossfin/gateway/internal/venues"
)

// Server represents the REST API server
type Server struct {
	router *gin.Engine
	db     *db.DB
	addr   string
	server *http.Server

	bithumbCache *cache.TTLCache[cache.BithumbTickerMap]
	globalCache  *cache.GlobalPriceCache
	fxCache      *cache.TTLCache[float64]
	onchainCache *cache.TTLCache[[]cache.USDCTransfer]

	bithumbClient *venues.BithumbClient
	upbitClient   *venues.UpbitClient
	coinoneClient *venues.CoinoneClient

	market *marketview.View

	snapshots         *snapshots.Store
	registry          *registry.Store
	registryValidator registry.EndpointValidator

	apiKeys     *APIKeyStore
	authConfig  *AuthConfig
	publicLimit *ratelimit.PublicRouteLimiter
	proxyLimit  *ratelimit.ProxyLimiter
	adminToken  string
}

// Config contains server configuration
type Config struct {
	Host string
	Port int
	DB   *db.DB

	BithumbCache *cache.TTLCache[cache.BithumbTickerMap]
	GlobalCache  *cache.GlobalPriceCache
	FXCache      *cache.TTLCache[float64]
	OnchainCache *cache.TTLCache[[]cache.USDCTransfer]

	BithumbClient *venues.BithumbClient
	UpbitClient   *venues.UpbitClient
	CoinoneClient *venues.CoinoneClient

	Snapshots         *snapshots.Store
	Registry          *registry.Store
	RegistryValidator registry.EndpointValidator

	APIKeys    *APIKeyStore
	AuthConfig *AuthConfig
	AdminToken string

	Log zerolog.Logger
}

// NewServer creates a new API server
func NewServer(config Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())
	router.Use(metrics.GinMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-API-Key"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)

	authConfig := config.AuthConfig
	if authConfig == nil {
		authConfig = DefaultAuthConfig()
	}

	market := marketview.New(config.BithumbCache, config.GlobalCache, config.FXCache, config.BithumbClient, config.UpbitClient, config.CoinoneClient, config.Log)

	var proxyLimit *ratelimit.ProxyLimiter
	if config.Registry != nil {
		proxyLimit = ratelimit.NewProxyLimiter(config.Registry)
	}

	server := &Server{
		router:            router,
		db:                config.DB,
		addr:              addr,
		bithumbCache:      config.BithumbCache,
		globalCache:       config.GlobalCache,
		fxCache:           config.FXCache,
		onchainCache:      config.OnchainCache,
		bithumbClient:     config.BithumbClient,
		upbitClient:       config.UpbitClient,
		coinoneClient:     config.CoinoneClient,
		market:            market,
		snapshots:         config.Snapshots,
		registry:          config.Registry,
		registryValidator: config.RegistryValidator,
		apiKeys:           config.APIKeys,
		authConfig:        authConfig,
		publicLimit:       ratelimit.NewPublicRouteLimiter(),
		proxyLimit:        proxyLimit,
		adminToken:        config.AdminToken,
	}

	server.setupRoutes()

	return server
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("Stopping API server")

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
	}

	return nil
}

// LoggerMiddleware is a custom logging middleware for Gin
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		clientIP := c.ClientIP()
		method := c.Request.Method

		logEvent := log.Info().
			Str("method", method).
			Str("path", path).
			Str("query", query).
			Int("status", statusCode).
			Dur("latency", latency).
			Str("client_ip", clientIP)

		if len(c.Errors) > 0 {
			logEvent.Str("errors", c.Errors.String())
		}

		logEvent.Msg("API request")
	}
}

// AdminOnly gates a route on an X-Admin-Token header equal to
// CROSSFIN_ADMIN_TOKEN (spec
// §6's env var table: "Required for admin operations (registry reseed,
// snapshot cron trigger)"). It is intentionally separate from the
// AuthMiddleware/APIKeyStore apparatus, which authenticates agents, not
// operators.
func (s *Server) AdminOnly(c *gin.Context) {
	if s.adminToken == "" {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin operations are disabled"})
		return
	}
	token := c.GetHeader("X-Admin-Token")
	if token == "" || token != s.adminToken {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin token"})
		return
	}
	c.Next()
}

// PublicRateLimit enforces the public per-route fixed-window limit (spec §5,
// Scenario F): 120 requests per 60s per (client, route).
func (s *Server) PublicRateLimit(c *gin.Context) {
	clientKey := ratelimit.ClientKey(c.Request)
	routeKey := ratelimit.RouteKey(c.FullPath())
	if !s.publicLimit.Allow(clientKey, routeKey) {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
		return
	}
	c.Next()
}

// CheckProxyLimit reports whether agentID may place another call against
// serviceID, per the per-service/per-agent-global proxy limits (spec §5,
// item 2). The actual request forwarding and service_calls logging is done
// by the external proxy/payment middleware (out of scope, spec §1); this is
// the read-only gate that middleware calls before forwarding.
func (s *Server) CheckProxyLimit(ctx context.Context, agentID, serviceID string) (bool, error) {
	if s.proxyLimit == nil {
		return true, nil
	}
	return s.proxyLimit.Allow(ctx, agentID, serviceID)
}
