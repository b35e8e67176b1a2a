// Package main starts the CrossFin gateway REST API: it loads
// configuration, validates the runtime environment, wires the Upstream
// Price Cache singletons to their venue clients, and serves the public and
// agent-facing routes until an interrupt signal arrives.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/crossfin/gateway/internal/api"
	"github.com/crossfin/gateway/internal/cache"
	"github.com/crossfin/gateway/internal/config"
	"github.com/crossfin/gateway/internal/db"
	"github.com/crossfin/gateway/internal/httpclient"
	"github.com/crossfin/gateway/internal/metrics"
	"github.com/crossfin/gateway/internal/registry"
	"github.com/crossfin/gateway/internal/risk"
	"github.com/crossfin/gateway/internal/snapshots"
	"github.com/crossfin/gateway/internal/venues"
)

func main() {
	verifyFacilitator := flag.Bool("verify-facilitator", false, "probe the x402 facilitator's health endpoint at startup")
	flag.Parse()

	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	config.InitLogger(cfg.App.LogLevel, "json")
	if cfg.App.Environment == "development" {
		config.InitLogger(cfg.App.LogLevel, "console")
	}

	ctx := context.Background()

	if err := loadVaultSecrets(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("failed to load secrets from Vault")
	}

	if os.Getenv("DATABASE_URL") == "" {
		_ = os.Setenv("DATABASE_URL", cfg.Database.GetDSN())
	}

	validatorOpts := config.DefaultValidatorOptions()
	validatorOpts.VerifyFacilitator = *verifyFacilitator
	if err := config.NewValidator(cfg, validatorOpts).ValidateStartup(ctx); err != nil {
		log.Fatal().Err(err).Msg("startup validation failed")
	}

	database, err := db.New(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer database.Close()

	circuitBreakers := risk.NewCircuitBreakerManager()
	database.SetCircuitBreaker(circuitBreakers)

	httpLog := config.NewLogger("httpclient")
	client := httpclient.New("cloudflare-dns.com", httpLog)
	client.SetCircuitBreaker(circuitBreakers)

	bithumbClient := venues.NewBithumbClient(client)
	upbitClient := venues.NewUpbitClient(client)
	coinoneClient := venues.NewCoinoneClient(client)
	binanceClient := venues.NewBinanceClient(client)
	fxClient := venues.NewExchangeRateClient(client, "")
	coinGeckoClient := venues.NewCoinGeckoClient(client, os.Getenv("COINGECKO_API_KEY"))
	simplePriceBaseURL := os.Getenv("SIMPLE_PRICE_BASE_URL")
	if simplePriceBaseURL == "" {
		simplePriceBaseURL = "https://api.coincap.io/v2/assets/prices"
	}
	simplePriceClient := venues.NewSimplePriceClient(client, simplePriceBaseURL)
	chainRPCClient := venues.NewChainRPCClient(
		client,
		chainRPCEndpoints(),
		cfg.X402.USDCContractAddress,
		cfg.X402.PaymentReceiverAddress,
	)

	snapshotStore := snapshots.NewStore(database.Pool(), config.NewLogger("snapshots"))
	registryStore := registry.NewStore(database.Pool(), config.NewLogger("registry"))
	if err := registryStore.Seed(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to seed service registry")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.GetRedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	redisPersist := cache.NewRedisPersist(metrics.NewRedisMetrics(redisClient), 10*time.Minute, config.NewLogger("cache.redis"))

	bithumbCache := cache.NewBithumbCache(bithumbClient, config.NewLogger("cache.bithumb")).WithRedisPersistence(redisPersist)
	fxCache := cache.NewFXCache(fxClient, config.NewLogger("cache.fx")).WithRedisPersistence(redisPersist)
	globalCache := cache.NewGlobalPriceCache(
		cfg.Routing.TrackedCoins,
		binanceClient,
		coinGeckoClient,
		simplePriceClient,
		snapshotStore,
		config.NewLogger("cache.global"),
	).WithRedisPersistence(redisPersist)
	onchainCache := cache.NewOnChainReceivesCache(chainRPCClient, config.NewLogger("cache.onchain")).WithRedisPersistence(redisPersist)

	apiKeys := api.NewAPIKeyStore(database.Pool(), true)

	server := api.NewServer(api.Config{
		Host: cfg.API.Host,
		Port: cfg.API.Port,
		DB:   database,

		BithumbCache: bithumbCache,
		GlobalCache:  globalCache,
		FXCache:      fxCache,
		OnchainCache: onchainCache,

		BithumbClient: bithumbClient,
		UpbitClient:   upbitClient,
		CoinoneClient: coinoneClient,

		Snapshots:         snapshotStore,
		Registry:          registryStore,
		RegistryValidator: client,

		APIKeys:    apiKeys,
		AuthConfig: api.DefaultAuthConfig(),
		AdminToken: cfg.Admin.AdminToken,

		Log: config.NewLogger("api"),
	})

	metricsServer := metrics.NewServer(cfg.Monitoring.PrometheusPort, config.NewLogger("metrics"))
	go func() {
		if err := metricsServer.Start(); err != nil {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	updaterCtx, cancelUpdater := context.WithCancel(context.Background())
	metricsUpdater := metrics.NewUpdater(database.Pool(), 15*time.Second)
	go metricsUpdater.Start(updaterCtx)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("API server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down CrossFin gateway")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("API server shutdown error")
	}
	metricsUpdater.Stop()
	cancelUpdater()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("metrics server shutdown error")
	}

	log.Info().Msg("CrossFin gateway stopped")
}

// loadVaultSecrets pulls database, admin-token, and x402 secrets from Vault
// when VAULT_ENABLED is set, overlaying the values config.Load already read
// from file/env defaults.
func loadVaultSecrets(ctx context.Context, cfg *config.Config) error {
	vaultEnabled := os.Getenv("VAULT_ENABLED")
	if vaultEnabled != "true" && vaultEnabled != "1" {
		return nil
	}

	vaultCfg := config.GetVaultConfigFromEnv()
	return config.LoadSecretsFromVault(ctx, cfg, vaultCfg)
}

// chainRPCEndpoints returns the public RPC endpoints tried in order for
// USDC receive-event polling (spec §4.2, row "On-chain USDC receives").
func chainRPCEndpoints() []string {
	if endpoints := os.Getenv("CHAIN_RPC_ENDPOINTS"); endpoints != "" {
		parts := strings.Split(endpoints, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	}
	return []string{
		"https://base.publicnode.com",
		"https://base-rpc.publicnode.com",
		"https://mainnet.base.org",
	}
}
