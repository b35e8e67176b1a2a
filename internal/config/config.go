package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	API        APIConfig        `mapstructure:"api"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Routing    RoutingConfig    `mapstructure:"routing"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Cache      CacheConfig      `mapstructure:"cache"`
	X402       X402Config       `mapstructure:"x402"`
	Admin      AdminConfig      `mapstructure:"admin"`
	Features   FeatureFlags     `mapstructure:"features"`
}

// AppConfig contains application-level settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
}

// DatabaseConfig contains PostgreSQL settings for the kimchi_snapshots,
// services, and service_calls tables.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisConfig contains Redis settings, checked at startup by
// Validator.ValidateStartup as a liveness dependency.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// APIConfig contains REST API listener settings.
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// MonitoringConfig contains Prometheus metrics settings.
type MonitoringConfig struct {
	PrometheusPort int  `mapstructure:"prometheus_port"`
	EnableMetrics  bool `mapstructure:"enable_metrics"`
}

// RoutingConfig documents the fixed venue topology and FX bounds that
// internal/venues and internal/cache compile in as constants (spec §3,
// §4.2). It is surfaced here, and checked by Validate, so the running
// config always reports the same bounds enforced in code rather than
// silently drifting; it does not override those constants at runtime —
// see DESIGN.md for why the bounds stay compiled-in instead of
// viper-driven.
type RoutingConfig struct {
	TrackedCoins                []string `mapstructure:"tracked_coins"`
	FXBaselineKRWPerUSD         float64  `mapstructure:"fx_baseline_krw_per_usd"`
	FXRateMinKRWPerUSD          float64  `mapstructure:"fx_rate_min_krw_per_usd"`
	FXRateMaxKRWPerUSD          float64  `mapstructure:"fx_rate_max_krw_per_usd"`
	DefaultTransferTimeMins     int      `mapstructure:"default_transfer_time_mins"`
	DefaultSlippageFallbackPct  float64  `mapstructure:"default_slippage_fallback_pct"`
}

// RateLimitConfig mirrors the two fixed-window limiters in internal/ratelimit
// (spec §5). The limiters themselves hard-code the spec's exact numbers;
// these fields exist so an operator can see the active limits in the
// resolved config and so ops tooling that scrapes config can report them.
// Changing them does not change the limits the limiters enforce.
type RateLimitConfig struct {
	PublicRouteLimit      int           `mapstructure:"public_route_limit"`
	PublicRouteWindow     time.Duration `mapstructure:"public_route_window"`
	ProxyPerServiceLimit  int           `mapstructure:"proxy_per_service_limit"`
	ProxyPerAgentLimit    int           `mapstructure:"proxy_per_agent_limit"`
	ProxyWindow           time.Duration `mapstructure:"proxy_window"`
}

// CacheConfig tunes the Upstream Price Cache singletons (spec §4.2). Like
// RoutingConfig, the TTL values enforced by internal/cache are compiled-in
// (they are tested invariants, not operator knobs); this struct documents
// them for config introspection. SnapshotFallbackWindow likewise mirrors the
// 7-day snapshot-fallback lookback that internal/cache hard-codes; nothing
// reads it.
type CacheConfig struct {
	BithumbSuccessTTL    time.Duration `mapstructure:"bithumb_success_ttl"`
	BithumbFailureTTL    time.Duration `mapstructure:"bithumb_failure_ttl"`
	GlobalSuccessTTL     time.Duration `mapstructure:"global_success_ttl"`
	GlobalFailureTTL     time.Duration `mapstructure:"global_failure_ttl"`
	FXSuccessTTL         time.Duration `mapstructure:"fx_success_ttl"`
	FXFailureTTL         time.Duration `mapstructure:"fx_failure_ttl"`
	SnapshotFallbackWindow time.Duration `mapstructure:"snapshot_fallback_window"`
}

// X402Config carries the read-only parameters handed to the (external,
// unimplemented) x402 payment middleware and to the on-chain receives
// cache, per spec §1/§4.2.
type X402Config struct {
	Network                string `mapstructure:"network"` // CAIP-2, e.g. "eip155:8453"
	FacilitatorURL         string `mapstructure:"facilitator_url"`
	PaymentReceiverAddress string `mapstructure:"payment_receiver_address"`
	USDCContractAddress    string `mapstructure:"usdc_contract_address"`
}

// AdminConfig carries the shared-secret token gating registry-reseed and
// snapshot-cron-trigger routes (spec §6).
type AdminConfig struct {
	AdminToken string `mapstructure:"admin_token"`
}

// FeatureFlags holds optional feature switches. GuardianEnabled is loaded
// from config but nothing reads it; no background decision scoring runs.
type FeatureFlags struct {
	GuardianEnabled bool `mapstructure:"guardian_enabled"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("CROSSFIN")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "CrossFin Gateway")
	v.SetDefault("app.version", Version)
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "crossfin")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", APIServerPort)

	// Monitoring defaults
	v.SetDefault("monitoring.prometheus_port", PrometheusMetricsPort)
	v.SetDefault("monitoring.enable_metrics", true)

	// Routing defaults (spec §3/§4.2 fixed constants, mirrored for
	// introspection; see RoutingConfig doc comment)
	v.SetDefault("routing.tracked_coins", []string{
		"BTC", "ETH", "XRP", "USDT", "USDC", "SOL", "TRX", "DOGE", "ADA", "LTC", "XLM",
	})
	v.SetDefault("routing.fx_baseline_krw_per_usd", 1450.0)
	v.SetDefault("routing.fx_rate_min_krw_per_usd", 500.0)
	v.SetDefault("routing.fx_rate_max_krw_per_usd", 5000.0)
	v.SetDefault("routing.default_transfer_time_mins", 10)
	v.SetDefault("routing.default_slippage_fallback_pct", 2.0)

	// Rate limit defaults (spec §5 fixed constants, mirrored for
	// introspection; see RateLimitConfig doc comment)
	v.SetDefault("rate_limit.public_route_limit", 120)
	v.SetDefault("rate_limit.public_route_window", 60*time.Second)
	v.SetDefault("rate_limit.proxy_per_service_limit", 60)
	v.SetDefault("rate_limit.proxy_per_agent_limit", 240)
	v.SetDefault("rate_limit.proxy_window", 60*time.Second)

	// Cache defaults (spec §4.2 table)
	v.SetDefault("cache.bithumb_success_ttl", 10*time.Second)
	v.SetDefault("cache.bithumb_failure_ttl", 2*time.Second)
	v.SetDefault("cache.global_success_ttl", 30*time.Second)
	v.SetDefault("cache.global_failure_ttl", 5*time.Second)
	v.SetDefault("cache.fx_success_ttl", 5*time.Minute)
	v.SetDefault("cache.fx_failure_ttl", 1*time.Minute)
	v.SetDefault("cache.snapshot_fallback_window", 7*24*time.Hour)

	// x402 defaults
	v.SetDefault("x402.network", "eip155:8453") // Base mainnet
	v.SetDefault("x402.facilitator_url", "")
	v.SetDefault("x402.payment_receiver_address", "")
	v.SetDefault("x402.usdc_contract_address", "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")

	// Admin defaults
	v.SetDefault("admin.admin_token", "")

	// Feature flags
	v.SetDefault("features.guardian_enabled", false)
}

// GetDSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// GetRedisAddr returns the Redis address.
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAPIAddr returns the API server address.
func (c *APIConfig) GetAPIAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
