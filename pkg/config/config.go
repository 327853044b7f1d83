package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/storage/postgres"
)

const envPrefix = "TENANTGATE_"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      postgres.ConnectionConfig
	Redis         postgres.RedisConfig
	Cache         CacheConfig
	OIDC          OIDCConfig
	Seed          SeedConfig
	RateLimit     RateLimitConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// RunMigrations applies the schema on startup
	RunMigrations bool
}

// CacheConfig controls the role permission set cache
type CacheConfig struct {
	Enabled bool
	L1Size  int
	L1TTL   time.Duration
	L2TTL   time.Duration
}

// OIDCConfig configures bearer token verification
type OIDCConfig struct {
	IssuerURL string
	ClientID  string
}

// SeedConfig configures the role permission seed applied on startup
type SeedConfig struct {
	// File is a YAML seed; empty means built-in defaults
	File string
	// OnlyIfEmpty skips seeding when role_permissions already has rows
	OnlyIfEmpty bool
}

// RateLimitConfig configures per-identity request limits
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerWindow int
	Window            time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from TENANTGATE_* environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Cache:         loadCacheConfig(),
		OIDC:          loadOIDCConfig(),
		Seed:          loadSeedConfig(),
		RateLimit:     loadRateLimitConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("HOST", "0.0.0.0"),
		Port:            getEnv("PORT", "8080"),
		ReadTimeout:     getEnvDuration("READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("HEALTH_PORT", "9090"),
		RunMigrations:   getEnvBool("RUN_MIGRATIONS", true),
	}
}

func loadDatabaseConfig() postgres.ConnectionConfig {
	return postgres.ConnectionConfig{
		PrimaryURL:      getEnv("DATABASE_URL", ""),
		AuthzReaderURL:  getEnv("AUTHZ_READER_URL", ""),
		ReplicaURLs:     postgres.ParseReplicaURLs(getEnv("DATABASE_REPLICA_URLS", "")),
		MaxConns:        getEnvInt("DATABASE_MAX_CONNS", 20),
		MinConns:        getEnvInt("DATABASE_MIN_CONNS", 2),
		Timeout:         getEnvDuration("DATABASE_TIMEOUT", 5*time.Second),
		MaxLifetime:     getEnvDuration("DATABASE_MAX_LIFETIME", 30*time.Minute),
		MaxIdleTime:     getEnvDuration("DATABASE_MAX_IDLE_TIME", 5*time.Minute),
		HealthCheckFreq: getEnvDuration("DATABASE_HEALTH_CHECK_INTERVAL", 30*time.Second),
	}
}

func loadRedisConfig() postgres.RedisConfig {
	return postgres.RedisConfig{
		URL:        getEnv("REDIS_URL", ""),
		Password:   getEnv("REDIS_PASSWORD", ""),
		DB:         getEnvInt("REDIS_DB", -1),
		MaxRetries: getEnvInt("REDIS_MAX_RETRIES", 3),
		PoolSize:   getEnvInt("REDIS_POOL_SIZE", 10),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled: getEnvBool("CACHE_ENABLED", true),
		L1Size:  getEnvInt("CACHE_L1_SIZE", 64),
		L1TTL:   getEnvDuration("CACHE_L1_TTL", 30*time.Second),
		L2TTL:   getEnvDuration("CACHE_L2_TTL", 5*time.Minute),
	}
}

func loadOIDCConfig() OIDCConfig {
	return OIDCConfig{
		IssuerURL: getEnv("OIDC_ISSUER_URL", ""),
		ClientID:  getEnv("OIDC_CLIENT_ID", ""),
	}
}

func loadSeedConfig() SeedConfig {
	return SeedConfig{
		File:        getEnv("SEED_FILE", ""),
		OnlyIfEmpty: getEnvBool("SEED_ONLY_IF_EMPTY", true),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           getEnvBool("RATE_LIMIT_ENABLED", false),
		RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 600),
		Window:            getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("OTEL_SERVICE_NAME", "tenantgate"),
		OTelServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.PrimaryURL == "" {
		return fmt.Errorf("%sDATABASE_URL is required", envPrefix)
	}
	if c.Database.MaxConns <= 0 {
		return fmt.Errorf("database max conns must be positive")
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database min conns (%d) exceeds max conns (%d)", c.Database.MinConns, c.Database.MaxConns)
	}

	if c.OIDC.IssuerURL == "" || c.OIDC.ClientID == "" {
		return fmt.Errorf("OIDC issuer URL and client ID are required")
	}

	if c.Cache.Enabled && c.Cache.L1Size <= 0 {
		return fmt.Errorf("cache L1 size must be positive when the cache is enabled")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit requests and window must be positive")
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// OTel converts the observability settings into an observability.OTelConfig
func (c *Config) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.Observability.OTelEnabled,
		Endpoint:       c.Observability.OTelEndpoint,
		ServiceName:    c.Observability.OTelServiceName,
		ServiceVersion: c.Observability.OTelServiceVersion,
		Insecure:       c.Observability.OTelInsecure,
		SampleRatio:    c.Observability.OTelSampleRatio,
	}
}

// getEnv returns TENANTGATE_<key> or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(envPrefix + key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(envPrefix + key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(envPrefix + key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(envPrefix + key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
