package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	// business timezones must resolve on hosts without a zoneinfo database
	_ "time/tzdata"

	"github.com/platinummonkey/assessly/pkg/middleware"
	"github.com/platinummonkey/assessly/pkg/observability"
	"github.com/platinummonkey/assessly/pkg/rbac"
	"github.com/robfig/cron/v3"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Ledger        LedgerConfig
	Policy        PolicyConfig
	Sweeper       SweeperConfig
	RateLimit     RateLimitConfig
	Audit         AuditConfig
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
	MaxBodyBytes    int64

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// LedgerConfig selects and tunes the grant ledger backend
type LedgerConfig struct {
	Backend        string
	DSN            string
	RedisURL       string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string
	CacheEnabled   bool
	CacheSize      int
	CacheTTL       time.Duration
}

// PolicyConfig points at the optional YAML policy and the business-hours zone
type PolicyConfig struct {
	File     string
	Timezone string
}

// SweeperConfig controls the in-process expired-grant sweeper
type SweeperConfig struct {
	Enabled  bool
	Schedule string
}

// RateLimitConfig throttles API callers
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerWindow int
	Window            time.Duration
	Burst             int
}

// AuditConfig controls the authorization audit trail
type AuditConfig struct {
	Enabled bool

	// File additionally appends events to this path when set, rotating at
	// FileMaxSize bytes and keeping FileMaxFiles rotated files
	File         string
	FileMaxSize  int64
	FileMaxFiles int

	// Persist stores events in the SQL ledger database and serves them under /audit
	Persist bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from ASSESSLY_* environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Ledger:        loadLedgerConfig(),
		Policy:        loadPolicyConfig(),
		Sweeper:       loadSweeperConfig(),
		RateLimit:     loadRateLimitConfig(),
		Audit: AuditConfig{
			Enabled:      getEnvBool("ASSESSLY_AUDIT_ENABLED", true),
			File:         getEnv("ASSESSLY_AUDIT_FILE", ""),
			FileMaxSize:  getEnvInt64("ASSESSLY_AUDIT_FILE_MAX_SIZE", 100*1024*1024),
			FileMaxFiles: getEnvInt("ASSESSLY_AUDIT_FILE_MAX_FILES", 10),
			Persist:      getEnvBool("ASSESSLY_AUDIT_PERSIST", false),
		},
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("ASSESSLY_HOST", "0.0.0.0"),
		Port:            getEnv("ASSESSLY_PORT", "8080"),
		ReadTimeout:     getEnvDuration("ASSESSLY_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("ASSESSLY_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("ASSESSLY_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("ASSESSLY_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("ASSESSLY_MAX_BODY_BYTES", 1<<20),
		HealthPort:      getEnv("ASSESSLY_HEALTH_PORT", "9090"),
	}
}

func loadLedgerConfig() LedgerConfig {
	cache := rbac.DefaultCacheConfig()
	return LedgerConfig{
		Backend:        strings.ToLower(getEnv("ASSESSLY_LEDGER_BACKEND", rbac.BackendMemory)),
		DSN:            getEnv("ASSESSLY_LEDGER_DSN", ""),
		RedisURL:       getEnv("ASSESSLY_REDIS_URL", ""),
		RedisPassword:  getEnv("ASSESSLY_REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("ASSESSLY_REDIS_DB", 0),
		RedisKeyPrefix: getEnv("ASSESSLY_REDIS_KEY_PREFIX", ""),
		CacheEnabled:   getEnvBool("ASSESSLY_CACHE_ENABLED", false),
		CacheSize:      getEnvInt("ASSESSLY_CACHE_SIZE", cache.MaxEntries),
		CacheTTL:       getEnvDuration("ASSESSLY_CACHE_TTL", cache.TTL),
	}
}

func loadPolicyConfig() PolicyConfig {
	return PolicyConfig{
		File:     getEnv("ASSESSLY_POLICY_FILE", ""),
		Timezone: getEnv("ASSESSLY_BUSINESS_TIMEZONE", ""),
	}
}

func loadSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Enabled:  getEnvBool("ASSESSLY_SWEEPER_ENABLED", true),
		Schedule: getEnv("ASSESSLY_SWEEPER_SCHEDULE", rbac.DefaultSweepSchedule),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	defaults := middleware.DefaultRateLimitConfig()
	return RateLimitConfig{
		Enabled:           getEnvBool("ASSESSLY_RATE_LIMIT_ENABLED", false),
		RequestsPerWindow: getEnvInt("ASSESSLY_RATE_LIMIT_REQUESTS", defaults.RequestsPerWindow),
		Window:            getEnvDuration("ASSESSLY_RATE_LIMIT_WINDOW", defaults.WindowDuration),
		Burst:             getEnvInt("ASSESSLY_RATE_LIMIT_BURST", defaults.BurstSize),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("ASSESSLY_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("ASSESSLY_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("ASSESSLY_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("ASSESSLY_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("ASSESSLY_OTEL_SERVICE_NAME", observability.DefaultServiceName),
		OTelServiceVersion: getEnv("ASSESSLY_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("ASSESSLY_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("ASSESSLY_OTEL_SAMPLE_RATIO", 1),
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

	switch c.Ledger.Backend {
	case rbac.BackendMemory:
	case rbac.BackendSQLite, rbac.BackendPostgres:
		if c.Ledger.DSN == "" {
			return fmt.Errorf("ledger DSN is required for the %s backend", c.Ledger.Backend)
		}
	case rbac.BackendRedis:
		if c.Ledger.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid ledger backend: %s (must be memory, sqlite, postgres, or redis)", c.Ledger.Backend)
	}
	if c.Ledger.CacheEnabled && c.Ledger.CacheSize <= 0 {
		return fmt.Errorf("cache size must be positive when the cache is enabled")
	}

	if c.Audit.Enabled && c.Audit.Persist &&
		c.Ledger.Backend != rbac.BackendSQLite && c.Ledger.Backend != rbac.BackendPostgres {
		return fmt.Errorf("persisted audit events require the sqlite or postgres ledger backend")
	}

	if c.Policy.Timezone != "" {
		if _, err := time.LoadLocation(c.Policy.Timezone); err != nil {
			return fmt.Errorf("invalid business timezone %q: %w", c.Policy.Timezone, err)
		}
	}

	if c.Sweeper.Enabled {
		if _, err := cron.ParseStandard(c.Sweeper.Schedule); err != nil {
			return fmt.Errorf("invalid sweeper schedule %q: %w", c.Sweeper.Schedule, err)
		}
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("rate limit requests and window must be positive")
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

// RBACConfig maps the ledger and policy sections onto rbac.Config
func (c *Config) RBACConfig() (rbac.Config, error) {
	rc := rbac.DefaultConfig()
	rc.Backend = c.Ledger.Backend
	rc.DSN = c.Ledger.DSN
	rc.Redis = rbac.RedisLedgerOptions{
		URL:       c.Ledger.RedisURL,
		Password:  c.Ledger.RedisPassword,
		DB:        c.Ledger.RedisDB,
		KeyPrefix: c.Ledger.RedisKeyPrefix,
	}
	rc.CacheEnabled = c.Ledger.CacheEnabled
	rc.Cache = rbac.CacheConfig{MaxEntries: c.Ledger.CacheSize, TTL: c.Ledger.CacheTTL}
	rc.PolicyFile = c.Policy.File
	rc.PersistAudit = c.Audit.Enabled && c.Audit.Persist

	if c.Policy.Timezone != "" {
		loc, err := time.LoadLocation(c.Policy.Timezone)
		if err != nil {
			return rbac.Config{}, fmt.Errorf("failed to load business timezone: %w", err)
		}
		rc.Location = loc
	}

	return rc, nil
}

// OTelConfig maps the observability section onto observability.OTelConfig
func (c *Config) OTelConfig() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.Observability.OTelEnabled,
		Endpoint:       c.Observability.OTelEndpoint,
		ServiceName:    c.Observability.OTelServiceName,
		ServiceVersion: c.Observability.OTelServiceVersion,
		Insecure:       c.Observability.OTelInsecure,
		SampleRatio:    c.Observability.OTelSampleRatio,
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
