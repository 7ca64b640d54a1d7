package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/boddenberg/mutuelle-ledger/internal/domain"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string
	LogFile  string

	// Storage
	StoreDriver string
	DatabaseDSN string

	// Period service. Empty means periods are kept by the ledger store.
	PeriodsAPIURL    string
	CurrentPeriodTTL time.Duration

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Cache
	CacheTTL time.Duration

	// Observability
	OTLPEndpoint string

	// JWT / Auth
	JWTSecret string

	// Rate limiting, per client
	RateLimitRPS   float64
	RateLimitBurst int

	// Fund settings file (YAML); env values below override it.
	FundConfigFile string
	Fund           Fund

	// Scheduler. Empty disables period-close assessment.
	RenfoulementCron string
}

// Load reads configuration from environment variables with defaults. The
// fund settings file, when set, is read before env overrides apply.
func Load() (*Config, error) {
	cfg := &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),

		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", DriverSQLite)),
		DatabaseDSN: getEnv("DATABASE_DSN", "file:mutuelle.db?_pragma=busy_timeout(5000)"),

		PeriodsAPIURL:    getEnv("PERIODS_API_URL", ""),
		CurrentPeriodTTL: getEnvDuration("CURRENT_PERIOD_TTL", 30*time.Second),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 50),

		CacheTTL: getEnvDuration("CACHE_TTL", 5*time.Minute),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		JWTSecret: getEnv("JWT_SECRET", "mutuelle-default-dev-secret-change-me"),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 40),

		FundConfigFile: getEnv("FUND_CONFIG_FILE", ""),

		RenfoulementCron: getEnv("RENFOULEMENT_CRON", ""),
	}

	fund, err := LoadFund(cfg.FundConfigFile)
	if err != nil {
		return nil, err
	}
	if err := fund.applyEnv(); err != nil {
		return nil, err
	}
	cfg.Fund = *fund

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverMemory, DriverSQLite, DriverPostgres:
	default:
		return &domain.ErrValidation{Field: "STORE_DRIVER", Message: "must be memory, sqlite or postgres"}
	}
	if c.StoreDriver != DriverMemory && c.DatabaseDSN == "" {
		return &domain.ErrValidation{Field: "DATABASE_DSN", Message: "required for SQL stores"}
	}
	if c.JWTSecret == "" {
		return &domain.ErrValidation{Field: "JWT_SECRET", Message: "must not be empty"}
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return &domain.ErrValidation{Field: "RATE_LIMIT_RPS", Message: "rate and burst must be positive"}
	}
	return c.Fund.Validate()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
