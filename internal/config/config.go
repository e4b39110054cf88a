// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Payment gateway (Paystack-compatible)
	PaystackSecret  string
	PaystackBaseURL string
	GatewayTimeout  time.Duration

	// Auth
	JWTSecret string
	TokenTTL  time.Duration

	// Escrow settings
	ReleaseAfter  time.Duration // how long paid orders wait before auto-release
	SweepInterval time.Duration // how often the auto-release sweep runs
	CommissionBps int           // platform fee in basis points, applied on release

	// Rewards (minor currency units)
	AdRewardAmount       int64
	ReferralRewardAmount int64

	// Withdrawals (minor currency units; 0 means no floor)
	WithdrawMinAmount int64

	// Observability
	OTLPEndpoint string

	// Rate limiting
	RateLimitRPM int
}

// Defaults
const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultPaystackBaseURL = "https://api.paystack.co"
	DefaultGatewayTimeout  = 15 * time.Second
	DefaultTokenTTL        = 24 * time.Hour
	DefaultReleaseAfter    = 120 * time.Hour // 5-day dispute window
	DefaultSweepInterval   = time.Hour
	DefaultAdReward        = 5000 // 50.00 in minor units
	DefaultReferralReward  = 10000
	DefaultRateLimit       = 120
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", DefaultPort),
		Env:                  getEnv("ENV", DefaultEnv),
		LogLevel:             getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:          os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		PaystackSecret:       os.Getenv("PAYSTACK_SECRET"),
		PaystackBaseURL:      getEnv("PAYSTACK_BASE_URL", DefaultPaystackBaseURL),
		GatewayTimeout:       getEnvDuration("GATEWAY_TIMEOUT", DefaultGatewayTimeout),
		JWTSecret:            os.Getenv("JWT_SECRET"),
		TokenTTL:             getEnvDuration("TOKEN_TTL", DefaultTokenTTL),
		ReleaseAfter:         getEnvDuration("RELEASE_AFTER", DefaultReleaseAfter),
		SweepInterval:        getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
		CommissionBps:        int(getEnvInt64("COMMISSION_BPS", 0)),
		AdRewardAmount:       getEnvInt64("AD_REWARD_AMOUNT", DefaultAdReward),
		ReferralRewardAmount: getEnvInt64("REFERRAL_REWARD_AMOUNT", DefaultReferralReward),
		WithdrawMinAmount:    getEnvInt64("WITHDRAW_MIN_AMOUNT", 0),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RateLimitRPM:         int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.PaystackSecret == "" {
		return fmt.Errorf("PAYSTACK_SECRET is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if c.CommissionBps < 0 || c.CommissionBps > 10000 {
		return fmt.Errorf("COMMISSION_BPS must be between 0 and 10000")
	}
	if c.ReleaseAfter <= 0 {
		return fmt.Errorf("RELEASE_AFTER must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
