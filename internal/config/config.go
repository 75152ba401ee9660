package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
// It is the single source of truth for runtime parameters.
type Config struct {
	Port      string
	Env       string
	JWTSecret string

	DB     DatabaseConfig
	Redis  RedisConfig
	Stock  StockConfig
	Worker WorkerConfig
}

// DatabaseConfig contains PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// RedisConfig contains Redis connection parameters.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// StockConfig contains parameters for the stock allocation engine.
type StockConfig struct {
	// EncryptionKey is the hex-encoded 32-byte AES key for credential
	// payloads. Missing or malformed key is fatal at startup.
	EncryptionKey string
	// FingerprintKey is the HMAC key for payload fingerprints used in
	// duplicate reporting on import.
	FingerprintKey string
	// ClaimMaxRetry bounds internal retries on transient claim conflicts.
	ClaimMaxRetry int
	// ClaimCacheTTL is how long an orderId->item claim stays replayable.
	ClaimCacheTTL time.Duration
}

// WorkerConfig contains interval configuration for background workers.
type WorkerConfig struct {
	ExpiryInterval     time.Duration
	ReconcileInterval  time.Duration
	PaymentDueInterval time.Duration
}

// Load reads configuration from environment variables. If a .env file exists
// in the working directory, it will be loaded first. It returns a populated
// Config or an error with a human-friendly message.
func Load() (*Config, error) {
	// Load .env if present; ignore error if file is missing so that production
	// environments relying solely on real environment variables keep working.
	_ = godotenv.Load()

	cfg := &Config{}

	// Server
	cfg.Port = getEnv("PORT", "8080")
	cfg.Env = getEnv("ENV", "development")
	cfg.JWTSecret = getEnv("JWT_SECRET", "")

	// Database
	cfg.DB = DatabaseConfig{
		Host:     getEnv("DB_HOST", ""),
		Port:     getEnv("DB_PORT", "5432"),
		User:     getEnv("DB_USER", ""),
		Password: getEnv("DB_PASSWORD", ""),
		Name:     getEnv("DB_NAME", ""),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}

	// Redis
	cfg.Redis = RedisConfig{
		Host:     getEnv("REDIS_HOST", "redis"),
		Port:     getEnv("REDIS_PORT", "6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getEnvInt("REDIS_DB", 0),
	}

	// Stock engine
	cfg.Stock = StockConfig{
		EncryptionKey:  getEnv("STOCK_ENCRYPTION_KEY", ""),
		FingerprintKey: getEnv("STOCK_FINGERPRINT_KEY", ""),
		ClaimMaxRetry:  getEnvInt("CLAIM_MAX_RETRY", 3),
	}

	// Workers (durations)
	var err error
	if cfg.Stock.ClaimCacheTTL, err = parseDurationEnv("CLAIM_CACHE_TTL", "24h"); err != nil {
		return nil, fmt.Errorf("invalid CLAIM_CACHE_TTL: %w", err)
	}
	if cfg.Worker.ExpiryInterval, err = parseDurationEnv("EXPIRY_INTERVAL", "5m"); err != nil {
		return nil, fmt.Errorf("invalid EXPIRY_INTERVAL: %w", err)
	}
	if cfg.Worker.ReconcileInterval, err = parseDurationEnv("RECONCILE_INTERVAL", "1h"); err != nil {
		return nil, fmt.Errorf("invalid RECONCILE_INTERVAL: %w", err)
	}
	if cfg.Worker.PaymentDueInterval, err = parseDurationEnv("PAYMENT_DUE_INTERVAL", "30m"); err != nil {
		return nil, fmt.Errorf("invalid PAYMENT_DUE_INTERVAL: %w", err)
	}

	// Basic validation for DB parameters.
	if cfg.DB.Host == "" || cfg.DB.User == "" || cfg.DB.Name == "" {
		return nil, errors.New("database configuration incomplete: ensure DB_HOST, DB_USER, and DB_NAME are set")
	}

	// Validate JWT_SECRET
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET must be set for authentication")
	}

	// Credential encryption is mandatory; a back office without it would
	// store secrets in plaintext.
	if cfg.Stock.EncryptionKey == "" {
		return nil, errors.New("STOCK_ENCRYPTION_KEY must be set (hex-encoded 32 bytes)")
	}
	if cfg.Stock.FingerprintKey == "" {
		return nil, errors.New("STOCK_FINGERPRINT_KEY must be set")
	}

	return cfg, nil
}

// getEnv returns the value of an environment variable or a default if empty.
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getEnvInt returns the value of an environment variable as an integer or a default if empty/invalid.
func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// parseDurationEnv reads an environment variable and parses it as time.Duration.
// If the variable is empty, it falls back to the provided default value.
func parseDurationEnv(key, def string) (time.Duration, error) {
	raw := getEnv(key, def)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must be >= 0")
	}
	return d, nil
}
