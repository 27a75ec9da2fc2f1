package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/darkodi/shortlink/internal/logger"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	App       AppConfig
	RateLimit RateLimitConfig
	Auth      AuthConfig
	Log       logger.Config
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database settings
type DatabaseConfig struct {
	Driver       string // "sqlite3", "postgres"
	Path         string // sqlite file, ":memory:" allowed
	DSN          string // postgres connection string
	MaxOpenConns int
	QueryTimeout time.Duration
}

// RedisConfig holds redirect cache settings
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// AppConfig holds application-specific settings
type AppConfig struct {
	DefaultDomain  string // used in short URLs when the request names none
	Environment    string // "development", "production", "testing"
	CodeLength     int
	BlockedDomains []string
	BlockPrivateIP bool
}

// RateLimitConfig holds rate limiter settings
type RateLimitConfig struct {
	Enabled  bool
	Rate     int
	Burst    int
	Interval time.Duration
	Cleanup  time.Duration

	// separate, tighter bucket for POST /api/shorten
	ShortenRate  int
	ShortenBurst int
}

// AuthConfig holds bearer token settings; auth is off when JWTSecret is empty
type AuthConfig struct {
	JWTSecret string
}

// Load reads configuration from environment variables, after loading a
// .env file from the working directory if there is one
func Load() (*Config, error) {
	_ = godotenv.Load()

	environment := getEnv("ENVIRONMENT", "development")

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getDurationEnv("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Driver:       getEnv("DB_DRIVER", "sqlite3"),
			Path:         getEnv("DB_PATH", "./data/urls.db"),
			DSN:          getEnv("DATABASE_URL", ""),
			MaxOpenConns: getIntEnv("DB_MAX_OPEN_CONNS", 10),
			QueryTimeout: getDurationEnv("DB_QUERY_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			Enabled:  getBoolEnv("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
			TTL:      getDurationEnv("REDIS_TTL", 10*time.Minute),
		},
		App: AppConfig{
			DefaultDomain:  getEnv("CUSTOM_DOMAIN", ""),
			Environment:    environment,
			CodeLength:     getIntEnv("CODE_LENGTH", 6),
			BlockedDomains: getListEnv("BLOCKED_DOMAINS"),
			BlockPrivateIP: getBoolEnv("BLOCK_PRIVATE_IPS", false),
		},
		RateLimit: RateLimitConfig{
			Enabled:  getBoolEnv("RATE_LIMIT_ENABLED", true),
			Rate:     getIntEnv("RATE_LIMIT_RATE", 10),
			Burst:    getIntEnv("RATE_LIMIT_BURST", 20),
			Interval: getDurationEnv("RATE_LIMIT_INTERVAL", time.Second),
			Cleanup:  getDurationEnv("RATE_LIMIT_CLEANUP", 5*time.Minute),

			ShortenRate:  getIntEnv("RATE_LIMIT_SHORTEN_RATE", 1),
			ShortenBurst: getIntEnv("RATE_LIMIT_SHORTEN_BURST", 5),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Log: logger.Config{
			Level:       getEnv("LOG_LEVEL", "info"),
			Format:      getEnv("LOG_FORMAT", "text"),
			Environment: environment,
			File:        getEnv("LOG_FILE", ""),
			MaxSizeMB:   getIntEnv("LOG_MAX_SIZE_MB", 100),
			MaxBackups:  getIntEnv("LOG_MAX_BACKUPS", 7),
			MaxAgeDays:  getIntEnv("LOG_MAX_AGE_DAYS", 28),
		},
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Server.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid port: %s (must be 1-65535)", c.Server.Port)
	}

	switch c.Database.Driver {
	case "sqlite3":
		if c.Database.Path == "" {
			return errors.New("database path cannot be empty")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("invalid database driver: %s (must be sqlite3 or postgres)", c.Database.Driver)
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.New("REDIS_ADDR cannot be empty when the cache is enabled")
	}

	validEnvs := map[string]bool{
		"development": true,
		"production":  true,
		"testing":     true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, production, or testing)", c.App.Environment)
	}

	if c.App.CodeLength < 4 || c.App.CodeLength > 16 {
		return fmt.Errorf("invalid code length: %d (must be 4-16)", c.App.CodeLength)
	}

	if c.RateLimit.Enabled && (c.RateLimit.Rate < 1 || c.RateLimit.Burst < 1 || c.RateLimit.Interval <= 0) {
		return errors.New("rate limit rate, burst and interval must be positive")
	}
	if c.RateLimit.Enabled && (c.RateLimit.ShortenRate < 1 || c.RateLimit.ShortenBurst < 1) {
		return errors.New("shorten rate limit rate and burst must be positive")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// ============================================================
// HELPER FUNCTIONS
// ============================================================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}

func getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolValue
}

func getListEnv(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
