// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
	GetRateLimitPerMinute() int
}

// GeocoderConfig provides settings for the geocoding request engine.
type GeocoderConfig interface {
	GetProvidersFile() string
	GetRetryTimeout() time.Duration
	GetHTTPTimeout() time.Duration
	GetDebugFields() bool
}

// CacheConfig provides settings for the Redis response cache.
type CacheConfig interface {
	GetRedisURL() string
	GetCacheTTL() time.Duration
	IsCacheEnabled() bool
}

// SchedulerConfig provides settings for the asynq batch queue.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// RetentionConfig provides settings for purging finished runs.
type RetentionConfig interface {
	GetRunCleanupInterval() time.Duration
	GetRunRetentionSucceeded() time.Duration
	GetRunRetentionFailed() time.Duration
}

// MinIOConfig provides settings for MinIO S3-compatible storage.
type MinIOConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinioBucketExports() string
	IsMinIOEnabled() bool
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                string
	HTTPAddr           string
	DatabaseURL        string
	JWTAccessSecret    string
	CORSAllowAll       bool
	CORSOrigins        []string
	CORSAllowCreds     bool
	RateLimitPerMinute int
	ProvidersFile      string
	RetryTimeout       time.Duration
	HTTPTimeout        time.Duration
	DebugFields        bool
	RedisURL           string
	RedisTLSInsecure   bool
	CacheTTL           time.Duration
	AsynqQueueName     string
	AsynqConcurrency   int
	RunCleanupInterval time.Duration
	RetentionSucceeded time.Duration
	RetentionFailed    time.Duration
	MinIOEndpoint      string
	MinIOAccessKey     string
	MinIOSecretKey     string
	MinIOUseSSL        bool
	MinioBucketExports string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string        { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool      { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string   { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool    { return c.CORSAllowCreds }
func (c *Config) GetRateLimitPerMinute() int { return c.RateLimitPerMinute }

// GeocoderConfig implementation
func (c *Config) GetProvidersFile() string       { return c.ProvidersFile }
func (c *Config) GetRetryTimeout() time.Duration { return c.RetryTimeout }
func (c *Config) GetHTTPTimeout() time.Duration  { return c.HTTPTimeout }
func (c *Config) GetDebugFields() bool           { return c.DebugFields }

// CacheConfig implementation
func (c *Config) GetRedisURL() string        { return c.RedisURL }
func (c *Config) GetCacheTTL() time.Duration { return c.CacheTTL }
func (c *Config) IsCacheEnabled() bool       { return c.RedisURL != "" && c.CacheTTL > 0 }

// SchedulerConfig implementation
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

// RetentionConfig implementation
func (c *Config) GetRunCleanupInterval() time.Duration   { return c.RunCleanupInterval }
func (c *Config) GetRunRetentionSucceeded() time.Duration { return c.RetentionSucceeded }
func (c *Config) GetRunRetentionFailed() time.Duration    { return c.RetentionFailed }

// MinIOConfig implementation
func (c *Config) GetMinIOEndpoint() string      { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string     { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string     { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool          { return c.MinIOUseSSL }
func (c *Config) GetMinioBucketExports() string { return c.MinioBucketExports }
func (c *Config) IsMinIOEnabled() bool          { return c.MinIOEndpoint != "" }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                getEnv("APP_ENV", "development"),
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		JWTAccessSecret:    getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:       corsAllowAll,
		CORSOrigins:        corsOrigins,
		CORSAllowCreds:     strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "false"), "true"),
		RateLimitPerMinute: mustInt(getEnv("RATE_LIMIT_PER_MINUTE", "120")),
		ProvidersFile:      getEnv("PROVIDERS_FILE", "config/providers.yml"),
		RetryTimeout:       mustDuration(getEnv("GEOCODE_RETRY_TIMEOUT", "60s")),
		HTTPTimeout:        mustDuration(getEnv("GEOCODE_HTTP_TIMEOUT", "10s")),
		DebugFields:        strings.EqualFold(getEnv("GEOCODE_DEBUG_FIELDS", "false"), "true"),
		RedisURL:           getEnv("REDIS_URL", ""),
		RedisTLSInsecure:   strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		CacheTTL:           mustDuration(getEnv("GEOCODE_CACHE_TTL", "24h")),
		AsynqQueueName:     getEnv("ASYNQ_QUEUE", "geocode"),
		AsynqConcurrency:   mustInt(getEnv("ASYNQ_CONCURRENCY", "2")),
		RunCleanupInterval: mustDuration(getEnv("RUN_CLEANUP_INTERVAL", "1h")),
		RetentionSucceeded: mustDuration(getEnv("RUN_RETENTION_SUCCEEDED", "720h")),
		RetentionFailed:    mustDuration(getEnv("RUN_RETENTION_FAILED", "168h")),
		MinIOEndpoint:      getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:     getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:     getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:        strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinioBucketExports: getEnv("MINIO_BUCKET_EXPORTS", "geocode-exports"),
	}

	if cfg.RetryTimeout <= 0 {
		return nil, fmt.Errorf("GEOCODE_RETRY_TIMEOUT must be a positive duration")
	}
	if cfg.HTTPTimeout <= 0 {
		return nil, fmt.Errorf("GEOCODE_HTTP_TIMEOUT must be a positive duration")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
