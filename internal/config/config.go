// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Import    ImportConfig
	Export    ExportConfig
	ResultLog ResultLogConfig
	Rate      RateLimitConfig
	Security  SecurityConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for large exports)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 5m)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"5m"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Driver selects the SQL dialect: postgres or sqlite (default: postgres)
	Driver string `env:"DB_DRIVER" default:"postgres"`

	// URL is the connection string (required). For sqlite it is a file path or DSN.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of open connections (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the number of idle connections to keep (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// ImportConfig holds spreadsheet import settings.
type ImportConfig struct {
	// MaxFileSize is the maximum allowed file size in bytes (default: 50MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"52428800"`

	// MaxConcurrent is the maximum number of parallel imports (default: 5)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long to wait for an import slot (default: 30s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`

	// BatchSize is the number of rows pulled per chunk (default: 500)
	BatchSize int `env:"IMPORT_BATCH_SIZE" default:"500"`

	// RowTimeout bounds the store operations of a single row (default: 10s)
	RowTimeout time.Duration `env:"IMPORT_ROW_TIMEOUT" default:"10s"`

	// Timeout is the maximum duration for a single import (default: 10m)
	Timeout time.Duration `env:"IMPORT_TIMEOUT" default:"10m"`

	// RowConcurrency is the number of rows processed in parallel for
	// entities without generated codes (default: 1)
	RowConcurrency int `env:"IMPORT_ROW_CONCURRENCY" default:"1"`

	// MaxHeaderSearchRows is how far down the sheet to look for a header (default: 20)
	MaxHeaderSearchRows int `env:"IMPORT_MAX_HEADER_SEARCH_ROWS" default:"20"`

	// EntityDir holds extra *.yaml entity declarations loaded after the built-ins
	EntityDir string `env:"IMPORT_ENTITY_DIR"`
}

// ExportConfig holds export settings.
type ExportConfig struct {
	// DefaultLimit is applied when a request carries no limit (default: 10000)
	DefaultLimit int `env:"EXPORT_DEFAULT_LIMIT" default:"10000"`

	// MaxLimit caps any requested limit (default: 1000000)
	MaxLimit int `env:"EXPORT_MAX_LIMIT" default:"1000000"`
}

// ResultLogConfig holds settings for publishing import results to Redis.
type ResultLogConfig struct {
	// Enabled controls whether results are published (default: false)
	Enabled bool `env:"RESULTLOG_ENABLED" default:"false"`

	// Addr is the Redis address (default: localhost:6379)
	Addr string `env:"RESULTLOG_REDIS_ADDR" envAlt:"REDIS_ADDR" default:"localhost:6379"`

	// Password is the Redis password
	Password string `env:"RESULTLOG_REDIS_PASSWORD" envAlt:"REDIS_PASSWORD"`

	// DB is the Redis database index (default: 0)
	DB int `env:"RESULTLOG_REDIS_DB" default:"0"`

	// TTL is how long results are kept (default: 24h)
	TTL time.Duration `env:"RESULTLOG_TTL" default:"24h"`

	// Prefix namespaces result keys and the publish channel (default: sheetport)
	Prefix string `env:"RESULTLOG_PREFIX" default:"sheetport"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// ImportLimit is requests per minute for preview and import endpoints (default: 10)
	ImportLimit int `env:"RATE_LIMIT_IMPORT" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey rejects API requests without a valid X-API-Key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS"`

	// ActorHeader names the header identifying who runs an import (default: X-Actor)
	ActorHeader string `env:"ACTOR_HEADER" default:"X-Actor"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
