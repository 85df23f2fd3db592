// Package config provides centralized configuration management for the import service.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Import   ImportConfig
	Storage  StorageConfig
	Redis    RedisConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" envAlt:"PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 60s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"60s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for non-streaming requests (default: 120s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"120s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// AutoMigrate applies the embedded schema on startup (default: true)
	AutoMigrate bool `env:"DB_AUTO_MIGRATE" default:"true"`
}

// ImportConfig holds sheet, archive and commit settings.
type ImportConfig struct {
	// MaxSheetSize is the maximum sheet upload in bytes (default: 20MB)
	MaxSheetSize int64 `env:"IMPORT_MAX_SHEET_SIZE" default:"20971520"`

	// MaxArchiveSize is the maximum image archive upload in bytes (default: 500MB)
	MaxArchiveSize int64 `env:"IMPORT_MAX_ARCHIVE_SIZE" default:"524288000"`

	// MaxImageSize caps one decompressed image in the archive (default: 20MB)
	MaxImageSize int64 `env:"IMPORT_MAX_IMAGE_SIZE" default:"20971520"`

	// ImageExt is the only accepted image extension (default: .webp)
	ImageExt string `env:"IMPORT_IMAGE_EXT" default:".webp"`

	// Palette is a comma-separated list of allowed colors. Empty uses the built-in palette.
	Palette []string `env:"IMPORT_PALETTE"`

	// StrictArchiveNames fails extraction when two entries share a file name
	StrictArchiveNames bool `env:"IMPORT_STRICT_ARCHIVE_NAMES" default:"false"`

	// UploadBatchSize is the number of concurrent asset uploads (default: 5)
	UploadBatchSize int `env:"IMPORT_UPLOAD_BATCH_SIZE" default:"5"`

	// UploadPhaseWeight is the percent of progress given to uploads (default: 50)
	UploadPhaseWeight int `env:"IMPORT_UPLOAD_PHASE_WEIGHT" default:"50"`

	// AssetFolder is the destination folder on the asset host (default: products)
	AssetFolder string `env:"IMPORT_ASSET_FOLDER" default:"products"`

	// MaxConcurrent is the maximum number of commits running at once (default: 3)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"3"`

	// MaxWaitTime is how long to wait for a commit slot (default: 30s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`

	// CommitTimeout bounds a whole commit; 0 means no deadline (default: 0s)
	CommitTimeout time.Duration `env:"IMPORT_COMMIT_TIMEOUT" default:"0s"`

	// SessionTTL is how long a staged import is kept (default: 30m)
	SessionTTL time.Duration `env:"IMPORT_SESSION_TTL" default:"30m"`
}

// StorageConfig holds asset host (S3-compatible) settings.
type StorageConfig struct {
	// Bucket is the destination bucket (required)
	Bucket string `env:"STORAGE_BUCKET" envAlt:"S3_BUCKET"`

	// Region is the bucket region (default: us-east-1)
	Region string `env:"STORAGE_REGION" envAlt:"AWS_REGION" default:"us-east-1"`

	// Endpoint overrides the S3 endpoint, e.g. for MinIO or LocalStack
	Endpoint string `env:"STORAGE_ENDPOINT"`

	// PublicBaseURL is a CDN origin used in returned image links
	PublicBaseURL string `env:"STORAGE_PUBLIC_BASE_URL"`

	// AccessKeyID and SecretAccessKey are static credentials; empty uses the default chain
	AccessKeyID     string `env:"STORAGE_ACCESS_KEY_ID" envAlt:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"STORAGE_SECRET_ACCESS_KEY" envAlt:"AWS_SECRET_ACCESS_KEY"`

	// UsePathStyle addresses the bucket in the path instead of the host
	UsePathStyle bool `env:"STORAGE_USE_PATH_STYLE" default:"false"`

	// PresignExpiry is the lifetime of presigned upload URLs (default: 15m)
	PresignExpiry time.Duration `env:"STORAGE_PRESIGN_EXPIRY" default:"15m"`

	// CredentialTTL is the lifetime of per-batch upload credentials (default: 10m)
	CredentialTTL time.Duration `env:"STORAGE_CREDENTIAL_TTL" default:"10m"`
}

// RedisConfig holds the shared rate-limit store settings.
type RedisConfig struct {
	// Enabled switches rate limiting to Redis; otherwise limits are per process (default: false)
	Enabled bool `env:"REDIS_ENABLED" default:"false"`

	// URL is a redis:// connection string and takes precedence over Addr
	URL string `env:"REDIS_URL"`

	// Addr is host:port (default: localhost:6379)
	Addr string `env:"REDIS_ADDR" default:"localhost:6379"`

	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" default:"0"`

	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" default:"3s"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per client (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// ImportLimit is requests per minute for staging and commit endpoints (default: 10)
	ImportLimit int `env:"RATE_LIMIT_IMPORT" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// RequireAPIKey rejects /api requests without a valid X-API-Key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`

	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// UploadSigningSecret signs per-batch upload credentials (required, 32+ chars)
	UploadSigningSecret string `env:"UPLOAD_SIGNING_SECRET"`
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
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
