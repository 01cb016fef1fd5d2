// Package config provides centralized configuration management for the importer.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
//
// A Config is built once in main and handed to every component by pointer.
// Nothing in this package holds process-wide mutable state.
package config

import (
	"net"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Queue    QueueConfig
	Import   ImportConfig
	Webhook  WebhookConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 60s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"60s"`

	// WriteTimeout is the maximum duration for writing response (default: 30s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"30s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`

	// TrustedProxies is a comma-separated list of proxy CIDRs whose
	// X-Real-IP / X-Forwarded-For headers are believed (default: none)
	TrustedProxies string `env:"TRUSTED_PROXIES" default:""`
}

// TrustedProxyList splits TrustedProxies into its entries.
func (c *ServerConfig) TrustedProxyList() []string {
	var out []string
	for _, p := range strings.Split(c.TrustedProxies, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
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
}

// QueueConfig holds work queue settings.
type QueueConfig struct {
	// Driver selects the queue backend: redis or memory (default: redis)
	Driver string `env:"QUEUE_DRIVER" default:"redis"`

	// RedisURL is the broker connection string (default: redis://localhost:6379/0)
	RedisURL string `env:"REDIS_URL" default:"redis://localhost:6379/0"`

	// Prefix namespaces every queue key in Redis (default: catalog)
	Prefix string `env:"QUEUE_PREFIX" default:"catalog"`

	// Workers is the number of concurrent consumers per worker process (default: 4)
	Workers int `env:"QUEUE_WORKERS" default:"4"`

	// PollTimeout bounds each blocking claim so shutdown is noticed (default: 5s)
	PollTimeout time.Duration `env:"QUEUE_POLL_TIMEOUT" default:"5s"`

	// LeaseTTL is how long a silent worker's claims stay reserved before
	// another worker requeues them (default: 30s)
	LeaseTTL time.Duration `env:"QUEUE_LEASE_TTL" default:"30s"`

	// MemoryBuffer is the channel capacity of the in-process queue (default: 1024)
	MemoryBuffer int `env:"QUEUE_MEMORY_BUFFER" default:"1024"`
}

// ImportConfig holds CSV ingestion settings.
type ImportConfig struct {
	// BatchSize is the number of rows committed together (default: 500)
	BatchSize int `env:"IMPORT_BATCH_SIZE" default:"500"`

	// UploadDir is where uploaded files wait for their ingestion run (default: tmp_uploads)
	UploadDir string `env:"UPLOAD_DIR" default:"tmp_uploads"`

	// MaxFileSize is the maximum allowed file size in bytes (default: 100MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"104857600"`

	// MaxConcurrent is the maximum number of uploads spooled in parallel (default: 5)
	MaxConcurrent int `env:"UPLOAD_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long to wait for an upload slot (default: 30s)
	MaxWaitTime time.Duration `env:"UPLOAD_MAX_WAIT_TIME" default:"30s"`
}

// WebhookConfig holds outbound delivery settings.
type WebhookConfig struct {
	// Timeout bounds each delivery request (default: 5s)
	Timeout time.Duration `env:"WEBHOOK_TIMEOUT" default:"5s"`

	// UserAgent is sent with every delivery
	UserAgent string `env:"WEBHOOK_USER_AGENT" default:"catalog-importer/1.0"`
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
