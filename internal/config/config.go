// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"time"

	"github.com/JonMunkholm/stockfeed/internal/inventory"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Source   SourceConfig
	Columns  ColumnsConfig
	Cache    CacheConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds the override database settings. An empty URL keeps
// overrides in memory.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (optional)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 1)
	MinConns int `env:"DB_MIN_CONNS" default:"1"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// Enabled reports whether a database is configured.
func (c *DatabaseConfig) Enabled() bool {
	return c.URL != ""
}

// SourceConfig describes where the inventory sheet lives and how often it
// is fetched.
type SourceConfig struct {
	// SheetID is the spreadsheet id, a published 2PACX- id, or a full CSV URL
	SheetID string `env:"SOURCE_SHEET_ID" envAlt:"SHEET_ID" required:"true"`

	// GID selects the tab (optional)
	GID string `env:"SOURCE_GID"`

	// BaseURL is the spreadsheet host (default: https://docs.google.com)
	BaseURL string `env:"SOURCE_BASE_URL" default:"https://docs.google.com"`

	// Proxies are CORS proxy prefixes tried after the direct strategies
	Proxies []string `env:"SOURCE_PROXIES"`

	// PollInterval is the time between background refreshes (default: 5m)
	PollInterval time.Duration `env:"SOURCE_POLL_INTERVAL" default:"5m"`

	// FetchTimeout bounds one retrieval attempt (default: 15s)
	FetchTimeout time.Duration `env:"SOURCE_FETCH_TIMEOUT" default:"15s"`

	// MaxBodyBytes caps the downloaded CSV size (default: 20MB)
	MaxBodyBytes int64 `env:"SOURCE_MAX_BODY_BYTES" default:"20971520"`

	// MaxConcurrent is the number of refreshes allowed at once (default: 2)
	MaxConcurrent int `env:"SOURCE_MAX_CONCURRENT" default:"2"`

	// MaxWait is how long a refresh waits for a slot (default: 10s)
	MaxWait time.Duration `env:"SOURCE_MAX_WAIT" default:"10s"`
}

// ColumnsConfig holds optional column letters per role. Empty letters fall
// back to header keywords and positions.
type ColumnsConfig struct {
	Model          string `env:"COLUMN_MODEL"`
	SKU            string `env:"COLUMN_SKU"`
	PartNumber     string `env:"COLUMN_PART_NUMBER"`
	ProductDetails string `env:"COLUMN_PRODUCT_DETAILS"`
	ProductImage   string `env:"COLUMN_PRODUCT_IMAGE"`
	Quantity       string `env:"COLUMN_QUANTITY"`
	AltStock       string `env:"COLUMN_ALT_STOCK"`
	ETA1           string `env:"COLUMN_ETA1"`
	ETA2           string `env:"COLUMN_ETA2"`
	ETA3           string `env:"COLUMN_ETA3"`
	ETA4           string `env:"COLUMN_ETA4"`
	ETA5           string `env:"COLUMN_ETA5"`
	Weight         string `env:"COLUMN_WEIGHT"`
	ShippingWeight string `env:"COLUMN_SHIPPING_WEIGHT"`
}

// Mapping returns the configured letters keyed by role name.
func (c *ColumnsConfig) Mapping() inventory.Mapping {
	m := inventory.Mapping{}
	for _, f := range c.fields() {
		if f.letter != "" {
			m[f.role] = f.letter
		}
	}
	return m
}

type columnField struct {
	env, role, letter string
}

func (c *ColumnsConfig) fields() []columnField {
	return []columnField{
		{"COLUMN_MODEL", "model", c.Model},
		{"COLUMN_SKU", "sku", c.SKU},
		{"COLUMN_PART_NUMBER", "partNumber", c.PartNumber},
		{"COLUMN_PRODUCT_DETAILS", "productDetails", c.ProductDetails},
		{"COLUMN_PRODUCT_IMAGE", "productImage", c.ProductImage},
		{"COLUMN_QUANTITY", "quantity", c.Quantity},
		{"COLUMN_ALT_STOCK", "altStock", c.AltStock},
		{"COLUMN_ETA1", "eta1", c.ETA1},
		{"COLUMN_ETA2", "eta2", c.ETA2},
		{"COLUMN_ETA3", "eta3", c.ETA3},
		{"COLUMN_ETA4", "eta4", c.ETA4},
		{"COLUMN_ETA5", "eta5", c.ETA5},
		{"COLUMN_WEIGHT", "weight", c.Weight},
		{"COLUMN_SHIPPING_WEIGHT", "shippingWeight", c.ShippingWeight},
	}
}

// CacheConfig holds the optional Redis settings for sharing fetched CSV
// text between replicas.
type CacheConfig struct {
	// Address is host:port of the Redis server; empty disables the cache
	Address string `env:"REDIS_ADDRESS" envAlt:"REDIS_ADDR"`

	// Password for Redis AUTH
	Password string `env:"REDIS_PASSWORD"`

	// DB selects the Redis database (default: 0)
	DB int `env:"REDIS_DB" default:"0"`

	// Prefix namespaces cache keys (default: stockfeed:csv:)
	Prefix string `env:"REDIS_PREFIX" default:"stockfeed:csv:"`

	// TTL is how long a fetched sheet stays cached (default: 10m)
	TTL time.Duration `env:"REDIS_TTL" default:"10m"`

	// LockTTL bounds how long one replica holds the fetch lock (default: 30s)
	LockTTL time.Duration `env:"REDIS_LOCK_TTL" default:"30s"`
}

// Enabled reports whether Redis is configured.
func (c *CacheConfig) Enabled() bool {
	return c.Address != ""
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// RefreshLimit is requests per minute for the manual refresh endpoint (default: 6)
	RefreshLimit int `env:"RATE_LIMIT_REFRESH" default:"6"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`

	// RequireAPIKey guards refresh, override and column endpoints (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted X-API-Key values
	APIKeys []string `env:"API_KEYS"`
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
	if c.Host == "" {
		return ":" + itoa(c.Port)
	}
	return c.Host + ":" + itoa(c.Port)
}

// itoa converts an int to string without importing strconv in this file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}
