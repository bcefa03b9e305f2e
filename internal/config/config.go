// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/sampleuploader/internal/schema"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Service  ServiceConfig
	Store    StoreConfig
	Formats  FormatsConfig
	Upload   UploadConfig
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

	// ReadTimeout is the maximum duration for reading request body (default: 30s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"30s"`

	// WriteTimeout is the maximum duration for writing response (default: 0, batches may run long)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// Sample service modes.
const (
	ServiceRemote = "remote"
	ServiceLocal  = "local"
)

// ServiceConfig selects where sample records are written.
type ServiceConfig struct {
	// Mode is remote (JSON-RPC sample service) or local (the configured store) (default: local)
	Mode string `env:"SAMPLE_SERVICE_MODE" default:"local"`

	// URL is the sample service endpoint, required in remote mode
	URL string `env:"SAMPLE_SERVICE_URL"`

	// Token authenticates calls when the request carries no token of its own
	Token string `env:"SAMPLE_SERVICE_TOKEN" envAlt:"KB_AUTH_TOKEN"`

	// Timeout bounds a single sample service call (default: 60s)
	Timeout time.Duration `env:"SAMPLE_SERVICE_TIMEOUT" default:"60s"`
}

// StoreConfig holds sample-set and batch-history storage settings.
type StoreConfig struct {
	// Driver is memory, postgres or sqlite (default: memory)
	Driver string `env:"STORE_DRIVER" default:"memory"`

	// DSN is the PostgreSQL URL or SQLite file path
	// Supports both STORE_DSN and DATABASE_URL env vars for compatibility
	DSN string `env:"STORE_DSN" envAlt:"DATABASE_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// FormatsConfig says where format templates and ontology validators come from.
// The first configured source wins: Dir, then DirectURL, then ReleaseURL.
type FormatsConfig struct {
	// Dir is a local directory holding template files
	Dir string `env:"FORMATS_DIR"`

	// DirectURL is a base URL; template file names are appended
	DirectURL string `env:"FORMATS_CONFIG_URL"`

	// ReleaseURL is the GitHub API URL of a release carrying the templates as assets
	ReleaseURL string `env:"FORMATS_RELEASE_URL" default:"https://api.github.com/repos/kbase/sample_service_validator_config/releases/tags/0.5"`

	// GitHubToken is sent to the GitHub API when set
	GitHubToken string `env:"GITHUB_TOKEN"`

	// Files lists NAME=file entries, one per format
	Files []string `env:"FORMATS" default:"ENIGMA=enigma_template.yml,SESAR=sesar_template.yml,KBASE=sample_uploader_mappings.yml"`

	// OntologyFile holds the ontology validators; empty disables ontology checks
	OntologyFile string `env:"FORMATS_ONTOLOGY_FILE" default:"ontology_validators.yml"`

	// UnitRegex splits "value unit" cells; empty uses the built-in pattern, "none" disables splitting
	UnitRegex string `env:"FORMATS_UNIT_REGEX"`

	// FetchTimeout bounds each template download (default: 30s)
	FetchTimeout time.Duration `env:"FORMATS_FETCH_TIMEOUT" default:"30s"`
}

// UploadConfig holds batch and staging settings.
type UploadConfig struct {
	// StagingDir receives uploaded files and is searched for relative paths (default: staging)
	StagingDir string `env:"UPLOAD_STAGING_DIR" default:"staging"`

	// S3Bucket is an optional staging bucket searched after StagingDir
	S3Bucket string `env:"UPLOAD_S3_BUCKET"`

	// S3Region is the staging bucket's region (default: us-east-1)
	S3Region string `env:"UPLOAD_S3_REGION" envAlt:"AWS_REGION" default:"us-east-1"`

	// S3Endpoint overrides the S3 endpoint for S3-compatible stores
	S3Endpoint string `env:"UPLOAD_S3_ENDPOINT"`

	// S3PathStyle forces path-style bucket addressing (default: false)
	S3PathStyle bool `env:"UPLOAD_S3_PATH_STYLE" default:"false"`

	// MaxFileSize is the maximum allowed upload size in bytes (default: 100MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"104857600"`

	// DefaultHeaderRow is the 0-based header row used when a request names none (default: 0)
	DefaultHeaderRow int `env:"UPLOAD_DEFAULT_HEADER_ROW" default:"0"`

	// MaxConcurrent is the maximum number of parallel batches (default: 4)
	MaxConcurrent int `env:"UPLOAD_MAX_CONCURRENT" default:"4"`

	// MaxWaitTime is how long to wait for a batch slot (default: 30s)
	MaxWaitTime time.Duration `env:"UPLOAD_MAX_WAIT_TIME" default:"30s"`

	// Timeout is the maximum duration for a single batch (default: 10m)
	Timeout time.Duration `env:"UPLOAD_TIMEOUT" default:"10m"`

	// StagingMaxAge is how long uploaded files are kept (default: 24h)
	StagingMaxAge time.Duration `env:"UPLOAD_STAGING_MAX_AGE" default:"24h"`

	// JanitorInterval is how often the staging directory is swept (default: 1h)
	JanitorInterval time.Duration `env:"UPLOAD_JANITOR_INTERVAL" default:"1h"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// UploadLimit is requests per minute for import endpoints (default: 10)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// RequireAPIKey rejects /api requests without a valid X-API-Key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`

	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
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

// FormatFiles parses Files into name/file pairs. Entries without "=" use
// the lower-cased name plus ".yml" as the file.
func (c *FormatsConfig) FormatFiles() []schema.FormatFile {
	out := make([]schema.FormatFile, 0, len(c.Files))
	for _, entry := range c.Files {
		name, file, ok := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		file = strings.TrimSpace(file)
		if !ok || file == "" {
			file = strings.ToLower(name) + ".yml"
		}
		if name == "" {
			continue
		}
		out = append(out, schema.FormatFile{Name: name, File: file})
	}
	return out
}
