// Package api provides the TaaS admission API: HTTP surface for submitting
// test sessions, streaming uploads, and reading back status, results, and
// artifacts.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ratemate/taas/internal/config"
)

const (
	// DefaultPort is the default HTTP server port.
	DefaultPort = 8080
	// MaxPort is the maximum valid port number.
	MaxPort = 65535
	// DefaultHost is the default server host.
	DefaultHost = "0.0.0.0"
	// DefaultTimeout is the default timeout for HTTP operations.
	DefaultTimeout = 30 * time.Second
	// DefaultCORSMaxAge is the default CORS max age (24 hours).
	DefaultCORSMaxAge = 86400
	// DefaultUploadMaxMB is the default maximum mobile upload size.
	DefaultUploadMaxMB = 200
	// DefaultArtifactTTLSeconds is the default presigned-URL lifetime.
	DefaultArtifactTTLSeconds = 900
	// DefaultUploadAllowedExts is the default mobile-binary extension allow-list.
	DefaultUploadAllowedExts = "apk,aab,ipa,zip"
)

// Static validation errors.
var (
	ErrInvalidPort            = errors.New("invalid port")
	ErrEmptyHost              = errors.New("host cannot be empty")
	ErrInvalidReadTimeout     = errors.New("read timeout must be positive")
	ErrInvalidWriteTimeout    = errors.New("write timeout must be positive")
	ErrInvalidShutdownTimeout = errors.New("shutdown timeout must be positive")
)

// ServerConfig holds HTTP server configuration for the admission API.
type ServerConfig struct {
	Port               int
	Host               string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	ShutdownTimeout    time.Duration
	LogLevel           slog.Level
	CORSAllowedOrigins []string
	CORSAllowedMethods []string
	CORSAllowedHeaders []string
	CORSMaxAge         int

	// AdminToken gates /api/admin/keys*. An empty token disables admin
	// endpoints entirely rather than leaving them reachable unauthenticated.
	AdminToken string
	// LegacyAPIKey, when set, bypasses the per-key rate limiter (spec §4.5).
	LegacyAPIKey string

	ResultsDir         string
	UploadDir          string
	UploadMaxMB        int64
	UploadAllowedExts  []string
	QueueName          string
	ArtifactTTLSeconds int
}

// LoadServerConfig loads server configuration from environment variables with sensible defaults.
func LoadServerConfig() ServerConfig {
	return ServerConfig{
		Port:               config.GetEnvInt("PORT", DefaultPort),
		Host:               config.GetEnvStr("HOST", DefaultHost),
		ReadTimeout:        config.GetEnvDuration("READ_TIMEOUT", DefaultTimeout),
		WriteTimeout:       config.GetEnvDuration("WRITE_TIMEOUT", DefaultTimeout),
		ShutdownTimeout:    config.GetEnvDuration("SHUTDOWN_TIMEOUT", DefaultTimeout),
		LogLevel:           config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		CORSAllowedOrigins: config.ParseCommaSeparatedList(config.GetEnvStr("TAAS_CORS_ORIGINS", "*")),
		CORSAllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		CORSAllowedHeaders: []string{"Content-Type", "X-Correlation-ID", "X-API-Key", "X-Admin-Token"},
		CORSMaxAge:         DefaultCORSMaxAge,

		AdminToken:   config.GetEnvStr("ADMIN_TOKEN", ""),
		LegacyAPIKey: config.GetEnvStr("API_KEY", ""),

		ResultsDir:         config.GetEnvStr("TAAS_RESULTS_DIR", "./data/results"),
		UploadDir:          config.GetEnvStr("TAAS_UPLOAD_DIR", "./data/uploads"),
		UploadMaxMB:        config.GetEnvInt64("TAAS_UPLOAD_MAX_MB", DefaultUploadMaxMB),
		UploadAllowedExts:  config.ParseCommaSeparatedList(config.GetEnvStr("TAAS_UPLOAD_ALLOWED_EXTS", DefaultUploadAllowedExts)),
		QueueName:          config.GetEnvStr("TAAS_QUEUE_NAME", "taas"),
		ArtifactTTLSeconds: config.GetEnvInt("ARTIFACT_TTL_SECONDS", DefaultArtifactTTLSeconds),
	}
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ToCORSConfig converts ServerConfig CORS fields to a CORSConfig, which implements middleware.CORSConfig.
func (c ServerConfig) ToCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins: c.CORSAllowedOrigins,
		AllowedMethods: c.CORSAllowedMethods,
		AllowedHeaders: c.CORSAllowedHeaders,
		MaxAge:         c.CORSMaxAge,
	}
}

// CORSConfig holds CORS configuration options.
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         int
}

// GetAllowedOrigins returns the allowed origins for CORS.
func (c CORSConfig) GetAllowedOrigins() []string { return c.AllowedOrigins }

// GetAllowedMethods returns the allowed methods for CORS.
func (c CORSConfig) GetAllowedMethods() []string { return c.AllowedMethods }

// GetAllowedHeaders returns the allowed headers for CORS.
func (c CORSConfig) GetAllowedHeaders() []string { return c.AllowedHeaders }

// GetMaxAge returns the max age for CORS preflight cache.
func (c CORSConfig) GetMaxAge() int { return c.MaxAge }

// Validate validates the server configuration.
func (c ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > MaxPort {
		return fmt.Errorf("%w: %d, must be between 1 and %d", ErrInvalidPort, c.Port, MaxPort)
	}

	if c.Host == "" {
		return ErrEmptyHost
	}

	if c.ReadTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidReadTimeout, c.ReadTimeout)
	}

	if c.WriteTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidWriteTimeout, c.WriteTimeout)
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidShutdownTimeout, c.ShutdownTimeout)
	}

	return nil
}
