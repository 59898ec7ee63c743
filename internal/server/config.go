// Package server provides configuration helpers that define runtime defaults,
// environment loading, and validation for the room chat service.
package server

import (
	"fmt"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

const (
	defaultPort            = 7777
	defaultAllowedOrigins  = "http://localhost:3000"
	defaultMaxMessageSize  = 64 * 1024
	defaultUploadDir       = "uploads"
	defaultCatalogPath     = "uploads.db"
	defaultMaxUploadSize   = 32 << 20
	defaultStreamChunkSize = 64 * 1024
	defaultLogLevel        = "INFO"
	defaultShutdownTimeout = 10 * time.Second
)

// Config holds the server configuration. Field tags name the environment
// variables read by LoadConfig.
type Config struct {
	Host            string        `env:"HOST"`
	Port            int           `env:"PORT,default=7777"`
	AllowedOrigins  string        `env:"ALLOWED_ORIGINS,default=http://localhost:3000"`
	MaxMessageSize  int64         `env:"MAX_MESSAGE_SIZE,default=65536"`
	UploadDir       string        `env:"UPLOAD_DIR,default=uploads"`
	CatalogPath     string        `env:"CATALOG_PATH,default=uploads.db"`
	MaxUploadSize   int64         `env:"MAX_UPLOAD_SIZE,default=33554432"`
	StreamChunkSize int           `env:"STREAM_CHUNK_SIZE,default=65536"`
	EchoFileStream  bool          `env:"ECHO_FILE_STREAM,default=true"`
	LogLevel        string        `env:"LOG_LEVEL,default=INFO"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

func defaultConfig() Config {
	return Config{
		Port:            defaultPort,
		AllowedOrigins:  defaultAllowedOrigins,
		MaxMessageSize:  defaultMaxMessageSize,
		UploadDir:       defaultUploadDir,
		CatalogPath:     defaultCatalogPath,
		MaxUploadSize:   defaultMaxUploadSize,
		StreamChunkSize: defaultStreamChunkSize,
		EchoFileStream:  true,
		LogLevel:        defaultLogLevel,
		ShutdownTimeout: defaultShutdownTimeout,
	}
}

// sanitizeConfig replaces out-of-range values with defaults.
func sanitizeConfig(cfg Config) Config {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		cfg.Port = defaultPort
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}

	if cfg.UploadDir == "" {
		cfg.UploadDir = defaultUploadDir
	}

	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = defaultMaxUploadSize
	}

	if cfg.StreamChunkSize <= 0 {
		cfg.StreamChunkSize = defaultStreamChunkSize
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	cfg.LogLevel = strings.ToUpper(cfg.LogLevel)

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// LoadConfig reads an optional .env file, then the process environment.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load configuration: %w", err)
	}
	return sanitizeConfig(cfg), nil
}

// Addr is the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Origins splits AllowedOrigins on commas.
func (c Config) Origins() []string {
	return parseOrigins(c.AllowedOrigins)
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
