package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `env:",prefix=SERVER_"`

	// Database configuration
	Database DatabaseConfig `env:",prefix=DB_"`

	// Application configuration
	App AppConfig `env:",prefix=APP_"`

	// Voucher issuance and allocation tuning
	Voucher VoucherConfig `env:",prefix=VOUCHER_"`

	// Inbound subscriber webhook
	Webhook WebhookConfig `env:",prefix=WEBHOOK_"`

	// QR rendering
	QR QRConfig `env:",prefix=QR_"`

	// Redis-backed QR cache (disabled when ADDR is empty)
	Redis RedisConfig `env:",prefix=REDIS_"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port         string `env:"PORT,default=8080"`
	Host         string `env:"HOST,default=0.0.0.0"`
	ReadTimeout  int    `env:"READ_TIMEOUT,default=30"`  // seconds
	WriteTimeout int    `env:"WRITE_TIMEOUT,default=30"` // seconds
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string `env:"HOST,default=localhost"`
	Port     string `env:"PORT,default=5432"`
	User     string `env:"USER,default=postgres"`
	Password string `env:"PASSWORD,default=postgres"`
	Name     string `env:"NAME,default=voucher_system"`
	SSLMode  string `env:"SSL_MODE,default=disable"`
	MaxConns int    `env:"MAX_CONNS,default=25"`
	MinConns int    `env:"MIN_CONNS,default=5"`
}

// AppConfig holds application-specific configuration
type AppConfig struct {
	Environment string `env:"ENVIRONMENT,default=development"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
	LogFormat   string `env:"LOG_FORMAT,default=console"` // console or json
	Debug       bool   `env:"DEBUG,default=false"`
	Storage     string `env:"STORAGE,default=postgres"` // postgres or memory
	AutoMigrate bool   `env:"AUTO_MIGRATE,default=true"`
}

// VoucherConfig bounds code generation, bulk issuance and assignment.
type VoucherConfig struct {
	CodeLength       int `env:"CODE_LENGTH,default=8"`
	CodeAttempts     int `env:"CODE_ATTEMPTS,default=10"`
	BatchSize        int `env:"BATCH_SIZE,default=500"`
	BatchRetries     int `env:"BATCH_RETRIES,default=3"`
	MaxQuantity      int `env:"MAX_QUANTITY,default=500"`
	AssignAttempts   int `env:"ASSIGN_ATTEMPTS,default=5"`
	AssignCandidates int `env:"ASSIGN_CANDIDATES,default=5"`
}

// WebhookConfig holds the shared secret expected as ?secret= on deliveries.
type WebhookConfig struct {
	Secret string `env:"SECRET"`
}

// QRConfig holds QR rendering defaults
type QRConfig struct {
	Size       int    `env:"SIZE,default=300"`
	Foreground string `env:"FOREGROUND,default=#115E59"`
	Background string `env:"BACKGROUND,default=#FFFFFF"`
}

// RedisConfig holds Redis connection settings for the QR cache
type RedisConfig struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB,default=0"`
	CacheTTL int    `env:"CACHE_TTL,default=86400"` // seconds
}

// Load loads configuration from environment variables
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the services cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Voucher.CodeLength < 4 || c.Voucher.CodeLength > 32 {
		errs = append(errs, fmt.Errorf("VOUCHER_CODE_LENGTH must be between 4 and 32, got %d", c.Voucher.CodeLength))
	}
	if c.Voucher.CodeAttempts <= 0 {
		errs = append(errs, errors.New("VOUCHER_CODE_ATTEMPTS must be positive"))
	}
	if c.Voucher.BatchSize <= 0 {
		errs = append(errs, errors.New("VOUCHER_BATCH_SIZE must be positive"))
	}
	if c.Voucher.BatchRetries < 0 {
		errs = append(errs, errors.New("VOUCHER_BATCH_RETRIES must not be negative"))
	}
	if c.Voucher.MaxQuantity <= 0 {
		errs = append(errs, errors.New("VOUCHER_MAX_QUANTITY must be positive"))
	}
	if c.Voucher.AssignAttempts <= 0 || c.Voucher.AssignCandidates <= 0 {
		errs = append(errs, errors.New("VOUCHER_ASSIGN_ATTEMPTS and VOUCHER_ASSIGN_CANDIDATES must be positive"))
	}
	switch c.App.Storage {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("APP_STORAGE must be postgres or memory, got %q", c.App.Storage))
	}
	if c.QR.Size < 64 || c.QR.Size > 1024 {
		errs = append(errs, fmt.Errorf("QR_SIZE must be between 64 and 1024, got %d", c.QR.Size))
	}
	return errors.Join(errs...)
}

// GetDatabaseURL returns the PostgreSQL connection URL
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// IsDevelopment returns true if running in development environment
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production environment
func (c *AppConfig) IsProduction() bool {
	return c.Environment == "production"
}

// TTL returns the QR cache entry lifetime.
func (c *RedisConfig) TTL() time.Duration {
	return time.Duration(c.CacheTTL) * time.Second
}

// Enabled reports whether a Redis address was configured.
func (c *RedisConfig) Enabled() bool {
	return c.Addr != ""
}
