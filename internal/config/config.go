package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ErrMissingAPIKey is returned when no platform credential is configured
var ErrMissingAPIKey = errors.New("PLATFORM_API_KEY is required")

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	NATS     NATSConfig
	Platform PlatformConfig
	Jobs     JobsConfig
	Log      LogConfig
	// TemplatePath is the blueprint file used for provisioning
	TemplatePath string
}

// ServerConfig holds listener configuration
type ServerConfig struct {
	HTTPPort        int
	GRPCPort        int
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
	MinConns int32
	// EncryptionKey seals secrets stored in tenant rows
	EncryptionKey string
}

// DSN returns the key/value connection string understood by pgx and lib/pq
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// URL returns the connection string in URL form, as golang-migrate expects
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// RedisConfig holds Redis settings. An empty Addr selects in-process queueing
// and locking and disables the tenant cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
}

// NATSConfig holds lifecycle event settings. An empty URL disables publishing.
type NATSConfig struct {
	URL     string
	Subject string
}

// PlatformConfig holds the remote platform API settings
type PlatformConfig struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// JobsConfig holds job runner and retry settings
type JobsConfig struct {
	Workers           int
	PollInterval      time.Duration
	LockTTL           time.Duration
	LockRetryDelay    time.Duration
	JobTimeout        time.Duration
	MaxRetries        int
	RetryBaseDelay    time.Duration
	ReconcileInterval time.Duration
	StaleAfter        time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			HTTPPort:        parseInt("HTTP_PORT", 8081),
			GRPCPort:        parseInt("GRPC_PORT", 50051),
			ShutdownTimeout: parseDuration("SHUTDOWN_TIMEOUT", "10s"),
		},
		Database: loadDatabase(),
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       parseInt("REDIS_DB", 0),
			CacheTTL: parseDuration("REDIS_CACHE_TTL", "1h"),
		},
		NATS: NATSConfig{
			URL:     getEnv("NATS_URL", ""),
			Subject: getEnv("NATS_SUBJECT", "tenants.lifecycle"),
		},
		Platform: PlatformConfig{
			BaseURL:           getEnv("PLATFORM_BASE_URL", "https://api.render.com/v1"),
			APIKey:            getEnv("PLATFORM_API_KEY", ""),
			Timeout:           parseDuration("PLATFORM_TIMEOUT", "30s"),
			RequestsPerSecond: parseFloat("PLATFORM_RPS", 5),
			Burst:             parseInt("PLATFORM_BURST", 10),
		},
		Jobs: JobsConfig{
			Workers:           parseInt("JOB_WORKERS", 4),
			PollInterval:      parseDuration("JOB_POLL_INTERVAL", "1s"),
			LockTTL:           parseDuration("JOB_LOCK_TTL", "15m"),
			LockRetryDelay:    parseDuration("JOB_LOCK_RETRY_DELAY", "5s"),
			JobTimeout:        parseDuration("JOB_TIMEOUT", "10m"),
			MaxRetries:        parseInt("JOB_MAX_RETRIES", 3),
			RetryBaseDelay:    parseDuration("JOB_RETRY_BASE_DELAY", "60s"),
			ReconcileInterval: parseDuration("RECONCILE_INTERVAL", "0s"),
			StaleAfter:        parseDuration("RECONCILE_STALE_AFTER", "30m"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		TemplatePath: getEnv("TEMPLATE_PATH", "templates/base_render.yaml"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadDatabase reads only the database settings. It is used by tools that
// never talk to the platform.
func LoadDatabase() (DatabaseConfig, error) {
	cfg := loadDatabase()
	if cfg.Host == "" || cfg.Name == "" {
		return cfg, errors.New("DB_HOST and DB_NAME are required")
	}
	return cfg, nil
}

func loadDatabase() DatabaseConfig {
	return DatabaseConfig{
		Host:          getEnv("DB_HOST", "localhost"),
		Port:          parseInt("DB_PORT", 5432),
		User:          getEnv("DB_USER", "admin"),
		Password:      getEnv("DB_PASSWORD", "securepassword"),
		Name:          getEnv("DB_NAME", "tenant_registry"),
		SSLMode:       getEnv("DB_SSLMODE", "disable"),
		MaxConns:      int32(parseInt("DB_MAX_CONNS", 20)),
		MinConns:      int32(parseInt("DB_MIN_CONNS", 2)),
		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Platform.APIKey == "" {
		return ErrMissingAPIKey
	}
	if len(c.Database.EncryptionKey) != 32 {
		return errors.New("ENCRYPTION_KEY must be 32 bytes")
	}
	if c.Platform.BaseURL == "" {
		return errors.New("PLATFORM_BASE_URL is required")
	}
	if c.Jobs.Workers < 1 {
		return errors.New("JOB_WORKERS must be at least 1")
	}
	if c.Jobs.MaxRetries < 0 {
		return errors.New("JOB_MAX_RETRIES must not be negative")
	}
	if c.Jobs.JobTimeout <= 0 || c.Jobs.JobTimeout >= c.Jobs.LockTTL {
		return errors.New("JOB_TIMEOUT must be positive and shorter than JOB_LOCK_TTL")
	}
	if c.Jobs.ReconcileInterval > 0 {
		// A tenant is touched on every retry, so the longest quiet period of a
		// live job is one backoff plus one locked run
		if quiet := c.Jobs.MaxRetryDelay() + c.Jobs.LockTTL; c.Jobs.StaleAfter <= quiet {
			return fmt.Errorf("RECONCILE_STALE_AFTER must exceed %s (longest retry delay plus JOB_LOCK_TTL)", quiet)
		}
	}
	return nil
}

// MaxRetryDelay is the backoff before the last retry
func (j JobsConfig) MaxRetryDelay() time.Duration {
	if j.MaxRetries < 1 {
		return 0
	}
	return j.RetryBaseDelay << (j.MaxRetries - 1)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func parseDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	d, err := time.ParseDuration(value)
	if err != nil {
		d, _ = time.ParseDuration(defaultValue)
	}
	return d
}
