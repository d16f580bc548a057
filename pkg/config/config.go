package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gatehouse-dev/gatehouse/pkg/observability"
	"github.com/gatehouse-dev/gatehouse/pkg/storage/postgres"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Authorization engine configuration
	Authz AuthzConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	URL         string
	ReplicaURLs string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// AuthzConfig holds authorization engine settings
type AuthzConfig struct {
	// ModelPath optionally overrides the compiled-in relationship model
	// with a versioned JSON artifact
	ModelPath string

	// ResolverCacheSize bounds the identity resolver's LRU cache
	ResolverCacheSize int

	// PublicTables optionally overrides the public-read fallback set
	// (comma-separated table names)
	PublicTables string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Authz:         loadAuthzConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("GATEHOUSE_HOST", "0.0.0.0"),
		Port:            getEnv("GATEHOUSE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("GATEHOUSE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("GATEHOUSE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("GATEHOUSE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("GATEHOUSE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("GATEHOUSE_HEALTH_PORT", "9090"),
	}
}

// loadDatabaseConfig loads database configuration from environment
func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:         getEnv("GATEHOUSE_DATABASE_URL", ""),
		ReplicaURLs: getEnv("GATEHOUSE_DATABASE_REPLICA_URLS", ""),
		MaxConns:    getEnvInt("GATEHOUSE_DATABASE_MAX_CONNS", 25),
		MinConns:    getEnvInt("GATEHOUSE_DATABASE_MIN_CONNS", 5),
		Timeout:     getEnvDuration("GATEHOUSE_DATABASE_TIMEOUT", 10*time.Second),
		MaxLifetime: getEnvDuration("GATEHOUSE_DATABASE_MAX_LIFETIME", 30*time.Minute),
		MaxIdleTime: getEnvDuration("GATEHOUSE_DATABASE_MAX_IDLE_TIME", 5*time.Minute),
	}
}

// loadAuthzConfig loads authorization engine configuration from environment
func loadAuthzConfig() AuthzConfig {
	return AuthzConfig{
		ModelPath:         getEnv("GATEHOUSE_MODEL_PATH", ""),
		ResolverCacheSize: getEnvInt("GATEHOUSE_RESOLVER_CACHE_SIZE", 4096),
		PublicTables:      getEnv("GATEHOUSE_PUBLIC_TABLES", ""),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       parseLogLevel(getEnv("GATEHOUSE_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("GATEHOUSE_METRICS_ENABLED", true),
	}
}

// ConnectionConfig converts the database section into the connection
// manager's configuration
func (c *DatabaseConfig) ConnectionConfig() postgres.ConnectionConfig {
	return postgres.ConnectionConfig{
		PrimaryURL:  c.URL,
		ReplicaURLs: postgres.ParseReplicaURLs(c.ReplicaURLs),
		MaxConns:    c.MaxConns,
		MinConns:    c.MinConns,
		Timeout:     c.Timeout,
		MaxLifetime: c.MaxLifetime,
		MaxIdleTime: c.MaxIdleTime,
	}
}

// PublicTableList splits the configured public table override, empty when unset
func (c *AuthzConfig) PublicTableList() []string {
	if c.PublicTables == "" {
		return nil
	}
	parts := strings.Split(c.PublicTables, ",")
	tables := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			tables = append(tables, trimmed)
		}
	}
	return tables
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("database max conns must be >= min conns")
	}

	if c.Authz.ResolverCacheSize <= 0 {
		return fmt.Errorf("resolver cache size must be positive")
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
