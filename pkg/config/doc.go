// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	GATEHOUSE_HOST="0.0.0.0"
//	GATEHOUSE_PORT="8080"
//	GATEHOUSE_HEALTH_PORT="9090"
//	GATEHOUSE_READ_TIMEOUT="15s"
//	GATEHOUSE_WRITE_TIMEOUT="15s"
//
// Database settings:
//
//	GATEHOUSE_DATABASE_URL="postgres://localhost/gatehouse"
//	GATEHOUSE_DATABASE_REPLICA_URLS="postgres://replica1,postgres://replica2"
//	GATEHOUSE_DATABASE_MAX_CONNS="25"
//	GATEHOUSE_DATABASE_TIMEOUT="10s"
//
// Authorization settings:
//
//	GATEHOUSE_MODEL_PATH="/etc/gatehouse/model.json"  # empty = compiled-in model
//	GATEHOUSE_RESOLVER_CACHE_SIZE="4096"
//	GATEHOUSE_PUBLIC_TABLES="organizations,artifacts,reference_data"
//
// Observability settings:
//
//	GATEHOUSE_LOG_LEVEL="info"  # debug, info, warn, error
//	GATEHOUSE_METRICS_ENABLED="true"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Log level: %s\n", cfg.Observability.LogLevel)
//
// # Related Packages
//
//   - pkg/storage/postgres: Uses database configuration
//   - pkg/observability: Uses observability configuration
package config
