package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store backends
const (
	BackendSQLite   = "sqlite"
	BackendDynamoDB = "dynamodb"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	ServerAddress string
	Environment   string
	MaxBodyBytes  int64

	// Storage
	StoreBackend         string
	SQLitePath           string
	HistoryRetention     int
	EnableCircuitBreaker bool

	// AWS configuration
	AWSRegion        string
	DynamoDBTable    string
	DynamoDBEndpoint string // optional, e.g. DynamoDB Local
	EventBusName     string // empty means events are only logged

	// Logging
	LogLevel string

	// Observability
	EnableMetrics bool
	EnableTracing bool
	OTLPEndpoint  string

	// Query cache TTL for immutable snapshots
	QueryCacheTTL time.Duration

	// Optional YAML overlay, watched for log level changes
	ConfigFile string
}

// fileConfig is the YAML overlay. Only keys present in the file override
// the environment.
type fileConfig struct {
	ServerAddress        *string `yaml:"server_address"`
	Environment          *string `yaml:"environment"`
	MaxBodyBytes         *int64  `yaml:"max_body_bytes"`
	StoreBackend         *string `yaml:"store_backend"`
	SQLitePath           *string `yaml:"sqlite_path"`
	HistoryRetention     *int    `yaml:"history_retention"`
	EnableCircuitBreaker *bool   `yaml:"enable_circuit_breaker"`
	AWSRegion            *string `yaml:"aws_region"`
	DynamoDBTable        *string `yaml:"dynamodb_table"`
	DynamoDBEndpoint     *string `yaml:"dynamodb_endpoint"`
	EventBusName         *string `yaml:"event_bus_name"`
	LogLevel             *string `yaml:"log_level"`
	EnableMetrics        *bool   `yaml:"enable_metrics"`
	EnableTracing        *bool   `yaml:"enable_tracing"`
	OTLPEndpoint         *string `yaml:"otlp_endpoint"`
	QueryCacheTTL        *string `yaml:"query_cache_ttl"`
}

// LoadConfig loads configuration from .env, the environment and the
// optional CONFIG_FILE overlay, in that order
func LoadConfig() (*Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	cfg := &Config{
		ServerAddress: getEnv("SERVER_ADDRESS", ":8080"),
		Environment:   getEnv("ENVIRONMENT", "development"),
		MaxBodyBytes:  int64(getEnvInt("MAX_BODY_BYTES", 10<<20)),

		StoreBackend:         getEnv("STORE_BACKEND", BackendSQLite),
		SQLitePath:           getEnv("SQLITE_PATH", "./data/knowgraph.db"),
		HistoryRetention:     getEnvInt("HISTORY_RETENTION", 20),
		EnableCircuitBreaker: getEnvBool("ENABLE_CIRCUIT_BREAKER", false),

		AWSRegion:        getEnv("AWS_REGION", ""),
		DynamoDBTable:    getEnv("DYNAMODB_TABLE", "knowgraph"),
		DynamoDBEndpoint: getEnv("DYNAMODB_ENDPOINT", ""),
		EventBusName:     getEnv("EVENT_BUS_NAME", ""),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		EnableMetrics: getEnvBool("ENABLE_METRICS", true),
		EnableTracing: getEnvBool("ENABLE_TRACING", false),
		OTLPEndpoint:  getEnv("OTLP_ENDPOINT", "localhost:4317"),
		QueryCacheTTL: getEnvDuration("QUERY_CACHE_TTL", 60*time.Second),

		ConfigFile: getEnv("CONFIG_FILE", ""),
	}

	if cfg.ConfigFile != "" {
		if err := cfg.applyFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Load is an alias for LoadConfig
func Load() (*Config, error) {
	return LoadConfig()
}

func readFileConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &fc, nil
}

func (c *Config) applyFile(path string) error {
	fc, err := readFileConfig(path)
	if err != nil {
		return err
	}

	setString(&c.ServerAddress, fc.ServerAddress)
	setString(&c.Environment, fc.Environment)
	setString(&c.StoreBackend, fc.StoreBackend)
	setString(&c.SQLitePath, fc.SQLitePath)
	setString(&c.AWSRegion, fc.AWSRegion)
	setString(&c.DynamoDBTable, fc.DynamoDBTable)
	setString(&c.DynamoDBEndpoint, fc.DynamoDBEndpoint)
	setString(&c.EventBusName, fc.EventBusName)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.OTLPEndpoint, fc.OTLPEndpoint)

	if fc.MaxBodyBytes != nil {
		c.MaxBodyBytes = *fc.MaxBodyBytes
	}
	if fc.HistoryRetention != nil {
		c.HistoryRetention = *fc.HistoryRetention
	}
	if fc.EnableCircuitBreaker != nil {
		c.EnableCircuitBreaker = *fc.EnableCircuitBreaker
	}
	if fc.EnableMetrics != nil {
		c.EnableMetrics = *fc.EnableMetrics
	}
	if fc.EnableTracing != nil {
		c.EnableTracing = *fc.EnableTracing
	}
	if fc.QueryCacheTTL != nil {
		ttl, err := time.ParseDuration(*fc.QueryCacheTTL)
		if err != nil {
			return fmt.Errorf("invalid query_cache_ttl %q: %w", *fc.QueryCacheTTL, err)
		}
		c.QueryCacheTTL = ttl
	}
	return nil
}

// Validate checks if all required configuration is present
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreBackend {
	case BackendSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite backend"))
		}
	case BackendDynamoDB:
		if c.DynamoDBTable == "" {
			errs = append(errs, errors.New("DYNAMODB_TABLE is required for the dynamodb backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	if c.HistoryRetention <= 0 {
		errs = append(errs, errors.New("HISTORY_RETENTION must be positive"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("MAX_BODY_BYTES must be positive"))
	}

	return errors.Join(errs...)
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
