// Package config provides configuration handling for chatflow.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tcmartin/chatflow/pkg/logging"
	"github.com/tcmartin/chatflow/pkg/storage"
	"github.com/tcmartin/chatflow/pkg/utils"
)

// Config represents the application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `json:"server"`

	// Storage configuration
	Storage StorageConfig `json:"storage"`

	// Engine configuration
	Engine EngineConfig `json:"engine"`

	// AI provider configuration
	AI AIConfig `json:"ai"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	// Host to bind to
	Host string `json:"host"`

	// Port to listen on
	Port int `json:"port"`

	// TLS configuration
	TLS TLSConfig `json:"tls"`

	// AllowedOrigins for CORS; "*" allows any origin
	AllowedOrigins []string `json:"allowed_origins"`

	// ExecuteRateLimit is the number of execute requests per minute a client may make; 0 disables
	ExecuteRateLimit int `json:"execute_rate_limit"`
}

// TLSConfig contains TLS settings
type TLSConfig struct {
	// Enabled indicates whether TLS is enabled
	Enabled bool `json:"enabled"`

	// CertFile is the path to the certificate file
	CertFile string `json:"cert_file"`

	// KeyFile is the path to the key file
	KeyFile string `json:"key_file"`
}

// StorageConfig contains storage settings
type StorageConfig struct {
	// Type of storage to use
	Type string `json:"type"` // "memory", "postgresql", "dynamodb", "redis"

	// DynamoDB configuration
	DynamoDB DynamoDBConfig `json:"dynamodb"`

	// PostgreSQL configuration
	Postgres PostgresConfig `json:"postgres"`

	// Redis configuration
	Redis RedisConfig `json:"redis"`

	// CacheTTLSeconds enables the graph cache when positive
	CacheTTLSeconds int `json:"cache_ttl_seconds"`
}

// DynamoDBConfig contains DynamoDB settings
type DynamoDBConfig struct {
	// Region is the AWS region
	Region string `json:"region"`

	// Endpoint is the DynamoDB endpoint (for local development)
	Endpoint string `json:"endpoint"`

	// TablePrefix is the prefix for all tables
	TablePrefix string `json:"table_prefix"`
}

// PostgresConfig contains PostgreSQL settings
type PostgresConfig struct {
	// Host is the database host
	Host string `json:"host"`

	// Port is the database port
	Port int `json:"port"`

	// Database is the database name
	Database string `json:"database"`

	// User is the database user
	User string `json:"user"`

	// Password is the database password
	Password string `json:"password"`

	// SSLMode is the SSL mode
	SSLMode string `json:"ssl_mode"`
}

// RedisConfig contains Redis settings
type RedisConfig struct {
	Addr      string `json:"addr"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Namespace string `json:"namespace"`
}

// EngineConfig contains flow engine settings
type EngineConfig struct {
	// MaxDepth bounds the nodes visited in one turn
	MaxDepth int `json:"max_depth"`

	// TimeoutSeconds is the per-turn deadline
	TimeoutSeconds int `json:"timeout_seconds"`

	// StrictConditions makes unrecognized conditions fail closed
	StrictConditions bool `json:"strict_conditions"`

	// PersistTimeoutMillis bounds how long a turn waits for its trace to be written
	PersistTimeoutMillis int `json:"persist_timeout_millis"`

	// ScriptTimeoutMillis bounds custom_code scripts; zero disables scripting
	ScriptTimeoutMillis int `json:"script_timeout_millis"`
}

// AIConfig contains language model settings
type AIConfig struct {
	// Provider is "openai" or "anthropic"; empty disables AI calls
	Provider       string `json:"provider"`
	BaseURL        string `json:"base_url"`
	APIKey         string `json:"api_key"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	// Level is the logging level
	Level string `json:"level"` // "debug", "info", "warn", "error"

	// Format is the log format
	Format string `json:"format"` // "json", "console"

	// Output is the log output
	Output string `json:"output"` // "stdout", "stderr", "file"

	// FilePath is the path to the log file
	FilePath string `json:"file_path"`
}

// LoadConfig loads the configuration from a file. Missing fields keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "localhost",
			Port:           8080,
			AllowedOrigins: []string{"*"},
		},
		Storage: StorageConfig{
			Type: "memory",
			DynamoDB: DynamoDBConfig{
				Region:      "us-west-2",
				TablePrefix: "chatflow_",
			},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "chatflow",
				User:     "chatflow",
				SSLMode:  "disable",
			},
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				Namespace: "chatflow",
			},
		},
		Engine: EngineConfig{
			MaxDepth:             100,
			TimeoutSeconds:       30,
			PersistTimeoutMillis: 2000,
			ScriptTimeoutMillis:  1000,
		},
		AI: AIConfig{
			TimeoutSeconds: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// SaveConfig saves the configuration to a file
func SaveConfig(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnvOverrides overrides configuration with CHATFLOW_* environment variables.
// Malformed numbers and booleans are ignored.
func ApplyEnvOverrides(cfg *Config) {
	// Server configuration
	setString(&cfg.Server.Host, "CHATFLOW_SERVER_HOST")
	setInt(&cfg.Server.Port, "CHATFLOW_SERVER_PORT")
	setInt(&cfg.Server.ExecuteRateLimit, "CHATFLOW_SERVER_EXECUTE_RATE_LIMIT")

	// Storage configuration
	setString(&cfg.Storage.Type, "CHATFLOW_STORAGE_TYPE")
	setInt(&cfg.Storage.CacheTTLSeconds, "CHATFLOW_STORAGE_CACHE_TTL_SECONDS")

	setString(&cfg.Storage.DynamoDB.Region, "CHATFLOW_DYNAMODB_REGION")
	setString(&cfg.Storage.DynamoDB.Endpoint, "CHATFLOW_DYNAMODB_ENDPOINT")
	setString(&cfg.Storage.DynamoDB.TablePrefix, "CHATFLOW_DYNAMODB_TABLE_PREFIX")

	setString(&cfg.Storage.Postgres.Host, "CHATFLOW_POSTGRES_HOST")
	setInt(&cfg.Storage.Postgres.Port, "CHATFLOW_POSTGRES_PORT")
	setString(&cfg.Storage.Postgres.Database, "CHATFLOW_POSTGRES_DATABASE")
	setString(&cfg.Storage.Postgres.User, "CHATFLOW_POSTGRES_USER")
	setString(&cfg.Storage.Postgres.Password, "CHATFLOW_POSTGRES_PASSWORD")
	setString(&cfg.Storage.Postgres.SSLMode, "CHATFLOW_POSTGRES_SSL_MODE")

	setString(&cfg.Storage.Redis.Addr, "CHATFLOW_REDIS_ADDR")
	setString(&cfg.Storage.Redis.Password, "CHATFLOW_REDIS_PASSWORD")
	setInt(&cfg.Storage.Redis.DB, "CHATFLOW_REDIS_DB")
	setString(&cfg.Storage.Redis.Namespace, "CHATFLOW_REDIS_NAMESPACE")

	// Engine configuration
	setInt(&cfg.Engine.MaxDepth, "CHATFLOW_ENGINE_MAX_DEPTH")
	setInt(&cfg.Engine.TimeoutSeconds, "CHATFLOW_ENGINE_TIMEOUT_SECONDS")
	setBool(&cfg.Engine.StrictConditions, "CHATFLOW_ENGINE_STRICT_CONDITIONS")
	setInt(&cfg.Engine.PersistTimeoutMillis, "CHATFLOW_ENGINE_PERSIST_TIMEOUT_MILLIS")
	setInt(&cfg.Engine.ScriptTimeoutMillis, "CHATFLOW_ENGINE_SCRIPT_TIMEOUT_MILLIS")

	// AI configuration
	setString(&cfg.AI.Provider, "CHATFLOW_AI_PROVIDER")
	setString(&cfg.AI.BaseURL, "CHATFLOW_AI_BASE_URL")
	setString(&cfg.AI.APIKey, "CHATFLOW_AI_API_KEY")
	setString(&cfg.AI.Model, "CHATFLOW_AI_MODEL")
	setInt(&cfg.AI.TimeoutSeconds, "CHATFLOW_AI_TIMEOUT_SECONDS")

	// Logging configuration
	setString(&cfg.Logging.Level, "CHATFLOW_LOG_LEVEL")
	setString(&cfg.Logging.Format, "CHATFLOW_LOG_FORMAT")
	setString(&cfg.Logging.Output, "CHATFLOW_LOG_OUTPUT")
	setString(&cfg.Logging.FilePath, "CHATFLOW_LOG_FILE_PATH")
}

func setString(target *string, key string) {
	if value := os.Getenv(key); value != "" {
		*target = value
	}
}

func setInt(target *int, key string) {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			*target = n
		}
	}
}

func setBool(target *bool, key string) {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			*target = b
		}
	}
}

// ProviderConfig converts the storage section for storage.NewProvider
func (c *Config) ProviderConfig() storage.ProviderConfig {
	providerConfig := storage.ProviderConfig{
		Type:     storage.ProviderType(c.Storage.Type),
		CacheTTL: time.Duration(c.Storage.CacheTTLSeconds) * time.Second,
	}

	switch providerConfig.Type {
	case storage.PostgreSQLProviderType, "postgres":
		providerConfig.Type = storage.PostgreSQLProviderType
		providerConfig.PostgreSQL = &storage.PostgreSQLProviderConfig{
			Host:     c.Storage.Postgres.Host,
			Port:     c.Storage.Postgres.Port,
			User:     c.Storage.Postgres.User,
			Password: c.Storage.Postgres.Password,
			Database: c.Storage.Postgres.Database,
			SSLMode:  c.Storage.Postgres.SSLMode,
		}
	case storage.DynamoDBProviderType:
		providerConfig.DynamoDB = &storage.DynamoDBProviderConfig{
			Region:      c.Storage.DynamoDB.Region,
			Endpoint:    c.Storage.DynamoDB.Endpoint,
			TablePrefix: c.Storage.DynamoDB.TablePrefix,
		}
	case storage.RedisProviderType:
		providerConfig.Redis = &storage.RedisProviderConfig{
			Addr:      c.Storage.Redis.Addr,
			Password:  c.Storage.Redis.Password,
			DB:        c.Storage.Redis.DB,
			Namespace: c.Storage.Redis.Namespace,
		}
	}

	return providerConfig
}

// LogConfig converts the logging section for logging.NewZapLogger
func (c *Config) LogConfig() logging.LogConfig {
	return logging.LogConfig{
		Level:    c.Logging.Level,
		Format:   c.Logging.Format,
		Output:   c.Logging.Output,
		FilePath: c.Logging.FilePath,
	}
}

// LLMClientConfig converts the AI section. ok is false when no provider is configured.
func (c *Config) LLMClientConfig() (cfg utils.LLMClientConfig, ok bool) {
	if c.AI.Provider == "" {
		return utils.LLMClientConfig{}, false
	}
	return utils.LLMClientConfig{
		Provider: utils.LLMProvider(c.AI.Provider),
		APIKey:   c.AI.APIKey,
		BaseURL:  c.AI.BaseURL,
		Model:    c.AI.Model,
		Timeout:  time.Duration(c.AI.TimeoutSeconds) * time.Second,
	}, true
}

// EngineTimeout returns the per-turn deadline
func (c *Config) EngineTimeout() time.Duration {
	return time.Duration(c.Engine.TimeoutSeconds) * time.Second
}

// PersistTimeout returns how long a turn waits for its trace
func (c *Config) PersistTimeout() time.Duration {
	return time.Duration(c.Engine.PersistTimeoutMillis) * time.Millisecond
}

// ScriptTimeout returns the custom_code deadline
func (c *Config) ScriptTimeout() time.Duration {
	return time.Duration(c.Engine.ScriptTimeoutMillis) * time.Millisecond
}
