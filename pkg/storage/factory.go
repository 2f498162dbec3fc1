package storage

import (
	"fmt"
	"time"
)

// ProviderType represents the type of storage provider
type ProviderType string

const (
	// MemoryProviderType is an in-memory storage provider
	MemoryProviderType ProviderType = "memory"

	// DynamoDBProviderType is a DynamoDB storage provider
	DynamoDBProviderType ProviderType = "dynamodb"

	// PostgreSQLProviderType is a PostgreSQL storage provider
	PostgreSQLProviderType ProviderType = "postgresql"

	// RedisProviderType is a Redis storage provider
	RedisProviderType ProviderType = "redis"
)

// ProviderConfig contains configuration for storage providers
type ProviderConfig struct {
	// Type is the type of storage provider to create
	Type ProviderType

	// DynamoDB contains configuration for the DynamoDB provider
	DynamoDB *DynamoDBProviderConfig

	// PostgreSQL contains configuration for the PostgreSQL provider
	PostgreSQL *PostgreSQLProviderConfig

	// Redis contains configuration for the Redis provider
	Redis *RedisProviderConfig

	// CacheTTL puts a read-through cache in front of the graph store when positive
	CacheTTL time.Duration
}

// NewProvider creates a new storage provider based on the configuration
func NewProvider(config ProviderConfig) (StorageProvider, error) {
	provider, err := newBackend(config)
	if err != nil {
		return nil, err
	}
	if config.CacheTTL > 0 {
		return &cachedProvider{
			StorageProvider: provider,
			graph:           NewCachedGraphStore(provider.GetGraphStore(), config.CacheTTL),
		}, nil
	}
	return provider, nil
}

func newBackend(config ProviderConfig) (StorageProvider, error) {
	switch config.Type {
	case MemoryProviderType, "":
		return NewMemoryProvider(), nil

	case DynamoDBProviderType:
		if config.DynamoDB == nil {
			return nil, fmt.Errorf("DynamoDB configuration is required for DynamoDB provider")
		}
		return NewDynamoDBProvider(*config.DynamoDB)

	case PostgreSQLProviderType:
		if config.PostgreSQL == nil {
			return nil, fmt.Errorf("PostgreSQL configuration is required for PostgreSQL provider")
		}
		return NewPostgreSQLProvider(*config.PostgreSQL)

	case RedisProviderType:
		if config.Redis == nil {
			return nil, fmt.Errorf("Redis configuration is required for Redis provider")
		}
		return NewRedisProvider(*config.Redis), nil

	default:
		return nil, fmt.Errorf("unknown provider type: %s", config.Type)
	}
}

// cachedProvider swaps the graph store of a provider for its cached decorator
type cachedProvider struct {
	StorageProvider
	graph *CachedGraphStore
}

func (p *cachedProvider) GetGraphStore() GraphStore {
	return p.graph
}
