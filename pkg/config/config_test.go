package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcmartin/chatflow/pkg/storage"
	"github.com/tcmartin/chatflow/pkg/utils"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, 100, cfg.Engine.MaxDepth)
	assert.Equal(t, 30*time.Second, cfg.EngineTimeout())
	assert.Equal(t, 2*time.Second, cfg.PersistTimeout())
	assert.Equal(t, time.Second, cfg.ScriptTimeout())
	assert.False(t, cfg.Engine.StrictConditions)
}

func TestSaveAndLoadConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "config.json")

	originalCfg := DefaultConfig()
	originalCfg.Server.Host = "testhost"
	originalCfg.Server.Port = 9090
	originalCfg.Storage.Type = "postgresql"
	originalCfg.Engine.StrictConditions = true

	require.NoError(t, SaveConfig(originalCfg, configPath))

	loadedCfg, err := LoadConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, originalCfg, loadedCfg)
}

func TestLoadConfigKeepsDefaults(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{"server": {"port": 9999}}`), 0644))

	cfg, err := LoadConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 30, cfg.Engine.TimeoutSeconds)
}

func TestLoadConfigError(t *testing.T) {
	_, err := LoadConfig("non-existent-file.json")
	assert.Error(t, err)

	configPath := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(configPath, []byte("{"), 0644))
	_, err = LoadConfig(configPath)
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("CHATFLOW_SERVER_PORT", "7070")
	t.Setenv("CHATFLOW_STORAGE_TYPE", "redis")
	t.Setenv("CHATFLOW_REDIS_ADDR", "cache:6379")
	t.Setenv("CHATFLOW_REDIS_DB", "3")
	t.Setenv("CHATFLOW_ENGINE_STRICT_CONDITIONS", "true")
	t.Setenv("CHATFLOW_ENGINE_MAX_DEPTH", "not-a-number")
	t.Setenv("CHATFLOW_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	ApplyEnvOverrides(cfg)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Storage.Type)
	assert.Equal(t, "cache:6379", cfg.Storage.Redis.Addr)
	assert.Equal(t, 3, cfg.Storage.Redis.DB)
	assert.True(t, cfg.Engine.StrictConditions)
	assert.Equal(t, 100, cfg.Engine.MaxDepth)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestProviderConfig(t *testing.T) {
	tests := []struct {
		name        string
		storageType string
		check       func(t *testing.T, pc storage.ProviderConfig)
	}{
		{
			name:        "memory",
			storageType: "memory",
			check: func(t *testing.T, pc storage.ProviderConfig) {
				assert.Equal(t, storage.MemoryProviderType, pc.Type)
				assert.Nil(t, pc.PostgreSQL)
				assert.Nil(t, pc.DynamoDB)
				assert.Nil(t, pc.Redis)
			},
		},
		{
			name:        "postgres alias",
			storageType: "postgres",
			check: func(t *testing.T, pc storage.ProviderConfig) {
				assert.Equal(t, storage.PostgreSQLProviderType, pc.Type)
				require.NotNil(t, pc.PostgreSQL)
				assert.Equal(t, 5432, pc.PostgreSQL.Port)
				assert.Equal(t, "chatflow", pc.PostgreSQL.Database)
			},
		},
		{
			name:        "dynamodb",
			storageType: "dynamodb",
			check: func(t *testing.T, pc storage.ProviderConfig) {
				require.NotNil(t, pc.DynamoDB)
				assert.Equal(t, "chatflow_", pc.DynamoDB.TablePrefix)
			},
		},
		{
			name:        "redis",
			storageType: "redis",
			check: func(t *testing.T, pc storage.ProviderConfig) {
				require.NotNil(t, pc.Redis)
				assert.Equal(t, "localhost:6379", pc.Redis.Addr)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Storage.Type = tt.storageType
			cfg.Storage.CacheTTLSeconds = 5

			pc := cfg.ProviderConfig()
			assert.Equal(t, 5*time.Second, pc.CacheTTL)
			tt.check(t, pc)
		})
	}
}

func TestLLMClientConfig(t *testing.T) {
	cfg := DefaultConfig()
	_, ok := cfg.LLMClientConfig()
	assert.False(t, ok)

	cfg.AI.Provider = "openai"
	cfg.AI.Model = "gpt-4o-mini"
	llm, ok := cfg.LLMClientConfig()
	require.True(t, ok)
	assert.Equal(t, utils.OpenAI, llm.Provider)
	assert.Equal(t, "gpt-4o-mini", llm.Model)
	assert.Equal(t, 10*time.Second, llm.Timeout)
}
