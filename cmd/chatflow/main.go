// Package main is the entry point for the chatflow server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tcmartin/chatflow/pkg/api"
	"github.com/tcmartin/chatflow/pkg/config"
	"github.com/tcmartin/chatflow/pkg/logging"
	"github.com/tcmartin/chatflow/pkg/metrics"
	"github.com/tcmartin/chatflow/pkg/registry"
	"github.com/tcmartin/chatflow/pkg/runtime"
	"github.com/tcmartin/chatflow/pkg/scripting"
	"github.com/tcmartin/chatflow/pkg/storage"
	"github.com/tcmartin/chatflow/pkg/utils"
)

var (
	// Command-line flags
	configPath = flag.String("config", "", "Path to config file")
	version    = flag.Bool("version", false, "Print version information")
)

// Version information
const (
	AppVersion = "0.1.0"
	AppName    = "chatflow"
)

func main() {
	// Load environment variables from .env file
	_ = godotenv.Load()

	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", AppName, AppVersion)
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	app, err := NewApp(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Application failed: %v", err)
		}
	case <-stop:
		app.logger.Info("Shutting down gracefully")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.Stop(ctx); err != nil {
			log.Fatalf("Error during shutdown: %v", err)
		}
	}
}

// loadConfig loads the configuration from the specified path, a standard location or the defaults
func loadConfig() (*config.Config, error) {
	var cfg *config.Config

	if *configPath != "" {
		var err error
		cfg, err = config.LoadConfig(*configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", *configPath, err)
		}
	} else {
		locations := []string{
			"./config.json",
			"./configs/config.json",
			filepath.Join(os.Getenv("HOME"), ".chatflow", "config.json"),
			"/etc/chatflow/config.json",
		}

		for _, path := range locations {
			if loadedCfg, err := config.LoadConfig(path); err == nil {
				cfg = loadedCfg
				break
			}
		}

		if cfg == nil {
			cfg = config.DefaultConfig()
		}
	}

	config.ApplyEnvOverrides(cfg)
	return cfg, nil
}

// App represents the chatflow application
type App struct {
	config          *config.Config
	server          *api.Server
	storageProvider storage.StorageProvider
	logger          *logging.ZapLogger
}

// NewApp wires storage, engine and API from cfg
func NewApp(cfg *config.Config) (*App, error) {
	logger, err := logging.NewZapLogger(cfg.LogConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	storageProvider, err := storage.NewProvider(cfg.ProviderConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create storage provider: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := storageProvider.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	logger.LogSystemEvent("storage_ready", map[string]any{
		"type":      cfg.Storage.Type,
		"cache_ttl": cfg.Storage.CacheTTLSeconds,
	})

	engineMetrics := metrics.NewEngineMetrics().WithRuntimeCollectors()
	wsManager := api.NewWebSocketManager(storageProvider.GetExecutionStore(), logger)

	opts := runtime.Options{
		MaxDepth:         cfg.Engine.MaxDepth,
		Timeout:          cfg.EngineTimeout(),
		PersistTimeout:   cfg.PersistTimeout(),
		StrictConditions: cfg.Engine.StrictConditions,
		Logger:           logger,
		Metrics:          engineMetrics,
		Observer:         wsManager,
	}
	if llmConfig, ok := cfg.LLMClientConfig(); ok {
		client, err := utils.NewLLMClient(llmConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create AI client: %w", err)
		}
		opts.AIProvider = client
		opts.AITimeout = llmConfig.Timeout
	}
	if timeout := cfg.ScriptTimeout(); timeout > 0 {
		opts.ScriptEngine = scripting.NewGojaScriptEngine(timeout)
	}

	engine := runtime.NewEngine(storageProvider.GetGraphStore(), storageProvider.GetExecutionStore(), opts)
	flowRegistry := registry.NewFlowRegistry(storageProvider.GetGraphStore(), registry.FlowRegistryOptions{
		Logger: logger,
	})

	server := api.NewServer(cfg, api.ServerOptions{
		Registry:   flowRegistry,
		Engine:     engine,
		Executions: storageProvider.GetExecutionStore(),
		WebSocket:  wsManager,
		Metrics:    engineMetrics,
		Logger:     logger,
	})

	return &App{
		config:          cfg,
		server:          server,
		storageProvider: storageProvider,
		logger:          logger,
	}, nil
}

// Start starts the application
func (a *App) Start() error {
	a.logger.LogSystemEvent("start", map[string]any{"name": AppName, "version": AppVersion})
	return a.server.Start()
}

// Stop stops the application gracefully
func (a *App) Stop(ctx context.Context) error {
	defer a.logger.Sync()

	if err := a.server.Stop(ctx); err != nil {
		return err
	}

	if err := a.storageProvider.Close(); err != nil {
		return fmt.Errorf("failed to close storage: %w", err)
	}

	return nil
}
