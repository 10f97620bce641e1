package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"scout/internal/checkpoint"
	"scout/internal/config"
	"scout/internal/contextopt"
	"scout/internal/llm"
	"scout/internal/logging"
	"scout/internal/orchestrator"
	"scout/internal/redact"
	"scout/internal/tools"
)

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "scout",
		Short:         "Autonomous business-research engine",
		Long:          "scout turns one natural-language request into a plan, a bounded tool-using reasoning loop, and a guaranteed answer.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	root.AddCommand(newRunCmd())
	root.AddCommand(newServeCmd())
	return root
}

// buildEngine assembles the engine from configuration. The tool registry
// starts empty: capabilities are registered by the embedding deployment.
func buildEngine(cfg *config.Config, registry *tools.Registry, metrics *orchestrator.Metrics, logger logging.Logger) (*orchestrator.Engine, checkpoint.Store, error) {
	pool, err := llm.NewPool(func(model string) (llm.Client, error) {
		return llm.NewOpenAICompatibleClient(llm.ClientOptions{
			BaseURL: cfg.Models.BaseURL,
			APIKey:  cfg.Models.APIKey,
			Model:   model,
			Timeout: cfg.Models.Timeout,
			Logger:  logger,
		})
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	var store checkpoint.Store
	switch cfg.Storage.Backend {
	case "sqlite":
		sqliteStore, err := checkpoint.NewSQLiteStore(cfg.Storage.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open checkpoint store: %w", err)
		}
		store = sqliteStore
	default:
		store = checkpoint.NewMemoryStore()
	}

	var rules []redact.Rule
	if cfg.Redaction.Enabled {
		rules = redact.DefaultRules()
	}

	engineConfig := orchestrator.DefaultConfig()
	engineConfig.MaxIterations = cfg.Engine.MaxIterations
	engineConfig.MaxRetries = cfg.Engine.MaxRetries
	engineConfig.Temperature = cfg.Engine.Temperature
	engineConfig.PreferredModel = cfg.Models.Preferred
	engineConfig.FallbackChain = cfg.Models.Fallback

	engine, err := orchestrator.NewEngine(engineConfig, orchestrator.Deps{
		Pool:           pool,
		Registry:       registry,
		Store:          store,
		Optimizer:      contextopt.NewOptimizer(cfg.Optimizer, logger),
		RedactionRules: rules,
		RestoreFor:     cfg.Redaction.RestoreFor,
		Metrics:        metrics,
		Logger:         logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return engine, store, nil
}

func loadConfigAndLogger() (*config.Config, logging.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	level := logging.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = logging.LevelDebug
	case "warn":
		level = logging.LevelWarn
	case "error":
		level = logging.LevelError
	}
	logger := logging.New(os.Stderr, level)
	return cfg, logger, nil
}
