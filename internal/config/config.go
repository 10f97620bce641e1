// Package config loads engine configuration from a YAML file, environment
// variables (SCOUT_ prefix) and built-in defaults, in that precedence order
// from highest to lowest: env, file, defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"scout/internal/contextopt"
	"scout/internal/llm"
)

// Config is the full application configuration.
type Config struct {
	Server    ServerConfig      `mapstructure:"server"`
	Logging   LoggingConfig     `mapstructure:"logging"`
	Models    ModelsConfig      `mapstructure:"models"`
	Engine    EngineConfig      `mapstructure:"engine"`
	Optimizer contextopt.Config `mapstructure:"optimizer"`
	Storage   StorageConfig     `mapstructure:"storage"`
	Redaction RedactionConfig   `mapstructure:"redaction"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// ModelsConfig describes the reasoning-model endpoints.
type ModelsConfig struct {
	BaseURL   string            `mapstructure:"base_url"`
	APIKey    string            `mapstructure:"api_key"`
	Preferred string            `mapstructure:"preferred"`
	Fallback  []llm.ModelConfig `mapstructure:"fallback"`
	Timeout   time.Duration     `mapstructure:"timeout"`
}

type EngineConfig struct {
	MaxIterations int     `mapstructure:"max_iterations"`
	MaxRetries    int     `mapstructure:"max_retries"`
	Temperature   float64 `mapstructure:"temperature"`
}

type StorageConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `mapstructure:"backend"`
	// Path is the sqlite database file when Backend is "sqlite".
	Path string `mapstructure:"path"`
}

type RedactionConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// RestoreFor lists tools allowed to see the original values.
	RestoreFor []string `mapstructure:"restore_for"`
}

// Load reads configuration from path (optional) with environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 0)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("logging.level", "info")

	v.SetDefault("models.base_url", "https://api.openai.com/v1")
	v.SetDefault("models.api_key", "")
	v.SetDefault("models.preferred", "gpt-4o")
	v.SetDefault("models.timeout", 120*time.Second)

	v.SetDefault("engine.max_iterations", 50)
	v.SetDefault("engine.max_retries", 3)
	v.SetDefault("engine.temperature", 0.2)

	v.SetDefault("optimizer.max_messages", 15)
	v.SetDefault("optimizer.preserve_recent", 8)
	v.SetDefault("optimizer.max_tool_output_len", 2000)
	v.SetDefault("optimizer.max_total_chars", 50000)
	v.SetDefault("optimizer.max_context_tokens", 12000)

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.path", "scout.db")

	v.SetDefault("redaction.enabled", true)
	v.SetDefault("redaction.restore_for", []string{"search_companies", "get_company_details", "enrich_company_contacts"})
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Engine.MaxIterations <= 0 {
		return fmt.Errorf("config: engine.max_iterations must be positive")
	}
	if c.Engine.MaxRetries <= 0 {
		return fmt.Errorf("config: engine.max_retries must be positive")
	}
	if c.Models.Preferred == "" && len(c.Models.Fallback) == 0 {
		return fmt.Errorf("config: no models configured")
	}
	switch c.Storage.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "sqlite" && c.Storage.Path == "" {
		return fmt.Errorf("config: sqlite backend needs storage.path")
	}
	return nil
}
