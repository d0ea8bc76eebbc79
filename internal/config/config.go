package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Yahoo     YahooConfig     `yaml:"yahoo" mapstructure:"yahoo"`
	Notion    NotionConfig    `yaml:"notion" mapstructure:"notion"`
	Engine    EngineConfig    `yaml:"engine" mapstructure:"engine"`
	Market    MarketConfig    `yaml:"market" mapstructure:"market"`
	Pricing   PricingConfig   `yaml:"pricing" mapstructure:"pricing"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	HaikuModel  string `yaml:"haiku_model" mapstructure:"haiku_model"`
	SonnetModel string `yaml:"sonnet_model" mapstructure:"sonnet_model"`
	OpusModel   string `yaml:"opus_model" mapstructure:"opus_model"`
}

// YahooConfig holds Yahoo Finance chart API settings.
type YahooConfig struct {
	BaseURL        string  `yaml:"base_url" mapstructure:"base_url"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// NotionConfig holds Notion API credentials for insight digest publishing.
type NotionConfig struct {
	Token        string `yaml:"token" mapstructure:"token"`
	DigestParent string `yaml:"digest_parent" mapstructure:"digest_parent"`
}

// EngineConfig configures the analysis pipeline.
type EngineConfig struct {
	MaxInsights           int `yaml:"max_insights" mapstructure:"max_insights"`
	DeepDiveCount         int `yaml:"deep_dive_count" mapstructure:"deep_dive_count"`
	MaxCoverageIterations int `yaml:"max_coverage_iterations" mapstructure:"max_coverage_iterations"`
	AnalystTimeoutSecs    int `yaml:"analyst_timeout_secs" mapstructure:"analyst_timeout_secs"`
	AnalystRetries        int `yaml:"analyst_retries" mapstructure:"analyst_retries"`
	AnalystConcurrency    int `yaml:"analyst_concurrency" mapstructure:"analyst_concurrency"`
	FetchConcurrency      int `yaml:"fetch_concurrency" mapstructure:"fetch_concurrency"`
	UnitPauseSecs         int `yaml:"unit_pause_secs" mapstructure:"unit_pause_secs"`
	RunTimeoutMins        int `yaml:"run_timeout_mins" mapstructure:"run_timeout_mins"`
}

// MarketConfig configures universe construction and heatmap caching.
type MarketConfig struct {
	UniverseFile  string `yaml:"universe_file" mapstructure:"universe_file"`
	CacheTTLMins  int    `yaml:"cache_ttl_mins" mapstructure:"cache_ttl_mins"`
	UniverseLimit int    `yaml:"universe_limit" mapstructure:"universe_limit"`
}

// PricingConfig holds per-provider pricing rates.
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("INSIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "insight-engine.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.opus_model", "claude-opus-4-6")
	v.SetDefault("yahoo.base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("yahoo.requests_per_sec", 5.0)
	v.SetDefault("yahoo.timeout_secs", 20)
	v.SetDefault("engine.max_insights", 5)
	v.SetDefault("engine.deep_dive_count", 7)
	v.SetDefault("engine.max_coverage_iterations", 2)
	v.SetDefault("engine.analyst_timeout_secs", 120)
	v.SetDefault("engine.analyst_retries", 2)
	v.SetDefault("engine.analyst_concurrency", 5)
	v.SetDefault("engine.fetch_concurrency", 10)
	v.SetDefault("engine.unit_pause_secs", 1)
	v.SetDefault("engine.run_timeout_mins", 45)
	v.SetDefault("market.cache_ttl_mins", 60)
	v.SetDefault("market.universe_limit", 60)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the configuration required for the given mode is
// present. Mode "run" covers a one-shot analysis run; "serve" covers the
// HTTP API server.
func (c *Config) Validate(mode string) error {
	var problems []string

	check := func() {
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
		if c.Engine.MaxInsights < 1 {
			problems = append(problems, "engine.max_insights must be >= 1")
		}
		if c.Engine.DeepDiveCount < 1 {
			problems = append(problems, "engine.deep_dive_count must be >= 1")
		}
		if c.Engine.MaxCoverageIterations < 1 {
			problems = append(problems, "engine.max_coverage_iterations must be >= 1")
		}
		if c.Engine.AnalystConcurrency < 1 || c.Engine.AnalystConcurrency > 50 {
			problems = append(problems, "engine.analyst_concurrency must be between 1 and 50")
		}
		if c.Engine.FetchConcurrency < 1 || c.Engine.FetchConcurrency > 50 {
			problems = append(problems, "engine.fetch_concurrency must be between 1 and 50")
		}
	}

	switch mode {
	case "run":
		check()
	case "serve":
		check()
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
