// Package config loads researchd.yaml and hands explicit values to the
// components; nothing else in the tree reads environment or global state.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Search    SearchConfig    `mapstructure:"search"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

type ServerConfig struct {
	Port        int `mapstructure:"port"`
	MetricsPort int `mapstructure:"metrics_port"`
}

type ProvidersConfig struct {
	// Order is the fallback chain, highest priority first. "simulated" at
	// the tail keeps the pipeline always-answering; drop it to let total
	// outages fail tasks instead.
	Order        []string `mapstructure:"order"`
	SerperAPIKey string   `mapstructure:"serper_api_key"`
	TavilyAPIKey string   `mapstructure:"tavily_api_key"`
	TimeoutMs    int      `mapstructure:"timeout_ms"`
}

type SearchConfig struct {
	MaxAttempts   int     `mapstructure:"max_attempts"`
	BackoffBaseMs int     `mapstructure:"backoff_base_ms"`
	BackoffMaxMs  int     `mapstructure:"backoff_max_ms"`
	NumResults    int     `mapstructure:"num_results"`
	CacheTTLMin   int     `mapstructure:"cache_ttl_min"`
	CacheBackend  string  `mapstructure:"cache_backend"` // "local" or "redis"
	CacheCapacity int     `mapstructure:"cache_capacity"`
	RedisAddr     string  `mapstructure:"redis_addr"`
	RateLimitRPS  float64 `mapstructure:"rate_limit_rps"`
}

type ExecutorConfig struct {
	Workers int `mapstructure:"workers"`
}

type LLMConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	APIKey      string `mapstructure:"api_key"`
	CatalogPath string `mapstructure:"catalog_path"`
	TimeoutMs   int    `mapstructure:"timeout_ms"`
	MaxQueries  int    `mapstructure:"max_queries"`
}

type StorageConfig struct {
	ReportsDir string `mapstructure:"reports_dir"`
}

// Load reads CONFIG_PATH (default ./config/researchd.yaml). A missing file
// is fine: defaults plus RESEARCHD_* env overrides apply.
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/researchd.yaml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("RESEARCHD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)

	v.SetDefault("providers.order", []string{"serper", "tavily", "duckduckgo", "simulated"})
	v.SetDefault("providers.timeout_ms", 10000)

	v.SetDefault("search.max_attempts", 3)
	v.SetDefault("search.backoff_base_ms", 250)
	v.SetDefault("search.backoff_max_ms", 2000)
	v.SetDefault("search.num_results", 5)
	v.SetDefault("search.cache_ttl_min", 30)
	v.SetDefault("search.cache_backend", "local")
	v.SetDefault("search.cache_capacity", 512)
	v.SetDefault("search.rate_limit_rps", 2.0)

	v.SetDefault("executor.workers", 5)

	v.SetDefault("llm.base_url", "https://api.openai.com")
	v.SetDefault("llm.timeout_ms", 60000)
	v.SetDefault("llm.max_queries", 5)

	v.SetDefault("storage.reports_dir", "reports")
}

// ProviderTimeout returns the per-provider HTTP timeout.
func (c *ProvidersConfig) ProviderTimeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// LLMTimeout returns the per-invocation model timeout.
func (c *LLMConfig) LLMTimeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}
