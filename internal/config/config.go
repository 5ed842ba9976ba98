package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gokpi/internal/errors"
	"gokpi/internal/matcher"
	"gokpi/internal/temporal"
	"gokpi/internal/trend"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// policyPrefix is the environment prefix of the evaluation thresholds
const policyPrefix = "KPI"

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `validate:"required"`
	AI       AIConfig       `validate:"required"`
	Database DatabaseConfig
	Redis    RedisConfig
	Catalog  CatalogConfig
	Policy   PolicyConfig `validate:"required"`
}

// ServerConfig holds web server settings
type ServerConfig struct {
	Port           string  `validate:"required"`
	GinMode        string  `validate:"oneof=debug release test"`
	RateLimitRPS   float64 `validate:"gte=0"`
	RateLimitBurst int     `validate:"gte=0"`
	// RequestTimeout bounds a single evaluation request.
	RequestTimeout time.Duration
}

// AIConfig holds the OpenAI-compatible endpoint used for embeddings and
// narratives. Both features are off when APIKey is empty.
type AIConfig struct {
	APIKey         string
	BaseURL        string `validate:"required,url"`
	ChatModel      string `validate:"required"`
	EmbeddingModel string `validate:"required"`
	MaxTokens      int    `validate:"gt=0"`
	Timeout        time.Duration
}

// Enabled reports whether an API key is configured
func (c AIConfig) Enabled() bool {
	return c.APIKey != ""
}

// DatabaseConfig holds the optional Postgres source of datasets
type DatabaseConfig struct {
	URL string
}

// RedisConfig holds the optional embedding cache
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// CatalogConfig locates the user catalog merged over the built-in one
type CatalogConfig struct {
	OverridePath string
}

// PolicyConfig holds every evaluation threshold. Each block is read from
// KPI_* variables with defaults from struct tags.
type PolicyConfig struct {
	Matcher           matcher.Config
	Granularity       temporal.GranularityPolicy
	Trend             trend.Policy
	MaxConcurrentRuns int `envconfig:"MAX_CONCURRENT_RUNS" default:"4" validate:"gte=1"`
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	config := &Config{
		Server:   *loadServerConfig(),
		AI:       *loadAIConfig(),
		Database: DatabaseConfig{URL: os.Getenv("DATABASE_URL")},
		Redis:    *loadRedisConfig(),
		Catalog:  CatalogConfig{OverridePath: getEnvOrDefault("KPI_CATALOG_PATH", "")},
	}

	policy, err := LoadPolicy()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load evaluation policy")
	}
	config.Policy = *policy

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

// LoadPolicy reads the KPI_* thresholds, falling back to tag defaults
func LoadPolicy() (*PolicyConfig, error) {
	p := &PolicyConfig{}
	for _, target := range []interface{}{&p.Matcher, &p.Granularity, &p.Trend} {
		if err := envconfig.Process(policyPrefix, target); err != nil {
			return nil, errors.WithCode(errors.CodeConfigInvalid, err)
		}
	}
	var top struct {
		MaxConcurrentRuns int `envconfig:"MAX_CONCURRENT_RUNS" default:"4"`
	}
	if err := envconfig.Process(policyPrefix, &top); err != nil {
		return nil, errors.WithCode(errors.CodeConfigInvalid, err)
	}
	p.MaxConcurrentRuns = top.MaxConcurrentRuns
	return p, nil
}

func loadServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:           getEnvOrDefault("PORT", "8080"),
		GinMode:        getEnvOrDefault("GIN_MODE", "debug"),
		RateLimitRPS:   getEnvFloatOrDefault("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getEnvIntOrDefault("RATE_LIMIT_BURST", 40),
		RequestTimeout: getEnvDurationOrDefault("REQUEST_TIMEOUT", 2*time.Minute),
	}
}

func loadAIConfig() *AIConfig {
	return &AIConfig{
		APIKey:         os.Getenv("OPENAI_API_KEY"),
		BaseURL:        getEnvOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		ChatModel:      getEnvOrDefault("LLM_MODEL", "gpt-4o-mini"),
		EmbeddingModel: getEnvOrDefault("EMBEDDING_MODEL", "text-embedding-3-small"),
		MaxTokens:      getEnvIntOrDefault("MAX_TOKENS", 1200),
		Timeout:        getEnvDurationOrDefault("LLM_TIMEOUT", 60*time.Second),
	}
}

func loadRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:     getEnvOrDefault("REDIS_ADDR", ""),
		Password: getEnvOrDefault("REDIS_PASSWORD", ""),
		DB:       getEnvIntOrDefault("REDIS_DB", 0),
		TTL:      getEnvDurationOrDefault("EMBEDDING_CACHE_TTL", 24*time.Hour),
	}
}

func validateConfig(config *Config) error {
	if err := validator.New().Struct(config); err != nil {
		return errors.WithCode(errors.CodeConfigInvalid, fmt.Errorf("invalid configuration: %w", err))
	}
	if config.Policy.Trend.ModerateVolatility > config.Policy.Trend.HighVolatility {
		return errors.ConfigInvalid("moderate volatility threshold exceeds the high threshold")
	}
	if config.Policy.Granularity.DailyMaxSpanDays > config.Policy.Granularity.WeeklyMaxSpanDays {
		return errors.ConfigInvalid("daily span limit exceeds the weekly span limit")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
