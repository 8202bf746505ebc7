package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/upb/llm-resilience/utils"
)

// Config is the root configuration for the resilience engine and its
// status API daemon.
type Config struct {
	Environment string `validate:"required,oneof=development staging production"`
	ServerPort  string `validate:"required"`

	Providers   map[string]ProviderConfig `validate:"required"`
	Fallback    FallbackConfig
	Cache       CacheConfig
	Performance PerformanceConfig
}

// ProviderConfig describes one local provider and how to probe it.
type ProviderConfig struct {
	Enabled         bool
	Endpoint        string `validate:"required,url"`
	PreferredModels []string
	HealthCheck     HealthCheckConfig
}

// HealthCheckConfig controls probe scheduling for a provider.
type HealthCheckConfig struct {
	Interval         time.Duration `validate:"gt=0"`
	Timeout          time.Duration `validate:"gt=0"`
	FailureThreshold int           `validate:"gt=0"`
	SuccessThreshold int           `validate:"gt=0"`
}

// FallbackConfig controls the fallback decision engine.
type FallbackConfig struct {
	Strategy           string `validate:"required,oneof=none manual immediate graceful"`
	CloudProviders     []string
	MaxRetries         int           `validate:"gte=0"`
	RetryDelay         time.Duration `validate:"gte=0"`
	DecisionTimeout    time.Duration `validate:"gt=0"`
	AutoReturnToLocal  bool
	LocalRecoveryDelay time.Duration `validate:"gte=0"`
}

// CacheConfig controls the model cache.
type CacheConfig struct {
	MaxSizeMB int64         `validate:"gt=0"`
	TTL       time.Duration `validate:"gt=0"`
}

// PerformanceConfig controls the performance monitor.
type PerformanceConfig struct {
	MaxMeasurements int `validate:"gt=0"`
	Thresholds      AlertThresholds
	Targets         BenchmarkTargets
}

// AlertThresholds are the breach levels that trigger optimization
// recommendations.
type AlertThresholds struct {
	MaxResponseTime     time.Duration `validate:"gt=0"`
	MinSuccessRate      float64       `validate:"gte=0,lte=1"`
	MaxMemoryUsageMB    int64         `validate:"gt=0"`
	MaxModelLoadingTime time.Duration `validate:"gt=0"`
}

// BenchmarkTargets are the reference values provider metrics are compared
// against in benchmark reports.
type BenchmarkTargets struct {
	ResponseTime time.Duration `validate:"gt=0"`
	SuccessRate  float64       `validate:"gt=0,lte=1"`
	Throughput   float64       `validate:"gt=0"`
}

// New loads configuration from the environment, applying defaults for
// everything unset. A .env file is honored when present.
func New() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		ServerPort:  getEnv("SERVER_PORT", "8090"),
		Providers: map[string]ProviderConfig{
			"ollama": {
				Enabled:         getEnvAsBool("OLLAMA_ENABLED", true),
				Endpoint:        getEnv("OLLAMA_ENDPOINT", "http://localhost:11434"),
				PreferredModels: getEnvAsSlice("OLLAMA_PREFERRED_MODELS", nil),
				HealthCheck: HealthCheckConfig{
					Interval:         getEnvAsDuration("HEALTH_CHECK_INTERVAL", 30*time.Second),
					Timeout:          getEnvAsDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),
					FailureThreshold: getEnvAsInt("HEALTH_FAILURE_THRESHOLD", 3),
					SuccessThreshold: getEnvAsInt("HEALTH_SUCCESS_THRESHOLD", 2),
				},
			},
		},
		Fallback: FallbackConfig{
			Strategy:           getEnv("FALLBACK_STRATEGY", "graceful"),
			CloudProviders:     getEnvAsSlice("FALLBACK_CLOUD_PROVIDERS", []string{"openai", "anthropic"}),
			MaxRetries:         getEnvAsInt("FALLBACK_MAX_RETRIES", 3),
			RetryDelay:         getEnvAsDuration("FALLBACK_RETRY_DELAY", time.Second),
			DecisionTimeout:    getEnvAsDuration("FALLBACK_DECISION_TIMEOUT", 10*time.Second),
			AutoReturnToLocal:  getEnvAsBool("FALLBACK_AUTO_RETURN", true),
			LocalRecoveryDelay: getEnvAsDuration("FALLBACK_RECOVERY_DELAY", 60*time.Second),
		},
		Cache: CacheConfig{
			MaxSizeMB: int64(getEnvAsInt("CACHE_MAX_SIZE_MB", 1024)),
			TTL:       getEnvAsDuration("CACHE_TTL", time.Hour),
		},
		Performance: PerformanceConfig{
			MaxMeasurements: getEnvAsInt("PERF_MAX_MEASUREMENTS", 10000),
			Thresholds: AlertThresholds{
				MaxResponseTime:     getEnvAsDuration("PERF_MAX_RESPONSE_TIME", 5*time.Second),
				MinSuccessRate:      getEnvAsFloat("PERF_MIN_SUCCESS_RATE", 0.95),
				MaxMemoryUsageMB:    int64(getEnvAsInt("PERF_MAX_MEMORY_MB", 2048)),
				MaxModelLoadingTime: getEnvAsDuration("PERF_MAX_MODEL_LOADING_TIME", 10*time.Second),
			},
			Targets: BenchmarkTargets{
				ResponseTime: getEnvAsDuration("PERF_TARGET_RESPONSE_TIME", 500*time.Millisecond),
				SuccessRate:  getEnvAsFloat("PERF_TARGET_SUCCESS_RATE", 0.99),
				Throughput:   getEnvAsFloat("PERF_TARGET_THROUGHPUT", 10.0),
			},
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration without consulting the
// environment. Library embedders start here and override fields directly.
func Default() *Config {
	return &Config{
		Environment: "development",
		ServerPort:  "8090",
		Providers: map[string]ProviderConfig{
			"ollama": {
				Enabled:  true,
				Endpoint: "http://localhost:11434",
				HealthCheck: HealthCheckConfig{
					Interval:         30 * time.Second,
					Timeout:          5 * time.Second,
					FailureThreshold: 3,
					SuccessThreshold: 2,
				},
			},
		},
		Fallback: FallbackConfig{
			Strategy:           "graceful",
			CloudProviders:     []string{"openai", "anthropic"},
			MaxRetries:         3,
			RetryDelay:         time.Second,
			DecisionTimeout:    10 * time.Second,
			AutoReturnToLocal:  true,
			LocalRecoveryDelay: 60 * time.Second,
		},
		Cache: CacheConfig{
			MaxSizeMB: 1024,
			TTL:       time.Hour,
		},
		Performance: PerformanceConfig{
			MaxMeasurements: 10000,
			Thresholds: AlertThresholds{
				MaxResponseTime:     5 * time.Second,
				MinSuccessRate:      0.95,
				MaxMemoryUsageMB:    2048,
				MaxModelLoadingTime: 10 * time.Second,
			},
			Targets: BenchmarkTargets{
				ResponseTime: 500 * time.Millisecond,
				SuccessRate:  0.99,
				Throughput:   10.0,
			},
		},
	}
}

// Validate checks struct tags plus the cross-field rules tags cannot
// express. It runs once at startup; failures are fatal.
func (c *Config) Validate() error {
	if err := utils.ValidateStruct(c); err != nil {
		return err
	}
	if err := utils.ValidateStruct(&c.Fallback); err != nil {
		return fmt.Errorf("fallback: %w", err)
	}
	if err := utils.ValidateStruct(&c.Cache); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if err := utils.ValidateStruct(&c.Performance); err != nil {
		return fmt.Errorf("performance: %w", err)
	}
	if err := utils.ValidateStruct(&c.Performance.Thresholds); err != nil {
		return fmt.Errorf("performance thresholds: %w", err)
	}
	if err := utils.ValidateStruct(&c.Performance.Targets); err != nil {
		return fmt.Errorf("performance targets: %w", err)
	}

	enabled := 0
	for name, p := range c.Providers {
		if err := utils.ValidateStruct(&p); err != nil {
			return fmt.Errorf("provider %q: %w", name, err)
		}
		if err := utils.ValidateStruct(&p.HealthCheck); err != nil {
			return fmt.Errorf("provider %q health check: %w", name, err)
		}
		if p.Enabled {
			enabled++
		}
	}
	if enabled == 0 && len(c.Fallback.CloudProviders) == 0 {
		return fmt.Errorf("no enabled local providers and no cloud providers configured")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvAsSlice parses a comma-separated list. Empty entries are dropped.
func getEnvAsSlice(key string, defaultValue []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
