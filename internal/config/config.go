// Package config holds the client configuration: one struct per pipeline
// component, a defaults constructor, file loading (JSON or YAML by
// extension) and environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// BackendConfig holds settings for the remote directory API.
type BackendConfig struct {
	BaseURL   string        `json:"base_url" yaml:"base_url"`
	Timeout   time.Duration `json:"timeout" yaml:"timeout"`
	UserAgent string        `json:"user_agent" yaml:"user_agent"`
	AuthToken string        `json:"auth_token" yaml:"auth_token"`
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	MaxEntries int           `json:"max_entries" yaml:"max_entries"`
	DefaultTTL time.Duration `json:"default_ttl" yaml:"default_ttl"`
	L1TTL      time.Duration `json:"l1_ttl" yaml:"l1_ttl"` // only used with a Redis L2
}

// RedisConfig holds optional shared-cache connection settings.
type RedisConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// RetryConfig holds retry executor settings.
type RetryConfig struct {
	MaxAttempts int           `json:"max_attempts" yaml:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay" yaml:"base_delay"`
	MaxDelay    time.Duration `json:"max_delay" yaml:"max_delay"`
	Multiplier  float64       `json:"multiplier" yaml:"multiplier"`
	Jitter      float64       `json:"jitter" yaml:"jitter"`
}

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold"`
	VolumeThreshold  int           `json:"volume_threshold" yaml:"volume_threshold"`
	FailureRatio     float64       `json:"failure_ratio" yaml:"failure_ratio"`
	Cooldown         time.Duration `json:"cooldown" yaml:"cooldown"`
	SuccessThreshold int           `json:"success_threshold" yaml:"success_threshold"`
}

// RateLimitConfig holds the client-side politeness throttle.
type RateLimitConfig struct {
	Enabled           bool    `json:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `json:"burst" yaml:"burst"`
}

// MetricsConfig holds recorder/exporter settings.
type MetricsConfig struct {
	SinkURL       string        `json:"sink_url" yaml:"sink_url"`
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`
	MaxQueue      int           `json:"max_queue" yaml:"max_queue"`
	PromNamespace string        `json:"prom_namespace" yaml:"prom_namespace"`
}

// TelemetryConfig holds tracing settings.
type TelemetryConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Exporter    string  `json:"exporter" yaml:"exporter"` // otlp-http
	Endpoint    string  `json:"endpoint" yaml:"endpoint"` // localhost:4318
	ServiceName string  `json:"service_name" yaml:"service_name"`
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // text or json
}

// Config is the central configuration struct embedding all component
// configs.
type Config struct {
	Backend   BackendConfig   `json:"backend" yaml:"backend"`
	Cache     CacheConfig     `json:"cache" yaml:"cache"`
	Redis     RedisConfig     `json:"redis" yaml:"redis"`
	Retry     RetryConfig     `json:"retry" yaml:"retry"`
	Breaker   BreakerConfig   `json:"breaker" yaml:"breaker"`
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
	Log       LogConfig       `json:"log" yaml:"log"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL:   "http://localhost:8080/api/v1",
			Timeout:   15 * time.Second,
			UserAgent: "dirclient/1.0",
		},
		Cache: CacheConfig{
			MaxEntries: 1024,
			DefaultTTL: 5 * time.Minute,
			L1TTL:      10 * time.Second,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   200 * time.Millisecond,
			MaxDelay:    5 * time.Second,
			Multiplier:  2.0,
			Jitter:      0.5,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			VolumeThreshold:  10,
			Cooldown:         30 * time.Second,
			SuccessThreshold: 1,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			Burst:             20,
		},
		Metrics: MetricsConfig{
			FlushInterval: 30 * time.Second,
			MaxQueue:      4096,
			PromNamespace: "dirclient",
		},
		Telemetry: TelemetryConfig{
			Exporter:    "otlp-http",
			Endpoint:    "localhost:4318",
			ServiceName: "dirclient",
			SampleRate:  1.0,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a JSON or YAML file, chosen by
// extension, on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("DIRCLIENT_BASE_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("DIRCLIENT_AUTH_TOKEN"); v != "" {
		cfg.Backend.AuthToken = v
	}
	if v := os.Getenv("DIRCLIENT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Backend.Timeout = d
		}
	}
	if v := os.Getenv("DIRCLIENT_REDIS_ADDR"); v != "" {
		cfg.Redis.Enabled = true
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("DIRCLIENT_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("DIRCLIENT_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.DefaultTTL = d
		}
	}
	if v := os.Getenv("DIRCLIENT_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retry.MaxAttempts = n
		}
	}
	if v := os.Getenv("DIRCLIENT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("DIRCLIENT_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("DIRCLIENT_METRICS_SINK"); v != "" {
		cfg.Metrics.SinkURL = v
	}
	if v := os.Getenv("DIRCLIENT_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.Enabled = true
		cfg.Telemetry.Endpoint = v
	}
}
