package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Catalogue     CatalogueConfig     `yaml:"catalogue"`
	Generative    GenerativeConfig    `yaml:"generative"`
	Cache         CacheConfig         `yaml:"cache"`
	Search        SearchConfig        `yaml:"search"`
	Events        EventsConfig        `yaml:"events"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxConcurrent   int           `yaml:"max_concurrent"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// CatalogueConfig configures the primary TMDB client.
type CatalogueConfig struct {
	BaseURL        string               `yaml:"base_url"`
	ImageBaseURL   string               `yaml:"image_base_url"`
	APIKey         string               `yaml:"api_key"`
	AccessToken    string               `yaml:"access_token"`
	Language       string               `yaml:"language"`
	IncludeAdult   bool                 `yaml:"include_adult"`
	RequestTimeout time.Duration        `yaml:"request_timeout"`
	RateLimit      float64              `yaml:"rate_limit"`
	RateBurst      int                  `yaml:"rate_burst"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig          `yaml:"retry"`
}

// GenerativeConfig configures the OpenAI-compatible chat completions client
// used as the fallback source.
type GenerativeConfig struct {
	BaseURL        string               `yaml:"base_url"`
	APIKey         string               `yaml:"api_key"`
	Model          string               `yaml:"model"`
	Temperature    float64              `yaml:"temperature"`
	MaxTokens      int                  `yaml:"max_tokens"`
	RequestTimeout time.Duration        `yaml:"request_timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

type CacheConfig struct {
	Backend string        `yaml:"backend"` // memory, redis
	TTL     time.Duration `yaml:"ttl"`     // 0 keeps entries for the process lifetime
	Redis   RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
	Addresses    []string      `yaml:"addresses"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	KeyPrefix    string        `yaml:"key_prefix"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type SearchConfig struct {
	MinQueryLength int             `yaml:"min_query_length"`
	PageSize       int             `yaml:"page_size"`
	DebounceWindow time.Duration   `yaml:"debounce_window"`
	SlowResolution SlowQueryConfig `yaml:"slow_resolution"`
}

type CircuitBreakerConfig struct {
	MaxRequests      uint32        `yaml:"max_requests"`
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	InitialWait time.Duration `yaml:"initial_wait"`
	MaxWait     time.Duration `yaml:"max_wait"`
	Multiplier  float64       `yaml:"multiplier"`
}

type SlowQueryConfig struct {
	WarningThreshold  time.Duration `yaml:"warning_threshold"`
	CriticalThreshold time.Duration `yaml:"critical_threshold"`
}

// EventsConfig configures the Kafka producer for resolution analytics.
// An empty broker list disables publishing.
type EventsConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	MaxRetries   int           `yaml:"max_retries"`
}

type ObservabilityConfig struct {
	TracingEndpoint string `yaml:"tracing_endpoint"`
	LogLevel        string `yaml:"log_level"`
	ServiceName     string `yaml:"service_name"`
}

const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"

	// TMDB returns 20 results per page; larger previews would need pagination.
	maxPageSize = 20
)

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxConcurrent:   500,
		},
		Catalogue: CatalogueConfig{
			BaseURL:        "https://api.themoviedb.org/3",
			ImageBaseURL:   "https://image.tmdb.org/t/p/w342",
			Language:       "en-US",
			RequestTimeout: 10 * time.Second,
			RateLimit:      40,
			RateBurst:      20,
			CircuitBreaker: CircuitBreakerConfig{
				MaxRequests:      5,
				Interval:         30 * time.Second,
				Timeout:          30 * time.Second,
				FailureThreshold: 5,
			},
			Retry: RetryConfig{
				MaxAttempts: 1,
				InitialWait: 100 * time.Millisecond,
				MaxWait:     time.Second,
				Multiplier:  2.0,
			},
		},
		Generative: GenerativeConfig{
			BaseURL:        "https://api.openai.com/v1",
			Model:          "gpt-4o-mini",
			Temperature:    0.2,
			MaxTokens:      1200,
			RequestTimeout: 10 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				MaxRequests:      2,
				Interval:         60 * time.Second,
				Timeout:          60 * time.Second,
				FailureThreshold: 3,
			},
		},
		Cache: CacheConfig{
			Backend: CacheBackendMemory,
			Redis: RedisConfig{
				Addresses:    []string{"localhost:6379"},
				KeyPrefix:    "cinesearch:",
				PoolSize:     20,
				MinIdleConns: 2,
				DialTimeout:  5 * time.Second,
				ReadTimeout:  time.Second,
				WriteTimeout: time.Second,
			},
		},
		Search: SearchConfig{
			MinQueryLength: 2,
			PageSize:       8,
			DebounceWindow: 300 * time.Millisecond,
			SlowResolution: SlowQueryConfig{
				WarningThreshold:  2 * time.Second,
				CriticalThreshold: 6 * time.Second,
			},
		},
		Events: EventsConfig{
			Topic:        "search.resolutions",
			BatchSize:    100,
			BatchTimeout: time.Second,
			MaxRetries:   3,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			ServiceName: "cinesearch",
		},
	}
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.MaxConcurrent <= 0 {
		return fmt.Errorf("server max concurrent must be positive")
	}
	if c.Catalogue.BaseURL == "" {
		return fmt.Errorf("catalogue base url required")
	}
	if c.Catalogue.RequestTimeout <= 0 {
		return fmt.Errorf("catalogue request timeout must be positive")
	}
	if c.Catalogue.RateLimit < 0 {
		return fmt.Errorf("catalogue rate limit must not be negative")
	}
	if c.Catalogue.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("catalogue retry max attempts must be at least 1")
	}
	if c.Generative.BaseURL == "" {
		return fmt.Errorf("generative base url required")
	}
	if c.Generative.Model == "" {
		return fmt.Errorf("generative model required")
	}
	if c.Generative.RequestTimeout <= 0 {
		return fmt.Errorf("generative request timeout must be positive")
	}
	switch c.Cache.Backend {
	case CacheBackendMemory:
	case CacheBackendRedis:
		if len(c.Cache.Redis.Addresses) == 0 {
			return fmt.Errorf("at least one redis address required for redis cache backend")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache ttl must not be negative")
	}
	if c.Search.MinQueryLength <= 0 {
		return fmt.Errorf("min query length must be positive")
	}
	if c.Search.PageSize <= 0 || c.Search.PageSize > maxPageSize {
		return fmt.Errorf("page size must be between 1 and %d", maxPageSize)
	}
	if c.Search.DebounceWindow < 0 {
		return fmt.Errorf("debounce window must not be negative")
	}
	if len(c.Events.Brokers) > 0 && c.Events.Topic == "" {
		return fmt.Errorf("events topic required when brokers are configured")
	}
	return nil
}
