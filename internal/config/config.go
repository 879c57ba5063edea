// Package config provides configuration management with hot-reload support.
// Files are YAML with ${VAR} expansion; server-level settings can also be
// overridden from the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the complete gateway configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Providers   []ProviderConfig  `yaml:"providers"`
	Cache       CacheConfig       `yaml:"cache"`
	Routing     RoutingConfig     `yaml:"routing"`
	Warmup      WarmupConfig      `yaml:"warmup"`
	HealthCheck HealthCheckConfig `yaml:"health_check"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port" env:"AIMUX_PORT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"AIMUX_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"AIMUX_WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"AIMUX_IDLE_TIMEOUT"`
	MaxBodySize  int64         `yaml:"max_body_size" env:"AIMUX_MAX_BODY_SIZE"`
}

// ProviderConfig defines one upstream provider.
type ProviderConfig struct {
	Name                 string            `yaml:"name"`
	Endpoint             string            `yaml:"endpoint"`
	APIKey               string            `yaml:"api_key"`
	Models               []string          `yaml:"models"`
	Timeout              time.Duration     `yaml:"timeout"`
	MaxRequestsPerMinute int               `yaml:"max_requests_per_minute"`
	Headers              map[string]string `yaml:"headers"`
	Enabled              *bool             `yaml:"enabled"`
}

// IsEnabled reports whether the provider participates in dispatch.
// Providers are enabled unless explicitly disabled.
func (p ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// CacheConfig contains response cache settings.
type CacheConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Backend       string        `yaml:"backend"` // local, redis
	MaxEntries    int           `yaml:"max_entries"`
	MaxMemoryMB   int           `yaml:"max_memory_mb"`
	DefaultTTL    time.Duration `yaml:"default_ttl"`
	MaxTTL        time.Duration `yaml:"max_ttl"`
	AdaptiveTTL   bool          `yaml:"adaptive_ttl"`
	TTLMultiplier float64       `yaml:"ttl_multiplier"`
	KeyStrategy   string        `yaml:"key_strategy"` // hashing, semantic, parameter
	CleanupEvery  string        `yaml:"cleanup_schedule"`
	Redis         RedisConfig   `yaml:"redis"`
}

// RedisConfig contains connection settings for the Redis cache backend.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	Namespace string `yaml:"namespace"`
}

// RoutingConfig contains load balancing and failover settings.
type RoutingConfig struct {
	Strategy        string        `yaml:"strategy"` // round_robin, least_connections, fastest_response, weighted_round_robin, adaptive, random
	CooldownPeriod  time.Duration `yaml:"cooldown_period"`
	MaxCooldown     time.Duration `yaml:"max_cooldown"`
	ForwardTimeout  time.Duration `yaml:"forward_timeout"`
	PassthroughAuth bool          `yaml:"passthrough_auth"`
}

// WarmupConfig controls cache pre-population at startup.
type WarmupConfig struct {
	Enabled bool          `yaml:"enabled"`
	Queries []WarmupQuery `yaml:"queries"`
}

// WarmupQuery is one operator-supplied warming request.
type WarmupQuery struct {
	Model     string  `yaml:"model"`
	Prompt    string  `yaml:"prompt"`
	MaxTokens int     `yaml:"max_tokens"`
	Temp      float64 `yaml:"temperature"`
}

// HealthCheckConfig controls the background provider prober.
type HealthCheckConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
	Cooldown time.Duration `yaml:"cooldown"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"AIMUX_LOG_LEVEL"`
	Format string `yaml:"format" env:"AIMUX_LOG_FORMAT"` // json, text
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	BufferSize int    `yaml:"buffer_size"`
}

// DefaultConfig returns a configuration with sensible defaults.
// Cache limits follow the reference deployment: 1000 entries, 100 MB,
// 5 minute default TTL capped at one hour.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
			MaxBodySize:  10 * 1024 * 1024,
		},
		Cache: CacheConfig{
			Enabled:       true,
			Backend:       "local",
			MaxEntries:    1000,
			MaxMemoryMB:   100,
			DefaultTTL:    5 * time.Minute,
			MaxTTL:        time.Hour,
			AdaptiveTTL:   true,
			TTLMultiplier: 1.0,
			KeyStrategy:   "hashing",
			CleanupEvery:  "@every 1m",
		},
		Routing: RoutingConfig{
			Strategy:       "fastest_response",
			CooldownPeriod: 5 * time.Minute,
			MaxCooldown:    30 * time.Minute,
			ForwardTimeout: 30 * time.Second,
		},
		HealthCheck: HealthCheckConfig{
			Enabled:  true,
			Interval: 30 * time.Second,
			Timeout:  10 * time.Second,
			Cooldown: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			Path:       "/metrics",
			BufferSize: 1024,
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses raw YAML configuration on top of the defaults.
// Environment variables in the format ${VAR_NAME} are expanded, and
// AIMUX_* environment variables override server and logging settings.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := env.Parse(&cfg.Server); err != nil {
		return nil, fmt.Errorf("parse server env overrides: %w", err)
	}
	if err := env.Parse(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("parse logging env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

var validStrategies = map[string]struct{}{
	"round_robin":          {},
	"least_connections":    {},
	"fastest_response":     {},
	"weighted_round_robin": {},
	"adaptive":             {},
	"random":               {},
}

var validKeyStrategies = map[string]struct{}{
	"hashing":   {},
	"semantic":  {},
	"parameter": {},
}

// Validate checks the configuration for errors. Misconfiguration is
// fatal at startup, never handled per request.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.MaxBodySize <= 0 {
		return fmt.Errorf("server.max_body_size must be positive")
	}

	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}

	seen := make(map[string]struct{}, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider[%d]: name is required", i)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("provider[%d] %q: duplicate name", i, p.Name)
		}
		seen[p.Name] = struct{}{}
		if p.Endpoint == "" {
			return fmt.Errorf("provider[%d] %q: endpoint is required", i, p.Name)
		}
		if p.Timeout < 0 {
			return fmt.Errorf("provider[%d] %q: timeout cannot be negative", i, p.Name)
		}
		if p.MaxRequestsPerMinute < 0 {
			return fmt.Errorf("provider[%d] %q: max_requests_per_minute cannot be negative", i, p.Name)
		}
	}

	if _, ok := validStrategies[c.Routing.Strategy]; !ok {
		return fmt.Errorf("unknown routing strategy: %q", c.Routing.Strategy)
	}
	if c.Routing.CooldownPeriod < 0 {
		return fmt.Errorf("routing.cooldown_period cannot be negative")
	}

	if c.Cache.Enabled {
		if _, ok := validKeyStrategies[c.Cache.KeyStrategy]; !ok {
			return fmt.Errorf("unknown cache key strategy: %q", c.Cache.KeyStrategy)
		}
		if c.Cache.MaxEntries <= 0 {
			return fmt.Errorf("cache.max_entries must be positive")
		}
		if c.Cache.MaxMemoryMB <= 0 {
			return fmt.Errorf("cache.max_memory_mb must be positive")
		}
		if c.Cache.MaxTTL < c.Cache.DefaultTTL {
			return fmt.Errorf("cache.max_ttl cannot be below cache.default_ttl")
		}
		switch c.Cache.Backend {
		case "", "local":
		case "redis":
			if c.Cache.Redis.Addr == "" {
				return fmt.Errorf("cache.redis.addr is required for the redis backend")
			}
		default:
			return fmt.Errorf("unknown cache backend: %q", c.Cache.Backend)
		}
	}

	return nil
}
