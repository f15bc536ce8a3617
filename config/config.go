// Package config provides configuration management for the ethticker service
package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Cache backends understood by CacheBackend.
const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config holds the application configuration
type Config struct {
	Url        string `envconfig:"URL" default:"https://api.coingecko.com/api/v3/simple/price"` // CoinGecko simple price endpoint
	Token      string `envconfig:"TOKEN" default:"ethereum"`                                    // CoinGecko asset id
	Currencies string `envconfig:"CURRENCIES" default:"usd,btc"`                                // Comma-separated quote currencies
	ApiKey     string `envconfig:"API_KEY"`                                                     // Optional CoinGecko demo key

	RefreshInterval time.Duration `envconfig:"REFRESH_INTERVAL" default:"30s"`
	FreshnessWindow time.Duration `envconfig:"FRESHNESS_WINDOW" default:"30s"`
	HTTPTimeout     time.Duration `envconfig:"HTTP_TIMEOUT" default:"10s"`
	RateLimit       time.Duration `envconfig:"RATE_LIMIT" default:"2s"` // Minimum spacing between upstream calls, 0 disables

	CacheBackend  string `envconfig:"CACHE_BACKEND" default:"file"`
	CacheFile     string `envconfig:"CACHE_FILE"`
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8080"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat  string `envconfig:"LOG_FORMAT" default:"console"`
}

// Option modifies Config. Env file options are loaded before the
// environment is processed, so they never undo other options.
type Option struct {
	envFile string
	apply   func(*Config) error
}

// WithEnvFile loads configuration from a .env file. Variables already set in
// the environment win over the file.
func WithEnvFile(path string) Option {
	return Option{envFile: path}
}

// WithRefreshInterval overrides the periodic refresh interval
func WithRefreshInterval(d time.Duration) Option {
	return Option{apply: func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("refresh interval must be positive, got %s", d)
		}
		c.RefreshInterval = d
		return nil
	}}
}

// WithCacheBackend selects where the snapshot slot lives
func WithCacheBackend(backend string) Option {
	return Option{apply: func(c *Config) error {
		c.CacheBackend = backend
		return nil
	}}
}

// validate performs validation on the config values
func (c *Config) validate() error {
	if c.Url == "" {
		return fmt.Errorf("CoinGecko URL is required")
	}
	if _, err := url.ParseRequestURI(c.Url); err != nil {
		return fmt.Errorf("invalid CoinGecko URL: %s", c.Url)
	}

	if strings.TrimSpace(c.Token) == "" {
		return fmt.Errorf("no token specified")
	}

	currencies := c.CurrencyList()
	for _, required := range []string{"usd", "btc"} {
		if !contains(currencies, required) {
			return fmt.Errorf("currency list must include %s", required)
		}
	}

	for name, d := range map[string]time.Duration{
		"refresh interval": c.RefreshInterval,
		"freshness window": c.FreshnessWindow,
		"http timeout":     c.HTTPTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative, got %s", c.RateLimit)
	}

	switch c.CacheBackend {
	case BackendFile, BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("redis address is required for the redis cache backend")
		}
	default:
		return fmt.Errorf("unknown cache backend: %s", c.CacheBackend)
	}

	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// NewConfig creates a new validated Config instance
func NewConfig(opts ...Option) (*Config, error) {
	var cfg Config

	for _, opt := range opts {
		if opt.envFile == "" {
			continue
		}
		if err := godotenv.Load(opt.envFile); err != nil {
			log.Printf("⚠️ Warning: failed to load env file %s: %v", opt.envFile, err)
		}
	}

	// Process environment variables first
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	// Apply user options last so they take precedence
	for _, opt := range opts {
		if opt.apply == nil {
			continue
		}
		if err := opt.apply(&cfg); err != nil {
			log.Printf("⚠️ Warning: option application failed: %v", err)
		}
	}

	if cfg.CacheFile == "" {
		cfg.CacheFile = DefaultCacheFile()
	}

	// Validate the configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// DefaultCacheFile is where the file backend keeps its slot when CACHE_FILE is unset
func DefaultCacheFile() string {
	return filepath.Join(os.TempDir(), "ethticker", "ethPriceData.json")
}

// CurrencyList returns the quote currencies as a normalized slice
func (c *Config) CurrencyList() []string {
	parts := strings.Split(c.Currencies, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
