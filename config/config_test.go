package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	// Test case 1: Test with environment variables
	t.Run("with environment variables", func(t *testing.T) {
		t.Setenv("URL", "http://test.com/simple/price")
		t.Setenv("TOKEN", "ethereum")
		t.Setenv("CURRENCIES", "usd,btc,eur")
		t.Setenv("REFRESH_INTERVAL", "45s")
		t.Setenv("FRESHNESS_WINDOW", "20s")
		t.Setenv("CACHE_BACKEND", "memory")
		t.Setenv("CACHE_FILE", "/tmp/slot.json")

		cfg, err := NewConfig()
		require.NoError(t, err)
		require.NotNil(t, cfg)

		// Verify all fields
		assert.Equal(t, "http://test.com/simple/price", cfg.Url)
		assert.Equal(t, "ethereum", cfg.Token)
		assert.Equal(t, []string{"usd", "btc", "eur"}, cfg.CurrencyList())
		assert.Equal(t, 45*time.Second, cfg.RefreshInterval)
		assert.Equal(t, 20*time.Second, cfg.FreshnessWindow)
		assert.Equal(t, BackendMemory, cfg.CacheBackend)
		assert.Equal(t, "/tmp/slot.json", cfg.CacheFile)
	})

	// Test case 2: Test with defaults
	t.Run("with defaults", func(t *testing.T) {
		cfg, err := NewConfig()
		require.NoError(t, err)

		assert.Equal(t, "https://api.coingecko.com/api/v3/simple/price", cfg.Url)
		assert.Equal(t, "ethereum", cfg.Token)
		assert.Equal(t, 30*time.Second, cfg.RefreshInterval)
		assert.Equal(t, 30*time.Second, cfg.FreshnessWindow)
		assert.Equal(t, 10*time.Second, cfg.HTTPTimeout)
		assert.Equal(t, 2*time.Second, cfg.RateLimit)
		assert.Equal(t, BackendFile, cfg.CacheBackend)
		assert.Equal(t, DefaultCacheFile(), cfg.CacheFile)
		assert.Equal(t, ":8080", cfg.ListenAddr)
	})

	t.Run("options take precedence", func(t *testing.T) {
		cfg, err := NewConfig(WithRefreshInterval(time.Minute), WithCacheBackend(BackendMemory))
		require.NoError(t, err)

		assert.Equal(t, time.Minute, cfg.RefreshInterval)
		assert.Equal(t, BackendMemory, cfg.CacheBackend)
	})

	t.Run("with env file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".env")
		require.NoError(t, os.WriteFile(path, []byte("LISTEN_ADDR=:9191\n"), 0o600))
		t.Setenv("LISTEN_ADDR", "")
		require.NoError(t, os.Unsetenv("LISTEN_ADDR"))

		cfg, err := NewConfig(WithEnvFile(path))
		require.NoError(t, err)
		assert.Equal(t, ":9191", cfg.ListenAddr)
	})

	t.Run("env file keeps earlier options", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".env")
		require.NoError(t, os.WriteFile(path, []byte("CACHE_BACKEND=redis\nREFRESH_INTERVAL=40s\n"), 0o600))
		t.Setenv("CACHE_BACKEND", "")
		require.NoError(t, os.Unsetenv("CACHE_BACKEND"))
		t.Setenv("REFRESH_INTERVAL", "")
		require.NoError(t, os.Unsetenv("REFRESH_INTERVAL"))

		cfg, err := NewConfig(WithRefreshInterval(5*time.Second), WithEnvFile(path))
		require.NoError(t, err)
		assert.Equal(t, 5*time.Second, cfg.RefreshInterval)
		assert.Equal(t, BackendRedis, cfg.CacheBackend)
	})
}

func TestNewConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "invalid url", env: map[string]string{"URL": "not a url"}},
		{name: "missing btc", env: map[string]string{"CURRENCIES": "usd"}},
		{name: "zero refresh interval", env: map[string]string{"REFRESH_INTERVAL": "0s"}},
		{name: "negative rate limit", env: map[string]string{"RATE_LIMIT": "-1s"}},
		{name: "unknown backend", env: map[string]string{"CACHE_BACKEND": "sqlite"}},
		{name: "redis without address", env: map[string]string{"CACHE_BACKEND": "redis", "REDIS_ADDR": ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := NewConfig()
			assert.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}

func TestCurrencyList(t *testing.T) {
	cfg := Config{Currencies: " USD , btc,,"}
	assert.Equal(t, []string{"usd", "btc"}, cfg.CurrencyList())
}
