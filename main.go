package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sljivkov/ethticker/apis"
	"github.com/sljivkov/ethticker/cache"
	"github.com/sljivkov/ethticker/config"
	"github.com/sljivkov/ethticker/handler"
	"github.com/sljivkov/ethticker/logger"
	"github.com/sljivkov/ethticker/pricefeed"
	"github.com/sljivkov/ethticker/refresher"
)

func main() {
	var opts []config.Option
	if _, err := os.Stat(".env"); err == nil {
		opts = append(opts, config.WithEnvFile(".env"))
	}

	cfg, err := config.NewConfig(opts...)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	lg, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore := newStore(ctx, cfg, lg)
	defer closeStore()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	prices := refresher.New(apis.NewCoinGecko(*cfg), store, refresher.Options{
		RefreshInterval: cfg.RefreshInterval,
		FreshnessWindow: cfg.FreshnessWindow,
		Scheduler:       refresher.NewCronScheduler(lg),
		Metrics:         refresher.NewMetrics(registry),
		Logger:          lg,
	})

	// Log processed state changes
	go func() {
		for st := range prices.Subscribe() {
			lg.Debug("📥 Price state changed", zap.String("phase", st.Phase.String()), zap.Bool("loading", st.Loading))
		}
	}()

	if err := prices.Start(ctx); err != nil {
		lg.Fatal("failed to start price refresher", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler.New(prices, lg, registry, cfg.RefreshInterval).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Start web server
	go func() {
		lg.Info("Starting server", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	lg.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Warn("HTTP shutdown failed", zap.Error(err))
	}

	if err := prices.Close(); err != nil {
		lg.Warn("failed to stop price refresher", zap.Error(err))
	}
}

// newStore builds the snapshot slot for the configured backend. An
// unreachable Redis is not fatal: the slot is best effort.
func newStore(ctx context.Context, cfg *config.Config, lg *zap.Logger) (pricefeed.SnapshotStore, func()) {
	switch cfg.CacheBackend {
	case config.BackendRedis:
		store := cache.NewRedisStore(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, cache.SlotKey, 10*cfg.FreshnessWindow)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			lg.Warn("⚠️ Redis unavailable, snapshots will not survive restarts", zap.Error(err))
		}

		return store, func() {
			if err := store.Close(); err != nil {
				lg.Warn("failed to close redis", zap.Error(err))
			}
		}
	case config.BackendMemory:
		return cache.NewMemoryStore(), func() {}
	default:
		lg.Info("Using file cache slot", zap.String("path", cfg.CacheFile))
		return cache.NewFileStore(cfg.CacheFile), func() {}
	}
}
