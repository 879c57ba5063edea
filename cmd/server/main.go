// Package main is the entry point for the aimux gateway server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aimuxlabs/aimux/internal/api"
	"github.com/aimuxlabs/aimux/internal/balancer"
	"github.com/aimuxlabs/aimux/internal/cache"
	"github.com/aimuxlabs/aimux/internal/config"
	"github.com/aimuxlabs/aimux/internal/failover"
	"github.com/aimuxlabs/aimux/internal/healthcheck"
	"github.com/aimuxlabs/aimux/internal/metrics"
	"github.com/aimuxlabs/aimux/internal/observability"
	"github.com/aimuxlabs/aimux/internal/provider"
	"github.com/aimuxlabs/aimux/internal/proxy"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	bootLogger := observability.NewLogger(observability.LoggerConfig{
		Level:      slog.LevelInfo,
		Output:     os.Stdout,
		JSONFormat: true,
	})

	cfgManager, err := config.NewManager(*configPath, bootLogger)
	if err != nil {
		bootLogger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	logLevel := new(slog.LevelVar)
	logLevel.Set(observability.ParseLevel(cfg.Logging.Level))
	logger := observability.NewLogger(observability.LoggerConfig{
		Level:      logLevel,
		Output:     os.Stdout,
		JSONFormat: cfg.Logging.Format != "text",
	})
	slog.SetDefault(logger)

	logger.Info("starting aimux gateway", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := cfgManager.Watch(ctx); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}

	registry, err := provider.BuildRegistry(cfg.Providers, cfg.Routing.PassthroughAuth)
	if err != nil {
		logger.Error("failed to build provider registry", "error", err)
		os.Exit(1)
	}
	for _, name := range registry.Names() {
		logger.Info("provider registered", "name", name)
	}

	fo := failover.NewManager(registry.Names())
	lb := balancer.New(balancer.Strategy(cfg.Routing.Strategy))
	cfgManager.OnChange(newReloader(lb, logLevel, logger).Apply)

	store, err := buildCacheStore(cfg.Cache)
	if err != nil {
		logger.Error("failed to initialize cache backend", "error", err)
		os.Exit(1)
	}
	if store != nil {
		defer store.Close()
	}

	recorder := metrics.NewRecorder(cfg.Metrics.BufferSize, logger)
	defer recorder.Close()

	keygen := cache.NewKeyGenerator(cache.Strategy(cfg.Cache.KeyStrategy))
	dispatcher := proxy.NewDispatcher(registry, fo, lb, store, keygen, recorder, logger, proxy.Options{
		ForwardTimeout: cfg.Routing.ForwardTimeout,
		CooldownPeriod: cfg.Routing.CooldownPeriod,
		MaxCooldown:    cfg.Routing.MaxCooldown,
		CacheEnabled:   cfg.Cache.Enabled,
	})

	var prober *healthcheck.Prober
	if cfg.HealthCheck.Enabled {
		prober = healthcheck.NewProber(registry, fo, logger, healthcheck.Options{
			Interval: cfg.HealthCheck.Interval,
			Timeout:  cfg.HealthCheck.Timeout,
			Cooldown: cfg.HealthCheck.Cooldown,
		})
		prober.Start(ctx)
	}

	janitor := startJanitor(ctx, cfg.Cache, store, logger)
	if janitor != nil {
		defer janitor.Stop()
	}

	if cfg.Cache.Enabled && cfg.Warmup.Enabled {
		go warmCache(ctx, cfg, dispatcher, logger)
	}

	handler := api.NewHandler(dispatcher, logger, cfg.Server.MaxBodySize)
	status := api.NewStatusHandler(fo, lb, store)
	router := api.NewRouter(handler, status, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	if prober != nil {
		prober.Stop()
	}
	cfgManager.Close()
	logger.Info("server stopped")
}

// buildCacheStore creates the configured cache backend, or nil when
// caching is disabled.
func buildCacheStore(cfg config.CacheConfig) (cache.Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	if cfg.Backend == "redis" {
		return cache.NewRedisStore(cache.RedisStoreConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			Namespace:  cfg.Redis.Namespace,
			DefaultTTL: cfg.DefaultTTL,
			MaxTTL:     cfg.MaxTTL,
		})
	}

	return cache.NewResponseCache(cache.ResponseCacheConfig{
		MaxEntries:    cfg.MaxEntries,
		MaxMemoryMB:   cfg.MaxMemoryMB,
		DefaultTTL:    cfg.DefaultTTL,
		MaxTTL:        cfg.MaxTTL,
		AdaptiveTTL:   cfg.AdaptiveTTL,
		TTLMultiplier: cfg.TTLMultiplier,
	}), nil
}

// startJanitor schedules periodic expired-entry cleanup for the cache.
func startJanitor(ctx context.Context, cfg config.CacheConfig, store cache.Store, logger *slog.Logger) *cron.Cron {
	if store == nil || cfg.CleanupEvery == "" {
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(cfg.CleanupEvery, func() {
		removed, err := store.Cleanup(ctx)
		if err != nil {
			logger.Warn("cache cleanup failed", "error", err)
			return
		}
		metrics.CacheEntries.Set(float64(store.Len()))
		if removed > 0 {
			logger.Debug("cache cleanup", "removed", removed)
		}
	})
	if err != nil {
		logger.Warn("invalid cache cleanup schedule", "schedule", cfg.CleanupEvery, "error", err)
		return nil
	}
	c.Start()
	return c
}

// warmCache runs the configured warmup queries, or the built-in prompt
// set against each provider's first configured model when none are
// given.
func warmCache(ctx context.Context, cfg *config.Config, dispatcher *proxy.Dispatcher, logger *slog.Logger) {
	warmer := cache.NewWarmer(dispatcher, logger)

	if len(cfg.Warmup.Queries) > 0 {
		queries := make([]cache.WarmupQuery, 0, len(cfg.Warmup.Queries))
		for _, q := range cfg.Warmup.Queries {
			queries = append(queries, cache.WarmupQuery{
				Model:       q.Model,
				Prompt:      q.Prompt,
				MaxTokens:   q.MaxTokens,
				Temperature: q.Temp,
			})
		}
		warmed := warmer.Warm(ctx, queries)
		logger.Info("cache warmup complete", "warmed", warmed, "requested", len(queries))
		return
	}

	seen := make(map[string]bool)
	total := 0
	for _, prov := range cfg.Providers {
		if !prov.IsEnabled() || len(prov.Models) == 0 {
			continue
		}
		model := prov.Models[0]
		if seen[model] {
			continue
		}
		seen[model] = true
		total += warmer.WarmCommon(ctx, model)
	}
	logger.Info("cache warmup complete", "warmed", total)
}
