package main

import (
	"log/slog"

	"github.com/aimuxlabs/aimux/internal/balancer"
	"github.com/aimuxlabs/aimux/internal/config"
	"github.com/aimuxlabs/aimux/internal/observability"
)

// reloader pushes reloaded configuration into the running components.
// Only settings that are safe to change without a restart are applied:
// the balancer strategy and the log level. Structural settings such as
// the provider set, cache backend, and listen address still require a
// restart.
type reloader struct {
	balancer *balancer.LoadBalancer
	logLevel *slog.LevelVar
	logger   *slog.Logger
}

func newReloader(lb *balancer.LoadBalancer, logLevel *slog.LevelVar, logger *slog.Logger) *reloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &reloader{
		balancer: lb,
		logLevel: logLevel,
		logger:   logger,
	}
}

// Apply is registered as a config.Manager OnChange callback.
func (r *reloader) Apply(cfg *config.Config) {
	r.balancer.SetStrategy(balancer.Strategy(cfg.Routing.Strategy))
	r.logLevel.Set(observability.ParseLevel(cfg.Logging.Level))

	r.logger.Info("runtime settings reloaded",
		"strategy", cfg.Routing.Strategy,
		"log_level", cfg.Logging.Level,
	)
}
