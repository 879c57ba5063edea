// Package healthcheck runs periodic liveness probes against configured
// providers and feeds the results into the failover manager.
package healthcheck

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aimuxlabs/aimux/internal/failover"
	"github.com/aimuxlabs/aimux/internal/metrics"
	"github.com/aimuxlabs/aimux/internal/provider"
)

// Options configures the prober.
type Options struct {
	// Interval between probe rounds.
	Interval time.Duration

	// Timeout bounds one provider probe.
	Timeout time.Duration

	// Cooldown applied when a probe fails.
	Cooldown time.Duration
}

// Prober probes every registered provider on a fixed interval.
type Prober struct {
	registry *provider.Registry
	failover *failover.Manager
	logger   *slog.Logger
	opts     Options

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewProber creates a prober. Zero options fall back to 30s interval,
// 10s timeout and the default failover cooldown.
func NewProber(registry *provider.Registry, fo *failover.Manager, logger *slog.Logger, opts Options) *Prober {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = failover.DefaultCooldown
	}
	return &Prober{
		registry: registry,
		failover: fo,
		logger:   logger,
		opts:     opts,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the probe loop. The first round runs immediately.
func (p *Prober) Start(ctx context.Context) {
	go func() {
		defer close(p.done)

		p.probeAll(ctx)

		ticker := time.NewTicker(p.opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.probeAll(ctx)
			case <-p.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the probe loop and waits for it to exit.
func (p *Prober) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
}

func (p *Prober) probeAll(ctx context.Context) {
	for _, prov := range p.registry.All() {
		p.probe(ctx, prov)
	}
}

func (p *Prober) probe(ctx context.Context, prov provider.Provider) {
	probeCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	name := prov.Name()
	if err := prov.HealthCheck(probeCtx); err != nil {
		p.failover.MarkFailed(name, p.opts.Cooldown)
		metrics.ProviderAvailable.WithLabelValues(name).Set(0)
		p.logger.Warn("health probe failed",
			slog.String("provider", name),
			slog.String("error", err.Error()))
		return
	}

	p.failover.MarkHealthy(name)
	metrics.ProviderAvailable.WithLabelValues(name).Set(1)
	p.logger.Debug("health probe ok", slog.String("provider", name))
}
