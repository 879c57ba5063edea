// Package proxy orchestrates request dispatch: cache lookup, provider
// selection, forwarding with failover, and response enveloping.
package proxy

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"

	"github.com/aimuxlabs/aimux/internal/balancer"
	"github.com/aimuxlabs/aimux/internal/cache"
	"github.com/aimuxlabs/aimux/internal/failover"
	"github.com/aimuxlabs/aimux/internal/metrics"
	"github.com/aimuxlabs/aimux/internal/observability"
	"github.com/aimuxlabs/aimux/internal/provider"
	"github.com/aimuxlabs/aimux/pkg/errors"
	"github.com/aimuxlabs/aimux/pkg/types"
)

// Options configures a Dispatcher.
type Options struct {
	// ForwardTimeout bounds each individual upstream attempt.
	ForwardTimeout time.Duration

	// CooldownPeriod is the base cooldown applied on a provider's
	// first consecutive failure.
	CooldownPeriod time.Duration

	// MaxCooldown caps the exponential cooldown growth.
	MaxCooldown time.Duration

	// CacheEnabled gates cache reads and writes.
	CacheEnabled bool
}

// Dispatcher routes completion requests through the cache, balancer and
// failover layers to an upstream provider.
type Dispatcher struct {
	registry *provider.Registry
	failover *failover.Manager
	balancer *balancer.LoadBalancer
	store    cache.Store
	keygen   *cache.KeyGenerator
	recorder *metrics.Recorder
	logger   *slog.Logger
	opts     Options

	mu       sync.Mutex
	backoffs map[string]*backoff.ExponentialBackOff
}

// NewDispatcher wires the dispatch pipeline. store may be nil when
// caching is disabled.
func NewDispatcher(
	registry *provider.Registry,
	fo *failover.Manager,
	lb *balancer.LoadBalancer,
	store cache.Store,
	keygen *cache.KeyGenerator,
	recorder *metrics.Recorder,
	logger *slog.Logger,
	opts Options,
) *Dispatcher {
	if opts.ForwardTimeout <= 0 {
		opts.ForwardTimeout = 30 * time.Second
	}
	if opts.CooldownPeriod <= 0 {
		opts.CooldownPeriod = failover.DefaultCooldown
	}
	if opts.MaxCooldown < opts.CooldownPeriod {
		opts.MaxCooldown = opts.CooldownPeriod
	}
	return &Dispatcher{
		registry: registry,
		failover: fo,
		balancer: lb,
		store:    store,
		keygen:   keygen,
		recorder: recorder,
		logger:   logger,
		opts:     opts,
		backoffs: make(map[string]*backoff.ExponentialBackOff),
	}
}

// Dispatch handles one completion request end to end and returns the
// enveloped response body.
func (d *Dispatcher) Dispatch(ctx context.Context, req *types.CompletionRequest) (json.RawMessage, error) {
	start := time.Now()
	requestID := observability.RequestIDFromContext(ctx)

	ctrl := cache.ParseControl(req.Extra["cache_control"])
	cacheable := d.cacheable(req)
	key := ""
	if cacheable {
		key = d.keygen.Generate(req.Model, req)
	}

	if cacheable && (ctrl == nil || !ctrl.NoCache) {
		if cached, ok := d.store.Get(ctx, key); ok {
			metrics.CacheHits.WithLabelValues(req.Model).Inc()
			d.recordEvent(requestID, req.Model, cached.Provider, true, true, 0, time.Since(start))
			return d.envelope(cached.Body, cached.Provider, time.Since(start), true, 0, "cache")
		}
		metrics.CacheMisses.WithLabelValues(req.Model).Inc()
	}

	candidates := d.availableCandidates(req.Model)
	if len(candidates) == 0 {
		err := errors.NewServiceUnavailableError("", req.Model, "no providers available")
		d.recordEvent(requestID, req.Model, "", false, false, 0, time.Since(start))
		return nil, err
	}

	strategy := string(d.balancer.Strategy())
	retries := 0
	var lastErr error

	for len(candidates) > 0 {
		selected := d.balancer.SelectProvider(candidates)
		p, ok := d.registry.Get(selected)
		if !ok {
			candidates = removeCandidate(candidates, selected)
			continue
		}

		if !p.AllowRequest() {
			// Rate limited here, not failed upstream. Skip without a
			// cooldown so the provider stays in rotation.
			d.logger.Debug("provider rate limited, skipping",
				slog.String("provider", selected),
				slog.String("request_id", requestID))
			candidates = removeCandidate(candidates, selected)
			continue
		}

		attemptStart := time.Now()
		d.balancer.AddConnections(selected, 1)
		resp, err := d.forward(ctx, p, req)
		d.balancer.AddConnections(selected, -1)
		attemptLatency := time.Since(attemptStart)

		if err != nil {
			if ge, ok := errors.As(err); ok && !errors.IsCooldownRequired(ge.StatusCode) {
				// The upstream judged the request itself invalid, so
				// retrying elsewhere would fail the same way.
				metrics.RecordUpstreamError(selected, ge.Type)
				d.recordEvent(requestID, req.Model, selected, false, false, retries, time.Since(start))
				return nil, err
			}
			lastErr = err
			retries++
			d.handleFailure(selected, req.Model, err, requestID)
			candidates = removeCandidate(candidates, selected)
			continue
		}

		latencyMS := float64(attemptLatency.Microseconds()) / 1000
		d.failover.MarkHealthy(selected)
		d.balancer.UpdateResponseTime(selected, latencyMS)
		d.resetBackoff(selected)
		metrics.RecordRequest(selected, req.Model, resp.StatusCode, attemptLatency)

		if cacheable && (ctrl == nil || !ctrl.NoStore) {
			ttl := time.Duration(0)
			if ctrl != nil {
				ttl = ctrl.TTL
			}
			entry := &cache.CachedResponse{
				Body:      resp.Body,
				Provider:  selected,
				Model:     req.Model,
				Timestamp: time.Now().UnixMilli(),
			}
			if err := d.store.Put(ctx, key, entry, ttl); err != nil {
				d.logger.Warn("cache store failed",
					slog.String("key", key),
					slog.String("error", err.Error()))
			}
		}

		d.recordEvent(requestID, req.Model, selected, false, true, retries, time.Since(start))
		decision := routingDecision(selected, retries+1, strategy)
		return d.envelope(resp.Body, selected, time.Since(start), false, retries, decision)
	}

	d.recordEvent(requestID, req.Model, "", false, false, retries, time.Since(start))
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.NewServiceUnavailableError("", req.Model, "all providers exhausted")
}

// forward runs a single upstream attempt under the per-attempt timeout.
func (d *Dispatcher) forward(ctx context.Context, p provider.Provider, req *types.CompletionRequest) (*types.ProviderResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.opts.ForwardTimeout)
	defer cancel()
	return p.Forward(attemptCtx, req)
}

func (d *Dispatcher) cacheable(req *types.CompletionRequest) bool {
	return d.opts.CacheEnabled && d.store != nil && !req.Stream
}

// handleFailure puts the provider into cooldown after a failed attempt.
func (d *Dispatcher) handleFailure(providerName, model string, err error, requestID string) {
	cooldown := d.nextCooldown(providerName)

	errorType := errors.TypeUpstream
	if ge, ok := errors.As(err); ok {
		errorType = ge.Type
	}

	d.failover.MarkFailed(providerName, cooldown)
	metrics.RecordUpstreamError(providerName, errorType)
	metrics.DispatchRetries.WithLabelValues(providerName).Inc()
	d.logger.Warn("provider failed, entering cooldown",
		slog.String("provider", providerName),
		slog.String("model", model),
		slog.Duration("cooldown", cooldown),
		slog.String("error", err.Error()),
		slog.String("request_id", requestID))
}

// nextCooldown grows the provider's cooldown exponentially across
// consecutive failures, capped at MaxCooldown.
func (d *Dispatcher) nextCooldown(providerName string) time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()

	bo, ok := d.backoffs[providerName]
	if !ok {
		bo = backoff.NewExponentialBackOff()
		bo.InitialInterval = d.opts.CooldownPeriod
		bo.MaxInterval = d.opts.MaxCooldown
		bo.Multiplier = 2
		bo.RandomizationFactor = 0
		bo.MaxElapsedTime = 0
		bo.Reset()
		d.backoffs[providerName] = bo
	}

	next := bo.NextBackOff()
	if next == backoff.Stop || next > d.opts.MaxCooldown {
		next = d.opts.MaxCooldown
	}
	return next
}

func (d *Dispatcher) resetBackoff(providerName string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if bo, ok := d.backoffs[providerName]; ok {
		bo.Reset()
	}
}

// availableCandidates filters the model's providers through the
// failover manager.
func (d *Dispatcher) availableCandidates(model string) []string {
	names := d.registry.NamesForModel(model)
	out := names[:0:0]
	for _, name := range names {
		if d.failover.IsAvailable(name) {
			out = append(out, name)
		}
	}
	return out
}

func (d *Dispatcher) envelope(body json.RawMessage, providerName string, elapsed time.Duration, cacheHit bool, retries int, decision string) (json.RawMessage, error) {
	env := types.Envelope{
		Provider:       providerName,
		ResponseTimeMS: float64(elapsed.Microseconds()) / 1000,
		Cache:          cacheHit,
		Retries:        retries,
		Metadata:       types.RoutingMetadata{RoutingDecision: decision},
	}
	out, err := env.Apply(body)
	if err != nil {
		return nil, errors.NewInternalError(providerName, "", "assemble response: "+err.Error())
	}
	return out, nil
}

func (d *Dispatcher) recordEvent(requestID, model, providerName string, cacheHit, success bool, retries int, latency time.Duration) {
	if d.recorder == nil {
		return
	}
	d.recorder.Record(metrics.Event{
		RequestID: requestID,
		Model:     model,
		Provider:  providerName,
		CacheHit:  cacheHit,
		Success:   success,
		Retries:   retries,
		Latency:   latency,
		Timestamp: time.Now(),
	})
}

func routingDecision(providerName string, attempt int, strategy string) string {
	return providerName + " attempt=" + strconv.Itoa(attempt) + " strategy=" + strategy
}

func removeCandidate(candidates []string, name string) []string {
	out := candidates[:0]
	for _, c := range candidates {
		if c != name {
			out = append(out, c)
		}
	}
	return out
}
