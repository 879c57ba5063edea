// Package balancer selects among available providers under a pluggable
// strategy, fed by live metrics from the dispatch layer.
package balancer

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Strategy defines the selection algorithm.
type Strategy string

const (
	StrategyRoundRobin         Strategy = "round_robin"
	StrategyLeastConnections   Strategy = "least_connections"
	StrategyFastestResponse    Strategy = "fastest_response"
	StrategyWeightedRoundRobin Strategy = "weighted_round_robin"
	StrategyAdaptive           Strategy = "adaptive"
	StrategyRandom             Strategy = "random"
)

// ewmaAlpha is the smoothing factor for the response time average.
const ewmaAlpha = 0.1

// ProviderMetrics tracks live performance data for one provider.
// Created lazily on first update, never deleted, only reset.
type ProviderMetrics struct {
	Name               string  `json:"name"`
	AvgResponseTimeMS  float64 `json:"avg_response_time_ms"`
	CurrentConnections int     `json:"current_connections"`
	TotalRequests      int64   `json:"total_requests"`
	ResponseTimeSumMS  float64 `json:"-"`
}

// LoadBalancer picks providers from a candidate set. One mutex guards
// the metrics map and the round-robin index together so concurrent
// selections never skip or duplicate turns.
type LoadBalancer struct {
	mu       sync.Mutex
	strategy Strategy
	metrics  map[string]*ProviderMetrics
	rrIndex  int
	rng      *rand.Rand
}

// New creates a load balancer with the given strategy. Unknown
// strategies fall back to round robin.
func New(strategy Strategy) *LoadBalancer {
	switch strategy {
	case StrategyRoundRobin, StrategyLeastConnections, StrategyFastestResponse,
		StrategyWeightedRoundRobin, StrategyAdaptive, StrategyRandom:
	default:
		strategy = StrategyRoundRobin
	}
	return &LoadBalancer{
		strategy: strategy,
		metrics:  make(map[string]*ProviderMetrics),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetStrategy switches the selection algorithm at runtime.
func (b *LoadBalancer) SetStrategy(strategy Strategy) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.strategy = strategy
}

// Strategy returns the current strategy.
func (b *LoadBalancer) Strategy() Strategy {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.strategy
}

// SelectProvider picks one provider from the candidate set. It returns
// "" only when candidates is empty.
func (b *LoadBalancer) SelectProvider(candidates []string) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(candidates) == 0 {
		return ""
	}

	for _, name := range candidates {
		if _, ok := b.metrics[name]; !ok {
			b.metrics[name] = &ProviderMetrics{Name: name}
		}
	}

	switch b.strategy {
	case StrategyLeastConnections:
		return b.selectLeastConnections(candidates)
	case StrategyFastestResponse:
		return b.selectFastestResponse(candidates)
	case StrategyWeightedRoundRobin:
		return b.selectWeightedRoundRobin(candidates)
	case StrategyAdaptive:
		return b.selectAdaptive(candidates)
	case StrategyRandom:
		return candidates[b.rng.Intn(len(candidates))]
	default:
		return b.selectRoundRobin(candidates)
	}
}

// UpdateResponseTime records a latency sample, updating the running
// average and the cumulative counters.
func (b *LoadBalancer) UpdateResponseTime(provider string, responseTimeMS float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	m := b.getOrCreate(provider)
	m.TotalRequests++
	m.ResponseTimeSumMS += responseTimeMS
	if m.AvgResponseTimeMS == 0 {
		m.AvgResponseTimeMS = responseTimeMS
	} else {
		m.AvgResponseTimeMS += ewmaAlpha * (responseTimeMS - m.AvgResponseTimeMS)
	}
}

// UpdateConnections overwrites the caller-reported open-connection
// gauge for a provider.
func (b *LoadBalancer) UpdateConnections(provider string, connections int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	m := b.getOrCreate(provider)
	m.CurrentConnections = connections
}

// AddConnections adjusts the open-connection gauge by delta, used by
// the dispatcher around each forward attempt.
func (b *LoadBalancer) AddConnections(provider string, delta int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	m := b.getOrCreate(provider)
	m.CurrentConnections += delta
	if m.CurrentConnections < 0 {
		m.CurrentConnections = 0
	}
}

// Snapshot returns a copy of each provider's metrics, for the status
// surface.
func (b *LoadBalancer) Snapshot() []ProviderMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]ProviderMetrics, 0, len(b.metrics))
	for _, m := range b.metrics {
		out = append(out, *m)
	}
	return out
}

// Reset clears all provider metrics.
func (b *LoadBalancer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.metrics = make(map[string]*ProviderMetrics)
	b.rrIndex = 0
}

func (b *LoadBalancer) getOrCreate(provider string) *ProviderMetrics {
	m, ok := b.metrics[provider]
	if !ok {
		m = &ProviderMetrics{Name: provider}
		b.metrics[provider] = m
	}
	return m
}

// selectRoundRobin cycles through the candidate list with a persistent
// index so repeated calls visit providers in rotation.
func (b *LoadBalancer) selectRoundRobin(candidates []string) string {
	if b.rrIndex >= len(candidates) {
		b.rrIndex = 0
	}
	selected := candidates[b.rrIndex]
	b.rrIndex++
	return selected
}

// selectLeastConnections picks the candidate with the fewest open
// connections; ties break on first occurrence.
func (b *LoadBalancer) selectLeastConnections(candidates []string) string {
	best := candidates[0]
	minConns := math.MaxInt
	for _, name := range candidates {
		if m := b.metrics[name]; m.CurrentConnections < minConns {
			minConns = m.CurrentConnections
			best = name
		}
	}
	return best
}

// selectFastestResponse picks the candidate with the lowest average
// response time. A candidate with no samples wins outright so new
// providers get measured.
func (b *LoadBalancer) selectFastestResponse(candidates []string) string {
	best := candidates[0]
	bestTime := math.MaxFloat64
	for _, name := range candidates {
		m := b.metrics[name]
		if m.TotalRequests == 0 {
			return name
		}
		if m.AvgResponseTimeMS > 0 && m.AvgResponseTimeMS < bestTime {
			bestTime = m.AvgResponseTimeMS
			best = name
		}
	}
	return best
}

// selectWeightedRoundRobin draws a candidate with probability inverse
// to its average response time.
func (b *LoadBalancer) selectWeightedRoundRobin(candidates []string) string {
	weights := make([]float64, len(candidates))
	total := 0.0
	for i, name := range candidates {
		m := b.metrics[name]
		weight := 100.0
		if m.AvgResponseTimeMS > 0 {
			weight = 1000.0 / m.AvgResponseTimeMS
		}
		weights[i] = weight
		total += weight
	}

	r := b.rng.Float64() * total
	acc := 0.0
	for i, w := range weights {
		acc += w
		if r <= acc {
			return candidates[i]
		}
	}
	return candidates[0]
}

// selectAdaptive scores each candidate on response time and connection
// load, preferring the highest score; score ties break toward the
// less-used provider.
func (b *LoadBalancer) selectAdaptive(candidates []string) string {
	best := candidates[0]
	bestScore := -1.0
	var bestRequests int64 = math.MaxInt64

	for _, name := range candidates {
		m := b.metrics[name]
		responseScore := 100.0
		if m.AvgResponseTimeMS > 0 {
			responseScore = 100.0 / m.AvgResponseTimeMS
		}
		connectionScore := float64(10 - m.CurrentConnections)
		if connectionScore < 0 {
			connectionScore = 0
		}
		score := responseScore*0.7 + connectionScore*0.3

		if score > bestScore || (score == bestScore && m.TotalRequests < bestRequests) {
			bestScore = score
			bestRequests = m.TotalRequests
			best = name
		}
	}
	return best
}
