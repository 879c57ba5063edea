package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/aimuxlabs/aimux/internal/balancer"
	"github.com/aimuxlabs/aimux/internal/cache"
	"github.com/aimuxlabs/aimux/internal/failover"
)

// StatusHandler exposes the operational state of the gateway.
type StatusHandler struct {
	failover  *failover.Manager
	balancer  *balancer.LoadBalancer
	store     cache.Store
	startTime time.Time
}

// NewStatusHandler creates the status and health endpoints. store may
// be nil when caching is disabled.
func NewStatusHandler(fo *failover.Manager, lb *balancer.LoadBalancer, store cache.Store) *StatusHandler {
	return &StatusHandler{
		failover:  fo,
		balancer:  lb,
		store:     store,
		startTime: time.Now(),
	}
}

// statusResponse is the GET /v1/status payload.
type statusResponse struct {
	Status        string                     `json:"status"`
	UptimeSeconds float64                    `json:"uptime_seconds"`
	Strategy      string                     `json:"strategy"`
	Providers     []providerStatus           `json:"providers"`
	Balancer      []balancer.ProviderMetrics `json:"balancer"`
	Cache         *cache.Stats               `json:"cache,omitempty"`
}

type providerStatus struct {
	Name              string  `json:"name"`
	Available         bool    `json:"available"`
	FailureCount      int     `json:"failure_count"`
	CooldownRemaining float64 `json:"cooldown_remaining_seconds,omitempty"`
}

// Status handles GET /v1/status.
func (s *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	snapshot := s.failover.Snapshot()
	providers := make([]providerStatus, 0, len(snapshot))
	anyAvailable := false
	for _, ps := range snapshot {
		available := !ps.Failed || ps.CooldownRemaining <= 0
		if available {
			anyAvailable = true
		}
		providers = append(providers, providerStatus{
			Name:              ps.Name,
			Available:         available,
			FailureCount:      ps.FailureCount,
			CooldownRemaining: ps.CooldownRemaining.Seconds(),
		})
	}

	resp := statusResponse{
		Status:        "degraded",
		UptimeSeconds: time.Since(s.startTime).Seconds(),
		Strategy:      string(s.balancer.Strategy()),
		Providers:     providers,
		Balancer:      s.balancer.Snapshot(),
	}
	if anyAvailable {
		resp.Status = "ok"
	}
	if s.store != nil {
		stats := s.store.Stats()
		resp.Cache = &stats
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Live handles GET /health/live. The process is up, so answer 200.
func (s *StatusHandler) Live(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
}

// Ready handles GET /health/ready. Ready means at least one provider
// can take traffic.
func (s *StatusHandler) Ready(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if len(s.failover.AvailableProviders()) == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "no providers available"})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}
