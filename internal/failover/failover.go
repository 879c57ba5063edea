// Package failover tracks per-provider health with cooldown timers.
// Each provider is either available or failed; a failed provider
// becomes selectable again once its cooldown elapses, without losing
// its failure history.
package failover

import (
	"sync"
	"time"
)

// DefaultCooldown is applied when MarkFailed is called with a
// non-positive cooldown.
const DefaultCooldown = 5 * time.Minute

// ProviderStatus is the health record for one provider.
type ProviderStatus struct {
	Name         string        `json:"name"`
	Failed       bool          `json:"is_failed"`
	FailTime     time.Time     `json:"-"`
	Cooldown     time.Duration `json:"-"`
	FailureCount int           `json:"failure_count"`

	// CooldownRemaining is populated in snapshots only.
	CooldownRemaining time.Duration `json:"cooldown_remaining,omitempty"`
}

// Manager is the per-provider failover state machine. Expiry is
// evaluated lazily at query time; there is no background timer.
type Manager struct {
	mu       sync.Mutex
	order    []string
	statuses map[string]*ProviderStatus
}

// NewManager creates a manager with every provider initially available.
// Provider order is preserved for NextProvider and AvailableProviders.
func NewManager(providers []string) *Manager {
	m := &Manager{
		order:    make([]string, 0, len(providers)),
		statuses: make(map[string]*ProviderStatus, len(providers)),
	}
	for _, name := range providers {
		if _, dup := m.statuses[name]; dup {
			continue
		}
		m.order = append(m.order, name)
		m.statuses[name] = &ProviderStatus{Name: name}
	}
	return m
}

// MarkFailed transitions the provider to failed state. A failure
// against a provider whose cooldown had already elapsed restarts the
// cooldown clock; failure history persists.
func (m *Manager) MarkFailed(provider string, cooldown time.Duration) {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	status, ok := m.statuses[provider]
	if !ok {
		return
	}
	status.Failed = true
	status.FailTime = time.Now()
	status.Cooldown = cooldown
	status.FailureCount++
}

// MarkHealthy transitions the provider to available unconditionally
// and decrements its failure count (floor zero).
func (m *Manager) MarkHealthy(provider string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status, ok := m.statuses[provider]
	if !ok {
		return
	}
	status.Failed = false
	if status.FailureCount > 0 {
		status.FailureCount--
	}
}

// IsAvailable reports whether the provider may be selected: either
// healthy, or failed with an elapsed cooldown. The latter stays
// logically failed until MarkHealthy, so opportunistic retries do not
// erase failure history.
func (m *Manager) IsAvailable(provider string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	status, ok := m.statuses[provider]
	if !ok {
		return false
	}
	return availableLocked(status, time.Now())
}

// NextProvider returns the first configured provider other than the
// failed one that is currently available, or "" when none is.
func (m *Manager) NextProvider(failedProvider string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, name := range m.order {
		if name == failedProvider {
			continue
		}
		if availableLocked(m.statuses[name], now) {
			return name
		}
	}
	return ""
}

// AvailableProviders returns every available provider in configured
// order.
func (m *Manager) AvailableProviders() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	available := make([]string, 0, len(m.order))
	for _, name := range m.order {
		if availableLocked(m.statuses[name], now) {
			available = append(available, name)
		}
	}
	return available
}

// Snapshot returns a copy of every provider's status with cooldown
// remaining computed against the current time.
func (m *Manager) Snapshot() []ProviderStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	out := make([]ProviderStatus, 0, len(m.order))
	for _, name := range m.order {
		status := *m.statuses[name]
		if status.Failed {
			remaining := status.Cooldown - now.Sub(status.FailTime)
			if remaining < 0 {
				remaining = 0
			}
			status.CooldownRemaining = remaining
		}
		out = append(out, status)
	}
	return out
}

// Reset clears all failure state back to initial.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, status := range m.statuses {
		status.Failed = false
		status.FailureCount = 0
		status.FailTime = time.Time{}
		status.Cooldown = 0
	}
}

func availableLocked(status *ProviderStatus, now time.Time) bool {
	if status == nil {
		return false
	}
	if !status.Failed {
		return true
	}
	return !now.Before(status.FailTime.Add(status.Cooldown))
}
