// Package health aggregates component liveness checks for the operational
// endpoint. Components register a probe; the manager runs them on demand.
package health

import (
	"sync"

	"flashgate/internal/core"
)

// HealthManager holds the registered probes. Probes may touch I/O (a store
// ping, a connection flag), so they run outside the registry lock.
type HealthManager struct {
	logger core.ILogger
	mu     sync.RWMutex
	checks map[string]func() error
}

// NewHealthManager creates an empty manager. A nil logger is allowed for
// tests.
func NewHealthManager(logger core.ILogger) *HealthManager {
	hm := &HealthManager{
		checks: make(map[string]func() error),
	}
	if logger != nil {
		hm.logger = logger.WithField("component", "health_manager")
	}
	return hm
}

// Register adds a probe under a component name. Re-registering replaces the
// previous probe.
func (hm *HealthManager) Register(component string, check func() error) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[component] = check
}

func (hm *HealthManager) snapshot() map[string]func() error {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	checks := make(map[string]func() error, len(hm.checks))
	for name, check := range hm.checks {
		checks[name] = check
	}
	return checks
}

// GetStatus runs every probe and reports per-component results.
func (hm *HealthManager) GetStatus() map[string]string {
	status := make(map[string]string)
	for component, check := range hm.snapshot() {
		if err := check(); err != nil {
			status[component] = "unhealthy: " + err.Error()
			if hm.logger != nil {
				hm.logger.Warn("Health check failed", "component", component, "error", err)
			}
		} else {
			status[component] = "ok"
		}
	}
	return status
}

// IsHealthy reports whether every probe passes. An empty manager is healthy.
func (hm *HealthManager) IsHealthy() bool {
	for _, check := range hm.snapshot() {
		if err := check(); err != nil {
			return false
		}
	}
	return true
}
