// Package health reports the state of the store, capture source and uplink
package health

import (
	"maps"
	"sync"
	"time"
)

// Overall status values
const (
	StatusOK        = "ok"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Status represents overall system health
type Status struct {
	Status        string           `json:"status"` // ok, degraded, unhealthy
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Components    map[string]Check `json:"components"`
}

// Check represents a component health check
type Check struct {
	Healthy   bool      `json:"healthy"`
	Critical  bool      `json:"critical,omitempty"`
	Message   string    `json:"message,omitempty"`
	LastCheck time.Time `json:"last_check"`
}

// Probe reports a component's current health
type Probe func() (healthy bool, message string)

type probe struct {
	fn       Probe
	critical bool
}

// Checker tracks health of system components. Components are either pushed
// with SetComponent or pulled from registered probes on every GetStatus.
type Checker struct {
	mu         sync.Mutex
	version    string
	startTime  time.Time
	components map[string]Check
	probes     map[string]probe
}

// NewChecker creates a new health checker
func NewChecker(version string) *Checker {
	return &Checker{
		version:    version,
		startTime:  time.Now(),
		components: make(map[string]Check),
		probes:     make(map[string]probe),
	}
}

// Register adds a probe. A failing critical component makes the whole
// service unhealthy; any other failure only degrades it.
func (c *Checker) Register(name string, critical bool, fn Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes[name] = probe{fn: fn, critical: critical}
}

// SetComponent updates a component's health status
func (c *Checker) SetComponent(name string, healthy bool, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.components[name] = Check{
		Healthy:   healthy,
		Critical:  c.components[name].Critical,
		Message:   message,
		LastCheck: time.Now(),
	}
}

// refresh runs every probe; callers hold the write lock
func (c *Checker) refresh() {
	now := time.Now()
	for name, p := range c.probes {
		healthy, msg := p.fn()
		c.components[name] = Check{
			Healthy:   healthy,
			Critical:  p.critical,
			Message:   msg,
			LastCheck: now,
		}
	}
}

// GetStatus runs the probes and returns the overall health status
func (c *Checker) GetStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.refresh()

	status := StatusOK
	for _, check := range c.components {
		if check.Healthy {
			continue
		}
		if check.Critical {
			status = StatusUnhealthy
			break
		}
		status = StatusDegraded
	}

	return Status{
		Status:        status,
		Version:       c.version,
		UptimeSeconds: int64(time.Since(c.startTime).Seconds()),
		Components:    maps.Clone(c.components),
	}
}

// IsHealthy returns true if all components are healthy
func (c *Checker) IsHealthy() bool {
	return c.GetStatus().Status == StatusOK
}
