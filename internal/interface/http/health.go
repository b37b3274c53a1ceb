package http

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH CHECKS
// ══════════════════════════════════════════════════════════════════════════════

// CheckFunc performs one health check. A non-nil error marks it failed.
type CheckFunc func(ctx context.Context) error

// Pinger is satisfied by the postgres connection and the redis cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck adapts a Pinger.
func PingCheck(p Pinger) CheckFunc {
	return p.Ping
}

// HealthStatus is the aggregated health of the process.
type HealthStatus struct {
	Healthy   bool                   `json:"healthy"`
	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// HealthChecker runs named checks concurrently.
type HealthChecker struct {
	mu        sync.RWMutex
	checks    map[string]CheckFunc
	startTime time.Time
	version   string
	timeout   time.Duration
}

// NewHealthChecker creates a HealthChecker with a 5s per-check timeout.
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		checks:    make(map[string]CheckFunc),
		startTime: time.Now(),
		version:   version,
		timeout:   5 * time.Second,
	}
}

// SetTimeout sets the per-check timeout.
func (h *HealthChecker) SetTimeout(timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.timeout = timeout
}

// AddCheck registers check under name, replacing any previous one.
func (h *HealthChecker) AddCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Check runs every registered check.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := maps.Clone(h.checks)
	timeout := h.timeout
	h.mu.RUnlock()

	status := HealthStatus{
		Healthy:   true,
		Checks:    make(map[string]CheckResult, len(checks)),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	}
	if len(checks) == 0 {
		status.Message = "no checks registered"
		return status
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, check := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			err := check(checkCtx)
			res := CheckResult{
				Healthy:  err == nil,
				Message:  "OK",
				Duration: time.Since(start).Round(time.Millisecond).String(),
			}
			if err != nil {
				res.Message = err.Error()
			}

			mu.Lock()
			status.Checks[name] = res
			mu.Unlock()
		}()
	}
	wg.Wait()

	var failed []string
	for name, res := range status.Checks {
		if !res.Healthy {
			failed = append(failed, name)
		}
	}
	if len(failed) > 0 {
		slices.Sort(failed)
		status.Healthy = false
		status.Message = "failed checks: " + strings.Join(failed, ", ")
	} else {
		status.Message = "all checks passed"
	}
	return status
}
