package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// perCheckTimeout bounds each dependency check on its own, so one hung
// check cannot consume the readiness budget of the rest.
const perCheckTimeout = 2 * time.Second

// HealthChecker aggregates readiness across the gateway's dependencies.
// The serve path registers two checks: the audit sink's health flag and an
// existence probe of the sandbox root. An execution is never failed because
// a check degrades; readiness only steers traffic away.
type HealthChecker struct {
	mu     sync.Mutex
	order  []string
	checks map[string]func(ctx context.Context) error
	logger *slog.Logger
}

// HealthStatus is the JSON response for health/readiness endpoints.
type HealthStatus struct {
	Status string                 `json:"status"` // "ok" or "degraded"
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the status of a single dependency check.
type CheckResult struct {
	Status  string `json:"status"`            // "ok" or "fail"
	Message string `json:"message,omitempty"` // Error message on failure.
}

// NewHealthChecker creates a HealthChecker with no checks registered.
func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{
		checks: make(map[string]func(ctx context.Context) error),
		logger: logger,
	}
}

// AddCheck registers a named check. Re-registering a name replaces the
// previous check; checks run in first-registration order.
func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.checks[name]; !exists {
		h.order = append(h.order, name)
	}
	h.checks[name] = check
}

// CheckHealth returns liveness status. Always "ok" if the process is running.
func (h *HealthChecker) CheckHealth() HealthStatus {
	return HealthStatus{Status: "ok"}
}

// CheckReady runs every registered check and returns aggregate readiness:
// "ok" only when all pass, "degraded" otherwise.
func (h *HealthChecker) CheckReady(ctx context.Context) HealthStatus {
	h.mu.Lock()
	names := make([]string, len(h.order))
	copy(names, h.order)
	checks := make(map[string]func(ctx context.Context) error, len(h.checks))
	for name, check := range h.checks {
		checks[name] = check
	}
	h.mu.Unlock()

	if len(names) == 0 {
		return HealthStatus{Status: "ok"}
	}

	status := HealthStatus{
		Status: "ok",
		Checks: make(map[string]CheckResult, len(names)),
	}

	for _, name := range names {
		if err := h.runCheck(ctx, checks[name]); err != nil {
			status.Status = "degraded"
			status.Checks[name] = CheckResult{Status: "fail", Message: err.Error()}
			if h.logger != nil {
				h.logger.Warn("readiness check failed",
					slog.String("check", name),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		status.Checks[name] = CheckResult{Status: "ok"}
	}

	return status
}

func (h *HealthChecker) runCheck(ctx context.Context, check func(ctx context.Context) error) error {
	checkCtx, cancel := context.WithTimeout(ctx, perCheckTimeout)
	defer cancel()
	return check(checkCtx)
}
