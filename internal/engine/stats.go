package engine

import (
	"sync"
	"sync/atomic"
	"time"
)

// counters is the only mutable state the engine shares across requests.
// Everything is atomic or single-owner; no request ever waits on another.
type counters struct {
	total              atomic.Int64
	failures           atomic.Int64
	validationFailures atomic.Int64
	securityViolations atomic.Int64
	durationMS         atomic.Int64
	lastError          atomic.Value // string

	mu      sync.Mutex
	perTool map[string]int64
}

func newCounters() *counters {
	return &counters{perTool: make(map[string]int64)}
}

func (c *counters) recordExecution(tool string, d time.Duration, failed bool) {
	c.total.Add(1)
	c.durationMS.Add(d.Milliseconds())
	if failed {
		c.failures.Add(1)
	}
	c.mu.Lock()
	c.perTool[tool]++
	c.mu.Unlock()
}

func (c *counters) setLastError(msg string) {
	c.lastError.Store(msg)
}

// Stats is a point-in-time snapshot of the aggregate counters.
type Stats struct {
	TotalExecutions    int64            `json:"total_executions"`
	Failures           int64            `json:"failures"`
	ValidationFailures int64            `json:"validation_failures"`
	SecurityViolations int64            `json:"security_violations"`
	CumulativeMS       int64            `json:"cumulative_duration_ms"`
	PerTool            map[string]int64 `json:"per_tool"`
	LastError          string           `json:"last_error,omitempty"`
	AuditHealthy       bool             `json:"audit_healthy"`
}

func (c *counters) snapshot() Stats {
	s := Stats{
		TotalExecutions:    c.total.Load(),
		Failures:           c.failures.Load(),
		ValidationFailures: c.validationFailures.Load(),
		SecurityViolations: c.securityViolations.Load(),
		CumulativeMS:       c.durationMS.Load(),
		PerTool:            make(map[string]int64),
	}
	if v, ok := c.lastError.Load().(string); ok {
		s.LastError = v
	}
	c.mu.Lock()
	for tool, n := range c.perTool {
		s.PerTool[tool] = n
	}
	c.mu.Unlock()
	return s
}
