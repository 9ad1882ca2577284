// Package engine coordinates one tool execution end to end: validation,
// sandbox construction, supervised spawning, audit emission, and aggregate
// accounting. It owns the only shared mutable state in the system.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/kalimcp/internal/audit"
	"github.com/jkaninda/kalimcp/internal/observability"
	"github.com/jkaninda/kalimcp/internal/registry"
	"github.com/jkaninda/kalimcp/internal/sandbox"
	"github.com/jkaninda/kalimcp/internal/validate"
)

// Request is one execution order as received from a front end. Args must be
// pre-tokenized; the engine never splits or joins shell strings.
type Request struct {
	ID         string // Empty = assigned by the engine.
	Tool       string
	Args       []string
	Timeout    time.Duration // Zero = tool or global default.
	WorkingDir string        // Empty = sandbox root.
	CreatedAt  time.Time
}

// Engine is the execution coordinator. Safe for concurrent use: the registry
// is read-mostly, the audit sink is append-only, and the counters are atomic.
type Engine struct {
	registry *registry.Registry
	limits   sandbox.ResourceLimits
	executor *sandbox.Executor
	sink     audit.Sink
	metrics  *observability.MetricsCollector // nil = metrics disabled
	tracer   trace.Tracer                    // nil = tracing disabled
	logger   *slog.Logger
	counters *counters
}

// New creates an engine. The limits snapshot is immutable for the engine's
// lifetime.
func New(reg *registry.Registry, limits sandbox.ResourceLimits, sink audit.Sink, logger *slog.Logger) *Engine {
	return &Engine{
		registry: reg,
		limits:   limits,
		executor: sandbox.NewExecutor(limits, logger),
		sink:     sink,
		logger:   logger,
		counters: newCounters(),
	}
}

// WithMetrics attaches a metrics collector.
func (e *Engine) WithMetrics(m *observability.MetricsCollector) *Engine {
	e.metrics = m
	return e
}

// WithTracer attaches an OTel tracer.
func (e *Engine) WithTracer(t trace.Tracer) *Engine {
	e.tracer = t
	return e
}

// Limits returns the engine's immutable resource-limit snapshot.
func (e *Engine) Limits() sandbox.ResourceLimits { return e.limits }

// AuditHealthy reports whether the audit sink is accepting writes.
func (e *Engine) AuditHealthy() bool { return e.sink.Healthy() }

// Stats returns a snapshot of the aggregate counters.
func (e *Engine) Stats() Stats {
	s := e.counters.snapshot()
	s.AuditHealthy = e.sink.Healthy()
	return s
}

// Execute runs one request to a terminal state. A non-nil error is always a
// *validate.Error — a client-side rejection emitted before any process was
// created. Execution failures (spawn, timeout, non-zero exit) are never
// errors; they are folded into the result.
func (e *Engine) Execute(ctx context.Context, req Request) (*sandbox.ExecutionResult, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}

	if e.tracer != nil {
		var span trace.Span
		ctx, span = e.tracer.Start(ctx, "tool.execute",
			trace.WithAttributes(
				attribute.String("tool.name", req.Tool),
				attribute.String("request.id", req.ID),
			))
		defer span.End()
	}

	descriptor, verr := e.validateRequest(req)
	if verr != nil {
		return nil, verr
	}

	workdir, verr := e.resolveWorkdir(req)
	if verr != nil {
		return nil, verr
	}

	resolved, err := sandbox.ResolveWorkingDirectory(workdir, e.limits.SandboxRoot)
	if err != nil {
		// Sandbox root missing and uncreatable: infrastructure, not the
		// client's fault, but still no process to run.
		e.logger.Error("resolving working directory failed",
			slog.String("request_id", req.ID),
			slog.String("error", err.Error()),
		)
		return e.finish(req, &sandbox.ExecutionResult{
			RequestID:  req.ID,
			Tool:       req.Tool,
			Outcome:    sandbox.OutcomeSpawnFailed,
			SpawnError: err.Error(),
		}), nil
	}

	binary := descriptor.Path
	if binary == "" {
		// Unprobed or unavailable tool: hand the bare name to the executor
		// and let spawn-time PATH resolution decide. A missing binary comes
		// back as OutcomeSpawnFailed, which is exactly what it is.
		binary = descriptor.Name
	}

	defaultTimeout := descriptor.DefaultTimeout
	if defaultTimeout <= 0 {
		defaultTimeout = e.limits.DefaultTimeout
	}
	effective := sandbox.EffectiveTimeout(req.Timeout, defaultTimeout, e.limits.MaxTimeout)

	e.record(audit.Event{
		Kind:      audit.KindExecutionStart,
		RequestID: req.ID,
		Tool:      req.Tool,
		Detail:    fmt.Sprintf("args=%d timeout=%s dir=%s", len(req.Args), effective, resolved),
	})

	if e.metrics != nil {
		e.metrics.ActiveExecutions.Inc()
		defer e.metrics.ActiveExecutions.Dec()
	}

	result := e.executor.Execute(ctx, sandbox.ExecutionRequest{
		RequestID:  req.ID,
		Tool:       req.Tool,
		BinaryPath: binary,
		Args:       req.Args,
		Env:        sandbox.Environment(resolved),
		WorkingDir: resolved,
		Timeout:    effective,
	})

	return e.finish(req, result), nil
}

// validateRequest runs the pre-spawn checks in order and emits the single
// terminal audit event on failure. The first failure wins; nothing after it
// runs.
func (e *Engine) validateRequest(req Request) (registry.Descriptor, *validate.Error) {
	if err := validate.ToolName(req.Tool); err != nil {
		return registry.Descriptor{}, e.reject(req, err, audit.KindSecurityViolation)
	}

	descriptor, err := e.registry.Lookup(req.Tool)
	if err != nil {
		verr := &validate.Error{
			Kind:   validate.KindInvalidToolName,
			Detail: fmt.Sprintf("tool %q is not on the allow-list", req.Tool),
		}
		return registry.Descriptor{}, e.reject(req, verr, audit.KindValidationFailure)
	}

	if err := validate.Arguments(req.Args); err != nil {
		return registry.Descriptor{}, e.reject(req, err, audit.KindSecurityViolation)
	}

	return descriptor, nil
}

// resolveWorkdir validates a request-level working directory against the
// sandbox root. Empty means "use the root", which ResolveWorkingDirectory
// handles later.
func (e *Engine) resolveWorkdir(req Request) (string, *validate.Error) {
	if req.WorkingDir == "" {
		return "", nil
	}
	resolved, err := validate.WorkingDirectory(req.WorkingDir, e.limits.SandboxRoot)
	if err != nil {
		return "", e.reject(req, err, audit.KindValidationFailure)
	}
	return resolved, nil
}

// reject records the terminal audit event for a validation failure and
// normalizes the error. The full original input goes to the audit trail;
// the caller-facing error carries only the failure kind.
func (e *Engine) reject(req Request, err error, kind audit.Kind) *validate.Error {
	var verr *validate.Error
	if !errors.As(err, &verr) {
		verr = &validate.Error{Kind: validate.KindInvalidToolName, Detail: err.Error()}
	}

	e.record(audit.Event{
		Kind:      kind,
		RequestID: req.ID,
		Tool:      req.Tool,
		Detail:    verr.Detail,
	})

	if kind == audit.KindSecurityViolation {
		e.counters.securityViolations.Add(1)
	} else {
		e.counters.validationFailures.Add(1)
	}
	if e.metrics != nil {
		e.metrics.ValidationFailuresTotal.WithLabelValues(string(verr.Kind)).Inc()
	}

	e.logger.Warn("request rejected",
		slog.String("request_id", req.ID),
		slog.String("tool", req.Tool),
		slog.String("kind", string(verr.Kind)),
	)
	return verr
}

// finish emits the terminal audit event, updates counters and metrics, and
// returns the result unchanged.
func (e *Engine) finish(req Request, result *sandbox.ExecutionResult) *sandbox.ExecutionResult {
	detail := fmt.Sprintf("outcome=%s duration=%s truncated=%t", result.Outcome, result.Duration, result.Truncated)
	if result.SpawnError != "" {
		// Raw OS error is audit-only; callers get a generic message.
		detail += " spawn_error=" + result.SpawnError
	}
	e.record(audit.Event{
		Kind:      audit.KindExecutionEnd,
		RequestID: req.ID,
		Tool:      req.Tool,
		Detail:    detail,
	})

	failed := result.Outcome.Failed()
	e.counters.recordExecution(req.Tool, result.Duration, failed)
	if failed {
		e.counters.setLastError(fmt.Sprintf("%s: %s", req.Tool, result.Outcome))
	}

	if e.metrics != nil {
		e.metrics.ExecutionsTotal.WithLabelValues(req.Tool, string(result.Outcome)).Inc()
		e.metrics.ExecutionDuration.WithLabelValues(req.Tool).Observe(result.Duration.Seconds())
		if result.Truncated {
			e.metrics.OutputTruncationsTotal.Inc()
		}
	}
	return result
}

func (e *Engine) record(ev audit.Event) {
	e.sink.Record(ev)
}
