package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jkaninda/kalimcp/internal/audit"
	"github.com/jkaninda/kalimcp/internal/config"
	"github.com/jkaninda/kalimcp/internal/engine"
	"github.com/jkaninda/kalimcp/internal/observability"
	"github.com/jkaninda/kalimcp/internal/registry"
	"github.com/jkaninda/kalimcp/internal/sandbox"
)

// SharedComponents holds all initialized subsystems that every command mode
// requires. Built once by initShared, torn down by Cleanup.
type SharedComponents struct {
	Config   *config.Config
	Logger   *slog.Logger
	Registry *registry.Registry
	Sink     audit.Sink
	Obs      *observability.Observability
	Engine   *engine.Engine

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// newLogger builds the process-wide structured logger. Logs go to stderr so
// stdout stays clean for the MCP stdio transport.
func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// initShared performs all common initialization shared between server, MCP,
// and one-shot modes. Callers must call sc.Cleanup() when done.
func initShared(cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	// Sandbox root must exist before the audit log can live under it.
	if err := os.MkdirAll(cfg.Exec.Root(), 0750); err != nil {
		return nil, fmt.Errorf("creating sandbox root %s: %w", cfg.Exec.Root(), err)
	}
	logger.Debug("sandbox root initialized", slog.String("path", cfg.Exec.Root()))

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}
	})

	// Audit trail: JSONL file, plus an optional database store.
	sink, err := initAudit(cfg, logger)
	if err != nil {
		sc.Cleanup()
		return nil, err
	}
	sc.Sink = sink
	sc.addCleanup(func() {
		if err := sink.Close(); err != nil {
			logger.Error("closing audit sink", slog.String("error", err.Error()))
		}
	})
	logger.Debug("audit trail initialized", slog.String("log_file", cfg.AuditLogPath()))

	// Tool registry.
	sc.Registry = registry.New(cfg.Tools.Extra, logger)
	logger.Debug("tool registry initialized", slog.Int("tools", sc.Registry.Len()))

	// Execution engine.
	limits := sandbox.ResourceLimits{
		MaxTimeout:     cfg.Exec.MaxTimeout(),
		DefaultTimeout: cfg.Exec.DefaultTimeout(),
		MaxOutputBytes: cfg.Exec.OutputLimit(),
		SandboxRoot:    cfg.Exec.Root(),
	}
	eng := engine.New(sc.Registry, limits, sink, logger)
	if obs != nil && obs.Metrics != nil {
		eng.WithMetrics(obs.Metrics)
	}
	if ts := obs.TracerOrNil(); ts != nil {
		eng.WithTracer(ts.Tracer())
	}
	sc.Engine = eng

	// Readiness checks.
	if obs != nil && obs.Health != nil {
		obs.Health.AddCheck("audit", func(_ context.Context) error {
			if !sink.Healthy() {
				return fmt.Errorf("audit sink closed")
			}
			return nil
		})
		obs.Health.AddCheck("sandbox_root", func(_ context.Context) error {
			_, err := os.Stat(cfg.Exec.Root())
			return err
		})
	}

	return sc, nil
}

// initAudit builds the audit sink chain from config.
func initAudit(cfg *config.Config, logger *slog.Logger) (audit.Sink, error) {
	fileSink, err := audit.NewFileSink(cfg.AuditLogPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("initializing audit log: %w", err)
	}

	if cfg.Audit.Store == nil {
		return fileSink, nil
	}

	store, err := audit.OpenStore(cfg.Audit.Store, logger)
	if err != nil {
		_ = fileSink.Close()
		return nil, fmt.Errorf("initializing audit store: %w", err)
	}
	return audit.Tee{fileSink, store}, nil
}

// startGaugeUpdater keeps the slow-moving gauges current while the server
// runs. Returns immediately; the goroutine stops with ctx.
func startGaugeUpdater(ctx context.Context, sc *SharedComponents) {
	metrics := sc.Obs.MetricsOrNil()
	if metrics == nil {
		return
	}

	update := func() {
		available := 0
		for _, d := range sc.Registry.List() {
			if d.Available {
				available++
			}
		}
		metrics.ToolsAvailable.Set(float64(available))
		if dropper, ok := sc.Sink.(interface{ Dropped() int64 }); ok {
			metrics.AuditEventsDropped.Set(float64(dropper.Dropped()))
		}
	}

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		update()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				update()
			}
		}
	}()
}
