package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"
	"github.com/jkaninda/kalimcp/internal/config"
	"github.com/jkaninda/kalimcp/internal/gateway/httpapi"
	"github.com/jkaninda/kalimcp/internal/gateway/mcpserver"
	"github.com/jkaninda/kalimcp/internal/ratelimit"
)

var (
	serveConfigPath string
	servePort       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the execution server (HTTP API, optional MCP over HTTP)",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `kalimcp --config path` and `kalimcp serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&servePort, "port", "", "override HTTP listen address (e.g. :5000)")
	}
}

// runServe starts kalimcp in server mode.
func runServe(_ *cobra.Command, _ []string) error {
	logger := newLogger()

	cfg, err := config.Load(goutils.Env("KALIMCP_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}

	// Apply CLI overrides.
	if servePort != "" {
		if cfg.Gateways.HTTP == nil {
			cfg.Gateways.HTTP = &config.HTTPGatewayConfig{Enabled: true}
		}
		cfg.Gateways.HTTP.ListenAddr = servePort
	}
	if cfg.Gateways.HTTP == nil {
		cfg.Gateways.HTTP = &config.HTTPGatewayConfig{Enabled: true}
	}

	logger.Info("starting in server mode", slog.String("config", serveConfigPath))

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Probe tool availability and keep rescanning on the configured schedule.
	refreshSpec := cfg.Tools.RefreshSchedule
	if refreshSpec == "" {
		refreshSpec = config.DefaultRefreshSpec
	}
	cancelRefresh, err := sc.Registry.StartRefresher(ctx, refreshSpec)
	if err != nil {
		return err
	}
	defer cancelRefresh()

	startGaugeUpdater(ctx, sc)

	errCh := make(chan error, 2)

	// HTTP API gateway.
	var httpGW *httpapi.Gateway
	if cfg.Gateways.HTTP.Enabled {
		var limiter *ratelimit.Limiter
		if cfg.Gateways.HTTP.RequestsPerMinute > 0 {
			limiter = ratelimit.NewLimiter(ratelimit.Config{
				RequestsPerMinute: cfg.Gateways.HTTP.RequestsPerMinute,
			})
		}

		gwCfg := httpapi.Config{
			ListenAddr:     cfg.Gateways.HTTP.Addr(),
			EnableDocs:     cfg.Gateways.HTTP.EnableDocs,
			APIKeys:        cfg.Gateways.HTTP.APIKeys,
			MaxRequestSize: cfg.Gateways.HTTP.MaxRequestSize,
		}
		if obs := sc.Obs; obs != nil {
			if obs.Metrics != nil {
				gwCfg.MetricsRegistry = obs.Metrics.Registry
				gwCfg.Metrics = obs.Metrics
				if cfg.Observability.Metrics != nil {
					gwCfg.MetricsPath = cfg.Observability.Metrics.Path
				}
			}
			if ts := obs.TracerOrNil(); ts != nil {
				gwCfg.Tracer = ts.Tracer()
			}
			gwCfg.HealthChecker = obs.Health
		}

		httpGW = httpapi.NewGateway(gwCfg, sc.Engine, sc.Registry, limiter, logger)
		go func() {
			if err := httpGW.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	// MCP gateway over streamable HTTP. The stdio transport has its own
	// command because it owns stdin/stdout.
	if mcpCfg := cfg.Gateways.MCP; mcpCfg != nil && mcpCfg.Enabled && mcpCfg.Transport == "streamable_http" {
		gw := mcpserver.NewGateway(mcpserver.Config{
			Transport:  mcpCfg.Transport,
			ListenAddr: mcpCfg.ListenAddr,
		}, sc.Engine, sc.Registry, logger)
		go func() {
			if err := gw.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	if httpGW != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpGW.Stop(shutdownCtx); err != nil {
			logger.Error("http gateway shutdown", slog.String("error", err.Error()))
		}
	}
	return nil
}
