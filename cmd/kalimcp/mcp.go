package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"
	"github.com/jkaninda/kalimcp/internal/config"
	"github.com/jkaninda/kalimcp/internal/gateway/mcpserver"
)

var mcpConfigPath string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the Model Context Protocol over stdio",
	Long: `Serve MCP on stdin/stdout for use as a local server in MCP clients
(Claude Desktop, IDE integrations). All logs go to stderr; stdout carries
only protocol frames.`,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().StringVar(&mcpConfigPath, "config", config.DefaultConfigPath(), "path to config file")
}

func runMCP(_ *cobra.Command, _ []string) error {
	logger := newLogger()

	cfg, err := config.Load(goutils.Env("KALIMCP_CONFIG", mcpConfigPath))
	if err != nil {
		return err
	}

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// One synchronous probe pass so list_tools reflects reality, then keep
	// rescanning in the background.
	refreshSpec := cfg.Tools.RefreshSchedule
	if refreshSpec == "" {
		refreshSpec = config.DefaultRefreshSpec
	}
	cancelRefresh, err := sc.Registry.StartRefresher(ctx, refreshSpec)
	if err != nil {
		return err
	}
	defer cancelRefresh()

	logger.Info("starting in mcp mode", slog.Int("tools", sc.Registry.Len()))

	gw := mcpserver.NewGateway(mcpserver.Config{Transport: "stdio"}, sc.Engine, sc.Registry, logger)
	return gw.Start(ctx)
}
