// Package mcpserver exposes tool execution over the Model Context Protocol.
// Transports: stdio (default) and streamable HTTP.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jkaninda/kalimcp/internal/engine"
	"github.com/jkaninda/kalimcp/internal/registry"
	"github.com/jkaninda/kalimcp/internal/validate"
)

const serverVersion = "0.1.0"

// Config configures the MCP gateway.
type Config struct {
	Transport  string // "stdio" or "streamable_http"
	ListenAddr string // Only for streamable_http.
}

// Gateway serves the MCP tool surface on top of the execution engine.
type Gateway struct {
	config   Config
	engine   *engine.Engine
	registry *registry.Registry
	logger   *slog.Logger
	mcp      *server.MCPServer
}

// NewGateway creates an MCP gateway and registers its tools.
func NewGateway(cfg Config, eng *engine.Engine, reg *registry.Registry, logger *slog.Logger) *Gateway {
	g := &Gateway{
		config:   cfg,
		engine:   eng,
		registry: reg,
		logger:   logger,
		mcp:      server.NewMCPServer("kalimcp", serverVersion),
	}
	g.registerTools()
	return g
}

// Start serves MCP on the configured transport. Blocks until the transport
// shuts down.
func (g *Gateway) Start(ctx context.Context) error {
	switch g.config.Transport {
	case "streamable_http":
		g.logger.Info("mcp gateway starting",
			slog.String("transport", "streamable_http"),
			slog.String("addr", g.config.ListenAddr),
		)
		httpServer := server.NewStreamableHTTPServer(g.mcp)
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpServer.Shutdown(shutdownCtx)
		}()
		return httpServer.Start(g.config.ListenAddr)
	default:
		g.logger.Info("mcp gateway starting", slog.String("transport", "stdio"))
		return server.ServeStdio(g.mcp)
	}
}

func (g *Gateway) registerTools() {
	runTool := mcp.NewTool("run_tool",
		mcp.WithDescription("Execute a whitelisted security tool inside the sandbox. Arguments must be pre-tokenized; shell syntax is rejected. Output is captured with a size cap and the run is killed at its timeout."),
		mcp.WithString("tool",
			mcp.Description("Name of the whitelisted tool, e.g. nmap"),
			mcp.Required(),
		),
		mcp.WithArray("args",
			mcp.Description("Command-line arguments, one token per element"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithNumber("timeout_s",
			mcp.Description("Timeout in seconds. 0 uses the tool default."),
		),
		mcp.WithString("working_dir",
			mcp.Description("Working directory relative to the sandbox root"),
		),
	)
	g.mcp.AddTool(runTool, g.handleRunTool)

	listTool := mcp.NewTool("list_tools",
		mcp.WithDescription("List every whitelisted tool with its category, availability, and version."),
	)
	g.mcp.AddTool(listTool, g.handleListTools)

	infoTool := mcp.NewTool("get_tool_info",
		mcp.WithDescription("Get the descriptor of a single whitelisted tool by name."),
		mcp.WithString("tool",
			mcp.Description("Tool name"),
			mcp.Required(),
		),
	)
	g.mcp.AddTool(infoTool, g.handleToolInfo)
}

// runResult is the JSON payload returned by run_tool.
type runResult struct {
	RequestID  string `json:"request_id"`
	Tool       string `json:"tool"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ReturnCode *int   `json:"return_code"`
	DurationMS int64  `json:"duration_ms"`
	Truncated  bool   `json:"truncated"`
	Outcome    string `json:"outcome"`
}

func (g *Gateway) handleRunTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tool, err := request.RequireString("tool")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: tool"), nil
	}
	args := request.GetStringSlice("args", nil)
	timeout := request.GetInt("timeout_s", 0)
	workingDir := request.GetString("working_dir", "")

	g.logger.Info("mcp run_tool",
		slog.String("tool", tool),
		slog.Int("args", len(args)),
	)

	result, err := g.engine.Execute(ctx, engine.Request{
		Tool:       tool,
		Args:       args,
		Timeout:    time.Duration(timeout) * time.Second,
		WorkingDir: workingDir,
	})
	if err != nil {
		var verr *validate.Error
		if errors.As(err, &verr) {
			return mcp.NewToolResultError(fmt.Sprintf("request rejected: %s", verr.Kind)), nil
		}
		return mcp.NewToolResultError("execution failed"), nil
	}

	payload, merr := json.Marshal(runResult{
		RequestID:  result.RequestID,
		Tool:       result.Tool,
		Stdout:     result.Stdout,
		Stderr:     result.Stderr,
		ReturnCode: result.ReturnCode,
		DurationMS: result.Duration.Milliseconds(),
		Truncated:  result.Truncated,
		Outcome:    string(result.Outcome),
	})
	if merr != nil {
		return mcp.NewToolResultError("encoding result failed"), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

// toolInfo is the JSON shape for list_tools and get_tool_info.
type toolInfo struct {
	Name           string `json:"name"`
	Category       string `json:"category"`
	Path           string `json:"path,omitempty"`
	Available      bool   `json:"available"`
	Version        string `json:"version,omitempty"`
	DefaultTimeout int    `json:"default_timeout_s,omitempty"`
}

func (g *Gateway) handleListTools(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	descriptors := g.registry.List()
	infos := make([]toolInfo, len(descriptors))
	for i, d := range descriptors {
		infos[i] = descriptorInfo(d)
	}

	payload, err := json.Marshal(map[string]any{
		"tools": infos,
		"count": len(infos),
	})
	if err != nil {
		return mcp.NewToolResultError("encoding tool list failed"), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

func (g *Gateway) handleToolInfo(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("tool")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: tool"), nil
	}
	if err := validate.ToolName(name); err != nil {
		return mcp.NewToolResultError("invalid tool name"), nil
	}

	d, err := g.registry.Lookup(name)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("tool %q is not on the allow-list", name)), nil
	}

	payload, merr := json.Marshal(descriptorInfo(d))
	if merr != nil {
		return mcp.NewToolResultError("encoding descriptor failed"), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

func descriptorInfo(d registry.Descriptor) toolInfo {
	return toolInfo{
		Name:           d.Name,
		Category:       d.Category,
		Path:           d.Path,
		Available:      d.Available,
		Version:        d.Version,
		DefaultTimeout: int(d.DefaultTimeout / time.Second),
	}
}
