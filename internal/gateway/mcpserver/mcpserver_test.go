package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jkaninda/kalimcp/internal/audit"
	"github.com/jkaninda/kalimcp/internal/config"
	"github.com/jkaninda/kalimcp/internal/engine"
	"github.com/jkaninda/kalimcp/internal/registry"
	"github.com/jkaninda/kalimcp/internal/sandbox"
)

func testGateway(t *testing.T) *Gateway {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New([]config.ExtraTool{
		{Name: "echo", Path: "/bin/echo", Category: "diagnostic"},
	}, logger)
	eng := engine.New(reg, sandbox.ResourceLimits{
		MaxTimeout:     10 * time.Second,
		DefaultTimeout: 5 * time.Second,
		MaxOutputBytes: 1 << 20,
		SandboxRoot:    t.TempDir(),
	}, audit.Discard{}, logger)
	return NewGateway(Config{Transport: "stdio"}, eng, reg, logger)
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func textOf(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("empty result content")
	}
	text, ok := mcp.AsTextContent(result.Content[0])
	if !ok {
		t.Fatalf("content is %T, want text", result.Content[0])
	}
	return text.Text
}

func TestHandleRunTool(t *testing.T) {
	g := testGateway(t)

	result, err := g.handleRunTool(context.Background(), callRequest("run_tool", map[string]any{
		"tool": "echo",
		"args": []any{"hello"},
	}))
	if err != nil {
		t.Fatalf("handleRunTool: %v", err)
	}
	if result.IsError {
		t.Fatalf("IsError = true: %s", textOf(t, result))
	}

	var payload runResult
	if err := json.Unmarshal([]byte(textOf(t, result)), &payload); err != nil {
		t.Fatalf("result not valid JSON: %v", err)
	}
	if payload.Outcome != string(sandbox.OutcomeSuccess) {
		t.Errorf("Outcome = %q, want success", payload.Outcome)
	}
	if payload.Stdout != "hello\n" {
		t.Errorf("Stdout = %q, want %q", payload.Stdout, "hello\n")
	}
	if payload.RequestID == "" {
		t.Error("RequestID missing")
	}
}

func TestHandleRunToolRejectsInjection(t *testing.T) {
	g := testGateway(t)

	result, err := g.handleRunTool(context.Background(), callRequest("run_tool", map[string]any{
		"tool": "echo",
		"args": []any{"hi; rm -rf /"},
	}))
	if err != nil {
		t.Fatalf("handleRunTool: %v", err)
	}
	if !result.IsError {
		t.Fatal("injection accepted")
	}
	if text := textOf(t, result); !strings.Contains(text, "rejected") {
		t.Errorf("error text = %q", text)
	}
}

func TestHandleRunToolUnknownTool(t *testing.T) {
	g := testGateway(t)

	result, err := g.handleRunTool(context.Background(), callRequest("run_tool", map[string]any{
		"tool": "rm",
	}))
	if err != nil {
		t.Fatalf("handleRunTool: %v", err)
	}
	if !result.IsError {
		t.Fatal("unknown tool accepted")
	}
}

func TestHandleRunToolMissingParameter(t *testing.T) {
	g := testGateway(t)

	result, err := g.handleRunTool(context.Background(), callRequest("run_tool", map[string]any{}))
	if err != nil {
		t.Fatalf("handleRunTool: %v", err)
	}
	if !result.IsError {
		t.Fatal("missing tool parameter accepted")
	}
}

func TestHandleListTools(t *testing.T) {
	g := testGateway(t)

	result, err := g.handleListTools(context.Background(), callRequest("list_tools", nil))
	if err != nil {
		t.Fatalf("handleListTools: %v", err)
	}
	if result.IsError {
		t.Fatalf("IsError = true: %s", textOf(t, result))
	}

	var payload struct {
		Tools []toolInfo `json:"tools"`
		Count int        `json:"count"`
	}
	if err := json.Unmarshal([]byte(textOf(t, result)), &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Count != len(payload.Tools) || payload.Count == 0 {
		t.Errorf("count = %d, tools = %d", payload.Count, len(payload.Tools))
	}
}

func TestHandleToolInfo(t *testing.T) {
	g := testGateway(t)

	result, err := g.handleToolInfo(context.Background(), callRequest("get_tool_info", map[string]any{
		"tool": "echo",
	}))
	if err != nil {
		t.Fatalf("handleToolInfo: %v", err)
	}
	if result.IsError {
		t.Fatalf("IsError = true: %s", textOf(t, result))
	}

	var info toolInfo
	if err := json.Unmarshal([]byte(textOf(t, result)), &info); err != nil {
		t.Fatal(err)
	}
	if info.Name != "echo" || info.Category != "diagnostic" {
		t.Errorf("info = %+v", info)
	}
}

func TestHandleToolInfoNotListed(t *testing.T) {
	g := testGateway(t)

	result, err := g.handleToolInfo(context.Background(), callRequest("get_tool_info", map[string]any{
		"tool": "netcat",
	}))
	if err != nil {
		t.Fatalf("handleToolInfo: %v", err)
	}
	if !result.IsError {
		t.Fatal("unlisted tool reported as known")
	}
}
