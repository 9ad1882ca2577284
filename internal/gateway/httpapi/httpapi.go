// Package httpapi implements the HTTP API gateway.
//
// Security:
//   - API key authentication on every /v1 request (constant-time comparison)
//   - Request body size limits (default 1 MB)
//   - Per-client rate limiting via token bucket
//   - All requests logged with request IDs
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/kalimcp/internal/engine"
	"github.com/jkaninda/kalimcp/internal/observability"
	"github.com/jkaninda/kalimcp/internal/ratelimit"
	"github.com/jkaninda/kalimcp/internal/registry"
	"github.com/jkaninda/kalimcp/internal/validate"
	"github.com/jkaninda/okapi"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string // e.g., ":5000"
	EnableDocs     bool
	APIKeys        map[string]string // API key -> client ID mapping. Keys from env.
	MaxRequestSize int64             // Maximum request body in bytes. 0 = 1 MB default.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz endpoint.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config   Config
	engine   *engine.Engine
	registry *registry.Registry
	limiter  *ratelimit.Limiter
	logger   *slog.Logger
	server   *http.Server
	okapi    *okapi.Okapi
	group    *okapi.Group
}

// NewGateway creates an HTTP API gateway.
func NewGateway(cfg Config, eng *engine.Engine, reg *registry.Registry, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	maxBody := cfg.MaxRequestSize
	if maxBody <= 0 {
		maxBody = defaultMaxRequestSize
	}
	return &Gateway{
		config:   cfg,
		engine:   eng,
		registry: reg,
		limiter:  rl,
		logger:   logger,
		okapi:    okapi.New(okapi.WithMaxMultipartMemory(maxBody)),
	}
}

func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "KaliMCP",
			Version: "v0.1.0",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	// Metrics/tracing middleware (applied globally).
	if g.config.Metrics != nil || g.config.Tracer != nil {
		g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(g.config.Metrics, g.config.Tracer, next)
		})
	}

	// Authenticated /v1 group.
	g.group = g.okapi.Group("/v1", g.authenticate)

	g.group.Post("/run", g.handleRun,
		okapi.DocSummary("Execute a whitelisted tool in the sandbox"),
		okapi.DocTags("Execution"),
		okapi.DocRequestBody(RunRequest{}),
		okapi.DocResponse(RunResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)
	g.group.Get("/tools", g.handleToolList,
		okapi.DocSummary("List all whitelisted tools"),
		okapi.DocTags("Tools"),
		okapi.DocResponse(ToolListResponse{}),
	)
	g.group.Get("/tools/{name}", g.handleToolGet,
		okapi.DocSummary("Get a tool descriptor by name"),
		okapi.DocTags("Tools"),
		okapi.DocPathParam("name", "string", "Tool name"),
		okapi.DocResponse(ToolResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Get("/stats", g.handleStats,
		okapi.DocSummary("Aggregate execution statistics"),
		okapi.DocTags("Stats"),
		okapi.DocResponse(engine.Stats{}),
	)

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // Tool runs can outlast any fixed write window.
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))
	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Handlers ---

// RunRequest is the JSON body for POST /v1/run. Args must already be
// tokenized; the gateway never splits a command string.
type RunRequest struct {
	Tool       string   `json:"tool"`
	Args       []string `json:"args,omitempty"`
	TimeoutS   int      `json:"timeout_s,omitempty"`   // 0 = tool default.
	WorkingDir string   `json:"working_dir,omitempty"` // Relative to the sandbox root.
}

// RunResponse is the JSON response for POST /v1/run.
type RunResponse struct {
	RequestID  string `json:"request_id"`
	Tool       string `json:"tool"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ReturnCode *int   `json:"return_code"` // null when no exit status exists.
	DurationMS int64  `json:"duration_ms"`
	Truncated  bool   `json:"truncated"`
	Outcome    string `json:"outcome"`
}

func (g *Gateway) handleRun(c *okapi.Context) error {
	clientID := c.GetString("clientID")

	if g.limiter != nil {
		if err := g.limiter.Allow(clientID); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	var req RunRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Tool == "" {
		return c.AbortBadRequest("tool is required")
	}

	g.logger.Info("http run",
		slog.String("client_id", clientID),
		slog.String("tool", req.Tool),
		slog.Int("args", len(req.Args)),
	)

	result, err := g.engine.Execute(c.Context(), engine.Request{
		Tool:       req.Tool,
		Args:       req.Args,
		Timeout:    time.Duration(req.TimeoutS) * time.Second,
		WorkingDir: req.WorkingDir,
	})
	if err != nil {
		var verr *validate.Error
		if errors.As(err, &verr) {
			return c.JSON(http.StatusBadRequest, ErrorBody{
				Error: "request rejected",
				Kind:  string(verr.Kind),
			})
		}
		g.logger.Error("execution failed",
			slog.String("tool", req.Tool),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("execution failed")
	}

	return c.OK(RunResponse{
		RequestID:  result.RequestID,
		Tool:       result.Tool,
		Stdout:     result.Stdout,
		Stderr:     result.Stderr,
		ReturnCode: result.ReturnCode,
		DurationMS: result.Duration.Milliseconds(),
		Truncated:  result.Truncated,
		Outcome:    string(result.Outcome),
	})
}

// ToolResponse is a single tool descriptor.
type ToolResponse struct {
	Name           string `json:"name"`
	Category       string `json:"category"`
	Path           string `json:"path,omitempty"`
	Available      bool   `json:"available"`
	Version        string `json:"version,omitempty"`
	DefaultTimeout int    `json:"default_timeout_s,omitempty"`
}

// ToolListResponse is the JSON response for GET /v1/tools.
type ToolListResponse struct {
	Tools []ToolResponse `json:"tools"`
	Count int            `json:"count"`
}

func (g *Gateway) handleToolList(c *okapi.Context) error {
	descriptors := g.registry.List()
	resp := ToolListResponse{
		Tools: make([]ToolResponse, len(descriptors)),
		Count: len(descriptors),
	}
	for i, d := range descriptors {
		resp.Tools[i] = toolResponse(d)
	}
	return c.OK(resp)
}

func (g *Gateway) handleToolGet(c *okapi.Context) error {
	name := c.Param("name")
	if err := validate.ToolName(name); err != nil {
		return c.AbortBadRequest("invalid tool name")
	}

	d, err := g.registry.Lookup(name)
	if err != nil {
		return c.JSON(http.StatusNotFound, ErrorBody{Error: "tool not found"})
	}
	return c.OK(toolResponse(d))
}

func (g *Gateway) handleStats(c *okapi.Context) error {
	return c.OK(g.engine.Stats())
}

func toolResponse(d registry.Descriptor) ToolResponse {
	return ToolResponse{
		Name:           d.Name,
		Category:       d.Category,
		Path:           d.Path,
		Available:      d.Available,
		Version:        d.Version,
		DefaultTimeout: int(d.DefaultTimeout / time.Second),
	}
}

// HealthResponse is the JSON response for GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleLiveness is the Kubernetes liveness probe
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Authentication ---

// authenticate validates the API key and stores the mapped client ID in the
// request context.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		clientID := ""
		for key, id := range g.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				clientID = id
			}
		}
		if clientID == "" {
			return c.AbortUnauthorized("invalid API key")
		}
		c.Set("clientID", clientID)
		return next(c)
	}
}
