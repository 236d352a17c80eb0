// Package httpapi implements the HTTP API gateway for Crucible.
//
// Security:
//   - API key authentication on every /v1 request (constant-time comparison)
//   - Request body size limits (default 1 MB)
//   - Per-client rate limiting via token bucket
//   - Guardrails input validation before a run starts
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jkaninda/okapi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/crucible-ai/crucible/internal/agent"
	"github.com/crucible-ai/crucible/internal/gateway/ws"
	"github.com/crucible-ai/crucible/internal/guardrails"
	"github.com/crucible-ai/crucible/internal/observability"
	"github.com/crucible-ai/crucible/internal/ratelimit"
	"github.com/crucible-ai/crucible/internal/storage"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// Runner drives one orchestration run to completion.
// Satisfied by the agent loop.
type Runner interface {
	Run(ctx context.Context, sessionID, message string) (*agent.RunResult, error)
}

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	APIKeys        []string // Empty = no authentication.
	MaxRequestSize int64    // Maximum request body in bytes. 0 = 1 MB default.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config  Config
	runner  Runner
	store   storage.Store          // nil = run query endpoints disabled.
	guard   *guardrails.Middleware // nil = no input/output guardrails.
	limiter *ratelimit.Limiter
	events  *ws.Server // nil = event stream disabled.
	logger  *slog.Logger
	server  *http.Server
	okapi   *okapi.Okapi
	group   *okapi.Group
}

// NewGateway creates an HTTP API gateway over the given runner.
func NewGateway(cfg Config, runner Runner, logger *slog.Logger) *Gateway {
	return &Gateway{
		config: cfg,
		runner: runner,
		logger: logger,
		okapi:  okapi.New(okapi.WithMaxMultipartMemory(defaultMaxRequestSize)),
	}
}

// WithStore attaches run persistence for the query endpoints.
func (g *Gateway) WithStore(store storage.Store) *Gateway {
	g.store = store
	return g
}

// WithGuardrails attaches input validation and output sanitization.
func (g *Gateway) WithGuardrails(guard *guardrails.Middleware) *Gateway {
	g.guard = guard
	return g
}

// WithRateLimiter attaches per-client rate limiting.
func (g *Gateway) WithRateLimiter(l *ratelimit.Limiter) *Gateway {
	g.limiter = l
	return g
}

// WithEventStream attaches the WebSocket run event stream.
func (g *Gateway) WithEventStream(srv *ws.Server) *Gateway {
	g.events = srv
	return g
}

// WithOpenAPIDocs enables the OpenAPI documentation endpoint.
func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Crucible",
			Version: "v0.1.0",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is
// canceled.
func (g *Gateway) Start(ctx context.Context) error {
	// Authenticated /v1 group. API traffic carries HTTP metrics and
	// spans; the unauthenticated probe endpoints stay unobserved.
	middlewares := []okapi.Middleware{g.authenticate}
	if g.config.Metrics != nil || g.config.Tracer != nil {
		middlewares = append(middlewares, observability.MetricsMiddleware(g.config.Metrics, g.config.Tracer))
	}
	g.group = g.okapi.Group("/v1", middlewares...)

	g.group.Post("/runs", g.handleRunSubmit,
		okapi.DocSummary("Submit a task and run it to completion"),
		okapi.DocTags("Runs"),
		okapi.DocRequestBody(RunRequest{}),
		okapi.DocResponse(RunResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)
	if g.store != nil {
		g.group.Get("/runs", g.handleRunList,
			okapi.DocSummary("List recent runs"),
			okapi.DocTags("Runs"),
			okapi.DocResponse([]RunSummary{}),
		)
		g.group.Get("/runs/{id}", g.handleRunGet,
			okapi.DocSummary("Get a persisted run by session ID"),
			okapi.DocTags("Runs"),
			okapi.DocPathParam("id", "string", "Session ID"),
			okapi.DocResponse(RunDetail{}),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		)
	}
	g.group.Get("/healthz", g.handleHealth,
		okapi.DocSummary("Authenticated health check"),
		okapi.DocTags("Health"),
		okapi.DocResponse(HealthResponse{}),
	)

	// WebSocket event stream. Auth is handled inside the ws server
	// because upgrades carry the key as a query parameter.
	if g.events != nil {
		g.okapi.HandleStd("GET", "/v1/runs/{id}/events", g.events.Handler().ServeHTTP)
	}

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
		WriteTimeout:      10 * time.Minute, // Runs are synchronous and can be slow.
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

// RunRequest is the JSON body for POST /v1/runs.
type RunRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"` // Empty = new session.
}

// RunResponse is the JSON response for POST /v1/runs.
type RunResponse struct {
	SessionID    string `json:"session_id"`
	Message      string `json:"message"`
	Success      bool   `json:"success"`
	Iterations   int    `json:"iterations"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	LLMCalls     int    `json:"llm_calls"`
}

func (g *Gateway) handleRunSubmit(c *okapi.Context) error {
	clientID := c.GetString("clientID")

	if g.limiter != nil {
		if err := g.limiter.Allow(clientID); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	c.Request().Body = http.MaxBytesReader(nil, c.Request().Body, g.maxRequestSize())

	var req RunRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("message is required")
	}
	if req.Message == "" {
		return c.AbortBadRequest("message is required")
	}

	if g.guard != nil {
		if report := g.guard.ValidateInput(req.Message); !report.Valid {
			return c.AbortBadRequest(strings.Join(report.Errors, "; "))
		}
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	g.logger.Info("http run submitted",
		slog.String("client_id", clientID),
		slog.String("session_id", sessionID),
	)

	if g.config.Metrics != nil {
		g.config.Metrics.ActiveRuns.Inc()
		defer g.config.Metrics.ActiveRuns.Dec()
	}
	g.events.Bus().RunStarted(sessionID)

	result, err := g.runner.Run(c.Context(), sessionID, req.Message)
	if err != nil {
		g.logger.Error("run failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("run failed")
	}

	message := result.Message
	if g.guard != nil {
		message = g.guard.SanitizeOutput(message, true).Content
	}

	g.events.Bus().RunFinished(sessionID, message, result.Success, result.Iterations)

	return c.OK(RunResponse{
		SessionID:    result.SessionID,
		Message:      message,
		Success:      result.Success,
		Iterations:   result.Iterations,
		InputTokens:  result.Usage.InputTokens,
		OutputTokens: result.Usage.OutputTokens,
		LLMCalls:     result.LLMCalls,
	})
}

// RunSummary is one entry in the GET /v1/runs listing.
type RunSummary struct {
	SessionID string    `json:"session_id"`
	Success   bool      `json:"success"`
	Messages  int       `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
}

func (g *Gateway) handleRunList(c *okapi.Context) error {
	limit := 50
	if raw := c.Request().URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.AbortBadRequest("limit must be a positive integer")
		}
		limit = n
	}

	runs, err := g.store.ListRuns(c.Context(), limit)
	if err != nil {
		g.logger.Error("listing runs failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("listing runs failed")
	}

	resp := make([]RunSummary, len(runs))
	for i, r := range runs {
		resp[i] = RunSummary{
			SessionID: r.SessionID,
			Success:   r.Success,
			Messages:  len(r.Messages),
			CreatedAt: r.CreatedAt,
		}
	}
	return c.OK(resp)
}

// RunDetail is the JSON response for GET /v1/runs/{id}.
type RunDetail struct {
	SessionID string       `json:"session_id"`
	Success   bool         `json:"success"`
	Messages  []RunMessage `json:"messages"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// RunMessage is one transcript entry in a run detail response.
type RunMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (g *Gateway) handleRunGet(c *okapi.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return c.AbortBadRequest("session id is required")
	}

	run, err := g.store.GetRun(c.Context(), sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "run not found"})
	}
	if err != nil {
		g.logger.Error("loading run failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("loading run failed")
	}

	messages := make([]RunMessage, len(run.Messages))
	for i := range run.Messages {
		content := run.Messages[i].TextContent()
		if g.guard != nil {
			content = g.guard.SanitizeForLogging(content)
		}
		messages[i] = RunMessage{
			Role:    string(run.Messages[i].Role),
			Content: content,
		}
	}

	return c.OK(RunDetail{
		SessionID: run.SessionID,
		Success:   run.Success,
		Messages:  messages,
		CreatedAt: run.CreatedAt,
		UpdatedAt: run.UpdatedAt,
	})
}

// HealthResponse is the JSON response for health endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

func (g *Gateway) handleHealth(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleLiveness is the Kubernetes liveness probe.
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

// authenticate validates the Bearer API key and stores the client
// identity for rate limiting. With no keys configured, requests pass
// through identified by remote address.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		if len(g.config.APIKeys) == 0 {
			host, _, err := net.SplitHostPort(c.Request().RemoteAddr)
			if err != nil {
				host = c.Request().RemoteAddr
			}
			c.Set("clientID", host)
			return next(c)
		}

		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		for _, key := range g.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				c.Set("clientID", apiKey)
				return next(c)
			}
		}
		return c.AbortUnauthorized("invalid API key")
	}
}

func (g *Gateway) maxRequestSize() int64 {
	if g.config.MaxRequestSize > 0 {
		return g.config.MaxRequestSize
	}
	return defaultMaxRequestSize
}
