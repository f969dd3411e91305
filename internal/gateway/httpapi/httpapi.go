// Package httpapi implements the HTTP JSON gateway for convo.
//
// Notes:
//   - No authentication; TLS and auth belong to a reverse proxy.
//   - Per-client rate limiting via token bucket, keyed by caller IP.
//   - Request body size limits (default 1 MB).
//   - Every /v1 request is logged with method, path, status, duration.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/okapi"

	"github.com/sc-hua/conversation/internal/dialog"
	"github.com/sc-hua/conversation/internal/history"
	"github.com/sc-hua/conversation/internal/llm"
	"github.com/sc-hua/conversation/internal/observability"
	"github.com/sc-hua/conversation/internal/ratelimit"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	MaxRequestSize int64 // Maximum request body in bytes. 0 = 1 MB default.

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
	orch    *dialog.Orchestrator
	store   *history.Store
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	server  *http.Server

	// Extra handlers mounted on the HTTP mux (e.g., the WebSocket endpoint).
	extraRoutes []extraRoute

	okapi *okapi.Okapi
	group *okapi.Group
}

// extraRoute stores an additional handler to be mounted on the HTTP mux.
type extraRoute struct {
	pattern string
	handler http.Handler
}

// NewGateway creates an HTTP API gateway.
func NewGateway(cfg Config, orch *dialog.Orchestrator, store *history.Store, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	size := cfg.MaxRequestSize
	if size <= 0 {
		size = defaultMaxRequestSize
	}
	return &Gateway{
		config:  cfg,
		orch:    orch,
		store:   store,
		limiter: rl,
		logger:  logger,
		okapi:   okapi.New(okapi.WithMaxMultipartMemory(size)),
	}
}

func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "convo",
			Version: "v0.1.0",
		},
	)
	return g
}

// WithHandler mounts an additional handler on the HTTP mux at the given pattern.
// Useful for adding the WebSocket endpoint alongside the API routes.
func (g *Gateway) WithHandler(pattern string, handler http.Handler) *Gateway {
	g.extraRoutes = append(g.extraRoutes, extraRoute{pattern: pattern, handler: handler})
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	middlewares := []okapi.Middleware{g.logRequests}
	if g.config.Metrics != nil || g.config.Tracer != nil {
		middlewares = append(middlewares, observability.MetricsMiddleware(g.config.Metrics, g.config.Tracer))
	}

	g.group = g.okapi.Group("/v1", middlewares...)

	g.group.Post("/chat", g.handleChat,
		okapi.DocSummary("Run one conversation turn"),
		okapi.DocTags("Chat"),
		okapi.DocRequestBody(ChatRequest{}),
		okapi.DocResponse(ChatResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)
	g.group.Post("/conversations/{id}/end", g.handleEnd,
		okapi.DocSummary("End a conversation, optionally exporting it first"),
		okapi.DocTags("Conversations"),
		okapi.DocPathParam("id", "string", "Conversation ID"),
		okapi.DocRequestBody(EndRequest{}),
		okapi.DocResponse(EndResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Get("/conversations/{id}/history", g.handleHistory,
		okapi.DocSummary("List the stored messages of a conversation"),
		okapi.DocTags("Conversations"),
		okapi.DocPathParam("id", "string", "Conversation ID"),
		okapi.DocResponse(HistoryResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)

	// Extra handlers (e.g., WebSocket endpoint).
	for _, er := range g.extraRoutes {
		g.okapi.HandleStd("GET", er.pattern, er.handler.ServeHTTP)
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
		WriteTimeout:      60 * time.Second,
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

// BlockItem is one typed content block in a chat request.
type BlockItem struct {
	Type    string         `json:"type"` // "text", "image", or "json"
	Content any            `json:"content"`
	Extras  map[string]any `json:"extras,omitempty"`
}

// ChatRequest is the JSON body for POST /v1/chat. Message is shorthand for
// a single leading text block; Content carries typed blocks. A request with
// neither runs a prepare-only turn when SystemPrompt is set.
type ChatRequest struct {
	ConversationID string      `json:"conversation_id,omitempty"` // Empty = new conversation.
	SystemPrompt   string      `json:"system_prompt,omitempty"`
	Message        string      `json:"message,omitempty"`
	Content        []BlockItem `json:"content,omitempty"`
}

// ChatResponse is the JSON response for POST /v1/chat.
type ChatResponse struct {
	ConversationID string `json:"conversation_id"`
	Reply          string `json:"reply"`
	MessageCount   int    `json:"message_count"`
}

func (g *Gateway) handleChat(c *okapi.Context) error {
	if g.limiter != nil {
		if err := g.limiter.Allow(clientKey(c)); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}

	content, err := buildContent(&req)
	if err != nil {
		return c.AbortBadRequest(err.Error())
	}
	if content == nil && req.SystemPrompt == "" {
		return c.AbortBadRequest("message, content, or system_prompt is required")
	}

	res, err := g.orch.Chat(c.Context(), dialog.Request{
		ConversationID: req.ConversationID,
		SystemPrompt:   req.SystemPrompt,
		Content:        content,
	})
	if err != nil {
		g.logger.Error("turn failed",
			slog.String("conversation_id", req.ConversationID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("turn failed")
	}

	return c.OK(ChatResponse{
		ConversationID: res.ConversationID,
		Reply:          res.Reply,
		MessageCount:   res.MessageCount,
	})
}

// EndRequest is the JSON body for POST /v1/conversations/{id}/end.
type EndRequest struct {
	Persist bool `json:"persist"` // Export before evicting.
}

// EndResponse is the JSON response after ending a conversation.
type EndResponse struct {
	ConversationID string `json:"conversation_id"`
	ExportPath     string `json:"export_path,omitempty"`
}

func (g *Gateway) handleEnd(c *okapi.Context) error {
	if g.limiter != nil {
		if err := g.limiter.Allow(clientKey(c)); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	id := c.Param("id")

	var req EndRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}

	location, err := g.orch.End(c.Context(), id, req.Persist)
	if err != nil {
		if req.Persist {
			g.countExport("error")
		}
		if errors.Is(err, history.ErrConversationNotFound) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "conversation not found"})
		}
		g.logger.Error("ending conversation failed",
			slog.String("conversation_id", id),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("export failed")
	}
	if req.Persist {
		g.countExport("success")
	}

	return c.OK(EndResponse{ConversationID: id, ExportPath: location})
}

// HistoryMessage is one stored message in a history listing.
type HistoryMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Timestamp time.Time `json:"timestamp"`
	Content   string    `json:"content"`
}

// HistoryResponse is the JSON response for GET /v1/conversations/{id}/history.
type HistoryResponse struct {
	ConversationID string           `json:"conversation_id"`
	Length         int              `json:"length"`
	Messages       []HistoryMessage `json:"messages"`
}

func (g *Gateway) handleHistory(c *okapi.Context) error {
	id := c.Param("id")
	if !g.store.Exists(id) {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "conversation not found"})
	}

	msgs := g.store.Messages(id)
	resp := HistoryResponse{
		ConversationID: id,
		Length:         len(msgs),
		Messages:       make([]HistoryMessage, len(msgs)),
	}
	for i, m := range msgs {
		resp.Messages[i] = HistoryMessage{
			ID:        m.ID,
			Role:      string(m.Role),
			Timestamp: m.Timestamp,
			Content:   m.Display(),
		}
	}
	return c.OK(resp)
}

// HealthResponse is the JSON response for GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleLiveness is the Kubernetes liveness probe.
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	if g.config.HealthChecker != nil {
		return c.OK(g.config.HealthChecker.CheckHealth())
	}
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

// --- Helpers ---

// buildContent assembles the turn input from the request. A request with no
// message and no blocks yields nil content (prepare-only turn).
func buildContent(req *ChatRequest) (*llm.Content, error) {
	items := make([]any, 0, len(req.Content)+1)
	if req.Message != "" {
		items = append(items, req.Message)
	}
	for i, it := range req.Content {
		block, err := it.toBlock()
		if err != nil {
			return nil, fmt.Errorf("content[%d]: %w", i, err)
		}
		items = append(items, block)
	}
	if len(items) == 0 {
		return nil, nil
	}
	return llm.NewContent(items...)
}

// toBlock converts one typed request item into a content block.
func (it BlockItem) toBlock() (llm.ContentBlock, error) {
	var opts []llm.BlockOption
	if len(it.Extras) > 0 {
		opts = append(opts, llm.WithExtras(it.Extras))
	}
	switch it.Type {
	case "text":
		s, ok := it.Content.(string)
		if !ok {
			return llm.ContentBlock{}, errors.New("text block content must be a string")
		}
		return llm.TextBlock(s, opts...), nil
	case "image":
		s, ok := it.Content.(string)
		if !ok {
			return llm.ContentBlock{}, errors.New("image block content must be a string reference")
		}
		return llm.ImageBlock(s, opts...), nil
	case "json":
		return llm.JSONBlock(it.Content, opts...), nil
	default:
		return llm.ContentBlock{}, fmt.Errorf("unknown block type %q", it.Type)
	}
}

// clientKey identifies the caller for rate limiting. Proxies may set
// X-Forwarded-For; otherwise the remote address is used.
func clientKey(c *okapi.Context) string {
	if fwd := c.Header("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(c.Request().RemoteAddr)
	if err != nil {
		return c.Request().RemoteAddr
	}
	return host
}

// countExport records an export attempt outcome when metrics are enabled.
func (g *Gateway) countExport(status string) {
	if g.config.Metrics != nil {
		g.config.Metrics.ExportsTotal.WithLabelValues(status).Inc()
	}
}

// logRequests logs one line per API request.
func (g *Gateway) logRequests(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		r := c.Request()
		start := time.Now()

		err := next(c)

		code := c.Response().StatusCode()
		if code == 0 {
			code = http.StatusOK
		}
		g.logger.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", code),
			slog.Duration("duration", time.Since(start)),
		)
		return err
	}
}
