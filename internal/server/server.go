package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/renga/internal/engine"
	"github.com/ashita-ai/renga/internal/ratelimit"
)

// Server is the Renga HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Tokens, Limiter, Broker, MCPServer.
type ServerConfig struct {
	// Required dependencies.
	Store  Store
	Engine *engine.Engine
	Logger *slog.Logger

	// Optional dependencies (nil = disabled).
	Tokens    engine.TokenIssuer
	Limiter   ratelimit.Limiter
	Broker    *Broker
	MCPServer *mcpserver.MCPServer

	// APIKeyHash is the Argon2id hash of the operator API key. Empty
	// disables authentication (local development).
	APIKeyHash string

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Store:               cfg.Store,
		Engine:              cfg.Engine,
		Tokens:              cfg.Tokens,
		Broker:              cfg.Broker,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	// Request ID extractor for rate limit error responses.
	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}
	rl := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Notebook CRUD.
	mux.Handle("POST /v1/notebooks", rl(http.HandlerFunc(h.HandleCreateNotebook)))
	mux.Handle("GET /v1/notebooks", rl(http.HandlerFunc(h.HandleListNotebooks)))
	mux.Handle("GET /v1/notebooks/{id}", rl(http.HandlerFunc(h.HandleGetNotebook)))
	mux.Handle("DELETE /v1/notebooks/{id}", rl(http.HandlerFunc(h.HandleDeleteNotebook)))

	// Cell CRUD.
	mux.Handle("POST /v1/notebooks/{id}/cells", rl(http.HandlerFunc(h.HandleAddCell)))
	mux.Handle("GET /v1/notebooks/{id}/cells/{cell_id}", rl(http.HandlerFunc(h.HandleGetCell)))
	mux.Handle("PATCH /v1/notebooks/{id}/cells/{cell_id}", rl(http.HandlerFunc(h.HandleUpdateCell)))
	mux.Handle("DELETE /v1/notebooks/{id}/cells/{cell_id}", rl(http.HandlerFunc(h.HandleDeleteCell)))

	// Execution. The run endpoints are not rate limited: runs are long-lived
	// and already serialized per notebook by the claim.
	mux.Handle("POST /v1/notebooks/{id}/run", http.HandlerFunc(h.HandleRun))
	mux.Handle("POST /v1/notebooks/{id}/cells/{cell_id}/run", http.HandlerFunc(h.HandleRunCell))

	// Approval gates and run control.
	mux.Handle("POST /v1/notebooks/{id}/approve", rl(http.HandlerFunc(h.HandleApprove)))
	mux.Handle("POST /v1/notebooks/{id}/reject", rl(http.HandlerFunc(h.HandleReject)))
	mux.Handle("POST /v1/notebooks/{id}/reset", rl(http.HandlerFunc(h.HandleReset)))
	mux.Handle("POST /v1/notebooks/{id}/cancel", rl(http.HandlerFunc(h.HandleCancel)))

	// Status and live progress (no rate limit — SSE is a long-lived connection).
	mux.Handle("GET /v1/notebooks/{id}/status", rl(http.HandlerFunc(h.HandleStatus)))
	mux.Handle("GET /v1/notebooks/{id}/events", http.HandlerFunc(h.HandleEvents))

	// MCP StreamableHTTP transport (auth required).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", mcpHTTP)
	}

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.APIKeyHash, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Handlers returns the underlying Handlers.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
