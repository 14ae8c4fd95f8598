package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/levtrade/corebot/internal/domain"
	"github.com/levtrade/corebot/internal/server/handler"
	"github.com/levtrade/corebot/internal/server/middleware"
	"github.com/levtrade/corebot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string             // if empty, authentication is disabled
	Limiter     domain.RateLimiter // if nil, per-client rate limiting is disabled
}

// API rate limit applied per client IP when a limiter is configured.
const (
	rateLimitRequests = 120
	rateLimitWindow   = time.Minute
)

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Engine   *handler.EngineHandler
	Risk     *handler.RiskHandler
	Core     *handler.CoreHandler
	Orders   *handler.OrderHandler
	Sessions *handler.SessionHandler
	Perf     *handler.PerfHandler
	Events   *handler.EventsHandler
}

// Server is the headless HTTP + WebSocket API server for the trading engine.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth) and attaches the WebSocket hub.
// metricsHandler, when non-nil, is mounted at /metrics outside the auth chain.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, metricsHandler http.Handler, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Engine control endpoints.
	mux.HandleFunc("GET /api/status", handlers.Engine.GetStatus)
	mux.HandleFunc("POST /api/engine/start", handlers.Engine.Start)
	mux.HandleFunc("POST /api/engine/stop", handlers.Engine.Stop)

	// Risk state endpoints.
	mux.HandleFunc("GET /api/risk/{symbol}", handlers.Risk.GetState)
	mux.HandleFunc("GET /api/risk/{symbol}/history", handlers.Risk.ListHistory)
	mux.HandleFunc("GET /api/risk/{symbol}/milestones", handlers.Risk.ListMilestones)

	// Core holding endpoints.
	mux.HandleFunc("GET /api/core/{symbol}", handlers.Core.GetProgress)
	mux.HandleFunc("GET /api/core/{symbol}/breakdown", handlers.Core.GetBreakdown)
	mux.HandleFunc("GET /api/core/{symbol}/lots", handlers.Core.ListLots)

	// Order endpoints.
	mux.HandleFunc("GET /api/orders", handlers.Orders.ListOrders)
	mux.HandleFunc("POST /api/orders", handlers.Orders.SubmitOrder)
	mux.HandleFunc("GET /api/orders/{id}", handlers.Orders.GetOrder)
	mux.HandleFunc("GET /api/orders/{id}/history", handlers.Orders.GetHistory)
	mux.HandleFunc("DELETE /api/orders/{id}", handlers.Orders.CancelOrder)

	// Session calendar endpoints.
	mux.HandleFunc("GET /api/sessions/current", handlers.Sessions.GetCurrent)
	mux.HandleFunc("GET /api/sessions", handlers.Sessions.ListSessions)

	// Performance endpoints.
	mux.HandleFunc("GET /api/performance", handlers.Perf.GetLatest)
	mux.HandleFunc("GET /api/performance/trades", handlers.Perf.ListTrades)
	mux.HandleFunc("GET /api/performance/core/{symbol}", handlers.Perf.GetCore)

	// Engine event history.
	mux.HandleFunc("GET /api/events", handlers.Events.ListEvents)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply per-client rate limiting when a limiter is wired.
	if cfg.Limiter != nil {
		h = middleware.RateLimit(cfg.Limiter, rateLimitRequests, rateLimitWindow)(h)
	}

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	// Prometheus scrape endpoint stays outside auth and logging.
	root := http.NewServeMux()
	if metricsHandler != nil {
		root.Handle("GET /metrics", metricsHandler)
	}
	root.Handle("/", h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
