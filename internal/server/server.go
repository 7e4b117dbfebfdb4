// Package server exposes the feed over HTTP and WebSocket. The API is a
// read-mostly surface: it reports tracker state and lets operators manage
// the tracked-pair set, while the hub streams live book and trade events.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/seanmx/xrpldexfeed/internal/domain"
	"github.com/seanmx/xrpldexfeed/internal/server/handler"
	"github.com/seanmx/xrpldexfeed/internal/server/middleware"
	"github.com/seanmx/xrpldexfeed/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit caps requests per client IP per RateLimitWindow. Zero
	// disables the middleware even when a limiter is available.
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers. History may
// be nil when the trade journal is not wired; its routes are then omitted.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	Pairs   *handler.PairsHandler
	Book    *handler.BookHandler
	Trades  *handler.TradesHandler
	History *handler.HistoryHandler
}

// Server is the headless HTTP + WebSocket API for the feed.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. limiter may be nil,
// which disables rate limiting regardless of cfg.RateLimit.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	mux.HandleFunc("GET /api/pairs", handlers.Pairs.ListPairs)
	mux.HandleFunc("POST /api/pairs", handlers.Pairs.TrackPair)
	mux.HandleFunc("DELETE /api/pairs/{pair}", handlers.Pairs.UntrackPair)
	mux.HandleFunc("POST /api/pairs/{pair}/refresh", handlers.Pairs.RefreshPair)

	mux.HandleFunc("GET /api/pairs/{pair}/book", handlers.Book.GetBook)
	mux.HandleFunc("GET /api/pairs/{pair}/trades", handlers.Trades.GetTrades)

	if handlers.History != nil {
		mux.HandleFunc("GET /api/pairs/{pair}/history", handlers.History.GetHistory)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Middleware chain, innermost first. Requests traverse CORS, then
	// auth, then the rate limit, then logging, then the mux.
	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateLimitWindow
		if window <= 0 {
			window = time.Minute
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window, logger)(h)
	}
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
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
