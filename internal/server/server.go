package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
	"github.com/alanyoungcy/lmsrmarket/internal/server/handler"
	"github.com/alanyoungcy/lmsrmarket/internal/server/middleware"
	"github.com/alanyoungcy/lmsrmarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	AdminKey        string // if empty, admin routes are unauthenticated
	RateLimit       int    // requests per RateLimitWindow per client, 0 disables
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Markets *handler.MarketHandler
	Bets    *handler.BetHandler
	Users   *handler.UserHandler
}

// Server is the HTTP + WebSocket API server for the market.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. limiter may be nil
// to disable rate limiting, and wsHub may be nil to disable /ws.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, wsHub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewHandler(cfg, handlers, limiter, wsHub, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, handlers Handlers, limiter domain.RateLimiter, wsHub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Accounts.
	mux.HandleFunc("POST /api/users", handlers.Users.Register)
	mux.HandleFunc("POST /api/login", handlers.Users.Login)
	mux.HandleFunc("GET /api/users/{id}", handlers.Users.GetUser)
	mux.HandleFunc("GET /api/users/{id}/bets", handlers.Users.ListBets)
	mux.HandleFunc("GET /api/users/{id}/ledger", handlers.Users.ListLedger)
	mux.HandleFunc("GET /api/users/{id}/positions", handlers.Users.ListPositions)
	mux.HandleFunc("POST /api/users/{id}/bonus", handlers.Users.ClaimBonus)

	// Markets and trading.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/quote", handlers.Markets.Quote)
	mux.HandleFunc("GET /api/markets/{id}/history", handlers.Markets.History)
	mux.HandleFunc("POST /api/bets", handlers.Bets.PlaceBet)

	// Administration. The market maker itself takes no credentials; the
	// capability check lives here.
	admin := middleware.Auth(cfg.AdminKey)
	mux.Handle("POST /api/admin/markets", admin(http.HandlerFunc(handlers.Markets.CreateMarket)))
	mux.Handle("POST /api/admin/markets/{id}/resolve", admin(http.HandlerFunc(handlers.Markets.Resolve)))

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	if limiter != nil {
		window := cfg.RateLimitWindow
		if window <= 0 {
			window = time.Second
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
