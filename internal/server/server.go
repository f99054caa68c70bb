// Package server exposes the scanner's observability API, the manual
// breaker override and the outcome callback over HTTP, plus a WebSocket
// event stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/dexarb/internal/crypto"
	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/server/handler"
	"github.com/alanyoungcy/dexarb/internal/server/middleware"
	"github.com/alanyoungcy/dexarb/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// Limiter enables per-client rate limiting of RateLimit requests per
	// minute when both are set.
	Limiter   domain.RateLimiter
	RateLimit int

	// OutcomeAuth, when set, requires signed outcome callbacks.
	OutcomeAuth *crypto.HMACAuth
}

// Handlers aggregates the HTTP handlers registered by the server. Journal
// may be nil when no journal store is configured.
type Handlers struct {
	Health  *handler.HealthHandler
	Chains  *handler.ChainHandler
	Risk    *handler.RiskHandler
	Journal *handler.JournalHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware chain.
// wsHub may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           Routes(cfg, handlers, wsHub, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// Routes builds the HTTP handler without binding a listener.
func Routes(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Health.GetStatus)

	mux.HandleFunc("GET /api/chains", handlers.Chains.ListChains)
	mux.HandleFunc("GET /api/chains/{chain}/endpoints", handlers.Chains.GetEndpoints)
	mux.HandleFunc("GET /api/chains/{chain}/cycle", handlers.Chains.GetCycle)
	mux.HandleFunc("GET /api/chains/{chain}/opportunities", handlers.Chains.GetOpportunities)
	mux.HandleFunc("GET /api/chains/{chain}/risk", handlers.Chains.GetRisk)

	mux.HandleFunc("POST /api/chains/{chain}/risk/reset", handlers.Risk.Reset)
	var outcomes http.Handler = http.HandlerFunc(handlers.Risk.ReportOutcome)
	if cfg.OutcomeAuth != nil {
		outcomes = middleware.Signature(cfg.OutcomeAuth)(outcomes)
	}
	mux.Handle("POST /api/chains/{chain}/outcomes", outcomes)

	if handlers.Journal != nil {
		mux.HandleFunc("GET /api/chains/{chain}/decisions", handlers.Journal.ListDecisions)
		mux.HandleFunc("GET /api/chains/{chain}/outcomes", handlers.Journal.ListOutcomes)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	if cfg.Limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(cfg.Limiter, cfg.RateLimit, time.Minute, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until the server is shut down.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("server starting", slog.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
