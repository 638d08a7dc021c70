// Package server exposes the query engine over HTTP: a blocking query
// endpoint, a server-sent-events stream, conversation management, and
// health.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/corpusqa/corpusqa/internal/engine"
)

// Config tunes the HTTP surface.
type Config struct {
	// Addr is the listen address.
	Addr string
	// CORSOrigins is the allowed-origin list; empty disables CORS.
	CORSOrigins []string
	// RateLimit is requests per second per client IP; 0 disables
	// limiting.
	RateLimit float64
	// RateBurst is the per-IP burst above the sustained rate.
	RateBurst int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Addr:      ":8080",
		RateLimit: 10,
		RateBurst: 20,
	}
}

// Server is the HTTP front end.
type Server struct {
	echo   *echo.Echo
	engine *engine.Engine
	config Config
	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithConfig overrides the server defaults.
func WithConfig(cfg Config) Option {
	return func(s *Server) {
		s.config = cfg
	}
}

// WithLogger sets the server's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New builds the HTTP server around a wired engine.
func New(eng *engine.Engine, opts ...Option) *Server {
	s := &Server{
		echo:   echo.New(),
		engine: eng,
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true

	s.echo.Use(middleware.Recover())
	s.echo.Use(s.requestID())
	s.echo.Use(s.requestLogger())
	if len(s.config.CORSOrigins) > 0 {
		s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: s.config.CORSOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost},
		}))
	}
	if s.config.RateLimit > 0 {
		s.echo.Use(s.rateLimiter())
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.POST("/query", s.handleQuery)
	s.echo.POST("/query/stream", s.handleQueryStream)
	s.echo.POST("/conversation/clear", s.handleConversationClear)
	s.echo.GET("/health", s.handleHealth)
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.config.Addr)
	if err := s.echo.Start(s.config.Addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}

// Handler exposes the routing tree for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
