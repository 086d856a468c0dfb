// Package server is a reference remote endpoint for todosync clients: a
// GraphQL-style operation endpoint, a server-sent-event realtime stream and
// the three authorization modes, over a memory or PostgreSQL store.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/existflow/todosync/internal/logger"
	"github.com/existflow/todosync/internal/schema"
)

// Authorization modes
const (
	AuthAPIKey   = "api_key"
	AuthIAM      = "iam"
	AuthUserPool = "user_pool"
)

// Config holds server settings
type Config struct {
	AuthMode       string
	APIKeys        []string
	IAMCredentials map[string]string // access key id -> secret
	SessionTTL     time.Duration
	ClockSkew      time.Duration
	KeepAlive      time.Duration
	Logger         *logger.Logger
	// Registry declares the served operations, schema.Default() when nil
	Registry *schema.Registry
}

// Server is the remote endpoint
type Server struct {
	store    Store
	cfg      Config
	registry *schema.Registry
	hub      *Hub
	log      *logger.Logger
	echo     *echo.Echo
}

// New creates a new server over store
func New(store Store, cfg Config) *Server {
	if cfg.AuthMode == "" {
		cfg.AuthMode = AuthAPIKey
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 30 * 24 * time.Hour
	}
	if cfg.ClockSkew == 0 {
		cfg.ClockSkew = 5 * time.Minute
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	if cfg.Registry == nil {
		cfg.Registry = schema.Default()
	}

	s := &Server{
		store:    store,
		cfg:      cfg,
		registry: cfg.Registry,
		hub:      NewHub(),
		log:      cfg.Logger,
	}
	s.setupEcho()
	return s
}

func (s *Server) setupEcho() {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(s.requestLogger)
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORS())

	// Health check
	e.GET("/health", s.handleHealth)

	// Auth endpoints (public)
	if s.cfg.AuthMode == AuthUserPool {
		e.POST("/auth/register", s.handleRegister)
		e.POST("/auth/login", s.handleLogin)
	}

	// Protected endpoints
	protected := e.Group("/graphql")
	protected.Use(s.authMiddleware)
	protected.POST("", s.handleGraphQL)
	protected.GET("/realtime", s.handleRealtime)

	s.echo = e
}

// requestLogger logs every request and its outcome
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		req := c.Request()

		err := next(c)

		res := c.Response()
		s.log.Info("HTTP Request",
			logger.F("method", req.Method),
			logger.F("uri", req.RequestURI),
			logger.F("status", res.Status),
			logger.F("size", res.Size),
			logger.F("duration", time.Since(start).String()))

		return err
	}
}

// Hub returns the realtime hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Router returns the HTTP handler
func (s *Server) Router() http.Handler {
	return s.echo
}

// Start starts the server
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown stops accepting requests, ends the realtime streams and closes the store
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if err := s.echo.Shutdown(ctx); err != nil {
		return err
	}
	return s.store.Close()
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
