// Package server provides the HTTP API for the DocAssist gateway: the
// login gate and the streamed-answer relay.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/jprocode/DocAssist-AI/internal/auth"
	"github.com/jprocode/DocAssist-AI/internal/chat"
	"github.com/jprocode/DocAssist-AI/internal/config"
)

// Server is the HTTP server for the DocAssist gateway API.
type Server struct {
	session *auth.LoginSession
	asker   *chat.Client
	limiter *RequestLimiter
	config  *config.ServerConfig
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	session *auth.LoginSession,
	asker *chat.Client,
	limiter *RequestLimiter,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) *Server {
	return &Server{
		session: session,
		asker:   asker,
		limiter: limiter,
		config:  cfg,
		logger:  logger,
	}
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

func (s *Server) router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Auth endpoints are quick; the ask relay streams for as long as the
	// upstream takes, so the timeout stays off that route.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Post("/api/auth/login", s.handleLogin)
		r.Get("/api/auth/check", s.handleCheck)
		r.Post("/api/auth/logout", s.handleLogout)
		r.Get("/health", s.handleHealth)
	})
	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post("/api/ask/{docID}", s.handleAsk)
	})
	return r
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
