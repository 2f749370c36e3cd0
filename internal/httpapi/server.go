// Package httpapi is the HTTP surface for the transcoding pipeline: a
// health check, an index page, and the two HLS delivery routes (playlist
// and segment) that pollers hit in a loop against a growing session.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/jmylchreest/hlsrelay/internal/http/middleware"
	"github.com/jmylchreest/hlsrelay/internal/playlist"
	"github.com/jmylchreest/hlsrelay/internal/segmentstore"
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns sensible defaults, matching the teacher's
// server's defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Session is the read-only view of one active or finished transcoding
// session the HTTP layer needs; internal/session.Manager's session handle
// satisfies this structurally.
type Session interface {
	Store() *segmentstore.Store
	Complete() bool
	Failed() bool
}

// SessionLookup resolves a session ID from the URL path to a Session.
type SessionLookup interface {
	Lookup(id string) (Session, bool)
}

// Server is the HTTP front end over a SessionLookup.
type Server struct {
	cfg        ServerConfig
	router     *chi.Mux
	httpServer *http.Server
	logger     *slog.Logger

	sessions SessionLookup
	pl       *playlist.Formatter
	version  string
}

// NewServer builds a Server wired to sessions, reusing the teacher's
// middleware stack (RealIP, request ID, logging, panic recovery, CORS,
// SSE-aware compression).
func NewServer(cfg ServerConfig, logger *slog.Logger, version string, sessions SessionLookup) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.RequestID)
	router.Use(middleware.NewLoggingMiddleware(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS())
	router.Use(middleware.SkipCompressionForSSE(chimiddleware.Compress(5)))

	s := &Server{
		cfg:      cfg,
		router:   router,
		logger:   logger,
		sessions: sessions,
		pl:       playlist.New(playlist.DefaultConfig()),
		version:  version,
	}
	s.routes()
	return s
}

// Router exposes the chi mux for tests and for mounting additional routes.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) routes() {
	s.router.Get("/ping", s.handlePing)
	s.router.Get("/", s.handleIndex)
	s.router.Get("/hls/{session}/stream.m3u8", s.handlePlaylist)
	s.router.Get("/hls/{session}/segment{index}.ts", s.handleSegment)
}

// Start begins serving and blocks until the listener exits.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	s.logger.Info("starting HTTP server", slog.String("address", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("httpapi: starting server: %w", err)
	}
	return nil
}

// Shutdown gracefully drains active connections within cfg.ShutdownTimeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("httpapi: shutting down server: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

// ListenAndServe starts the server and shuts it down when ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()
	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}
